// Package store provides option snapshot persistence.
package store

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
	"spxopt/internal/security"
)

// SnapshotRepository stores and queries chain snapshots for one underlying.
type SnapshotRepository interface {
	Underlying() string
	EnsureSchema(ctx context.Context) error
	InsertSnapshots(ctx context.Context, quotes []models.Quote, snapshotUTC time.Time) (int, error)
	PriceHistory(ctx context.Context, expiration civil.Date, strike float64, right models.Right) ([]models.PricePoint, error)
	Expirations(ctx context.Context) ([]civil.Date, error)
	Strikes(ctx context.Context, expiration civil.Date) ([]float64, error)
	LatestChain(ctx context.Context, expiration civil.Date) ([]models.Quote, time.Time, error)
}

// TableName returns the snapshot table for an underlying, e.g. option_snapshots_SPX.
func TableName(underlying string) (string, error) {
	if err := security.ValidateUnderlying(underlying); err != nil {
		return "", err
	}
	return "option_snapshots_" + underlying, nil
}
