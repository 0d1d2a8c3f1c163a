package stream

import (
	"context"
	"errors"
	"time"

	"spxopt/internal/models"
)

// Publisher receives stored snapshots.
type Publisher interface {
	Publish(ctx context.Context, underlying string, quotes []models.Quote, snapshotUTC time.Time) error
}

// MultiPublisher publishes to every publisher in order. All publishers are
// tried; their errors are joined.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, underlying string, quotes []models.Quote, snapshotUTC time.Time) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, underlying, quotes, snapshotUTC); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
