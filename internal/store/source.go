package store

import (
	"context"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
)

// SnapshotSource replays the latest stored snapshot of each expiration as a
// chain source, so positions can be priced without a live gateway.
type SnapshotSource struct {
	repo SnapshotRepository
}

// NewSnapshotSource wraps repo as a chain source.
func NewSnapshotSource(repo SnapshotRepository) *SnapshotSource {
	return &SnapshotSource{repo: repo}
}

// Name identifies the source in logs and audit events.
func (s *SnapshotSource) Name() string {
	return "db"
}

// Expirations returns every expiration with stored snapshots.
func (s *SnapshotSource) Expirations(ctx context.Context) ([]civil.Date, error) {
	return s.repo.Expirations(ctx)
}

// Chain returns the most recent stored snapshot of the expiration's chain.
func (s *SnapshotSource) Chain(ctx context.Context, expiration civil.Date) ([]models.Quote, error) {
	quotes, _, err := s.repo.LatestChain(ctx, expiration)
	return quotes, err
}
