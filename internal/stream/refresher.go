package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spxopt/internal/builder"
	"spxopt/internal/models"
	"spxopt/internal/supplier"
)

// Update is the outcome of one refresh, carrying the legs it was computed
// for. Callers apply Result only when Result.Matches(current legs).
type Update struct {
	Legs        []models.Leg
	Result      builder.Result
	Err         error
	RequestedAt time.Time
}

type refreshRequest struct {
	legs        []models.Leg
	requestedAt time.Time
}

// Refresher resolves quotes on a single background worker. At most one
// request is pending; a newer request replaces it.
type Refresher struct {
	src     supplier.ChainSource
	logger  zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
	pending chan refreshRequest
	updates chan Update
}

// NewRefresher creates a refresher over src.
func NewRefresher(src supplier.ChainSource, logger zerolog.Logger) *Refresher {
	return &Refresher{
		src:     src,
		logger:  logger,
		now:     time.Now,
		pending: make(chan refreshRequest, 1),
		updates: make(chan Update),
	}
}

// Request queues a refresh of legs, superseding any request the worker has
// not started yet. It never blocks.
func (r *Refresher) Request(legs []models.Leg) {
	req := refreshRequest{
		legs:        append([]models.Leg(nil), legs...),
		requestedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case old := <-r.pending:
		r.logger.Debug().Int("legs", len(old.legs)).Msg("Superseded pending refresh")
	default:
	}
	r.pending <- req
}

// Updates returns the channel results are delivered on. It is closed when
// Run returns.
func (r *Refresher) Updates() <-chan Update {
	return r.updates
}

// Run serves requests until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	defer close(r.updates)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-r.pending:
			start := time.Now()
			res, err := builder.Resolve(ctx, req.legs, r.src)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				r.logger.Warn().Err(err).Int("legs", len(req.legs)).Msg("Quote refresh failed")
			} else {
				r.logger.Debug().
					Int("legs", len(req.legs)).
					Float64("lazy", res.Lazy).
					Float64("smart", res.Smart).
					Dur("duration", time.Since(start)).
					Msg("Quotes refreshed")
			}

			select {
			case r.updates <- Update{Legs: req.legs, Result: res, Err: err, RequestedAt: req.requestedAt}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
