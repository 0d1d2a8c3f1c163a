// Package collector periodically snapshots an option chain into the store.
package collector

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/logging"
	"spxopt/internal/models"
	"spxopt/internal/security"
	"spxopt/internal/store"
	"spxopt/internal/supplier"
	"spxopt/pkg/utils"
)

// DefaultInterval is the time between snapshots.
const DefaultInterval = 60 * time.Second

// Publisher receives every stored snapshot.
type Publisher interface {
	Publish(ctx context.Context, underlying string, quotes []models.Quote, snapshotUTC time.Time) error
}

// Config holds collector settings.
type Config struct {
	Interval time.Duration
	// Expiration pins the collected expiration. Zero means the next one.
	Expiration civil.Date
	// MarketHoursOnly skips ticks while the market is closed.
	MarketHoursOnly bool
}

// Result describes one collection.
type Result struct {
	Expiration  civil.Date `json:"expiration"`
	Rows        int        `json:"rows"`
	SnapshotUTC time.Time  `json:"snapshot_utc"`
	// Fallback is set when the requested expiration was not listed.
	Fallback bool `json:"fallback"`
}

// Collector fetches a chain from a source and stores it.
type Collector struct {
	cfg       Config
	src       supplier.ChainSource
	repo      store.SnapshotRepository
	access    *security.AccessController
	auditor   security.Auditor
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithAccessController checks snapshot writes against ac.
func WithAccessController(ac *security.AccessController) Option {
	return func(c *Collector) { c.access = ac }
}

// WithAuditor records stored snapshots on a.
func WithAuditor(a security.Auditor) Option {
	return func(c *Collector) { c.auditor = a }
}

// WithPublisher fans stored snapshots out to p.
func WithPublisher(p Publisher) Option {
	return func(c *Collector) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// New creates a collector.
func New(src supplier.ChainSource, repo store.SnapshotRepository, cfg Config, opts ...Option) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	c := &Collector{
		cfg:    cfg,
		src:    src,
		repo:   repo,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithUnderlying(c.logger, repo.Underlying())
	return c
}

// CollectOnce stores one snapshot of expiration (or of the next expiration
// when expiration is zero) and returns the number of rows written.
func CollectOnce(ctx context.Context, src supplier.ChainSource, repo store.SnapshotRepository, expiration civil.Date) (int, error) {
	res, err := New(src, repo, Config{Expiration: expiration}).CollectOnce(ctx)
	return res.Rows, err
}

// CollectOnce stores one snapshot of the configured expiration.
//
// Only expirations from today (New York) on are considered. A requested
// expiration the source does not list falls back to the next one with a
// warning. An empty chain stores nothing.
func (c *Collector) CollectOnce(ctx context.Context) (Result, error) {
	start := c.now()

	exps, err := c.src.Expirations(ctx)
	if err != nil {
		return Result{}, err
	}
	next, ok := supplier.NextExpiration(exps, utils.TradingDate(start))
	if !ok {
		c.logger.Warn().Msg("No future expirations available")
		return Result{}, apperrors.ErrNoExpirations
	}

	res := Result{Expiration: next}
	if want := c.cfg.Expiration; want != (civil.Date{}) {
		if listed(exps, want) {
			res.Expiration = want
		} else {
			c.logger.Warn().
				Str("requested", want.String()).
				Str("using", next.String()).
				Msg("Expiration not listed by source, using next expiration")
			res.Fallback = true
		}
	}

	chain, err := c.src.Chain(ctx, res.Expiration)
	if err != nil {
		return res, err
	}
	if len(chain) == 0 {
		logger := logging.WithExpiration(c.logger, res.Expiration)
		logger.Warn().Msg("Empty chain, nothing stored")
		return res, nil
	}

	if err := c.access.CheckPermission(ctx, security.OpSnapshotWrite); err != nil {
		return res, err
	}

	res.SnapshotUTC = c.now().UTC()
	rows, err := c.repo.InsertSnapshots(ctx, chain, res.SnapshotUTC)
	res.Rows = rows

	event := security.AuditEvent{
		EventType:  security.AuditSnapshotStored,
		Supplier:   supplier.Name(c.src),
		Underlying: c.repo.Underlying(),
		Action:     string(security.OpSnapshotWrite),
		Success:    err == nil,
		Details:    map[string]interface{}{"expiration": res.Expiration.String(), "rows": rows},
	}
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	security.Record(ctx, c.auditor, event)
	if err != nil {
		return res, err
	}

	logging.LogSnapshot(c.logger, c.repo.Underlying(), res.Expiration, rows, time.Since(start))

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, c.repo.Underlying(), chain, res.SnapshotUTC); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to publish snapshot")
		}
	}
	return res, nil
}

// Run collects every interval until ctx is done. Failed collections are
// logged and the loop keeps going. Sources that hold a session are connected
// first and closed on exit.
func (c *Collector) Run(ctx context.Context) error {
	if err := c.repo.EnsureSchema(ctx); err != nil {
		return err
	}

	if conn, ok := c.src.(supplier.Connector); ok {
		if err := conn.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			if err := conn.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to close source")
			}
		}()
	}

	c.logger.Info().
		Str("source", supplier.Name(c.src)).
		Dur("interval", c.cfg.Interval).
		Msg("Collector started")

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		c.tick(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			c.logger.Info().Msg("Collector stopped")
			return nil
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	if c.cfg.MarketHoursOnly && utils.MarketStatusAt(c.now()) == utils.MarketClosed {
		c.logger.Debug().Msg("Market closed, skipping snapshot")
		return
	}

	res, err := c.CollectOnce(ctx)
	switch {
	case err == nil:
		c.logger.Info().
			Int("rows", res.Rows).
			Str("expiration", res.Expiration.String()).
			Msg("Collected snapshot")
	case ctx.Err() != nil:
	case errors.Is(err, apperrors.ErrNoExpirations):
	default:
		c.logger.Error().Err(err).Msg("Collect failed")
	}
}

func listed(exps []civil.Date, d civil.Date) bool {
	for _, e := range exps {
		if e == d {
			return true
		}
	}
	return false
}
