package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"spxopt/internal/config"
	"spxopt/internal/logging"
	"spxopt/internal/resilience"
	"spxopt/internal/store"
	"spxopt/internal/stream"
	"spxopt/internal/supplier"
	"spxopt/internal/supplier/alpaca"
	"spxopt/internal/supplier/ibkr"
	"spxopt/pkg/utils"
)

// Repository opens the snapshot repository of the configured underlying.
func (a *App) Repository() (*store.OptionsRepository, error) {
	if a.db == nil {
		db, err := store.NewSQLiteStore(a.Config.Store.Path)
		if err != nil {
			return nil, err
		}
		a.db = db
	}
	return a.db.Options(a.Config.Underlying.Symbol)
}

// Source builds the chain source selected by supplier.kind. The returned
// breaker is nil for sources without one.
func (a *App) Source() (supplier.ChainSource, *resilience.CircuitBreaker, error) {
	cfg := a.Config
	connLog := logging.WithUnderlying(logging.NewConnectionLogger(cfg.Logging.ConnectionLogFile), cfg.Underlying.Symbol)

	switch cfg.Supplier.Kind {
	case config.SupplierIBKR:
		ic := ibkr.DefaultConfig(cfg.Underlying.Symbol)
		ic.BaseURL = cfg.IBKR.BaseURL
		ic.InsecureTLS = cfg.IBKR.InsecureTLS
		ic.Timeout = cfg.IBKR.Timeout
		ic.MaxConcurrency = cfg.IBKR.MaxConcurrency
		if cfg.IBKR.MaxRetries > 0 {
			ic.Retry.MaxAttempts = cfg.IBKR.MaxRetries
		}
		if cfg.IBKR.BreakerFails > 0 {
			ic.Breaker.FailureThreshold = cfg.IBKR.BreakerFails
		}
		if cfg.IBKR.BreakerReset > 0 {
			ic.Breaker.Timeout = cfg.IBKR.BreakerReset
		}
		s := ibkr.New(ic,
			ibkr.WithAuditor(a.Auditor),
			ibkr.WithAccessController(a.Access),
			ibkr.WithLogger(connLog),
		)
		return s, s.Breaker(), nil

	case config.SupplierAlpaca:
		s := alpaca.New(alpaca.Config{
			Symbol:     cfg.Underlying.Symbol,
			RootSymbol: cfg.Alpaca.RootSymbol,
			Feed:       cfg.Alpaca.Feed,
			BaseURL:    cfg.Alpaca.BaseURL,
			APIKey:     cfg.Alpaca.APIKey,
			APISecret:  cfg.Alpaca.APISecret,
			Retry:      utils.DefaultRetryConfig(),
		}, alpaca.WithAuditor(a.Auditor), alpaca.WithLogger(connLog))
		return s, nil, nil

	case config.SupplierDB:
		repo, err := a.Repository()
		if err != nil {
			return nil, nil, err
		}
		return store.NewSnapshotSource(repo), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown supplier kind %q", cfg.Supplier.Kind)
}

// Publisher builds the snapshot fan-out: the in-process hub plus Kafka when
// enabled. The returned close func flushes Kafka.
func (a *App) Publisher(hub *stream.Hub) (stream.Publisher, func()) {
	pubs := stream.MultiPublisher{}
	if hub != nil {
		pubs = append(pubs, hub)
	}
	closeFn := func() {}
	if a.Config.Kafka.Enabled {
		kp := stream.NewKafkaPublisher(a.Config.Kafka.Brokers, a.Config.Kafka.TopicPrefix, a.Logger)
		pubs = append(pubs, kp)
		closeFn = func() {
			if err := kp.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("Failed to close Kafka writer")
			}
		}
		a.Logger.Info().Str("topic", a.Config.TopicFor(a.Config.Underlying.Symbol)).Msg("Publishing snapshots to Kafka")
	}
	return pubs, closeFn
}

// HealthMonitor registers the store and the source breaker.
func (a *App) HealthMonitor(breaker *resilience.CircuitBreaker) *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor()
	if a.db != nil {
		m.RegisterComponent("store", resilience.DatabaseHealthCheck(a.db.Ping))
	}
	if breaker != nil {
		m.RegisterComponent("supplier", resilience.BreakerHealthCheck(breaker))
	}
	return m
}

// connect opens the source session when it holds one and returns the
// matching close func.
func connect(ctx context.Context, src supplier.ChainSource, logger zerolog.Logger) (func(), error) {
	if conn, ok := src.(supplier.Connector); ok {
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return closer(src, logger), nil
}

// closer returns a func that ends the session of src, for sources that
// connect on first use.
func closer(src supplier.ChainSource, logger zerolog.Logger) func() {
	conn, ok := src.(supplier.Connector)
	if !ok {
		return func() {}
	}
	return func() {
		if err := conn.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close source")
		}
	}
}
