// Package alpaca implements a chain source over Alpaca options market data.
package alpaca

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
	"spxopt/internal/security"
	"spxopt/internal/supplier"
	"spxopt/pkg/utils"
)

// Name identifies the supplier in logs and audit events.
const Name = "alpaca"

// MarketData is the part of the Alpaca market data client the supplier uses.
type MarketData interface {
	GetOptionChain(underlyingSymbol string, req marketdata.GetOptionChainRequest) (map[string]marketdata.OptionSnapshot, error)
	GetOptionSnapshots(symbols []string, req marketdata.GetOptionSnapshotRequest) (map[string]marketdata.OptionSnapshot, error)
}

// Config holds Alpaca options data settings.
type Config struct {
	Symbol     string // underlying, e.g. SPX
	RootSymbol string // OCC root tried first for direct lookups, e.g. SPXW
	Feed       string // indicative or opra
	BaseURL    string
	APIKey     string
	APISecret  string
	Retry      utils.RetryConfig
}

// Supplier is a read-only chain source backed by Alpaca.
type Supplier struct {
	cfg     Config
	client  MarketData
	auditor security.Auditor
	logger  zerolog.Logger
	today   func() civil.Date
}

var (
	_ supplier.ChainSource    = (*Supplier)(nil)
	_ supplier.ContractQuoter = (*Supplier)(nil)
)

// Option configures a Supplier.
type Option func(*Supplier)

// WithClient replaces the Alpaca client.
func WithClient(c MarketData) Option {
	return func(s *Supplier) { s.client = c }
}

// WithAuditor records data requests on a.
func WithAuditor(a security.Auditor) Option {
	return func(s *Supplier) { s.auditor = a }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supplier) { s.logger = logger }
}

// New creates an Alpaca supplier.
func New(cfg Config, opts ...Option) *Supplier {
	if cfg.RootSymbol == "" {
		cfg.RootSymbol = cfg.Symbol
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = utils.DefaultRetryConfig()
	}
	s := &Supplier{
		cfg:    cfg,
		logger: zerolog.Nop(),
		today:  utils.Today,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		})
	}
	return s
}

// Name returns the supplier name.
func (s *Supplier) Name() string {
	return Name
}

// Expirations returns every expiration from today on, ascending.
func (s *Supplier) Expirations(ctx context.Context) ([]civil.Date, error) {
	snaps, err := s.chain(ctx, marketdata.GetOptionChainRequest{
		Feed:              marketdata.OptionFeed(s.cfg.Feed),
		ExpirationDateGte: s.today(),
	})
	if err != nil {
		return nil, err
	}

	var dates []civil.Date
	for sym := range snaps {
		_, key, err := ParseOCCSymbol(sym)
		if err != nil {
			continue
		}
		dates = append(dates, key.Expiration)
	}
	return supplier.SortDates(dates), nil
}

// Chain returns every call and put of expiration.
func (s *Supplier) Chain(ctx context.Context, expiration civil.Date) ([]models.Quote, error) {
	snaps, err := s.chain(ctx, marketdata.GetOptionChainRequest{
		Feed:           marketdata.OptionFeed(s.cfg.Feed),
		ExpirationDate: expiration,
	})
	if err != nil {
		return nil, err
	}

	quotes := make([]models.Quote, 0, len(snaps))
	for sym, snap := range snaps {
		_, key, err := ParseOCCSymbol(sym)
		if err != nil {
			s.logger.Debug().Str("symbol", sym).Err(err).Msg("Skipping unparseable symbol")
			continue
		}
		if key.Expiration != expiration {
			continue
		}
		quotes = append(quotes, toQuote(key, snap))
	}
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].Right != quotes[j].Right {
			return quotes[i].Right == models.Call
		}
		return quotes[i].Strike < quotes[j].Strike
	})
	return quotes, nil
}

// QuotesForContracts snapshots the OCC symbols of keys in one request. Each
// contract is tried under the configured root and then the underlying's own
// root; contracts with neither get placeholders.
func (s *Supplier) QuotesForContracts(ctx context.Context, keys []models.ContractKey) ([]models.Quote, error) {
	out := make([]models.Quote, len(keys))
	for i, k := range keys {
		out[i] = models.PlaceholderQuote(k)
	}
	if len(keys) == 0 {
		return out, nil
	}

	roots := []string{s.cfg.RootSymbol}
	if s.cfg.Symbol != "" && s.cfg.Symbol != s.cfg.RootSymbol {
		roots = append(roots, s.cfg.Symbol)
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, k := range keys {
		for _, root := range roots {
			sym := OCCSymbol(root, k)
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	snaps, err := utils.RetryWithResult(ctx, s.cfg.Retry, func() (map[string]marketdata.OptionSnapshot, error) {
		return s.client.GetOptionSnapshots(symbols, marketdata.GetOptionSnapshotRequest{
			Feed: marketdata.OptionFeed(s.cfg.Feed),
		})
	})
	s.audit(ctx, "SNAPSHOTS", len(symbols), time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewSupplierError(Name, "snapshots", err)
	}

	for i, k := range keys {
		for _, root := range roots {
			if snap, ok := snaps[OCCSymbol(root, k)]; ok {
				out[i] = toQuote(k, snap)
				break
			}
		}
	}
	return out, nil
}

func (s *Supplier) chain(ctx context.Context, req marketdata.GetOptionChainRequest) (map[string]marketdata.OptionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	snaps, err := utils.RetryWithResult(ctx, s.cfg.Retry, func() (map[string]marketdata.OptionSnapshot, error) {
		return s.client.GetOptionChain(s.cfg.Symbol, req)
	})
	s.audit(ctx, "OPTION_CHAIN", len(snaps), time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewSupplierError(Name, "option chain", err)
	}
	return snaps, nil
}

func (s *Supplier) audit(ctx context.Context, action string, n int, d time.Duration, err error) {
	event := security.AuditEvent{
		EventType:  security.AuditMarketDataRequest,
		Supplier:   Name,
		Underlying: s.cfg.Symbol,
		Action:     action,
		Success:    err == nil,
		Details:    map[string]interface{}{"contracts": n, "duration_ms": d.Milliseconds()},
	}
	if err != nil {
		event.ErrorMsg = security.MaskSensitive(err.Error())
		s.logger.Error().Err(err).Str("action", action).Msg("Alpaca request failed")
	}
	security.Record(ctx, s.auditor, event)
}

func toQuote(key models.ContractKey, snap marketdata.OptionSnapshot) models.Quote {
	q := models.PlaceholderQuote(key)
	if snap.LatestQuote != nil {
		q.Bid = snap.LatestQuote.BidPrice
		q.Ask = snap.LatestQuote.AskPrice
	}
	if snap.LatestTrade != nil {
		q.Last = snap.LatestTrade.Price
	}
	if snap.Greeks != nil {
		d := snap.Greeks.Delta
		q.Delta = &d
	}
	return supplier.Sanitize(q)
}
