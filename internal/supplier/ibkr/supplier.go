package ibkr

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
	"spxopt/internal/resilience"
	"spxopt/internal/security"
	"spxopt/internal/supplier"
)

// Name identifies the supplier in logs and audit events.
const Name = "ibkr"

// Supplier is a read-only chain source backed by the Client Portal gateway.
type Supplier struct {
	cfg     Config
	http    *resty.Client
	breaker *resilience.CircuitBreaker
	auditor security.Auditor
	access  *security.AccessController
	logger  zerolog.Logger

	mu        sync.Mutex
	connected bool
	conid     int
	months    []string
}

var (
	_ supplier.ChainSource    = (*Supplier)(nil)
	_ supplier.ContractQuoter = (*Supplier)(nil)
	_ supplier.Connector      = (*Supplier)(nil)
)

// New creates a gateway supplier. Call Connect before use; the data methods
// connect on demand otherwise.
func New(cfg Config, opts ...Option) *Supplier {
	def := DefaultConfig(cfg.Symbol)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = def.Retry
	}

	s := &Supplier{
		cfg:    cfg,
		http:   newHTTPClient(cfg),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	breakerCfg := cfg.Breaker
	breakerCfg.IsFailure = isGatewayFailure
	logger := s.logger
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		logger.Warn().Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("Gateway circuit changed state")
	}
	s.breaker = resilience.NewCircuitBreaker(Name, breakerCfg)
	return s
}

// Name returns the supplier name.
func (s *Supplier) Name() string {
	return Name
}

// Breaker exposes the gateway circuit breaker for health reporting.
func (s *Supplier) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// Connect looks up the underlying and its option months.
func (s *Supplier) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	err := s.connectLocked(ctx)

	security.Record(ctx, s.auditor, security.ConnectionEvent(security.AuditConnectionOpen, Name, s.cfg.BaseURL, err))
	connect := security.AuditEvent{
		EventType:  security.AuditSupplierConnect,
		Supplier:   Name,
		Underlying: s.cfg.Symbol,
		Action:     "CONNECT",
		Success:    err == nil,
		Details:    map[string]interface{}{"months": len(s.months), "conid": s.conid},
	}
	if err != nil {
		connect.ErrorMsg = security.MaskSensitive(err.Error())
	}
	security.Record(ctx, s.auditor, connect)
	if err != nil {
		s.logger.Error().Err(err).Str("base_url", s.cfg.BaseURL).Msg("Gateway connection failed")
		return err
	}
	s.logger.Info().
		Str("base_url", s.cfg.BaseURL).
		Str("underlying", s.cfg.Symbol).
		Int("conid", s.conid).
		Int("months", len(s.months)).
		Msg("Connected to gateway")
	return nil
}

func (s *Supplier) connectLocked(ctx context.Context) error {
	var results []searchResult
	if err := s.get(ctx, security.OpSecDefLookup, "/iserver/secdef/search", map[string]string{"symbol": s.cfg.Symbol}, &results); err != nil {
		return err
	}

	conid, months, err := pickUnderlying(results, s.cfg.Exchange)
	if err != nil {
		return apperrors.NewSupplierError(Name, "connect", fmt.Errorf("%s: %w", s.cfg.Symbol, err))
	}
	s.conid = conid
	s.months = months
	s.connected = true
	return nil
}

// pickUnderlying picks the listing with an OPT section, preferring exchange.
func pickUnderlying(results []searchResult, exchange string) (int, []string, error) {
	var fallback *searchResult
	for i := range results {
		r := &results[i]
		if optMonths(r) == nil {
			continue
		}
		if strings.EqualFold(r.Description, exchange) {
			fallback = r
			break
		}
		if fallback == nil {
			fallback = r
		}
	}
	if fallback == nil {
		return 0, nil, fmt.Errorf("%w: no option listing", apperrors.ErrDataNotFound)
	}
	conid, err := strconv.Atoi(fallback.ConID)
	if err != nil {
		return 0, nil, fmt.Errorf("bad conid %q", fallback.ConID)
	}
	return conid, optMonths(fallback), nil
}

func optMonths(r *searchResult) []string {
	for _, sec := range r.Sections {
		if sec.SecType != "OPT" {
			continue
		}
		var months []string
		for _, m := range strings.Split(sec.Months, ";") {
			if m = strings.TrimSpace(m); m != "" {
				months = append(months, m)
			}
		}
		return months
	}
	return nil
}

// Close ends the session. The gateway keeps its own login; only local state is dropped.
func (s *Supplier) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.conid = 0
	s.months = nil

	ctx := context.Background()
	security.Record(ctx, s.auditor, security.AuditEvent{
		EventType:  security.AuditSupplierDisconnect,
		Supplier:   Name,
		Underlying: s.cfg.Symbol,
		Action:     "DISCONNECT",
		Success:    true,
	})
	security.Record(ctx, s.auditor, security.ConnectionEvent(security.AuditConnectionClose, Name, s.cfg.BaseURL, nil))
	s.logger.Info().Str("base_url", s.cfg.BaseURL).Msg("Disconnected from gateway")
	return nil
}

func (s *Supplier) session(ctx context.Context) (int, []string, error) {
	if err := s.Connect(ctx); err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conid, append([]string(nil), s.months...), nil
}

// Expirations returns every listed expiration, ascending.
func (s *Supplier) Expirations(ctx context.Context) ([]civil.Date, error) {
	conid, months, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	p := pool.NewWithResults[[]civil.Date]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(s.cfg.MaxConcurrency)
	for _, month := range months {
		month := month
		p.Go(func(ctx context.Context) ([]civil.Date, error) {
			return s.monthExpirations(ctx, conid, month)
		})
	}
	perMonth, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var all []civil.Date
	for _, dates := range perMonth {
		all = append(all, dates...)
	}
	return supplier.SortDates(all), nil
}

// monthExpirations asks for the contracts of one strike in month; their
// maturities are the month's expirations.
func (s *Supplier) monthExpirations(ctx context.Context, conid int, month string) ([]civil.Date, error) {
	strikes, err := s.strikes(ctx, conid, month)
	if err != nil {
		return nil, err
	}
	if len(strikes.Call) == 0 {
		return nil, nil
	}
	probe := strikes.Call[len(strikes.Call)/2]

	infos, err := s.info(ctx, conid, month, probe, models.Call)
	if err != nil {
		return nil, err
	}
	var dates []civil.Date
	for _, ci := range infos {
		d, err := parseMaturity(ci.MaturityDate)
		if err != nil {
			s.logger.Debug().Err(err).Int("conid", ci.ConID).Msg("Skipping contract")
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// Chain returns every call and put of expiration.
func (s *Supplier) Chain(ctx context.Context, expiration civil.Date) ([]models.Quote, error) {
	conid, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	month := monthCode(expiration)

	strikes, err := s.strikes(ctx, conid, month)
	if err != nil {
		return nil, err
	}

	keys := make([]models.ContractKey, 0, len(strikes.Call)+len(strikes.Put))
	for _, k := range strikes.Call {
		keys = append(keys, models.ContractKey{Expiration: expiration, Strike: k, Right: models.Call})
	}
	for _, k := range strikes.Put {
		keys = append(keys, models.ContractKey{Expiration: expiration, Strike: k, Right: models.Put})
	}
	if len(keys) == 0 {
		return nil, nil
	}

	contracts, err := s.resolveContracts(ctx, conid, keys)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		s.logger.Warn().Str("expiration", expiration.String()).Msg("No contracts qualified for expiration")
		return nil, nil
	}

	quotes, err := s.snapshot(ctx, contracts)
	if err != nil {
		return nil, err
	}

	out := make([]models.Quote, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Right != out[j].Right {
			return out[i].Right == models.Call
		}
		return out[i].Strike < out[j].Strike
	})
	return out, nil
}

// QuotesForContracts looks up each contract directly and snapshots them in
// batches. Unknown contracts get zero-filled placeholders.
func (s *Supplier) QuotesForContracts(ctx context.Context, keys []models.ContractKey) ([]models.Quote, error) {
	out := make([]models.Quote, len(keys))
	for i, k := range keys {
		out[i] = models.PlaceholderQuote(k)
	}
	if len(keys) == 0 {
		return out, nil
	}

	conid, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	distinct := make([]models.ContractKey, 0, len(keys))
	seen := make(map[models.ContractKey]bool, len(keys))
	for _, k := range keys {
		mk := supplier.MatchKey(k)
		if !seen[mk] {
			seen[mk] = true
			distinct = append(distinct, k)
		}
	}

	contracts, err := s.resolveContracts(ctx, conid, distinct)
	if err != nil {
		return nil, err
	}
	quotes, err := s.snapshot(ctx, contracts)
	if err != nil {
		return nil, err
	}

	byKey := make(map[models.ContractKey]models.Quote, len(quotes))
	for _, q := range quotes {
		byKey[supplier.MatchKey(q.Key())] = q
	}
	for i, k := range keys {
		if q, ok := byKey[supplier.MatchKey(k)]; ok {
			q.Expiration, q.Strike, q.Right = k.Expiration, k.Strike, k.Right
			out[i] = q
		}
	}
	return out, nil
}

type contractRef struct {
	conid int
	key   models.ContractKey
}

// resolveContracts finds the conid of each key, dropping keys the gateway
// does not list.
func (s *Supplier) resolveContracts(ctx context.Context, underlying int, keys []models.ContractKey) ([]contractRef, error) {
	p := pool.NewWithResults[[]contractRef]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(s.cfg.MaxConcurrency)
	for _, k := range keys {
		k := k
		p.Go(func(ctx context.Context) ([]contractRef, error) {
			infos, err := s.info(ctx, underlying, monthCode(k.Expiration), k.Strike, k.Right)
			if err != nil {
				if isNotListed(err) {
					return nil, nil
				}
				return nil, err
			}
			want := formatMaturity(k.Expiration)
			for _, ci := range infos {
				if ci.MaturityDate == want && strings.EqualFold(ci.Right, string(k.Right)) {
					return []contractRef{{conid: ci.ConID, key: k}}, nil
				}
			}
			return nil, nil
		})
	}
	found, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var refs []contractRef
	for _, f := range found {
		refs = append(refs, f...)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].conid < refs[j].conid })

	security.Record(ctx, s.auditor, security.AuditEvent{
		EventType:  security.AuditSecDefLookup,
		Supplier:   Name,
		Underlying: s.cfg.Symbol,
		Action:     "SECDEF_INFO",
		Success:    true,
		Details:    map[string]interface{}{"requested": len(keys), "qualified": len(refs)},
	})
	return refs, nil
}

// isNotListed reports a 4xx answer to a contract lookup: the gateway has no
// such strike/right in the month.
func isNotListed(err error) bool {
	var se *statusError
	return apperrors.As(err, &se) && se.Code < 500
}

func (s *Supplier) strikes(ctx context.Context, conid int, month string) (strikesResponse, error) {
	var resp strikesResponse
	err := s.get(ctx, security.OpSecDefLookup, "/iserver/secdef/strikes", map[string]string{
		"conid":   strconv.Itoa(conid),
		"sectype": "OPT",
		"month":   month,
	}, &resp)
	return resp, err
}

func (s *Supplier) info(ctx context.Context, conid int, month string, strike float64, right models.Right) ([]contractInfo, error) {
	var infos []contractInfo
	err := s.get(ctx, security.OpSecDefLookup, "/iserver/secdef/info", map[string]string{
		"conid":   strconv.Itoa(conid),
		"sectype": "OPT",
		"month":   month,
		"strike":  models.FormatStrike(strike),
		"right":   string(right),
	}, &infos)
	return infos, err
}

// snapshot requests market data for contracts in batches. The gateway only
// starts streaming a conid after the first request for it, so every batch is
// requested twice.
func (s *Supplier) snapshot(ctx context.Context, contracts []contractRef) (map[int]models.Quote, error) {
	quotes := make(map[int]models.Quote, len(contracts))
	byConid := make(map[int]models.ContractKey, len(contracts))
	for _, c := range contracts {
		byConid[c.conid] = c.key
		quotes[c.conid] = models.PlaceholderQuote(c.key)
	}

	start := time.Now()
	for begin := 0; begin < len(contracts); begin += s.cfg.BatchSize {
		end := begin + s.cfg.BatchSize
		if end > len(contracts) {
			end = len(contracts)
		}
		ids := make([]string, 0, end-begin)
		for _, c := range contracts[begin:end] {
			ids = append(ids, strconv.Itoa(c.conid))
		}
		params := map[string]string{
			"conids": strings.Join(ids, ","),
			"fields": snapshotFields,
		}

		if err := s.get(ctx, security.OpMarketData, "/iserver/marketdata/snapshot", params, nil); err != nil {
			return nil, err
		}
		if err := wait(ctx, s.cfg.PreflightDelay); err != nil {
			return nil, err
		}

		var rows []map[string]interface{}
		if err := s.get(ctx, security.OpMarketData, "/iserver/marketdata/snapshot", params, &rows); err != nil {
			return nil, err
		}
		for _, row := range rows {
			id := conidOf(row)
			key, ok := byConid[id]
			if !ok {
				continue
			}
			q := models.PlaceholderQuote(key)
			applySnapshot(&q, row)
			quotes[id] = supplier.Sanitize(q)
		}
	}

	security.Record(ctx, s.auditor, security.AuditEvent{
		EventType:  security.AuditMarketDataRequest,
		Supplier:   Name,
		Underlying: s.cfg.Symbol,
		Action:     "SNAPSHOT",
		Success:    true,
		Details: map[string]interface{}{
			"contracts":   len(contracts),
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	return quotes, nil
}
