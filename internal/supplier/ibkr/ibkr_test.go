package ibkr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
	"spxopt/internal/resilience"
	"spxopt/internal/security"
	"spxopt/pkg/utils"
)

var (
	mar13 = civil.Date{Year: 2026, Month: time.March, Day: 13}
	mar20 = civil.Date{Year: 2026, Month: time.March, Day: 20}
	apr17 = civil.Date{Year: 2026, Month: time.April, Day: 17}
)

type listed struct {
	conid    int
	month    string
	strike   float64
	right    string
	maturity string
}

// fakeGateway serves a small SPX listing.
type fakeGateway struct {
	mu            sync.Mutex
	searchStatus  int
	searchCalls   int
	snapshotCalls int
	contracts     []listed
	rows          map[int]map[string]interface{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		contracts: []listed{
			{101, "MAR26", 4000, "C", "20260320"},
			{102, "MAR26", 4100, "C", "20260320"},
			{103, "MAR26", 4000, "P", "20260320"},
			{104, "MAR26", 4100, "C", "20260313"},
			{201, "APR26", 4000, "C", "20260417"},
		},
		rows: map[int]map[string]interface{}{
			101: {"conid": 101.0, "84": "10.00", "86": 11.0, "31": "C10.50", "7308": map[string]interface{}{"v": "0.55"}, "87_raw": 1200.0, "7638": "3,400"},
			102: {"conid": 102.0, "84": -1.0, "86": "0.50", "31": 0.0},
		},
	}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/iserver/secdef/search":
		g.searchCalls++
		if g.searchStatus != 0 {
			w.WriteHeader(g.searchStatus)
			return
		}
		json.NewEncoder(w).Encode([]searchResult{
			{ConID: "999", Symbol: "SPX", Description: "NYSE", Sections: []section{{SecType: "IND"}}},
			{ConID: "416904", Symbol: "SPX", Description: "CBOE", Sections: []section{{SecType: "IND"}, {SecType: "OPT", Months: "MAR26;APR26"}}},
		})
	case "/iserver/secdef/strikes":
		var resp strikesResponse
		seen := map[string]bool{}
		for _, c := range g.contracts {
			id := c.right + strconv.FormatFloat(c.strike, 'f', -1, 64)
			if c.month != q.Get("month") || seen[id] {
				continue
			}
			seen[id] = true
			if c.right == "C" {
				resp.Call = append(resp.Call, c.strike)
			} else {
				resp.Put = append(resp.Put, c.strike)
			}
		}
		json.NewEncoder(w).Encode(resp)
	case "/iserver/secdef/info":
		var out []contractInfo
		for _, c := range g.contracts {
			if c.month == q.Get("month") && models.FormatStrike(c.strike) == q.Get("strike") && c.right == q.Get("right") {
				out = append(out, contractInfo{ConID: c.conid, Symbol: "SPX", Strike: c.strike, Right: c.right, MaturityDate: c.maturity})
			}
		}
		if len(out) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"no contracts"}`))
			return
		}
		json.NewEncoder(w).Encode(out)
	case "/iserver/marketdata/snapshot":
		g.snapshotCalls++
		var out []map[string]interface{}
		for _, id := range strings.Split(q.Get("conids"), ",") {
			n, _ := strconv.Atoi(id)
			if row, ok := g.rows[n]; ok {
				out = append(out, row)
			}
		}
		json.NewEncoder(w).Encode(out)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type memoryAuditor struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

func (m *memoryAuditor) Log(_ context.Context, e security.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memoryAuditor) types() []security.AuditEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]security.AuditEventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

func newTestSupplier(t *testing.T, g *fakeGateway, opts ...Option) *Supplier {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("SPX")
	cfg.BaseURL = srv.URL
	cfg.PreflightDelay = 0
	cfg.Retry = utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute}
	return New(cfg, opts...)
}

func TestConnectAndClose_Audited(t *testing.T) {
	g := newFakeGateway()
	auditor := &memoryAuditor{}
	s := newTestSupplier(t, g, WithAuditor(auditor))

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if g.searchCalls != 1 {
		t.Errorf("expected one search, got %d", g.searchCalls)
	}
	if s.conid != 416904 || len(s.months) != 2 {
		t.Errorf("expected CBOE listing with two months, got conid=%d months=%v", s.conid, s.months)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []security.AuditEventType{
		security.AuditConnectionOpen,
		security.AuditSupplierConnect,
		security.AuditSupplierDisconnect,
		security.AuditConnectionClose,
	}
	got := auditor.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestConnect_ServerErrorRetriedThenFails(t *testing.T) {
	g := newFakeGateway()
	g.searchStatus = http.StatusServiceUnavailable
	auditor := &memoryAuditor{}
	s := newTestSupplier(t, g, WithAuditor(auditor))

	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	var se *apperrors.SupplierError
	if !errors.As(err, &se) || se.Supplier != Name {
		t.Errorf("expected a supplier error, got %v", err)
	}
	if g.searchCalls != 2 {
		t.Errorf("expected the 503 to be retried once, got %d calls", g.searchCalls)
	}
	if stats := s.Breaker().Stats(); stats.TotalFailures != 1 {
		t.Errorf("expected one breaker failure, got %+v", stats)
	}

	events := auditor.types()
	if len(events) != 2 || events[1] != security.AuditSupplierConnect || auditor.events[1].Success {
		t.Errorf("expected a failed connect event, got %+v", auditor.events)
	}
}

func TestExpirations(t *testing.T) {
	s := newTestSupplier(t, newFakeGateway())

	exps, err := s.Expirations(context.Background())
	if err != nil {
		t.Fatalf("Expirations: %v", err)
	}
	want := []civil.Date{mar13, mar20, apr17}
	if len(exps) != len(want) {
		t.Fatalf("expected %v, got %v", want, exps)
	}
	for i := range want {
		if exps[i] != want[i] {
			t.Errorf("expiration %d: expected %s, got %s", i, want[i], exps[i])
		}
	}
}

func TestChain(t *testing.T) {
	g := newFakeGateway()
	s := newTestSupplier(t, g)

	chain, err := s.Chain(context.Background(), mar20)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 contracts, got %+v", chain)
	}

	c4000 := chain[0]
	if c4000.Strike != 4000 || c4000.Right != models.Call {
		t.Fatalf("expected 4000C first, got %+v", c4000)
	}
	if c4000.Bid != 10 || c4000.Ask != 11 || c4000.Last != 10.5 || c4000.Volume != 1200 || c4000.OpenInterest != 3400 {
		t.Errorf("unexpected 4000C quote %+v", c4000)
	}
	if c4000.Delta == nil || *c4000.Delta != 0.55 {
		t.Errorf("expected delta 0.55, got %v", c4000.Delta)
	}

	c4100 := chain[1]
	if c4100.Strike != 4100 || c4100.Bid != 0 || c4100.Ask != 0.5 || c4100.Delta != nil {
		t.Errorf("expected sanitized 4100C, got %+v", c4100)
	}

	p4000 := chain[2]
	if p4000.Right != models.Put || p4000.Bid != 0 || p4000.Ask != 0 {
		t.Errorf("expected zero-filled 4000P, got %+v", p4000)
	}

	if g.snapshotCalls != 2 {
		t.Errorf("expected preflight plus one snapshot request, got %d", g.snapshotCalls)
	}
}

func TestQuotesForContracts(t *testing.T) {
	s := newTestSupplier(t, newFakeGateway())

	keys := []models.ContractKey{
		{Expiration: mar20, Strike: 4000, Right: models.Call},
		{Expiration: mar20, Strike: 9999, Right: models.Call},
		{Expiration: mar20, Strike: 4000, Right: models.Call},
	}
	quotes, err := s.QuotesForContracts(context.Background(), keys)
	if err != nil {
		t.Fatalf("QuotesForContracts: %v", err)
	}
	if len(quotes) != len(keys) {
		t.Fatalf("expected %d quotes, got %d", len(keys), len(quotes))
	}
	if quotes[0].Bid != 10 || quotes[2].Bid != 10 {
		t.Errorf("expected both 4000C rows priced, got %+v", quotes)
	}
	if quotes[1].Strike != 9999 || quotes[1].Bid != 0 || quotes[1].Ask != 0 {
		t.Errorf("expected placeholder for unlisted strike, got %+v", quotes[1])
	}
	if s.Breaker().State() != resilience.CircuitClosed {
		t.Errorf("unlisted contracts must not trip the breaker")
	}
}

func TestReadOnlyAllowsGatewayReads(t *testing.T) {
	ac := security.NewAccessController(true, nil)
	s := newTestSupplier(t, newFakeGateway(), WithAccessController(ac))

	if _, err := s.Expirations(context.Background()); err != nil {
		t.Errorf("reads must pass in read-only mode: %v", err)
	}
}

func TestFieldValue(t *testing.T) {
	tests := []struct {
		raw  interface{}
		want float64
		ok   bool
	}{
		{12.5, 12.5, true},
		{"12.5", 12.5, true},
		{"C12.50", 12.5, true},
		{"1,234", 1234, true},
		{map[string]interface{}{"v": 3.0}, 3, true},
		{map[string]interface{}{"v": "H4.5"}, 4.5, true},
		{"", 0, false},
		{"n/a", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := fieldValue(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("fieldValue(%v) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMonthCodeAndMaturity(t *testing.T) {
	if got := monthCode(mar20); got != "MAR26" {
		t.Errorf("expected MAR26, got %s", got)
	}
	if got := formatMaturity(mar20); got != "20260320" {
		t.Errorf("expected 20260320, got %s", got)
	}
	d, err := parseMaturity("20260417")
	if err != nil || d != apr17 {
		t.Errorf("expected %s, got %s (%v)", apr17, d, err)
	}
}

func slowGateway(t *testing.T, timeout time.Duration) *Supplier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("SPX")
	cfg.BaseURL = srv.URL
	cfg.PreflightDelay = 0
	cfg.Retry = utils.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute}
	cfg.Timeout = timeout
	return New(cfg)
}

func TestConnect_ClientTimeout(t *testing.T) {
	s := slowGateway(t, 20*time.Millisecond)

	err := s.Connect(context.Background())
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, apperrors.ErrConnectionFailed) {
		t.Errorf("timeout should not be reported as a failed connection: %v", err)
	}
	var se *apperrors.SupplierError
	if !errors.As(err, &se) || se.Supplier != Name {
		t.Errorf("expected a gateway supplier error, got %T", err)
	}
}

func TestConnect_CallerDeadline(t *testing.T) {
	s := slowGateway(t, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Connect(ctx)
	if !errors.Is(err, apperrors.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrTimeout wrapping the deadline, got %v", err)
	}
}
