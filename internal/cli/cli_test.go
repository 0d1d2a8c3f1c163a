package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"spxopt/internal/builder"
	"spxopt/internal/models"
	"spxopt/internal/pricing"
	"spxopt/internal/store"
	"spxopt/internal/supplier"
)

var (
	mar20 = civil.Date{Year: 2026, Month: time.March, Day: 20}
	t0    = time.Date(2026, time.March, 16, 14, 30, 0, 0, time.UTC)
)

// seedDatabase stores one snapshot and points the db supplier at it.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "options.db")

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer db.Close()
	repo, err := db.Options("SPX")
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	delta := 0.55
	_, err = repo.InsertSnapshots(ctx, []models.Quote{
		{Expiration: mar20, Strike: 4000, Right: models.Call, Bid: 10, Ask: 11, Last: 10.5, Delta: &delta},
		{Expiration: mar20, Strike: 4100, Right: models.Call, Bid: 4, Ask: 5, Last: 4.5},
	}, t0)
	if err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}

	t.Setenv("SPXOPT_SUPPLIER", "db")
	t.Setenv("SPXOPT_DB_PATH", dbPath)
	return filepath.Join(dir, "config")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil || v["version"] != Version {
		t.Errorf("unexpected version output %q (%v)", out, err)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "config", "validate", "--config", dir)
	if err != nil || !strings.Contains(out, "valid") {
		t.Errorf("expected a valid default config, got %q (%v)", out, err)
	}

	t.Setenv("SPXOPT_SUPPLIER", "bloomberg")
	if _, err := run(t, "config", "validate", "--config", dir); err == nil {
		t.Error("expected an unknown supplier to fail validation")
	}
}

func TestPositionPriceFromSnapshotDatabase(t *testing.T) {
	dir := seedDatabase(t)

	out, err := run(t, "position", "price", "--config", dir, "--json",
		"--leg", "buy 4000 C 2026-03-20",
		"--leg", "sell 4100 C 2026-03-20")
	if err != nil {
		t.Fatalf("position price: %v", err)
	}
	var res builder.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if res.Lazy != 7 || res.Smart != 6 {
		t.Errorf("expected lazy 7 and smart 6, got %v and %v", res.Lazy, res.Smart)
	}
	if res.Resolved[0].Delta == nil || *res.Resolved[0].Delta != 0.55 {
		t.Errorf("expected stored delta, got %+v", res.Resolved[0])
	}
}

func TestPositionPrice_TableOutput(t *testing.T) {
	dir := seedDatabase(t)

	out, err := run(t, "position", "price", "--config", dir,
		"--leg", "buy 4000 C 2026-03-20",
		"--leg", "sell 4100 C 2026-03-20")
	if err != nil {
		t.Fatalf("position price: %v", err)
	}
	for _, want := range []string{"2026-03-20 4000C", "10.00 / 11.00", "+0.550", "7.00 debit", "6.00 debit"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestChainShow_FromSnapshotDatabase(t *testing.T) {
	dir := seedDatabase(t)

	out, err := run(t, "chain", "show", "--config", dir, "--expiration", "2026-03-20")
	if err != nil {
		t.Fatalf("chain show: %v", err)
	}
	for _, want := range []string{"Chain 2026-03-20 (2 contracts)", "4000", "10.50", "4.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	if _, err := run(t, "chain", "show", "--config", dir, "--expiration", "20260320"); err == nil {
		t.Error("expected an error for a malformed expiration")
	}
}

// sessionSource counts session opens and closes.
type sessionSource struct {
	*supplier.Static
	connects, closes int
}

func (s *sessionSource) Connect(ctx context.Context) error { s.connects++; return nil }
func (s *sessionSource) Close() error                      { s.closes++; return nil }

func TestConnectAndCloser(t *testing.T) {
	src := &sessionSource{Static: supplier.NewStatic("session")}

	disconnect, err := connect(context.Background(), src, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	disconnect()
	if src.connects != 1 || src.closes != 1 {
		t.Errorf("expected one connect and one close, got %d and %d", src.connects, src.closes)
	}

	// serve only closes: sessions open on first use.
	closer(src, zerolog.Nop())()
	if src.connects != 1 || src.closes != 2 {
		t.Errorf("expected closer to close without connecting, got %d and %d", src.connects, src.closes)
	}

	// Sources without a session get a no-op.
	closer(supplier.NewStatic("plain"), zerolog.Nop())()
}

func TestPositionPrice_NettedLegs(t *testing.T) {
	dir := seedDatabase(t)

	out, err := run(t, "position", "price", "--config", dir,
		"--leg", "buy 4000 C 2026-03-20",
		"--leg", "sell 4000 C 2026-03-20")
	if err != nil || !strings.Contains(out, "netted out") {
		t.Errorf("expected netted legs to be reported, got %q (%v)", out, err)
	}
}

func TestPositionPrice_RejectsBadLeg(t *testing.T) {
	dir := seedDatabase(t)

	if _, err := run(t, "position", "price", "--config", dir, "--leg", "buy lots C 2026-03-20"); err == nil {
		t.Error("expected a non-numeric strike to be rejected")
	}
	if _, err := run(t, "position", "price", "--config", dir); err == nil {
		t.Error("expected an error without legs")
	}
}

func TestPositionPayoff_ExplicitCost(t *testing.T) {
	dir := seedDatabase(t)

	out, err := run(t, "position", "payoff", "--config", dir, "--json",
		"--leg", "buy 4000 C 2026-03-20",
		"--cost", "5", "--min", "3900", "--max", "4100", "--steps", "2")
	if err != nil {
		t.Fatalf("position payoff: %v", err)
	}
	var resp struct {
		Points  []models.PayoffPoint `json:"points"`
		Summary pricing.Summary      `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if len(resp.Points) != 3 || resp.Points[0].PnL != -5 || resp.Points[2].PnL != 95 {
		t.Errorf("unexpected curve %+v", resp.Points)
	}
	if len(resp.Summary.Breakevens) != 1 || resp.Summary.Breakevens[0] != 4005 {
		t.Errorf("expected breakeven at 4005, got %v", resp.Summary.Breakevens)
	}
}

func TestHistoryCommands(t *testing.T) {
	dir := seedDatabase(t)

	out, err := run(t, "history", "strikes", "--config", dir, "-e", "2026-03-20")
	if err != nil || strings.TrimSpace(out) != "4000 4100" {
		t.Errorf("unexpected strikes %q (%v)", out, err)
	}

	out, err = run(t, "history", "prices", "--config", dir, "-e", "2026-03-20", "-s", "4000", "-r", "C", "--csv")
	if err != nil {
		t.Fatalf("history prices: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2026-03-16T14:30:00Z,2026-03-20,4000,C,10,11,10.5") {
		t.Errorf("unexpected CSV %q", out)
	}

	out, err = run(t, "history", "expirations", "--config", dir)
	if err != nil || !strings.Contains(out, "2026-03-20") {
		t.Errorf("unexpected expirations %q (%v)", out, err)
	}
}

func TestTableAlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	colored := &Output{writer: &buf, colorEnabled: true}
	plain := &Output{writer: &bytes.Buffer{}}

	table := NewTable(colored, "Total", "X")
	table.AddRow(colored.DebitCredit(3), "a")
	table.AddRow(plain.DebitCredit(-1.25), "b")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %q", buf.String())
	}
	col := func(line string) int { return strings.Index(ansiPattern.ReplaceAllString(line, ""), " a") }
	if strings.Index(ansiPattern.ReplaceAllString(lines[3], ""), " b") != col(lines[2]) {
		t.Errorf("columns misaligned:\n%s", buf.String())
	}
	if !strings.Contains(lines[2], "\x1b[31m") {
		t.Errorf("expected debit in red, got %q", lines[2])
	}
}

func TestFormatHelpers(t *testing.T) {
	delta := -0.4567
	if got := FormatDelta(&delta); got != "-0.457" {
		t.Errorf("FormatDelta = %s", got)
	}
	if got := FormatDelta(nil); got != "-" {
		t.Errorf("FormatDelta(nil) = %s", got)
	}
	if got := FormatBidAsk(0, 1.5); got != "- / 1.50" {
		t.Errorf("FormatBidAsk = %s", got)
	}
	if got := FormatStrikes([]float64{4000, 4012.5}); got != "4000 4012.5" {
		t.Errorf("FormatStrikes = %s", got)
	}
}

func TestRenderPayoffChart(t *testing.T) {
	legs := []models.Leg{{Expiration: mar20, Strike: 4000, Right: models.Call, Action: models.Buy, Multiplier: 1}}
	points := pricing.PayoffCurve(legs, 10, 3900, 4100, 80)

	lines := renderPayoffChart(points)
	if len(lines) != chartHeight+2 {
		t.Fatalf("expected %d lines, got %d", chartHeight+2, len(lines))
	}
	stars := 0
	for _, line := range lines[:chartHeight] {
		stars += strings.Count(line, "*")
	}
	if stars == 0 {
		t.Error("expected the curve to be plotted")
	}
	if !strings.Contains(lines[len(lines)-1], "3900") || !strings.Contains(lines[len(lines)-1], "4100") {
		t.Errorf("expected axis labels, got %q", lines[len(lines)-1])
	}

	if got := renderPayoffChart(points[:1]); len(got) != 1 {
		t.Errorf("expected a single message for one point, got %v", got)
	}
}

func TestProperty_PayoffChartShape(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("chart has fixed height and width bounded by the sample count", prop.ForAll(
		func(steps int, strike float64, cost float64) bool {
			legs := []models.Leg{{Expiration: mar20, Strike: strike, Right: models.Put, Action: models.Sell, Multiplier: 1}}
			points := pricing.PayoffCurve(legs, cost, strike-200, strike+200, steps)
			lines := renderPayoffChart(points)
			if len(lines) != chartHeight+2 {
				return false
			}
			width := len(points)
			if width > chartWidth {
				width = chartWidth
			}
			for _, line := range lines[:chartHeight] {
				if len([]rune(line)) != 2+9+2+width {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 200),
		gen.Float64Range(1000, 6000),
		gen.Float64Range(-50, 50),
	))

	properties.TestingRun(t)
}
