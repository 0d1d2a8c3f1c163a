package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"spxopt/internal/models"
	"spxopt/pkg/utils"
)

var (
	mar20 = civil.Date{Year: 2026, Month: time.March, Day: 20}
	apr17 = civil.Date{Year: 2026, Month: time.April, Day: 17}
)

type fakeMarketData struct {
	snaps         map[string]marketdata.OptionSnapshot
	chainReqs     []marketdata.GetOptionChainRequest
	snapshotCalls [][]string
	err           error
}

func (f *fakeMarketData) GetOptionChain(underlying string, req marketdata.GetOptionChainRequest) (map[string]marketdata.OptionSnapshot, error) {
	f.chainReqs = append(f.chainReqs, req)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]marketdata.OptionSnapshot)
	for sym, snap := range f.snaps {
		_, key, err := ParseOCCSymbol(sym)
		if err != nil {
			continue
		}
		if req.ExpirationDate != (civil.Date{}) && key.Expiration != req.ExpirationDate {
			continue
		}
		out[sym] = snap
	}
	return out, nil
}

func (f *fakeMarketData) GetOptionSnapshots(symbols []string, req marketdata.GetOptionSnapshotRequest) (map[string]marketdata.OptionSnapshot, error) {
	f.snapshotCalls = append(f.snapshotCalls, symbols)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]marketdata.OptionSnapshot)
	for _, sym := range symbols {
		if snap, ok := f.snaps[sym]; ok {
			out[sym] = snap
		}
	}
	return out, nil
}

func snapshot(bid, ask, last float64, delta *float64) marketdata.OptionSnapshot {
	s := marketdata.OptionSnapshot{
		LatestQuote: &marketdata.OptionQuote{BidPrice: bid, AskPrice: ask},
		LatestTrade: &marketdata.OptionTrade{Price: last},
	}
	if delta != nil {
		s.Greeks = &marketdata.OptionGreeks{Delta: *delta}
	}
	return s
}

func newTestSupplier(fake *fakeMarketData) *Supplier {
	s := New(Config{
		Symbol:     "SPX",
		RootSymbol: "SPXW",
		Feed:       "indicative",
		Retry:      utils.RetryConfig{MaxAttempts: 1},
	}, WithClient(fake))
	s.today = func() civil.Date { return civil.Date{Year: 2026, Month: time.March, Day: 16} }
	return s
}

func TestOCCSymbol(t *testing.T) {
	key := models.ContractKey{Expiration: mar20, Strike: 4012.5, Right: models.Put}
	sym := OCCSymbol("SPXW", key)
	if sym != "SPXW260320P04012500" {
		t.Fatalf("unexpected symbol %s", sym)
	}
	root, got, err := ParseOCCSymbol(sym)
	if err != nil || root != "SPXW" || got != key {
		t.Errorf("round trip failed: %s %+v %v", root, got, err)
	}

	for _, bad := range []string{"SPX", "SPXW26032XC04000000", "SPXW260320X04000000", "SPXW261320C04000000"} {
		if _, _, err := ParseOCCSymbol(bad); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestProperty_OCCSymbolRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("parse inverts format for whole and half strikes", prop.ForAll(
		func(halfStrikes int, put bool, dayOffset int) bool {
			right := models.Call
			if put {
				right = models.Put
			}
			key := models.ContractKey{
				Expiration: mar20.AddDays(dayOffset),
				Strike:     float64(halfStrikes) / 2,
				Right:      right,
			}
			_, got, err := ParseOCCSymbol(OCCSymbol("SPX", key))
			return err == nil && got == key
		},
		gen.IntRange(1, 20000),
		gen.Bool(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestExpirationsAndChain(t *testing.T) {
	delta := 0.5
	fake := &fakeMarketData{snaps: map[string]marketdata.OptionSnapshot{
		"SPXW260320C04000000": snapshot(10, 11, 10.5, &delta),
		"SPXW260320P04000000": snapshot(-1, 6, 5.5, nil),
		"SPXW260320C03900000": snapshot(100, 101, 100, nil),
		"SPX260417C04000000":  snapshot(20, 21, 20.5, nil),
	}}
	s := newTestSupplier(fake)
	ctx := context.Background()

	exps, err := s.Expirations(ctx)
	if err != nil {
		t.Fatalf("Expirations: %v", err)
	}
	if len(exps) != 2 || exps[0] != mar20 || exps[1] != apr17 {
		t.Errorf("expected [%s %s], got %v", mar20, apr17, exps)
	}
	if got := fake.chainReqs[0].ExpirationDateGte; got != s.today() {
		t.Errorf("expected expirations from today, got %s", got)
	}

	chain, err := s.Chain(ctx, mar20)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 quotes, got %+v", chain)
	}
	if chain[0].Strike != 3900 || chain[1].Strike != 4000 || chain[2].Right != models.Put {
		t.Errorf("expected calls by strike then puts, got %+v", chain)
	}
	if chain[1].Delta == nil || *chain[1].Delta != 0.5 {
		t.Errorf("expected delta on 4000C, got %v", chain[1].Delta)
	}
	if chain[2].Bid != 0 {
		t.Errorf("expected negative bid sanitized, got %v", chain[2].Bid)
	}
}

func TestQuotesForContracts(t *testing.T) {
	fake := &fakeMarketData{snaps: map[string]marketdata.OptionSnapshot{
		"SPXW260320C04000000": snapshot(10, 11, 10.5, nil),
		"SPX260417C04000000":  snapshot(20, 21, 20.5, nil),
	}}
	s := newTestSupplier(fake)

	keys := []models.ContractKey{
		{Expiration: mar20, Strike: 4000, Right: models.Call},
		{Expiration: apr17, Strike: 4000, Right: models.Call},
		{Expiration: mar20, Strike: 4500, Right: models.Put},
	}
	quotes, err := s.QuotesForContracts(context.Background(), keys)
	if err != nil {
		t.Fatalf("QuotesForContracts: %v", err)
	}
	if len(fake.snapshotCalls) != 1 {
		t.Errorf("expected one batched request, got %d", len(fake.snapshotCalls))
	}
	if quotes[0].Bid != 10 || quotes[1].Bid != 20 {
		t.Errorf("expected both roots resolved, got %+v", quotes)
	}
	if quotes[2].Strike != 4500 || quotes[2].Bid != 0 || quotes[2].Ask != 0 {
		t.Errorf("expected placeholder, got %+v", quotes[2])
	}
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("forbidden")
	s := newTestSupplier(&fakeMarketData{err: boom})

	if _, err := s.Chain(context.Background(), mar20); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if _, err := s.QuotesForContracts(context.Background(), []models.ContractKey{{Expiration: mar20, Strike: 4000, Right: models.Call}}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
