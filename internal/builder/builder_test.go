package builder

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
	"spxopt/internal/supplier"
)

var march = civil.Date{Year: 2026, Month: time.March, Day: 20}

func leg(strike float64, right models.Right, action models.Action, n int) models.Leg {
	return models.Leg{Expiration: march, Strike: strike, Right: right, Action: action, Multiplier: n}
}

func fixture() *supplier.Static {
	delta := 0.52
	return supplier.NewStatic("fixture",
		models.Quote{Expiration: march, Strike: 4000, Right: models.Call, Bid: 10, Ask: 11, Delta: &delta},
		models.Quote{Expiration: march, Strike: 4100, Right: models.Call, Bid: 8, Ask: 9},
	)
}

func TestResolve_CallSpread(t *testing.T) {
	legs := []models.Leg{
		leg(4000, models.Call, models.Buy, 1),
		leg(4100, models.Call, models.Sell, 1),
	}

	res, err := Resolve(context.Background(), legs, fixture())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Lazy != 3.0 || res.Smart != 2.0 {
		t.Errorf("expected lazy 3.0 / smart 2.0, got %v / %v", res.Lazy, res.Smart)
	}
	if res.Resolved[0].Delta == nil || *res.Resolved[0].Delta != 0.52 {
		t.Errorf("expected delta on first leg, got %v", res.Resolved[0].Delta)
	}
	if res.Resolved[1].Delta != nil {
		t.Errorf("expected no delta on second leg")
	}
	if !res.Matches(legs) {
		t.Error("result should match the legs it was computed for")
	}
}

func TestResolve_UnmatchedLegIsPlaceholder(t *testing.T) {
	legs := []models.Leg{
		leg(4200, models.Put, models.Buy, 2),
		leg(4000, models.Call, models.Buy, 1),
	}

	res, err := Resolve(context.Background(), legs, fixture())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got := res.Resolved[0]
	if got.Leg != legs[0] || got.Bid != 0 || got.Ask != 0 || got.Delta != nil {
		t.Errorf("expected (leg, 0, 0, nil), got %+v", got)
	}
	if res.Resolved[1].Ask != 11 {
		t.Errorf("matched leg lost its quote: %+v", res.Resolved[1])
	}
}

func TestResolve_Empty(t *testing.T) {
	res, err := Resolve(context.Background(), nil, failingSource{errors.New("unused")})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Resolved) != 0 || res.Lazy != 0 || res.Smart != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

type failingSource struct{ err error }

func (f failingSource) Expirations(context.Context) ([]civil.Date, error) { return nil, f.err }
func (f failingSource) Chain(context.Context, civil.Date) ([]models.Quote, error) {
	return nil, f.err
}

func TestResolve_PropagatesSourceError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := Resolve(context.Background(), []models.Leg{leg(4000, models.Call, models.Buy, 1)}, failingSource{boom})
	if !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
}

// batchingSource implements direct lookup and records each request.
type batchingSource struct {
	*supplier.Static
	requests [][]models.ContractKey
}

func (b *batchingSource) QuotesForContracts(ctx context.Context, keys []models.ContractKey) ([]models.Quote, error) {
	b.requests = append(b.requests, keys)
	return supplier.WithContractLookup(b.Static).QuotesForContracts(ctx, keys)
}

func TestResolve_SingleBatchedRequest(t *testing.T) {
	src := &batchingSource{Static: fixture()}
	legs := []models.Leg{
		leg(4000, models.Call, models.Buy, 1),
		leg(4100, models.Call, models.Sell, 1),
		{Strike: 4200, Right: models.Call, Action: models.Buy, Multiplier: 1},
	}

	res, err := Resolve(context.Background(), legs, src)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(src.requests) != 1 || len(src.requests[0]) != 2 {
		t.Fatalf("expected one request for two contracts, got %v", src.requests)
	}
	if res.Resolved[2].Bid != 0 || res.Resolved[2].Ask != 0 {
		t.Errorf("leg without expiration should be a placeholder: %+v", res.Resolved[2])
	}
}

func TestResult_MatchesDetectsStaleLegs(t *testing.T) {
	legs := []models.Leg{leg(4000, models.Call, models.Buy, 1)}
	res, err := Resolve(context.Background(), legs, fixture())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	changed := []models.Leg{leg(4000, models.Call, models.Buy, 2)}
	if res.Matches(changed) {
		t.Error("result should not match legs with a different multiplier")
	}
	if res.Matches(append(legs, leg(4100, models.Call, models.Sell, 1))) {
		t.Error("result should not match a longer leg list")
	}
}
