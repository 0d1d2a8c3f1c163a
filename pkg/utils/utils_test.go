package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestRetryWithResult_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := RetryConfig{
		MaxAttempts:   4,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
		OnRetry:       func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}

	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d (%v)", got, err)
	}
	if calls != 3 || len(retried) != 2 || retried[1] != 2 {
		t.Errorf("unexpected retries: calls=%d retried=%v", calls, retried)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(bad)
	})
	if !errors.Is(err, bad) || IsPermanent(err) {
		t.Errorf("expected the unwrapped error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("expected cancellation after one call, got %v (%d calls)", err, calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	if got := CalculateBackoff(3, 100*time.Millisecond, time.Second, 2); got != 800*time.Millisecond {
		t.Errorf("expected 800ms, got %v", got)
	}
	if got := CalculateBackoff(10, 100*time.Millisecond, time.Second, 2); got != time.Second {
		t.Errorf("expected cap at 1s, got %v", got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatUSD(1234567.891), "$1,234,567.89"},
		{FormatUSD(-950), "-$950.00"},
		{FormatUSD(100000), "$100,000.00"},
		{FormatPnL(45), "+$45.00"},
		{FormatDebitCredit(3), "3.00 debit"},
		{FormatDebitCredit(-1.25), "1.25 credit"},
		{FormatDebitCredit(0), "0.00"},
		{FormatQuantity(-12345), "-12,345"},
		{FormatPrice(0), "-"},
		{FormatPercent(2.5), "+2.50%"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.got)
		}
	}
}

func TestMarketStatusAt(t *testing.T) {
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, time.March, day, hour, minute, 0, 0, NewYork)
	}
	tests := []struct {
		t    time.Time
		want MarketStatus
	}{
		{at(20, 10, 0), MarketOpen},    // Friday
		{at(20, 9, 0), MarketPreOpen},  // Friday pre-open
		{at(20, 16, 30), MarketClosed}, // after close
		{at(21, 11, 0), MarketClosed},  // Saturday
	}
	for _, tt := range tests {
		if got := MarketStatusAt(tt.t); got != tt.want {
			t.Errorf("%v: expected %s, got %s", tt.t, tt.want, got)
		}
	}
}

func TestTradingDate_UsesNewYork(t *testing.T) {
	// 02:00 UTC on the 21st is still the 20th in New York.
	ts := time.Date(2026, time.March, 21, 2, 0, 0, 0, time.UTC)
	want := civil.Date{Year: 2026, Month: time.March, Day: 20}
	if got := TradingDate(ts); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
