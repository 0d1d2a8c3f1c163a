package utils

import (
	"time"

	"cloud.google.com/go/civil"
)

// NewYork is the timezone US index options trade and expire in.
var NewYork *time.Location

func init() {
	var err error
	NewYork, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to EST without daylight saving
		NewYork = time.FixedZone("EST", -5*60*60)
	}
}

// MarketStatus represents the regular-session state of the US options market.
type MarketStatus string

const (
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketOpen    MarketStatus = "OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// MarketStatusAt returns the market status at t. Holidays are not modelled.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(NewYork)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 4:00 - 9:30
	if timeMinutes >= 240 && timeMinutes < 570 {
		return MarketPreOpen
	}

	// Regular session for index options: 9:30 - 16:15
	if timeMinutes >= 570 && timeMinutes < 975 {
		return MarketOpen
	}

	return MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() MarketStatus {
	return MarketStatusAt(time.Now())
}

// TradingDate returns the New York calendar date of t. Expirations are
// compared against this date.
func TradingDate(t time.Time) civil.Date {
	return civil.DateOf(t.In(NewYork))
}

// Today returns the current New York calendar date.
func Today() civil.Date {
	return TradingDate(time.Now())
}
