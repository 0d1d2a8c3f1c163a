// Package models provides domain models for option legs, contracts and quotes.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	apperrors "spxopt/internal/errors"
)

// Right represents the Call or Put designator of an option contract.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// ParseRight parses a right token such as "C", "call", "P" or "Put".
func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return Call, nil
	case "P", "PUT":
		return Put, nil
	}
	return "", apperrors.NewValidationError("right", s, "must be C/Call or P/Put")
}

// IsCall returns true for calls.
func (r Right) IsCall() bool {
	return r == Call
}

// Name returns the display name of the right.
func (r Right) Name() string {
	if r == Call {
		return "Call"
	}
	return "Put"
}

// Action represents whether a leg is bought (debit) or sold (credit).
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// ParseAction parses an action token such as "buy", "B", "SELL" or "s".
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "B", "BUY":
		return Buy, nil
	case "S", "SELL":
		return Sell, nil
	}
	return "", apperrors.NewValidationError("action", s, "must be Buy or Sell")
}

// Sign returns +1 for Buy and -1 for Sell.
func (a Action) Sign() int {
	if a == Sell {
		return -1
	}
	return 1
}

// ContractKey identifies an option contract: two legs with the same key are the
// same contract regardless of action and multiplier.
type ContractKey struct {
	Expiration civil.Date
	Strike     float64
	Right      Right
}

func (k ContractKey) String() string {
	return fmt.Sprintf("%s %s%s", k.Expiration, FormatStrike(k.Strike), k.Right)
}

// Leg is one option contract position. Legs are values; build them with NewLeg or ParseLeg.
type Leg struct {
	Expiration civil.Date `json:"expiration"`
	Strike     float64    `json:"strike"`
	Right      Right      `json:"right"`
	Action     Action     `json:"action"`
	Multiplier int        `json:"multiplier"`
}

// NewLeg validates its inputs and returns a Leg.
func NewLeg(expiration civil.Date, strike float64, right Right, action Action, multiplier int) (Leg, error) {
	if !expiration.IsValid() {
		return Leg{}, apperrors.NewValidationError("expiration", expiration, "invalid calendar date")
	}
	if math.IsNaN(strike) || math.IsInf(strike, 0) || strike <= 0 {
		return Leg{}, apperrors.NewValidationError("strike", strike, "must be a positive number")
	}
	if right != Call && right != Put {
		return Leg{}, apperrors.NewValidationError("right", right, "must be C or P")
	}
	if action != Buy && action != Sell {
		return Leg{}, apperrors.NewValidationError("action", action, "must be BUY or SELL")
	}
	if multiplier < 1 {
		return Leg{}, apperrors.NewValidationError("multiplier", multiplier, "must be a positive integer")
	}
	return Leg{
		Expiration: expiration,
		Strike:     strike,
		Right:      right,
		Action:     action,
		Multiplier: multiplier,
	}, nil
}

// ParseLeg parses a leg from text.
//
// Accepted forms (fields separated by spaces or commas):
//
//	buy 4000 C 2026-03-20
//	sell 2 4100 put 2026-03-20
//	b 1 4000C 2026-03-20
func ParseLeg(text string) (Leg, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) < 3 {
		return Leg{}, apperrors.NewValidationError("leg", text, "expected: ACTION [COUNT] STRIKE[RIGHT] [RIGHT] EXPIRATION")
	}

	action, err := ParseAction(fields[0])
	if err != nil {
		return Leg{}, err
	}
	rest := fields[1:]

	// Expiration is always last.
	expStr := rest[len(rest)-1]
	expiration, err := civil.ParseDate(expStr)
	if err != nil {
		return Leg{}, apperrors.NewValidationError("expiration", expStr, "expected YYYY-MM-DD")
	}
	rest = rest[:len(rest)-1]

	// A count is present when three fields remain (2 4000 C) or when two remain
	// and the second is not a right token (2 4000C).
	multiplier := 1
	_, rightErr := ParseRight(rest[len(rest)-1])
	if len(rest) == 3 || (len(rest) == 2 && rightErr != nil) {
		n, convErr := strconv.Atoi(rest[0])
		if convErr != nil {
			return Leg{}, apperrors.NewValidationError("multiplier", rest[0], "not an integer")
		}
		multiplier = n
		rest = rest[1:]
	}

	var strikeStr, rightStr string
	switch len(rest) {
	case 1:
		// Combined form: 4000C
		token := rest[0]
		if len(token) < 2 {
			return Leg{}, apperrors.NewValidationError("strike", token, "missing right")
		}
		strikeStr, rightStr = token[:len(token)-1], token[len(token)-1:]
	case 2:
		strikeStr, rightStr = rest[0], rest[1]
	default:
		return Leg{}, apperrors.NewValidationError("leg", text, "unexpected number of fields")
	}

	strike, err := strconv.ParseFloat(strikeStr, 64)
	if err != nil {
		return Leg{}, apperrors.NewValidationError("strike", strikeStr, "not a number")
	}
	right, err := ParseRight(rightStr)
	if err != nil {
		return Leg{}, err
	}

	return NewLeg(expiration, strike, right, action, multiplier)
}

// Key returns the contract key of the leg.
func (l Leg) Key() ContractKey {
	return ContractKey{Expiration: l.Expiration, Strike: l.Strike, Right: l.Right}
}

// IsCall returns true if the leg is a call.
func (l Leg) IsCall() bool {
	return l.Right == Call
}

// IsBuy returns true if the leg is bought.
func (l Leg) IsBuy() bool {
	return l.Action == Buy
}

// SignedContracts returns +multiplier for Buy and -multiplier for Sell.
func (l Leg) SignedContracts() int {
	return l.Action.Sign() * l.Multiplier
}

// String renders the leg in the form accepted by ParseLeg.
func (l Leg) String() string {
	return fmt.Sprintf("%s %d %s %s %s", strings.ToLower(string(l.Action)), l.Multiplier, FormatStrike(l.Strike), l.Right, l.Expiration)
}

// LegFromSigned builds the leg holding a net signed contract count on key.
// The second return value is false when the count is zero (flat).
func LegFromSigned(key ContractKey, contracts int) (Leg, bool) {
	if contracts == 0 {
		return Leg{}, false
	}
	action := Buy
	if contracts < 0 {
		action = Sell
		contracts = -contracts
	}
	return Leg{
		Expiration: key.Expiration,
		Strike:     key.Strike,
		Right:      key.Right,
		Action:     action,
		Multiplier: contracts,
	}, true
}

// FormatStrike formats a strike without trailing zeros (4000, 4012.5).
func FormatStrike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}
