package entities

import (
	"errors"
	"strings"
)

// Urgency is the coarse priority tier a task creator picks. Each tier adds a
// flat fee to the price, never a multiplier.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

var ErrUnknownUrgency = errors.New("unknown urgency tier")

// ParseUrgency normalizes (lowercases and trims) an urgency string.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", ErrUnknownUrgency
	}
	return u, nil
}

// Valid reports whether u is one of the known tiers.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	default:
		return false
	}
}

// PriceBreakdown is the itemized price of one task. It is recomputed on
// demand and never persisted by the pricing engine.
//
// All monetary fields are rounded to the cent and non-negative, and
// Total equals BasePrice+DistanceFee+UrgencyFee+ServiceFee.
type PriceBreakdown struct {
	BasePrice               float64 `json:"base_price"`
	DistanceFee             float64 `json:"distance_fee"`
	UrgencyFee              float64 `json:"urgency_fee"`
	ServiceFee              float64 `json:"service_fee"`
	Total                   float64 `json:"total"`
	DistanceMiles           float64 `json:"distance_miles"`
	DistanceRatePerHalfMile float64 `json:"distance_rate_per_half_mile"`
	ServiceFeePercent       float64 `json:"service_fee_percent"`
}

// IsZero reports whether the breakdown is the "free" breakdown.
func (p PriceBreakdown) IsZero() bool {
	return p == PriceBreakdown{}
}
