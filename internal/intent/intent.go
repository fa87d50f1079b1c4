// Package intent defines the trade intent submitted to the engine and
// its boundary validation. Intents arrive from external strategy code
// (HTTP, tests, embedding callers); validation happens exactly once
// here so downstream components can trust the fields.
package intent

import (
	"fmt"
	"strings"

	"trade-lifecycle-engine/internal/market"
)

// Kind is the decision the caller wants evaluated
type Kind string

const (
	KindOpen     Kind = "open"
	KindClose    Kind = "close"
	KindIncrease Kind = "increase"
	KindDecrease Kind = "decrease"
	KindManage   Kind = "manage"
	KindHold     Kind = "hold"
)

// Valid reports whether the kind is known
func (k Kind) Valid() bool {
	switch k {
	case KindOpen, KindClose, KindIncrease, KindDecrease, KindManage, KindHold:
		return true
	}
	return false
}

// Adjustment reports whether the kind changes an existing position's size
func (k Kind) Adjustment() bool {
	return k == KindIncrease || k == KindDecrease
}

// Style is the intended holding style
type Style string

const (
	StyleScalp Style = "scalp"
	StyleSwing Style = "swing"
)

// Valid reports whether the style is known
func (s Style) Valid() bool {
	return s == StyleScalp || s == StyleSwing
}

// Profile is the risk personality an intent is evaluated under
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileBalanced     Profile = "balanced"
	ProfileAggressive   Profile = "aggressive"
)

// Valid reports whether the profile is known
func (p Profile) Valid() bool {
	return p == ProfileConservative || p == ProfileBalanced || p == ProfileAggressive
}

// ValidationError reports malformed input rejected at the boundary.
// Business rejections (gate, guard, governor) never use it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intent: %s: %s", e.Field, e.Reason)
}

// Intent is a single trade decision request. Exactly one of
// StopLossPrice/StopLossPct may be set (same for take profit); which one
// depends on what the strategy layer knows at emission time.
type Intent struct {
	Kind       Kind        `json:"kind"`
	Symbol     string      `json:"symbol"`
	Side       market.Side `json:"side"`
	Style      Style       `json:"style"`
	Profile    Profile     `json:"profile"`
	Confidence float64     `json:"confidence"` // 0..1

	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	StopLossPct     float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPrice float64 `json:"take_profit_price,omitempty"`
	TakeProfitPct   float64 `json:"take_profit_pct,omitempty"`

	// QuantityPct is the fraction of the current position an
	// increase/decrease applies to, in (0,1].
	QuantityPct float64 `json:"quantity_pct,omitempty"`

	Confluences []string `json:"confluences,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// Validate checks structural well-formedness. It does not consult market
// state or any limit; those are business decisions made downstream.
func (in *Intent) Validate() error {
	if !in.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", in.Kind)}
	}
	if strings.TrimSpace(in.Symbol) == "" {
		return &ValidationError{Field: "symbol", Reason: "empty"}
	}
	if in.Kind == KindHold {
		return nil
	}
	if !in.Side.Valid() {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", in.Side)}
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", in.Confidence)}
	}

	switch in.Kind {
	case KindOpen:
		if !in.Style.Valid() {
			return &ValidationError{Field: "style", Reason: fmt.Sprintf("unknown style %q", in.Style)}
		}
		if !in.Profile.Valid() {
			return &ValidationError{Field: "profile", Reason: fmt.Sprintf("unknown profile %q", in.Profile)}
		}
		if in.StopLossPrice < 0 || in.StopLossPct < 0 {
			return &ValidationError{Field: "stop_loss", Reason: "negative"}
		}
		if in.StopLossPrice == 0 && in.StopLossPct == 0 {
			return &ValidationError{Field: "stop_loss", Reason: "open intent requires a stop"}
		}
		if in.StopLossPrice > 0 && in.StopLossPct > 0 {
			return &ValidationError{Field: "stop_loss", Reason: "price and pct both set"}
		}
		if in.TakeProfitPrice > 0 && in.TakeProfitPct > 0 {
			return &ValidationError{Field: "take_profit", Reason: "price and pct both set"}
		}
		if in.TakeProfitPrice < 0 || in.TakeProfitPct < 0 {
			return &ValidationError{Field: "take_profit", Reason: "negative"}
		}
	case KindIncrease, KindDecrease:
		if in.QuantityPct <= 0 || in.QuantityPct > 1 {
			return &ValidationError{Field: "quantity_pct", Reason: fmt.Sprintf("%v outside (0,1]", in.QuantityPct)}
		}
	}
	return nil
}
