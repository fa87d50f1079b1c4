// Package ledger holds the engine's in-memory book of open positions.
// Positions move through a small state machine and are mutated only
// when a caller confirms an action was applied externally; everything
// the lifecycle scheduler produces is advisory until then.
package ledger

import (
	"math"
	"time"

	"trade-lifecycle-engine/internal/market"
)

// TradeState is the lifecycle state of a position
type TradeState string

const (
	StateInit            TradeState = "INIT"
	StateScalpActive     TradeState = "SCALP_ACTIVE"
	StatePromotedToSwing TradeState = "PROMOTED_TO_SWING"
	StateClosed          TradeState = "CLOSED"
)

// Profile controls which lifecycle paths a position may take
type Profile string

const (
	ProfileScalpOnly       Profile = "SCALP_ONLY"
	ProfileScalpCanPromote Profile = "SCALP_CAN_PROMOTE"
	ProfileSwing           Profile = "SWING"
)

// ExitSignal is the result of checking a position against current price
type ExitSignal string

const (
	ExitNone       ExitSignal = ""
	ExitStopLoss   ExitSignal = "stop_loss"
	ExitTakeProfit ExitSignal = "take_profit"
)

// Position is one tracked position. InitialStopPrice is frozen at
// creation and defines the R unit; it never changes even as the working
// stop trails.
type Position struct {
	Symbol           string      `json:"symbol"`
	Side             market.Side `json:"side"`
	EntryPrice       float64     `json:"entry_price"`
	Size             float64     `json:"size"`
	Leverage         float64     `json:"leverage"`
	StopLossPrice    float64     `json:"stop_loss_price"`
	TakeProfitPrice  float64     `json:"take_profit_price,omitempty"` // 0 = none
	InitialStopPrice float64     `json:"initial_stop_price"`

	State          TradeState `json:"state"`
	Profile        Profile    `json:"profile"`
	LockedInProfit bool       `json:"locked_in_profit"`
	SecondTrimDone bool       `json:"second_trim_done,omitempty"`
	OpenedAt       time.Time  `json:"opened_at"`
	PyramidAdds    int        `json:"pyramid_adds"`
	LastTrailR     float64    `json:"last_trail_r"`

	Meta map[string]string `json:"meta,omitempty"`
}

// RUnit returns the per-unit risk distance frozen at creation
func (p *Position) RUnit() float64 {
	return math.Abs(p.EntryPrice - p.InitialStopPrice)
}

// CurrentR returns the position's profit in R multiples at the given
// price. Zero at entry, positive in the direction of the trade.
func (p *Position) CurrentR(price float64) float64 {
	unit := p.RUnit()
	if unit == 0 {
		return 0
	}
	move := price - p.EntryPrice
	if p.Side == market.SideShort {
		move = -move
	}
	return move / unit
}

// UnrealizedPnLPct returns the unleveraged price move percentage in the
// position's favor
func (p *Position) UnrealizedPnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == market.SideShort {
		move = -move
	}
	return move
}

// Notional returns the current position value at the given price
func (p *Position) Notional(price float64) float64 {
	return p.Size * price
}

// CheckExit reports whether price has crossed the working stop or the
// take profit. Promoted positions run on the trailing stop alone and
// ignore the fixed take profit.
func (p *Position) CheckExit(price float64) ExitSignal {
	if p.State == StateClosed {
		return ExitNone
	}

	if p.Side == market.SideLong {
		if p.StopLossPrice > 0 && price <= p.StopLossPrice {
			return ExitStopLoss
		}
		if p.State != StatePromotedToSwing && p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice {
			return ExitTakeProfit
		}
	} else {
		if p.StopLossPrice > 0 && price >= p.StopLossPrice {
			return ExitStopLoss
		}
		if p.State != StatePromotedToSwing && p.TakeProfitPrice > 0 && price <= p.TakeProfitPrice {
			return ExitTakeProfit
		}
	}
	return ExitNone
}

// stopImproves reports whether candidate protects more profit than the
// current working stop
func (p *Position) stopImproves(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.Side == market.SideLong {
		return candidate > p.StopLossPrice
	}
	return p.StopLossPrice == 0 || candidate < p.StopLossPrice
}

// clone returns a copy safe to hand to callers
func (p *Position) clone() *Position {
	cp := *p
	if p.Meta != nil {
		cp.Meta = make(map[string]string, len(p.Meta))
		for k, v := range p.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}
