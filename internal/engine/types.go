package engine

import (
	"context"
	"time"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/gate"
	"trade-lifecycle-engine/internal/intent"
	"trade-lifecycle-engine/internal/ledger"
	"trade-lifecycle-engine/internal/market"
	"trade-lifecycle-engine/internal/risk"
)

// OpenOrderSpec is the fully sized order an approved open decision
// produces. The caller executes it and reports the fill back through
// ConfirmOpen; nothing enters the ledger before that.
type OpenOrderSpec struct {
	DecisionID      string         `json:"decision_id"`
	Symbol          string         `json:"symbol"`
	Side            market.Side    `json:"side"`
	Style           intent.Style   `json:"style"`
	EntryPrice      float64        `json:"entry_price"` // reference price at sizing time
	Size            float64        `json:"size"`
	Notional        float64        `json:"notional"`
	Leverage        float64        `json:"leverage"`
	StopLossPrice   float64        `json:"stop_loss_price"`
	TakeProfitPrice float64        `json:"take_profit_price,omitempty"`
	Profile         ledger.Profile `json:"profile"`
	RiskAmountUSD   float64        `json:"risk_amount_usd"`
}

// Decision is the engine's verdict on one intent, with its audit trail
type Decision struct {
	ID          string         `json:"id"`
	Kind        intent.Kind    `json:"kind"`
	Symbol      string         `json:"symbol"`
	Mode        config.Mode    `json:"mode"`
	Approved    bool           `json:"approved"`
	Reason      string         `json:"reason,omitempty"`
	Gate        *gate.Result   `json:"gate,omitempty"`
	Sizing      *risk.Sizing   `json:"sizing,omitempty"`
	OpenSpec    *OpenOrderSpec `json:"open_spec,omitempty"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// ActionExecutor applies advisory actions and closes against the
// outside world (exchange adapter, paper simulator, test double). The
// engine commits ledger mutations only after an executor call returns
// nil.
type ActionExecutor interface {
	ApplyAction(ctx context.Context, action ledger.Action) error
	ClosePosition(ctx context.Context, symbol string, price float64) error
}

// profileMode maps an intent risk profile onto the mode tables
func profileMode(p intent.Profile) config.Mode {
	switch p {
	case intent.ProfileConservative:
		return config.ModeConservative
	case intent.ProfileAggressive:
		return config.ModeAggressive
	default:
		return config.ModeBalanced
	}
}
