package guard

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/intent"
)

// AdjustRequest is one proposed change to a symbol's exposure
type AdjustRequest struct {
	Symbol      string
	Kind        intent.Kind
	Confidence  float64
	Price       float64
	CurrentSize float64 // base-asset size currently held, 0 when flat
	DeltaSize   float64 // absolute size the request would add or remove
	PnLPct      float64 // current unrealized PnL percent
	HasPosition bool
}

// AdjustState tracks the per-symbol throttle bookkeeping
type AdjustState struct {
	LastAt    time.Time   `json:"last_at"`
	LastPrice float64     `json:"last_price"`
	LastKind  intent.Kind `json:"last_kind"`
	LastSize  float64     `json:"last_size"`
	Daily     int         `json:"daily"`
	ResetDate string      `json:"reset_date"`
}

// AdjustGuard throttles position adjustments per symbol (layer B)
type AdjustGuard struct {
	mu  sync.Mutex
	cfg config.AdjustGuardConfig
	log zerolog.Logger
	now func() time.Time

	states map[string]*AdjustState
}

// NewAdjustGuard creates an adjustment throttle with the given limits
func NewAdjustGuard(cfg config.AdjustGuardConfig, log zerolog.Logger) *AdjustGuard {
	return &AdjustGuard{
		cfg:    cfg,
		log:    log.With().Str("component", "adjust_guard").Logger(),
		now:    time.Now,
		states: make(map[string]*AdjustState),
	}
}

func (g *AdjustGuard) stateLocked(symbol string, now time.Time) *AdjustState {
	st, ok := g.states[symbol]
	if !ok {
		st = &AdjustState{}
		g.states[symbol] = st
	}
	day := now.UTC().Format("2006-01-02")
	if st.ResetDate != day {
		st.ResetDate = day
		st.Daily = 0
	}
	return st
}

// Check evaluates one adjustment request against the throttle. It does
// not record anything; call Record after the adjustment is applied.
func (g *AdjustGuard) Check(req AdjustRequest) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.stateLocked(req.Symbol, now)

	switch req.Kind {
	case intent.KindOpen:
		if req.HasPosition {
			return false, "position already open"
		}
		if req.Confidence < g.cfg.MinConfidenceOpen {
			return false, fmt.Sprintf("open confidence %.2f below %.2f", req.Confidence, g.cfg.MinConfidenceOpen)
		}
		return true, ""

	case intent.KindClose:
		// emergencies always go through; otherwise a modest bar
		if req.PnLPct <= g.cfg.EmergencyPnLThreshold {
			return true, ""
		}
		if req.Confidence < g.cfg.MinConfidenceClose {
			return false, fmt.Sprintf("close confidence %.2f below %.2f", req.Confidence, g.cfg.MinConfidenceClose)
		}
		return true, ""

	case intent.KindIncrease, intent.KindDecrease:
		if !req.HasPosition {
			return false, "no position to adjust"
		}
		if req.Confidence < g.cfg.MinConfidenceAdjust {
			return false, fmt.Sprintf("adjust confidence %.2f below %.2f", req.Confidence, g.cfg.MinConfidenceAdjust)
		}
		if st.Daily >= g.cfg.MaxAdjustmentsPerDay {
			return false, fmt.Sprintf("daily adjustment cap reached (%d/%d)", st.Daily, g.cfg.MaxAdjustmentsPerDay)
		}

		if !st.LastAt.IsZero() {
			// reversal guard runs before the elapsed-time check so an
			// emergency flip is not misreported as "too soon"
			if st.LastKind.Adjustment() && st.LastKind != req.Kind {
				sinceReverse := now.Sub(st.LastAt)
				if sinceReverse < time.Duration(g.cfg.MinSecondsToReverse)*time.Second &&
					req.PnLPct > g.cfg.EmergencyPnLThreshold {
					return false, fmt.Sprintf("direction reversal within %ds blocked", g.cfg.MinSecondsToReverse)
				}
				if sinceReverse < time.Duration(g.cfg.MinSecondsToReverse)*time.Second {
					// emergency reversal approved, skip the pacing checks
					return true, ""
				}
			}

			elapsed := now.Sub(st.LastAt)
			if elapsed < time.Duration(g.cfg.MinSecondsBetween)*time.Second {
				return false, fmt.Sprintf("only %.0fs since last adjustment (min %ds)", elapsed.Seconds(), g.cfg.MinSecondsBetween)
			}
			if st.LastPrice > 0 {
				movePct := math.Abs(req.Price-st.LastPrice) / st.LastPrice * 100
				if movePct < g.cfg.MinPriceMovePct {
					return false, fmt.Sprintf("price moved %.2f%% since last adjustment (min %.2f%%)", movePct, g.cfg.MinPriceMovePct)
				}
			}
		}

		if req.CurrentSize > 0 {
			ratio := req.DeltaSize / req.CurrentSize
			if ratio < g.cfg.MinChangeRatio {
				return false, fmt.Sprintf("size change %.0f%% below minimum %.0f%%", ratio*100, g.cfg.MinChangeRatio*100)
			}
		}
		if notional := req.DeltaSize * req.Price; notional < g.cfg.MinNotionalChange {
			return false, fmt.Sprintf("adjustment notional %.2f below minimum %.2f", notional, g.cfg.MinNotionalChange)
		}
		return true, ""

	case intent.KindManage, intent.KindHold:
		return true, ""
	}
	return false, fmt.Sprintf("unknown adjustment kind %q", req.Kind)
}

// Record commits an applied adjustment to the per-symbol state
func (g *AdjustGuard) Record(req AdjustRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.stateLocked(req.Symbol, now)
	st.LastAt = now
	st.LastPrice = req.Price
	st.LastKind = req.Kind
	st.LastSize = req.DeltaSize
	if req.Kind.Adjustment() {
		st.Daily++
	}
}

// Status returns a copy of the per-symbol throttle state
func (g *AdjustGuard) Status() map[string]AdjustState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]AdjustState, len(g.states))
	for k, v := range g.states {
		out[k] = *v
	}
	return out
}
