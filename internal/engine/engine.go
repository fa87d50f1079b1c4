// Package engine orchestrates one decision step per cycle: admission
// gate, risk sizing, overtrading guards, lifecycle management and
// ledger commits. All I/O stays behind the ActionExecutor and the
// event bus.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/events"
	"trade-lifecycle-engine/internal/gate"
	"trade-lifecycle-engine/internal/guard"
	"trade-lifecycle-engine/internal/intent"
	"trade-lifecycle-engine/internal/ledger"
	"trade-lifecycle-engine/internal/lifecycle"
	"trade-lifecycle-engine/internal/market"
	"trade-lifecycle-engine/internal/risk"
)

// Engine evaluates intents and manages open positions. A single mutex
// serializes decision steps; per-symbol work never interleaves.
type Engine struct {
	mu   sync.Mutex
	cfg  *config.Config
	mode config.Mode

	governor   *risk.Governor
	book       *ledger.Ledger
	gate       *gate.Gate
	scalpGuard *guard.ScalpGuard
	adjGuard   *guard.AdjustGuard
	schedulers map[config.Mode]*lifecycle.Scheduler

	exec ActionExecutor
	bus  *events.EventBus
	log  zerolog.Logger
}

// New wires an engine from its components
func New(cfg *config.Config, exec ActionExecutor, bus *events.EventBus, log zerolog.Logger) *Engine {
	schedulers := make(map[config.Mode]*lifecycle.Scheduler, len(cfg.Modes))
	for mode, mc := range cfg.Modes {
		schedulers[mode] = lifecycle.NewScheduler(mc.Management, log)
	}
	return &Engine{
		cfg:        cfg,
		mode:       cfg.Mode,
		governor:   risk.NewGovernor(cfg.Risk, log),
		book:       ledger.New(log),
		gate:       gate.New(cfg),
		scalpGuard: guard.NewScalpGuard(cfg.Scalp, log),
		adjGuard:   guard.NewAdjustGuard(cfg.Adjust, log),
		schedulers: schedulers,
		exec:       exec,
		bus:        bus,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// Governor exposes the risk governor for equity feeds and status
func (e *Engine) Governor() *risk.Governor { return e.governor }

// Ledger exposes the position book for status reads
func (e *Engine) Ledger() *ledger.Ledger { return e.book }

// ScalpGuard exposes layer A for state persistence
func (e *Engine) ScalpGuard() *guard.ScalpGuard { return e.scalpGuard }

// AdjustGuard exposes layer B for status reads
func (e *Engine) AdjustGuard() *guard.AdjustGuard { return e.adjGuard }

// Mode returns the active trading mode
func (e *Engine) Mode() config.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the active trading mode
func (e *Engine) SetMode(mode config.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()

	e.log.Info().Str("mode", string(mode)).Msg("trading mode changed")
	e.publish(events.EventModeChanged, map[string]interface{}{"mode": string(mode)})
	return nil
}

func (e *Engine) publish(t events.EventType, data map[string]interface{}) {
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: t, Data: data})
	}
}

// totalOpenRiskPct sums the open positions' distance-to-stop exposure
// as a percentage of equity.
func (e *Engine) totalOpenRiskPct() float64 {
	equity := e.governor.Snapshot().CurrentEquity
	if equity <= 0 {
		return 0
	}
	total := 0.0
	for _, pos := range e.book.List() {
		total += math.Abs(pos.EntryPrice-pos.StopLossPrice) * pos.Size / equity * 100
	}
	return total
}

func denied(d *Decision, reason string) *Decision {
	d.Approved = false
	d.Reason = reason
	return d
}

// EvaluateIntent runs one decision step for an intent. It returns an
// error only for malformed input; business rejections come back as a
// denied decision with the reason.
func (e *Engine) EvaluateIntent(in intent.Intent, ctx market.Context, intel market.Intelligence) (*Decision, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mode := e.mode
	if in.Kind == intent.KindOpen && in.Profile.Valid() {
		mode = profileMode(in.Profile)
	}

	d := &Decision{
		ID:          uuid.New().String(),
		Kind:        in.Kind,
		Symbol:      in.Symbol,
		Mode:        mode,
		EvaluatedAt: time.Now().UTC(),
	}
	defer func() {
		e.publish(events.EventDecisionEvaluated, map[string]interface{}{
			"decision_id": d.ID,
			"kind":        string(d.Kind),
			"symbol":      d.Symbol,
			"approved":    d.Approved,
			"reason":      d.Reason,
		})
	}()

	switch in.Kind {
	case intent.KindHold, intent.KindManage:
		d.Approved = true
		return d, nil

	case intent.KindOpen:
		return e.evaluateOpen(d, in, ctx, intel)

	case intent.KindClose:
		pos, ok := e.book.Get(in.Symbol)
		if !ok {
			return denied(d, "no tracked position"), nil
		}
		allowed, reason := e.adjGuard.Check(guard.AdjustRequest{
			Symbol: in.Symbol, Kind: in.Kind,
			Confidence: in.Confidence, Price: ctx.Price,
			CurrentSize: pos.Size, PnLPct: pos.UnrealizedPnLPct(ctx.Price),
			HasPosition: true,
		})
		if !allowed {
			return denied(d, reason), nil
		}
		d.Approved = true
		return d, nil

	case intent.KindIncrease, intent.KindDecrease:
		pos, ok := e.book.Get(in.Symbol)
		if !ok {
			return denied(d, "no tracked position"), nil
		}
		delta := pos.Size * in.QuantityPct
		allowed, reason := e.adjGuard.Check(guard.AdjustRequest{
			Symbol: in.Symbol, Kind: in.Kind,
			Confidence: in.Confidence, Price: ctx.Price,
			CurrentSize: pos.Size, DeltaSize: delta,
			PnLPct: pos.UnrealizedPnLPct(ctx.Price), HasPosition: true,
		})
		if !allowed {
			return denied(d, reason), nil
		}
		d.Approved = true
		return d, nil
	}
	return denied(d, fmt.Sprintf("unsupported kind %q", in.Kind)), nil
}

// evaluateOpen runs the open pipeline: gate, sizing, account limits,
// scalp guard, adjustment throttle. Callers hold the engine mutex.
func (e *Engine) evaluateOpen(d *Decision, in intent.Intent, ctx market.Context, intel market.Intelligence) (*Decision, error) {
	if ctx.Price <= 0 {
		return nil, fmt.Errorf("open %s: market price missing", in.Symbol)
	}
	if _, exists := e.book.Get(in.Symbol); exists {
		return denied(d, "position already tracked"), nil
	}

	res := e.gate.Evaluate(gate.Request{Mode: d.Mode, Intent: in, Ctx: ctx, Intel: intel})
	d.Gate = &res
	if !res.Approved {
		return denied(d, res.Reasons[len(res.Reasons)-1]), nil
	}

	mult := e.cfg.Modes[d.Mode].RiskMultiplier

	var sizing *risk.Sizing
	var err error
	stopPrice := in.StopLossPrice
	if stopPrice > 0 {
		sizing, err = e.governor.CalculatePositionSizeStructural(in.Symbol, ctx.Price, stopPrice, mult)
	} else {
		sizing, err = e.governor.CalculatePositionSize(in.Symbol, ctx.Price, in.StopLossPct, mult)
		if in.Side == market.SideLong {
			stopPrice = ctx.Price * (1 - in.StopLossPct/100)
		} else {
			stopPrice = ctx.Price * (1 + in.StopLossPct/100)
		}
	}
	if err != nil {
		return nil, err
	}
	if sizing == nil {
		return denied(d, "sizing rejected"), nil
	}
	d.Sizing = sizing

	equity := e.governor.Snapshot().CurrentEquity
	newRiskPct := 0.0
	if equity > 0 {
		newRiskPct = sizing.RiskAmountUSD / equity * 100
	}
	if ok, reason := e.governor.CanOpenNewTrade(e.totalOpenRiskPct(), newRiskPct); !ok {
		e.publish(events.EventCircuitBreaker, map[string]interface{}{"reason": reason})
		return denied(d, reason), nil
	}

	if in.Style == intent.StyleScalp {
		tpPct := in.TakeProfitPct
		if in.TakeProfitPrice > 0 {
			tpPct = math.Abs(in.TakeProfitPrice-ctx.Price) / ctx.Price * 100
		}
		if ok, reason := e.scalpGuard.CheckEntry(ctx, tpPct, sizing.StopLossPct, sizing.Notional); !ok {
			e.publish(events.EventCooldown, map[string]interface{}{"symbol": in.Symbol, "reason": reason})
			return denied(d, reason), nil
		}
	}

	if ok, reason := e.adjGuard.Check(guard.AdjustRequest{
		Symbol: in.Symbol, Kind: intent.KindOpen,
		Confidence: d.Gate.Confidence, Price: ctx.Price,
	}); !ok {
		return denied(d, reason), nil
	}

	tpPrice := in.TakeProfitPrice
	if tpPrice == 0 && in.TakeProfitPct > 0 {
		if in.Side == market.SideLong {
			tpPrice = ctx.Price * (1 + in.TakeProfitPct/100)
		} else {
			tpPrice = ctx.Price * (1 - in.TakeProfitPct/100)
		}
	}

	profile := ledger.ProfileScalpCanPromote
	if in.Style == intent.StyleSwing {
		profile = ledger.ProfileSwing
	}

	d.OpenSpec = &OpenOrderSpec{
		DecisionID:      d.ID,
		Symbol:          in.Symbol,
		Side:            in.Side,
		Style:           in.Style,
		EntryPrice:      ctx.Price,
		Size:            sizing.Size,
		Notional:        sizing.Notional,
		Leverage:        sizing.Leverage,
		StopLossPrice:   stopPrice,
		TakeProfitPrice: tpPrice,
		Profile:         profile,
		RiskAmountUSD:   sizing.RiskAmountUSD,
	}
	d.Approved = true
	return d, nil
}

// ConfirmOpen registers the position after the caller reports a
// confirmed fill. Sizes stay as specified; the fill price becomes the
// entry.
func (e *Engine) ConfirmOpen(spec *OpenOrderSpec, fillPrice float64) (*ledger.Position, error) {
	if spec == nil {
		return nil, fmt.Errorf("confirm open: nil spec")
	}
	if fillPrice <= 0 {
		fillPrice = spec.EntryPrice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.book.Open(ledger.OpenParams{
		Symbol:          spec.Symbol,
		Side:            spec.Side,
		EntryPrice:      fillPrice,
		Size:            spec.Size,
		Leverage:        spec.Leverage,
		StopLossPrice:   spec.StopLossPrice,
		TakeProfitPrice: spec.TakeProfitPrice,
		Profile:         spec.Profile,
		Meta:            map[string]string{"decision_id": spec.DecisionID},
	})
	if err != nil {
		return nil, err
	}

	if spec.Style == intent.StyleScalp {
		e.scalpGuard.RecordOpen(spec.Symbol)
	}
	e.adjGuard.Record(guard.AdjustRequest{
		Symbol: spec.Symbol, Kind: intent.KindOpen, Price: fillPrice, DeltaSize: spec.Size,
	})
	e.governor.SetOpenPositions(e.book.Count())

	e.publish(events.EventTradeOpened, map[string]interface{}{
		"decision_id": spec.DecisionID,
		"symbol":      spec.Symbol,
		"side":        string(spec.Side),
		"entry_price": fillPrice,
		"size":        spec.Size,
		"leverage":    spec.Leverage,
	})
	return pos, nil
}

// ConfirmAdjust commits an applied increase or decrease to the book and
// the throttle.
func (e *Engine) ConfirmAdjust(symbol string, kind intent.Kind, price, deltaSize float64) error {
	if !kind.Adjustment() {
		return fmt.Errorf("confirm adjust %s: kind %q is not an adjustment", symbol, kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.book.Get(symbol)
	if !ok {
		return fmt.Errorf("confirm adjust %s: no tracked position", symbol)
	}

	var action ledger.Action
	if kind == intent.KindIncrease {
		action = ledger.PyramidAdd(symbol, deltaSize, "manual increase")
		action.Price = price
	} else {
		action = ledger.PartialClose(symbol, deltaSize/pos.Size, "manual decrease")
	}
	if err := e.book.Apply(action); err != nil {
		return err
	}

	e.adjGuard.Record(guard.AdjustRequest{
		Symbol: symbol, Kind: kind, Price: price,
		CurrentSize: pos.Size, DeltaSize: deltaSize,
	})
	return nil
}

// ManageCycle runs one management pass over every tracked position for
// which the caller supplied market context. Exits are checked first;
// surviving positions get their lifecycle plan executed and committed.
func (e *Engine) ManageCycle(ctx context.Context, contexts map[string]market.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sched := e.schedulers[e.mode]

	for _, pos := range e.book.List() {
		mctx, ok := contexts[pos.Symbol]
		if !ok || mctx.Price <= 0 {
			continue
		}

		if exit := pos.CheckExit(mctx.Price); exit != ledger.ExitNone {
			e.closePosition(ctx, pos, mctx.Price, string(exit))
			continue
		}

		plan := sched.Plan(pos, mctx)
		if len(plan) == 0 {
			continue
		}
		e.applyPlan(ctx, pos.Symbol, plan)
	}

	e.governor.SetOpenPositions(e.book.Count())
}

// applyPlan executes a position's advisory actions and commits them to
// the book only if every part succeeded, so multi-part plans land
// atomically. Callers hold the engine mutex.
func (e *Engine) applyPlan(ctx context.Context, symbol string, plan []ledger.Action) {
	for _, a := range plan {
		e.publish(events.EventActionEmitted, map[string]interface{}{
			"symbol": symbol, "action": a.String(), "reason": a.Reason,
		})
	}

	if e.exec != nil {
		for _, a := range plan {
			if err := e.exec.ApplyAction(ctx, a); err != nil {
				e.log.Error().Err(err).Str("symbol", symbol).Str("action", a.String()).
					Msg("action execution failed, plan abandoned")
				if e.bus != nil {
					e.bus.PublishError("engine", "action execution failed", err)
				}
				return
			}
		}
	}

	for _, a := range plan {
		if err := e.book.Apply(a); err != nil {
			e.log.Error().Err(err).Str("symbol", symbol).Str("action", a.String()).
				Msg("ledger commit failed")
			return
		}
		e.publish(events.EventActionApplied, map[string]interface{}{
			"symbol": symbol, "action": a.String(), "reason": a.Reason,
		})
	}
}

// closePosition executes and commits an exit. Callers hold the mutex.
func (e *Engine) closePosition(ctx context.Context, pos *ledger.Position, price float64, cause string) {
	if e.exec != nil {
		if err := e.exec.ClosePosition(ctx, pos.Symbol, price); err != nil {
			e.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("close execution failed")
			if e.bus != nil {
				e.bus.PublishError("engine", "close execution failed", err)
			}
			return
		}
	}

	final, err := e.book.Close(pos.Symbol)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("ledger close failed")
		return
	}

	pnlPct := final.UnrealizedPnLPct(price)
	e.publish(events.EventTradeClosed, map[string]interface{}{
		"symbol":      final.Symbol,
		"cause":       cause,
		"exit_price":  price,
		"pnl_percent": pnlPct,
	})
}

// RecordTradeResult feeds a realized result into the guards after an
// externally executed close. The position is dropped if still tracked.
func (e *Engine) RecordTradeResult(symbol string, pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.book.Get(symbol); ok {
		if _, err := e.book.Close(symbol); err != nil {
			e.log.Error().Err(err).Str("symbol", symbol).Msg("ledger close failed")
		}
	}
	e.scalpGuard.RecordResult(symbol, pnl)
	e.governor.AddRealizedPnL(pnl)
	e.governor.SetOpenPositions(e.book.Count())

	e.publish(events.EventTradeClosed, map[string]interface{}{
		"symbol": symbol,
		"pnl":    pnl,
	})
}

// SyncExchange reconciles the book against an authoritative snapshot
func (e *Engine) SyncExchange(snapshot []ledger.ExchangePosition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	adopted, dropped := e.book.SyncWithExchange(snapshot)
	e.governor.SetOpenPositions(e.book.Count())

	if len(adopted) > 0 || len(dropped) > 0 {
		e.publish(events.EventExchangeSync, map[string]interface{}{
			"adopted": adopted,
			"dropped": dropped,
		})
	}
}
