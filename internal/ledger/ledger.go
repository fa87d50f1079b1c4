package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/internal/market"
)

// ExchangePosition is one row of an authoritative exchange snapshot.
// SignedSize is positive for longs, negative for shorts.
type ExchangePosition struct {
	Symbol     string  `json:"symbol"`
	SignedSize float64 `json:"signed_size"`
	EntryPrice float64 `json:"entry_price"`
	Leverage   float64 `json:"leverage"`
}

// OpenParams carries everything needed to register a new position
type OpenParams struct {
	Symbol          string
	Side            market.Side
	EntryPrice      float64
	Size            float64
	Leverage        float64
	StopLossPrice   float64
	TakeProfitPrice float64
	Profile         Profile
	Meta            map[string]string
}

// Ledger is the mutex-guarded registry of open positions, keyed by
// symbol. One position per symbol.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	log       zerolog.Logger
}

// New creates an empty ledger
func New(log zerolog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		log:       log.With().Str("component", "position_ledger").Logger(),
	}
}

// Open registers a new position after a confirmed fill. The stop price
// is frozen as the initial stop defining the R unit.
func (l *Ledger) Open(p OpenParams) (*Position, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("open: empty symbol")
	}
	if !p.Side.Valid() {
		return nil, fmt.Errorf("open %s: invalid side %q", p.Symbol, p.Side)
	}
	if p.EntryPrice <= 0 || p.Size <= 0 {
		return nil, fmt.Errorf("open %s: entry=%v size=%v must be positive", p.Symbol, p.EntryPrice, p.Size)
	}
	if p.StopLossPrice <= 0 {
		return nil, fmt.Errorf("open %s: stop loss required", p.Symbol)
	}
	if p.StopLossPrice == p.EntryPrice {
		return nil, fmt.Errorf("open %s: stop equals entry, R unit would be zero", p.Symbol)
	}
	if p.Leverage < 1 {
		p.Leverage = 1
	}
	if p.Profile == "" {
		p.Profile = ProfileScalpCanPromote
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[p.Symbol]; exists {
		return nil, fmt.Errorf("open %s: position already tracked", p.Symbol)
	}

	pos := &Position{
		Symbol:           p.Symbol,
		Side:             p.Side,
		EntryPrice:       p.EntryPrice,
		Size:             p.Size,
		Leverage:         p.Leverage,
		StopLossPrice:    p.StopLossPrice,
		TakeProfitPrice:  p.TakeProfitPrice,
		InitialStopPrice: p.StopLossPrice,
		State:            StateInit,
		Profile:          p.Profile,
		OpenedAt:         time.Now().UTC(),
		Meta:             p.Meta,
	}
	l.positions[p.Symbol] = pos

	l.log.Info().Str("symbol", p.Symbol).Str("side", string(p.Side)).
		Float64("entry", p.EntryPrice).Float64("size", p.Size).
		Float64("stop", p.StopLossPrice).Msg("position opened")
	return pos.clone(), nil
}

// Get returns a copy of the tracked position for symbol
func (l *Ledger) Get(symbol string) (*Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	return pos.clone(), true
}

// List returns copies of all tracked positions
func (l *Ledger) List() []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.clone())
	}
	return out
}

// Count returns the number of tracked positions
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Apply commits a confirmed action to the tracked position. Callers
// invoke it only after the action was successfully applied externally.
func (l *Ledger) Apply(a Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[a.Symbol]
	if !ok {
		return fmt.Errorf("apply %s: no tracked position", a.Symbol)
	}

	switch a.Type {
	case ActionPartialClose:
		if a.Percent <= 0 || a.Percent > 1 {
			return fmt.Errorf("apply %s: partial close percent %v outside (0,1]", a.Symbol, a.Percent)
		}
		pos.Size *= 1 - a.Percent
		if pos.State == StateInit {
			pos.State = StateScalpActive
		} else if pos.State == StateScalpActive {
			// the second trim is a one-shot; remember it so the
			// scheduler never proposes it again
			pos.SecondTrimDone = true
		}
		l.log.Info().Str("symbol", a.Symbol).Float64("percent", a.Percent).
			Float64("remaining", pos.Size).Msg("partial close applied")

	case ActionUpdateStop:
		if !pos.stopImproves(a.Price) {
			return fmt.Errorf("apply %s: stop %v does not improve %v", a.Symbol, a.Price, pos.StopLossPrice)
		}
		pos.StopLossPrice = a.Price
		if pos.CurrentR(a.Price) >= 0 {
			pos.LockedInProfit = true
		}
		l.log.Info().Str("symbol", a.Symbol).Float64("stop", a.Price).Msg("stop updated")

	case ActionPromote:
		if pos.State != StateScalpActive {
			return fmt.Errorf("apply %s: promote from %s, need %s", a.Symbol, pos.State, StateScalpActive)
		}
		if pos.Profile == ProfileScalpOnly {
			return fmt.Errorf("apply %s: scalp-only profile cannot promote", a.Symbol)
		}
		pos.State = StatePromotedToSwing
		l.log.Info().Str("symbol", a.Symbol).Msg("promoted to swing")

	case ActionPyramidAdd:
		if a.Size <= 0 || a.Price <= 0 {
			return fmt.Errorf("apply %s: pyramid add needs size and fill price", a.Symbol)
		}
		// weighted average entry over the combined size
		total := pos.Size + a.Size
		pos.EntryPrice = (pos.EntryPrice*pos.Size + a.Price*a.Size) / total
		pos.Size = total
		pos.PyramidAdds++
		l.log.Info().Str("symbol", a.Symbol).Float64("added", a.Size).
			Float64("avg_entry", pos.EntryPrice).Int("adds", pos.PyramidAdds).
			Msg("pyramid add applied")

	case ActionNone:
		// nothing to commit

	default:
		return fmt.Errorf("apply %s: unknown action type %q", a.Symbol, a.Type)
	}
	return nil
}

// MarkState forcibly sets a position's state. Used when adopting
// external positions or replaying journal entries.
func (l *Ledger) MarkState(symbol string, state TradeState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("mark %s: no tracked position", symbol)
	}
	pos.State = state
	return nil
}

// Close removes the position from the ledger and returns its final
// copy. Closed positions produce no further actions.
func (l *Ledger) Close(symbol string) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("close %s: no tracked position", symbol)
	}
	pos.State = StateClosed
	final := pos.clone()
	delete(l.positions, symbol)

	l.log.Info().Str("symbol", symbol).Msg("position closed")
	return final, nil
}

// SyncWithExchange reconciles the ledger against an authoritative
// exchange snapshot. Untracked externals are adopted with the default
// profile and a synthetic stop; tracked symbols absent from the
// snapshot are dropped. Returns the adopted and dropped symbols.
func (l *Ledger) SyncWithExchange(snapshot []ExchangePosition) (adopted, dropped []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool, len(snapshot))
	for _, ex := range snapshot {
		if ex.SignedSize == 0 {
			continue
		}
		seen[ex.Symbol] = true

		if pos, ok := l.positions[ex.Symbol]; ok {
			// snapshot is authoritative for size and entry
			size := ex.SignedSize
			if size < 0 {
				size = -size
			}
			pos.Size = size
			if ex.EntryPrice > 0 {
				pos.EntryPrice = ex.EntryPrice
			}
			if ex.Leverage >= 1 {
				pos.Leverage = ex.Leverage
			}
			continue
		}

		side := market.SideLong
		size := ex.SignedSize
		if size < 0 {
			side = market.SideShort
			size = -size
		}
		leverage := ex.Leverage
		if leverage < 1 {
			leverage = 1
		}
		// synthetic 2% stop so the R unit is defined for adopted positions
		stop := ex.EntryPrice * 0.98
		if side == market.SideShort {
			stop = ex.EntryPrice * 1.02
		}
		l.positions[ex.Symbol] = &Position{
			Symbol:           ex.Symbol,
			Side:             side,
			EntryPrice:       ex.EntryPrice,
			Size:             size,
			Leverage:         leverage,
			StopLossPrice:    stop,
			InitialStopPrice: stop,
			State:            StateInit,
			Profile:          ProfileScalpCanPromote,
			OpenedAt:         time.Now().UTC(),
			Meta:             map[string]string{"adopted": "exchange_sync"},
		}
		adopted = append(adopted, ex.Symbol)
		l.log.Warn().Str("symbol", ex.Symbol).Str("side", string(side)).
			Float64("size", size).Msg("adopted untracked exchange position")
	}

	for symbol := range l.positions {
		if !seen[symbol] {
			delete(l.positions, symbol)
			dropped = append(dropped, symbol)
			l.log.Warn().Str("symbol", symbol).Msg("dropped position absent from exchange")
		}
	}
	return adopted, dropped
}
