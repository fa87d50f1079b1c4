package ledger

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/internal/market"
)

func openLong(t *testing.T, l *Ledger) *Position {
	t.Helper()
	pos, err := l.Open(OpenParams{
		Symbol:        "BTCUSDT",
		Side:          market.SideLong,
		EntryPrice:    100,
		Size:          1,
		Leverage:      5,
		StopLossPrice: 98,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return pos
}

func TestCurrentR(t *testing.T) {
	p := &Position{
		Symbol: "BTCUSDT", Side: market.SideLong,
		EntryPrice: 100, InitialStopPrice: 98,
	}

	tests := []struct {
		price float64
		want  float64
	}{
		{100, 0},
		{102, 1},
		{104, 2},
		{98, -1},
		{96, -2},
	}
	for _, tt := range tests {
		if got := p.CurrentR(tt.price); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CurrentR(%v) = %v, want %v", tt.price, got, tt.want)
		}
	}

	// monotone in price: each step up increases R for a long
	prev := math.Inf(-1)
	for price := 95.0; price <= 105; price += 0.5 {
		r := p.CurrentR(price)
		if r <= prev {
			t.Fatalf("CurrentR not monotone at price %v: %v <= %v", price, r, prev)
		}
		prev = r
	}
}

func TestCurrentRShort(t *testing.T) {
	p := &Position{
		Symbol: "ETHUSDT", Side: market.SideShort,
		EntryPrice: 100, InitialStopPrice: 102,
	}
	if got := p.CurrentR(96); math.Abs(got-2) > 1e-9 {
		t.Errorf("CurrentR(96) = %v, want 2", got)
	}
	if got := p.CurrentR(102); math.Abs(got-(-1)) > 1e-9 {
		t.Errorf("CurrentR(102) = %v, want -1", got)
	}
}

func TestInitialStopFrozenAcrossTrailing(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	// trail the working stop well past entry
	for _, stop := range []float64{99, 101, 103} {
		if err := l.Apply(UpdateStop("BTCUSDT", stop, "trail")); err != nil {
			t.Fatalf("apply stop %v: %v", stop, err)
		}
	}

	pos, _ := l.Get("BTCUSDT")
	if pos.InitialStopPrice != 98 {
		t.Errorf("initial stop moved to %v, want 98", pos.InitialStopPrice)
	}
	if pos.StopLossPrice != 103 {
		t.Errorf("working stop = %v, want 103", pos.StopLossPrice)
	}
	// R unit unchanged: price 104 is still 2R against the original stop
	if got := pos.CurrentR(104); math.Abs(got-2) > 1e-9 {
		t.Errorf("CurrentR(104) = %v, want 2", got)
	}
}

func TestApplyStopMustImprove(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	if err := l.Apply(UpdateStop("BTCUSDT", 101, "trail")); err != nil {
		t.Fatalf("improving stop rejected: %v", err)
	}
	if err := l.Apply(UpdateStop("BTCUSDT", 99, "trail")); err == nil {
		t.Error("regressing stop accepted")
	}
	pos, _ := l.Get("BTCUSDT")
	if pos.StopLossPrice != 101 {
		t.Errorf("stop = %v, want 101", pos.StopLossPrice)
	}
	if !pos.LockedInProfit {
		t.Error("stop past entry should mark profit locked in")
	}
}

func TestPartialCloseAdvancesState(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	if err := l.Apply(PartialClose("BTCUSDT", 0.5, "first trim")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	pos, _ := l.Get("BTCUSDT")
	if pos.State != StateScalpActive {
		t.Errorf("state = %s, want %s", pos.State, StateScalpActive)
	}
	if math.Abs(pos.Size-0.5) > 1e-9 {
		t.Errorf("size = %v, want 0.5", pos.Size)
	}
	if pos.SecondTrimDone {
		t.Error("first trim marked the second trim done")
	}
}

func TestSecondPartialCloseMarksTrimDone(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	if err := l.Apply(PartialClose("BTCUSDT", 0.5, "first trim")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := l.Apply(PartialClose("BTCUSDT", 0.5, "second trim")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pos, _ := l.Get("BTCUSDT")
	if !pos.SecondTrimDone {
		t.Error("second trim not recorded as done")
	}
	if pos.State != StateScalpActive {
		t.Errorf("state = %s, want %s", pos.State, StateScalpActive)
	}
}

func TestPromotionRequiresScalpActive(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	// still INIT
	if err := l.Apply(Promote("BTCUSDT", "trend")); err == nil {
		t.Error("promotion from INIT accepted")
	}

	if err := l.Apply(PartialClose("BTCUSDT", 0.5, "first trim")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := l.Apply(Promote("BTCUSDT", "trend")); err != nil {
		t.Errorf("promotion from SCALP_ACTIVE rejected: %v", err)
	}
	pos, _ := l.Get("BTCUSDT")
	if pos.State != StatePromotedToSwing {
		t.Errorf("state = %s, want %s", pos.State, StatePromotedToSwing)
	}
}

func TestPromotionBlockedForScalpOnly(t *testing.T) {
	l := New(zerolog.Nop())
	_, err := l.Open(OpenParams{
		Symbol: "SOLUSDT", Side: market.SideLong,
		EntryPrice: 100, Size: 1, StopLossPrice: 98,
		Profile: ProfileScalpOnly,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Apply(PartialClose("SOLUSDT", 0.5, "trim")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := l.Apply(Promote("SOLUSDT", "trend")); err == nil {
		t.Error("scalp-only position promoted")
	}
}

func TestPyramidAddAveragesEntry(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	add := PyramidAdd("BTCUSDT", 1, "trend add")
	add.Price = 110 // fill price of the add
	if err := l.Apply(add); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pos, _ := l.Get("BTCUSDT")
	if math.Abs(pos.EntryPrice-105) > 1e-9 {
		t.Errorf("avg entry = %v, want 105", pos.EntryPrice)
	}
	if math.Abs(pos.Size-2) > 1e-9 {
		t.Errorf("size = %v, want 2", pos.Size)
	}
	if pos.PyramidAdds != 1 {
		t.Errorf("adds = %d, want 1", pos.PyramidAdds)
	}
	// initial stop still frozen
	if pos.InitialStopPrice != 98 {
		t.Errorf("initial stop = %v, want 98", pos.InitialStopPrice)
	}
}

func TestCheckExit(t *testing.T) {
	long := &Position{
		Side: market.SideLong, EntryPrice: 100,
		StopLossPrice: 98, TakeProfitPrice: 106, InitialStopPrice: 98,
		State: StateInit,
	}
	if got := long.CheckExit(97.5); got != ExitStopLoss {
		t.Errorf("long at 97.5 = %q, want stop", got)
	}
	if got := long.CheckExit(106.5); got != ExitTakeProfit {
		t.Errorf("long at 106.5 = %q, want tp", got)
	}
	if got := long.CheckExit(102); got != ExitNone {
		t.Errorf("long at 102 = %q, want none", got)
	}

	// promoted positions ignore the fixed take profit
	long.State = StatePromotedToSwing
	if got := long.CheckExit(106.5); got != ExitNone {
		t.Errorf("promoted long at 106.5 = %q, want none", got)
	}
	if got := long.CheckExit(97); got != ExitStopLoss {
		t.Errorf("promoted long at 97 = %q, want stop", got)
	}
}

func TestOpenValidation(t *testing.T) {
	l := New(zerolog.Nop())

	tests := []struct {
		name string
		p    OpenParams
	}{
		{"empty symbol", OpenParams{Side: market.SideLong, EntryPrice: 100, Size: 1, StopLossPrice: 98}},
		{"bad side", OpenParams{Symbol: "X", Side: "sideways", EntryPrice: 100, Size: 1, StopLossPrice: 98}},
		{"zero size", OpenParams{Symbol: "X", Side: market.SideLong, EntryPrice: 100, StopLossPrice: 98}},
		{"no stop", OpenParams{Symbol: "X", Side: market.SideLong, EntryPrice: 100, Size: 1}},
		{"stop equals entry", OpenParams{Symbol: "X", Side: market.SideLong, EntryPrice: 100, Size: 1, StopLossPrice: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.Open(tt.p); err == nil {
				t.Error("expected error")
			}
		})
	}

	openLong(t, l)
	if _, err := l.Open(OpenParams{
		Symbol: "BTCUSDT", Side: market.SideLong,
		EntryPrice: 100, Size: 1, StopLossPrice: 98,
	}); err == nil {
		t.Error("duplicate open accepted")
	}
}

func TestCloseRemoves(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l)

	final, err := l.Close("BTCUSDT")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if final.State != StateClosed {
		t.Errorf("final state = %s, want %s", final.State, StateClosed)
	}
	if _, ok := l.Get("BTCUSDT"); ok {
		t.Error("closed position still tracked")
	}
	if _, err := l.Close("BTCUSDT"); err == nil {
		t.Error("double close accepted")
	}
}

func TestSyncWithExchange(t *testing.T) {
	l := New(zerolog.Nop())
	openLong(t, l) // BTCUSDT tracked

	snapshot := []ExchangePosition{
		{Symbol: "BTCUSDT", SignedSize: 0.8, EntryPrice: 101, Leverage: 5},
		{Symbol: "ETHUSDT", SignedSize: -2, EntryPrice: 3000, Leverage: 3},
	}
	adopted, dropped := l.SyncWithExchange(snapshot)

	if len(adopted) != 1 || adopted[0] != "ETHUSDT" {
		t.Errorf("adopted = %v, want [ETHUSDT]", adopted)
	}
	if len(dropped) != 0 {
		t.Errorf("dropped = %v, want none", dropped)
	}

	// snapshot authoritative for size and entry
	btc, _ := l.Get("BTCUSDT")
	if math.Abs(btc.Size-0.8) > 1e-9 || btc.EntryPrice != 101 {
		t.Errorf("btc size=%v entry=%v, want 0.8/101", btc.Size, btc.EntryPrice)
	}

	eth, ok := l.Get("ETHUSDT")
	if !ok {
		t.Fatal("adopted position not tracked")
	}
	if eth.Side != market.SideShort || eth.Size != 2 {
		t.Errorf("eth side=%s size=%v, want short/2", eth.Side, eth.Size)
	}
	if eth.RUnit() == 0 {
		t.Error("adopted position has zero R unit")
	}

	// empty snapshot drops everything
	_, dropped = l.SyncWithExchange(nil)
	if len(dropped) != 2 {
		t.Errorf("dropped = %v, want both symbols", dropped)
	}
	if l.Count() != 0 {
		t.Errorf("count = %d, want 0", l.Count())
	}
}
