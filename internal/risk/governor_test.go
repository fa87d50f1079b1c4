package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
)

func testGovernor(cfg config.RiskConfig) *Governor {
	return NewGovernor(cfg, zerolog.Nop())
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculatePositionSizeLeverageClamp(t *testing.T) {
	g := testGovernor(config.RiskConfig{
		RiskPerTradePct: 2.0,
		MaxLeverage:     20,
		MinNotional:     10,
	})
	g.UpdateEquity(1000, 0)

	s, err := g.CalculatePositionSize("BTCUSDT", 50000, 2.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected sizing, got rejection")
	}

	// risk amount $20, raw leverage 50 clamped to 20, notional 20*20=400,
	// margin stays $20 fixed.
	if !almostEqual(s.RiskAmountUSD, 20) {
		t.Errorf("risk amount = %v, want 20", s.RiskAmountUSD)
	}
	if !almostEqual(s.Leverage, 20) {
		t.Errorf("leverage = %v, want 20", s.Leverage)
	}
	if !almostEqual(s.Notional, 400) {
		t.Errorf("notional = %v, want 400", s.Notional)
	}
	if !almostEqual(s.Size, 400.0/50000) {
		t.Errorf("size = %v, want %v", s.Size, 400.0/50000)
	}
}

func TestCalculatePositionSizeMinNotional(t *testing.T) {
	tests := []struct {
		name         string
		maxLeverage  float64
		minNotional  float64
		wantRejected bool
		wantLeverage float64
		wantNotional float64
	}{
		{
			// clamped notional 3*20=60 already clears the $50 minimum
			name:         "clamp clears minimum without rescue",
			maxLeverage:  3,
			minNotional:  50,
			wantLeverage: 3,
			wantNotional: 60,
		},
		{
			// clamped notional 60 < 100; rescue raises leverage to 100/20=5
			name:         "rescue raises leverage to meet minimum",
			maxLeverage:  10,
			minNotional:  100,
			wantLeverage: 5,
			wantNotional: 100,
		},
		{
			// needed leverage 100/20=5 exceeds the cap of 3
			name:         "rejected when cap cannot cover minimum",
			maxLeverage:  3,
			minNotional:  100,
			wantRejected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGovernor(config.RiskConfig{
				RiskPerTradePct: 2.0,
				MaxLeverage:     tt.maxLeverage,
				MinNotional:     tt.minNotional,
			})
			g.UpdateEquity(1000, 0)

			s, err := g.CalculatePositionSize("DOGEUSDT", 0.1, 2.0, 1.0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantRejected {
				if s != nil {
					t.Fatalf("expected rejection, got %+v", s)
				}
				return
			}
			if s == nil {
				t.Fatal("expected sizing, got rejection")
			}
			if !almostEqual(s.Leverage, tt.wantLeverage) {
				t.Errorf("leverage = %v, want %v", s.Leverage, tt.wantLeverage)
			}
			if !almostEqual(s.Notional, tt.wantNotional) {
				t.Errorf("notional = %v, want %v", s.Notional, tt.wantNotional)
			}
			if !almostEqual(s.RiskAmountUSD, 20) {
				t.Errorf("risk amount = %v, want 20 (margin fixed)", s.RiskAmountUSD)
			}
		})
	}
}

func TestCalculatePositionSizeHardCap(t *testing.T) {
	g := testGovernor(config.RiskConfig{
		RiskPerTradePct: 4.0,
		MaxLeverage:     20,
		MinNotional:     10,
	})
	g.UpdateEquity(1000, 0)

	s, err := g.CalculatePositionSize("ETHUSDT", 3000, 2.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected sizing, got rejection")
	}
	// nominal risk would be $40; the 2.5% cap holds it at $25
	if !almostEqual(s.RiskAmountUSD, 25) {
		t.Errorf("risk amount = %v, want 25", s.RiskAmountUSD)
	}
}

func TestCalculatePositionSizeMultiplierStillCapped(t *testing.T) {
	g := testGovernor(config.RiskConfig{
		RiskPerTradePct: 2.0,
		MaxLeverage:     20,
		MinNotional:     10,
	})
	g.UpdateEquity(1000, 0)

	s, err := g.CalculatePositionSize("BTCUSDT", 50000, 2.0, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected sizing, got rejection")
	}
	// 2% x2 multiplier nominally $40, capped at 2.5% = $25
	if !almostEqual(s.RiskAmountUSD, 25) {
		t.Errorf("risk amount = %v, want 25", s.RiskAmountUSD)
	}
}

func TestCalculatePositionSizeInputErrors(t *testing.T) {
	g := testGovernor(config.RiskConfig{RiskPerTradePct: 2, MaxLeverage: 20})
	g.UpdateEquity(1000, 0)

	if _, err := g.CalculatePositionSize("BTCUSDT", 0, 2, 1); err == nil {
		t.Error("expected error for zero entry price")
	}
	if _, err := g.CalculatePositionSize("BTCUSDT", 100, 0, 1); err == nil {
		t.Error("expected error for zero stop pct")
	}
	if _, err := g.CalculatePositionSize("BTCUSDT", 100, -1, 1); err == nil {
		t.Error("expected error for negative stop pct")
	}
}

func TestCalculatePositionSizeNoEquity(t *testing.T) {
	g := testGovernor(config.RiskConfig{RiskPerTradePct: 2, MaxLeverage: 20})

	s, err := g.CalculatePositionSize("BTCUSDT", 100, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Fatalf("expected rejection with no equity, got %+v", s)
	}
}

func TestStructuralSizingWindow(t *testing.T) {
	tests := []struct {
		name      string
		entry     float64
		stop      float64
		wantSized bool
	}{
		{"too tight", 100, 99.9, false},  // 0.1% < 0.2%
		{"floor", 100, 99.7, true},       // 0.3%
		{"normal long", 100, 98, true},   // 2%
		{"normal short", 100, 102, true}, // 2% above entry
		{"too wide", 100, 80, false},     // 20% > 15%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGovernor(config.RiskConfig{
				RiskPerTradePct: 2.0,
				MaxLeverage:     20,
				MinNotional:     1,
			})
			g.UpdateEquity(1000, 0)

			s, err := g.CalculatePositionSizeStructural("SOLUSDT", tt.entry, tt.stop, 1.0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantSized && s == nil {
				t.Error("expected sizing, got rejection")
			}
			if !tt.wantSized && s != nil {
				t.Errorf("expected rejection, got %+v", s)
			}
		})
	}
}

func TestStructuralSizingEqualPrices(t *testing.T) {
	g := testGovernor(config.RiskConfig{RiskPerTradePct: 2, MaxLeverage: 20})
	g.UpdateEquity(1000, 0)

	if _, err := g.CalculatePositionSizeStructural("SOLUSDT", 100, 100, 1); err == nil {
		t.Error("expected error for equal entry and stop")
	}
}

func TestUpdateEquityDrawdown(t *testing.T) {
	g := testGovernor(config.RiskConfig{
		RiskPerTradePct:     2,
		MaxDailyDrawdownPct: 4,
		MaxOpenTrades:       3,
		MaxTotalRiskPct:     5,
		MaxLeverage:         20,
	})

	g.UpdateEquity(1000, 0)
	st := g.Snapshot()
	if !almostEqual(st.StartingEquityToday, 1000) {
		t.Fatalf("baseline = %v, want 1000", st.StartingEquityToday)
	}
	if !almostEqual(st.DailyDrawdownPct, 0) {
		t.Fatalf("drawdown = %v, want 0", st.DailyDrawdownPct)
	}

	// equity falls 3%: drawdown follows the identity against the baseline
	g.UpdateEquity(970, -30)
	st = g.Snapshot()
	if !almostEqual(st.DailyDrawdownPct, -3) {
		t.Errorf("drawdown = %v, want -3", st.DailyDrawdownPct)
	}
	if !almostEqual(st.StartingEquityToday, 1000) {
		t.Errorf("baseline moved to %v, want 1000", st.StartingEquityToday)
	}

	// recovery reflects immediately
	g.UpdateEquity(1020, 20)
	st = g.Snapshot()
	if !almostEqual(st.DailyDrawdownPct, 2) {
		t.Errorf("drawdown = %v, want 2", st.DailyDrawdownPct)
	}
}

func TestCanOpenNewTrade(t *testing.T) {
	base := config.RiskConfig{
		RiskPerTradePct:     2,
		MaxDailyDrawdownPct: 4,
		MaxOpenTrades:       3,
		MaxTotalRiskPct:     5,
		MaxLeverage:         20,
	}

	t.Run("allows under limits", func(t *testing.T) {
		g := testGovernor(base)
		g.UpdateEquity(1000, 0)
		ok, reason := g.CanOpenNewTrade(2, 2)
		if !ok {
			t.Errorf("expected allow, got %q", reason)
		}
	})

	t.Run("rejects without equity", func(t *testing.T) {
		g := testGovernor(base)
		if ok, _ := g.CanOpenNewTrade(0, 2); ok {
			t.Error("expected rejection with no equity")
		}
	})

	t.Run("circuit breaker on drawdown", func(t *testing.T) {
		g := testGovernor(base)
		g.UpdateEquity(1000, 0)
		g.UpdateEquity(955, -45) // -4.5% < -4%
		if ok, _ := g.CanOpenNewTrade(0, 2); ok {
			t.Error("expected rejection past daily drawdown limit")
		}
	})

	t.Run("rejects at max open trades", func(t *testing.T) {
		g := testGovernor(base)
		g.UpdateEquity(1000, 0)
		g.SetOpenPositions(3)
		if ok, _ := g.CanOpenNewTrade(0, 2); ok {
			t.Error("expected rejection at position cap")
		}
	})

	t.Run("rejects over total risk ceiling", func(t *testing.T) {
		g := testGovernor(base)
		g.UpdateEquity(1000, 0)
		if ok, _ := g.CanOpenNewTrade(4, 2); ok {
			t.Error("expected rejection over total risk ceiling")
		}
	})
}

func TestDailyRolloverIdempotent(t *testing.T) {
	g := testGovernor(config.RiskConfig{
		RiskPerTradePct:     2,
		MaxDailyDrawdownPct: 4,
		MaxOpenTrades:       3,
		MaxTotalRiskPct:     5,
		MaxLeverage:         20,
	})

	g.UpdateEquity(1000, 0)
	g.UpdateEquity(980, -20)
	before := g.Snapshot()

	// further updates within the same day must not move the baseline
	g.UpdateEquity(990, -10)
	g.UpdateEquity(985, -15)
	after := g.Snapshot()

	if before.LastResetDate != after.LastResetDate {
		t.Errorf("reset date changed within a day: %s -> %s", before.LastResetDate, after.LastResetDate)
	}
	if !almostEqual(after.StartingEquityToday, 1000) {
		t.Errorf("baseline = %v, want 1000", after.StartingEquityToday)
	}
}
