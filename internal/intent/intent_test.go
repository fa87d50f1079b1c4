package intent

import (
	"errors"
	"strings"
	"testing"

	"trade-lifecycle-engine/internal/market"
)

func validOpen() *Intent {
	return &Intent{
		Kind:        KindOpen,
		Symbol:      "BTCUSDT",
		Side:        market.SideLong,
		Style:       StyleSwing,
		Profile:     ProfileBalanced,
		Confidence:  0.8,
		StopLossPct: 2.0,
		Confluences: []string{"ema_cross", "volume"},
	}
}

func TestValidateOpen(t *testing.T) {
	if err := validOpen().Validate(); err != nil {
		t.Fatalf("valid open rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Intent)
		field  string
	}{
		{"unknown kind", func(in *Intent) { in.Kind = "yolo" }, "kind"},
		{"empty symbol", func(in *Intent) { in.Symbol = "  " }, "symbol"},
		{"bad side", func(in *Intent) { in.Side = "sideways" }, "side"},
		{"confidence above one", func(in *Intent) { in.Confidence = 1.2 }, "confidence"},
		{"bad style", func(in *Intent) { in.Style = "daytrade" }, "style"},
		{"bad profile", func(in *Intent) { in.Profile = "reckless" }, "profile"},
		{"no stop", func(in *Intent) { in.StopLossPct = 0 }, "stop_loss"},
		{"both stop forms", func(in *Intent) { in.StopLossPrice = 98 }, "stop_loss"},
		{"negative stop", func(in *Intent) { in.StopLossPct = -1 }, "stop_loss"},
		{"both tp forms", func(in *Intent) {
			in.TakeProfitPrice = 110
			in.TakeProfitPct = 5
		}, "take_profit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validOpen()
			tt.mutate(in)
			err := in.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestValidateAdjustmentQuantity(t *testing.T) {
	in := &Intent{
		Kind:       KindDecrease,
		Symbol:     "ETHUSDT",
		Side:       market.SideLong,
		Confidence: 0.85,
	}
	if err := in.Validate(); err == nil || !strings.Contains(err.Error(), "quantity_pct") {
		t.Fatalf("decrease without quantity_pct should fail, got %v", err)
	}

	in.QuantityPct = 0.5
	if err := in.Validate(); err != nil {
		t.Fatalf("valid decrease rejected: %v", err)
	}

	in.QuantityPct = 1.5
	if err := in.Validate(); err == nil {
		t.Fatal("quantity_pct above 1 should fail")
	}
}

func TestValidateHoldSkipsChecks(t *testing.T) {
	in := &Intent{Kind: KindHold, Symbol: "BTCUSDT"}
	if err := in.Validate(); err != nil {
		t.Fatalf("hold needs only a symbol: %v", err)
	}
}

func TestKindHelpers(t *testing.T) {
	if !KindIncrease.Adjustment() || !KindDecrease.Adjustment() {
		t.Error("increase and decrease are adjustments")
	}
	if KindOpen.Adjustment() || KindClose.Adjustment() {
		t.Error("open and close are not adjustments")
	}
}
