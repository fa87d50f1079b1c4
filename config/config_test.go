package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "TURBO" }},
		{"zero risk per trade", func(c *Config) { c.Risk.RiskPerTradePct = 0 }},
		{"leverage below one", func(c *Config) { c.Risk.MaxLeverage = 0.5 }},
		{"missing mode table", func(c *Config) { delete(c.Modes, ModeAggressive) }},
		{"promotion below first trim", func(c *Config) {
			mc := c.Modes[ModeBalanced]
			mc.Management.PromotionRR = mc.Management.FirstTrimRR - 0.5
			c.Modes[ModeBalanced] = mc
		}},
		{"unknown trail style", func(c *Config) {
			mc := c.Modes[ModeBalanced]
			mc.Management.TrailStyle = "parabolic"
			c.Modes[ModeBalanced] = mc
		}},
		{"positive emergency threshold", func(c *Config) { c.Adjust.EmergencyPnLThreshold = 1.0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"mode": "CONSERVATIVE", "server": {"enabled": true, "host": "127.0.0.1", "port": 9000}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ENGINE_SERVER_PORT", "9100")
	t.Setenv("ENGINE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeConservative {
		t.Errorf("mode = %s, want CONSERVATIVE", cfg.Mode)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, env override should win over file", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
	// file values merge over defaults, untouched sections keep defaults
	if cfg.Risk.RiskPerTradePct != 2.0 {
		t.Errorf("risk_per_trade_pct = %v, want default 2.0", cfg.Risk.RiskPerTradePct)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"mode": "TURBO"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestActiveMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeAggressive
	if got := cfg.ActiveMode(); got.MaxSignalsPerDay != cfg.Modes[ModeAggressive].MaxSignalsPerDay {
		t.Errorf("ActiveMode returned wrong table")
	}
}
