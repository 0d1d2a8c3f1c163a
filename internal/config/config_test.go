package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "spxopt/internal/errors"
)

func TestLoad_WritesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(ConfigPath(dir)); err != nil {
		t.Errorf("expected template at %s: %v", ConfigPath(dir), err)
	}

	if cfg.Underlying.Symbol != "SPX" {
		t.Errorf("expected SPX, got %s", cfg.Underlying.Symbol)
	}
	if cfg.Collector.Interval != 60*time.Second {
		t.Errorf("expected 60s collector interval, got %v", cfg.Collector.Interval)
	}
	if cfg.Builder.RefreshInterval != 15*time.Second || cfg.Builder.PayoffSteps != 80 {
		t.Errorf("unexpected builder defaults: %+v", cfg.Builder)
	}
	if cfg.Store.Path != filepath.Join(dir, "data", "options.db") {
		t.Errorf("unexpected store path %s", cfg.Store.Path)
	}
}

func TestLoad_TemplateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if cfg.IBKR.BaseURL != "https://localhost:5000/v1/api" || !cfg.IBKR.InsecureTLS {
		t.Errorf("unexpected ibkr config from template: %+v", cfg.IBKR)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SPXOPT_SUPPLIER", "DB")
	t.Setenv("SPXOPT_UNDERLYING", "ndx")
	t.Setenv("SPXOPT_DB_PATH", "/tmp/snapshots.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("APCA_API_KEY_ID", "key")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Supplier.Kind != SupplierDB || cfg.Underlying.Symbol != "NDX" {
		t.Errorf("overrides not applied: %s %s", cfg.Supplier.Kind, cfg.Underlying.Symbol)
	}
	if cfg.Store.Path != "/tmp/snapshots.db" {
		t.Errorf("db path override not applied: %s", cfg.Store.Path)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka override not applied: %+v", cfg.Kafka)
	}
	if cfg.Alpaca.APIKey != "key" {
		t.Errorf("alpaca key not read from env")
	}
	if got := cfg.TopicFor("NDX"); got != "option-snapshots.NDX" {
		t.Errorf("unexpected topic %s", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Underlying: UnderlyingConfig{Symbol: "SPX"},
			Supplier:   SupplierConfig{Kind: SupplierIBKR},
			IBKR:       IBKRConfig{MaxConcurrency: 4},
			Collector:  CollectorConfig{Interval: time.Minute},
			Builder:    BuilderConfig{RefreshInterval: time.Second, PayoffSteps: 80, RangePad: 0.1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown supplier", func(c *Config) { c.Supplier.Kind = "tws" }, false},
		{"bad symbol", func(c *Config) { c.Underlying.Symbol = "SPX; DROP" }, false},
		{"zero interval", func(c *Config) { c.Collector.Interval = 0 }, false},
		{"zero refresh", func(c *Config) { c.Builder.RefreshInterval = 0 }, false},
		{"no steps", func(c *Config) { c.Builder.PayoffSteps = 0 }, false},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, apperrors.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}
