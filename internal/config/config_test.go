package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campusrun.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	if cfg.Pricing.BasePrice != 1.50 {
		t.Errorf("Expected base price 1.50, got %v", cfg.Pricing.BasePrice)
	}
	if cfg.Tracking.HistoryCap != 100 {
		t.Errorf("Expected history cap 100, got %d", cfg.Tracking.HistoryCap)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Server.Port != ":8080" {
		t.Errorf("Expected default port, got %q", cfg.Server.Port)
	}
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9090"
pricing:
  service_fee_percent: 10
tracking:
  stale_after: 45s
  default_anchor:
    lat: 40.1
    lng: -88.2
postgres:
  dsn: postgres://localhost/campusrun
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Server.Port != ":9090" {
		t.Errorf("Expected port :9090, got %q", cfg.Server.Port)
	}
	if cfg.Pricing.ServiceFeePercent != 10 {
		t.Errorf("Expected service fee 10, got %v", cfg.Pricing.ServiceFeePercent)
	}
	if cfg.Tracking.StaleAfter != 45*time.Second {
		t.Errorf("Expected stale_after 45s, got %v", cfg.Tracking.StaleAfter)
	}
	if cfg.Tracking.DefaultAnchor.Latitude != 40.1 {
		t.Errorf("Expected anchor lat 40.1, got %v", cfg.Tracking.DefaultAnchor.Latitude)
	}
	// Untouched keys keep their defaults.
	if cfg.Pricing.BasePrice != 1.50 {
		t.Errorf("Expected default base price, got %v", cfg.Pricing.BasePrice)
	}
	if cfg.Pricing.UrgencyFees["high"] != 3.00 {
		t.Errorf("Expected default high urgency fee, got %v", cfg.Pricing.UrgencyFees["high"])
	}
	if cfg.Postgres.DSN != "postgres://localhost/campusrun" {
		t.Errorf("Expected dsn to be loaded, got %q", cfg.Postgres.DSN)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantInvalid bool
	}{
		{name: "Malformed YAML", body: "server: [", wantInvalid: false},
		{name: "Bad precision", body: "geo:\n  geohash_precision: 20\n", wantInvalid: true},
		{name: "Bundle size too small", body: "bundling:\n  max_bundle_size: 1\n", wantInvalid: true},
		{name: "Anchor out of range", body: "tracking:\n  default_anchor:\n    lat: 95\n", wantInvalid: true},
		{name: "Negative base price", body: "pricing:\n  base_price: -1\n", wantInvalid: true},
		{name: "Lease shorter than renewal tick", body: "tracking:\n  owner_lease_ttl: 2s\n  stale_check_interval: 5s\n", wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if errors.Is(err, ErrInvalidConfig) != tt.wantInvalid {
				t.Errorf("errors.Is(err, ErrInvalidConfig) = %v, want %v (err: %v)",
					errors.Is(err, ErrInvalidConfig), tt.wantInvalid, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
