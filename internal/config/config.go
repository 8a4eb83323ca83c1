// Package config centralizes all application configuration into typed structs.
//
// Go Learning Note — Configuration Management:
// Defaults live in NewDefaultConfig as a plain struct literal. A YAML file
// passed with --config is decoded on top of those defaults, so a file only
// needs the keys it wants to change. Typed structs (not raw maps) give
// compile-time safety for every consumer of the configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration container.
//
// Go Learning Note — Struct Composition:
// Config "has a" ServerConfig, PricingConfig, etc. Each engine receives only
// the sub-struct it needs, which keeps packages decoupled from each other.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Geo         GeoConfig         `yaml:"geo"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Bundling    BundlingConfig    `yaml:"bundling"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	MapServices MapServicesConfig `yaml:"map_services"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
//
// Go Learning Note — time.Duration:
// yaml.v3 decodes strings like "10s" or "1m30s" straight into time.Duration
// fields, so the file stays readable and the code never guesses units.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// GeoConfig controls geohash encoding precision for the open-task index.
// Precision 6 ≈ 1.2 km cells, precision 7 ≈ 150 m cells.
type GeoConfig struct {
	GeohashPrecision int `yaml:"geohash_precision"`
}

// PricingConfig defines the errand price parameters.
// Total = (BasePrice + ceil(miles*2)*DistanceRatePerHalfMile + UrgencyFee) * (1 + ServiceFeePercent/100)
type PricingConfig struct {
	BasePrice               float64            `yaml:"base_price"`
	DistanceRatePerHalfMile float64            `yaml:"distance_rate_per_half_mile"`
	ServiceFeePercent       float64            `yaml:"service_fee_percent"`
	UrgencyFees             map[string]float64 `yaml:"urgency_fees"`
}

// BundlingConfig bounds the greedy bundle search.
type BundlingConfig struct {
	MaxBundleSize      int     `yaml:"max_bundle_size"`
	MaxLegDistanceKm   float64 `yaml:"max_leg_distance_km"`
	MaxBundles         int     `yaml:"max_bundles"`
	DefaultTaskMinutes int     `yaml:"default_task_minutes"`
	CandidateRadiusKm  float64 `yaml:"candidate_radius_km"` // radius for /bundles/nearby
}

// AnchorConfig is the fallback position used when no fix can be obtained.
type AnchorConfig struct {
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lng"`
	Address   string  `yaml:"address"`
}

// TrackingConfig controls live location sessions.
type TrackingConfig struct {
	HistoryCap            int           `yaml:"history_cap"`
	HighAccuracyTimeout   time.Duration `yaml:"high_accuracy_timeout"`
	HighAccuracyMaxMeters float64       `yaml:"high_accuracy_max_meters"`
	LowAccuracyTimeout    time.Duration `yaml:"low_accuracy_timeout"`
	CoarseTimeout         time.Duration `yaml:"coarse_timeout"`
	StaleAfter            time.Duration `yaml:"stale_after"`          // no update for this long -> Degraded
	StaleCheckInterval    time.Duration `yaml:"stale_check_interval"` // watchdog tick
	RouteTimeout          time.Duration `yaml:"route_timeout"`
	OwnerLeaseTTL         time.Duration `yaml:"owner_lease_ttl"`
	DefaultAnchor         AnchorConfig  `yaml:"default_anchor"`
}

// MapServicesConfig points at the geocoding and routing HTTP services.
// An empty URL disables that collaborator.
type MapServicesConfig struct {
	GeocoderURL string        `yaml:"geocoder_url"`
	RouterURL   string        `yaml:"router_url"`
	UserAgent   string        `yaml:"user_agent"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PostgresConfig selects the durable tracking state store. An empty DSN keeps
// published state in memory.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// RabbitMQConfig enables snapshot fan-out to other services. An empty URL
// disables publishing.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type LogConfig struct {
	ServiceName string `yaml:"service_name"`
	Level       string `yaml:"level"`
}

// NewDefaultConfig returns a Config populated with sensible defaults.
//
// Go Learning Note — Constructor Functions:
// Go has no constructors. By convention, New<Type>() functions serve the same
// purpose. They return a pointer (*Config) so Load can decode a file directly
// on top of the defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			TokenTTL:  24 * time.Hour,
		},
		Geo: GeoConfig{
			GeohashPrecision: 6,
		},
		Pricing: PricingConfig{
			BasePrice:               1.50,
			DistanceRatePerHalfMile: 0.50,
			ServiceFeePercent:       15.1,
			UrgencyFees: map[string]float64{
				"low":    1.00,
				"medium": 2.00,
				"high":   3.00,
			},
		},
		Bundling: BundlingConfig{
			MaxBundleSize:      3,
			MaxLegDistanceKm:   2.0,
			MaxBundles:         3,
			DefaultTaskMinutes: 30,
			CandidateRadiusKm:  3.0,
		},
		Tracking: TrackingConfig{
			HistoryCap:            100,
			HighAccuracyTimeout:   5 * time.Second,
			HighAccuracyMaxMeters: 50,
			LowAccuracyTimeout:    15 * time.Second,
			CoarseTimeout:         3 * time.Second,
			StaleAfter:            30 * time.Second,
			StaleCheckInterval:    5 * time.Second,
			RouteTimeout:          10 * time.Second,
			OwnerLeaseTTL:         12 * time.Hour,
			DefaultAnchor: AnchorConfig{
				Latitude:  42.2780,
				Longitude: -83.7382,
				Address:   "Campus Center",
			},
		},
		MapServices: MapServicesConfig{
			UserAgent: "campusrun/1.0",
			Timeout:   8 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "tracking.snapshots",
		},
		Log: LogConfig{
			ServiceName: "campusrun",
			Level:       "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engines cannot work with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, msg))
		}
	}

	check(c.Server.Port != "", "server.port is required")
	check(c.Auth.JWTSecret != "", "auth.jwt_secret is required")
	check(c.Geo.GeohashPrecision >= 1 && c.Geo.GeohashPrecision <= 12, "geo.geohash_precision must be in [1,12]")
	check(c.Pricing.BasePrice >= 0, "pricing.base_price must be >= 0")
	check(c.Pricing.DistanceRatePerHalfMile >= 0, "pricing.distance_rate_per_half_mile must be >= 0")
	check(c.Pricing.ServiceFeePercent >= 0, "pricing.service_fee_percent must be >= 0")
	for _, tier := range []string{"low", "medium", "high"} {
		fee, ok := c.Pricing.UrgencyFees[tier]
		check(ok && fee >= 0, "pricing.urgency_fees."+tier+" must be set and >= 0")
	}
	check(c.Bundling.MaxBundleSize >= 2, "bundling.max_bundle_size must be >= 2")
	check(c.Bundling.MaxLegDistanceKm > 0, "bundling.max_leg_distance_km must be > 0")
	check(c.Bundling.MaxBundles >= 1, "bundling.max_bundles must be >= 1")
	check(c.Bundling.DefaultTaskMinutes >= 0, "bundling.default_task_minutes must be >= 0")
	check(c.Tracking.HistoryCap >= 1, "tracking.history_cap must be >= 1")
	check(c.Tracking.HighAccuracyTimeout > 0 && c.Tracking.LowAccuracyTimeout > 0,
		"tracking fix timeouts must be > 0")
	check(c.Tracking.StaleAfter > 0 && c.Tracking.StaleCheckInterval > 0,
		"tracking.stale_after and tracking.stale_check_interval must be > 0")
	check(c.Tracking.OwnerLeaseTTL > c.Tracking.StaleCheckInterval,
		"tracking.owner_lease_ttl must exceed tracking.stale_check_interval, which is the renewal period")
	anchor := c.Tracking.DefaultAnchor
	check(anchor.Latitude >= -90 && anchor.Latitude <= 90 &&
		anchor.Longitude >= -180 && anchor.Longitude <= 180,
		"tracking.default_anchor must be a valid coordinate")

	return errors.Join(errs...)
}
