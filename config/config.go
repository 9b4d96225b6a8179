// Package config loads runtime configuration for the token ledger
// service from an optional TOML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the token ledger service.
type Config struct {
	ListenAddr  string `toml:"listen_addr"`
	DatabaseURL string `toml:"database_url"`
	Env         string `toml:"env"`

	Auth       AuthConfig       `toml:"auth"`
	OG         OGConfig         `toml:"og"`
	Withdrawal WithdrawalConfig `toml:"withdrawal"`
	Sweep      SweepConfig      `toml:"sweep"`
	Log        LogConfig        `toml:"log"`

	RateLimits map[string]RateLimitConfig `toml:"rate_limits"`
}

// AuthConfig captures bearer-token verification settings.
type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	Issuer        string `toml:"issuer"`
	LeewaySeconds int    `toml:"leeway_seconds"`
}

// OGConfig is the OG membership campaign window and benefit levels.
type OGConfig struct {
	CampaignStart        string `toml:"campaign_start"` // RFC 3339 date
	CampaignEnd          string `toml:"campaign_end"`
	BenefitsDays         int    `toml:"benefits_days"`
	TokenMultiplierBps   int    `toml:"token_multiplier_bps"`
	UsageDiscountPercent int    `toml:"usage_discount_percent"`
}

// WithdrawalConfig sets the payout minimum and fee schedule.
type WithdrawalConfig struct {
	MinimumAmount int64 `toml:"minimum_amount"`
	FeeFlat       int64 `toml:"fee_flat"`
	FeePercent    int   `toml:"fee_percent"`
}

// SweepConfig controls the background expiry sweeper.
type SweepConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// RateLimitConfig bounds a write endpoint group.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	Burst             int     `toml:"burst"`
}

// Load reads the TOML file named by TOKENLEDGER_CONFIG (when set), then
// applies environment overrides. The database URL is the only required
// setting.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: ":8080",
		Env:        "dev",
	}

	if path := strings.TrimSpace(os.Getenv("TOKENLEDGER_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("TOKENLEDGER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TOKENLEDGER_DB_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("TOKENLEDGER_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("TOKENLEDGER_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TOKENLEDGER_SWEEP_INTERVAL_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid TOKENLEDGER_SWEEP_INTERVAL_MINUTES %q", v)
		}
		cfg.Sweep.IntervalMinutes = minutes
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("TOKENLEDGER_DB_URL is required")
	}
	return cfg, nil
}

// SweepInterval returns the configured sweep cadence, defaulting hourly.
func (c *Config) SweepInterval() time.Duration {
	if c.Sweep.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Sweep.IntervalMinutes) * time.Minute
}

// CampaignWindow parses the configured OG campaign dates. Malformed or
// absent dates yield zero times, which disable the window bound.
func (c *Config) CampaignWindow() (start, end time.Time) {
	if t, err := time.Parse(time.RFC3339, c.OG.CampaignStart); err == nil {
		start = t
	}
	if t, err := time.Parse(time.RFC3339, c.OG.CampaignEnd); err == nil {
		end = t
	}
	return start, end
}
