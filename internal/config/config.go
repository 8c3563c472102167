// Package config loads the process configuration descriptor, decoded
// from YAML exactly as cmd/bot/main.go decoded config/config.yaml in the
// teacher; generalized to the core's own fields (§3 rule defaults, §4.6
// gates, store/monitor/adapter tunables).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradingDefaults struct {
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	TrailingStop     bool    `yaml:"trailing_stop"`
	TrailingDistance float64 `yaml:"trailing_distance"`
	EntryPricePolicy string  `yaml:"entry_price_policy"`
}

type RiskConfig struct {
	WhitelistEnabled  bool     `yaml:"whitelist_enabled"`
	Whitelist         []string `yaml:"whitelist"`
	CoolingPeriodMin  int      `yaml:"cooling_period_minutes"`
	MaxDailyTrades    int      `yaml:"max_daily_trades"`
	MaxDailyLossPct   float64  `yaml:"max_daily_loss_pct"`
	MaxConcurrentOpen int      `yaml:"max_concurrent_open"`
}

type Config struct {
	StorePath           string          `yaml:"store_path"`
	MonitorIntervalSec  int             `yaml:"monitor_interval_seconds"`
	AdapterTimeoutSec   int             `yaml:"adapter_timeout_seconds"`
	MaxPriceAgeSec      int             `yaml:"max_price_age_seconds"`
	MaxHoldSeconds      int             `yaml:"max_hold_seconds"`
	LogLevel            string          `yaml:"log_level"`
	AuditLogPath        string          `yaml:"audit_log_path"`
	HTTPAddr            string          `yaml:"http_addr"`
	Trading             TradingDefaults `yaml:"trading"`
	Risk                RiskConfig      `yaml:"risk"`
}

// MonitorInterval returns the configured monitor tick period as a
// time.Duration (yaml.v3 does not parse "5s"-style duration strings, so
// the wire format is a plain integer number of seconds).
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

// AdapterTimeout returns the configured adapter call timeout.
func (c Config) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutSec) * time.Second
}

func Default() Config {
	return Config{
		StorePath:          "tradeexec.db",
		MonitorIntervalSec: 5,
		AdapterTimeoutSec:  10,
		MaxPriceAgeSec:     30,
		LogLevel:           "info",
		HTTPAddr:           ":8080",
		Trading: TradingDefaults{
			EntryPricePolicy: "cap",
		},
		Risk: RiskConfig{
			CoolingPeriodMin: 30,
			MaxDailyTrades:   50,
			MaxDailyLossPct:  50.0,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
