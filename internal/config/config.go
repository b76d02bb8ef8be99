// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from an optional
// YAML file, overridden by environment variables, with hard defaults last.
type Config struct {
	Server struct {
		Port         string        `yaml:"port"`
		RateLimit    float64       `yaml:"rate_limit"`
		RateBurst    int           `yaml:"rate_burst"`
		ChartDaysMax int           `yaml:"chart_days_max"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Provider struct {
		RPCURL         string        `yaml:"rpc_url"`
		RewardStatsURL string        `yaml:"reward_stats_url"`
		PriceURL       string        `yaml:"price_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"provider"`

	Schedule struct {
		MinuteCron string `yaml:"minute_cron"`
		HourCron   string `yaml:"hour_cron"`
		DayCron    string `yaml:"day_cron"`
		WeekCron   string `yaml:"week_cron"`
	} `yaml:"schedule"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Safety struct {
		MaxAPY            float64       `yaml:"max_apy"`
		MaxPriceChange    float64       `yaml:"max_price_change"`
		MinAssetCount     int           `yaml:"min_asset_count"`
		CircuitResetDelay time.Duration `yaml:"circuit_reset_delay"`
	} `yaml:"safety"`

	// TicksPerYear overrides the annualization factor for reported reward
	// rates. Zero keeps the protocol default.
	TicksPerYear float64 `yaml:"ticks_per_year"`

	OtelEndpoint string `yaml:"otel_endpoint"`

	Security struct {
		SigningEnabled bool `yaml:"signing_enabled"`
	} `yaml:"security"`

	Export struct {
		WebhookURL    string        `yaml:"webhook_url"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"export"`
}

// Load reads config from a YAML file (missing file is fine), then applies
// environment variable overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Port = GetEnvOrDefault("PORT", cfg.Server.Port)
	cfg.Provider.RPCURL = GetEnvOrDefault("RPC_URL", cfg.Provider.RPCURL)
	cfg.Provider.RewardStatsURL = GetEnvOrDefault("REWARD_STATS_URL", cfg.Provider.RewardStatsURL)
	cfg.Provider.PriceURL = GetEnvOrDefault("PRICE_URL", cfg.Provider.PriceURL)
	cfg.Database.SQLitePath = GetEnvOrDefault("SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)
	cfg.Export.WebhookURL = GetEnvOrDefault("EXPORT_WEBHOOK_URL", cfg.Export.WebhookURL)

	if v, exists := GetEnv("TICKS_PER_YEAR"); exists {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TicksPerYear = f
		}
	}
	if v, exists := GetEnv("SIGNING_ENABLED"); exists {
		cfg.Security.SigningEnabled = v == "true" || v == "1"
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 10
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}
	if cfg.Server.ChartDaysMax == 0 {
		cfg.Server.ChartDaysMax = 90
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Provider.RPCURL == "" {
		cfg.Provider.RPCURL = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Provider.RewardStatsURL == "" {
		cfg.Provider.RewardStatsURL = "https://api.solend.fi/liquidity-mining/reward-stats"
	}
	if cfg.Provider.PriceURL == "" {
		cfg.Provider.PriceURL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if cfg.Provider.RequestTimeout == 0 {
		cfg.Provider.RequestTimeout = 2 * time.Minute
	}
	if cfg.Schedule.MinuteCron == "" {
		cfg.Schedule.MinuteCron = "* * * * *"
	}
	if cfg.Schedule.HourCron == "" {
		cfg.Schedule.HourCron = "0 * * * *"
	}
	if cfg.Schedule.DayCron == "" {
		cfg.Schedule.DayCron = "0 0 * * *"
	}
	if cfg.Schedule.WeekCron == "" {
		cfg.Schedule.WeekCron = "0 0 * * 1"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/lendyield.db"
	}
	if cfg.Safety.MaxAPY == 0 {
		cfg.Safety.MaxAPY = 10.0 // 1000%
	}
	if cfg.Safety.MaxPriceChange == 0 {
		cfg.Safety.MaxPriceChange = 0.5
	}
	if cfg.Safety.MinAssetCount == 0 {
		cfg.Safety.MinAssetCount = 2
	}
	if cfg.Safety.CircuitResetDelay == 0 {
		cfg.Safety.CircuitResetDelay = 5 * time.Minute
	}
	if cfg.Export.FlushInterval == 0 {
		cfg.Export.FlushInterval = time.Minute
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
