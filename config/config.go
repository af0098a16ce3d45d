package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resource names used throughout the configuration. They match the
// scheduler's resource types one to one.
const (
	ResourceOrderBook   = "orderbook"
	ResourceDepth       = "depth"
	ResourceTrades      = "trades"
	ResourceMarketStats = "market_stats"
	ResourceOHLCHistory = "ohlc_history"
	ResourceGlobalStats = "global_stats"
)

// MarketStatsMode selects how market statistics are persisted.
const (
	MarketStatsCurrent = "current"
	MarketStatsHistory = "history"
)

type Config struct {
	Nobiflow    NobiflowConfig    `yaml:"nobiflow"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Symbols     []string          `yaml:"symbols"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Mongo       MongoConfig       `yaml:"mongo"`
	API         APIConfig         `yaml:"api"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type NobiflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type UpstreamConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxIdleConns      int           `yaml:"max_idle_conns"`
	Global            GlobalConfig  `yaml:"global"`
}

// GlobalConfig points at the global-metrics provider (CoinMarketCap style).
type GlobalConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type SchedulerConfig struct {
	Tick          time.Duration             `yaml:"tick"`
	ShutdownGrace time.Duration             `yaml:"shutdown_grace"`
	Resources     map[string]ResourceConfig `yaml:"resources"`
}

type ResourceConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Ceiling     int           `yaml:"ceiling"`
	Resolutions []string      `yaml:"resolutions"`
	Lookback    time.Duration `yaml:"lookback"`
}

// IsEnabled treats a missing enabled flag as on, so that listing a
// resource in the config is enough to schedule it.
func (r ResourceConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

type PersistenceConfig struct {
	MarketStats string `yaml:"market_stats"`
}

type MongoConfig struct {
	URI              string        `yaml:"uri"`
	Database         string        `yaml:"database"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

type APIConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	TradesLimit   int           `yaml:"trades_limit"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	EnableGinLogs bool          `yaml:"enable_gin_logs"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxRows         int           `yaml:"max_rows"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

var envVarRegexp = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in the raw configuration with
// values from the process environment. Unset variables expand to the
// empty string.
func expandEnv(data []byte) []byte {
	return envVarRegexp.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarRegexp.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadConfig reads, expands and validates the yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Nobiflow: NobiflowConfig{Name: "nobiflow", Version: "dev"},
		Upstream: UpstreamConfig{
			BaseURL:           "https://api.nobitex.ir",
			Timeout:           5 * time.Second,
			RequestsPerSecond: 5,
			Burst:             2,
			MaxIdleConns:      32,
		},
		Scheduler: SchedulerConfig{
			Tick:          5 * time.Second,
			ShutdownGrace: 15 * time.Second,
		},
		Persistence: PersistenceConfig{MarketStats: MarketStatsCurrent},
		Mongo: MongoConfig{
			Database:         "nobiflow",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		API: APIConfig{
			Enabled:     true,
			Address:     ":8080",
			TradesLimit: 100,
		},
		Archive: ArchiveConfig{
			FlushInterval: 5 * time.Minute,
			MaxRows:       50000,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// applyEnvOverrides lets deployment environments override secrets and
// endpoints without touching the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Mongo.URI = strings.TrimSpace(v)
	}
	if v := os.Getenv("NOBITEX_TOKEN"); v != "" {
		c.Upstream.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("CMC_API_KEY"); v != "" {
		c.Upstream.Global.APIKey = strings.TrimSpace(v)
	}
	if c.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			c.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			c.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			c.Archive.Region = strings.TrimSpace(v)
		}
	}
}

// defaultResources mirrors the per-resource budgets of the upstream API
// documentation: request ceilings are per minute.
func defaultResources() map[string]ResourceConfig {
	return map[string]ResourceConfig{
		ResourceOrderBook:   {Interval: 30 * time.Second, Ceiling: 300},
		ResourceDepth:       {Interval: 30 * time.Second, Ceiling: 300},
		ResourceTrades:      {Interval: 30 * time.Second, Ceiling: 60},
		ResourceMarketStats: {Interval: 30 * time.Second, Ceiling: 20},
		ResourceOHLCHistory: {Interval: 5 * time.Minute, Ceiling: 10, Resolutions: []string{"D"}, Lookback: 24 * time.Hour},
		ResourceGlobalStats: {Interval: 5 * time.Minute, Ceiling: 10},
	}
}

func (c *Config) applyDefaults() {
	if c.Scheduler.Resources == nil {
		c.Scheduler.Resources = defaultResources()
		return
	}
	defaults := defaultResources()
	for name, def := range defaults {
		rc, ok := c.Scheduler.Resources[name]
		if !ok {
			continue
		}
		if rc.Interval <= 0 {
			rc.Interval = def.Interval
		}
		if rc.Ceiling <= 0 {
			rc.Ceiling = def.Ceiling
		}
		if name == ResourceOHLCHistory {
			if len(rc.Resolutions) == 0 {
				rc.Resolutions = def.Resolutions
			}
			if rc.Lookback <= 0 {
				rc.Lookback = def.Lookback
			}
		}
		c.Scheduler.Resources[name] = rc
	}
}

var symbolRegexp = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// Validate checks the parts of the configuration the process cannot run
// without.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	for _, s := range c.Symbols {
		if !symbolRegexp.MatchString(s) {
			return fmt.Errorf("config: invalid symbol %q", s)
		}
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("config: upstream.base_url is required")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("config: mongo.uri is required (or set MONGODB_URI)")
	}
	if c.Scheduler.Tick < time.Second || c.Scheduler.Tick > 10*time.Second {
		return fmt.Errorf("config: scheduler.tick must be between 1s and 10s, got %s", c.Scheduler.Tick)
	}
	for name := range c.Scheduler.Resources {
		switch name {
		case ResourceOrderBook, ResourceDepth, ResourceTrades,
			ResourceMarketStats, ResourceOHLCHistory, ResourceGlobalStats:
		default:
			return fmt.Errorf("config: unknown resource %q", name)
		}
	}
	switch c.Persistence.MarketStats {
	case MarketStatsCurrent, MarketStatsHistory:
	default:
		return fmt.Errorf("config: persistence.market_stats must be %q or %q",
			MarketStatsCurrent, MarketStatsHistory)
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: archive.bucket is required when the archive is enabled")
	}
	return nil
}
