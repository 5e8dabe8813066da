package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Research     ResearchConfig     `yaml:"research" mapstructure:"research"`
	Portal       PortalConfig       `yaml:"portal" mapstructure:"portal"`
	Geocode      GeocodeConfig      `yaml:"geocode" mapstructure:"geocode"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	PropData     PropDataConfig     `yaml:"propdata" mapstructure:"propdata"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing      PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
	Underwriting UnderwritingConfig `yaml:"underwriting" mapstructure:"underwriting"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ResearchConfig configures the worker scheduler and job budgets.
type ResearchConfig struct {
	PoolSize          int                `yaml:"pool_size" mapstructure:"pool_size"`
	WorkerTimeoutSecs int                `yaml:"worker_timeout_secs" mapstructure:"worker_timeout_secs"`
	FatalWorkers      []string           `yaml:"fatal_workers" mapstructure:"fatal_workers"`
	WorkerWeights     map[string]float64 `yaml:"worker_weights" mapstructure:"worker_weights"`
	DefaultGroups     []string           `yaml:"default_groups" mapstructure:"default_groups"`
	MaxWorkers        int                `yaml:"max_workers" mapstructure:"max_workers"`
	MaxCostUSD        float64            `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	MaxDurationSecs   int                `yaml:"max_duration_secs" mapstructure:"max_duration_secs"`
}

// WorkerTimeout returns the per-worker deadline.
func (c ResearchConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSecs) * time.Second
}

// MaxDuration returns the default job wall-clock budget (0 = unlimited).
func (c ResearchConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSecs) * time.Second
}

// PortalConfig configures the government portal fetcher and its cache.
type PortalConfig struct {
	CacheTTLHours     int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ParcelURL         string  `yaml:"parcel_url" mapstructure:"parcel_url"`
	FloodURL          string  `yaml:"flood_url" mapstructure:"flood_url"`
	PermitURL         string  `yaml:"permit_url" mapstructure:"permit_url"`
}

// CacheTTL returns the portal cache time-to-live.
func (c PortalConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// GeocodeConfig configures the Census geocoder.
type GeocodeConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Benchmark string  `yaml:"benchmark" mapstructure:"benchmark"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// PropDataConfig holds the comps data provider settings.
type PropDataConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RadiusMiles float64 `yaml:"radius_miles" mapstructure:"radius_miles"`
	MaxComps    int     `yaml:"max_comps" mapstructure:"max_comps"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// AnthropicConfig holds Anthropic API settings for dossier narration.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaPricing             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
	PropData   PropDataPricing         `yaml:"propdata" mapstructure:"propdata"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaPricing holds Jina pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// PropDataPricing holds comps provider pricing.
type PropDataPricing struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// UnderwritingConfig configures deal analysis defaults.
type UnderwritingConfig struct {
	AssumptionsFile string `yaml:"assumptions_file" mapstructure:"assumptions_file"`
	DefaultStrategy string `yaml:"default_strategy" mapstructure:"default_strategy"`
}

// MonitoringConfig configures background job health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	// StaleJobMinutes is how long an IN_PROGRESS job may go without a
	// progress update before it is reported as stuck.
	StaleJobMinutes int `yaml:"stale_job_minutes" mapstructure:"stale_job_minutes"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("research.pool_size", 4)
	v.SetDefault("research.worker_timeout_secs", 15)
	v.SetDefault("research.fatal_workers", []string{"geocode", "dossier"})
	v.SetDefault("research.default_groups", []string{})
	v.SetDefault("research.max_workers", 0)
	v.SetDefault("research.max_cost_usd", 2.50)
	v.SetDefault("research.max_duration_secs", 300)
	v.SetDefault("portal.cache_ttl_hours", 24)
	v.SetDefault("portal.timeout_secs", 20)
	v.SetDefault("portal.user_agent", "property-research/1.0 (+https://sellsadvisors.com)")
	v.SetDefault("portal.requests_per_second", 2.0)
	v.SetDefault("portal.max_body_bytes", 5<<20)
	v.SetDefault("portal.flood_url", "https://hazards.fema.gov/gis/nfhl/rest/services/public/NFHL/MapServer/28/query")
	v.SetDefault("geocode.base_url", "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress")
	v.SetDefault("geocode.benchmark", "Public_AR_Current")
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("propdata.radius_miles", 1.0)
	v.SetDefault("propdata.max_comps", 10)
	v.SetDefault("propdata.max_retries", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.propdata.per_call", 0.05)
	v.SetDefault("underwriting.default_strategy", "flip")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.stale_job_minutes", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: research, serve, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "migrate":
	case "research", "serve":
		if c.Research.PoolSize < 1 || c.Research.PoolSize > 64 {
			errs = append(errs, "research.pool_size must be between 1 and 64")
		}
		if c.Research.WorkerTimeoutSecs < 1 {
			errs = append(errs, "research.worker_timeout_secs must be >= 1")
		}
		if c.Research.MaxCostUSD < 0 || c.Research.MaxWorkers < 0 || c.Research.MaxDurationSecs < 0 {
			errs = append(errs, "research budgets must be >= 0")
		}
		for name, w := range c.Research.WorkerWeights {
			if w <= 0 {
				errs = append(errs, fmt.Sprintf("research.worker_weights[%s] must be > 0", name))
			}
		}
		if c.Portal.CacheTTLHours < 0 {
			errs = append(errs, "portal.cache_ttl_hours must be >= 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
