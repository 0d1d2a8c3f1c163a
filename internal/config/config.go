// Package config provides configuration management for the options toolkit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/security"
)

// Supplier kinds.
const (
	SupplierIBKR   = "ibkr"
	SupplierAlpaca = "alpaca"
	SupplierDB     = "db"
)

// Config holds all application configuration.
type Config struct {
	Underlying UnderlyingConfig `mapstructure:"underlying"`
	Supplier   SupplierConfig   `mapstructure:"supplier"`
	IBKR       IBKRConfig       `mapstructure:"ibkr"`
	Alpaca     AlpacaConfig     `mapstructure:"alpaca"`
	Store      StoreConfig      `mapstructure:"store"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Builder    BuilderConfig    `mapstructure:"builder"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Security   SecurityConfig   `mapstructure:"security"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// UnderlyingConfig selects the index whose options are tracked.
type UnderlyingConfig struct {
	Symbol string `mapstructure:"symbol"`
}

// SupplierConfig selects the chain-data source.
type SupplierConfig struct {
	Kind string `mapstructure:"kind"` // ibkr, alpaca, db
}

// IBKRConfig holds Client Portal gateway settings.
type IBKRConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	InsecureTLS    bool          `mapstructure:"insecure_tls"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BreakerFails   int           `mapstructure:"breaker_failures"`
	BreakerReset   time.Duration `mapstructure:"breaker_reset"`
}

// AlpacaConfig holds Alpaca market data settings. Keys come from the environment.
type AlpacaConfig struct {
	Feed       string `mapstructure:"feed"`        // indicative, opra
	RootSymbol string `mapstructure:"root_symbol"` // OCC root, e.g. SPXW
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"-"`
	APISecret  string `mapstructure:"-"`
}

// StoreConfig holds the snapshot database location.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// CollectorConfig holds snapshot collection settings.
type CollectorConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Expiration string        `mapstructure:"expiration"` // optional YYYY-MM-DD
}

// BuilderConfig holds position builder settings.
type BuilderConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	PayoffSteps     int           `mapstructure:"payoff_steps"`
	RangePad        float64       `mapstructure:"range_pad"`
}

// KafkaConfig holds snapshot fan-out settings.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// APIConfig holds the local HTTP API settings.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Dir               string `mapstructure:"dir"`
	MaxSizeMB         int    `mapstructure:"max_size_mb"`
	MaxBackups        int    `mapstructure:"max_backups"`
	MaxAgeDays        int    `mapstructure:"max_age_days"`
	ConnectionLogFile string `mapstructure:"connection_log"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	ReadOnlyMode bool   `mapstructure:"read_only_mode"`
	AuditEnabled bool   `mapstructure:"audit_enabled"`
	AuditDir     string `mapstructure:"audit_dir"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/spxopt"
	}
	return filepath.Join(home, ".config", "spxopt")
}

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A .env file in the
// working directory is loaded first; variables already set take precedence.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := &Config{Dir: configDir}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, apperrors.Wrap(err, "loading config.toml")
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "validating config")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("underlying.symbol", "SPX")
	v.SetDefault("supplier.kind", SupplierIBKR)

	v.SetDefault("ibkr.base_url", "https://localhost:5000/v1/api")
	v.SetDefault("ibkr.insecure_tls", true)
	v.SetDefault("ibkr.timeout", "15s")
	v.SetDefault("ibkr.max_concurrency", 8)
	v.SetDefault("ibkr.max_retries", 3)
	v.SetDefault("ibkr.breaker_failures", 5)
	v.SetDefault("ibkr.breaker_reset", "30s")

	v.SetDefault("alpaca.feed", "indicative")
	v.SetDefault("alpaca.root_symbol", "SPXW")

	v.SetDefault("store.path", "")
	v.SetDefault("collector.interval", "60s")
	v.SetDefault("collector.expiration", "")

	v.SetDefault("builder.refresh_interval", "15s")
	v.SetDefault("builder.payoff_steps", 80)
	v.SetDefault("builder.range_pad", 0.10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "option-snapshots")

	v.SetDefault("api.listen", "127.0.0.1:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.connection_log", "connection.log")

	v.SetDefault("security.read_only_mode", false)
	v.SetDefault("security.audit_enabled", true)
	v.SetDefault("security.audit_dir", "")
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found: write the template and continue on defaults.
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPXOPT_SUPPLIER"); v != "" {
		cfg.Supplier.Kind = v
	}
	if v := os.Getenv("SPXOPT_UNDERLYING"); v != "" {
		cfg.Underlying.Symbol = v
	}
	if v := os.Getenv("IBKR_BASE_URL"); v != "" {
		cfg.IBKR.BaseURL = v
	}
	if v := os.Getenv("SPXOPT_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}

	// Alpaca credentials use the SDK's standard variable names.
	cfg.Alpaca.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.Alpaca.APISecret = os.Getenv("APCA_API_SECRET_KEY")
}

func (c *Config) resolvePaths() {
	c.Underlying.Symbol = strings.ToUpper(strings.TrimSpace(c.Underlying.Symbol))
	c.Supplier.Kind = strings.ToLower(strings.TrimSpace(c.Supplier.Kind))
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Dir, "data", "options.db")
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = filepath.Join(c.Dir, "logs")
	}
	if c.Security.AuditDir == "" {
		c.Security.AuditDir = filepath.Join(c.Dir, "audit")
	}
	if c.Logging.ConnectionLogFile != "" && !filepath.IsAbs(c.Logging.ConnectionLogFile) {
		c.Logging.ConnectionLogFile = filepath.Join(c.Logging.Dir, c.Logging.ConnectionLogFile)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := security.ValidateUnderlying(c.Underlying.Symbol); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}

	switch c.Supplier.Kind {
	case SupplierIBKR, SupplierAlpaca, SupplierDB:
	default:
		return fmt.Errorf("%w: invalid supplier kind: %s (must be 'ibkr', 'alpaca' or 'db')", apperrors.ErrConfigInvalid, c.Supplier.Kind)
	}

	if c.Collector.Interval <= 0 {
		return fmt.Errorf("%w: collector.interval must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Builder.RefreshInterval <= 0 {
		return fmt.Errorf("%w: builder.refresh_interval must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Builder.PayoffSteps < 1 {
		return fmt.Errorf("%w: builder.payoff_steps must be at least 1", apperrors.ErrConfigInvalid)
	}
	if c.Builder.RangePad < 0 || c.Builder.RangePad >= 1 {
		return fmt.Errorf("%w: builder.range_pad must be in [0, 1)", apperrors.ErrConfigInvalid)
	}
	if c.IBKR.MaxConcurrency < 1 {
		return fmt.Errorf("%w: ibkr.max_concurrency must be at least 1", apperrors.ErrConfigInvalid)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.brokers is required when kafka is enabled", apperrors.ErrConfigInvalid)
	}

	return nil
}

// TopicFor returns the Kafka topic snapshots of symbol are published to.
func (c *Config) TopicFor(symbol string) string {
	return c.Kafka.TopicPrefix + "." + symbol
}
