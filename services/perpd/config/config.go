package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for perpd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	Database      string          `yaml:"database"`
	ParamsFile    string          `yaml:"params_file"`
	LogFile       string          `yaml:"log_file"`
	LogLevel      string          `yaml:"log_level"`
	State         StateConfig     `yaml:"state"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Pool          PoolConfig      `yaml:"pool"`
	Keeper        KeeperConfig    `yaml:"keeper"`
	Auth          AuthConfig      `yaml:"auth"`
	NATS          NATSConfig      `yaml:"nats"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Webhook       WebhookConfig   `yaml:"webhook"`
}

// StateConfig selects the key-value backend holding the ledger.
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// OracleConfig tunes the polling loop and names both feeds.
type OracleConfig struct {
	Interval  Duration `yaml:"interval"`
	MaxAge    Duration `yaml:"max_age"`
	Primary   Feed     `yaml:"primary"`
	Secondary *Feed    `yaml:"secondary"`
}

// Feed describes an upstream price feed. Static feeds carry their rate
// inline; HTTP feeds read a decimal from a JSON field.
type Feed struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	Field    string `yaml:"field"`
	Rate     string `yaml:"rate"`
}

// PoolConfig seeds the in-process collateral pool.
type PoolConfig struct {
	StocksUsers  string `yaml:"stocks_users"`
	Balance      string `yaml:"balance"`
	EstimatedAPR uint64 `yaml:"estimated_apr"`
}

// KeeperConfig controls the background liquidation loop.
type KeeperConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Address   string   `yaml:"address"`
	Interval  Duration `yaml:"interval"`
	BatchSize int      `yaml:"batch_size"`
}

// AuthConfig configures JWT verification. The HMAC secret is read from the
// environment variable named by SecretEnv.
type AuthConfig struct {
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	SecretEnv string   `yaml:"secret_env"`
	ClockSkew Duration `yaml:"clock_skew"`

	Secret string `yaml:"-"`
}

// NATSConfig enables event fan-out. A blank URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WebhookConfig forwards selected events to an HTTP receiver. A blank URL
// disables it.
type WebhookConfig struct {
	URL       string   `yaml:"url"`
	SecretEnv string   `yaml:"secret_env"`
	Events    []string `yaml:"events"`

	Secret string `yaml:"-"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	cfg.Auth.Secret = strings.TrimSpace(os.Getenv(cfg.Auth.SecretEnv))
	cfg.Webhook.Secret = strings.TrimSpace(os.Getenv(cfg.Webhook.SecretEnv))
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Database == "" {
		cfg.Database = "/var/data/perpd.sqlite"
	}
	if cfg.ParamsFile == "" {
		cfg.ParamsFile = "protocol.toml"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "leveldb"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "/var/data/perpd-state"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 15 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = 30 * time.Second
	}
	if cfg.Keeper.BatchSize <= 0 {
		cfg.Keeper.BatchSize = 50
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = "PERPD_JWT_SECRET"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "hedgeline"
	}
	if cfg.Webhook.SecretEnv == "" {
		cfg.Webhook.SecretEnv = "PERPD_WEBHOOK_SECRET"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.State.Backend) {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("state.backend must be memory, leveldb or bolt")
	}
	if err := validateFeed("oracle.primary", cfg.Oracle.Primary); err != nil {
		return err
	}
	if cfg.Oracle.Secondary != nil {
		if err := validateFeed("oracle.secondary", *cfg.Oracle.Secondary); err != nil {
			return err
		}
		if strings.EqualFold(cfg.Oracle.Secondary.Name, cfg.Oracle.Primary.Name) {
			return fmt.Errorf("oracle feeds must have distinct names")
		}
	}
	if cfg.Oracle.MaxAge.Duration < cfg.Oracle.Interval.Duration {
		return fmt.Errorf("oracle.max_age must be at least oracle.interval")
	}
	if cfg.Keeper.Enabled && strings.TrimSpace(cfg.Keeper.Address) == "" {
		return fmt.Errorf("keeper.address must be set when the keeper is enabled")
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("%s must be set", cfg.Auth.SecretEnv)
	}
	if strings.TrimSpace(cfg.Webhook.URL) != "" && cfg.Webhook.Secret == "" {
		return fmt.Errorf("%s must be set when webhook.url is configured", cfg.Webhook.SecretEnv)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be non-negative")
	}
	return nil
}

func validateFeed(field string, feed Feed) error {
	if strings.TrimSpace(feed.Name) == "" {
		return fmt.Errorf("%s.name must be set", field)
	}
	switch strings.ToLower(strings.TrimSpace(feed.Type)) {
	case "static":
		if strings.TrimSpace(feed.Rate) == "" {
			return fmt.Errorf("%s.rate must be set for static feeds", field)
		}
	case "http":
		if strings.TrimSpace(feed.Endpoint) == "" {
			return fmt.Errorf("%s.endpoint must be set for http feeds", field)
		}
	default:
		return fmt.Errorf("%s.type must be static or http", field)
	}
	return nil
}
