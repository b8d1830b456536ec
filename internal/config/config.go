package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Feed pacing limits. The provider rejects clients above 1000 requests per minute.
const (
	MinRequestInterval = 65 * time.Millisecond
	MaxPerMinute       = 999
)

// MaxRequestsPerSecond is the per-second budget equivalent to MinRequestInterval.
func MaxRequestsPerSecond() float64 {
	return float64(time.Second) / float64(MinRequestInterval)
}

// DefaultMetricsListen keeps the watch-mode HTTP surface on loopback. The
// alert listing carries subscriber emails and has no authentication.
const DefaultMetricsListen = "127.0.0.1:9108"

// keys lists every setting so each one can be overridden from the
// environment as AQIALERT_<SECTION>_<NAME>, including those without a default.
var keys = []string{
	"aqi.token", "aqi.base_url", "aqi.timeout", "aqi.min_interval", "aqi.requests_per_second", "aqi.per_minute",
	"email.provider", "email.from", "email.sendgrid_api_key", "email.sendgrid_url",
	"email.smtp.host", "email.smtp.port", "email.smtp.username", "email.smtp.password",
	"storage.driver", "storage.path", "storage.dsn",
	"job.lock_ttl", "job.interval",
	"reporting.slack.enabled", "reporting.slack.webhook_url", "reporting.slack.channel", "reporting.slack.only_failures",
	"reporting.webhook.enabled", "reporting.webhook.url", "reporting.webhook.secret",
	"metrics.pushgateway_url", "metrics.job_name", "metrics.listen",
	"logging.level", "logging.format", "logging.file", "logging.max_size_mb", "logging.max_backups",
}

// legacyEnv holds unprefixed names used by existing deployments.
var legacyEnv = map[string]string{
	"aqi.token":              "AQI_API_TOKEN",
	"email.sendgrid_api_key": "SENDGRID_API_KEY",
	"storage.dsn":            "DATABASE_URL",
}

// Config holds all aqialert configuration.
type Config struct {
	AQI       AQIConfig       `mapstructure:"aqi"`
	Email     EmailConfig     `mapstructure:"email"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Job       JobConfig       `mapstructure:"job"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AQIConfig defines the air-quality feed client.
type AQIConfig struct {
	Token       string        `mapstructure:"token"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	// RequestsPerSecond, when positive, replaces MinInterval as the pacing budget.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	PerMinute         int     `mapstructure:"per_minute"`
}

// EmailConfig defines how notifications are delivered.
type EmailConfig struct {
	Provider       string     `mapstructure:"provider"`
	From           string     `mapstructure:"from"`
	SendGridAPIKey string     `mapstructure:"sendgrid_api_key"`
	SendGridURL    string     `mapstructure:"sendgrid_url"`
	SMTP           SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP relay settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// JobConfig defines run scheduling.
type JobConfig struct {
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	Interval time.Duration `mapstructure:"interval"`
}

// ReportingConfig defines run report integrations.
type ReportingConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	WebhookURL   string `mapstructure:"webhook_url"`
	Channel      string `mapstructure:"channel"`
	OnlyFailures bool   `mapstructure:"only_failures"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// MetricsConfig defines Prometheus export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
	Listen         string `mapstructure:"listen"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from a .env file, the config file and environment
// variables, in increasing order of precedence.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".aqialert"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("aqi.base_url", "https://api.waqi.info")
	v.SetDefault("aqi.timeout", "10s")
	v.SetDefault("aqi.min_interval", MinRequestInterval.String())
	v.SetDefault("aqi.per_minute", 900)
	v.SetDefault("email.provider", "sendgrid")
	v.SetDefault("email.from", "aqimebaby@aqimebaby.com")
	v.SetDefault("email.sendgrid_url", "https://api.sendgrid.com/v3/mail/send")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("storage.path", filepath.Join(home, ".aqialert", "aqialert.db"))
	v.SetDefault("job.lock_ttl", "30m")
	v.SetDefault("job.interval", "5m")
	v.SetDefault("reporting.slack.channel", "#aqi-alerts")
	v.SetDefault("metrics.job_name", "aqialert")
	v.SetDefault("metrics.listen", DefaultMetricsListen)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)

	// Environment variables. AutomaticEnv only consults keys viper already
	// knows, so every key is bound explicitly.
	v.SetEnvPrefix("AQIALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		names := []string{key, EnvName(key)}
		if env, ok := legacyEnv[key]; ok {
			names = append(names, env)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = dsnFromDBEnv()
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
		if cfg.Storage.DSN != "" {
			cfg.Storage.Driver = "postgres"
		}
	}

	return &cfg, nil
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return "AQIALERT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// dsnFromDBEnv assembles a Postgres URL from DB_USER, DB_PASSWORD, DB_NAME,
// DB_HOST and DB_PORT. It returns "" when DB_HOST is unset.
func dsnFromDBEnv() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + os.Getenv("DB_NAME"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if pass, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// Validate reports every setting that would keep a run from working.
func (c *Config) Validate() error {
	var errs []error

	if c.AQI.Token == "" {
		errs = append(errs, errors.New("aqi.token is required (AQI_API_TOKEN)"))
	}
	if c.AQI.MinInterval < MinRequestInterval {
		errs = append(errs, fmt.Errorf("aqi.min_interval must be at least %s", MinRequestInterval))
	}
	if c.AQI.RequestsPerSecond < 0 || c.AQI.RequestsPerSecond > MaxRequestsPerSecond() {
		errs = append(errs, fmt.Errorf("aqi.requests_per_second must be between 0 and %.2f", MaxRequestsPerSecond()))
	}
	if c.AQI.PerMinute < 0 || c.AQI.PerMinute > MaxPerMinute {
		errs = append(errs, fmt.Errorf("aqi.per_minute must be between 0 and %d", MaxPerMinute))
	}

	switch c.Email.Provider {
	case "sendgrid":
		if c.Email.SendGridAPIKey == "" {
			errs = append(errs, errors.New("email.sendgrid_api_key is required (SENDGRID_API_KEY)"))
		}
	case "smtp":
		if c.Email.SMTP.Host == "" {
			errs = append(errs, errors.New("email.smtp.host is required"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("unknown email.provider %q", c.Email.Provider))
	}

	switch c.Storage.Driver {
	case "", "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "postgresql":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (DATABASE_URL or DB_*)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Reporting.Slack.Enabled && c.Reporting.Slack.WebhookURL == "" {
		errs = append(errs, errors.New("reporting.slack.webhook_url is required when slack is enabled"))
	}
	if c.Reporting.Webhook.Enabled && c.Reporting.Webhook.URL == "" {
		errs = append(errs, errors.New("reporting.webhook.url is required when webhook is enabled"))
	}

	return errors.Join(errs...)
}
