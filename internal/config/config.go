// Package config provides environment-variable-first configuration loading
// with an optional YAML base layer for the capture sink and its CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Redis    RedisConfig    `yaml:"redis"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Upstream UpstreamConfig `yaml:"upstream"`
	SES      SESConfig      `yaml:"ses"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
	API      APIConfig      `yaml:"api"`
}

// CaptureConfig names the variables shared with the test suite.
type CaptureConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MailSystemKey string `yaml:"mail_system_key"`
	BufferKey     string `yaml:"buffer_key"`
}

// RedisConfig locates the variable store. An empty Addr selects the
// in-process store, which only works when the suite runs in the same process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SMTPConfig holds SMTP sink configuration.
type SMTPConfig struct {
	Listen         string        `yaml:"listen"`
	Hostname       string        `yaml:"hostname"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// UpstreamConfig selects where uncaptured messages go: "stdout" or "ses".
type UpstreamConfig struct {
	Provider string `yaml:"provider"`
}

// SESConfig holds AWS SES upstream configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// TLSConfig holds STARTTLS certificate file paths. Without them a
// self-signed certificate is generated.
type TLSConfig struct {
	Disabled bool   `yaml:"disabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// APIConfig holds the inspection API address, which also serves /metrics.
// Empty disables it.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromFile loads a YAML file as the base layer, then applies
// environment overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Upstream.Provider {
	case "stdout":
	case "ses":
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses upstream requires SES_REGION and SES_SENDER"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown upstream provider %q", c.Upstream.Provider))
	}

	if (c.SMTP.Username == "") != (c.SMTP.Password == "") {
		errs = append(errs, errors.New("SMTP_USERNAME and SMTP_PASSWORD must be set together"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	if c.SMTP.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

func (c *Config) applyDefaults() {
	c.Capture.Enabled = true
	c.Capture.MailSystemKey = mailsystem.DefaultKey
	c.Capture.BufferKey = capture.DefaultKey
	c.Redis.Prefix = variable.DefaultPrefix
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.IdleTimeout = time.Minute
	c.Upstream.Provider = "stdout"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with non-empty environment variables.
func (c *Config) applyEnvVars() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(name string, fn func(string) error) {
		if v := os.Getenv(name); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
			}
		}
	}

	parse("CAPTURE_ENABLED", func(v string) (err error) {
		c.Capture.Enabled, err = strconv.ParseBool(v)
		return err
	})
	str("CAPTURE_MAIL_SYSTEM_KEY", &c.Capture.MailSystemKey)
	str("CAPTURE_BUFFER_KEY", &c.Capture.BufferKey)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	parse("REDIS_DB", func(v string) (err error) {
		c.Redis.DB, err = strconv.Atoi(v)
		return err
	})
	str("REDIS_PREFIX", &c.Redis.Prefix)

	str("SMTP_LISTEN", &c.SMTP.Listen)
	str("SMTP_HOSTNAME", &c.SMTP.Hostname)
	str("SMTP_USERNAME", &c.SMTP.Username)
	str("SMTP_PASSWORD", &c.SMTP.Password)
	parse("SMTP_MAX_MESSAGE_SIZE", func(v string) (err error) {
		c.SMTP.MaxMessageSize, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("SMTP_IDLE_TIMEOUT", func(v string) (err error) {
		c.SMTP.IdleTimeout, err = time.ParseDuration(v)
		return err
	})

	if v := os.Getenv("UPSTREAM"); v != "" {
		c.Upstream.Provider = strings.ToLower(v)
	}
	str("SES_REGION", &c.SES.Region)
	str("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	str("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	str("SES_SENDER", &c.SES.Sender)

	parse("TLS_DISABLED", func(v string) (err error) {
		c.TLS.Disabled, err = strconv.ParseBool(v)
		return err
	})
	str("TLS_CERT_FILE", &c.TLS.CertFile)
	str("TLS_KEY_FILE", &c.TLS.KeyFile)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	str("API_LISTEN", &c.API.Listen)

	return errors.Join(errs...)
}
