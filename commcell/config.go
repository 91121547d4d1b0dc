// Package commcell is a Go client SDK for a Commcell backup-management
// server. Every remote resource (clients, client groups, backupsets,
// subclients, jobs, network topologies, plans, schedules, replication pairs)
// is exposed as a thin wrapper that builds the vendor JSON request, sends it
// through one shared transport, and translates the errorCode/errorMessage
// envelope of the reply into an *SDKError.
//
// Usage:
//
//	cfg := commcell.Config{}
//	cfg.Server.Host = "commserve.example.com"
//	cfg.Auth.Username = "admin"
//	cfg.Auth.Password = "secret"
//
//	cc, err := commcell.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cc.Logout(ctx)
//
//	clients, err := cc.Clients().All(ctx)
package commcell

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config holds the connection settings for a Commcell server.
// Zero values are filled in by SetDefaults, which Validate calls first.
type Config struct {
	Server struct {
		Host               string `yaml:"host" envconfig:"HOST"`
		Port               string `yaml:"port" envconfig:"PORT"`
		Scheme             string `yaml:"scheme" envconfig:"SCHEME"`
		BasePath           string `yaml:"basePath" envconfig:"BASE_PATH"`
		InsecureSkipVerify bool   `yaml:"insecureSkipVerify" envconfig:"INSECURE_SKIP_VERIFY"`
		Timeout            string `yaml:"timeout" envconfig:"TIMEOUT"`
	} `yaml:"server"`

	Auth struct {
		Username string `yaml:"username" envconfig:"USERNAME"`
		Password string `yaml:"password" envconfig:"PASSWORD"`
		// Token is a pre-issued authentication token. When set, the SDK
		// skips the Login call. A bare token is sent with the "QSDK "
		// prefix added.
		Token string `yaml:"token" envconfig:"TOKEN"`
	} `yaml:"auth"`

	OpenTelemetry struct {
		Enabled      bool    `yaml:"enabled" envconfig:"OTEL_ENABLED"`
		Endpoint     string  `yaml:"endpoint" envconfig:"OTEL_ENDPOINT"`
		Insecure     bool    `yaml:"insecure" envconfig:"OTEL_INSECURE"`
		SamplingRate float64 `yaml:"samplingRate" envconfig:"OTEL_SAMPLING_RATE"`
	} `yaml:"opentelemetry"`
}

// envPrefix is the prefix for environment-variable configuration,
// e.g. COMMCELL_HOST, COMMCELL_USERNAME.
const envPrefix = "COMMCELL"

// LoadConfig reads a YAML configuration file into a Config.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// ConfigFromEnv builds a Config from COMMCELL_* environment variables.
// Useful for containerized tooling where a config file is not practical.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix+"_SERVER", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to read server settings from environment: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg.Auth); err != nil {
		return nil, fmt.Errorf("failed to read auth settings from environment: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg.OpenTelemetry); err != nil {
		return nil, fmt.Errorf("failed to read telemetry settings from environment: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills in default values for optional fields. It is called
// automatically by Validate.
func (c *Config) SetDefaults() {
	if c.Server.Scheme == "" {
		c.Server.Scheme = "https"
	}
	if c.Server.Port == "" {
		if c.Server.Scheme == "http" {
			c.Server.Port = "80"
		} else {
			c.Server.Port = "443"
		}
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "commandcenter/api"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = "1m"
	}
	if c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

// Validate checks the configuration and returns an error describing the
// first problem found. Defaults are applied before validation.
func (c *Config) Validate() error {
	c.SetDefaults()

	if c.Server.Host == "" {
		return errors.New("server host is required")
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}
	if c.Server.Scheme != "http" && c.Server.Scheme != "https" {
		return fmt.Errorf("invalid server scheme: %s (must be http or https)", c.Server.Scheme)
	}
	if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
		return fmt.Errorf("invalid request timeout: %w", err)
	}
	if c.Auth.Token == "" {
		if c.Auth.Username == "" {
			return errors.New("either auth token or username/password is required")
		}
		if c.Auth.Password == "" {
			return errors.New("password is required when no auth token is set")
		}
	}
	if c.OpenTelemetry.Enabled && c.OpenTelemetry.Endpoint == "" {
		return errors.New("OpenTelemetry endpoint is required when telemetry is enabled")
	}
	return nil
}

// BaseURL returns the complete API base URL, with a trailing slash.
//
// Example: "https://commserve.example.com:443/commandcenter/api/"
func (c *Config) BaseURL() string {
	base := fmt.Sprintf("%s://%s:%s/%s", c.Server.Scheme, c.Server.Host, c.Server.Port,
		strings.Trim(c.Server.BasePath, "/"))
	return base + "/"
}

// RequestTimeout returns the parsed per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil {
		return time.Minute
	}
	return d
}

// MaskedPassword returns the password masked for logging, keeping only the
// first character visible.
func (c *Config) MaskedPassword() string {
	if len(c.Auth.Password) <= 1 {
		return "****"
	}
	return c.Auth.Password[:1] + strings.Repeat("*", len(c.Auth.Password)-1)
}
