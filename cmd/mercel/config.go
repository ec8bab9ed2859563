package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Log      LogConfig      `mapstructure:"log"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Security SecurityConfig `mapstructure:"security"`
	Binding  BindingConfig  `mapstructure:"binding"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeployConfig controls execution environments and the build pipeline.
type DeployConfig struct {
	PortRangeLow      int           `mapstructure:"port_range_low"`
	PortRangeHigh     int           `mapstructure:"port_range_high"`
	BaseImage         string        `mapstructure:"base_image"`
	WorkDir           string        `mapstructure:"work_dir"`
	ExecTimeout       time.Duration `mapstructure:"exec_timeout"`
	SCMInstallCommand string        `mapstructure:"scm_install_command"`

	// FrameworkRules is an optional YAML file of rules evaluated before the
	// built-in ones.
	FrameworkRules string `mapstructure:"framework_rules"`
}

// WebhookConfig holds push webhook configuration.
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`

	// PublicURL is the externally reachable base URL of this server. Webhooks
	// are only registered when it is set.
	PublicURL string `mapstructure:"public_url"`
}

// HookURL returns the URL webhooks are registered with.
func (c WebhookConfig) HookURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicURL, "/") + "/api/webhook/listen"
}

// GitHubConfig holds source host API configuration.
type GitHubConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SecurityConfig holds secrets handling configuration.
type SecurityConfig struct {
	// TokenKey is the passphrase stored access tokens are sealed with.
	// Set via MERCEL_SECURITY_TOKEN_KEY. Empty disables access tokens.
	TokenKey string `mapstructure:"token_key"`
}

// BindingConfig holds custom domain binding configuration.
type BindingConfig struct {
	ProvisionerURL string        `mapstructure:"provisioner_url"`
	APIKey         string        `mapstructure:"api_key"`
	ServerIP       string        `mapstructure:"server_ip"`
	CanonicalHost  string        `mapstructure:"canonical_host"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// =============================================================================
// Config Loading
// =============================================================================

// Flags returns the command line flags. Flags that name a config key
// override the file and the environment.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mercel", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to config file")
	fs.Bool("version", false, "Print version and exit")
	fs.String("host", "", "HTTP listen host (server.host)")
	fs.IntP("port", "p", 0, "HTTP listen port (server.port)")
	fs.String("log-level", "", "Log level: debug, info, warn, error (log.level)")
	fs.String("database", "", "SQLite DSN (database.dsn)")
	return fs
}

var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"log-level": "log.level",
	"database":  "database.dsn",
}

// LoadConfig loads configuration from file, environment and flags. fs may
// be nil.
func LoadConfig(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30m") // deploys answer synchronously
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/mercel.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("deploy.port_range_low", 5000)
	v.SetDefault("deploy.port_range_high", 6000)
	v.SetDefault("deploy.base_image", "node:23-alpine")
	v.SetDefault("deploy.work_dir", "/app")
	v.SetDefault("deploy.exec_timeout", "15m")
	v.SetDefault("deploy.scm_install_command", "apk update && apk add --no-cache git")
	v.SetDefault("deploy.framework_rules", "")

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.public_url", "")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.timeout", "15s")
	v.SetDefault("security.token_key", "")

	v.SetDefault("binding.provisioner_url", "")
	v.SetDefault("binding.api_key", "")
	v.SetDefault("binding.server_ip", "")
	v.SetDefault("binding.canonical_host", "")
	v.SetDefault("binding.timeout", "30s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("MERCEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would only fail later at runtime.
func (c *Config) Validate() error {
	if c.Deploy.PortRangeLow < 1 || c.Deploy.PortRangeHigh > 65535 || c.Deploy.PortRangeLow > c.Deploy.PortRangeHigh {
		return fmt.Errorf("deploy port range %d-%d is invalid", c.Deploy.PortRangeLow, c.Deploy.PortRangeHigh)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is invalid", c.Server.Port)
	}
	if c.Server.Port >= c.Deploy.PortRangeLow && c.Server.Port <= c.Deploy.PortRangeHigh {
		return fmt.Errorf("server.port %d overlaps the deploy port range", c.Server.Port)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
