package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "./data/mercel.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, 5000, cfg.Deploy.PortRangeLow)
	assert.Equal(t, 6000, cfg.Deploy.PortRangeHigh)
	assert.Equal(t, "node:23-alpine", cfg.Deploy.BaseImage)
	assert.Equal(t, "/app", cfg.Deploy.WorkDir)
	assert.Equal(t, 15*time.Minute, cfg.Deploy.ExecTimeout)
	assert.Equal(t, "apk update && apk add --no-cache git", cfg.Deploy.SCMInstallCommand)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	assert.Empty(t, cfg.Security.TokenKey)
	assert.Empty(t, cfg.Webhook.HookURL())
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  write_timeout: 20m

database:
  dsn: "/tmp/test.db"

log:
  level: "debug"
  format: "text"

deploy:
  port_range_low: 7000
  port_range_high: 7100
  exec_timeout: 5m

webhook:
  secret: "s3cret"
  public_url: "https://mercel.example.com/"

binding:
  provisioner_url: "http://localhost:9001"
  server_ip: "203.0.113.10"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 20*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7000, cfg.Deploy.PortRangeLow)
	assert.Equal(t, 7100, cfg.Deploy.PortRangeHigh)
	assert.Equal(t, 5*time.Minute, cfg.Deploy.ExecTimeout)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, "https://mercel.example.com/api/webhook/listen", cfg.Webhook.HookURL())
	assert.Equal(t, "http://localhost:9001", cfg.Binding.ProvisionerURL)
	assert.Equal(t, "203.0.113.10", cfg.Binding.ServerIP)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("MERCEL_SERVER_PORT", "3000")
	t.Setenv("MERCEL_DATABASE_DSN", "/custom/path.db")
	t.Setenv("MERCEL_LOG_LEVEL", "warn")
	t.Setenv("MERCEL_SECURITY_TOKEN_KEY", "passphrase")
	t.Setenv("MERCEL_DEPLOY_BASE_IMAGE", "node:22-alpine")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "passphrase", cfg.Security.TokenKey)
	assert.Equal(t, "node:22-alpine", cfg.Deploy.BaseImage)
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("MERCEL_SERVER_PORT", "3000")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--port", "4000", "--log-level", "debug"}))

	cfg, err := LoadConfig("", fs)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml", nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile, nil)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidPortRange(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"inverted", map[string]string{"MERCEL_DEPLOY_PORT_RANGE_LOW": "6000", "MERCEL_DEPLOY_PORT_RANGE_HIGH": "5000"}},
		{"too high", map[string]string{"MERCEL_DEPLOY_PORT_RANGE_HIGH": "70000"}},
		{"overlaps api port", map[string]string{"MERCEL_SERVER_PORT": "5500"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig("", nil)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level  string
		format string
	}{
		{"info", "json"},
		{"info", "text"},
		{"debug", "json"},
		{"warn", "json"},
		{"error", "text"},
		{"invalid", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger := SetupLogger(&Config{Log: LogConfig{Level: tt.level, Format: tt.format}})
			assert.NotNil(t, logger)
		})
	}
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

func TestLoadDetector_ExtraRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: nuxt
    dependencies: [nuxt]
    run: npm run dev
`), 0644))

	d, err := loadDetector(path)
	require.NoError(t, err)

	plan, err := d.Detect(`{"dependencies":{"nuxt":"^3.0.0"}}`, 5001)
	require.NoError(t, err)
	assert.Equal(t, "nuxt", plan.Framework)

	_, err = loadDetector(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "MERCEL_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}
