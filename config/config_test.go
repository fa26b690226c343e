package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NotVinay/tastystream/streamer"
)

// clearEnv unsets every variable Load reads so the host environment does not
// leak into a test. Previous values are restored on cleanup.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TASTYWORKS_USERNAME", "TASTYWORKS_PASSWORD", "TASTYWORKS_API_URL",
		"TASTYWORKS_ACCOUNT_URL", "TASTYWORKS_ACCOUNTS", "PORT", "ALLOWED_ORIGINS",
		"LOG_LEVEL", "LOG_FORMAT", "STREAMER_HANDSHAKE_TIMEOUT", "STREAMER_RECONNECT",
		"STREAMER_SUBSCRIPTIONS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeTemp(t, "config.yaml", `
tastyworks:
  username: "trader"
  password: "secret"
  api_url: "https://api.cert.tastyworks.com"
  accounts: ["5WT00001"]
server:
  port: "9090"
logging:
  level: "debug"
  format: "text"
streamer:
  handshake_timeout: 3s
  keepalive: 15s
  reconnect:
    enabled: true
    max_retries: 5
    initial_interval: 500ms
    max_interval: 30s
    multiplier: 1.5
  subscriptions:
    Quote: ["SPY", "QQQ"]
    Greeks: [".SPY210419P410"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := &Config{
		Tastyworks: Tastyworks{
			Username:   "trader",
			Password:   "secret",
			APIURL:     "https://api.cert.tastyworks.com",
			AccountURL: streamer.DefaultAccountURL,
			Accounts:   []string{"5WT00001"},
		},
		Server: Server{
			Port:           "9090",
			AllowedOrigins: []string{"http://localhost:4200"},
		},
		Logging: Logging{Level: "debug", Format: "text"},
		Streamer: Streamer{
			HandshakeTimeout: 3 * time.Second,
			KeepAlive:        15 * time.Second,
			Reconnect: streamer.ReconnectPolicy{
				Enabled:         true,
				MaxRetries:      5,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
				Multiplier:      1.5,
			},
			Subscriptions: map[string][]string{
				"Quote":  {"SPY", "QQQ"},
				"Greeks": {".SPY210419P410"},
			},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeTemp(t, "config.yaml", `
tastyworks:
  username: "from-file"
  password: "secret"
`)
	t.Setenv("TASTYWORKS_USERNAME", "from-env")
	t.Setenv("PORT", "8181")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STREAMER_HANDSHAKE_TIMEOUT", "2s")
	t.Setenv("STREAMER_RECONNECT", "true")
	t.Setenv("STREAMER_SUBSCRIPTIONS", "Quote=SPY, QQQ; Trade=AAPL")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Tastyworks.Username != "from-env" {
		t.Errorf("Username = %q, want %q", cfg.Tastyworks.Username, "from-env")
	}
	if cfg.Server.Port != "8181" || cfg.Logging.Level != "warn" {
		t.Errorf("Port/Level = %q/%q", cfg.Server.Port, cfg.Logging.Level)
	}
	if cfg.Streamer.HandshakeTimeout != 2*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 2s", cfg.Streamer.HandshakeTimeout)
	}
	if !cfg.Streamer.Reconnect.Enabled || cfg.Streamer.Reconnect.MaxRetries != 10 {
		t.Errorf("Reconnect = %+v, want enabled with default retries", cfg.Streamer.Reconnect)
	}
	wantSubs := map[string][]string{"Quote": {"SPY", "QQQ"}, "Trade": {"AAPL"}}
	if diff := cmp.Diff(wantSubs, cfg.Streamer.Subscriptions); diff != "" {
		t.Errorf("Subscriptions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins); diff != "" {
		t.Errorf("AllowedOrigins mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		env        map[string]string
		wantErrMsg string
	}{
		{
			name:       "missing credentials",
			yaml:       "logging:\n  level: info\n",
			wantErrMsg: "TASTYWORKS_USERNAME and TASTYWORKS_PASSWORD are required",
		},
		{
			name:       "bad port",
			yaml:       "tastyworks: {username: u, password: p}\nserver: {port: http}\n",
			wantErrMsg: `invalid port "http"`,
		},
		{
			name:       "bad log format",
			yaml:       "tastyworks: {username: u, password: p}\nlogging: {format: xml}\n",
			wantErrMsg: `invalid log format "xml"`,
		},
		{
			name:       "bad duration in env",
			yaml:       "tastyworks: {username: u, password: p}\n",
			env:        map[string]string{"STREAMER_HANDSHAKE_TIMEOUT": "soon"},
			wantErrMsg: "STREAMER_HANDSHAKE_TIMEOUT",
		},
		{
			name:       "bad subscriptions in env",
			yaml:       "tastyworks: {username: u, password: p}\n",
			env:        map[string]string{"STREAMER_SUBSCRIPTIONS": "Quote"},
			wantErrMsg: "expected <type>=<symbols>",
		},
		{
			name:       "malformed yaml",
			yaml:       "tastyworks: [",
			wantErrMsg: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeTemp(t, "config.yaml", tt.yaml))
			if err == nil {
				t.Fatalf("expected an error but got none")
			}
			if !strings.Contains(err.Error(), tt.wantErrMsg) {
				t.Errorf("expected error message to contain %q, got %q", tt.wantErrMsg, err.Error())
			}
		})
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("loadEnvFile() on a missing file error: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_FORMAT", "json")
	path := writeTemp(t, ".env", `
# credentials
TASTYWORKS_USERNAME=trader
TASTYWORKS_PASSWORD="quoted secret"
LOG_FORMAT=text
`)

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() error: %v", err)
	}

	if got := os.Getenv("TASTYWORKS_USERNAME"); got != "trader" {
		t.Errorf("TASTYWORKS_USERNAME = %q, want %q", got, "trader")
	}
	if got := os.Getenv("TASTYWORKS_PASSWORD"); got != "quoted secret" {
		t.Errorf("TASTYWORKS_PASSWORD = %q, want %q", got, "quoted secret")
	}
	if got := os.Getenv("LOG_FORMAT"); got != "json" {
		t.Errorf("existing LOG_FORMAT was overridden: %q", got)
	}
}
