package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NotVinay/tastystream/streamer"
	"github.com/NotVinay/tastystream/tastyworks"
)

// Config represents the application configuration.
type Config struct {
	Tastyworks Tastyworks `yaml:"tastyworks"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	Streamer   Streamer   `yaml:"streamer"`
}

// Tastyworks holds credentials and endpoints of the brokerage API.
type Tastyworks struct {
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	APIURL     string   `yaml:"api_url"`
	AccountURL string   `yaml:"account_url"`
	Accounts   []string `yaml:"accounts"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Streamer configures the quote streamer.
type Streamer struct {
	HandshakeTimeout time.Duration            `yaml:"handshake_timeout"`
	KeepAlive        time.Duration            `yaml:"keepalive"`
	Reconnect        streamer.ReconnectPolicy `yaml:"reconnect"`
	// Subscriptions maps an event type to the symbols subscribed at start.
	Subscriptions map[string][]string `yaml:"subscriptions"`
}

// Default returns the configuration used for anything not set elsewhere.
func Default() *Config {
	reconnect := streamer.DefaultReconnectPolicy()
	reconnect.Enabled = false
	return &Config{
		Tastyworks: Tastyworks{
			APIURL:     tastyworks.DefaultAPIURL,
			AccountURL: streamer.DefaultAccountURL,
		},
		Server: Server{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:4200"},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Streamer: Streamer{
			HandshakeTimeout: streamer.DefaultHandshakeTimeout,
			Reconnect:        reconnect,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty), a .env file in the working directory and finally the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Tastyworks.Username == "" || c.Tastyworks.Password == "" {
		errs = append(errs, errors.New("TASTYWORKS_USERNAME and TASTYWORKS_PASSWORD are required. Please set them in your .env file or environment variables"))
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (want json or text)", c.Logging.Format))
	}
	if c.Streamer.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("streamer handshake_timeout must be positive"))
	}
	if r := c.Streamer.Reconnect; r.Enabled {
		if r.MaxRetries < 0 {
			errs = append(errs, errors.New("streamer reconnect max_retries must not be negative"))
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			errs = append(errs, errors.New("streamer reconnect multiplier must be at least 1"))
		}
	}
	for eventType, symbols := range c.Streamer.Subscriptions {
		if eventType == "" || len(symbols) == 0 {
			errs = append(errs, fmt.Errorf("subscription %q has no symbols", eventType))
		}
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	cfg.Tastyworks.Username = getEnv("TASTYWORKS_USERNAME", cfg.Tastyworks.Username)
	cfg.Tastyworks.Password = getEnv("TASTYWORKS_PASSWORD", cfg.Tastyworks.Password)
	cfg.Tastyworks.APIURL = getEnv("TASTYWORKS_API_URL", cfg.Tastyworks.APIURL)
	cfg.Tastyworks.AccountURL = getEnv("TASTYWORKS_ACCOUNT_URL", cfg.Tastyworks.AccountURL)
	if v := os.Getenv("TASTYWORKS_ACCOUNTS"); v != "" {
		cfg.Tastyworks.Accounts = splitList(v)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if v := os.Getenv("STREAMER_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STREAMER_HANDSHAKE_TIMEOUT: %w", err)
		}
		cfg.Streamer.HandshakeTimeout = d
	}
	if v := os.Getenv("STREAMER_RECONNECT"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STREAMER_RECONNECT: %w", err)
		}
		cfg.Streamer.Reconnect.Enabled = enabled
	}
	if v := os.Getenv("STREAMER_SUBSCRIPTIONS"); v != "" {
		subs, err := parseSubscriptions(v)
		if err != nil {
			return fmt.Errorf("STREAMER_SUBSCRIPTIONS: %w", err)
		}
		cfg.Streamer.Subscriptions = subs
	}
	return nil
}

// parseSubscriptions parses "Quote=SPY,QQQ;Greeks=.SPY210419P410".
func parseSubscriptions(v string) (map[string][]string, error) {
	subs := make(map[string][]string)
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eventType, symbols, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("expected <type>=<symbols> in %q", part)
		}
		eventType = strings.TrimSpace(eventType)
		subs[eventType] = append(subs[eventType], splitList(symbols)...)
	}
	return subs, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file. Variables that
// are already set are not overridden and a missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getEnv gets an environment variable with a fallback value.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
