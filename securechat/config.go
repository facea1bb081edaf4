package securechat

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vovakirdan/securechat-sdk-go/securechat/storage"
)

// Config controls how the SDK talks to the server.
type Config struct {
	APIBaseURL string // e.g. http://localhost:8000
	WSBaseURL  string // derived from APIBaseURL when empty

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 disables; the server has no application-level ping
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration

	ReconnectDelay time.Duration
	TypingTimeout  time.Duration
	SearchDebounce time.Duration

	StorageDriver string // memory, pebble or sqlite
	StoragePath   string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:       "http://localhost:8000",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		RequestTimeout:   30 * time.Second,
		ReconnectDelay:   3 * time.Second,
		TypingTimeout:    2 * time.Second,
		SearchDebounce:   300 * time.Millisecond,
		StorageDriver:    storage.DriverMemory,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API base URL cannot be empty")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API base URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.WSBaseURL != "" {
		w, err := url.Parse(c.WSBaseURL)
		if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") || w.Host == "" {
			return fmt.Errorf("WebSocket base URL must be an absolute ws(s) URL, got %q", c.WSBaseURL)
		}
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.TypingTimeout <= 0 {
		return errors.New("typing timeout must be positive")
	}
	if c.SearchDebounce < 0 {
		return errors.New("search debounce cannot be negative")
	}
	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	switch c.StorageDriver {
	case "", storage.DriverMemory:
	case storage.DriverPebble, storage.DriverSQLite:
		if c.StoragePath == "" {
			return fmt.Errorf("storage driver %q requires a storage path", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	return nil
}

// WebSocketBase returns WSBaseURL, or the API URL with its scheme switched to
// ws/wss.
func (c Config) WebSocketBase() string {
	if c.WSBaseURL != "" {
		return strings.TrimRight(c.WSBaseURL, "/")
	}
	base := strings.TrimRight(c.APIBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Environment variables read by LoadFromEnv.
const (
	EnvAPIURL         = "SECURECHAT_API_URL"
	EnvWSURL          = "SECURECHAT_WS_URL"
	EnvStorageDriver  = "SECURECHAT_STORAGE"
	EnvStoragePath    = "SECURECHAT_DATA_PATH"
	EnvReconnectDelay = "SECURECHAT_RECONNECT_DELAY"
	EnvRequestTimeout = "SECURECHAT_REQUEST_TIMEOUT"
)

// LoadFromEnv starts from DefaultConfig and applies SECURECHAT_* variables.
// Files named in envFiles (default ".env") are loaded first if they exist;
// variables already set in the environment win.
func LoadFromEnv(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		cfg.WSBaseURL = v
	}
	if v := os.Getenv(EnvStorageDriver); v != "" {
		cfg.StorageDriver = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv(EnvReconnectDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvReconnectDelay, err)
		}
		cfg.ReconnectDelay = d
	}
	if v := os.Getenv(EnvRequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	return cfg, cfg.Validate()
}
