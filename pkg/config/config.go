package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Widget  WidgetConfig  `json:"widget" toml:"widget"`
	Backend BackendConfig `json:"backend" toml:"backend"`
	Cache   CacheConfig   `json:"cache" toml:"cache"`
	Host    HostConfig    `json:"host" toml:"host"`
	mu      sync.RWMutex
}

// WidgetConfig holds the presentation defaults used before the backend's
// site configuration arrives, plus the timing knobs of the core.
type WidgetConfig struct {
	BotName            string   `json:"bot_name" toml:"bot_name" env:"CHATWIDGET_WIDGET_BOT_NAME"`
	AccentColor        string   `json:"accent_color" toml:"accent_color" env:"CHATWIDGET_WIDGET_ACCENT_COLOR"`
	WelcomeText        string   `json:"welcome_text" toml:"welcome_text" env:"CHATWIDGET_WIDGET_WELCOME_TEXT"`
	InstructionText    string   `json:"instruction_text,omitempty" toml:"instruction_text" env:"CHATWIDGET_WIDGET_INSTRUCTION_TEXT"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty" toml:"suggested_questions"`
	AllowAutoActions   bool     `json:"allow_auto_actions" toml:"allow_auto_actions" env:"CHATWIDGET_WIDGET_ALLOW_AUTO_ACTIONS"`

	// Timing, all in milliseconds.
	GuardTimeoutMS       int `json:"guard_timeout_ms" toml:"guard_timeout_ms" env:"CHATWIDGET_WIDGET_GUARD_TIMEOUT_MS"`
	DebounceMS           int `json:"debounce_ms" toml:"debounce_ms" env:"CHATWIDGET_WIDGET_DEBOUNCE_MS"`
	RedirectDelayMS      int `json:"redirect_delay_ms" toml:"redirect_delay_ms" env:"CHATWIDGET_WIDGET_REDIRECT_DELAY_MS"`
	WelcomeBackPollMS    int `json:"welcome_back_poll_ms" toml:"welcome_back_poll_ms" env:"CHATWIDGET_WIDGET_WELCOME_BACK_POLL_MS"`
	WelcomeBackAttempts  int `json:"welcome_back_attempts" toml:"welcome_back_attempts" env:"CHATWIDGET_WIDGET_WELCOME_BACK_ATTEMPTS"`
	WelcomeBackDeadlineS int `json:"welcome_back_deadline_s" toml:"welcome_back_deadline_s" env:"CHATWIDGET_WIDGET_WELCOME_BACK_DEADLINE_S"`
}

// BackendConfig identifies the site to the chat backend and lists the
// endpoints to try, in order. The first entry is the primary; every later
// entry is a fallback tried once after any failure. No URL is special-cased
// in code, so primary and fallback can be swapped freely.
type BackendConfig struct {
	WebsiteKey       string   `json:"website_key" toml:"website_key" env:"CHATWIDGET_BACKEND_WEBSITE_KEY"`
	Endpoints        []string `json:"endpoints" toml:"endpoints" env:"CHATWIDGET_BACKEND_ENDPOINTS"`
	RequestTimeoutMS int      `json:"request_timeout_ms" toml:"request_timeout_ms" env:"CHATWIDGET_BACKEND_REQUEST_TIMEOUT_MS"`
}

type CacheConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled" env:"CHATWIDGET_CACHE_ENABLED"`
	Path    string `json:"path" toml:"path" env:"CHATWIDGET_CACHE_PATH"`
}

type HostConfig struct {
	Host         string `json:"host" toml:"host" env:"CHATWIDGET_HOST_HOST"`
	Port         int    `json:"port" toml:"port" env:"CHATWIDGET_HOST_PORT"`
	Username     string `json:"username" toml:"username" env:"CHATWIDGET_HOST_USERNAME"`
	Password     string `json:"password" toml:"password" env:"CHATWIDGET_HOST_PASSWORD"`
	SendsPerMin  int    `json:"sends_per_min" toml:"sends_per_min" env:"CHATWIDGET_HOST_SENDS_PER_MIN"`
	CurrentPage  string `json:"current_page" toml:"current_page" env:"CHATWIDGET_HOST_CURRENT_PAGE"`
}

func DefaultConfig() *Config {
	return &Config{
		Widget: WidgetConfig{
			BotName:              "Assistant",
			AccentColor:          "#6c5ce7",
			WelcomeText:          "Hi! How can I help you today?",
			SuggestedQuestions:   []string{},
			AllowAutoActions:     true,
			GuardTimeoutMS:       3000,
			DebounceMS:           500,
			RedirectDelayMS:      1500,
			WelcomeBackPollMS:    500,
			WelcomeBackAttempts:  20,
			WelcomeBackDeadlineS: 10,
		},
		Backend: BackendConfig{
			WebsiteKey:       "",
			Endpoints:        []string{"https://api.shopglue.dev/v1"},
			RequestTimeoutMS: 30000,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "~/.chatwidget/sessions.db",
		},
		Host: HostConfig{
			Host:        "0.0.0.0",
			Port:        18810,
			SendsPerMin: 30,
		},
	}
}

// LoadConfig reads config from CHATWIDGET_CONFIG_JSON, a .toml file, or a
// .json file, then applies environment overrides. A missing file yields
// defaults rather than an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Support full config from env var (for containers / serverless)
	if cfgJSON := os.Getenv("CHATWIDGET_CONFIG_JSON"); cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), cfg); err != nil {
			return nil, fmt.Errorf("parsing CHATWIDGET_CONFIG_JSON: %w", err)
		}
		if err := env.Parse(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			if perr := env.Parse(cfg); perr != nil {
				return nil, perr
			}
			return cfg, nil
		}
		return nil, err
	}

	if strings.HasSuffix(path, ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(expandHome(path))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(expandHome(path), data, 0644)
}

// CachePath returns the cache database path with ~ expanded.
func (c *Config) CachePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Cache.Path)
}

// EndpointList returns a copy of the ordered backend endpoints with
// trailing slashes trimmed.
func (c *Config) EndpointList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.Backend.Endpoints))
	for _, e := range c.Backend.Endpoints {
		out = append(out, strings.TrimRight(e, "/"))
	}
	return out
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
