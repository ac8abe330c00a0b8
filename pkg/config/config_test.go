package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "Assistant", cfg.Widget.BotName)
	assert.Equal(t, 3000, cfg.Widget.GuardTimeoutMS)
	assert.Equal(t, 500, cfg.Widget.DebounceMS)
	assert.True(t, cfg.Cache.Enabled)
	require.Len(t, cfg.Backend.Endpoints, 1)
}

func TestLoadConfigTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[widget]
bot_name = "Glue"
accent_color = "#112233"

[backend]
website_key = "wk-1"
endpoints = ["https://a.example/", "https://b.example"]
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "Glue", cfg.Widget.BotName)
	assert.Equal(t, "#112233", cfg.Widget.AccentColor)
	assert.Equal(t, "wk-1", cfg.Backend.WebsiteKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.EndpointList())
	// File values merge over defaults, not replace them.
	assert.Equal(t, 3000, cfg.Widget.GuardTimeoutMS)
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "backend": {"website_key": "wk-json", "endpoints": ["https://c.example"]}
}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wk-json", cfg.Backend.WebsiteKey)
	assert.Equal(t, []string{"https://c.example"}, cfg.EndpointList())
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
website_key = "from-file"
`), 0644))

	t.Setenv("CHATWIDGET_BACKEND_WEBSITE_KEY", "from-env")
	t.Setenv("CHATWIDGET_WIDGET_GUARD_TIMEOUT_MS", "4500")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backend.WebsiteKey)
	assert.Equal(t, 4500, cfg.Widget.GuardTimeoutMS)
}

func TestLoadConfigFromEnvJSON(t *testing.T) {
	t.Setenv("CHATWIDGET_CONFIG_JSON", `{"widget": {"bot_name": "EnvBot"}}`)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "ignored.toml"))
	require.NoError(t, err)
	assert.Equal(t, "EnvBot", cfg.Widget.BotName)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := DefaultConfig()
	cfg.Backend.WebsiteKey = "wk-rt"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wk-rt", loaded.Backend.WebsiteKey)
}

func TestEndpointListCopies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Endpoints = []string{"https://a.example/"}

	list := cfg.EndpointList()
	list[0] = "mutated"
	assert.Equal(t, "https://a.example/", cfg.Backend.Endpoints[0])
}
