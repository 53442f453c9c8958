package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Chat.MaxMessages)
	assert.Equal(t, 24*time.Hour, cfg.Chat.MaxAge)
	assert.Equal(t, time.Hour, cfg.Chat.SweepInterval)
	assert.Equal(t, "models", cfg.Paths.Models)

	name, provider, err := cfg.LLM.Active()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, name)
	assert.Equal(t, "https://api.openai.com/v1", provider.URL)
}

func TestLoadProviderFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LLM_PROVIDER", "deepseek")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("DEEPSEEK_MODEL", "deepseek-reasoner")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("CHAT_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	name, provider, err := cfg.LLM.Active()
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, name)
	assert.Equal(t, "sk-test", provider.APIKey)
	assert.Equal(t, "deepseek-reasoner", provider.Model)
	assert.Equal(t, "https://api.deepseek.com/v1", provider.URL)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 0.0001)
	assert.True(t, cfg.Chat.Debug)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lowcode.yaml")
	content := `
server:
  port: "9000"
database:
  driver: sqlite
  url: file:test.db
paths:
  modules: custom/modules
chat:
  store: redis
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "custom/modules", cfg.Paths.Modules)
	assert.Equal(t, "redis", cfg.Chat.Store)
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LLM_PROVIDER", "claude")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestCORSOrigins(t *testing.T) {
	c := CORSConfig{AllowedOrigins: " http://a.test , ,http://b.test"}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.Origins())
	assert.Empty(t, CORSConfig{}.Origins())
}

// chdir changes the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
