// Package config provides configuration management for lowcode
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted by llm.provider
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

// Config holds the runtime configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Database DatabaseConfig `mapstructure:"database"`
	Paths    PathsConfig    `mapstructure:"paths"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	AccessExpiry int    `mapstructure:"access_expiry"`
	// Disabled skips bearer validation; requests run as the configured dev user.
	Disabled bool `mapstructure:"disabled"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins   string `mapstructure:"allowed_origins"`
	AllowCredentials bool   `mapstructure:"allow_credentials"`
}

// Origins returns the configured origins as a list
func (c CORSConfig) Origins() []string {
	return splitString(c.AllowedOrigins)
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// PathsConfig locates generated artifacts on disk
type PathsConfig struct {
	Models     string `mapstructure:"models"`
	Migrations string `mapstructure:"migrations"`
	Seeders    string `mapstructure:"seeders"`
	Modules    string `mapstructure:"modules"`
}

// ProviderConfig holds the endpoint settings of one LLM provider
type ProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
	Model  string `mapstructure:"model"`
}

// LLMConfig selects and configures the chat completion provider
type LLMConfig struct {
	Provider    string         `mapstructure:"provider"`
	Temperature float64        `mapstructure:"temperature"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	OpenAI      ProviderConfig `mapstructure:"openai"`
	DeepSeek    ProviderConfig `mapstructure:"deepseek"`
}

// Active returns the settings of the selected provider
func (c LLMConfig) Active() (string, ProviderConfig, error) {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "", ProviderOpenAI:
		return ProviderOpenAI, c.OpenAI, nil
	case ProviderDeepSeek:
		return ProviderDeepSeek, c.DeepSeek, nil
	default:
		return "", ProviderConfig{}, fmt.Errorf("unknown llm provider: %s", c.Provider)
	}
}

// ChatConfig holds conversation settings
type ChatConfig struct {
	Debug         bool          `mapstructure:"debug"`
	Store         string        `mapstructure:"store"`
	MaxMessages   int           `mapstructure:"max_messages"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
}

// RedisConfig holds the optional session backend settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// WatchConfig controls the model directory watcher
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// envBindings maps config keys to the bare environment names operators use.
var envBindings = map[string][]string{
	"llm.provider":         {"LLM_PROVIDER"},
	"llm.temperature":      {"LLM_TEMPERATURE"},
	"llm.openai.api_key":   {"OPENAI_API_KEY"},
	"llm.openai.url":       {"OPENAI_API_URL"},
	"llm.openai.model":     {"OPENAI_MODEL"},
	"llm.deepseek.api_key": {"DEEPSEEK_API_KEY"},
	"llm.deepseek.url":     {"DEEPSEEK_API_URL"},
	"llm.deepseek.model":   {"DEEPSEEK_MODEL"},
	"chat.debug":           {"CHAT_DEBUG"},
	"database.url":         {"DATABASE_URL"},
	"auth.jwt_secret":      {"JWT_SECRET"},
	"server.port":          {"PORT"},
	"cors.allowed_origins": {"CORS_ALLOWED_ORIGINS"},
	"redis.addr":           {"REDIS_ADDR"},
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 0)

	// Auth
	v.SetDefault("auth.access_expiry", 24)
	v.SetDefault("auth.disabled", false)

	// CORS
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://localhost:8080")
	v.SetDefault("cors.allow_credentials", true)

	// Database
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")

	// Paths
	v.SetDefault("paths.models", "models")
	v.SetDefault("paths.migrations", "database/migrations")
	v.SetDefault("paths.seeders", "database/seeders")
	v.SetDefault("paths.modules", "modules")

	// LLM
	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.openai.url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.deepseek.url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.deepseek.model", "deepseek-chat")

	// Chat
	v.SetDefault("chat.store", "memory")
	v.SetDefault("chat.max_messages", 50)
	v.SetDefault("chat.max_age", 24*time.Hour)
	v.SetDefault("chat.sweep_interval", time.Hour)
	v.SetDefault("chat.settle_delay", 2*time.Second)

	// Redis
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "lowcode:chat:")

	// Watch
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 500*time.Millisecond)
}

// Load reads lowcode.yaml (optional) from path or the working directory,
// then applies LOWCODE_* and the recognised bare environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lowcode")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOWCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: unsupported server.mode %q", c.Server.Mode)
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if _, _, err := c.LLM.Active(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Chat.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported chat.store %q", c.Chat.Store)
	}
	if c.Chat.MaxMessages <= 0 {
		return fmt.Errorf("config: chat.max_messages must be positive")
	}
	return nil
}

// splitString splits a comma-separated string into a slice
func splitString(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
