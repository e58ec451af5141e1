// Package config loads padawan settings from a config file, a .env file and
// PADAWAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full padawan configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Caller    CallerConfig    `mapstructure:"caller"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Mission   MissionConfig   `mapstructure:"mission"`
	Report    ReportConfig    `mapstructure:"report"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel maps Level onto a slog level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l LogConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// AllowOrigins lists CORS origins for the mission API.
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// DSN returns URL, or a URL assembled from the individual fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("store.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("store.postgres.dbname required when url is not provided")
	}
	return nil
}

func (s StoreConfig) Validate() error {
	switch s.Driver {
	case "sqlite":
		if strings.TrimSpace(s.SQLite.Path) == "" {
			return fmt.Errorf("store.sqlite.path required")
		}
		return nil
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", s.Driver)
	}
}

type TokensConfig struct {
	// Backend is "store" (the mission database) or "redis".
	Backend   string        `mapstructure:"backend"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

func (t TokensConfig) Validate() error {
	switch t.Backend {
	case "store":
	case "redis":
		if strings.TrimSpace(t.Redis.Addr) == "" {
			return fmt.Errorf("tokens.redis.addr required")
		}
	default:
		return fmt.Errorf("tokens.backend must be store or redis, got %q", t.Backend)
	}
	return nil
}

type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Normalize falls back to the conventional provider environment variables
// for API keys.
func (l LLMConfig) Normalize() LLMConfig {
	if l.Gemini.APIKey == "" {
		l.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if l.OpenAI.APIKey == "" {
		l.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return l
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	return nil
}

type CallerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

func (c CallerConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("caller.max_retries must not be negative")
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("caller.base_delay must be positive and not exceed caller.max_delay")
	}
	return nil
}

type ToolsConfig struct {
	// PadawanAPI is the base URL substituted for {padawan_api} in tool URLs.
	PadawanAPI string        `mapstructure:"padawan_api"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MissionConfig struct {
	DefaultMaxSteps int `mapstructure:"default_max_steps"`
}

type ReportConfig struct {
	// Backend is "bleve", "http" or "none".
	Backend string          `mapstructure:"backend"`
	Bleve   BleveConfig     `mapstructure:"bleve"`
	HTTP    HTTPIndexConfig `mapstructure:"http"`
}

type BleveConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPIndexConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

func (r ReportConfig) Validate() error {
	switch r.Backend {
	case "bleve", "none":
	case "http":
		if strings.TrimSpace(r.HTTP.URL) == "" {
			return fmt.Errorf("report.http.url required")
		}
	default:
		return fmt.Errorf("report.backend must be bleve, http or none, got %q", r.Backend)
	}
	return nil
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite.path", "padawan.db")
	v.SetDefault("store.postgres.url", "")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", "5432")
	v.SetDefault("store.postgres.user", "padawan")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "padawan")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.max_open_conns", 25)
	v.SetDefault("store.postgres.auto_migrate", false)

	v.SetDefault("tokens.backend", "store")
	v.SetDefault("tokens.cache_size", 256)
	v.SetDefault("tokens.cache_ttl", 5*time.Minute)
	v.SetDefault("tokens.redis.addr", "localhost:6379")
	v.SetDefault("tokens.redis.password", "")
	v.SetDefault("tokens.redis.db", 0)
	v.SetDefault("tokens.redis.key", "padawan:tokens")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.base_url", "")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")

	v.SetDefault("caller.concurrency", 8)
	v.SetDefault("caller.max_retries", 6)
	v.SetDefault("caller.base_delay", 500*time.Millisecond)
	v.SetDefault("caller.max_delay", 30*time.Second)
	v.SetDefault("caller.rate_per_second", 0.0)
	v.SetDefault("caller.burst", 0)

	v.SetDefault("tools.padawan_api", "http://localhost:8080/api")
	v.SetDefault("tools.timeout", time.Minute)

	v.SetDefault("mission.default_max_steps", 5)

	v.SetDefault("report.backend", "bleve")
	v.SetDefault("report.bleve.path", "reports.bleve")
	v.SetDefault("report.http.url", "")
	v.SetDefault("report.http.api_key", "")

	v.SetDefault("workspace.root", "workspaces")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "padawan")
	v.SetDefault("telemetry.metrics_enabled", true)
}

// Load reads the configuration. path names a config file; when empty,
// padawan.{yaml,json,toml} is looked up in the working directory and
// ./config, and a missing file is not an error. A .env file in the working
// directory is loaded first without overriding the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("padawan")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("PADAWAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.LLM = cfg.LLM.Normalize()
	if cfg.Mission.DefaultMaxSteps <= 0 {
		cfg.Mission.DefaultMaxSteps = 5
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, fn := range []func() error{
		c.Log.Validate,
		c.Store.Validate,
		c.Tokens.Validate,
		c.LLM.Validate,
		c.Caller.Validate,
		c.Report.Validate,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
