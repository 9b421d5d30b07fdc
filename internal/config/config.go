// Package config provides configuration management for chatrelay.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Defaults.
const (
	DefaultHTTPAddr              = ":8000"
	DefaultCompletionModel       = "gpt-4o-mini"
	DefaultOpenAISummaryModel    = "gpt-4o-mini"
	DefaultGeminiModel           = "gemini-2.5-flash"
	DefaultSummaryMaxTokens      = 500
	DefaultGracePeriod           = time.Second
	DefaultPostprocWorkers       = 4
	DefaultTranscriptTokenBudget = 6000
	DefaultWSReadLimit           = 64 * 1024
	DefaultWSPingInterval        = 30 * time.Second
	DefaultWSWriteTimeout        = 10 * time.Second
	DefaultCloseTimeout          = 10 * time.Second
	DefaultPostprocTimeout       = 2 * time.Minute
	DefaultRedisGroup            = "chatrelay-postproc"
	DefaultRecentSessionsLimit   = 10
	DefaultPatternSessionsLimit  = 5
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// ModeMock forces every model provider to the offline mock.
const ModeMock = "MOCK"

// Config holds chatrelay configuration.
type Config struct {
	HTTPAddr              string   `json:"CHATRELAY_HTTP_ADDR"`
	DBDriver              string   `json:"CHATRELAY_DB_DRIVER"`
	DBDSN                 string   `json:"CHATRELAY_DB_DSN"`
	CompletionProvider    string   `json:"CHATRELAY_COMPLETION_PROVIDER"`
	CompletionModel       string   `json:"CHATRELAY_COMPLETION_MODEL"`
	SummaryProvider       string   `json:"CHATRELAY_SUMMARY_PROVIDER"`
	SummaryModel          string   `json:"CHATRELAY_SUMMARY_MODEL"`
	OpenAIAPIKey          string   `json:"OPENAI_API_KEY"`
	OpenAIBaseURL         string   `json:"OPENAI_BASE_URL"`
	GeminiAPIKey          string   `json:"GEMINI_API_KEY"`
	Queue                 string   `json:"CHATRELAY_QUEUE"`
	RedisAddr             string   `json:"CHATRELAY_REDIS_ADDR"`
	RedisGroup            string   `json:"CHATRELAY_REDIS_GROUP"`
	LogLevel              string   `json:"CHATRELAY_LOG_LEVEL"`
	Mode                  string   `json:"CHATRELAY_MODE"`
	AllowedOrigins        []string `json:"-"`
	DBMaxConns            int      `json:"CHATRELAY_DB_MAX_CONNS"`
	SummaryMaxTokens      int      `json:"CHATRELAY_SUMMARY_MAX_TOKENS"`
	GracePeriodMS         int      `json:"CHATRELAY_GRACE_PERIOD_MS"`
	PostprocWorkers       int      `json:"CHATRELAY_POSTPROC_WORKERS"`
	TranscriptTokenBudget int      `json:"CHATRELAY_TRANSCRIPT_TOKEN_BUDGET"`
	WSReadLimit           int      `json:"CHATRELAY_WS_READ_LIMIT"`
	WSPingIntervalMS      int      `json:"CHATRELAY_WS_PING_INTERVAL_MS"`
	WSWriteTimeoutMS      int      `json:"CHATRELAY_WS_WRITE_TIMEOUT_MS"`
	CloseTimeoutMS        int      `json:"CHATRELAY_CLOSE_TIMEOUT_MS"`
	PostprocTimeoutMS     int      `json:"CHATRELAY_POSTPROC_TIMEOUT_MS"`
}

// settingsFile mirrors the on-disk settings; origins are kept as a comma list.
type settingsFile struct {
	Config
	AllowedOrigins string `json:"CHATRELAY_ALLOWED_ORIGINS"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:              DefaultHTTPAddr,
		DBDriver:              "sqlite",
		DBDSN:                 "",
		DBMaxConns:            4,
		CompletionProvider:    ProviderOpenAI,
		CompletionModel:       DefaultCompletionModel,
		SummaryProvider:       ProviderOpenAI,
		SummaryModel:          DefaultOpenAISummaryModel,
		SummaryMaxTokens:      DefaultSummaryMaxTokens,
		GracePeriodMS:         int(DefaultGracePeriod / time.Millisecond),
		PostprocWorkers:       DefaultPostprocWorkers,
		Queue:                 QueueMemory,
		RedisGroup:            DefaultRedisGroup,
		TranscriptTokenBudget: DefaultTranscriptTokenBudget,
		WSReadLimit:           DefaultWSReadLimit,
		WSPingIntervalMS:      int(DefaultWSPingInterval / time.Millisecond),
		WSWriteTimeoutMS:      int(DefaultWSWriteTimeout / time.Millisecond),
		CloseTimeoutMS:        int(DefaultCloseTimeout / time.Millisecond),
		PostprocTimeoutMS:     int(DefaultPostprocTimeout / time.Millisecond),
		AllowedOrigins:        []string{},
		LogLevel:              "info",
	}
}

// DataDir returns the data directory path.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatrelay")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "chatrelay.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ToolsPath returns the demo tool trigger table path.
func ToolsPath() string {
	return filepath.Join(DataDir(), "tools.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaults := map[string]interface{}{
		"CHATRELAY_HTTP_ADDR":           DefaultHTTPAddr,
		"CHATRELAY_DB_DRIVER":           "sqlite",
		"CHATRELAY_COMPLETION_PROVIDER": ProviderOpenAI,
		"CHATRELAY_COMPLETION_MODEL":    DefaultCompletionModel,
		"CHATRELAY_SUMMARY_PROVIDER":    ProviderOpenAI,
		"CHATRELAY_SUMMARY_MAX_TOKENS":  DefaultSummaryMaxTokens,
		"CHATRELAY_QUEUE":               QueueMemory,
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll ensures the data directory and settings file exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads configuration from the settings file, then applies environment
// variable overrides. A missing or unparsable settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		file := settingsFile{Config: *cfg}
		if err := json.Unmarshal(data, &file); err == nil {
			merged := file.Config
			merged.AllowedOrigins = splitTrim(file.AllowedOrigins)
			cfg = &merged
		}
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("CHATRELAY_HTTP_ADDR", &cfg.HTTPAddr)
	envString("CHATRELAY_DB_DRIVER", &cfg.DBDriver)
	envString("CHATRELAY_DB_DSN", &cfg.DBDSN)
	envInt("CHATRELAY_DB_MAX_CONNS", &cfg.DBMaxConns)
	envString("CHATRELAY_COMPLETION_PROVIDER", &cfg.CompletionProvider)
	envString("CHATRELAY_COMPLETION_MODEL", &cfg.CompletionModel)
	envString("CHATRELAY_SUMMARY_PROVIDER", &cfg.SummaryProvider)
	envString("CHATRELAY_SUMMARY_MODEL", &cfg.SummaryModel)
	envInt("CHATRELAY_SUMMARY_MAX_TOKENS", &cfg.SummaryMaxTokens)
	envString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	envString("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	envString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	envInt("CHATRELAY_GRACE_PERIOD_MS", &cfg.GracePeriodMS)
	envInt("CHATRELAY_POSTPROC_WORKERS", &cfg.PostprocWorkers)
	envString("CHATRELAY_QUEUE", &cfg.Queue)
	envString("CHATRELAY_REDIS_ADDR", &cfg.RedisAddr)
	envString("CHATRELAY_REDIS_GROUP", &cfg.RedisGroup)
	envInt("CHATRELAY_TRANSCRIPT_TOKEN_BUDGET", &cfg.TranscriptTokenBudget)
	envInt("CHATRELAY_WS_READ_LIMIT", &cfg.WSReadLimit)
	envInt("CHATRELAY_WS_PING_INTERVAL_MS", &cfg.WSPingIntervalMS)
	envInt("CHATRELAY_WS_WRITE_TIMEOUT_MS", &cfg.WSWriteTimeoutMS)
	envInt("CHATRELAY_CLOSE_TIMEOUT_MS", &cfg.CloseTimeoutMS)
	envInt("CHATRELAY_POSTPROC_TIMEOUT_MS", &cfg.PostprocTimeoutMS)
	envString("CHATRELAY_LOG_LEVEL", &cfg.LogLevel)
	envString("CHATRELAY_MODE", &cfg.Mode)
	if v := os.Getenv("CHATRELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitTrim(v)
	}
}

// normalize fills in derived values and forces mock providers in mock mode.
func (c *Config) normalize() {
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
	}
	if c.DBDSN == "" && c.DBDriver == "sqlite" {
		c.DBDSN = DBPath()
	}
	if c.SummaryProvider == ProviderGemini && c.SummaryModel == DefaultOpenAISummaryModel {
		c.SummaryModel = DefaultGeminiModel
	}
	if c.CompletionProvider == ProviderGemini && c.CompletionModel == DefaultCompletionModel {
		c.CompletionModel = DefaultGeminiModel
	}
	if strings.EqualFold(c.Mode, ModeMock) {
		c.CompletionProvider = ProviderMock
		c.SummaryProvider = ProviderMock
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{}
	}
}

// GracePeriod is the delay before post-processing reads back a session.
func (c *Config) GracePeriod() time.Duration {
	if c.GracePeriodMS < 0 {
		return 0
	}
	return time.Duration(c.GracePeriodMS) * time.Millisecond
}

// WSPingInterval is the websocket keepalive interval.
func (c *Config) WSPingInterval() time.Duration {
	if c.WSPingIntervalMS <= 0 {
		return DefaultWSPingInterval
	}
	return time.Duration(c.WSPingIntervalMS) * time.Millisecond
}

// WSWriteTimeout bounds a single websocket write.
func (c *Config) WSWriteTimeout() time.Duration {
	if c.WSWriteTimeoutMS <= 0 {
		return DefaultWSWriteTimeout
	}
	return time.Duration(c.WSWriteTimeoutMS) * time.Millisecond
}

// CloseTimeout bounds the cleanup a relay session runs when it closes.
func (c *Config) CloseTimeout() time.Duration {
	if c.CloseTimeoutMS <= 0 {
		return DefaultCloseTimeout
	}
	return time.Duration(c.CloseTimeoutMS) * time.Millisecond
}

// PostprocTimeout bounds one post-processing run.
func (c *Config) PostprocTimeout() time.Duration {
	if c.PostprocTimeoutMS <= 0 {
		return DefaultPostprocTimeout
	}
	return time.Duration(c.PostprocTimeoutMS) * time.Millisecond
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

// splitTrim splits a comma-separated string and trims whitespace from each element.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
