package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// envKeys are cleared around every test so the host environment cannot leak in.
var envKeys = []string{
	"CHATRELAY_HTTP_ADDR", "CHATRELAY_DB_DRIVER", "CHATRELAY_DB_DSN", "CHATRELAY_COMPLETION_PROVIDER",
	"CHATRELAY_COMPLETION_MODEL", "CHATRELAY_SUMMARY_PROVIDER", "CHATRELAY_SUMMARY_MODEL",
	"CHATRELAY_SUMMARY_MAX_TOKENS", "CHATRELAY_GRACE_PERIOD_MS", "CHATRELAY_QUEUE", "CHATRELAY_MODE",
	"CHATRELAY_ALLOWED_ORIGINS", "OPENAI_API_KEY", "GEMINI_API_KEY",
}

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	s.origHomeDir = os.Getenv("HOME")
	s.T().Setenv("HOME", s.tempDir)
	for _, k := range envKeys {
		s.T().Setenv(k, "")
	}
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultHTTPAddr, cfg.HTTPAddr)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(4, cfg.DBMaxConns)
	s.Equal(ProviderOpenAI, cfg.CompletionProvider)
	s.Equal(DefaultCompletionModel, cfg.CompletionModel)
	s.Equal(500, cfg.SummaryMaxTokens)
	s.Equal(time.Second, cfg.GracePeriod())
	s.Equal(QueueMemory, cfg.Queue)
	s.Equal(DefaultWSPingInterval, cfg.WSPingInterval())
	s.Equal(DefaultWSWriteTimeout, cfg.WSWriteTimeout())
	s.Empty(cfg.AllowedOrigins)
}

func (s *ConfigSuite) TestPaths() {
	s.Contains(DataDir(), ".chatrelay")
	s.Contains(DBPath(), "chatrelay.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(ToolsPath(), "tools.yaml")
	s.Equal(s.tempDir, filepath.Dir(DataDir()))
}

func (s *ConfigSuite) TestEnsureSettings() {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(EnsureSettings())

	_, err := os.Stat(SettingsPath())
	s.NoError(err)

	// Existing file is left alone.
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(`{"CHATRELAY_HTTP_ADDR": ":9"}`), 0600))
	s.Require().NoError(EnsureSettings())
	data, err := os.ReadFile(SettingsPath())
	s.Require().NoError(err)
	s.Contains(string(data), ":9")
}

func (s *ConfigSuite) TestEnsureAll() {
	s.Require().NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.Require().NoError(err)
	s.True(info.IsDir())

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(DefaultHTTPAddr, cfg.HTTPAddr)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name             string
		settingsJSON     string
		env              map[string]string
		expectedAddr     string
		expectedProvider string
		expectedTokens   int
		expectedOrigins  []string
	}{
		{
			name:             "no settings file",
			expectedAddr:     DefaultHTTPAddr,
			expectedProvider: ProviderOpenAI,
			expectedTokens:   500,
			expectedOrigins:  []string{},
		},
		{
			name:             "custom address and origins",
			settingsJSON:     `{"CHATRELAY_HTTP_ADDR": ":9100", "CHATRELAY_ALLOWED_ORIGINS": "https://a.test, https://b.test"}`,
			expectedAddr:     ":9100",
			expectedProvider: ProviderOpenAI,
			expectedTokens:   500,
			expectedOrigins:  []string{"https://a.test", "https://b.test"},
		},
		{
			name:             "env overrides file",
			settingsJSON:     `{"CHATRELAY_HTTP_ADDR": ":9100", "CHATRELAY_SUMMARY_MAX_TOKENS": 300}`,
			env:              map[string]string{"CHATRELAY_HTTP_ADDR": ":9200", "CHATRELAY_SUMMARY_MAX_TOKENS": "250"},
			expectedAddr:     ":9200",
			expectedProvider: ProviderOpenAI,
			expectedTokens:   250,
			expectedOrigins:  []string{},
		},
		{
			name:             "mock mode forces providers",
			settingsJSON:     `{"CHATRELAY_COMPLETION_PROVIDER": "gemini"}`,
			env:              map[string]string{"CHATRELAY_MODE": "MOCK"},
			expectedAddr:     DefaultHTTPAddr,
			expectedProvider: ProviderMock,
			expectedTokens:   500,
			expectedOrigins:  []string{},
		},
		{
			name:             "invalid JSON returns defaults",
			settingsJSON:     `{invalid}`,
			expectedAddr:     DefaultHTTPAddr,
			expectedProvider: ProviderOpenAI,
			expectedTokens:   500,
			expectedOrigins:  []string{},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			tempDir, err := os.MkdirTemp("", "config-test-*")
			s.Require().NoError(err)
			defer os.RemoveAll(tempDir)
			os.Setenv("HOME", tempDir)

			s.Require().NoError(os.MkdirAll(filepath.Join(tempDir, ".chatrelay"), 0750))
			if tt.settingsJSON != "" {
				s.Require().NoError(os.WriteFile(
					filepath.Join(tempDir, ".chatrelay", "settings.json"),
					[]byte(tt.settingsJSON),
					0600,
				))
			}
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.env {
					os.Setenv(k, "")
				}
			}()

			cfg, err := Load()
			s.NoError(err)
			s.Require().NotNil(cfg)
			s.Equal(tt.expectedAddr, cfg.HTTPAddr)
			s.Equal(tt.expectedProvider, cfg.CompletionProvider)
			s.Equal(tt.expectedTokens, cfg.SummaryMaxTokens)
			s.Equal(tt.expectedOrigins, cfg.AllowedOrigins)
			s.Equal(filepath.Join(tempDir, ".chatrelay", "chatrelay.db"), cfg.DBDSN)
		})
	}
}

func (s *ConfigSuite) TestLoad_GeminiModelDefaults() {
	os.Setenv("CHATRELAY_COMPLETION_PROVIDER", ProviderGemini)
	os.Setenv("CHATRELAY_SUMMARY_PROVIDER", ProviderGemini)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(DefaultGeminiModel, cfg.CompletionModel)
	s.Equal(DefaultGeminiModel, cfg.SummaryModel)
}

func (s *ConfigSuite) TestLoad_PostgresKeepsDSN() {
	os.Setenv("CHATRELAY_DB_DRIVER", "postgres")
	os.Setenv("CHATRELAY_DB_DSN", "postgres://localhost/chatrelay")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("postgres://localhost/chatrelay", cfg.DBDSN)
}

func TestDurations(t *testing.T) {
	cfg := &Config{GracePeriodMS: -5, WSPingIntervalMS: 0, WSWriteTimeoutMS: 250}
	assert.Equal(t, time.Duration(0), cfg.GracePeriod())
	assert.Equal(t, DefaultWSPingInterval, cfg.WSPingInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.WSWriteTimeout())
	assert.Equal(t, DefaultCloseTimeout, cfg.CloseTimeout())
	assert.Equal(t, DefaultPostprocTimeout, cfg.PostprocTimeout())

	cfg.CloseTimeoutMS = 1500
	cfg.PostprocTimeoutMS = 30000
	assert.Equal(t, 1500*time.Millisecond, cfg.CloseTimeout())
	assert.Equal(t, 30*time.Second, cfg.PostprocTimeout())
}

// TestSplitTrim tests the splitTrim helper function.
func TestSplitTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", []string{}},
		{"single value", "a", []string{"a"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"empty values filtered", "a,,b,,", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitTrim(tt.input))
		})
	}
}
