package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Mailbox.Username = "parts@example.com"
	cfg.Mailbox.Password = "secret"
	cfg.LLM.APIKey = "key"
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("IMAP_HOST", "")
	t.Setenv("LLM_COOLDOWN", "")
	cfg := LoadConfig()
	assert.Equal(t, "outlook.office365.com", cfg.Mailbox.Host)
	assert.Equal(t, 993, cfg.Mailbox.Port)
	assert.Equal(t, "INBOX", cfg.Mailbox.Mailbox)
	assert.Equal(t, 60*time.Second, cfg.LLM.Cooldown)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, 1, cfg.Watch.Workers)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("IMAP_PORT", "1993")
	t.Setenv("LLM_COOLDOWN", "15s")
	t.Setenv("LLM_TEMPERATURE", "0.1")
	t.Setenv("OUTPUT_XLSX", "true")
	t.Setenv("SYSTEM_INSTRUCTIONS", "Parts are for a Boeing 737 fleet.")
	t.Setenv("WORKERS", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, 1993, cfg.Mailbox.Port)
	assert.Equal(t, 15*time.Second, cfg.LLM.Cooldown)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-6)
	assert.True(t, cfg.Output.Workbook)
	assert.Equal(t, "Parts are for a Boeing 737 fleet.", cfg.LLM.SystemInstructions)
	assert.Equal(t, 1, cfg.Watch.Workers, "unparseable values keep the default")
}

func TestLoadFromFile_EnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: gemini-pro\n  max_quota_cycles: 3\ndatabase:\n  driver: sqlite\n"), 0o644))
	t.Setenv("LLM_MODEL", "gemini-1.5-pro")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.MaxQuotaCycles)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.InDelta(t, 0.9, cfg.LLM.TopP, 1e-6, "unset keys keep defaults")
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Mailbox.Password = ""
	cfg.LLM.APIKey = ""
	cfg.Database.Driver = "oracle"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "CONFIG_ERROR", ErrorCode(err))
	assert.Contains(t, err.Error(), "EMAIL_PASSWORD")
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
	assert.Contains(t, err.Error(), "DB_DRIVER")
}

func TestValidate_MailDirSkipsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Mailbox.Username = ""
	cfg.Mailbox.Password = ""
	require.Error(t, cfg.Validate())

	cfg.Mailbox.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
}

func TestValidateWatch(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateWatch())

	cfg.Watch.Workers = 0
	require.Error(t, cfg.ValidateWatch())
}
