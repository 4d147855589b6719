package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_DIR", "")
	t.Setenv("HISTORY_DB", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Queue.Concurrency)
	assert.Equal(t, 300, cfg.ErrorLog.Limit)
	assert.Equal(t, 2*time.Second, cfg.ErrorLog.FlushDelay)
	assert.Equal(t, 4000, cfg.ErrorLog.TextLimit)
	assert.Equal(t, filepath.Join("storage", "errors.json"), cfg.Storage.ErrorsPath())
	assert.Equal(t, filepath.Join("storage", "saved-translations.json"), cfg.Storage.TranslationsPath())
	assert.Equal(t, filepath.Join("storage", "history.db"), cfg.Storage.HistoryPath())
	assert.Equal(t, language.English, cfg.Translate.SourceTag())
	assert.False(t, cfg.LLM.Enabled())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetchbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  dir: /var/lib/fetchbot
  cookies_file: /etc/fetchbot/cookies.txt
queue:
  concurrency: 2
  shutdown_timeout: 45s
error_log:
  flush_delay: 500ms
update:
  cron: "@daily"
bot:
  admin_chat_id: 42
`), 0o644))

	t.Setenv("QUEUE_CONCURRENCY", "3")
	t.Setenv("ERROR_LOG_FLUSH_DELAY", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fetchbot", cfg.Storage.Dir)
	assert.Equal(t, "/etc/fetchbot/cookies.txt", cfg.Storage.CookiesPath())
	assert.Equal(t, filepath.Join("/var/lib/fetchbot", "errors.json"), cfg.Storage.ErrorsPath())
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Queue.ShutdownTimeout)
	assert.Zero(t, cfg.ErrorLog.FlushDelay)
	assert.Equal(t, "@daily", cfg.Update.CronExpr)
	assert.Equal(t, int64(42), cfg.Bot.AdminChatID)
}

func TestStorageConfig_HistoryCanBeDisabled(t *testing.T) {
	t.Setenv("HISTORY_DB", "off")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Storage.HistoryPath())
}

func TestLoad_OptionsApplyLast(t *testing.T) {
	t.Setenv("QUEUE_CONCURRENCY", "3")

	cfg, err := Load("", func(c *Config) { c.Queue.Concurrency = 5 })
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"concurrency", "QUEUE_CONCURRENCY", "0", "QUEUE_CONCURRENCY"},
		{"cron", "UPDATE_CRON", "every day", "UPDATE_CRON"},
		{"language", "SOURCE_LANGUAGE", "not a tag", "SOURCE_LANGUAGE"},
		{"log level", "LOG_LEVEL", "loud", "LOG_LEVEL"},
		{"llm temperature", "LLM_TEMPERATURE", "5", "LLM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if tt.want == "LLM" {
				t.Setenv("LLM_API_KEY", "key")
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestGetEnvDuration_AcceptsMilliseconds(t *testing.T) {
	t.Setenv("TEST_DELAY", "1500")
	assert.Equal(t, 1500*time.Millisecond, getEnvDuration("TEST_DELAY", time.Second))

	t.Setenv("TEST_DELAY", "soon")
	assert.Equal(t, time.Second, getEnvDuration("TEST_DELAY", time.Second))
}

func TestRedactedHidesAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret"
	assert.NotContains(t, cfg.redacted(), "sk-secret")
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}
