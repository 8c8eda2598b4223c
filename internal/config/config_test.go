package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := fromEnv(envMap(map[string]string{
		"BOT_TOKEN":    "123:abc",
		"BOT_USERNAME": "@breakroom_bot",
	}))
	require.NoError(t, err)

	assert.Equal(t, "breakroom_bot", cfg.BotUsername)
	assert.Equal(t, ModePolling, cfg.BotMode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "data/breakroom.db", cfg.DBPath)
	assert.Equal(t, 300*time.Second, cfg.Cooldown)
	assert.Equal(t, 8, cfg.FanoutConcurrency)
	assert.Equal(t, 25.0, cfg.FanoutRate)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, DefaultSignalTemplate, cfg.SignalTemplate)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.APIEnabled)
	assert.False(t, cfg.Webhook())
	assert.Empty(t, cfg.RedisAddr)
}

func TestOverrides(t *testing.T) {
	cfg, err := fromEnv(envMap(map[string]string{
		"BOT_TOKEN":          "123:abc",
		"BOT_USERNAME":       "breakroom_bot",
		"BOT_MODE":           "webhook",
		"WEBHOOK_URL":        "https://example.com/telegram/webhook",
		"WEBHOOK_SECRET":     "s3cret",
		"PORT":               "9090",
		"STORE":              "postgres",
		"DATABASE_URL":       "postgres://localhost/breakroom",
		"REDIS_ADDR":         "localhost:6379",
		"REDIS_DB":           "2",
		"COOLDOWN_SECONDS":   "60",
		"FANOUT_CONCURRENCY": "4",
		"FANOUT_RATE":        "12.5",
		"SEND_TIMEOUT":       "3s",
		"SIGNAL_TEMPLATE":    "coffee with %s?",
		"API_ENABLED":        "true",
		"LOG_LEVEL":          "debug",
		"LOG_FORMAT":         "JSON",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Webhook())
	assert.Equal(t, "s3cret", cfg.WebhookSecret)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, time.Minute, cfg.Cooldown)
	assert.Equal(t, 4, cfg.FanoutConcurrency)
	assert.Equal(t, 12.5, cfg.FanoutRate)
	assert.Equal(t, 3*time.Second, cfg.SendTimeout)
	assert.Equal(t, "coffee with %s?", cfg.SignalTemplate)
	assert.True(t, cfg.APIEnabled)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestSendTimeoutAcceptsSeconds(t *testing.T) {
	cfg, err := fromEnv(envMap(map[string]string{
		"BOT_DISABLED": "true",
		"SEND_TIMEOUT": "7",
	}))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.SendTimeout)
}

func TestValidation(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"BOT_TOKEN":    "123:abc",
			"BOT_USERNAME": "breakroom_bot",
		}
	}

	tests := []struct {
		name    string
		set     map[string]string
		unset   []string
		wantErr string
	}{
		{name: "missing token", unset: []string{"BOT_TOKEN"}, wantErr: "BOT_TOKEN is required"},
		{name: "missing username", unset: []string{"BOT_USERNAME"}, wantErr: "BOT_USERNAME is required"},
		{name: "bad mode", set: map[string]string{"BOT_MODE": "carrier-pigeon"}, wantErr: "BOT_MODE"},
		{name: "webhook without url", set: map[string]string{"BOT_MODE": "webhook"}, wantErr: "WEBHOOK_URL"},
		{name: "postgres without url", set: map[string]string{"STORE": "postgres"}, wantErr: "DATABASE_URL"},
		{name: "unknown store", set: map[string]string{"STORE": "mongo"}, wantErr: "STORE"},
		{name: "non-numeric port", set: map[string]string{"PORT": "http"}, wantErr: "PORT"},
		{name: "port out of range", set: map[string]string{"PORT": "70000"}, wantErr: "PORT"},
		{name: "zero cooldown", set: map[string]string{"COOLDOWN_SECONDS": "0"}, wantErr: "COOLDOWN_SECONDS"},
		{name: "negative concurrency", set: map[string]string{"FANOUT_CONCURRENCY": "-1"}, wantErr: "FANOUT_CONCURRENCY"},
		{name: "bad rate", set: map[string]string{"FANOUT_RATE": "fast"}, wantErr: "FANOUT_RATE"},
		{name: "bad timeout", set: map[string]string{"SEND_TIMEOUT": "soon"}, wantErr: "SEND_TIMEOUT"},
		{name: "template without verb", set: map[string]string{"SIGNAL_TEMPLATE": "break time"}, wantErr: "SIGNAL_TEMPLATE"},
		{name: "template with extra verb", set: map[string]string{"SIGNAL_TEMPLATE": "%s wants %d breaks"}, wantErr: "SIGNAL_TEMPLATE"},
		{name: "bad log level", set: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "LOG_LEVEL"},
		{name: "bad log format", set: map[string]string{"LOG_FORMAT": "xml"}, wantErr: "LOG_FORMAT"},
		{name: "bad bool", set: map[string]string{"API_ENABLED": "maybe"}, wantErr: "API_ENABLED"},
		{name: "short api secret", set: map[string]string{"API_TOKEN_SECRET": "tiny"}, wantErr: "API_TOKEN_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := base()
			for k, v := range tt.set {
				env[k] = v
			}
			for _, k := range tt.unset {
				delete(env, k)
			}

			_, err := fromEnv(envMap(env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReportsEveryProblem(t *testing.T) {
	_, err := fromEnv(envMap(map[string]string{
		"PORT":     "http",
		"STORE":    "mongo",
		"BOT_MODE": "fax",
	}))
	require.Error(t, err)

	for _, want := range []string{"BOT_TOKEN", "BOT_USERNAME", "PORT", "STORE", "BOT_MODE"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestBotDisabledSkipsTelegramKeys(t *testing.T) {
	cfg, err := fromEnv(envMap(map[string]string{
		"BOT_DISABLED": "true",
		"STORE":        "memory",
		"BOT_MODE":     "webhook",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.BotDisabled)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "BOT_TOKEN=from-file\nBOT_USERNAME=file_bot\nCOOLDOWN_SECONDS=42\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// Variables already in the environment win over the file.
	t.Setenv("BOT_USERNAME", "env_bot")
	// godotenv only sets variables that are unset, so make sure these are.
	t.Setenv("BOT_TOKEN", "")
	os.Unsetenv("BOT_TOKEN")
	t.Setenv("COOLDOWN_SECONDS", "")
	os.Unsetenv("COOLDOWN_SECONDS")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.BotToken)
	assert.Equal(t, "env_bot", cfg.BotUsername)
	assert.Equal(t, 42*time.Second, cfg.Cooldown)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("BOT_DISABLED", "true")

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: slog.LevelWarn, LogFormat: "json"}
	logger := cfg.NewLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
