package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Selection: SelectionConfig{
			SlotCount:              2,
			WaitForImsStateTimeout: 3 * time.Second,
			ImsUnavailableGrace:    time.Second,
			VoNrKeyPrefix:          "domainselection:vonr_emergency",
		},
	}
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_HOST", "")
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	require.Error(t, c.Validate())
}

func TestValidate_ProductionRequiresDatabaseAndSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "dsd"
	c.Auth.JWTAudience = "operators"
	require.ErrorContains(t, c.Validate(), "DB_HOST is required in production")

	c.DB = DBConfig{Enabled: true, Host: "db", Port: 5432, User: "postgres", Name: "selection"}
	require.ErrorContains(t, c.Validate(), "DB_SSLMODE")

	c.DB.SSLMode = "verify-full"
	require.NoError(t, c.Validate())
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	c.DB = DBConfig{Enabled: true, Host: "localhost", Port: 5432, User: "postgres", Name: "selection"}
	require.NoError(t, c.Validate())
	require.Equal(t, "disable", c.DB.SSLMode)
	require.Equal(t, 15*time.Minute, c.Auth.AccessTokenTTL)
}

func TestValidate_SelectionKnobs(t *testing.T) {
	c := validConfig()
	c.Selection.SlotCount = 0
	c.Selection.WaitForImsStateTimeout = 0
	err := c.Validate()
	require.ErrorContains(t, err, "DS_SLOT_COUNT")
	require.ErrorContains(t, err, "DS_WAIT_FOR_IMS_STATE_TIMEOUT")
}

func TestLoad_SelectionDefaults(t *testing.T) {
	setBaseEnv(t)

	c, err := Load()
	require.NoError(t, err)
	require.False(t, c.DB.Enabled)
	require.Equal(t, 2, c.Selection.SlotCount)
	require.Equal(t, 3*time.Second, c.Selection.WaitForImsStateTimeout)
	require.Equal(t, time.Second, c.Selection.ImsUnavailableGrace)
	require.True(t, c.Selection.AuditEnabled)
	require.Equal(t, ":8080", c.HTTPAddr())
	require.Equal(t, "localhost:6379", c.RedisAddr())
}

func TestLoad_SelectionOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DS_SLOT_COUNT", "3")
	t.Setenv("DS_WAIT_FOR_IMS_STATE_TIMEOUT", "500ms")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("LOG_LEVEL", " WARN ")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, c.Selection.SlotCount)
	require.Equal(t, 500*time.Millisecond, c.Selection.WaitForImsStateTimeout)
	require.Equal(t, 4, c.Redis.DB)
	require.Equal(t, "warn", c.App.LogLevel)
}

func TestValidate_LogLevel(t *testing.T) {
	c := validConfig()
	c.App.LogLevel = "trace"
	require.ErrorContains(t, c.Validate(), "LOG_LEVEL")
}

func TestLoad_ParseErrors(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_PORT", "http")
	t.Setenv("DS_SLOT_COUNT", "two")

	_, err := Load()
	require.ErrorContains(t, err, "APP_PORT must be an integer")
	require.ErrorContains(t, err, "DS_SLOT_COUNT")
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsd.env")
	require.NoError(t, os.WriteFile(path, []byte("DS_TEST_FROM_FILE=yes\nDS_TEST_PRESET=file\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("DS_TEST_PRESET", "process")
	t.Cleanup(func() { _ = os.Unsetenv("DS_TEST_FROM_FILE") })

	require.NoError(t, LoadEnvFile())
	require.Equal(t, "yes", os.Getenv("DS_TEST_FROM_FILE"))
	require.Equal(t, "process", os.Getenv("DS_TEST_PRESET"))

	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, LoadEnvFile())
}
