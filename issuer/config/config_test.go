package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 3, cfg.Sessions.MaxAccounts)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("ISSUER_APP_PORT", "9090")
	defer os.Unsetenv("ISSUER_APP_PORT")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
}

func TestLoad_ProductionRequiresCookieKey(t *testing.T) {
	os.Setenv("ISSUER_APP_ENVIRONMENT", "production")
	defer os.Unsetenv("ISSUER_APP_ENVIRONMENT")

	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoad_InvalidMaxAccounts(t *testing.T) {
	os.Setenv("ISSUER_SESSIONS_MAX_ACCOUNTS", "0")
	defer os.Unsetenv("ISSUER_SESSIONS_MAX_ACCOUNTS")

	_, err := Load(t.TempDir())
	require.Error(t, err)
}
