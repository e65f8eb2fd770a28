package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, "5175", cfg.Port)
	assert.Equal(t, "./data/poetry.db", cfg.DBPath)
	assert.Equal(t, 15, cfg.GameTimeLimit)
	assert.Equal(t, "medium", cfg.GameDifficulty)
	assert.Equal(t, 14, cfg.JWTExpiresDays)
	assert.Equal(t, "feihua_token", cfg.CookieName)
	assert.False(t, cfg.Production())
}

func TestLoadFromEnvAndDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GAME_TIME_LIMIT=30\nCOOKIE_NAME=from_file\n"), 0o644))
	t.Setenv("COOKIE_NAME", "from_env")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("PORT", "9000")
	t.Cleanup(func() { _ = os.Unsetenv("GAME_TIME_LIMIT") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.GameTimeLimit)
	assert.Equal(t, "from_env", cfg.CookieName, "environment wins over .env")
	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.Production())
}

func TestLoadRejectsBadTimeLimit(t *testing.T) {
	t.Setenv("GAME_TIME_LIMIT", "0")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}
