package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "balsam", cfg.AppName)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Equal(t, "postgres", cfg.LockBackend)
	assert.Equal(t, []string{"GET", "POST", "PUT", "DELETE"}, cfg.AllowMethods)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SCHEDULER_WORKERS=9\nLOCK_TTL=90s\n"), 0o600))
	t.Setenv("PORT", "8081")
	t.Cleanup(func() {
		os.Unsetenv("SCHEDULER_WORKERS")
		os.Unsetenv("LOCK_TTL")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, 9, cfg.SchedulerWorkers)
	assert.Equal(t, 90*time.Second, cfg.LockTTL)
}

func TestUsage(t *testing.T) {
	assert.Contains(t, Usage(), "LOCK_TTL")
}
