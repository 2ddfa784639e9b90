package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "switchyard", cfg.Log.Name)
	require.Equal(t, 8090, cfg.APIServer.Port)
	require.Equal(t, "switchyard.db", cfg.DB.DSN)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchyard.yml")

	content := `
server:
  port: 9000
  request_timeout: 45s
engine:
  health:
    min_samples: 7
    error_rate_threshold: 0.4
  rate:
    cache_reservation_ratio: 0.25
redis:
  addr: 127.0.0.1:6379
resolver:
  conversion_enabled: true
  max_candidates: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SWITCHYARD_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.APIServer.Port)
	require.Equal(t, 45*time.Second, cfg.APIServer.RequestTimeout)
	require.Equal(t, 7, cfg.Engine.Health.MinSamples)
	require.InEpsilon(t, 0.4, cfg.Engine.Health.ErrorRateThreshold, 1e-9)
	require.InEpsilon(t, 0.25, cfg.Engine.Rate.CacheReservationRatio, 1e-9)
	require.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	require.True(t, cfg.Resolver.ConversionEnabled)
	require.Equal(t, 10, cfg.Resolver.MaxCandidates)

	// Defaults still apply to sections the file does not touch.
	require.Equal(t, "switchyard", cfg.Log.Name)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchyard.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))
	t.Setenv("SWITCHYARD_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
}
