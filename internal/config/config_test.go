package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/kptv")
	t.Setenv("REDIS_URL", "")
	t.Setenv("FETCHER_USER_AGENT", "")
	t.Setenv("FETCHER_TIMEOUT", "")
	t.Setenv("SYNC_FETCH_RETRIES", "")
	t.Setenv("SYNC_FETCH_BACKOFF", "")
	t.Setenv("SYNC_MAX_BACKOFF", "")
	t.Setenv("SYNC_BATCH_SIZE", "")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/kptv", c.DatabaseURL)
	require.Equal(t, "KPTVSync/1.0", c.UserAgent)
	require.Equal(t, 30*time.Second, c.Timeout)
	require.Equal(t, 3, c.FetchRetries)
	require.Equal(t, 2*time.Second, c.FetchBackoff)
	require.Equal(t, 60*time.Second, c.MaxBackoff)
	require.Equal(t, 1000, c.BatchSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/kptv")
	t.Setenv("FETCHER_USER_AGENT", "Custom/2.0")
	t.Setenv("FETCHER_TIMEOUT", "90s")
	t.Setenv("SYNC_FETCH_RETRIES", "5")
	t.Setenv("SYNC_FETCH_BACKOFF", "500ms")
	t.Setenv("SYNC_BATCH_SIZE", "250")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "Custom/2.0", c.UserAgent)
	require.Equal(t, 90*time.Second, c.Timeout)
	require.Equal(t, 5, c.FetchRetries)
	require.Equal(t, 500*time.Millisecond, c.FetchBackoff)
	require.Equal(t, 250, c.BatchSize)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `database_url: postgres://localhost/kptv
redis_url: redis://localhost:6379/0
user_agent: FileAgent/1.0
timeout: 45s
fetch_retries: "4"
batch_size: "500"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/kptv", c.DatabaseURL)
	require.Equal(t, "redis://localhost:6379/0", c.RedisURL)
	require.Equal(t, "FileAgent/1.0", c.UserAgent)
	require.Equal(t, 45*time.Second, c.Timeout)
	require.Equal(t, 4, c.FetchRetries)
	require.Equal(t, 500, c.BatchSize)
	// untouched fields keep defaults
	require.Equal(t, 2*time.Second, c.FetchBackoff)
}

func TestLoadFromFile_MissingDatabaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_agent: X\n"), 0o644))

	_, err := LoadFromFile(path)
	require.ErrorIs(t, err, ErrMissingDatabaseURL)
}

func TestApplyEnvFile(t *testing.T) {
	t.Setenv("KPTV_TEST_SET", "already")
	t.Setenv("KPTV_TEST_UNSET", "")
	os.Unsetenv("KPTV_TEST_UNSET")

	applyEnvFile([]byte(`
# comment
KPTV_TEST_UNSET="from-file"
KPTV_TEST_SET=overridden
not-a-pair
`))
	require.Equal(t, "from-file", os.Getenv("KPTV_TEST_UNSET"))
	require.Equal(t, "already", os.Getenv("KPTV_TEST_SET"))
}
