package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("src-endpoint", "", "")
	flags.String("src-access-key", "", "")
	flags.String("src-secret-key", "", "")
	flags.Bool("src-secure", false, "")
	flags.String("dst-endpoint", "", "")
	flags.String("dst-access-key", "", "")
	flags.String("dst-secret-key", "", "")
	flags.Bool("dst-secure", true, "")
	flags.String("bucket", "", "")
	flags.String("prefix", "", "")
	flags.Int("concurrency", 16, "")
	flags.Int("retries", 5, "")
	flags.Int("retry-backoff-ms", 500, "")
	flags.Bool("skip-existing", true, "")
	flags.Int("timeout", 0, "")
	flags.Int("interval", 0, "")
	flags.Bool("dry-run", false, "")
	flags.String("history", "./syncd.db", "")
	flags.String("metrics-addr", ":8080", "")
	flags.String("log-level", "info", "")
	return flags
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
source:
  endpoint: minio.local:9000
  access_key: src-key
  secret_key: src-secret
target:
  endpoint: rustfs.local:9000
  access_key: dst-key
  secret_key: dst-secret
  secure: true
sync:
  bucket: data
  prefix: reports/
  concurrency: 8
  timeout_seconds: 120
  interval_seconds: 300
log_level: debug
`

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	cfg, err := Load(path, testFlags())
	require.NoError(t, err)

	assert.Equal(t, "minio.local:9000", cfg.Source.Endpoint)
	assert.True(t, cfg.Target.Secure)
	assert.Equal(t, "data", cfg.Sync.Bucket)
	assert.Equal(t, "reports/", cfg.Sync.Prefix)
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.Interval())
	assert.Equal(t, "debug", cfg.LogLevel)

	// Defaults survive a partial file
	assert.Equal(t, 5, cfg.Sync.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff())
	assert.True(t, cfg.Sync.SkipExisting)
	assert.Equal(t, "./syncd.db", cfg.Sync.History)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	flags := testFlags()
	require.NoError(t, flags.Set("bucket", "other"))
	require.NoError(t, flags.Set("concurrency", "2"))
	require.NoError(t, flags.Set("interval", "0"))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "other", cfg.Sync.Bucket)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, time.Duration(0), cfg.Interval())
	// Untouched flags do not override file values
	assert.Equal(t, "reports/", cfg.Sync.Prefix)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(flags *pflag.FlagSet)
		wantErr string
	}{
		{
			name:    "missing source endpoint",
			mutate:  func(flags *pflag.FlagSet) { flags.Set("src-endpoint", "") },
			wantErr: "source endpoint is required",
		},
		{
			name:    "missing bucket",
			mutate:  func(flags *pflag.FlagSet) { flags.Set("bucket", "") },
			wantErr: "bucket is required",
		},
		{
			name:    "zero concurrency",
			mutate:  func(flags *pflag.FlagSet) { flags.Set("concurrency", "0") },
			wantErr: "concurrency must be positive",
		},
		{
			name:    "negative interval",
			mutate:  func(flags *pflag.FlagSet) { flags.Set("interval", "-1") },
			wantErr: "interval must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, validYAML)
			flags := testFlags()
			tt.mutate(flags)

			_, err := Load(path, flags)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDryRunNeedsNoEndpoints(t *testing.T) {
	flags := testFlags()
	require.NoError(t, flags.Set("dry-run", "true"))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.True(t, cfg.Sync.DryRun)
}
