package usbboot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverlaysPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbboot.ini")
	contents := `[usbboot]
blob-root = /srv/blobs
control-timeout = 3s
bulk-chunk-size = 2048
stall-retries = 5
detach-grace = 1s
log-level = debug
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/blobs", cfg.BlobRoot)
	assert.Equal(t, 3*time.Second, cfg.ControlTimeout)
	assert.Equal(t, 2048, cfg.BulkChunkSize)
	assert.Equal(t, 5, cfg.StallRetries)
	assert.Equal(t, 1*time.Second, cfg.DetachGrace)
	assert.Equal(t, LogDebug|LogInfo|LogError, cfg.LogLevel)

	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultConfig().BulkTimeout, cfg.BulkTimeout)
}

func TestLoadConfigIgnoresNonPositiveOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbboot.ini")
	contents := `[usbboot]
bulk-chunk-size = 0
stall-retries = -1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().BulkChunkSize, cfg.BulkChunkSize)
	assert.Equal(t, DefaultConfig().StallRetries, cfg.StallRetries)
}

func TestParseLogLevelCombinesAndIgnoresUnknown(t *testing.T) {
	assert.Equal(t, LogError, parseLogLevel("error"))
	assert.Equal(t, LogInfo|LogError, parseLogLevel("info"))
	assert.Equal(t, LogTraceUSB|LogDebug|LogInfo|LogError, parseLogLevel("trace-usb"))
	assert.Equal(t, LogAll, parseLogLevel("all"))
	assert.Equal(t, LogError, parseLogLevel("error, bogus"))
	assert.Equal(t, LogLevel(0), parseLogLevel(""))
}
