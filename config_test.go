package printarr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadClientConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(path, []byte(`{
		// local server
		"api_url": "https://printarr.local/api",
		"by_jwt": "test-jwt",
		"queue_busy_interval_seconds": 2,
	}`), 0600)
	assert.Equal(t, err, nil)

	config, err := LoadClientConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.ApiUrl, "https://printarr.local/api")
	assert.Equal(t, config.ByJwt, "test-jwt")
	assert.Equal(t, config.QueueBusyInterval(), 2*time.Second)

	// absent fields take defaults
	assert.Equal(t, config.WsUrl, "wss://printarr.local/api/events")
	assert.Equal(t, config.HeartbeatTimeout(), 30*time.Second)
	assert.Equal(t, config.QueueIdleInterval(), 60*time.Second)
	assert.Equal(t, config.HealthInterval(), 30*time.Second)
}

func TestLoadClientConfigMissingApiUrl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(path, []byte(`{"by_jwt": "test-jwt"}`), 0600)
	assert.Equal(t, err, nil)

	_, err = LoadClientConfig(path)
	assert.NotEqual(t, err, nil)
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.NotEqual(t, err, nil)
}

func TestDeriveWsUrl(t *testing.T) {
	assert.Equal(t, deriveWsUrl("http://localhost:7878/api"), "ws://localhost:7878/api/events")
	assert.Equal(t, deriveWsUrl("https://printarr.local/api/"), "wss://printarr.local/api/events")
}
