package printarr

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

// ClientConfig is loaded from a hujson file, so the config may carry
// comments and trailing commas. absent fields take defaults.
type ClientConfig struct {
	ApiUrl     string `json:"api_url"`
	WsUrl      string `json:"ws_url,omitempty"`
	ByJwt      string `json:"by_jwt,omitempty"`
	AppVersion string `json:"app_version,omitempty"`

	UIStatePath string `json:"ui_state_path,omitempty"`

	HeartbeatTimeoutSeconds  int `json:"heartbeat_timeout_seconds,omitempty"`
	QueueBusyIntervalSeconds int `json:"queue_busy_interval_seconds,omitempty"`
	QueueIdleIntervalSeconds int `json:"queue_idle_interval_seconds,omitempty"`
	HealthIntervalSeconds    int `json:"health_interval_seconds,omitempty"`
}

func DefaultClientConfig(apiUrl string) *ClientConfig {
	config := &ClientConfig{
		ApiUrl: apiUrl,
	}
	config.applyDefaults()
	return config
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	standard, err := hujson.Standardize(b)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	config := &ClientConfig{}
	if err := json.Unmarshal(standard, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if config.ApiUrl == "" {
		return nil, fmt.Errorf("config %s missing api_url", path)
	}
	config.applyDefaults()
	return config, nil
}

func (self *ClientConfig) applyDefaults() {
	if self.WsUrl == "" {
		self.WsUrl = deriveWsUrl(self.ApiUrl)
	}
	if self.HeartbeatTimeoutSeconds <= 0 {
		self.HeartbeatTimeoutSeconds = 30
	}
	if self.QueueBusyIntervalSeconds <= 0 {
		self.QueueBusyIntervalSeconds = 5
	}
	if self.QueueIdleIntervalSeconds <= 0 {
		self.QueueIdleIntervalSeconds = 60
	}
	if self.HealthIntervalSeconds <= 0 {
		self.HealthIntervalSeconds = 30
	}
}

func (self *ClientConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(self.HeartbeatTimeoutSeconds) * time.Second
}

func (self *ClientConfig) QueueBusyInterval() time.Duration {
	return time.Duration(self.QueueBusyIntervalSeconds) * time.Second
}

func (self *ClientConfig) QueueIdleInterval() time.Duration {
	return time.Duration(self.QueueIdleIntervalSeconds) * time.Second
}

func (self *ClientConfig) HealthInterval() time.Duration {
	return time.Duration(self.HealthIntervalSeconds) * time.Second
}

func deriveWsUrl(apiUrl string) string {
	wsUrl := apiUrl
	if strings.HasPrefix(wsUrl, "https://") {
		wsUrl = "wss://" + strings.TrimPrefix(wsUrl, "https://")
	} else if strings.HasPrefix(wsUrl, "http://") {
		wsUrl = "ws://" + strings.TrimPrefix(wsUrl, "http://")
	}
	return strings.TrimSuffix(wsUrl, "/") + "/events"
}
