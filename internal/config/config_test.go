package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_id: 694202137
backend:
  url: wss://comp.example.org/api/device
timer:
  port: /dev/ttyAMA0
card_reader:
  device: /dev/hidraw0
  encoding: hex
buttons:
  penalty: 5
  check_interval: 10ms
session:
  stale_after: 2h
mqtt:
  broker: tcp://10.0.0.2:1883
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(694202137), cfg.DeviceID)
	assert.Equal(t, "wss://comp.example.org/api/device", cfg.Backend.URL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Backend.ReconnectInterval, "default kept")
	assert.Equal(t, "/dev/ttyAMA0", cfg.Timer.Port)
	assert.Equal(t, "hex", cfg.CardReader.Encoding)
	assert.Equal(t, 5, cfg.Buttons.Penalty)
	assert.Equal(t, Default().Buttons.Submit, cfg.Buttons.Submit)
	assert.Equal(t, 10*time.Millisecond, cfg.Buttons.CheckInterval)
	assert.Equal(t, 2*time.Hour, cfg.Session.StaleAfter)
	assert.Equal(t, "tcp://10.0.0.2:1883", cfg.MQTT.Broker)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("backend:\n  uri: ws://x\n"), &cfg)
	assert.ErrorContains(t, err, "uri")
}

func TestParseRejectsMultipleDocuments(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("device_id: 1\n---\ndevice_id: 2\n"), &cfg)
	assert.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no url", func(c *Config) { c.Backend.URL = "" }, "backend.url is required"},
		{"http url", func(c *Config) { c.Backend.URL = "http://x" }, "want ws or wss"},
		{"reconnect", func(c *Config) { c.Backend.ReconnectInterval = 0 }, "reconnect_interval"},
		{"check interval", func(c *Config) { c.Buttons.CheckInterval = 0 }, "check_interval"},
		{"shared pin", func(c *Config) { c.Buttons.Submit = c.Buttons.Penalty }, "already used"},
		{"negative pin", func(c *Config) { c.Buttons.Delegate = -1 }, "negative pin"},
		{"store path", func(c *Config) { c.Session.StorePath = "" }, "store_path"},
		{"stale", func(c *Config) { c.Session.StaleAfter = 0 }, "stale_after"},
		{"card encoding", func(c *Config) { c.CardReader.Encoding = "base64" }, "card_reader.encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestResolveDeviceID(t *testing.T) {
	cfg := Default()
	a := cfg.ResolveDeviceID("terminal-01")
	assert.Equal(t, a, cfg.ResolveDeviceID("terminal-01"), "stable")
	assert.NotEqual(t, a, cfg.ResolveDeviceID("terminal-02"))
	assert.Less(t, a, uint32(1<<31))

	cfg.DeviceID = 42
	assert.Equal(t, uint32(42), cfg.ResolveDeviceID("terminal-01"))
}
