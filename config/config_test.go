package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "nvidia-smi", cfg.Collector.Command)
	assert.Equal(t, 2*time.Second, cfg.Collector.RefreshInterval)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Logger.Console)
	assert.Equal(t, 10, cfg.Logger.MaxSize)
	assert.False(t, cfg.Storage.File.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "ksysguardd/gpu", cfg.MQTT.Topic)
	assert.Empty(t, cfg.Fields)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
collector:
  command: /opt/nvidia/bin/nvidia-smi
  refresh_interval: 5s
fields:
  - id: temperature.fahrenheit
    type: float
    unit: "°F"
    max: 212
    script_code: |
      function generate(field) { return convertTemperature(field("temperature.gpu"), "C", "F") }
  - id: memory.used
    unit: GiB
    max_field: memory.total
logger:
  level: debug
  console: false
storage:
  file:
    enabled: true
    path: /var/lib/ksysguardd
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic: lab/gpus
  qos: 1
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/opt/nvidia/bin/nvidia-smi", cfg.Collector.Command)
	assert.Equal(t, 5*time.Second, cfg.Collector.RefreshInterval)
	require.Len(t, cfg.Fields, 2)
	assert.Equal(t, "temperature.fahrenheit", cfg.Fields[0].ID)
	assert.Equal(t, "float", cfg.Fields[0].Type)
	assert.Equal(t, 212.0, cfg.Fields[0].Max)
	assert.Contains(t, cfg.Fields[0].ScriptCode, "convertTemperature")
	assert.Equal(t, "memory.total", cfg.Fields[1].MaxField)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Logger.Console)
	assert.Equal(t, 5, cfg.Logger.MaxBackups)
	assert.True(t, cfg.Storage.File.Enabled)
	assert.Equal(t, "lab/gpus", cfg.MQTT.Topic)
	assert.Equal(t, 1, cfg.MQTT.QoS)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("KSYSGUARDD_NVIDIA_COLLECTOR_COMMAND", "/usr/local/bin/nvidia-smi")
	t.Setenv("KSYSGUARDD_NVIDIA_LOGGER_LEVEL", "warn")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/nvidia-smi", cfg.Collector.Command)
	assert.Equal(t, "warn", cfg.Logger.Level)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "collector:\n  command: from-file\n  refresh_interval: 5s\n")

	fs := NewFlagSet("test")
	require.NoError(t, fs.Parse([]string{"--refresh-interval=500ms", "--log-level=error"}))

	cfg, err := LoadConfig(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Collector.Command)
	assert.Equal(t, 500*time.Millisecond, cfg.Collector.RefreshInterval)
	assert.Equal(t, "error", cfg.Logger.Level)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "logger:\n  level: chatty\n"},
		{"bad interval", "collector:\n  refresh_interval: 1ms\n"},
		{"bad qos", "mqtt:\n  qos: 3\n"},
		{"bad db type", "storage:\n  database:\n    enabled: true\n    type: sqlite\n    dsn: x\n"},
		{"db without dsn", "storage:\n  database:\n    enabled: true\n    type: mysql\n"},
		{"bad field id", "fields:\n  - id: \"temp gpu\"\n"},
		{"bad field type", "fields:\n  - id: temp\n    type: string\n"},
		{"max and max_field", "fields:\n  - id: temp\n    max: 10\n    max_field: other\n"},
		{"two scripts", "fields:\n  - id: temp\n    script_code: x\n    script_path: y\n"},
		{"duplicate field", "fields:\n  - id: temp\n  - id: temp\n"},
		{"duplicate path", "fields:\n  - id: temp.gpu\n  - id: temp/gpu\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content), nil)
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestWatchConfig(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: info\n")

	var level atomic.Value
	err := WatchConfig(path, nil, func(cfg *Config) error {
		level.Store(cfg.Logger.Level)
		return nil
	})
	require.NoError(t, err)

	// replace the file in one step so the watcher never sees it half written
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("logger:\n  level: debug\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 5*time.Second, 50*time.Millisecond)
}
