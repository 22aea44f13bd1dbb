package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `inference:
  bucket_width: "15m"
  workers: 2
  matcher:
    type: "lp"
    conf:
      max_variables: 400
storage:
  path: "data/bikepoa.db"
feed:
  discovery_url: "https://example.com/gbfs.json"
weather:
  latitude: -30.0346
  longitude: -51.2177
  timezone: "America/Sao_Paulo"
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "prometheus"
runlog:
  backend: "sqlite"
  path: "runs.db"
mqtt:
  broker: "tcp://localhost:1883"
  qos: 1
kafka:
  brokers: ["localhost:9092"]
cache:
  addr: "localhost:6379"
api:
  addr: ":8080"
service:
  infer_interval: "5m"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "15m", cfg.Inference.BucketWidth)
	assert.Equal(t, 2, cfg.Inference.Workers)
	assert.Equal(t, "lp", cfg.Inference.Matcher.Type)
	assert.Equal(t, "data/bikepoa.db", cfg.Storage.Path)
	assert.Equal(t, 30, cfg.Feed.TimeoutSeconds)
	assert.Equal(t, "America/Sao_Paulo", cfg.Weather.Timezone)
	assert.Equal(t, ":9100", cfg.Metrics.PrometheusAddr)
	require.Len(t, cfg.Metrics.Sinks, 1)
	assert.Equal(t, "prometheus", cfg.Metrics.Sinks[0].Type)
	assert.Equal(t, "sqlite", cfg.RunLog.Backend)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "bikeflow", cfg.MQTT.TopicPrefix)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "bikeflow.runs", cfg.Kafka.RunsTopic)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, ":8080", cfg.API.Addr)

	poll, infer, window, err := cfg.Service.Durations()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, poll)
	assert.Equal(t, 5*time.Minute, infer)
	assert.Equal(t, 24*time.Hour, window)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.json", `{"mqtt": {"broker": "tcp://a:1883"}}`)
	t.Setenv("K_MQTT__BROKER", "tcp://b:1883")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://b:1883", cfg.MQTT.Broker)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", ""))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yaml", "inference:\n  bucket_width: \"-5m\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yaml", "inference:\n  matcher:\n    type: \"hungarian\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yaml", "service:\n  window: \"0s\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yaml", "runlog:\n  backend: \"csv\"\n"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "greedy", cfg.Inference.Matcher.Type)
	assert.Equal(t, "bikeflow.db", cfg.Storage.Path)
	assert.Equal(t, "jsonl", cfg.RunLog.Backend)
}
