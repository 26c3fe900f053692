package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aidin1998/salesflow/internal/infrastructure/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, messaging.DriverRedis, cfg.Stream.Driver)
	assert.Equal(t, messaging.AckAlways, cfg.Stream.AckPolicy)
	assert.Equal(t, 5*time.Second, cfg.Stream.Reclaim.MinIdle)
	assert.Equal(t, int64(5), cfg.Stream.Reclaim.MaxDeliveries)
	assert.Equal(t, "badger", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Reconstruct.Workers)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stream:
  driver: memory
  stream: inventory
  ack_policy: on_success
  reclaim:
    min_idle: 30s
store:
  driver: memory
reconstruct:
  timezone: Asia/Tashkent
`), 0o644))

	t.Setenv("SALESFLOW_STREAM_BATCH_SIZE", "25")
	t.Setenv("SALESFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, messaging.DriverMemory, cfg.Stream.Driver)
	assert.Equal(t, "inventory", cfg.Stream.Stream)
	assert.Equal(t, messaging.AckOnSuccess, cfg.Stream.AckPolicy)
	assert.Equal(t, 30*time.Second, cfg.Stream.Reclaim.MinIdle)
	assert.Equal(t, 25, cfg.Stream.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)

	loc, err := cfg.Reconstruct.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tashkent", loc.String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("reconstruct:\n  timezone: Mars/Olympus\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestKafkaShardConfigFallsBackToStream(t *testing.T) {
	cfg := &Config{
		Stream: messaging.StreamConfig{Stream: "inventory", Group: "salesflow"},
		Kafka:  messaging.KafkaConfig{Brokers: []string{"k:9092"}},
	}
	kc := cfg.KafkaShardConfig()
	assert.Equal(t, "inventory", kc.Topic)
	assert.Equal(t, "salesflow", kc.GroupID)
}
