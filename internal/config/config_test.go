package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
database:
  user: u
  password: p
  name: n
  host: h
  port: "5432"
gateway:
  base-url: http://gateway
  short-code: "600000"
pricing:
  resume: 700
poller:
  interval-ms: 1000
  max-attempts: 5
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("GATEWAY_CONSUMER_KEY", "from-env")

	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", cfg.Database.ConnString())
	assert.Equal(t, "from-env", cfg.Gateway.ConsumerKey)
	assert.Equal(t, "600000", cfg.Gateway.ShortCode)
	assert.Equal(t, 700, cfg.Pricing["resume"])
	assert.Equal(t, 5, cfg.Poller.MaxAttempts)
	assert.Equal(t, 2500, cfg.Poller.QueryTimeoutMs)
	assert.Equal(t, "submission-events", cfg.Kafka.Topic.SubmissionEvents)
	assert.Equal(t, 30*time.Second, cfg.Callback.ReplayInterval())
	assert.Equal(t, 24*time.Hour, cfg.Callback.ReplayWindow())
	assert.Equal(t, 100, cfg.Callback.ReplayBatchSize)
}

func TestLoadConfig_RejectsUnboundedPolling(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "poller:\n  max-attempts: 0\n"))
	assert.Error(t, err)
}
