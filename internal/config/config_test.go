package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, DriverMemory, cfg.Bus.Driver)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.True(t, cfg.Consumer.Dedupe)
	assert.Equal(t, 8, cfg.Outbox.MaxAttempts)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: MySQL
mysql:
  host: db
  port: 3307
outbox:
  poll_interval: 250ms
  max_attempts: 3
ledger:
  require_balanced: true
  aml_threshold: "10000.50"
consumer:
  dedupe: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, "db", cfg.MySQL.Host)
	assert.Equal(t, 3307, cfg.MySQL.Port)
	assert.Equal(t, "ledger", cfg.MySQL.DBName)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.False(t, cfg.Consumer.Dedupe)

	ledger := cfg.Ledger.UseCase()
	assert.True(t, ledger.RequireBalanced)
	assert.True(t, ledger.AMLThreshold.Equal(decimal.RequireFromString("10000.5")))
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "bus:\n  driver: memory\n")
	t.Setenv("LEDGER_BUS_DRIVER", "rabbitmq")
	t.Setenv("LEDGER_RABBITMQ_URL", "amqp://ledger:pw@mq:5672/")
	t.Setenv("LEDGER_OUTBOX_BATCH_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverRabbitMQ, cfg.Bus.Driver)
	assert.Equal(t, "amqp://ledger:pw@mq:5672/", cfg.RabbitMQ.URL)
	assert.Equal(t, 7, cfg.Outbox.BatchSize)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\nbus:\n  driver: kafka\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "bus.driver")
}

func TestLoad_RejectsBadThreshold(t *testing.T) {
	path := writeConfig(t, "ledger:\n  aml_threshold: lots\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aml_threshold")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "store: [\n")
	_, err := Load(path)
	require.Error(t, err)
}
