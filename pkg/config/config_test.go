package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "netraven.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadConfig(path); err != nil {
		t.Fatal(err)
	}
}

func TestDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.Equal(t, 10*time.Second, GetPollingInterval())
	assert.Equal(t, 2, GetMaxRetries())
	assert.Equal(t, 2*time.Second, GetRetryBackoff())
	assert.Equal(t, 5, GetThreadPoolSize())
	assert.Equal(t, 30*time.Second, GetConnectionTimeout())
	assert.Equal(t, "info", GetLogLevel())
	assert.True(t, IsStdoutSinkEnabled())
	assert.True(t, IsDBSinkEnabled())
	assert.False(t, IsChannelSinkEnabled())
	assert.Equal(t, "", GetLogFilePath())
	assert.False(t, IsLegacyKexAllowed())
	assert.Equal(t, "localhost:6379", GetQueueRedisAddr())
	assert.Equal(t, "netraven-logs", GetChannelPrefix())
	assert.Nil(t, GetRedactionPatterns())
	assert.Equal(t, "", GetGitRepoPath())
}

func TestLoadConfig(t *testing.T) {
	writeConfig(t, `
scheduler:
  polling_interval_seconds: 30
  max_retries: 4
  retry_backoff_seconds: 5
worker:
  thread_pool_size: 8
  connection_timeout: 15
  redaction:
    patterns:
      - password
      - enable
logging:
  level: debug
  stdout:
    enabled: false
  file:
    path: /var/log/netraven/netraven.log
    when: size
    backupCount: 3
  redis:
    enabled: true
    host: redis.internal
    port: 6380
    channel_prefix: nr-logs
ssh:
  allow_legacy_kex: true
  legacy_kex:
    - diffie-hellman-group14-sha1
  legacy_macs:
    - hmac-sha1
database:
  host: db.internal
  port: 5433
  name: netraven_test
queue:
  redis:
    host: queue.internal
`)

	assert.Equal(t, 30*time.Second, GetPollingInterval())
	assert.Equal(t, 4, GetMaxRetries())
	assert.Equal(t, 5*time.Second, GetRetryBackoff())
	assert.Equal(t, 8, GetThreadPoolSize())
	assert.Equal(t, 15*time.Second, GetConnectionTimeout())
	assert.Equal(t, []string{"password", "enable"}, GetRedactionPatterns())

	assert.Equal(t, "debug", GetLogLevel())
	assert.False(t, IsStdoutSinkEnabled())
	assert.Equal(t, "/var/log/netraven/netraven.log", GetLogFilePath())
	assert.Equal(t, "size", GetLogFileWhen())
	assert.Equal(t, 3, GetLogFileBackupCount())
	assert.True(t, IsChannelSinkEnabled())
	assert.Equal(t, "redis.internal:6380", GetChannelSinkAddr())
	assert.Equal(t, "nr-logs", GetChannelPrefix())

	assert.True(t, IsLegacyKexAllowed())
	assert.Equal(t, []string{"diffie-hellman-group14-sha1"}, GetLegacyKexAlgorithms())
	assert.Equal(t, []string{"hmac-sha1"}, GetLegacyMACs())

	assert.Equal(t, "db.internal", GetDBHost())
	assert.Equal(t, 5433, GetDBPort())
	assert.Equal(t, "netraven_test", GetDBName())
	assert.Equal(t, "queue.internal:6379", GetQueueRedisAddr())
}

func TestSetValue(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetValue("worker.thread_pool_size", 3)
	assert.Equal(t, 3, GetThreadPoolSize())

	SetValue("worker.redaction.patterns", "secret, community")
	assert.Equal(t, []string{"secret", "community"}, GetRedactionPatterns())
}

func TestFloorValues(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetValue("worker.thread_pool_size", 0)
	assert.Equal(t, 1, GetThreadPoolSize())

	SetValue("worker.count", -2)
	assert.Equal(t, 1, GetWorkerCount())

	SetValue("logging.file.interval", 0)
	assert.Equal(t, 1, GetLogFileInterval())
}

func TestFileLevelFallsBackToGlobal(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetValue("logging.level", "warning")
	assert.Equal(t, "warning", GetLogFileLevel())

	SetValue("logging.file.level", "error")
	assert.Equal(t, "error", GetLogFileLevel())
}
