// Package config exposes the typed configuration surface of the daemon.
// Values come from a single YAML file loaded at startup; every getter
// carries a default so an empty file yields a working local setup.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/netraven-io/netraven/pkg/util"
)

// SetValue sets a configuration value for the specified key.
func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

// Reset clears all configuration values. Test helper.
func Reset() {
	viper.Reset()
}

// LoadConfig loads configuration from the specified file path.
func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getStrings(key string, defaultValue []string) []string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	var vals []string
	for _, v := range viper.GetStringSlice(key) {
		vals = append(vals, util.SplitCommaSeparated(v)...)
	}
	return vals
}

// ---- scheduler ----

// GetPollingInterval returns the scheduler reconcile period.
func GetPollingInterval() time.Duration {
	return time.Duration(getInt(schedulerPollingInterval, 10)) * time.Second
}

// GetMaxRetries returns the dispatcher per-device retry count.
func GetMaxRetries() int {
	return getInt(schedulerMaxRetries, 2)
}

// GetRetryBackoff returns the base for the dispatcher's exponential backoff.
func GetRetryBackoff() time.Duration {
	return time.Duration(getInt(schedulerRetryBackoff, 2)) * time.Second
}

// ---- worker ----

// GetThreadPoolSize returns the dispatcher parallelism per job.
func GetThreadPoolSize() int {
	n := getInt(workerThreadPoolSize, 5)
	if n < 1 {
		return 1
	}
	return n
}

// GetWorkerCount returns how many queue consumers the worker process runs.
func GetWorkerCount() int {
	n := getInt(workerCount, 4)
	if n < 1 {
		return 1
	}
	return n
}

// GetConnectionTimeout returns the driver's session establishment timeout.
func GetConnectionTimeout() time.Duration {
	return time.Duration(getInt(workerConnectionTimeout, 30)) * time.Second
}

// GetDriverRetryAttempts returns driver-level connect retry count.
func GetDriverRetryAttempts() int {
	return getInt(workerRetryAttempts, 1)
}

// GetDriverRetryBackoff returns driver-level connect retry backoff.
func GetDriverRetryBackoff() time.Duration {
	return time.Duration(getInt(workerRetryBackoff, 2)) * time.Second
}

// GetRedactionPatterns returns the redactor keywords.
func GetRedactionPatterns() []string {
	return getStrings(workerRedactionPatterns, nil)
}

// ---- logging ----

// GetLogLevel returns the global minimum log level.
func GetLogLevel() string {
	return getString(loggingLevel, "info")
}

// IsStdoutSinkEnabled returns whether the stdout sink is active.
func IsStdoutSinkEnabled() bool {
	return getBool(loggingStdoutEnabled, true)
}

// IsDBSinkEnabled returns whether the database sink is active.
func IsDBSinkEnabled() bool {
	return getBool(loggingDBEnabled, true)
}

// GetLogFilePath returns the file sink path; empty disables the sink.
func GetLogFilePath() string {
	return getString(loggingFilePath, "")
}

// GetLogFileWhen returns the rotation trigger: midnight, hourly, daily or size.
func GetLogFileWhen() string {
	return getString(loggingFileWhen, "midnight")
}

// GetLogFileInterval returns the rotation interval multiplier.
func GetLogFileInterval() int {
	n := getInt(loggingFileInterval, 1)
	if n < 1 {
		return 1
	}
	return n
}

// GetLogFileBackupCount returns how many rotated files to keep.
func GetLogFileBackupCount() int {
	return getInt(loggingFileBackupCount, 7)
}

// GetLogFileLevel returns the file sink's minimum level.
func GetLogFileLevel() string {
	return getString(loggingFileLevel, GetLogLevel())
}

// GetLogFileFormat returns the file sink format: json or text.
func GetLogFileFormat() string {
	return getString(loggingFileFormat, "json")
}

// GetLogFileMaxSizeMB returns the size rotation threshold.
func GetLogFileMaxSizeMB() int {
	return getInt(loggingFileMaxSizeMB, 10)
}

// IsChannelSinkEnabled returns whether the pub/sub channel sink is active.
func IsChannelSinkEnabled() bool {
	return getBool(loggingRedisEnabled, false)
}

// GetChannelSinkAddr returns the channel sink's redis address.
func GetChannelSinkAddr() string {
	host := getString(loggingRedisHost, "localhost")
	port := getInt(loggingRedisPort, 6379)
	return addr(host, port)
}

// GetChannelSinkDB returns the channel sink's redis database number.
func GetChannelSinkDB() int {
	return getInt(loggingRedisDB, 0)
}

// GetChannelSinkPassword returns the channel sink's redis password.
func GetChannelSinkPassword() string {
	return getString(loggingRedisPassword, "")
}

// GetChannelPrefix returns the pub/sub channel name prefix.
func GetChannelPrefix() string {
	return getString(loggingRedisChannelPrefix, "netraven-logs")
}

// ---- ssh ----

// Legacy SSH algorithms enabled by ssh.allow_legacy_kex when no explicit
// allow-list is configured. Old network gear still negotiates only these.
var (
	defaultLegacyKex  = []string{"diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1"}
	defaultLegacyMacs = []string{"hmac-sha1", "hmac-sha1-96"}
)

// IsLegacyKexAllowed returns whether legacy KEX/MAC algorithms are enabled.
func IsLegacyKexAllowed() bool {
	return getBool(sshAllowLegacyKex, false)
}

// GetLegacyKexAlgorithms returns the legacy key exchange allow-list.
func GetLegacyKexAlgorithms() []string {
	return getStrings(sshLegacyKex, defaultLegacyKex)
}

// GetLegacyMACs returns the legacy MAC allow-list.
func GetLegacyMACs() []string {
	return getStrings(sshLegacyMacs, defaultLegacyMacs)
}

// ---- database ----

// GetDBHost returns the database host address.
func GetDBHost() string {
	return getString(dbHost, "localhost")
}

// GetDBPort returns the database port number.
func GetDBPort() int {
	return getInt(dbPort, 5432)
}

// GetDBName returns the database name.
func GetDBName() string {
	return getString(dbName, "netraven")
}

// GetDBUser returns the database username.
func GetDBUser() string {
	return getString(dbUser, "netraven")
}

// GetDBPassword returns the database password.
func GetDBPassword() string {
	return getString(dbPassword, "")
}

// GetDBSslMode returns the database SSL mode.
func GetDBSslMode() string {
	return getString(dbSslMode, "disable")
}

// GetDBMaxOpenConns returns the maximum number of open database connections.
func GetDBMaxOpenConns() int {
	return getInt(dbMaxOpenConns, 20)
}

// GetDBMaxIdleConns returns the maximum number of idle database connections.
func GetDBMaxIdleConns() int {
	return getInt(dbMaxIdleConns, 5)
}

// GetDBMaxLifetime returns the maximum lifetime of database connections.
func GetDBMaxLifetime() time.Duration {
	return time.Duration(getInt(dbMaxLifetime, 600)) * time.Second
}

// GetDBMaxIdleTime returns the maximum idle time of database connections.
func GetDBMaxIdleTime() time.Duration {
	return time.Duration(getInt(dbMaxIdleTimeSecond, 60)) * time.Second
}

// ---- queue ----

// GetQueueRedisAddr returns the queue layer's redis address.
func GetQueueRedisAddr() string {
	host := getString(queueRedisHost, "localhost")
	port := getInt(queueRedisPort, 6379)
	return addr(host, port)
}

// GetQueueRedisDB returns the queue layer's redis database number.
func GetQueueRedisDB() int {
	return getInt(queueRedisDB, 0)
}

// GetQueueRedisPassword returns the queue layer's redis password.
func GetQueueRedisPassword() string {
	return getString(queueRedisPassword, "")
}

// GetJobTimeout returns the overall per-job execution timeout.
func GetJobTimeout() time.Duration {
	return time.Duration(getInt(queueJobTimeout, 600)) * time.Second
}

// GetQueueStaleAfter returns how long a consumed task may sit unacknowledged
// before the requeue loop reclaims it.
func GetQueueStaleAfter() time.Duration {
	return time.Duration(getInt(queueStaleAfter, 900)) * time.Second
}

// ---- crypto ----

// IsCryptoEnabled returns whether credential encryption is enabled.
func IsCryptoEnabled() bool {
	return getBool(cryptoEnable, true)
}

// GetCryptoKey returns the credential encryption key.
func GetCryptoKey() string {
	return getString(cryptoKey, "")
}

// ---- git (reserved) ----

// GetGitRepoPath returns the reserved config mirror path. The core reads it
// only to surface it; snapshots live in the database.
func GetGitRepoPath() string {
	return getString(gitRepoPath, "")
}

func addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
