package config

const (
	// scheduler
	schedulerPrefix          = "scheduler."
	schedulerPollingInterval = schedulerPrefix + "polling_interval_seconds"
	schedulerMaxRetries      = schedulerPrefix + "max_retries"
	schedulerRetryBackoff    = schedulerPrefix + "retry_backoff_seconds"

	// worker
	workerPrefix            = "worker."
	workerThreadPoolSize    = workerPrefix + "thread_pool_size"
	workerCount             = workerPrefix + "count"
	workerConnectionTimeout = workerPrefix + "connection_timeout"
	workerRetryAttempts     = workerPrefix + "retry_attempts"
	workerRetryBackoff      = workerPrefix + "retry_backoff"
	workerRedactionPatterns = workerPrefix + "redaction.patterns"

	// logging
	loggingPrefix        = "logging."
	loggingLevel         = loggingPrefix + "level"
	loggingStdoutEnabled = loggingPrefix + "stdout.enabled"
	loggingDBEnabled     = loggingPrefix + "db.enabled"

	loggingFilePrefix      = loggingPrefix + "file."
	loggingFilePath        = loggingFilePrefix + "path"
	loggingFileWhen        = loggingFilePrefix + "when"
	loggingFileInterval    = loggingFilePrefix + "interval"
	loggingFileBackupCount = loggingFilePrefix + "backupCount"
	loggingFileLevel       = loggingFilePrefix + "level"
	loggingFileFormat      = loggingFilePrefix + "format"
	loggingFileMaxSizeMB   = loggingFilePrefix + "max_size_mb"

	loggingRedisPrefix        = loggingPrefix + "redis."
	loggingRedisEnabled       = loggingRedisPrefix + "enabled"
	loggingRedisHost          = loggingRedisPrefix + "host"
	loggingRedisPort          = loggingRedisPrefix + "port"
	loggingRedisDB            = loggingRedisPrefix + "db"
	loggingRedisPassword      = loggingRedisPrefix + "password"
	loggingRedisChannelPrefix = loggingRedisPrefix + "channel_prefix"

	// ssh
	sshPrefix         = "ssh."
	sshAllowLegacyKex = sshPrefix + "allow_legacy_kex"
	sshLegacyKex      = sshPrefix + "legacy_kex"
	sshLegacyMacs     = sshPrefix + "legacy_macs"

	// database
	dbPrefix            = "database."
	dbHost              = dbPrefix + "host"
	dbPort              = dbPrefix + "port"
	dbName              = dbPrefix + "name"
	dbUser              = dbPrefix + "user"
	dbPassword          = dbPrefix + "password"
	dbSslMode           = dbPrefix + "ssl_mode"
	dbMaxOpenConns      = dbPrefix + "max_open_conns"
	dbMaxIdleConns      = dbPrefix + "max_idle_conns"
	dbMaxLifetime       = dbPrefix + "max_life_time_second"
	dbMaxIdleTimeSecond = dbPrefix + "max_idle_time_second"

	// queue
	queuePrefix        = "queue."
	queueRedisPrefix   = queuePrefix + "redis."
	queueRedisHost     = queueRedisPrefix + "host"
	queueRedisPort     = queueRedisPrefix + "port"
	queueRedisDB       = queueRedisPrefix + "db"
	queueRedisPassword = queueRedisPrefix + "password"
	queueJobTimeout    = queuePrefix + "job_timeout_seconds"
	queueStaleAfter    = queuePrefix + "stale_after_seconds"

	// crypto
	cryptoPrefix = "crypto."
	cryptoEnable = cryptoPrefix + "enable"
	cryptoKey    = cryptoPrefix + "key"

	// git (reserved; optional config mirror, unused by the core)
	gitPrefix   = "git."
	gitRepoPath = gitPrefix + "repo_path"
)
