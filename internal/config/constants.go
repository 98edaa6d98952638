package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 90 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Upper bound on how long a crashed instance can hold the reconciliation lock
const SyncLockTTL = 10 * time.Minute

// Upper bound for a single scheduled reconciliation run
const ScheduledSyncTimeout = 5 * time.Minute

const LoginRateLimitWindow = time.Minute
