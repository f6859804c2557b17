package config

import "time"

// Connection pool shared by the API handlers, the expiry sweep and the
// registry reconciler
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Migration timeout at startup
const MigrationTimeout = 60 * time.Second

// How often lapsed purchases are marked expired and stale sessions removed
const CleanupJobInterval = 5 * time.Minute

// Requests per minute each account may make when RATE_LIMIT_PER_MINUTE is not positive
const DefaultRateLimitPerMin = 60

// bcrypt cost for account passwords and the admin bootstrap secret
const BcryptCost = 12
