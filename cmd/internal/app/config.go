package app

import "time"

// Config contains process-level runtime configuration loaded from environment
// variables. Token and HTTP auth policy live in session.Config and
// authapi.Config and are loaded separately.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// RedisURL enables the Redis lockout store; empty keeps lockout in memory.
	RedisURL string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, VNIPET_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool

	AppSignaturesFile    string
	AppSignaturesEnforce bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("VNIPET_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("VNIPET_LOG_LEVEL", "info"),
		LogFormat: EnvString("VNIPET_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("VNIPET_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("VNIPET_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("VNIPET_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("VNIPET_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("VNIPET_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("VNIPET_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("VNIPET_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("VNIPET_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("VNIPET_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("VNIPET_DB_AUTO_MIGRATE", false),

		RedisURL: EnvString("VNIPET_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("VNIPET_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("VNIPET_REQUIRE_TOKEN_HMAC", false),

		AppSignaturesFile:    EnvString("VNIPET_APP_SIGNATURES_FILE", ""),
		AppSignaturesEnforce: EnvBool("VNIPET_APP_SIGNATURES_ENFORCE", false),

		CORSAllowedOrigins:   EnvList("VNIPET_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("VNIPET_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("VNIPET_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("VNIPET_METRICS_ENABLED", true),
	}
}
