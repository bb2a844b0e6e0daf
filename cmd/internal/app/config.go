package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Pool connection recycling; zero leaves pgxpool defaults.
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Session tokens. TokenSecret signs the accessToken cookie and must
	// be at least 32 bytes.
	TokenSecret string
	TokenIssuer string
	TokenTTL    time.Duration

	// If true, the accessToken cookie carries the Secure flag. Keep it
	// on anywhere TLS terminates in front of the server.
	SecureCookies bool

	// History page size for GET /api/v1/conversations/{id}/messages.
	PageSize int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, startup fails unless CONNEXA_TOKEN_SECRET is set (>= 32 bytes)
	// and secure cookies are enabled.
	RequireSecureConfig bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CONNEXA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CONNEXA_LOG_LEVEL", "info"),
		LogFormat: EnvString("CONNEXA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CONNEXA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CONNEXA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CONNEXA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CONNEXA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CONNEXA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CONNEXA_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CONNEXA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CONNEXA_DB_MIN_CONNS", 0),

		DBConnMaxLifetime: EnvDuration("CONNEXA_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: EnvDuration("CONNEXA_DB_CONN_MAX_IDLE", 5*time.Minute),

		TokenSecret: EnvString("CONNEXA_TOKEN_SECRET", ""),
		TokenIssuer: EnvString("CONNEXA_TOKEN_ISSUER", "connexa"),
		TokenTTL:    EnvDuration("CONNEXA_TOKEN_TTL", 24*time.Hour),

		SecureCookies: EnvBool("CONNEXA_SECURE_COOKIES", false),

		PageSize: EnvInt("CONNEXA_PAGE_SIZE", 20),

		ReadinessRequireDB: EnvBool("CONNEXA_READINESS_REQUIRE_DB", false),

		RequireSecureConfig: EnvBool("CONNEXA_REQUIRE_SECURE_CONFIG", false),
	}
}
