package config

import "time"

// Config holds runtime configuration for the deploy hub API service.
type Config struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	TokenEncryptionKey string
	AccessTokenTTL     time.Duration

	// Webhook ingestion.
	WebhookCallbackURL string
	WebhookSecret      string

	// Lock manager.
	LockTTL           time.Duration
	LockSweepInterval time.Duration

	// Deployment tracker.
	TrackerInterval time.Duration
	MaxPendingAge   time.Duration
	MaxRunningAge   time.Duration

	// Provider dispatch.
	DispatchMaxRetries    int
	DispatchBaseDelay     time.Duration
	DispatchMaxDelay      time.Duration
	CorrelationMaxRetries int
	CorrelationBaseDelay  time.Duration
	CorrelationSkew       time.Duration

	// Rate limiting.
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int

	WSBuffer int
	LogLevel string
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://deployhub:deployhub@db:5432/deployhub?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		TokenEncryptionKey: GetString("TOKEN_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,

		WebhookCallbackURL: GetString("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:      GetString("WEBHOOK_SECRET", "supersecret"),

		LockTTL:           GetDuration("LOCK_TTL_SECONDS", 30*time.Minute),
		LockSweepInterval: GetDuration("LOCK_SWEEP_SECONDS", time.Minute),

		TrackerInterval: GetDuration("TRACKER_INTERVAL_SECONDS", 30*time.Second),
		MaxPendingAge:   GetDuration("MAX_PENDING_AGE_SECONDS", 10*time.Minute),
		MaxRunningAge:   GetDuration("MAX_RUNNING_AGE_SECONDS", 30*time.Minute),

		DispatchMaxRetries:    GetInt("DISPATCH_MAX_RETRIES", 3),
		DispatchBaseDelay:     GetDuration("DISPATCH_BASE_DELAY_SECONDS", time.Second),
		DispatchMaxDelay:      GetDuration("DISPATCH_MAX_DELAY_SECONDS", 30*time.Second),
		CorrelationMaxRetries: GetInt("CORRELATION_MAX_RETRIES", 10),
		CorrelationBaseDelay:  GetDuration("CORRELATION_BASE_DELAY_SECONDS", 3*time.Second),
		CorrelationSkew:       GetDuration("CORRELATION_SKEW_SECONDS", 30*time.Second),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),

		WSBuffer: GetInt("WS_BUFFER", 100),
		LogLevel: GetString("LOG_LEVEL", "info"),
	}
}
