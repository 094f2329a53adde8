// Package config handles the loading and parsing of application configuration
// from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the deployment mode. Production enables strict
// validation and forbids the mock/dev-only knobs.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// AppConfig holds all configuration settings for the application.
type AppConfig struct {
	NodeEnv  Environment
	Port     string
	LogLevel string
	LogJSON  bool

	// --- Token verification ---
	JWTIssuer    string
	JWTAudience  string
	JWKSURL      string
	PublicKeys   []string // PEM public keys or shared secrets, comma-delimited in the environment.
	TokenLeeway  time.Duration

	// --- Primary database ---
	DatabaseURL        string
	DBPoolMin          int
	DBPoolMax          int
	DBConnTimeout      time.Duration
	DBIdleTimeout      time.Duration

	// --- Read replica ---
	EnableReadReplicas        bool
	ReplicaDatabaseURL        string
	ReplicaLagPollInterval    time.Duration
	ReplicaLagWarningThresh   time.Duration
	ReplicaLagCriticalThresh  time.Duration

	// --- Socket / gateway ---
	SocketAdapterEnabled   bool
	SocketRedisURL         string
	SocketRedisTLS         bool
	SocketRedisKeyPrefix   string
	SocketInstanceID       string
	HeartbeatIntervalMs    time.Duration
	HeartbeatGraceMs       time.Duration
	PresenceTTLMs          time.Duration
	ReplayCacheTTLMs       time.Duration
	ReplayCacheMaxMessages int

	// --- Durable log / stream ---
	StreamPartitions    int
	StreamMaxRetries    int
	StreamPollInterval  time.Duration
	StreamBatchSize     int

	// --- Cache ---
	EnableRedisCache bool
	CacheBypass      bool
	RedisURL         string

	// --- Non-production-only knobs ---
	SocketRedisMock   bool
	MockMode          bool
	DisableRateLimit  bool
	DevSeedData       bool

	// --- Misc application logic ---
	MaxMessageContentBytes int
	PerSessionDedupeSize   int
	ShutdownTimeout        time.Duration
	CORSAllowedOrigins     []string
}

// Load reads environment variables and populates the AppConfig struct,
// validating it for internal consistency and production constraints.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		NodeEnv:  Environment(getEnv("NODE_ENV", string(EnvDevelopment))),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvAsBool("LOG_JSON", false),

		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", ""),
		JWKSURL:     getEnv("JWKS_URL", ""),
		PublicKeys:  splitNonEmpty(getEnv("PUBLIC_KEYS", "")),
		TokenLeeway: getEnvAsDuration("TOKEN_LEEWAY_SEC", 30*time.Second),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBPoolMin:     getEnvAsInt("DB_POOL_MIN", 2),
		DBPoolMax:     getEnvAsInt("DB_POOL_MAX", 25),
		DBConnTimeout: getEnvAsDuration("DB_CONNECTION_TIMEOUT_MS", 5*time.Second),
		DBIdleTimeout: getEnvAsDuration("DB_IDLE_TIMEOUT_MS", 5*time.Minute),

		EnableReadReplicas:       getEnvAsBool("ENABLE_READ_REPLICAS", false),
		ReplicaDatabaseURL:       getEnv("REPLICA_DATABASE_URL", ""),
		ReplicaLagPollInterval:   getEnvAsDuration("REPLICA_LAG_POLL_INTERVAL", 10*time.Second),
		ReplicaLagWarningThresh:  getEnvAsDuration("REPLICA_LAG_WARNING_THRESHOLD", 5*time.Second),
		ReplicaLagCriticalThresh: getEnvAsDuration("REPLICA_LAG_CRITICAL_THRESHOLD", 10*time.Second),

		SocketAdapterEnabled:   getEnvAsBool("SOCKET_ADAPTER_ENABLED", false),
		SocketRedisURL:         getEnv("SOCKET_REDIS_URL", ""),
		SocketRedisTLS:         getEnvAsBool("SOCKET_REDIS_TLS", false),
		SocketRedisKeyPrefix:   getEnv("SOCKET_REDIS_KEY_PREFIX", "chat"),
		SocketInstanceID:       getEnv("SOCKET_INSTANCE_ID", ""),
		HeartbeatIntervalMs:    getEnvAsDuration("SOCKET_HEARTBEAT_INTERVAL_MS", 25*time.Second),
		HeartbeatGraceMs:       getEnvAsDuration("SOCKET_HEARTBEAT_GRACE_MS", 10*time.Second),
		PresenceTTLMs:          getEnvAsDuration("SOCKET_PRESENCE_TTL_MS", 60*time.Second),
		ReplayCacheTTLMs:       getEnvAsDuration("SOCKET_REPLAY_CACHE_TTL_MS", 5*time.Minute),
		ReplayCacheMaxMessages: getEnvAsInt("SOCKET_REPLAY_CACHE_MAX_MESSAGES", 500),

		StreamPartitions:   getEnvAsInt("STREAM_PARTITIONS", 16),
		StreamMaxRetries:   getEnvAsInt("STREAM_MAX_RETRIES", 3),
		StreamPollInterval: getEnvAsDuration("STREAM_POLL_INTERVAL_MS", 5*time.Second),
		StreamBatchSize:    getEnvAsInt("STREAM_BATCH_SIZE", 10),

		EnableRedisCache: getEnvAsBool("ENABLE_REDIS_CACHE", false),
		CacheBypass:      getEnvAsBool("CACHE_BYPASS", false),
		RedisURL:         getEnv("REDIS_URL", ""),

		SocketRedisMock:  getEnvAsBool("SOCKET_REDIS_MOCK", false),
		MockMode:         getEnvAsBool("MOCK_MODE", false),
		DisableRateLimit: getEnvAsBool("DISABLE_RATE_LIMIT", false),
		DevSeedData:      getEnvAsBool("DEV_SEED_DATA", false),

		MaxMessageContentBytes: getEnvAsInt("MAX_MESSAGE_CONTENT_BYTES", 10000),
		PerSessionDedupeSize:   getEnvAsInt("PER_SESSION_DEDUPE_SIZE", 200),
		ShutdownTimeout:        getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSAllowedOrigins:     splitNonEmpty(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces cross-field invariants and fails startup
// (InvalidEnvironment) with every violation found, not just the first.
func validate(cfg *AppConfig) error {
	var reasons []string

	if cfg.JWTIssuer == "" {
		reasons = append(reasons, "JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		reasons = append(reasons, "JWT_AUDIENCE is required")
	}
	if cfg.JWKSURL == "" && len(cfg.PublicKeys) == 0 {
		reasons = append(reasons, "at least one of JWKS_URL or PUBLIC_KEYS is required")
	}
	if cfg.TokenLeeway > 120*time.Second {
		reasons = append(reasons, "TOKEN_LEEWAY_SEC must be <= 120")
	}
	if cfg.DatabaseURL == "" {
		reasons = append(reasons, "DATABASE_URL is required")
	}
	if cfg.PresenceTTLMs <= cfg.HeartbeatIntervalMs {
		reasons = append(reasons, "SOCKET_PRESENCE_TTL_MS must be greater than SOCKET_HEARTBEAT_INTERVAL_MS")
	}
	if cfg.ReplayCacheMaxMessages < 50 || cfg.ReplayCacheMaxMessages > 2000 {
		reasons = append(reasons, "SOCKET_REPLAY_CACHE_MAX_MESSAGES must be between 50 and 2000")
	}

	if cfg.NodeEnv == EnvProduction {
		if !cfg.SocketAdapterEnabled {
			reasons = append(reasons, "SOCKET_ADAPTER_ENABLED must be true in production")
		}
		if cfg.SocketAdapterEnabled && cfg.SocketRedisURL == "" {
			reasons = append(reasons, "SOCKET_REDIS_URL is required when SOCKET_ADAPTER_ENABLED is true")
		}
		if cfg.SocketRedisMock || cfg.MockMode || cfg.DisableRateLimit || cfg.DevSeedData {
			reasons = append(reasons, "SOCKET_REDIS_MOCK, MOCK_MODE, DISABLE_RATE_LIMIT, and DEV_SEED_DATA are forbidden in production")
		}
	}

	if len(reasons) > 0 {
		return &InvalidEnvironmentError{Reasons: reasons}
	}
	return nil
}

// InvalidEnvironmentError reports every configuration problem found at once.
type InvalidEnvironmentError struct {
	Reasons []string
}

func (e *InvalidEnvironmentError) Error() string {
	return fmt.Sprintf("invalid environment: %s", strings.Join(e.Reasons, "; "))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts either a Go duration string (e.g. "5s") or a
// bare integer, which it interprets according to the key's documented unit
// (most knobs are named *_MS or *_SEC).
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil {
		unit := time.Millisecond
		if strings.HasSuffix(key, "_SEC") {
			unit = time.Second
		}
		return time.Duration(n) * unit
	}
	return defaultValue
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
