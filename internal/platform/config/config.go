package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvFileVar names a dotenv file to load before reading the environment.
// Without it ./.env is loaded when present. Variables already set win.
const EnvFileVar = "CRVS_ENV_FILE"

// Server captures process-level configuration. Empty backend URLs select the
// in-memory implementations so the service runs with no infrastructure.
type Server struct {
	Addr          string
	Environment   string
	ActionTimeout time.Duration

	Log       LogConfig
	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	Index     IndexConfig
	Admin     AdminConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
	Shutdown  time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

type DBConfig struct {
	URL             string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the search index and distributed record locks.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

// KafkaConfig configures the audit outbox relay.
type KafkaConfig struct {
	Brokers           []string
	AuditTopic        string
	TopicPartitions   int32
	ReplicationFactor int16
	RelayInterval     time.Duration
	RelayBatch        int
}

// AuthConfig configures bearer credential verification.
type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
}

// IndexConfig tunes the search index circuit breaker.
type IndexConfig struct {
	FailureThreshold int
	SuccessThreshold int
}

// AdminConfig guards the maintenance endpoints. An empty token disables them.
type AdminConfig struct {
	Token      string
	StaleBatch int
}

// AuditConfig selects how audit events are persisted. A zero BufferSize
// writes each event before the action responds; a positive one queues events
// for a background writer that is drained on shutdown.
type AuditConfig struct {
	BufferSize int
}

// RateLimitConfig sets per-practitioner budgets. A zero budget leaves that
// class unlimited.
type RateLimitConfig struct {
	Disabled bool
	Read     int
	Write    int
	Window   time.Duration
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	if err := loadEnvFile(); err != nil {
		return Server{}, err
	}
	cfg := Server{
		Addr:          getEnv("CRVS_ADDR", ":8080"),
		Environment:   getEnv("CRVS_ENV", "local"),
		ActionTimeout: getDuration("ACTION_TIMEOUT", 5*time.Second),
		Shutdown:      getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		DB: DBConfig{
			URL:             os.Getenv("DATABASE_URL"),
			AutoMigrate:     getBool("DB_AUTO_MIGRATE", false),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      getDuration("REDIS_LOCK_TTL", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:        getEnv("KAFKA_AUDIT_TOPIC", "crvs.audit.records"),
			TopicPartitions:   int32(getInt("KAFKA_AUDIT_PARTITIONS", 6)),
			ReplicationFactor: int16(getInt("KAFKA_REPLICATION_FACTOR", 1)),
			RelayInterval:     getDuration("OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:        getInt("OUTBOX_RELAY_BATCH", 100),
		},
		Auth: AuthConfig{
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", devSigningKey),
			Issuer:        getEnv("JWT_ISSUER", "crvs-auth"),
			Audience:      getEnv("JWT_AUDIENCE", "crvs-workflow"),
		},
		Index: IndexConfig{
			FailureThreshold: getInt("INDEX_CIRCUIT_FAILURES", 5),
			SuccessThreshold: getInt("INDEX_CIRCUIT_SUCCESSES", 2),
		},
		Admin: AdminConfig{
			Token:      os.Getenv("ADMIN_API_TOKEN"),
			StaleBatch: getInt("REINDEX_STALE_BATCH", 200),
		},
		Audit: AuditConfig{
			BufferSize: getInt("AUDIT_BUFFER_SIZE", 0),
		},
		RateLimit: RateLimitConfig{
			Disabled: getBool("RATE_LIMIT_DISABLED", false),
			Read:     getInt("RATE_LIMIT_READ", 600),
			Write:    getInt("RATE_LIMIT_WRITE", 120),
			Window:   getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would start a broken or unsafe service.
func (c Server) Validate() error {
	var errs []error
	if c.ActionTimeout <= 0 {
		errs = append(errs, errors.New("ACTION_TIMEOUT must be positive"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not one of json, text", c.Log.Format))
	}
	if c.Environment == "production" && c.Auth.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
	}
	if len(c.Kafka.Brokers) > 0 && c.DB.URL == "" {
		errs = append(errs, errors.New("KAFKA_BROKERS requires DATABASE_URL for the audit outbox"))
	}
	if c.Index.FailureThreshold <= 0 || c.Index.SuccessThreshold <= 0 {
		errs = append(errs, errors.New("index circuit thresholds must be positive"))
	}
	if c.Admin.StaleBatch <= 0 {
		errs = append(errs, errors.New("REINDEX_STALE_BATCH must be positive"))
	}
	if c.Audit.BufferSize < 0 {
		errs = append(errs, errors.New("AUDIT_BUFFER_SIZE must not be negative"))
	}
	if c.RateLimit.Read < 0 || c.RateLimit.Write < 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit budgets must be non-negative and RATE_LIMIT_WINDOW positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadEnvFile() error {
	path := os.Getenv(EnvFileVar)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
