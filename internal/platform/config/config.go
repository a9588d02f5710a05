package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-wide configuration. Empty connection strings select
// the in-memory or local fallback for that concern.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	DatabaseURL   string
	Redis         RedisConfig
	Kafka         KafkaConfig
	Log           LogConfig
	Transfer      TransferConfig
	Describers    DescriberConfig
	RateLimit     RateLimitConfig
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders bool
}

// RedisConfig holds connection settings for the notification bus.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the audit outbox relay.
type KafkaConfig struct {
	Brokers            []string
	AuditTopic         string
	Partitions         int32
	ReplicationFactor  int16
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// Enabled reports whether the relay should run.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// TransferConfig bounds the transactional work of the transfer coordinator.
type TransferConfig struct {
	TxTimeout time.Duration
}

// DescriberConfig maps a data type to a remote describer base URL. Types
// without an entry are described from the local database.
type DescriberConfig struct {
	RemoteURLs map[string]string
	Timeout    time.Duration
}

// RateLimitConfig caps state-changing requests per actor. A zero
// WritesPerWindow disables limiting.
type RateLimitConfig struct {
	WritesPerWindow int
	Window          time.Duration
}

// describerTypes are the data types whose describer may be delegated to a remote service.
var describerTypes = []string{"resident", "household", "account"}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	remote := make(map[string]string)
	for _, t := range describerTypes {
		if u := os.Getenv("DESCRIBER_" + strings.ToUpper(t) + "_URL"); u != "" {
			remote[t] = u
		}
	}

	return Server{
		Addr:          envOr("NEXUS_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envOr("JWT_ISSUER", "nexus"),
		JWTAudience:   envOr("JWT_AUDIENCE", "nexus-api"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:            splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:         envOr("AUDIT_TOPIC", "nexus.audit.transfers"),
			Partitions:         int32(envInt("AUDIT_TOPIC_PARTITIONS", 3)),
			ReplicationFactor:  int16(envInt("AUDIT_TOPIC_REPLICATION", 1)),
			OutboxPollInterval: envDuration("OUTBOX_POLL_INTERVAL", time.Second),
			OutboxBatchSize:    envInt("OUTBOX_BATCH_SIZE", 100),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
		Transfer: TransferConfig{
			TxTimeout: envDuration("TRANSFER_TX_TIMEOUT", 5*time.Second),
		},
		Describers: DescriberConfig{
			RemoteURLs: remote,
			Timeout:    envDuration("DESCRIBER_TIMEOUT", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			WritesPerWindow: envInt("RATE_LIMIT_WRITES", 60),
			Window:          envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		TrustProxyHeaders: envBool("TRUST_PROXY_HEADERS", false),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
