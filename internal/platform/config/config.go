package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process configuration. Policy knobs the pipeline treats as
// tunable (freshness windows, queue ceiling, retry caps) live here rather
// than as constants next to the code that uses them.
type Config struct {
	Addr     string
	LogLevel string

	DatabaseURL string
	Redis       RedisConfig

	JWTSigningKey string
	// SealingKey is the base64 secretbox key protecting stored registrar and
	// edge provider credentials.
	SealingKey string

	Registrar RegistrarConfig
	Edge      EdgeConfig
	Kafka     KafkaConfig

	Queue        QueueConfig
	Verification VerificationConfig
	Verify       VerifyConfig
	RateLimit    RateLimitConfig
}

// RegistrarConfig points at the registrar's XML API.
type RegistrarConfig struct {
	APIURL string
	// CredentialsBlob is a base64 secretbox blob holding the JSON credentials
	// (api_user, api_key, client_ip). Decrypted once at startup.
	CredentialsBlob string
}

// EdgeConfig points at the edge provider's zone API.
type EdgeConfig struct {
	APIURL          string
	CredentialsBlob string
	// Nameservers the provider assigns to new zones; the cutover points the
	// registrar delegation at these.
	Nameservers []string
}

// KafkaConfig enables the audit event publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RedisConfig mirrors the connection knobs the redis client wrapper applies.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QueueConfig bounds the zone activation queue.
type QueueConfig struct {
	// PendingCeiling is the provider's hard limit on concurrently
	// not-yet-active zones.
	PendingCeiling    int
	PollInterval      time.Duration
	ActivationTimeout time.Duration
}

// VerificationConfig governs ownership challenges.
type VerificationConfig struct {
	ChallengeTTL time.Duration
	// Label is the well-known TXT subdomain, e.g. "_zonepilot-verify".
	Label      string
	DNSTimeout time.Duration
	// Freshness bounds how old a verification may be when a job enters
	// Execute; verification older than the job's Discovery start always
	// forces a re-check regardless of this window.
	Freshness time.Duration
}

// VerifyConfig governs post-cutover health checks.
type VerifyConfig struct {
	DNSTimeout   time.Duration
	HTTPTimeout  time.Duration
	ProbeRetries int
}

// RateLimitConfig bounds mutating migration API calls per caller.
type RateLimitConfig struct {
	MutatingPerWindow int
	Window            time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:          envStr("ZONEPILOT_ADDR", ":8080"),
		LogLevel:      envStr("ZONEPILOT_LOG_LEVEL", "info"),
		DatabaseURL:   envStr("ZONEPILOT_DATABASE_URL", "postgres://localhost:5432/zonepilot?sslmode=disable"),
		JWTSigningKey: envStr("ZONEPILOT_JWT_SIGNING_KEY", ""),
		SealingKey:    envStr("ZONEPILOT_SEALING_KEY", ""),
		Redis: RedisConfig{
			URL:          envStr("ZONEPILOT_REDIS_URL", ""),
			PoolSize:     envInt("ZONEPILOT_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("ZONEPILOT_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("ZONEPILOT_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("ZONEPILOT_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("ZONEPILOT_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Registrar: RegistrarConfig{
			APIURL:          envStr("ZONEPILOT_REGISTRAR_API_URL", "https://api.registrar.example/xml.response"),
			CredentialsBlob: envStr("ZONEPILOT_REGISTRAR_CREDENTIALS", ""),
		},
		Edge: EdgeConfig{
			APIURL:          envStr("ZONEPILOT_EDGE_API_URL", "https://api.edge.example/v1"),
			CredentialsBlob: envStr("ZONEPILOT_EDGE_CREDENTIALS", ""),
			Nameservers:     envList("ZONEPILOT_EDGE_NAMESERVERS", []string{"ns1.edge.example", "ns2.edge.example"}),
		},
		Kafka: KafkaConfig{
			Brokers: envList("ZONEPILOT_KAFKA_BROKERS", nil),
			Topic:   envStr("ZONEPILOT_KAFKA_AUDIT_TOPIC", "zonepilot.audit"),
		},
		Queue: QueueConfig{
			PendingCeiling:    envInt("ZONEPILOT_QUEUE_CEILING", 3),
			PollInterval:      envDuration("ZONEPILOT_QUEUE_POLL_INTERVAL", 30*time.Second),
			ActivationTimeout: envDuration("ZONEPILOT_QUEUE_ACTIVATION_TIMEOUT", 48*time.Hour),
		},
		Verification: VerificationConfig{
			ChallengeTTL: envDuration("ZONEPILOT_CHALLENGE_TTL", 24*time.Hour),
			Label:        envStr("ZONEPILOT_CHALLENGE_LABEL", "_zonepilot-verify"),
			DNSTimeout:   envDuration("ZONEPILOT_CHALLENGE_DNS_TIMEOUT", 5*time.Second),
			Freshness:    envDuration("ZONEPILOT_VERIFICATION_FRESHNESS", 24*time.Hour),
		},
		Verify: VerifyConfig{
			DNSTimeout:   envDuration("ZONEPILOT_VERIFY_DNS_TIMEOUT", 5*time.Second),
			HTTPTimeout:  envDuration("ZONEPILOT_VERIFY_HTTP_TIMEOUT", 10*time.Second),
			ProbeRetries: envInt("ZONEPILOT_VERIFY_PROBE_RETRIES", 2),
		},
		RateLimit: RateLimitConfig{
			MutatingPerWindow: envInt("ZONEPILOT_RATELIMIT_MUTATING", 10),
			Window:            envDuration("ZONEPILOT_RATELIMIT_WINDOW", time.Minute),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
