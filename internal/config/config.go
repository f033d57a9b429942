package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	RateLimit     RateLimitConfig
	IPCheck       IPCheckConfig
	Admin         AdminConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

// RateLimitConfig carries the per-action quotas the handlers apply plus the
// knobs of the limiter itself.
type RateLimitConfig struct {
	VerifyLimit      int
	VerifyWindow     int
	AdminLimit       int
	AdminWindow      int
	LockDuration     time.Duration
	LockAfterDenials int
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
	RedisTimeout     time.Duration
}

type IPCheckConfig struct {
	QualityScoreKey string
	Timeout         time.Duration
}

type AdminConfig struct {
	Username     string
	PasswordHash string
}

type BucketingConfig struct {
	MemberBuckets int
	EventBuckets  int
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first if present so local runs behave like containerized ones.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/gatekeeper/certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "127.0.0.1:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "gatekeeper"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", "127.0.0.1:9092"),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "gatekeeper.events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "127.0.0.1:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "gatekeeper"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        getEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "gatekeeper-audit"),
		},
		RateLimit: RateLimitConfig{
			VerifyLimit:      getEnvInt("RATE_LIMIT_VERIFY_LIMIT", 5),
			VerifyWindow:     getEnvInt("RATE_LIMIT_VERIFY_WINDOW", 60),
			AdminLimit:       getEnvInt("RATE_LIMIT_ADMIN_LIMIT", 30),
			AdminWindow:      getEnvInt("RATE_LIMIT_ADMIN_WINDOW", 60),
			LockDuration:     getEnvDuration("RATE_LIMIT_LOCK_DURATION", 5*time.Minute),
			LockAfterDenials: getEnvInt("RATE_LIMIT_LOCK_AFTER_DENIALS", 5),
			CleanupInterval:  getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute),
			CleanupRetention: getEnvDuration("RATE_LIMIT_CLEANUP_RETENTION", time.Hour),
			RedisTimeout:     getEnvDuration("RATE_LIMIT_REDIS_TIMEOUT", 2*time.Second),
		},
		IPCheck: IPCheckConfig{
			QualityScoreKey: getEnv("IPQUALITYSCORE_API_KEY", ""),
			Timeout:         getEnvDuration("IPCHECK_TIMEOUT", 5*time.Second),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Bucketing: BucketingConfig{
			MemberBuckets: getEnvInt("MEMBER_BUCKETS", 64),
			EventBuckets:  getEnvInt("EVENT_BUCKETS", 16),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
