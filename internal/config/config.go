package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, loaded once at startup from the
// environment (with .env support for local development).
type Config struct {
	Environment string

	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	JWT           JWTConfig
	OTP           OTPConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Logging       LoggingConfig
	Admin         AdminConfig
}

type ServerConfig struct {
	Port         string
	TLSPort      string
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	AutoCertMail string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	UserTTL  time.Duration
}

type ScyllaConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

type KafkaConfig struct {
	Brokers     []string
	OTPTopic    string
	EventsTopic string
	UseTLS      bool
}

type ClickhouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	Addresses   []string
	Username    string
	Password    string
	EventsIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// OTPConfig carries the issuance and verification policy. The defaults are
// the product policy; deployments may tighten or relax them per environment.
type OTPConfig struct {
	CodeLength      int
	TTL             time.Duration
	MaxAttempts     int
	RateLimitWindow time.Duration
	RateLimitMax    int

	// SkipVerify accepts any code and ExposeCode echoes the generated code
	// in the send response. Both exist for test rigs only and are rejected
	// by Validate in production.
	SkipVerify bool
	ExposeCode bool
}

type HashingConfig struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	Pepper      string
}

type BucketingConfig struct {
	UserBuckets  uint32
	EventBuckets uint32
}

type LoggingConfig struct {
	Level  string
	Format string
}

type AdminConfig struct {
	APIKey string
}

// LoadConfig reads the environment into a validated Config.
func LoadConfig() (*Config, error) {
	// Best effort; production injects real env vars.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			TLSPort:      getEnv("SERVER_TLS_PORT", "8443"),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			AutoCertMail: getEnv("SERVER_AUTOCERT_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			UserTTL:  getEnvDuration("REDIS_USER_TTL", 15*time.Minute),
		},
		Scylla: ScyllaConfig{
			Hosts:    getEnvList("SCYLLA_HOSTS", "127.0.0.1:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "neighborly_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			Timeout:  getEnvDuration("SCYLLA_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", "localhost:9092"),
			OTPTopic:    getEnv("KAFKA_OTP_TOPIC", "auth.otp-delivery"),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "auth.security-events"),
			UseTLS:      getEnvBool("KAFKA_USE_TLS", false),
		},
		Clickhouse: ClickhouseConfig{
			Addr:     getEnvList("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "neighborly_audit"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:   getEnvList("ELASTICSEARCH_ADDRESSES", "http://localhost:9200"),
			Username:    getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:    getEnv("ELASTICSEARCH_PASSWORD", ""),
			EventsIndex: getEnv("ELASTICSEARCH_EVENTS_INDEX", "auth-security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "ap-south-1"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "neighborly-auth"),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		OTP: OTPConfig{
			CodeLength:      getEnvInt("OTP_CODE_LENGTH", 6),
			TTL:             getEnvDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 3),
			RateLimitWindow: getEnvDuration("OTP_RATE_LIMIT_WINDOW", time.Hour),
			RateLimitMax:    getEnvInt("OTP_RATE_LIMIT_MAX", 5),
			SkipVerify:      getEnvBool("OTP_SKIP_VERIFY", false),
			ExposeCode:      getEnvBool("OTP_EXPOSE_CODE", false),
		},
		Hashing: HashingConfig{
			Memory:      uint32(getEnvInt("HASHING_MEMORY_KB", 64*1024)),
			Iterations:  uint32(getEnvInt("HASHING_ITERATIONS", 3)),
			Parallelism: uint8(getEnvInt("HASHING_PARALLELISM", 2)),
			Pepper:      getEnv("HASHING_PEPPER", ""),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  uint32(getEnvInt("BUCKETING_USER_BUCKETS", 64)),
			EventBuckets: uint32(getEnvInt("BUCKETING_EVENT_BUCKETS", 128)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fails closed: the test-only OTP escape hatches and missing
// secrets are configuration errors in production, not warnings.
func (c *Config) Validate() error {
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		return fmt.Errorf("invalid OTP_CODE_LENGTH %d", c.OTP.CodeLength)
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("invalid OTP_MAX_ATTEMPTS %d", c.OTP.MaxAttempts)
	}
	if c.OTP.RateLimitMax < 1 {
		return fmt.Errorf("invalid OTP_RATE_LIMIT_MAX %d", c.OTP.RateLimitMax)
	}

	if c.IsProduction() {
		if c.OTP.SkipVerify {
			return fmt.Errorf("OTP_SKIP_VERIFY must not be enabled in production")
		}
		if c.OTP.ExposeCode {
			return fmt.Errorf("OTP_EXPOSE_CODE must not be enabled in production")
		}
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Hashing.Pepper == "" {
			return fmt.Errorf("HASHING_PEPPER is required in production")
		}
		if c.KMS.Enabled && c.KMS.KeyID == "" {
			return fmt.Errorf("KMS_KEY_ID is required when KMS is enabled")
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
