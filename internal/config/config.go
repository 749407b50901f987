package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Transport  TransportConfig
	MTN        MTNConfig
	Airtel     AirtelConfig
	Reconciler ReconcilerConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	MockMode bool
}

// TransportConfig tunes the retrying outbound HTTP client shared by the
// provider adapters.
type TransportConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
}

// WebhookRule guards one provider's callback endpoint. Empty fields
// disable the corresponding gate.
type WebhookRule struct {
	Secret     string
	AllowedIPs []string
}

type MTNConfig struct {
	BaseURL           string
	SubscriptionKey   string
	APIUser           string
	APIKey            string
	TargetEnvironment string
	CallbackURL       string
	Webhook           WebhookRule
}

type AirtelConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Country      string
	Currency     string
	CallbackURL  string
	Webhook      WebhookRule
}

type ReconcilerConfig struct {
	Interval     time.Duration
	GracePeriod  time.Duration
	ExpiryWindow time.Duration
	BatchLimit   int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8085"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "3306"),
			Username:     getEnv("DB_USER", "momo"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "momo_gateway"),
			MaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:  getSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:  getEnv("KAFKA_GROUP_ID", "momo-gateway"),
			MockMode: getBool("KAFKA_MOCK_MODE", true),
		},
		Transport: TransportConfig{
			ConnectTimeout: getDuration("HTTP_CONNECT_TIMEOUT", 5*time.Second),
			ReadTimeout:    getDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			MaxRetries:     getInt("HTTP_MAX_RETRIES", 3),
			BaseBackoff:    getDuration("HTTP_BASE_BACKOFF", 600*time.Millisecond),
		},
		MTN: MTNConfig{
			BaseURL:           getEnv("MTN_MOMO_API_URL", "https://sandbox.momodeveloper.mtn.com"),
			SubscriptionKey:   getEnv("MTN_MOMO_SUBSCRIPTION_KEY", ""),
			APIUser:           getEnv("MTN_MOMO_API_USER", ""),
			APIKey:            getEnv("MTN_MOMO_API_KEY", ""),
			TargetEnvironment: getEnv("MTN_MOMO_TARGET_ENV", "mtnuganda"),
			CallbackURL:       getEnv("MTN_MOMO_CALLBACK_URL", ""),
			Webhook: WebhookRule{
				Secret:     getEnv("MTN_MOMO_WEBHOOK_SECRET", ""),
				AllowedIPs: getSlice("MTN_MOMO_ALLOWED_IPS", nil),
			},
		},
		Airtel: AirtelConfig{
			BaseURL:      getEnv("AIRTEL_MONEY_API_URL", "https://openapiuat.airtel.africa"),
			ClientID:     getEnv("AIRTEL_MONEY_CLIENT_ID", ""),
			ClientSecret: getEnv("AIRTEL_MONEY_CLIENT_SECRET", ""),
			Country:      getEnv("AIRTEL_MONEY_COUNTRY", "UG"),
			Currency:     getEnv("AIRTEL_MONEY_CURRENCY", "UGX"),
			CallbackURL:  getEnv("AIRTEL_MONEY_CALLBACK_URL", ""),
			Webhook: WebhookRule{
				Secret:     getEnv("AIRTEL_MONEY_WEBHOOK_SECRET", ""),
				AllowedIPs: getSlice("AIRTEL_MONEY_ALLOWED_IPS", nil),
			},
		},
		Reconciler: ReconcilerConfig{
			Interval:     getDuration("RECONCILE_INTERVAL", 5*time.Minute),
			GracePeriod:  getDuration("RECONCILE_GRACE_PERIOD", 2*time.Minute),
			ExpiryWindow: getDuration("RECONCILE_EXPIRY_WINDOW", 24*time.Hour),
			BatchLimit:   getInt("RECONCILE_BATCH_LIMIT", 100),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
