package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Checkout CheckoutConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver   string // postgres or memory
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type SessionConfig struct {
	Secret       string
	TTLDays      int
	CookieSecure bool
}

type CheckoutConfig struct {
	Endpoint              string
	FreeShippingThreshold string
	ShippingFee           string
	MaxScreenshotBytes    int64
	TimeoutSeconds        int
	MaxAttempts           int
	RateLimitPerMinute    int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// IsDevelopment reports whether the server runs outside production
func (c ServerConfig) IsDevelopment() bool {
	return c.Env != "production"
}

// TTL returns the cart session lifetime
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// Timeout returns the per-attempt timeout for order submission
func (c CheckoutConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func Load() *Config {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("DB_DRIVER", StorageDriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_TTL_DAYS", 30)
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("CHECKOUT_FREE_SHIPPING_THRESHOLD", "200")
	v.SetDefault("CHECKOUT_SHIPPING_FEE", "50")
	v.SetDefault("CHECKOUT_MAX_SCREENSHOT_BYTES", 5<<20)
	v.SetDefault("CHECKOUT_TIMEOUT_SECONDS", 15)
	v.SetDefault("CHECKOUT_MAX_ATTEMPTS", 3)
	v.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("KAFKA_TOPIC", "storefront.orders")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			AllowedOrigins: splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_DATABASE"),
			Schema:   v.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Session: SessionConfig{
			Secret:       v.GetString("SESSION_SECRET"),
			TTLDays:      v.GetInt("SESSION_TTL_DAYS"),
			CookieSecure: v.GetBool("SESSION_COOKIE_SECURE"),
		},
		Checkout: CheckoutConfig{
			Endpoint:              v.GetString("CHECKOUT_ENDPOINT"),
			FreeShippingThreshold: v.GetString("CHECKOUT_FREE_SHIPPING_THRESHOLD"),
			ShippingFee:           v.GetString("CHECKOUT_SHIPPING_FEE"),
			MaxScreenshotBytes:    v.GetInt64("CHECKOUT_MAX_SCREENSHOT_BYTES"),
			TimeoutSeconds:        v.GetInt("CHECKOUT_TIMEOUT_SECONDS"),
			MaxAttempts:           v.GetInt("CHECKOUT_MAX_ATTEMPTS"),
			RateLimitPerMinute:    v.GetInt("CHECKOUT_RATE_LIMIT_PER_MINUTE"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}
}

func splitList(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
