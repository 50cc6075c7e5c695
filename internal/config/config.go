package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type GatewayConfig struct {
	BaseURL         string
	DealerCode      string
	Username        string
	Password        string
	Timeout         time.Duration
	InquiryLookback time.Duration
}

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string
	Port           string

	Gateway GatewayConfig

	AppBaseURL        string
	AllowedOrigins    []string
	JWTSecret         string
	MaintenanceSecret string

	MaintenanceInterval  time.Duration
	AbandonedIntentAfter time.Duration
	StuckVoidAfter       time.Duration
	StuckRefundAfter     time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		NatsURL:        os.Getenv("NATS_URL"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		Port:           getEnv("PORT", "8085"),
		Gateway: GatewayConfig{
			BaseURL:         strings.TrimRight(getEnv("BAKIYEM_BASE_URL", "https://service.refmokaunited.com"), "/"),
			DealerCode:      strings.TrimSpace(os.Getenv("BAKIYEM_DEALER_CODE")),
			Username:        strings.TrimSpace(os.Getenv("BAKIYEM_API_USERNAME")),
			Password:        strings.TrimSpace(os.Getenv("BAKIYEM_API_PASSWORD")),
			Timeout:         getDuration("BAKIYEM_TIMEOUT", 15*time.Second),
			InquiryLookback: getDuration("BAKIYEM_INQUIRY_LOOKBACK", 24*time.Hour),
		},
		AppBaseURL:           strings.TrimRight(os.Getenv("APP_BASE_URL"), "/"),
		AllowedOrigins:       splitList(os.Getenv("PAYMENT_ALLOWED_ORIGINS")),
		JWTSecret:            os.Getenv("AUTH_JWT_SECRET"),
		MaintenanceSecret:    strings.TrimSpace(os.Getenv("PAYMENT_MAINTENANCE_SECRET")),
		MaintenanceInterval:  getDuration("MAINTENANCE_INTERVAL", 0),
		AbandonedIntentAfter: getDuration("ABANDONED_INTENT_AFTER", time.Hour),
		StuckVoidAfter:       getDuration("STUCK_VOID_AFTER", 30*time.Minute),
		StuckRefundAfter:     getDuration("STUCK_REFUND_AFTER", 2*time.Hour),
	}
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("BAKIYEM_BASE_URL is required"))
	}
	if c.Gateway.DealerCode == "" || c.Gateway.Username == "" || c.Gateway.Password == "" {
		errs = append(errs, errors.New("BAKIYEM_DEALER_CODE, BAKIYEM_API_USERNAME and BAKIYEM_API_PASSWORD are required"))
	}
	if c.AppBaseURL == "" {
		errs = append(errs, errors.New("APP_BASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

// Origins returns the CORS allow-list, falling back to the app base URL.
func (c *Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	if c.AppBaseURL != "" {
		return []string{c.AppBaseURL}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
