package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	Environment        string
	LogLevel           string
	DatabasePath       string
	JWTSecret          string
	CORSOrigins        string
	MaxUploadSize      int64
	FileStoragePath    string
	BaseURL            string
	Currency           string
	PlatformFeePercent string

	StripeSecretKey     string
	StripeWebhookSecret string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	NowPaymentsAPIKey   string
	NowPaymentsEmail    string
	NowPaymentsPassword string
	NowPaymentsBaseURL  string

	VAPIDPublicKey  string
	VAPIDPrivateKey string

	RedisURL       string
	PartnerIPLimit int64
	PartnerLimit   int64
}

// Load reads configuration from the process environment. An env file named by
// PAYVEIL_ENV_FILE (or ./.env when present) is loaded first; variables already
// set in the environment win over the file.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabasePath:       getEnv("DATABASE_PATH", "./data/payveil.db"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize:      parseInt64(getEnv("MAX_UPLOAD_SIZE", "26214400"), 26214400), // 25MB default
		FileStoragePath:    getEnv("FILE_STORAGE_PATH", "./data/uploads"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		Currency:           getEnv("CURRENCY", "usd"),
		PlatformFeePercent: getEnv("PLATFORM_FEE_PERCENT", "10"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     int(parseInt64(getEnv("SMTP_PORT", "587"), 587)),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@payveil.local"),

		NowPaymentsAPIKey:   getEnv("NOWPAYMENTS_API_KEY", ""),
		NowPaymentsEmail:    getEnv("NOWPAYMENTS_EMAIL", ""),
		NowPaymentsPassword: getEnv("NOWPAYMENTS_PASSWORD", ""),
		NowPaymentsBaseURL:  getEnv("NOWPAYMENTS_BASE_URL", "https://api.nowpayments.io"),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),

		RedisURL:       getEnv("REDIS_URL", ""),
		PartnerIPLimit: parseInt64(getEnv("PARTNER_IP_LIMIT", "10"), 10),
		PartnerLimit:   parseInt64(getEnv("PARTNER_LIMIT", "60"), 60),
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func loadEnvFile() {
	path, explicit := os.LookupEnv("PAYVEIL_ENV_FILE")
	if !explicit {
		path = ".env"
		if _, err := os.Stat(path); err != nil {
			return
		}
	}
	// godotenv.Load never overrides variables that are already set.
	_ = godotenv.Load(path)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return val
}
