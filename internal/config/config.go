package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Redis    RedisConfig
	Crypto   CryptoConfig
	Tracking TrackingConfig
	Mail     MailConfig
	Billing  BillingConfig
	Campaign CampaignConfig
}

type AppConfig struct {
	Env  string // development, production
	Name string
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	BodyLimit      string
	// requests per minute per client on the authenticated API
	RateLimit int
}

type DatabaseConfig struct {
	URL          string // postgres:// URL; overrides the discrete fields
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	LogSQL       bool
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type StorageConfig struct {
	Provider string // local, s3
	BasePath string
	S3       S3Config
}

type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

type WorkerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	Username string
	DB       int
}

type CryptoConfig struct {
	EncryptionKey string
}

type TrackingConfig struct {
	BaseURL string
	Secret  string
}

// MailConfig describes the platform's own relay, used for sender
// confirmation codes and as the fallback for campaigns without an SMTP config.
type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTLSMode  string
	FromAddress  string
	FromName     string
	HeloName     string
	SPFInclude   string
	DKIMSelector string
	MaxSendRate  int
}

type BillingConfig struct {
	ProviderBaseURL string
	APIKey          string
	WebhookSecret   string
}

type CampaignConfig struct {
	BatchSize      int
	BatchDelay     time.Duration
	StuckThreshold time.Duration
	SendRetries    int
}

var (
	current   *Config
	currentMu sync.RWMutex
)

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "development"),
			Name: getEnv("APP_NAME", "VashSender"),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "localhost"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			BodyLimit:      getEnv("SERVER_BODY_LIMIT", "20M"),
			RateLimit:      getEnvAsInt("API_RATE_LIMIT", 300),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("POSTGRES_HOST", "localhost"),
			Port:         getEnvAsInt("POSTGRES_PORT", 5432),
			User:         getEnv("POSTGRES_USER", "postgres"),
			Password:     getEnv("POSTGRES_PASSWORD", ""),
			Name:         getEnv("POSTGRES_DB", "vashsender"),
			SSLMode:      getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns: getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
			LogSQL:       getEnvAsBool("DB_LOG_SQL", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			AccessTokenTTL:  getEnvAsDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvAsDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
		},
		Storage: StorageConfig{
			Provider: getEnv("STORAGE_PROVIDER", "local"),
			BasePath: getEnv("STORAGE_BASE_PATH", "./storage"),
			S3: S3Config{
				Bucket:    getEnv("S3_BUCKET", ""),
				Endpoint:  getEnv("S3_ENDPOINT", ""),
				Region:    getEnv("S3_REGION", "us-east-1"),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
			},
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvAsInt("WORKER_CONCURRENCY", 10),
			ShutdownTimeout: getEnvAsDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Username: getEnv("REDIS_USERNAME", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Crypto: CryptoConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Tracking: TrackingConfig{
			BaseURL: strings.TrimRight(getEnv("TRACKING_BASE_URL", "http://localhost:8080"), "/"),
			Secret:  getEnv("TRACKING_SECRET", ""),
		},
		Mail: MailConfig{
			SMTPHost:     getEnv("MAIL_SMTP_HOST", "localhost"),
			SMTPPort:     getEnvAsInt("MAIL_SMTP_PORT", 25),
			SMTPUsername: getEnv("MAIL_SMTP_USERNAME", ""),
			SMTPPassword: getEnv("MAIL_SMTP_PASSWORD", ""),
			SMTPTLSMode:  getEnv("MAIL_SMTP_TLS_MODE", "STARTTLS"),
			FromAddress:  getEnv("MAIL_FROM_ADDRESS", "no-reply@vashsender.local"),
			FromName:     getEnv("MAIL_FROM_NAME", "VashSender"),
			HeloName:     getEnv("MAIL_HELO_NAME", "localhost"),
			SPFInclude:   getEnv("MAIL_SPF_INCLUDE", "_spf.vashsender.local"),
			DKIMSelector: getEnv("MAIL_DKIM_SELECTOR", "vs1"),
			MaxSendRate:  getEnvAsInt("MAIL_MAX_SEND_RATE", 10),
		},
		Billing: BillingConfig{
			ProviderBaseURL: strings.TrimRight(getEnv("BILLING_BASE_URL", "https://test.dodopayments.com"), "/"),
			APIKey:          getEnv("BILLING_API_KEY", ""),
			WebhookSecret:   getEnv("BILLING_WEBHOOK_SECRET", ""),
		},
		Campaign: CampaignConfig{
			BatchSize:      getEnvAsInt("CAMPAIGN_BATCH_SIZE", 500),
			BatchDelay:     getEnvAsDuration("CAMPAIGN_BATCH_DELAY", 2*time.Second),
			StuckThreshold: getEnvAsDuration("CAMPAIGN_STUCK_THRESHOLD", 15*time.Minute),
			SendRetries:    getEnvAsInt("CAMPAIGN_SEND_RETRIES", 5),
		},
	}

	if cfg.Tracking.Secret == "" {
		cfg.Tracking.Secret = cfg.JWT.Secret
	}
	if cfg.JWT.Secret == "" && !cfg.IsProduction() {
		cfg.JWT.Secret = "dev-secret-change-me"
		if cfg.Tracking.Secret == "" {
			cfg.Tracking.Secret = cfg.JWT.Secret
		}
	}
	if cfg.Crypto.EncryptionKey == "" && !cfg.IsProduction() {
		cfg.Crypto.EncryptionKey = cfg.JWT.Secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setCurrent(cfg)
	return cfg, nil
}

// Validate reports the first setting that makes the process unable to run.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Crypto.EncryptionKey == "" {
		return errors.New("ENCRYPTION_KEY is required")
	}
	switch c.Storage.Provider {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_PROVIDER=s3")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	if c.Campaign.BatchSize <= 0 {
		return errors.New("CAMPAIGN_BATCH_SIZE must be positive")
	}
	if c.Campaign.StuckThreshold <= 0 {
		return errors.New("CAMPAIGN_STUCK_THRESHOLD must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// GetConfig returns the configuration most recently loaded by Load or
// LoadFromFile. It is nil before either succeeds.
func GetConfig() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

func setCurrent(cfg *Config) {
	currentMu.Lock()
	current = cfg
	currentMu.Unlock()
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setCurrent(&cfg)
	return &cfg, nil
}
