package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceHost     string
	ServicePort     int
	ShutdownTimeout time.Duration
	TemplatesGlob   string
	StaticDir       string

	DB     DBConfig
	Redis  RedisConfig
	MinIO  MinIOConfig
	Stripe StripeConfig
	Clerk  ClerkConfig
	Sanity SanityConfig
	Site   SiteConfig
	CORS   CORSConfig
}

// DBConfig - настройки пула; сама строка подключения собирается в пакете dsn
type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Host        string
	Password    string
	Port        int
	User        string
	DB          int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	URLExpiry  time.Duration
	MaxUploadB int64
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type ClerkConfig struct {
	// PEM публичного ключа инстанса (JWT verification key в панели Clerk)
	JWTKey            string
	AuthorizedParties []string
	WebhookSecret     string
	Leeway            time.Duration
}

type SanityConfig struct {
	ProjectID  string
	Dataset    string
	APIVersion string
	Token      string
	UseCDN     bool
	CacheTTL   time.Duration
}

type SiteConfig struct {
	Name    string
	BaseURL string
}

type CORSConfig struct {
	AllowOrigins []string
}

const (
	envRedisHost = "REDIS_HOST"
	envRedisPort = "REDIS_PORT"
	envRedisUser = "REDIS_USER"
	envRedisPass = "REDIS_PASSWORD"

	envMinIOEndpoint  = "MINIO_ENDPOINT"
	envMinIOAccessKey = "MINIO_ACCESS_KEY"
	envMinIOSecretKey = "MINIO_SECRET_KEY"
	envMinIOBucket    = "MINIO_BUCKET"

	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"

	envClerkJWTKey        = "CLERK_JWT_KEY"
	envClerkWebhookSecret = "CLERK_WEBHOOK_SECRET"
	envClerkParties       = "CLERK_AUTHORIZED_PARTIES"

	envSanityProjectID = "SANITY_PROJECT_ID"
	envSanityDataset   = "SANITY_DATASET"
	envSanityToken     = "SANITY_API_TOKEN"

	envSiteURL = "SITE_URL"
)

func NewConfig() (*Config, error) {
	var err error

	configName := "config"
	_ = godotenv.Load()
	if os.Getenv("CONFIG_NAME") != "" {
		configName = os.Getenv("CONFIG_NAME")
	}

	viper.SetConfigName(configName)
	viper.SetConfigType("toml")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = viper.Unmarshal(cfg)
	if err != nil {
		return nil, err
	}

	if err = cfg.applyEnv(); err != nil {
		return nil, err
	}

	log.Info("config parsed")

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("ServiceHost", "0.0.0.0")
	viper.SetDefault("ServicePort", 8080)
	viper.SetDefault("ShutdownTimeout", 10*time.Second)
	viper.SetDefault("TemplatesGlob", "templates/*")
	viper.SetDefault("StaticDir", "./resources")
	viper.SetDefault("Redis.DialTimeout", 10*time.Second)
	viper.SetDefault("Redis.ReadTimeout", 10*time.Second)
	viper.SetDefault("MinIO.Bucket", "attachments")
	viper.SetDefault("MinIO.URLExpiry", time.Hour)
	viper.SetDefault("MinIO.MaxUploadB", 10<<20)
	viper.SetDefault("Stripe.Currency", "usd")
	viper.SetDefault("Clerk.Leeway", 5*time.Second)
	viper.SetDefault("Sanity.Dataset", "production")
	viper.SetDefault("Sanity.APIVersion", "2023-05-03")
	viper.SetDefault("Sanity.CacheTTL", 5*time.Minute)
}

// applyEnv накладывает секреты и адреса из окружения поверх файла
func (cfg *Config) applyEnv() error {
	if v := os.Getenv(envRedisHost); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv(envRedisPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("redis port must be int value: %w", err)
		}
		cfg.Redis.Port = port
	}
	setIfPresent(&cfg.Redis.Password, envRedisPass)
	setIfPresent(&cfg.Redis.User, envRedisUser)

	setIfPresent(&cfg.MinIO.Endpoint, envMinIOEndpoint)
	setIfPresent(&cfg.MinIO.AccessKey, envMinIOAccessKey)
	setIfPresent(&cfg.MinIO.SecretKey, envMinIOSecretKey)
	setIfPresent(&cfg.MinIO.Bucket, envMinIOBucket)

	setIfPresent(&cfg.Stripe.SecretKey, envStripeSecretKey)
	setIfPresent(&cfg.Stripe.WebhookSecret, envStripeWebhookSecret)

	setIfPresent(&cfg.Clerk.JWTKey, envClerkJWTKey)
	setIfPresent(&cfg.Clerk.WebhookSecret, envClerkWebhookSecret)
	if v := os.Getenv(envClerkParties); v != "" {
		cfg.Clerk.AuthorizedParties = splitList(v)
	}
	// в .env ключ обычно записан в одну строку с \n
	cfg.Clerk.JWTKey = strings.ReplaceAll(cfg.Clerk.JWTKey, `\n`, "\n")

	setIfPresent(&cfg.Sanity.ProjectID, envSanityProjectID)
	setIfPresent(&cfg.Sanity.Dataset, envSanityDataset)
	setIfPresent(&cfg.Sanity.Token, envSanityToken)

	setIfPresent(&cfg.Site.BaseURL, envSiteURL)
	cfg.Site.BaseURL = strings.TrimRight(cfg.Site.BaseURL, "/")

	return nil
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
