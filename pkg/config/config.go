package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MaxApplicationPrefixLen bounds ADMISSION_APPLICATION_PREFIX.
const MaxApplicationPrefixLen = 8

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Events    EventsConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Admission AdmissionConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string
}

// CacheConfig governs the availability snapshot cache.
type CacheConfig struct {
	Enabled         bool
	AvailabilityTTL time.Duration
}

// EventsConfig tunes domain event delivery.
type EventsConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	Channel    string
}

// ReconcileConfig controls the periodic ledger reconciliation job.
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
}

// RateLimitConfig limits application submissions per client.
type RateLimitConfig struct {
	SubmitRPS   float64
	SubmitBurst int
}

// AdmissionConfig holds admission workflow defaults.
type AdmissionConfig struct {
	DefaultAllowWaitlist    bool
	ApplicationNumberPrefix string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}
	if cfg.JWT.Secret == "" && cfg.Env != EnvDevelopment {
		return nil, errors.New("JWT_SECRET is required outside development")
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{Driver: strings.ToLower(v.GetString("STORAGE_DRIVER"))}
	if cfg.Storage.Driver != StorageDriverPostgres && cfg.Storage.Driver != StorageDriverMemory {
		return nil, errors.New("STORAGE_DRIVER must be postgres or memory")
	}

	cfg.Cache = CacheConfig{
		Enabled:         v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		AvailabilityTTL: parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 30*time.Second),
	}

	cfg.Events = EventsConfig{
		Workers:    v.GetInt("EVENTS_WORKERS"),
		QueueSize:  v.GetInt("EVENTS_QUEUE_SIZE"),
		MaxRetries: v.GetInt("EVENTS_MAX_RETRIES"),
		Channel:    v.GetString("EVENTS_CHANNEL"),
	}

	cfg.Reconcile = ReconcileConfig{
		Enabled:  v.GetBool("ENABLE_RECONCILIATION"),
		Schedule: v.GetString("RECONCILE_SCHEDULE"),
	}

	cfg.RateLimit = RateLimitConfig{
		SubmitRPS:   v.GetFloat64("SUBMIT_RATE_LIMIT_RPS"),
		SubmitBurst: v.GetInt("SUBMIT_RATE_LIMIT_BURST"),
	}

	cfg.Admission = AdmissionConfig{
		DefaultAllowWaitlist:    v.GetBool("ADMISSION_DEFAULT_ALLOW_WAITLIST"),
		ApplicationNumberPrefix: v.GetString("ADMISSION_APPLICATION_PREFIX"),
	}
	// numbers are prefix + year + 8 digit sequence and must stay within 20 characters
	if len(cfg.Admission.ApplicationNumberPrefix) > MaxApplicationPrefixLen {
		return nil, errors.New("ADMISSION_APPLICATION_PREFIX must be at most 8 characters")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "kindergarten_admission")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "kindergarten-admission-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)

	v.SetDefault("ENABLE_AVAILABILITY_CACHE", true)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "30s")

	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_QUEUE_SIZE", 256)
	v.SetDefault("EVENTS_MAX_RETRIES", 3)
	v.SetDefault("EVENTS_CHANNEL", "admission.events")

	v.SetDefault("ENABLE_RECONCILIATION", true)
	v.SetDefault("RECONCILE_SCHEDULE", "@every 15m")

	v.SetDefault("SUBMIT_RATE_LIMIT_RPS", 2)
	v.SetDefault("SUBMIT_RATE_LIMIT_BURST", 5)

	v.SetDefault("ADMISSION_DEFAULT_ALLOW_WAITLIST", true)
	v.SetDefault("ADMISSION_APPLICATION_PREFIX", "APP")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
