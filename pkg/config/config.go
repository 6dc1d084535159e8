package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`
	LogFile   string `mapstructure:"LOG_FILE"`

	DatabaseURL string        `mapstructure:"DATABASE_URL" validate:"required,url|uri"`
	DBMaxConns  int           `mapstructure:"DB_MAX_CONNS" validate:"gte=1,lte=1000"`
	DBSlowQuery time.Duration `mapstructure:"DB_SLOW_QUERY"`

	// Redis is optional: without it broadcasts fan out inline and change
	// events stay within the process.
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`

	JWTSecret string        `mapstructure:"JWT_SECRET" validate:"required,min=16"`
	TokenTTL  time.Duration `mapstructure:"TOKEN_TTL" validate:"required"`

	ReputationURL      string        `mapstructure:"REPUTATION_URL" validate:"required,url"`
	ReputationKey      string        `mapstructure:"REPUTATION_KEY"`
	EchoURL            string        `mapstructure:"ECHO_URL" validate:"required,url"`
	SecurityFailClosed bool          `mapstructure:"SECURITY_FAIL_CLOSED"`
	SecurityTimeout    time.Duration `mapstructure:"SECURITY_TIMEOUT" validate:"required"`
	GeoIPDBPath        string        `mapstructure:"GEOIP_DB_PATH"`

	StorageRoot        string   `mapstructure:"STORAGE_ROOT" validate:"required"`
	StoragePublicURL   string   `mapstructure:"STORAGE_PUBLIC_URL" validate:"required,url"`
	ProofBuckets       []string `mapstructure:"PROOF_BUCKETS" validate:"required,min=1,dive,required"`
	AvatarBucket       string   `mapstructure:"AVATAR_BUCKET" validate:"required"`
	AnnouncementBucket string   `mapstructure:"ANNOUNCEMENT_BUCKET" validate:"required"`
	MaxUploadBytes     int64    `mapstructure:"MAX_UPLOAD_BYTES" validate:"gte=1024"`

	InventorySize int   `mapstructure:"INVENTORY_SIZE" validate:"gte=1"`
	ArtifactPrice int64 `mapstructure:"ARTIFACT_PRICE" validate:"gte=0"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

// Buckets returns every bucket the object store must provision.
func (c *Config) Buckets() []string {
	out := append([]string{}, c.ProofBuckets...)
	return append(out, c.AvatarBucket, c.AnnouncementBucket)
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_SLOW_QUERY", "200ms")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("GOMAXPROCS", 0)
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("REPUTATION_URL", "https://www.iphunter.info:8082/v1/ip")
	v.SetDefault("ECHO_URL", "https://api.ipify.org?format=json")
	v.SetDefault("SECURITY_FAIL_CLOSED", true)
	v.SetDefault("SECURITY_TIMEOUT", "5s")
	v.SetDefault("STORAGE_ROOT", "./data/storage")
	v.SetDefault("STORAGE_PUBLIC_URL", "http://localhost:8080/storage")
	v.SetDefault("PROOF_BUCKETS", "proofs,payment_proofs")
	v.SetDefault("AVATAR_BUCKET", "avatars")
	v.SetDefault("ANNOUNCEMENT_BUCKET", "announcements")
	v.SetDefault("MAX_UPLOAD_BYTES", 5<<20)
	v.SetDefault("INVENTORY_SIZE", 777)
	v.SetDefault("ARTIFACT_PRICE", 2000)

	// Optional config file
	_ = v.ReadInConfig()

	// Bind env without prefix for convenience
	keys := []string{
		"APP_ENV",
		"HTTP_ADDR",
		"SHUTDOWN_TIMEOUT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"LOG_FILE",
		"DATABASE_URL",
		"DB_MAX_CONNS",
		"DB_SLOW_QUERY",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"ASYNQ_CONCURRENCY",
		"GOMAXPROCS",
		"JWT_SECRET",
		"TOKEN_TTL",
		"REPUTATION_URL",
		"REPUTATION_KEY",
		"ECHO_URL",
		"SECURITY_FAIL_CLOSED",
		"SECURITY_TIMEOUT",
		"GEOIP_DB_PATH",
		"STORAGE_ROOT",
		"STORAGE_PUBLIC_URL",
		"PROOF_BUCKETS",
		"AVATAR_BUCKET",
		"ANNOUNCEMENT_BUCKET",
		"MAX_UPLOAD_BYTES",
		"INVENTORY_SIZE",
		"ARTIFACT_PRICE",
		"CORS_ORIGINS",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Parse duration types that may come as string
	durations := map[string]*time.Duration{
		"SHUTDOWN_TIMEOUT": &c.ShutdownTimeout,
		"TOKEN_TTL":        &c.TokenTTL,
		"SECURITY_TIMEOUT": &c.SecurityTimeout,
		"DB_SLOW_QUERY":    &c.DBSlowQuery,
	}
	for key, dst := range durations {
		if s := v.GetString(key); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	// Comma separated lists arrive as a single string from the environment.
	c.ProofBuckets = splitList(v.GetString("PROOF_BUCKETS"))
	c.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
