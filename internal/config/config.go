package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Enrich    EnrichConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour   int
	FinalizePerHour int
	StatusPerMin    int
}

type StorageConfig struct {
	Endpoint        string // optional, for R2/minio
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

type EnrichConfig struct {
	ServiceURL string
	APIKey     string
	Timeout    int // seconds
}

type PipelineConfig struct {
	BatchSize         int
	MaxAttempts       int
	InitialDelayMS    int
	BackoffMultiplier float64
	StageTimeout      int // seconds
	FinalizeTimeout   int // seconds
	Concurrency       int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("ENRICH_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = viper.BindEnv("enrich.service_url", "ENRICH_SERVICE_URL")
	_ = viper.BindEnv("enrich.api_key", "ENRICH_API_KEY")
	_ = viper.BindEnv("enrich.timeout", "ENRICH_TIMEOUT")
	_ = viper.BindEnv("pipeline.batch_size", "PIPELINE_BATCH_SIZE")
	_ = viper.BindEnv("pipeline.max_attempts", "PIPELINE_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.initial_delay_ms", "PIPELINE_INITIAL_DELAY_MS")
	_ = viper.BindEnv("pipeline.backoff_multiplier", "PIPELINE_BACKOFF_MULTIPLIER")
	_ = viper.BindEnv("pipeline.stage_timeout", "PIPELINE_STAGE_TIMEOUT")
	_ = viper.BindEnv("pipeline.finalize_timeout", "PIPELINE_FINALIZE_TIMEOUT")
	_ = viper.BindEnv("pipeline.concurrency", "PIPELINE_CONCURRENCY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.upload_per_hour", 20)
	viper.SetDefault("ratelimit.finalize_per_hour", 30)
	viper.SetDefault("ratelimit.status_per_min", 120)

	// Storage defaults
	viper.SetDefault("storage.region", "auto")

	// Enrichment service defaults
	viper.SetDefault("enrich.timeout", 120)

	// Pipeline defaults: 100-row batches, 15 attempts per stage with
	// exponential backoff at factor 1.5
	viper.SetDefault("pipeline.batch_size", 100)
	viper.SetDefault("pipeline.max_attempts", 15)
	viper.SetDefault("pipeline.initial_delay_ms", 10000)
	viper.SetDefault("pipeline.backoff_multiplier", 1.5)
	viper.SetDefault("pipeline.stage_timeout", 300)
	viper.SetDefault("pipeline.finalize_timeout", 600)
	viper.SetDefault("pipeline.concurrency", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour:   viper.GetInt("ratelimit.upload_per_hour"),
			FinalizePerHour: viper.GetInt("ratelimit.finalize_per_hour"),
			StatusPerMin:    viper.GetInt("ratelimit.status_per_min"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Bucket:          viper.GetString("storage.bucket"),
		},
		Enrich: EnrichConfig{
			ServiceURL: viper.GetString("enrich.service_url"),
			APIKey:     viper.GetString("enrich.api_key"),
			Timeout:    viper.GetInt("enrich.timeout"),
		},
		Pipeline: PipelineConfig{
			BatchSize:         viper.GetInt("pipeline.batch_size"),
			MaxAttempts:       viper.GetInt("pipeline.max_attempts"),
			InitialDelayMS:    viper.GetInt("pipeline.initial_delay_ms"),
			BackoffMultiplier: viper.GetFloat64("pipeline.backoff_multiplier"),
			StageTimeout:      viper.GetInt("pipeline.stage_timeout"),
			FinalizeTimeout:   viper.GetInt("pipeline.finalize_timeout"),
			Concurrency:       viper.GetInt("pipeline.concurrency"),
		},
	}

	return cfg, nil
}
