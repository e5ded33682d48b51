package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the delivery pipeline.
type Config struct {
	// Gateway (required)
	GatewayBaseURL  string
	GatewayAPIKey   string
	GatewayInstance string

	// Account's own number, used to drop webhook echoes of outbound traffic
	BusinessPhone string

	// Store
	DatabaseDSN string

	// Archive object store (optional; archiving falls back to the in-memory
	// store for local runs when unset)
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	// Optional event publishing
	RabbitURL   string
	RabbitQueue string

	// Batch knobs
	RetentionDays     int
	DispatchBatchSize int
	ArchiveBatchSize  int
	DispatchDelay     time.Duration

	Port string
}

// Load reads configuration from the environment, after an optional .env
// file. Missing gateway credentials are a fatal configuration error: the
// pipeline must not silently no-op sends.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, relying on environment variables")
	}

	cfg := &Config{
		GatewayBaseURL:  os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIKey:   os.Getenv("GATEWAY_API_KEY"),
		GatewayInstance: os.Getenv("GATEWAY_INSTANCE"),
		BusinessPhone:   os.Getenv("BUSINESS_PHONE"),
		DatabaseDSN:     os.Getenv("DATABASE_DSN"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        os.Getenv("S3_REGION"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3PathStyle:     os.Getenv("S3_PATH_STYLE") == "true",
		RabbitURL:       os.Getenv("RABBITMQ_URL"),
		RabbitQueue:     os.Getenv("RABBITMQ_QUEUE"),
		Port:            os.Getenv("PORT"),
	}

	var missing []string
	if cfg.GatewayBaseURL == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}
	if cfg.GatewayAPIKey == "" {
		missing = append(missing, "GATEWAY_API_KEY")
	}
	if cfg.GatewayInstance == "" {
		missing = append(missing, "GATEWAY_INSTANCE")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required gateway configuration: %s", strings.Join(missing, ", "))
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = "imovelzap.db"
	}
	if cfg.RabbitQueue == "" {
		cfg.RabbitQueue = "imovelzap_events"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.RetentionDays = intEnv("RETENTION_DAYS", 90)
	cfg.DispatchBatchSize = intEnv("DISPATCH_BATCH_SIZE", 50)
	cfg.ArchiveBatchSize = intEnv("ARCHIVE_BATCH_SIZE", 500)
	cfg.DispatchDelay = time.Duration(intEnv("DISPATCH_DELAY_MS", 300)) * time.Millisecond

	return cfg, nil
}

func intEnv(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Warn().Str("var", name).Str("value", raw).Int("default", def).Msg("Invalid integer in environment, using default")
		return def
	}
	return v
}
