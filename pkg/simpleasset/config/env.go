package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvConfig is the environment variable surface read by WithEnv.
//
//	DATABASE_URL  "memory" (default) or "postgres://..." / "postgresql://..."
//	STORAGE_URL   "memory://" (default), "file:///path/to/data", or "s3://bucket"
type EnvConfig struct {
	Environment    string `env:"ENVIRONMENT" env-default:"development"`
	DatabaseURL    string `env:"DATABASE_URL" env-default:"memory"`
	DBSchema       string `env:"ASSET_DB_SCHEMA" env-default:"asset"`
	MigrateOnStart bool   `env:"ASSET_DB_MIGRATE" env-default:"false"`

	StorageURL    string `env:"STORAGE_URL" env-default:"memory://"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	S3Region          string `env:"AWS_REGION" env-default:"us-east-1"`
	S3Endpoint        string `env:"AWS_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	S3EnableSSE       bool   `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	S3SSEAlgorithm    string `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	S3SSEKMSKeyID     string `env:"AWS_S3_SSE_KMS_KEY_ID"`
	S3CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`

	PathAllocator string `env:"PATH_ALLOCATOR" env-default:"timestamp"`

	MaxUploadSize     int64         `env:"MAX_UPLOAD_SIZE" env-default:"52428800"`
	AllowedMimeTypes  []string      `env:"ALLOWED_MIME_TYPES" env-separator:","`
	UploadConcurrency int           `env:"UPLOAD_CONCURRENCY" env-default:"1"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" env-default:"30s"`

	GalleryNamespace string `env:"GALLERY_NAMESPACE" env-default:"fragrances"`
	MaxSlots         int    `env:"GALLERY_MAX_SLOTS" env-default:"4"`

	EnableEventLogging bool `env:"ENABLE_EVENT_LOGGING" env-default:"true"`
}

// WithEnv reads EnvConfig from the process environment. Every field has a
// default, so options meant to override the environment go after it.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env EnvConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return env.apply(c)
	}
}

func (e EnvConfig) apply(c *ServerConfig) error {
	c.Environment = e.Environment
	c.DBSchema = e.DBSchema
	c.MigrateOnStart = e.MigrateOnStart

	switch {
	case e.DatabaseURL == "" || e.DatabaseURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(e.DatabaseURL, "postgres://"), strings.HasPrefix(e.DatabaseURL, "postgresql://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = e.DatabaseURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", e.DatabaseURL)
	}

	if err := e.applyStorage(c); err != nil {
		return err
	}

	c.PathAllocator = e.PathAllocator
	c.MaxUploadSize = e.MaxUploadSize
	c.AllowedMimeTypes = e.AllowedMimeTypes
	c.UploadConcurrency = e.UploadConcurrency
	c.StoreTimeout = e.StoreTimeout
	c.GalleryNamespace = e.GalleryNamespace
	c.MaxSlots = e.MaxSlots
	c.EnableEventLogging = e.EnableEventLogging
	return nil
}

func (e EnvConfig) applyStorage(c *ServerConfig) error {
	raw := e.StorageURL
	switch {
	case raw == "" || raw == "memory" || raw == "memory://":
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		if e.PublicBaseURL != "" {
			c.Storage.Config["public_base_url"] = e.PublicBaseURL
		}
		return nil

	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.Storage = StorageBackendConfig{Type: "fs", Config: map[string]interface{}{"base_dir": path}}
		if e.PublicBaseURL != "" {
			c.Storage.Config["url_prefix"] = e.PublicBaseURL
		}
		return nil

	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid STORAGE_URL: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		region := e.S3Region
		if r := u.Query().Get("region"); r != "" {
			region = r
		}
		c.Storage = StorageBackendConfig{
			Type: "s3",
			Config: map[string]interface{}{
				"bucket":                     u.Host,
				"region":                     region,
				"endpoint":                   e.S3Endpoint,
				"access_key_id":              e.S3AccessKeyID,
				"secret_access_key":          e.S3SecretAccessKey,
				"use_path_style":             e.S3UsePathStyle,
				"public_base_url":            e.PublicBaseURL,
				"enable_sse":                 e.S3EnableSSE,
				"sse_algorithm":              e.S3SSEAlgorithm,
				"sse_kms_key_id":             e.S3SSEKMSKeyID,
				"create_bucket_if_not_exist": e.S3CreateBucket,
			},
		}
		return nil
	}

	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}
