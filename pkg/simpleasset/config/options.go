package config

import (
	"fmt"
	"time"
)

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMigrations applies the catalog schema when the service is built
func WithMigrations(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.MigrateOnStart = enabled
		return nil
	}
}

// WithMemoryStorage keeps blobs in process memory
func WithMemoryStorage(publicBaseURL string) Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		if publicBaseURL != "" {
			c.Storage.Config["public_base_url"] = publicBaseURL
		}
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir and serves them from urlPrefix
func WithFilesystemStorage(baseDir, urlPrefix string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageBackendConfig{
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		}
		if urlPrefix != "" {
			c.Storage.Config["url_prefix"] = urlPrefix
		}
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.Storage = StorageBackendConfig{
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}
		return nil
	}
}

// WithS3Endpoint points the S3 backend at an S3-compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 endpoint requires S3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithS3Credentials sets static S3 credentials. Without them the default AWS chain is used.
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 credentials require S3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Encryption enables server-side encryption
func WithS3Encryption(algorithm, kmsKeyID string) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 encryption requires S3 storage, got: %s", c.Storage.Type)
		}
		if algorithm != "AES256" && algorithm != "aws:kms" {
			return fmt.Errorf("SSE algorithm must be 'AES256' or 'aws:kms', got: %s", algorithm)
		}
		c.Storage.Config["enable_sse"] = true
		c.Storage.Config["sse_algorithm"] = algorithm
		if kmsKeyID != "" {
			c.Storage.Config["sse_kms_key_id"] = kmsKeyID
		}
		return nil
	}
}

// WithPublicBaseURL overrides the base of public asset URLs, e.g. a CDN
func WithPublicBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Config == nil {
			c.Storage.Config = map[string]interface{}{}
		}
		key := "public_base_url"
		if c.Storage.Type == "fs" {
			key = "url_prefix"
		}
		c.Storage.Config[key] = baseURL
		return nil
	}
}

// WithUploadLimits sets the per-file size ceiling and, optionally, the permitted types
func WithUploadLimits(maxSize int64, mimeTypes ...string) Option {
	return func(c *ServerConfig) error {
		if maxSize <= 0 {
			return fmt.Errorf("max upload size must be positive, got: %d", maxSize)
		}
		c.MaxUploadSize = maxSize
		if len(mimeTypes) > 0 {
			c.AllowedMimeTypes = mimeTypes
		}
		return nil
	}
}

// WithUploadConcurrency lets a batch process up to n files at once
func WithUploadConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		if n < 1 {
			return fmt.Errorf("upload concurrency must be at least 1, got: %d", n)
		}
		c.UploadConcurrency = n
		return nil
	}
}

// WithStoreTimeout bounds each store call
func WithStoreTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		c.StoreTimeout = d
		return nil
	}
}

// WithGallery sets the gallery upload namespace and slot count
func WithGallery(namespace string, maxSlots int) Option {
	return func(c *ServerConfig) error {
		if maxSlots < 1 {
			return fmt.Errorf("max slots must be at least 1, got: %d", maxSlots)
		}
		if namespace != "" {
			c.GalleryNamespace = namespace
		}
		c.MaxSlots = maxSlots
		return nil
	}
}

// WithEventLogging toggles the logging event sink
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithPathAllocator selects the storage key layout: "timestamp" or "sharded"
func WithPathAllocator(name string) Option {
	return func(c *ServerConfig) error {
		switch name {
		case "timestamp", "sharded":
			c.PathAllocator = name
			return nil
		default:
			return fmt.Errorf("path allocator must be 'timestamp' or 'sharded', got: %s", name)
		}
	}
}
