package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/pathalloc"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	repopg "github.com/tendant/simple-asset/pkg/simpleasset/repo/postgres"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	s3storage "github.com/tendant/simple-asset/pkg/simpleasset/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "asset",
		Storage: StorageBackendConfig{
			Type:   "memory",
			Config: map[string]interface{}{},
		},
		PathAllocator:      "timestamp",
		MaxUploadSize:      simpleasset.DefaultMaxUploadSize,
		UploadConcurrency:  1,
		StoreTimeout:       simpleasset.DefaultStoreTimeout,
		GalleryNamespace:   simpleasset.DefaultGalleryNamespace,
		MaxSlots:           simpleasset.MaxSlots,
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the simple-asset service
type ServerConfig struct {
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL    string
	DatabaseType   string // "memory", "postgres"
	DBSchema       string // Postgres schema to use (default: asset)
	MigrateOnStart bool

	// Storage configuration
	Storage StorageBackendConfig

	// PathAllocator picks the storage key layout: "timestamp" or "sharded"
	PathAllocator string

	// Upload policy
	MaxUploadSize     int64
	AllowedMimeTypes  []string // empty keeps the default list
	UploadConcurrency int
	StoreTimeout      time.Duration

	// Entity galleries
	GalleryNamespace string
	MaxSlots         int

	EnableEventLogging bool
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	if _, err := c.buildAllocator(); err != nil {
		return err
	}

	if c.MaxUploadSize <= 0 {
		return errors.New("max upload size must be positive")
	}
	if c.UploadConcurrency < 1 {
		return errors.New("upload concurrency must be at least 1")
	}
	if c.MaxSlots < 1 {
		return errors.New("max slots must be at least 1")
	}
	if _, err := c.UploadPolicy(); err != nil {
		return err
	}

	return nil
}

// UploadPolicy derives the upload policy. Types outside the default list are
// accepted when they are image/* or video/*.
func (c *ServerConfig) UploadPolicy() (simpleasset.UploadPolicy, error) {
	policy := simpleasset.DefaultUploadPolicy()
	policy.MaxFileSize = c.MaxUploadSize
	if len(c.AllowedMimeTypes) == 0 {
		return policy, nil
	}

	allowed := make(map[string]simpleasset.AssetKind, len(c.AllowedMimeTypes))
	for _, raw := range c.AllowedMimeTypes {
		mimeType := simpleasset.NormalizeMimeType(raw)
		if mimeType == "" {
			continue
		}
		switch {
		case strings.HasPrefix(mimeType, "image/"):
			allowed[mimeType] = simpleasset.AssetKindImage
		case strings.HasPrefix(mimeType, "video/"):
			allowed[mimeType] = simpleasset.AssetKindVideo
		default:
			return policy, fmt.Errorf("allowed mime type %q is neither image nor video", raw)
		}
	}
	policy.AllowedMimeTypes = allowed
	return policy, nil
}

// Runtime holds the built service together with the stores behind it.
type Runtime struct {
	Service   simpleasset.Service
	Catalog   simpleasset.Catalog
	BlobStore simpleasset.BlobStore
	close     func()
}

// Close releases the database pool, if any
func (r *Runtime) Close() {
	if r.close != nil {
		r.close()
	}
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService() (simpleasset.Service, error) {
	rt, err := c.Build(context.Background(), slog.Default())
	if err != nil {
		return nil, err
	}
	return rt.Service, nil
}

// Build creates the repository, blob store, and service.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	repo, closeRepo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	rt.close = closeRepo

	store, err := c.buildStorageBackend()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}

	policy, err := c.UploadPolicy()
	if err != nil {
		rt.Close()
		return nil, err
	}

	allocator, err := c.buildAllocator()
	if err != nil {
		rt.Close()
		return nil, err
	}

	options := []simpleasset.Option{
		simpleasset.WithCatalog(repo),
		simpleasset.WithImageStore(repo),
		simpleasset.WithBlobStore(store),
		simpleasset.WithLogger(logger),
		simpleasset.WithAllocator(allocator),
		simpleasset.WithUploadPolicy(policy),
		simpleasset.WithConcurrency(c.UploadConcurrency),
		simpleasset.WithStoreTimeout(c.StoreTimeout),
		simpleasset.WithGallery(c.GalleryNamespace, c.MaxSlots),
	}
	if c.EnableEventLogging {
		options = append(options, simpleasset.WithEventSink(simpleasset.NewLoggingEventSink(logger)))
	}

	svc, err := simpleasset.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	rt.Catalog = repo
	rt.BlobStore = store
	return rt, nil
}

// buildAllocator maps PathAllocator to an allocator
func (c *ServerConfig) buildAllocator() (simpleasset.PathAllocator, error) {
	switch c.PathAllocator {
	case "", "timestamp":
		return pathalloc.NewTimestampAllocator(), nil
	case "sharded":
		return pathalloc.NewShardedAllocator(), nil
	default:
		return nil, fmt.Errorf("unsupported path allocator: %s (use 'timestamp' or 'sharded')", c.PathAllocator)
	}
}

type repository interface {
	simpleasset.Catalog
	simpleasset.ImageStore
}

// buildRepository creates the catalog and image store based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		repo := repopg.NewWithPool(pool)
		if c.MigrateOnStart {
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres with the schema on the search_path.
func PingPostgres(databaseURL, schema string) error {
	pool, err := newPool(context.Background(), databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend() (simpleasset.BlobStore, error) {
	config := c.Storage.Config
	switch c.Storage.Type {
	case "memory":
		return memorystorage.NewWithBaseURL(getString(config, "public_base_url", memorystorage.DefaultBaseURL)), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   getString(config, "base_dir", "./data/storage"),
			URLPrefix: getString(config, "url_prefix", fsstorage.DefaultURLPrefix),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config, "region", "us-east-1"),
			Bucket:                 getString(config, "bucket", ""),
			AccessKeyID:            getString(config, "access_key_id", ""),
			SecretAccessKey:        getString(config, "secret_access_key", ""),
			Endpoint:               getString(config, "endpoint", ""),
			UsePathStyle:           getBool(config, "use_path_style", false),
			PublicBaseURL:          getString(config, "public_base_url", ""),
			PartSize:               int64(getInt(config, "part_size", 0)),
			EnableSSE:              getBool(config, "enable_sse", false),
			SSEAlgorithm:           getString(config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok && str != "" {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}
	return defaultValue
}
