package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("DefaultRegion", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
	})

	t.Run("CustomPartSize", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			PartSize:        10 * 1024 * 1024,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10*1024*1024), backend.uploader.PartSize)
	})
}

func TestS3Backend_PublicURL(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		path   string
		want   string
	}{
		{
			name:   "aws virtual host",
			config: Config{Bucket: "assets", Region: "eu-west-1"},
			path:   "uploads/1700000000000-abc.png",
			want:   "https://assets.s3.eu-west-1.amazonaws.com/uploads/1700000000000-abc.png",
		},
		{
			name:   "minio endpoint",
			config: Config{Bucket: "assets", Region: "us-east-1", Endpoint: "http://localhost:9000/", UsePathStyle: true},
			path:   "fragrances/a.jpg",
			want:   "http://localhost:9000/assets/fragrances/a.jpg",
		},
		{
			name:   "cdn base url",
			config: Config{Bucket: "assets", Region: "us-east-1", PublicBaseURL: "https://cdn.example.com/"},
			path:   "/uploads/my photo.jpg",
			want:   "https://cdn.example.com/uploads/my%20photo.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.AccessKeyID = "test-key"
			tt.config.SecretAccessKey = "test-secret"
			backend, err := New(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, backend.PublicURL(tt.path))
			assert.Equal(t, backend.PublicURL(tt.path), backend.PublicURL(tt.path))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NoSuchKey"})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("connection reset")))
}

// TestS3Backend_Integration runs against a real S3-compatible endpoint such as MinIO
func TestS3Backend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("SIMPLE_ASSET_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping integration test: SIMPLE_ASSET_TEST_S3_ENDPOINT not set")
	}
	bucket := os.Getenv("SIMPLE_ASSET_TEST_S3_BUCKET")
	if bucket == "" {
		bucket = "simple-asset-test"
	}

	backend, err := New(Config{
		Region:                 "us-east-1",
		Bucket:                 bucket,
		AccessKeyID:            os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey:        os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := fmt.Sprintf("integration/%d.txt", time.Now().UnixNano())
	data := []byte("hello from the integration test")

	require.NoError(t, backend.Put(ctx, path, bytes.NewReader(data), simpleasset.PutOptions{MimeType: "text/plain"}))

	info, err := backend.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)

	rc, err := backend.Get(ctx, path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	infos, err := backend.List(ctx, "integration/")
	require.NoError(t, err)
	var found bool
	for _, i := range infos {
		if i.Path == path {
			found = true
		}
	}
	assert.True(t, found, "listed objects should include %s", path)

	require.NoError(t, backend.Delete(ctx, path))
	assert.ErrorIs(t, backend.Delete(ctx, path), simpleasset.ErrBlobNotFound)
	_, err = backend.Get(ctx, path)
	assert.ErrorIs(t, err, simpleasset.ErrBlobNotFound)
}
