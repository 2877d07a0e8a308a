package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"objectstore/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestNew_NoNetwork(t *testing.T) {
	c, err := New(Config{
		Endpoint:      "localhost:1",
		AccessKey:     "a",
		SecretKey:     "s",
		PathStyle:     true,
		HTTPTimeout:   time.Second,
		DefaultBucket: "b",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", c.defaultBucket)
}

func TestNew_TransportOptions(t *testing.T) {
	_, err := New(Config{
		Endpoint:       "localhost:1",
		AccessKey:      "a",
		SecretKey:      "s",
		ConnectTimeout: 200 * time.Millisecond,
		Proxy:          "http://proxy.local:3128",
	}, nil)
	require.NoError(t, err)

	_, err = New(Config{Endpoint: "localhost:1", AccessKey: "a", SecretKey: "s", Proxy: "://bad"}, nil)
	assert.ErrorContains(t, err, "parse proxy")
}

func TestContentRange(t *testing.T) {
	info := minio.ObjectInfo{Metadata: http.Header{"Content-Range": []string{"bytes 0-0/10"}}}

	assert.Equal(t, "bytes 0-0/10", contentRange(&storage.ByteRange{Start: 0, End: 0}, info))
	assert.Empty(t, contentRange(nil, info))
	assert.Empty(t, contentRange(&storage.ByteRange{Start: 1, End: 2}, minio.ObjectInfo{}))
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "default", cfg: Config{}, want: "https://s3.amazonaws.com"},
		{name: "ssl endpoint", cfg: Config{Endpoint: "s3.eu-west-1.amazonaws.com", UseSSL: true}, want: "https://s3.eu-west-1.amazonaws.com"},
		{name: "plain endpoint", cfg: Config{Endpoint: "localhost:9000"}, want: "http://localhost:9000"},
		{name: "endpoint with scheme", cfg: Config{Endpoint: "https://minio.local/"}, want: "https://minio.local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicURL(tt.cfg))
		})
	}
}

func TestMapError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, mapError(nil))
	})

	t.Run("keeps native code", func(t *testing.T) {
		err := mapError(minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."})
		assert.Equal(t, storage.CodeNoSuchKey, storage.ErrorCode(err))
		assert.True(t, storage.IsNotFound(err))
		assert.False(t, storage.IsTimeout(err))
	})

	t.Run("server reported timeout", func(t *testing.T) {
		err := mapError(minio.ErrorResponse{Code: "RequestTimeout"})
		assert.True(t, storage.IsTimeout(err))
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		err := mapError(fmt.Errorf("put: %w", context.DeadlineExceeded))
		assert.True(t, storage.IsTimeout(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("net timeout", func(t *testing.T) {
		err := mapError(fmt.Errorf("dial: %w", timeoutError{}))
		assert.True(t, storage.IsTimeout(err))
	})

	t.Run("unknown", func(t *testing.T) {
		base := errors.New("boom")
		err := mapError(base)
		assert.Empty(t, storage.ErrorCode(err))
		assert.ErrorIs(t, err, base)
	})
}

func TestPutOptions(t *testing.T) {
	opts, err := putOptions(storage.WriteOptions{
		ContentType:          "text/plain",
		CacheControl:         "max-age=60",
		ACL:                  "public-read",
		ServerSideEncryption: "AES256",
		Metadata:             map[string]string{"owner": "me"},
	})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", opts.ContentType)
	assert.Equal(t, "max-age=60", opts.CacheControl)
	assert.Equal(t, "public-read", opts.UserMetadata["x-amz-acl"])
	assert.Equal(t, "me", opts.UserMetadata["owner"])
	assert.NotNil(t, opts.ServerSideEncryption)

	opts, err = putOptions(storage.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", opts.ContentType)
	assert.Nil(t, opts.UserMetadata)

	_, err = putOptions(storage.WriteOptions{ServerSideEncryption: "aws:kms"})
	assert.Equal(t, "InvalidArgument", storage.ErrorCode(err))
}

func TestClient_MissingBucket(t *testing.T) {
	c, err := New(Config{AccessKey: "a", SecretKey: "s"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "k"})
	assert.ErrorIs(t, err, storage.ErrMissingBucket)
	_, err = c.PutObject(ctx, &storage.PutObjectInput{Key: "k"})
	assert.ErrorIs(t, err, storage.ErrMissingBucket)
	_, err = c.DeleteObject(ctx, &storage.DeleteObjectInput{Key: "k"})
	assert.ErrorIs(t, err, storage.ErrMissingBucket)
	_, err = c.Upload(ctx, &storage.UploadInput{Key: "k"}, storage.UploadOptions{})
	assert.ErrorIs(t, err, storage.ErrMissingBucket)
}
