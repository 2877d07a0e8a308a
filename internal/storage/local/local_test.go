package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"objectstore/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, bucket string) (*Client, string) {
	t.Helper()
	root := t.TempDir()
	c, err := New(root, bucket, nil)
	require.NoError(t, err)
	return c, root
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("  ", "b", nil)
	assert.Error(t, err)
}

func TestNew_DoesNotTouchFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not", "yet")
	_, err := New(root, "b", nil)
	require.NoError(t, err)
	assert.NoDirExists(t, root)
}

func TestClient_PutGetDelete(t *testing.T) {
	c, root := newTestClient(t, "b")
	ctx := context.Background()

	put, err := c.PutObject(ctx, &storage.PutObjectInput{Key: "dir/hello.txt", Body: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "dir/hello.txt", put.Key)
	assert.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, put.ETag)

	data, err := os.ReadFile(filepath.Join(root, "b", "dir", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	out, err := c.GetObject(ctx, &storage.GetObjectInput{Key: "dir/hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out.Body)
	assert.Equal(t, int64(5), out.ContentLength)
	assert.Equal(t, put.ETag, out.ETag)
	assert.NotEmpty(t, out.ContentType)

	_, err = c.DeleteObject(ctx, &storage.DeleteObjectInput{Key: "dir/hello.txt"})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "b", "dir", "hello.txt"))
}

func TestClient_PutOverwrites(t *testing.T) {
	c, root := newTestClient(t, "b")
	ctx := context.Background()

	_, err := c.PutObject(ctx, &storage.PutObjectInput{Key: "k", Body: []byte("first")})
	require.NoError(t, err)
	_, err = c.PutObject(ctx, &storage.PutObjectInput{Key: "k", Body: []byte("second")})
	require.NoError(t, err)

	out, err := c.GetObject(ctx, &storage.GetObjectInput{Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "second", string(out.Body))

	// 原子写入不应留下临时文件
	entries, err := os.ReadDir(filepath.Join(root, "b"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClient_GetMissingReturnsENOENT(t *testing.T) {
	c, _ := newTestClient(t, "b")

	_, err := c.GetObject(context.Background(), &storage.GetObjectInput{Key: "nope"})
	require.Error(t, err)
	assert.Equal(t, storage.CodeNotFound, storage.ErrorCode(err))
	assert.True(t, storage.IsNotFound(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClient_DeleteMissingSucceeds(t *testing.T) {
	c, _ := newTestClient(t, "b")

	_, err := c.DeleteObject(context.Background(), &storage.DeleteObjectInput{Key: "nope"})
	assert.NoError(t, err)
}

func TestClient_BucketResolution(t *testing.T) {
	c, root := newTestClient(t, "")
	ctx := context.Background()

	_, err := c.PutObject(ctx, &storage.PutObjectInput{Key: "k", Body: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrMissingBucket)
	assert.Equal(t, storage.CodeMissingParameter, storage.ErrorCode(err))

	_, err = c.PutObject(ctx, &storage.PutObjectInput{Bucket: "other", Key: "k", Body: []byte("x")})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "other", "k"))
}

func TestClient_InvalidInput(t *testing.T) {
	c, _ := newTestClient(t, "b")
	ctx := context.Background()

	tests := []struct {
		name string
		in   *storage.GetObjectInput
		code string
	}{
		{name: "empty key", in: &storage.GetObjectInput{}, code: storage.CodeMissingParameter},
		{name: "bucket with slash", in: &storage.GetObjectInput{Bucket: "a/b", Key: "k"}, code: "InvalidBucketName"},
		{name: "dot dot bucket", in: &storage.GetObjectInput{Bucket: "..", Key: "k"}, code: "InvalidBucketName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.GetObject(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, storage.ErrorCode(err))
		})
	}
}

func TestClient_KeyCannotEscapeBucket(t *testing.T) {
	c, root := newTestClient(t, "b")

	path, err := c.objectPath("", "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b", "etc", "passwd"), path)
}

func TestClient_ConditionalAndRange(t *testing.T) {
	c, _ := newTestClient(t, "b")
	ctx := context.Background()

	put, err := c.PutObject(ctx, &storage.PutObjectInput{Key: "r", Body: []byte("0123456789")})
	require.NoError(t, err)

	out, err := c.GetObject(ctx, &storage.GetObjectInput{Key: "r", Range: &storage.ByteRange{Start: 2, End: 4}})
	require.NoError(t, err)
	assert.Equal(t, "234", string(out.Body))
	assert.Equal(t, "bytes 2-4/10", out.ContentRange)

	out, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "r", Range: &storage.ByteRange{Start: 8, End: -1}})
	require.NoError(t, err)
	assert.Equal(t, "89", string(out.Body))

	out, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "r"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(out.Body))
	assert.Empty(t, out.ContentRange)

	_, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "r", Range: &storage.ByteRange{Start: 10, End: 12}})
	assert.Equal(t, storage.CodeInvalidRange, storage.ErrorCode(err))

	_, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "r", IfMatch: `"deadbeef"`})
	assert.Equal(t, "PreconditionFailed", storage.ErrorCode(err))

	_, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "r", IfNoneMatch: put.ETag})
	assert.Equal(t, "NotModified", storage.ErrorCode(err))

	_, err = c.GetObject(ctx, &storage.GetObjectInput{Key: "r", IfMatch: put.ETag})
	assert.NoError(t, err)
}

func TestClient_Upload(t *testing.T) {
	c, root := newTestClient(t, "b")

	out, err := c.Upload(context.Background(), &storage.UploadInput{
		Key:  "big/file.bin",
		Body: strings.NewReader(strings.Repeat("a", 1<<16)),
	}, storage.UploadOptions{PartSize: 5 << 20, QueueSize: 4})
	require.NoError(t, err)
	assert.Equal(t, "b", out.Bucket)
	assert.Equal(t, filepath.Join(root, "b", "big", "file.bin"), out.Location)

	info, err := os.Stat(out.Location)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<16), info.Size())
}

func TestClient_UploadRequiresBody(t *testing.T) {
	c, _ := newTestClient(t, "b")

	_, err := c.Upload(context.Background(), &storage.UploadInput{Key: "k"}, storage.UploadOptions{})
	assert.Equal(t, storage.CodeMissingParameter, storage.ErrorCode(err))
}

func TestClient_CanceledContext(t *testing.T) {
	c, root := newTestClient(t, "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PutObject(ctx, &storage.PutObjectInput{Key: "k", Body: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Upload(ctx, &storage.UploadInput{Key: "k", Body: strings.NewReader("x")}, storage.UploadOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, filepath.Join(root, "b"))
}

func TestSliceRange(t *testing.T) {
	body := []byte("abcdef")
	tests := []struct {
		name      string
		r         *storage.ByteRange
		want      string
		wantRange string
	}{
		{name: "whole", r: nil, want: "abcdef"},
		{name: "first byte", r: &storage.ByteRange{Start: 0, End: 0}, want: "a", wantRange: "bytes 0-0/6"},
		{name: "middle", r: &storage.ByteRange{Start: 1, End: 2}, want: "bc", wantRange: "bytes 1-2/6"},
		{name: "end past size", r: &storage.ByteRange{Start: 3, End: 100}, want: "def", wantRange: "bytes 3-5/6"},
		{name: "open ended", r: &storage.ByteRange{Start: 0, End: -1}, want: "abcdef", wantRange: "bytes 0-5/6"},
		{name: "suffix", r: &storage.ByteRange{Start: -2, End: -1}, want: "ef", wantRange: "bytes 4-5/6"},
		{name: "suffix longer than body", r: &storage.ByteRange{Start: -10, End: -1}, want: "abcdef", wantRange: "bytes 0-5/6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, contentRange, err := sliceRange(body, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.wantRange, contentRange)
		})
	}

	for _, r := range []*storage.ByteRange{{Start: 10, End: 12}, {Start: 4, End: 2}} {
		_, _, err := sliceRange(body, r)
		assert.Equal(t, storage.CodeInvalidRange, storage.ErrorCode(err), r.String())
	}

	_, _, err := sliceRange(nil, &storage.ByteRange{Start: -3, End: -1})
	assert.Equal(t, storage.CodeInvalidRange, storage.ErrorCode(err))
}
