package local

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"objectstore/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client 在本地文件系统上模拟对象存储，对象位于 <Root>/<bucket>/<key>。
type Client struct {
	Root          string
	DefaultBucket string
	logger        *zap.Logger
}

// New 创建本地存储客户端。构造时不访问文件系统，目录在首次写入时创建。
func New(root, defaultBucket string, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Root:          filepath.Clean(root),
		DefaultBucket: defaultBucket,
		logger:        logger.Named("localstorage"),
	}, nil
}

func (c *Client) GetObject(ctx context.Context, in *storage.GetObjectInput) (*storage.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := c.objectPath(in.Bucket, in.Key)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, mapFSError(err, in.Key)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, mapFSError(err, in.Key)
	}

	etag := etagOf(body)
	if in.IfMatch != "" && unquote(in.IfMatch) != unquote(etag) {
		return nil, &storage.Error{Code: "PreconditionFailed", Message: "etag mismatch"}
	}
	if in.IfNoneMatch != "" && unquote(in.IfNoneMatch) == unquote(etag) {
		return nil, &storage.Error{Code: "NotModified", Message: "etag matches"}
	}

	body, contentRange, err := sliceRange(body, in.Range)
	if err != nil {
		return nil, err
	}

	return &storage.GetObjectOutput{
		Key:           in.Key,
		Body:          body,
		ContentType:   contentTypeFor(path),
		ContentLength: int64(len(body)),
		ETag:          etag,
		LastModified:  info.ModTime().UTC(),
		ContentRange:  contentRange,
	}, nil
}

func (c *Client) PutObject(ctx context.Context, in *storage.PutObjectInput) (*storage.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := c.objectPath(in.Bucket, in.Key)
	if err != nil {
		return nil, err
	}

	etag, err := writeAtomic(path, bytes.NewReader(in.Body))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("object written", zap.String("path", path), zap.Int("size", len(in.Body)))

	return &storage.PutObjectOutput{Key: in.Key, ETag: etag}, nil
}

func (c *Client) DeleteObject(ctx context.Context, in *storage.DeleteObjectInput) (*storage.DeleteObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := c.objectPath(in.Bucket, in.Key)
	if err != nil {
		return nil, err
	}

	// 与 S3 一致：删除不存在的对象视为成功
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, mapFSError(err, in.Key)
	}
	return &storage.DeleteObjectOutput{}, nil
}

// Upload 流式写入本地文件，分片参数在本地无意义，直接忽略。
func (c *Client) Upload(ctx context.Context, in *storage.UploadInput, _ storage.UploadOptions) (*storage.UploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, &storage.Error{Code: storage.CodeMissingParameter, Message: "missing required key 'Body' in params"}
	}

	bucket, err := storage.ResolveBucket(in.Bucket, c.DefaultBucket)
	if err != nil {
		return nil, err
	}
	path, err := c.objectPath(bucket, in.Key)
	if err != nil {
		return nil, err
	}

	etag, err := writeAtomic(path, contextReader{ctx: ctx, r: in.Body})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("object uploaded", zap.String("path", path))

	return &storage.UploadOutput{
		Key:      in.Key,
		Bucket:   bucket,
		ETag:     etag,
		Location: path,
	}, nil
}

func (c *Client) objectPath(bucket, key string) (string, error) {
	bucket, err := storage.ResolveBucket(bucket, c.DefaultBucket)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", &storage.Error{Code: storage.CodeMissingParameter, Message: "missing required key 'Key' in params"}
	}
	if strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", &storage.Error{Code: "InvalidBucketName", Message: fmt.Sprintf("invalid bucket %q", bucket)}
	}

	// 以 "/" 为根清理 key，防止 ".." 越出 bucket 目录
	cleanKey := filepath.Clean("/" + filepath.FromSlash(key))
	return filepath.Join(c.Root, bucket, cleanKey), nil
}

func writeAtomic(targetPath string, r io.Reader) (string, error) {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := fmt.Sprintf("%s.%s.tmp", targetPath, uuid.NewString())
	file, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(file, h), r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`, nil
}

func mapFSError(err error, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &storage.Error{Code: storage.CodeNotFound, Message: fmt.Sprintf("no such file or directory: %s", key), Err: err}
	}
	return fmt.Errorf("local storage: %w", err)
}

func etagOf(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func unquote(etag string) string {
	return strings.Trim(etag, `"`)
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// sliceRange 按 HTTP Range 语义截取 body，区间越界时返回 InvalidRange。
func sliceRange(body []byte, r *storage.ByteRange) ([]byte, string, error) {
	if r == nil {
		return body, "", nil
	}

	size := int64(len(body))
	start, end := r.Start, r.End
	if start < 0 {
		n := -start
		if n > size {
			n = size
		}
		start, end = size-n, size-1
	} else if end < 0 || end >= size {
		end = size - 1
	}
	if start >= size || end < start {
		return nil, "", &storage.Error{
			Code:    storage.CodeInvalidRange,
			Message: fmt.Sprintf("range %s not satisfiable for size %d", r, size),
		}
	}
	return body[start : end+1], fmt.Sprintf("bytes %d-%d/%d", start, end, size), nil
}

// contextReader 在每次读取前检查 ctx，使长时间的流式写入可以被取消。
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

var _ storage.Client = (*Client)(nil)
