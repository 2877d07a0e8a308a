package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"objectstore/internal/storage"

	"go.uber.org/zap"
)

// ErrReadOnly 表示在只读服务上执行了写操作。
var ErrReadOnly = errors.New("readonly service - no CUD operations allowed")

// ErrMissingBucket 表示既没有绑定 bucket 也没有在调用时提供。
var ErrMissingBucket = storage.ErrMissingBucket

// MaxRetriesError 表示 PutObject 的超时重试次数已用尽。
type MaxRetriesError struct {
	Limit int
	Last  error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("storage service: max retries (%d) on timeout reached", e.Limit)
}

func (e *MaxRetriesError) Unwrap() error { return e.Last }

func (e *MaxRetriesError) ErrorCode() string { return storage.CodeMaxRetriesReached }

// ServiceConfig 是服务的不可变配置，由工厂构造后不再修改。
type ServiceConfig struct {
	Type                 string
	Bucket               string
	KeyPrefix            string
	ReadOnly             bool
	BaseURLWithoutBucket string
	MaxRetriesOnTimeout  int
}

// StorageService 在后端客户端之上提供 key 前缀、只读控制和超时重试。
// 除不可变配置外不持有状态，可被任意多个 goroutine 并发使用。
type StorageService struct {
	client storage.Client
	logger *zap.Logger
	config ServiceConfig
}

// NewStorageService 用已构造好的后端客户端创建服务。
func NewStorageService(client storage.Client, logger *zap.Logger, cfg ServiceConfig) *StorageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetriesOnTimeout <= 0 {
		cfg.MaxRetriesOnTimeout = 5
	}
	return &StorageService{
		client: client,
		logger: logger.With(zap.String("backend", cfg.Type)),
		config: cfg,
	}
}

// Bucket 返回构造时绑定的 bucket，可能为空。
func (s *StorageService) Bucket() string { return s.config.Bucket }

// Type 返回后端类型（s3 或 localstorage）。
func (s *StorageService) Type() string { return s.config.Type }

func (s *StorageService) KeyPrefix() string { return s.config.KeyPrefix }

func (s *StorageService) ReadOnly() bool { return s.config.ReadOnly }

// BaseEndpointURL 返回 bucket（及 key 前缀）对应的基础地址。
// 构造时绑定的 bucket 优先于参数。
func (s *StorageService) BaseEndpointURL(bucket string) (string, error) {
	if s.config.Bucket != "" {
		bucket = s.config.Bucket
	}
	if bucket == "" {
		return "", ErrMissingBucket
	}

	u := s.config.BaseURLWithoutBucket + "/" + bucket
	if s.config.KeyPrefix != "" {
		u += "/" + s.config.KeyPrefix
	}
	return u, nil
}

// URL 拼出对象的外部地址。key 不会再加前缀，调用方传入期望暴露的路径。
func (s *StorageService) URL(key, bucket string) (string, error) {
	base, err := s.BaseEndpointURL(bucket)
	if err != nil {
		return "", err
	}
	return base + "/" + key, nil
}

// KeyWithPrefix 为 key 加上配置的前缀；已带前缀的 key 原样返回。
func (s *StorageService) KeyWithPrefix(key string) string {
	prefix := s.config.KeyPrefix
	if prefix == "" {
		return key
	}
	if strings.HasPrefix(key, prefix+"/") {
		return key
	}
	return prefix + "/" + key
}

// StripKeyPrefix 去掉开头的前缀；不匹配时原样返回。
func (s *StorageService) StripKeyPrefix(key string) string {
	prefix := s.config.KeyPrefix
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}

// GetObject 读取对象。返回值的 Key 为带前缀的完整 key。
// 不存在时的错误码按后端不同（ENOENT 或 NoSuchKey），不做统一。
func (s *StorageService) GetObject(ctx context.Context, in *storage.GetObjectInput) (*storage.GetObjectOutput, error) {
	params := *in
	params.Key = s.KeyWithPrefix(in.Key)

	start := time.Now()
	out, err := s.client.GetObject(ctx, &params)
	s.observe("get", start, err)
	if err != nil {
		return nil, err
	}

	out.Key = params.Key
	return out, nil
}

// DeleteObject 删除对象，成功时返回 true。
func (s *StorageService) DeleteObject(ctx context.Context, in *storage.DeleteObjectInput) (bool, error) {
	if s.config.ReadOnly {
		return false, ErrReadOnly
	}

	params := *in
	params.Key = s.KeyWithPrefix(in.Key)

	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &params)
	s.observe("delete", start, err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutObject 写入对象。后端报告 RequestTimeout 时顺序重试，
// 总尝试次数（含第一次）不超过 MaxRetriesOnTimeout；其他错误立即返回。
func (s *StorageService) PutObject(ctx context.Context, in *storage.PutObjectInput) (*storage.PutObjectOutput, error) {
	if s.config.ReadOnly {
		return nil, ErrReadOnly
	}

	maxAttempts := s.config.MaxRetriesOnTimeout
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := s.putObjectOnce(ctx, in)
		if err == nil {
			return out, nil
		}
		if !storage.IsTimeout(err) {
			return nil, err
		}

		lastErr = err
		putTimeoutRetries.WithLabelValues(s.config.Type).Inc()
		s.logger.Warn("put object timed out",
			zap.String("key", s.KeyWithPrefix(in.Key)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
	}

	s.logger.Error("put object gave up after timeouts",
		zap.String("key", s.KeyWithPrefix(in.Key)),
		zap.Int("max_attempts", maxAttempts),
	)
	return nil, &MaxRetriesError{Limit: maxAttempts, Last: lastErr}
}

func (s *StorageService) putObjectOnce(ctx context.Context, in *storage.PutObjectInput) (*storage.PutObjectOutput, error) {
	params := *in
	params.Key = s.KeyWithPrefix(in.Key)

	start := time.Now()
	out, err := s.client.PutObject(ctx, &params)
	s.observe("put", start, err)
	if err != nil {
		return nil, err
	}
	if out.Key == "" {
		out.Key = params.Key
	}
	return out, nil
}

// Upload 流式分片上传，只尝试一次；分片级别的重试由后端客户端负责。
func (s *StorageService) Upload(ctx context.Context, in *storage.UploadInput, opts storage.UploadOptions) (*storage.UploadOutput, error) {
	if s.config.ReadOnly {
		return nil, ErrReadOnly
	}

	params := *in
	params.Key = s.KeyWithPrefix(in.Key)

	start := time.Now()
	out, err := s.client.Upload(ctx, &params, opts)
	s.observe("upload", start, err)
	if err != nil {
		return nil, err
	}
	if out.Key == "" {
		out.Key = params.Key
	}
	return out, nil
}

func (s *StorageService) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = storage.ErrorCode(err)
		if result == "" {
			result = "error"
		}
	}
	operationsTotal.WithLabelValues(op, s.config.Type, result).Inc()
	operationDuration.WithLabelValues(op, s.config.Type).Observe(time.Since(start).Seconds())
}
