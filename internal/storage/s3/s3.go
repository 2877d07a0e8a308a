package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"objectstore/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"go.uber.org/zap"
)

// 未覆盖 endpoint 时使用的 AWS 公共端点。
const (
	DefaultEndpoint  = "s3.amazonaws.com"
	DefaultPublicURL = "https://" + DefaultEndpoint
	DefaultRegion    = "us-east-1"
)

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint    string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey   string
	SecretKey   string
	Region      string
	UseSSL      bool // 是否使用 HTTPS
	PathStyle   bool // 是否使用路径风格（MinIO 需要 true）
	HTTPTimeout time.Duration
	// ConnectTimeout 为 0 时沿用 HTTPTimeout
	ConnectTimeout time.Duration
	Proxy          string // HTTP 代理地址
	DefaultBucket  string
}

// Client 实现了 storage.Client 接口，使用 S3 兼容存储。
type Client struct {
	client        *minio.Client
	defaultBucket string
	logger        *zap.Logger
}

// New 创建 S3 客户端。只构造对象，不发起任何网络请求。
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	transport, err := minio.DefaultTransport(cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	if cfg.HTTPTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.HTTPTimeout
	}
	dialTimeout := cfg.ConnectTimeout
	if dialTimeout <= 0 {
		dialTimeout = cfg.HTTPTimeout
	}
	if dialTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: lookup,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		client:        client,
		defaultBucket: cfg.DefaultBucket,
		logger:        logger.Named("s3"),
	}, nil
}

// PublicURL 返回 endpoint 对应的可访问基础地址（带协议）。
func PublicURL(cfg Config) string {
	if cfg.Endpoint == "" {
		return DefaultPublicURL
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return strings.TrimRight(cfg.Endpoint, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(cfg.Endpoint, "/")
}

// GetObject 从 S3 读取对象全文。对象不存在时返回原生的 NoSuchKey 错误码。
func (c *Client) GetObject(ctx context.Context, in *storage.GetObjectInput) (*storage.GetObjectOutput, error) {
	bucket, err := storage.ResolveBucket(in.Bucket, c.defaultBucket)
	if err != nil {
		return nil, err
	}

	opts := minio.GetObjectOptions{VersionID: in.VersionID}
	if in.IfMatch != "" {
		if err := opts.SetMatchETag(in.IfMatch); err != nil {
			return nil, fmt.Errorf("set if-match: %w", err)
		}
	}
	if in.IfNoneMatch != "" {
		if err := opts.SetMatchETagExcept(in.IfNoneMatch); err != nil {
			return nil, fmt.Errorf("set if-none-match: %w", err)
		}
	}
	if in.Range != nil {
		opts.Set("Range", in.Range.String())
	}

	obj, err := c.client.GetObject(ctx, bucket, in.Key, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer obj.Close()

	// GetObject 是惰性的，Stat 才会真正发出请求
	info, err := obj.Stat()
	if err != nil {
		return nil, mapError(err)
	}

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err)
	}

	return &storage.GetObjectOutput{
		Key:           in.Key,
		Body:          body,
		ContentType:   info.ContentType,
		ContentLength: int64(len(body)),
		ETag:          info.ETag,
		LastModified:  info.LastModified,
		VersionID:     info.VersionID,
		Metadata:      map[string]string(info.UserMetadata),
		ContentRange:  contentRange(in.Range, info),
	}, nil
}

// PutObject 单次写入，超时以 RequestTimeout 错误码上报，由上层决定是否重试。
func (c *Client) PutObject(ctx context.Context, in *storage.PutObjectInput) (*storage.PutObjectOutput, error) {
	bucket, err := storage.ResolveBucket(in.Bucket, c.defaultBucket)
	if err != nil {
		return nil, err
	}

	opts, err := putOptions(in.WriteOptions)
	if err != nil {
		return nil, err
	}

	info, err := c.client.PutObject(ctx, bucket, in.Key, bytes.NewReader(in.Body), int64(len(in.Body)), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return &storage.PutObjectOutput{
		Key:       info.Key,
		ETag:      info.ETag,
		VersionID: info.VersionID,
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, in *storage.DeleteObjectInput) (*storage.DeleteObjectOutput, error) {
	bucket, err := storage.ResolveBucket(in.Bucket, c.defaultBucket)
	if err != nil {
		return nil, err
	}

	err = c.client.RemoveObject(ctx, bucket, in.Key, minio.RemoveObjectOptions{VersionID: in.VersionID})
	if err != nil {
		return nil, mapError(err)
	}
	return &storage.DeleteObjectOutput{VersionID: in.VersionID}, nil
}

// Upload 交给 minio 的分片上传处理，分片重试在 SDK 内部完成。
func (c *Client) Upload(ctx context.Context, in *storage.UploadInput, uploadOpts storage.UploadOptions) (*storage.UploadOutput, error) {
	bucket, err := storage.ResolveBucket(in.Bucket, c.defaultBucket)
	if err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, &storage.Error{Code: storage.CodeMissingParameter, Message: "missing required key 'Body' in params"}
	}

	opts, err := putOptions(in.WriteOptions)
	if err != nil {
		return nil, err
	}
	opts.PartSize = uploadOpts.PartSize
	opts.NumThreads = uploadOpts.QueueSize

	size := in.Size
	if size == 0 {
		size = -1
	}

	info, err := c.client.PutObject(ctx, bucket, in.Key, in.Body, size, opts)
	if err != nil {
		return nil, mapError(err)
	}
	c.logger.Debug("multipart upload finished",
		zap.String("bucket", bucket),
		zap.String("key", in.Key),
		zap.Int64("size", info.Size),
	)

	return &storage.UploadOutput{
		Key:       info.Key,
		Bucket:    info.Bucket,
		ETag:      info.ETag,
		VersionID: info.VersionID,
		Location:  info.Location,
	}, nil
}

func putOptions(w storage.WriteOptions) (minio.PutObjectOptions, error) {
	opts := minio.PutObjectOptions{
		ContentType:             w.ContentType,
		ContentEncoding:         w.ContentEncoding,
		ContentDisposition:      w.ContentDisposition,
		ContentLanguage:         w.ContentLanguage,
		CacheControl:            w.CacheControl,
		StorageClass:            w.StorageClass,
		WebsiteRedirectLocation: w.WebsiteRedirectLocation,
		Expires:                 w.Expires,
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}

	if len(w.Metadata) > 0 || w.ACL != "" {
		opts.UserMetadata = make(map[string]string, len(w.Metadata)+1)
		for k, v := range w.Metadata {
			opts.UserMetadata[k] = v
		}
		// x-amz-* 头不会被加上 x-amz-meta- 前缀
		if w.ACL != "" {
			opts.UserMetadata["x-amz-acl"] = w.ACL
		}
	}

	switch strings.ToUpper(w.ServerSideEncryption) {
	case "":
	case "AES256":
		opts.ServerSideEncryption = encrypt.NewSSE()
	default:
		return opts, &storage.Error{
			Code:    "InvalidArgument",
			Message: fmt.Sprintf("unsupported server side encryption %q", w.ServerSideEncryption),
		}
	}
	return opts, nil
}

// mapError 保留 S3 原生错误码，并把网络层超时统一为 RequestTimeout。
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &storage.Error{Code: storage.CodeRequestTimeout, Message: "request timed out", Err: err}
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		return &storage.Error{Code: resp.Code, Message: resp.Message, Err: err}
	}
	return fmt.Errorf("s3: %w", err)
}

var _ storage.Client = (*Client)(nil)

// contentRange 取响应里的 Content-Range，未按区间读取时为空。
func contentRange(r *storage.ByteRange, info minio.ObjectInfo) string {
	if r == nil || info.Metadata == nil {
		return ""
	}
	return info.Metadata.Get("Content-Range")
}
