package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// 支持的后端类型。
const (
	TypeS3           = "s3"
	TypeLocalStorage = "localstorage"
)

// Client 定义对象存储后端的统一调用接口，远端 S3 与本地文件系统模拟各有一个实现。
type Client interface {
	GetObject(ctx context.Context, in *GetObjectInput) (*GetObjectOutput, error)
	// PutObject 单次写入，不做任何重试。
	PutObject(ctx context.Context, in *PutObjectInput) (*PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *DeleteObjectInput) (*DeleteObjectOutput, error)
	// Upload 以分片方式流式上传大对象，opts 原样透传给后端。
	Upload(ctx context.Context, in *UploadInput, opts UploadOptions) (*UploadOutput, error)
}

// GetObjectInput 描述读取对象的参数。
type GetObjectInput struct {
	Bucket      string
	Key         string
	VersionID   string
	IfMatch     string
	IfNoneMatch string
	// Range 为 nil 时读取全文。
	Range *ByteRange
}

// ByteRange 是 HTTP Range 的单个闭区间。
// End 为负数表示读到末尾；Start 为负数表示读取最后 -Start 个字节。
type ByteRange struct {
	Start int64
	End   int64
}

// String 返回 Range 请求头的取值。
func (r ByteRange) String() string {
	switch {
	case r.Start < 0:
		return fmt.Sprintf("bytes=%d", r.Start)
	case r.End < 0:
		return fmt.Sprintf("bytes=%d-", r.Start)
	default:
		return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
	}
}

// GetObjectOutput 是读取结果。Key 为带前缀的完整 key。
type GetObjectOutput struct {
	Key           string
	Body          []byte
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	VersionID     string
	Metadata      map[string]string
	// ContentRange 仅在按区间读取时设置，如 "bytes 0-0/10"。
	ContentRange string
}

// WriteOptions 为写操作透传给后端的可选字段。
type WriteOptions struct {
	ContentType             string
	ContentEncoding         string
	ContentDisposition      string
	ContentLanguage         string
	CacheControl            string
	StorageClass            string
	ACL                     string
	ServerSideEncryption    string
	WebsiteRedirectLocation string
	Expires                 time.Time
	Metadata                map[string]string
}

// PutObjectInput 描述单次写入。Body 使用字节切片，以便超时重试时可以重放。
type PutObjectInput struct {
	Bucket string
	Key    string
	Body   []byte
	WriteOptions
}

// PutObjectOutput 是写入结果。
type PutObjectOutput struct {
	Key       string
	ETag      string
	VersionID string
}

// DeleteObjectInput 描述删除参数。
type DeleteObjectInput struct {
	Bucket    string
	Key       string
	VersionID string
}

// DeleteObjectOutput 是后端的删除确认。
type DeleteObjectOutput struct {
	VersionID    string
	DeleteMarker bool
}

// UploadInput 描述流式上传。Size 为 -1 表示长度未知。
type UploadInput struct {
	Bucket string
	Key    string
	Body   io.Reader
	Size   int64
	WriteOptions
}

// UploadOptions 控制分片上传的切片参数。
type UploadOptions struct {
	PartSize  uint64
	QueueSize uint
}

// UploadOutput 是上传结果。
type UploadOutput struct {
	Key       string
	Bucket    string
	ETag      string
	VersionID string
	Location  string
}

// ResolveBucket 返回调用时指定的 bucket，未指定时回退到构造时绑定的默认 bucket。
func ResolveBucket(bucket, defaultBucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	if defaultBucket != "" {
		return defaultBucket, nil
	}
	return "", &Error{Code: CodeMissingParameter, Message: "missing required key 'Bucket' in params", Err: ErrMissingBucket}
}
