package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"objectstore/internal/service"
	"objectstore/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ObjectStore 是网关依赖的存储服务能力，由 *service.StorageService 实现。
type ObjectStore interface {
	GetObject(ctx context.Context, in *storage.GetObjectInput) (*storage.GetObjectOutput, error)
	PutObject(ctx context.Context, in *storage.PutObjectInput) (*storage.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *storage.DeleteObjectInput) (bool, error)
	Upload(ctx context.Context, in *storage.UploadInput, opts storage.UploadOptions) (*storage.UploadOutput, error)
	URL(key, bucket string) (string, error)
}

// ObjectHandler 把存储服务的操作暴露为 HTTP 端点。
type ObjectHandler struct {
	store         ObjectStore
	maxObjectSize int64
	logger        *zap.Logger
}

func NewObjectHandler(store ObjectStore, maxObjectSize int64, logger *zap.Logger) *ObjectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectHandler{store: store, maxObjectSize: maxObjectSize, logger: logger}
}

func (h *ObjectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/objects", func(r chi.Router) {
		r.Get("/*", h.GetObject)
		r.Head("/*", h.GetObject)
		r.Put("/*", h.PutObject)
		r.Delete("/*", h.DeleteObject)
	})
	r.Post("/uploads/*", h.Upload)
	r.Get("/urls/*", h.ObjectURL)
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type objectResponse struct {
	Key       string `json:"key"`
	Bucket    string `json:"bucket,omitempty"`
	ETag      string `json:"etag,omitempty"`
	VersionID string `json:"version_id,omitempty"`
	Location  string `json:"location,omitempty"`
}

const metaHeaderPrefix = "X-Amz-Meta-"

// GetObject 返回对象内容，响应头带上完整 key 和元数据。
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}

	out, err := h.store.GetObject(r.Context(), &storage.GetObjectInput{
		Bucket:      bucketParam(r),
		Key:         key,
		VersionID:   r.URL.Query().Get("version_id"),
		IfMatch:     r.Header.Get("If-Match"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
		Range:       parseRange(r.Header.Get("Range")),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	headers := w.Header()
	headers.Set("X-Object-Key", out.Key)
	contentType := out.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers.Set("Content-Type", contentType)
	headers.Set("Content-Length", strconv.Itoa(len(out.Body)))
	if out.ETag != "" {
		headers.Set("ETag", out.ETag)
	}
	if !out.LastModified.IsZero() {
		headers.Set("Last-Modified", out.LastModified.UTC().Format(http.TimeFormat))
	}
	if out.VersionID != "" {
		headers.Set("X-Amz-Version-Id", out.VersionID)
	}
	for k, v := range out.Metadata {
		headers.Set(metaHeaderPrefix+k, v)
	}
	headers.Set("Accept-Ranges", "bytes")

	status := http.StatusOK
	if out.ContentRange != "" {
		headers.Set("Content-Range", out.ContentRange)
		status = http.StatusPartialContent
	}

	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(out.Body)
	}
}

// PutObject 读取完整请求体后写入，超时重试由存储服务负责。
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty", "")
		return
	}

	if h.maxObjectSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxObjectSize)
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("object exceeds size limit (%d bytes)", tooLarge.Limit), "")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read request body", "")
		return
	}

	opts, err := writeOptionsFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	bucket := bucketParam(r)
	out, err := h.store.PutObject(r.Context(), &storage.PutObjectInput{
		Bucket:       bucket,
		Key:          key,
		Body:         body,
		WriteOptions: opts,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: objectResponse{
		Key:       out.Key,
		Bucket:    bucket,
		ETag:      out.ETag,
		VersionID: out.VersionID,
	}})
}

// Upload 以流的方式转发请求体，不在内存中缓存整个对象。
func (h *ObjectHandler) Upload(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty", "")
		return
	}
	defer r.Body.Close()

	uploadOpts, err := uploadOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	opts, err := writeOptionsFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	size := r.ContentLength
	if size <= 0 {
		size = -1
	}

	out, err := h.store.Upload(r.Context(), &storage.UploadInput{
		Bucket:       bucketParam(r),
		Key:          key,
		Body:         r.Body,
		Size:         size,
		WriteOptions: opts,
	}, uploadOpts)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: objectResponse{
		Key:       out.Key,
		Bucket:    out.Bucket,
		ETag:      out.ETag,
		VersionID: out.VersionID,
		Location:  out.Location,
	}})
}

func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteObject(r.Context(), &storage.DeleteObjectInput{
		Bucket:    bucketParam(r),
		Key:       key,
		VersionID: r.URL.Query().Get("version_id"),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{"key": key, "deleted": deleted}})
}

// ObjectURL 返回对象的外部访问地址，不访问后端。
func (h *ObjectHandler) ObjectURL(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}

	u, err := h.store.URL(key, bucketParam(r))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: map[string]string{"url": u}})
}

func (h *ObjectHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	code := storage.ErrorCode(err)

	if status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("storage operation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
		// 详细错误可能含有本地路径，只记日志
		message = http.StatusText(status)
	}
	writeError(w, status, message, code)
}

// statusForError 将存储服务的错误映射为 HTTP 状态码。
func statusForError(err error) int {
	var maxRetries *service.MaxRetriesError
	switch {
	case errors.Is(err, service.ErrReadOnly):
		return http.StatusForbidden
	case errors.As(err, &maxRetries):
		return http.StatusGatewayTimeout
	case errors.Is(err, storage.ErrMissingBucket):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch storage.ErrorCode(err) {
	case storage.CodeNoSuchKey, storage.CodeNotFound, "NoSuchBucket":
		return http.StatusNotFound
	case storage.CodeMissingParameter, "InvalidBucketName", "InvalidArgument":
		return http.StatusBadRequest
	case storage.CodeRequestTimeout:
		return http.StatusGatewayTimeout
	case "AccessDenied":
		return http.StatusForbidden
	case "PreconditionFailed":
		return http.StatusPreconditionFailed
	case "NotModified":
		return http.StatusNotModified
	case storage.CodeInvalidRange:
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

func objectKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "object key is required", "")
		return "", false
	}
	return key, true
}

// parseRange 解析单个区间的 Range 请求头。格式不合法或包含多个区间时返回 nil，按全文响应。
func parseRange(header string) *storage.ByteRange {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil
		}
		return &storage.ByteRange{Start: -n, End: -1}
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil
	}
	if last == "" {
		return &storage.ByteRange{Start: start, End: -1}
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return nil
	}
	return &storage.ByteRange{Start: start, End: end}
}

func bucketParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("bucket"))
}

func writeOptionsFromRequest(r *http.Request) (storage.WriteOptions, error) {
	opts := storage.WriteOptions{
		ContentType:             r.Header.Get("Content-Type"),
		ContentEncoding:         r.Header.Get("Content-Encoding"),
		ContentDisposition:      r.Header.Get("Content-Disposition"),
		ContentLanguage:         r.Header.Get("Content-Language"),
		CacheControl:            r.Header.Get("Cache-Control"),
		StorageClass:            r.Header.Get("X-Amz-Storage-Class"),
		ACL:                     r.Header.Get("X-Amz-Acl"),
		ServerSideEncryption:    r.Header.Get("X-Amz-Server-Side-Encryption"),
		WebsiteRedirectLocation: r.Header.Get("X-Amz-Website-Redirect-Location"),
	}

	if raw := r.Header.Get("Expires"); raw != "" {
		ts, err := http.ParseTime(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid Expires header: %w", err)
		}
		opts.Expires = ts
	}

	for name, values := range r.Header {
		if len(values) == 0 || !strings.HasPrefix(name, metaHeaderPrefix) {
			continue
		}
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		opts.Metadata[strings.ToLower(strings.TrimPrefix(name, metaHeaderPrefix))] = values[0]
	}
	return opts, nil
}

func uploadOptionsFromQuery(r *http.Request) (storage.UploadOptions, error) {
	var opts storage.UploadOptions
	q := r.URL.Query()

	if raw := q.Get("part_size"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid part_size: %w", err)
		}
		opts.PartSize = v
	}
	if raw := q.Get("queue_size"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return opts, fmt.Errorf("invalid queue_size: %w", err)
		}
		opts.QueueSize = uint(v)
	}
	return opts, nil
}

// 确保 *service.StorageService 满足网关需要的接口
var _ ObjectStore = (*service.StorageService)(nil)
