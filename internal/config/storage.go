package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"objectstore/internal/storage"

	"github.com/go-playground/validator/v10"
)

// 默认的超时重试次数上限。
const DefaultMaxRetriesOnTimeout = 5

// StorageConfig 是存储服务工厂接受的配置，type 决定使用哪个分支。
type StorageConfig struct {
	Type                string       `mapstructure:"type" json:"type" validate:"required,oneof=s3 localstorage"`
	Bucket              string       `mapstructure:"bucket" json:"bucket,omitempty"`
	KeyPrefix           string       `mapstructure:"keyPrefix" json:"keyPrefix,omitempty"`
	ReadOnly            bool         `mapstructure:"readOnly" json:"readOnly,omitempty"`
	MaxRetriesOnTimeout int          `mapstructure:"maxRetriesOnTimeout" json:"maxRetriesOnTimeout,omitempty" validate:"gte=0"`
	LocalConfig         *LocalConfig `mapstructure:"localConfig" json:"localConfig,omitempty" validate:"-"`
	S3Config            *S3Config    `mapstructure:"s3Config" json:"s3Config,omitempty" validate:"-"`
}

// LocalConfig 对应 type=localstorage。Path 相对于工厂的 basePath 解析。
type LocalConfig struct {
	Path    string `mapstructure:"path" json:"path" validate:"required"`
	BaseURL string `mapstructure:"baseUrl" json:"baseUrl,omitempty"`
}

// S3Config 对应 type=s3，接受两种写法：
// hapi 风格（awsAccessKey/awsSecretKey/httpTimeoutMs）和 AWS SDK 风格（accessKeyId/secretAccessKey/httpOptions）。
// 出现 accessKeyId 或 secretAccessKey 时按 AWS SDK 风格校验凭证。
type S3Config struct {
	// UserName 仅为兼容旧配置保留，不参与鉴权。
	UserName      string `mapstructure:"userName" json:"userName,omitempty"`
	AccessKey     string `mapstructure:"awsAccessKey" json:"awsAccessKey,omitempty"`
	SecretKey     string `mapstructure:"awsSecretKey" json:"awsSecretKey,omitempty"`
	HTTPTimeoutMs int    `mapstructure:"httpTimeoutMs" json:"httpTimeoutMs,omitempty" validate:"gte=0"`
	BaseURL       string `mapstructure:"baseUrl" json:"baseUrl,omitempty"`

	AccessKeyID     string       `mapstructure:"accessKeyId" json:"accessKeyId,omitempty"`
	SecretAccessKey string       `mapstructure:"secretAccessKey" json:"secretAccessKey,omitempty"`
	HTTPOptions     *HTTPOptions `mapstructure:"httpOptions" json:"httpOptions,omitempty"`

	Region    string `mapstructure:"region" json:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	UseSSL    *bool  `mapstructure:"sslEnabled" json:"sslEnabled,omitempty"`
	PathStyle bool   `mapstructure:"s3ForcePathStyle" json:"s3ForcePathStyle,omitempty"`

	// SDKOptions 收集其余 AWS SDK 调优项，只接受 awsSDKOptions 中列出的键，取值不生效。
	SDKOptions map[string]any `mapstructure:",remain" json:"-" validate:"-"`
}

// HTTPOptions 对应 AWS SDK 的 httpOptions，时间单位为毫秒。
type HTTPOptions struct {
	Proxy          string `mapstructure:"proxy" json:"proxy,omitempty"`
	Timeout        int    `mapstructure:"timeout" json:"timeout,omitempty" validate:"gte=0"`
	ConnectTimeout int    `mapstructure:"connectTimeout" json:"connectTimeout,omitempty" validate:"gte=0"`
	// 浏览器专用
	XHRAsync           bool `mapstructure:"xhrAsync" json:"xhrAsync,omitempty"`
	XHRWithCredentials bool `mapstructure:"xhrWithCredentials" json:"xhrWithCredentials,omitempty"`
}

// awsSDKOptions 是 AWS SDK 配置中被接受但由 minio 客户端自行处理的键（小写）。
var awsSDKOptions = map[string]struct{}{
	"params":               {},
	"usedualstack":         {},
	"maxretries":           {},
	"maxredirects":         {},
	"paramvalidation":      {},
	"computechecksums":     {},
	"convertresponsetypes": {},
	"correctclockskew":     {},
	"s3bucketendpoint":     {},
	"s3disablebodysigning": {},
	"retrydelayoptions":    {},
	"apiversion":           {},
	"systemclockoffset":    {},
	"signatureversion":     {},
	"signaturecache":       {},
}

// SSL 返回是否启用 HTTPS，未配置时默认启用。
func (c *S3Config) SSL() bool {
	if c.UseSSL == nil {
		return true
	}
	return *c.UseSSL
}

// Credentials 返回生效的凭证，AWS SDK 风格优先。
func (c *S3Config) Credentials() (accessKey, secretKey string) {
	if c.sdkStyle() {
		return c.AccessKeyID, c.SecretAccessKey
	}
	return c.AccessKey, c.SecretKey
}

// HTTPTimeout 返回请求超时，httpTimeoutMs 优先于 httpOptions.timeout。
func (c *S3Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutMs > 0 {
		return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
	}
	if c.HTTPOptions != nil && c.HTTPOptions.Timeout > 0 {
		return time.Duration(c.HTTPOptions.Timeout) * time.Millisecond
	}
	return 0
}

// ConnectTimeout 返回建立连接的超时，未配置时为 0。
func (c *S3Config) ConnectTimeout() time.Duration {
	if c.HTTPOptions != nil && c.HTTPOptions.ConnectTimeout > 0 {
		return time.Duration(c.HTTPOptions.ConnectTimeout) * time.Millisecond
	}
	return 0
}

// Proxy 返回 httpOptions.proxy。
func (c *S3Config) Proxy() string {
	if c.HTTPOptions == nil {
		return ""
	}
	return c.HTTPOptions.Proxy
}

func (c *S3Config) sdkStyle() bool {
	return c.AccessKeyID != "" || c.SecretAccessKey != ""
}

func (c *S3Config) validate() error {
	var fields []FieldError
	if err := validateStruct(c, "s3Config."); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) || len(verr.Fields) == 0 {
			return err
		}
		fields = append(fields, verr.Fields...)
	}

	required := func(name, value string) {
		if value == "" {
			fields = append(fields, FieldError{Field: "s3Config." + name, Message: "is required"})
		}
	}
	if c.sdkStyle() {
		required("accessKeyId", c.AccessKeyID)
		required("secretAccessKey", c.SecretAccessKey)
	} else {
		required("awsAccessKey", c.AccessKey)
		required("awsSecretKey", c.SecretKey)
	}

	keys := make([]string, 0, len(c.SDKOptions))
	for k := range c.SDKOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := awsSDKOptions[strings.ToLower(k)]; !ok {
			fields = append(fields, FieldError{Field: "s3Config." + k, Message: "is not allowed"})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidationError 表示配置不符合 schema。
type ValidationError struct {
	Fields []FieldError
	Err    error
}

// FieldError 描述单个字段的校验失败。
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid storage config: %v", e.Err)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid storage config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate 校验顶层字段，再只校验 type 选中的分支；另一个分支即使存在也被忽略。
func (c *StorageConfig) Validate() error {
	if c == nil {
		return &ValidationError{Err: errors.New("config is nil")}
	}
	if err := validateStruct(c, ""); err != nil {
		return err
	}

	switch c.Type {
	case storage.TypeLocalStorage:
		if c.LocalConfig == nil {
			return &ValidationError{Fields: []FieldError{{Field: "localConfig", Message: "is required"}}}
		}
		return validateStruct(c.LocalConfig, "localConfig.")
	case storage.TypeS3:
		if c.S3Config == nil {
			return &ValidationError{Fields: []FieldError{{Field: "s3Config", Message: "is required"}}}
		}
		return c.S3Config.validate()
	}
	return nil
}

// ApplyDefaults 填充零值字段。
func (c *StorageConfig) ApplyDefaults() {
	if c.MaxRetriesOnTimeout <= 0 {
		c.MaxRetriesOnTimeout = DefaultMaxRetriesOnTimeout
	}
}

func validateStruct(s any, prefix string) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Err: err}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: prefix + fieldPath(fe), Message: describe(fe)})
	}
	return &ValidationError{Fields: fields, Err: err}
}

// fieldPath 去掉命名空间里的根结构体名，保留嵌套路径（如 httpOptions.timeout）。
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
