package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"objectstore/internal/config"
	"objectstore/internal/storage"
	"objectstore/internal/storage/local"
	"objectstore/internal/storage/s3"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Create 校验配置，构造对应的后端客户端并返回存储服务。不发起任何网络请求。
// basePath 用于解析 localstorage 的相对路径。
func Create(cfg config.StorageConfig, logger *zap.Logger, basePath string) (*StorageService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	var (
		client  storage.Client
		baseURL string
		err     error
	)
	switch cfg.Type {
	case storage.TypeLocalStorage:
		client, baseURL, err = newLocalClient(cfg, logger, basePath)
	case storage.TypeS3:
		client, baseURL, err = newS3Client(cfg, logger)
	default:
		// Validate 已经限制了取值
		err = fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("storage service created",
		zap.String("type", cfg.Type),
		zap.String("bucket", cfg.Bucket),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Bool("read_only", cfg.ReadOnly),
		zap.String("base_url", baseURL),
	)

	return NewStorageService(client, logger, ServiceConfig{
		Type:                 cfg.Type,
		Bucket:               cfg.Bucket,
		KeyPrefix:            cfg.KeyPrefix,
		ReadOnly:             cfg.ReadOnly,
		BaseURLWithoutBucket: baseURL,
		MaxRetriesOnTimeout:  cfg.MaxRetriesOnTimeout,
	}), nil
}

// CreateFromConfig 从配置源的 path 处读取存储配置后调用 Create。
func CreateFromConfig(v *viper.Viper, path string, logger *zap.Logger, basePath string) (*StorageService, error) {
	if v == nil {
		return nil, fmt.Errorf("config source is nil")
	}

	// Sub 不会带上只通过环境变量绑定的键，所以从 AllSettings 中取子树
	node, ok := lookup(v.AllSettings(), path)
	if !ok {
		return nil, &config.ValidationError{Fields: []config.FieldError{{Field: path, Message: "is required"}}}
	}

	sub := viper.New()
	if err := sub.MergeConfigMap(dropUnusedBranch(node)); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	// 未知键（如拼错的 keyPrefix）直接报错，而不是静默忽略
	var cfg config.StorageConfig
	if err := sub.UnmarshalExact(&cfg); err != nil {
		return nil, &config.ValidationError{
			Fields: []config.FieldError{{Field: path, Message: err.Error()}},
			Err:    err,
		}
	}
	return Create(cfg, logger, basePath)
}

// dropUnusedBranch 去掉 type 未选中的分支，未选中分支里的内容不参与解码。
// viper 的键名已经是小写。
func dropUnusedBranch(node map[string]any) map[string]any {
	unused := ""
	switch t, _ := node["type"].(string); strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeLocalStorage:
		unused = "s3config"
	case storage.TypeS3:
		unused = "localconfig"
	}
	if _, ok := node[unused]; !ok {
		return node
	}

	out := make(map[string]any, len(node))
	for k, v := range node {
		if k != unused {
			out[k] = v
		}
	}
	return out
}

func newLocalClient(cfg config.StorageConfig, logger *zap.Logger, basePath string) (storage.Client, string, error) {
	root := cfg.LocalConfig.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(basePath, root)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, "", fmt.Errorf("resolve local storage path: %w", err)
	}

	client, err := local.New(root, cfg.Bucket, logger)
	if err != nil {
		return nil, "", err
	}

	baseURL := cfg.LocalConfig.BaseURL
	if baseURL == "" {
		baseURL = root
	}
	return client, strings.TrimRight(baseURL, "/"), nil
}

func newS3Client(cfg config.StorageConfig, logger *zap.Logger) (storage.Client, string, error) {
	sc := cfg.S3Config
	accessKey, secretKey := sc.Credentials()
	s3cfg := s3.Config{
		Endpoint:       stripScheme(sc.Endpoint),
		AccessKey:      accessKey,
		SecretKey:      secretKey,
		Region:         sc.Region,
		UseSSL:         sc.SSL(),
		PathStyle:      sc.PathStyle,
		HTTPTimeout:    sc.HTTPTimeout(),
		ConnectTimeout: sc.ConnectTimeout(),
		Proxy:          sc.Proxy(),
		DefaultBucket:  cfg.Bucket,
	}
	// endpoint 写了协议时以协议为准
	if strings.HasPrefix(sc.Endpoint, "http://") {
		s3cfg.UseSSL = false
	} else if strings.HasPrefix(sc.Endpoint, "https://") {
		s3cfg.UseSSL = true
	}

	client, err := s3.New(s3cfg, logger)
	if err != nil {
		return nil, "", err
	}

	baseURL := sc.BaseURL
	if baseURL == "" {
		baseURL = s3.PublicURL(s3cfg)
	}
	return client, strings.TrimRight(baseURL, "/"), nil
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}

// lookup 按点分路径在 viper 的设置树中查找子树，键名不区分大小写。
func lookup(settings map[string]any, path string) (map[string]any, bool) {
	node := settings
	for _, part := range strings.Split(strings.ToLower(path), ".") {
		next, ok := node[part]
		if !ok {
			return nil, false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, false
		}
		node = m
	}
	return node, true
}
