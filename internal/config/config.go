package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageKey 是存储配置在配置树中的路径。
const StorageKey = "storage"

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string        `mapstructure:"port"`
	BasePath           string        `mapstructure:"base_path"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
	MaxObjectSize      int64         `mapstructure:"max_object_size"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`
	// 鉴权配置
	AuthEnabled bool     `mapstructure:"auth_enabled"`
	APIKeys     []string `mapstructure:"api_keys"`

	v *viper.Viper
}

// Viper 返回加载时使用的配置源，供存储工厂按路径读取存储配置。
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// envBindings 将配置键映射到环境变量名。
var envBindings = map[string]string{
	"port":                 "PORT",
	"base_path":            "BASE_PATH",
	"cors_allowed_origins": "CORS_ALLOWED_ORIGINS",
	"rate_limit_requests":  "RATE_LIMIT_REQUESTS",
	"rate_limit_window":    "RATE_LIMIT_WINDOW",
	"max_object_size":      "MAX_OBJECT_SIZE",
	"log_level":            "LOG_LEVEL",
	"log_format":           "LOG_FORMAT",
	"auth_enabled":         "AUTH_ENABLED",
	"api_keys":             "API_KEYS",

	"storage.type":                      "STORAGE_DRIVER",
	"storage.bucket":                    "STORAGE_BUCKET",
	"storage.keyPrefix":                 "STORAGE_KEY_PREFIX",
	"storage.readOnly":                  "STORAGE_READ_ONLY",
	"storage.maxRetriesOnTimeout":       "STORAGE_MAX_RETRIES_ON_TIMEOUT",
	"storage.localConfig.path":          "STORAGE_DIR",
	"storage.localConfig.baseUrl":       "STORAGE_BASE_URL",
	"storage.s3Config.endpoint":         "S3_ENDPOINT",
	"storage.s3Config.awsAccessKey":     "S3_ACCESS_KEY",
	"storage.s3Config.awsSecretKey":     "S3_SECRET_KEY",
	"storage.s3Config.region":           "S3_REGION",
	"storage.s3Config.baseUrl":          "S3_BASE_URL",
	"storage.s3Config.httpTimeoutMs":    "S3_HTTP_TIMEOUT_MS",
	"storage.s3Config.sslEnabled":       "S3_USE_SSL",
	"storage.s3Config.s3ForcePathStyle": "S3_PATH_STYLE",
}

// Load 从配置文件（可选，OBJECTSTORE_CONFIG 指定）和环境变量加载配置，并提供默认值。
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.BindEnv("config_file", "OBJECTSTORE_CONFIG"); err != nil {
		return nil, fmt.Errorf("bind OBJECTSTORE_CONFIG: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper 从已准备好的配置源解析服务配置。
func FromViper(v *viper.Viper) (*Config, error) {
	// 兼容 STORAGE_DRIVER=local 的旧写法
	if strings.EqualFold(v.GetString("storage.type"), "local") {
		v.Set("storage.type", "localstorage")
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.CORSAllowedOrigins = normalizeList(cfg.CORSAllowedOrigins)
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:5173"}
	}
	cfg.APIKeys = normalizeList(cfg.APIKeys)
	if cfg.AuthEnabled && len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("auth enabled but API_KEYS is empty")
	}
	if cfg.RateLimitRequests < 0 || cfg.RateLimitWindow < 0 {
		return nil, fmt.Errorf("rate limit settings must not be negative")
	}
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = defaultMaxObjectSize
	}

	return cfg, nil
}

const defaultMaxObjectSize int64 = 100 * 1024 * 1024 // 100MB

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("base_path", ".")
	v.SetDefault("rate_limit_requests", 60)
	v.SetDefault("rate_limit_window", time.Minute)
	v.SetDefault("max_object_size", defaultMaxObjectSize)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("auth_enabled", false)

	v.SetDefault("storage.type", "localstorage")
	v.SetDefault("storage.localConfig.path", "./data")
}

// normalizeList 展开逗号分隔的取值（环境变量只能以单个字符串给出列表）。
func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, raw := range items {
		for _, item := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(item)
			if trimmed == "" {
				continue
			}
			out = append(out, trimmed)
		}
	}
	return out
}
