package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/clock-cache/clock-cache/internal/version"
)

// DefaultCacheName 是当前发布对应的缓存桶名称，升级时需同步调整。
const DefaultCacheName = "clock-cache-v1"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectEmbeddedQuery(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAgentDefaults(&cfg.Agent)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageDriver == StorageDriverDisk {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", LogFormatJSON)
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageDriver", StorageDriverDisk)
	v.SetDefault("MemoryMaxEntries", 1024)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CacheName", DefaultCacheName)
	v.SetDefault("IndexPath", "/index.html")
	v.SetDefault("NotifyBuffer", 8)
}

// ApplyDefaults 为手工构造的 Config（例如测试）补齐默认值。
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyGlobalDefaults(&cfg.Global)
	applyAgentDefaults(&cfg.Agent)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.LogFormat == "" {
		g.LogFormat = LogFormatJSON
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = StorageDriverDisk
	}
	if g.StorageDriver == StorageDriverDisk && g.StoragePath == "" {
		g.StoragePath = "./storage"
	}
	if g.MemoryMaxEntries <= 0 {
		g.MemoryMaxEntries = 1024
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyAgentDefaults(a *AgentConfig) {
	a.Origin = strings.TrimRight(strings.TrimSpace(a.Origin), "/")
	if strings.TrimSpace(a.CacheName) == "" {
		a.CacheName = DefaultCacheName
	}
	if strings.TrimSpace(a.Version) == "" {
		a.Version = version.Version
	}
	if a.IndexPath == "" {
		a.IndexPath = "/index.html"
	}
	if !strings.HasPrefix(a.IndexPath, "/") {
		a.IndexPath = "/" + a.IndexPath
	}
	if len(a.Assets) == 0 {
		a.Assets = append([]string(nil), DefaultAssets...)
	}
	if a.NotifyBuffer <= 0 {
		a.NotifyBuffer = 8
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectEmbeddedQuery 拒绝带查询串或片段的预热路径：缓存键不区分片段，且查询串会让清单难以维护。
func rejectEmbeddedQuery(v *viper.Viper) error {
	raw, ok := v.Get("Assets").([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range raw {
		asset, ok := entry.(string)
		if !ok {
			return newFieldError(assetField(idx), "必须是字符串")
		}
		if strings.ContainsAny(asset, "?#") {
			return newFieldError(assetField(idx), "不允许包含查询串或片段")
		}
	}
	return nil
}
