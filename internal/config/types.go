package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 日志格式。
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// 存储驱动。
const (
	StorageDriverDisk   = "disk"
	StorageDriverMemory = "memory"
)

// DefaultAssets 是安装阶段预热的资源清单，路径相对于 Origin。
var DefaultAssets = []string{
	"./",
	"./index.html",
	"./manifest.json",
	"./north_map.png",
	"./earth_shadow.png",
}

// GlobalConfig 描述进程级运行参数：监听、日志与缓存存储。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFormat        string   `mapstructure:"LogFormat"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	StorageDriver    string   `mapstructure:"StorageDriver"`
	MemoryMaxEntries int      `mapstructure:"MemoryMaxEntries"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
}

// AgentConfig 决定缓存代理如何与源站交互，以及当前发布版本对应的缓存桶。
type AgentConfig struct {
	Origin       string   `mapstructure:"Origin"`
	Proxy        string   `mapstructure:"Proxy"`
	CacheName    string   `mapstructure:"CacheName"`
	Version      string   `mapstructure:"Version"`
	IndexPath    string   `mapstructure:"IndexPath"`
	Assets       []string `mapstructure:"Assets"`
	NotifyBuffer int      `mapstructure:"NotifyBuffer"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Agent  AgentConfig  `mapstructure:",squash"`
}

// UpstreamTimeout 返回回源超时，未配置时为 30s。
func (c *Config) UpstreamTimeout() time.Duration {
	if c == nil || c.Global.UpstreamTimeout.DurationValue() <= 0 {
		return 30 * time.Second
	}
	return c.Global.UpstreamTimeout.DurationValue()
}

// AssetList 返回预热清单副本，未配置时使用 DefaultAssets。
func (a AgentConfig) AssetList() []string {
	if len(a.Assets) == 0 {
		return append([]string(nil), DefaultAssets...)
	}
	return append([]string(nil), a.Assets...)
}
