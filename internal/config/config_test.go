package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Agent.Origin != "https://clock.example.com/app" {
		t.Fatalf("Origin 应去掉结尾斜杠，得到 %s", cfg.Agent.Origin)
	}
	if cfg.Agent.CacheName != "clock-cache-v1" {
		t.Fatalf("CacheName 应被保留，得到 %s", cfg.Agent.CacheName)
	}
	if cfg.Agent.IndexPath != "/index.html" {
		t.Fatalf("IndexPath 默认值错误: %s", cfg.Agent.IndexPath)
	}
	if len(cfg.Agent.Assets) != len(DefaultAssets) {
		t.Fatalf("未配置 Assets 时应使用默认清单，得到 %v", cfg.Agent.Assets)
	}
	if cfg.Global.StorageDriver != StorageDriverDisk {
		t.Fatalf("默认存储驱动应为 disk，得到 %s", cfg.Global.StorageDriver)
	}
	if cfg.UpstreamTimeout() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %s", cfg.UpstreamTimeout())
	}
	if cfg.Agent.NotifyBuffer <= 0 {
		t.Fatalf("NotifyBuffer 应自动填充")
	}
}

func TestLoadMemoryDriver(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "memory.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StorageDriver != StorageDriverMemory {
		t.Fatalf("期望 memory 驱动，得到 %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.MemoryMaxEntries != 64 {
		t.Fatalf("MemoryMaxEntries 解析错误: %d", cfg.Global.MemoryMaxEntries)
	}
	if cfg.UpstreamTimeout() != 15*time.Second {
		t.Fatalf("纯数字秒值应被解析，得到 %s", cfg.UpstreamTimeout())
	}
	if cfg.Agent.IndexPath != "/home.html" {
		t.Fatalf("IndexPath 应补齐前导斜杠，得到 %s", cfg.Agent.IndexPath)
	}
	if got := cfg.Agent.AssetList(); len(got) != 3 || got[1] != "./home.html" {
		t.Fatalf("Assets 解析错误: %v", got)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateCacheName(t *testing.T) {
	testCases := []struct {
		name      string
		cacheName string
		shouldErr bool
	}{
		{"versioned ok", "clock-cache-v1", false},
		{"empty", "", true},
		{"path separator", "clock/v1", true},
		{"dot dot", "..", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Agent.CacheName = tc.cacheName
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for cache name %q", tc.cacheName)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for cache name %q: %v", tc.cacheName, err)
			}
		})
	}
}

func TestValidateRejectsAbsoluteAsset(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.Assets = []string{"./", "https://cdn.example.com/app.js"}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("绝对地址的预热路径应报错")
	}
	fieldErr, ok := err.(FieldError)
	if !ok || fieldErr.Field != "Agent.Assets[1]" {
		t.Fatalf("期望 Agent.Assets[1] 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Global.StorageDriver = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知存储驱动应报错")
	}
}

func TestApplyDefaultsFillsAgent(t *testing.T) {
	cfg := &Config{Agent: AgentConfig{Origin: "http://origin.local/"}}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("补齐默认值后应通过校验: %v", err)
	}
	if cfg.Agent.Version == "" {
		t.Fatalf("Version 应回退到编译期版本")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			LogFormat:       LogFormatJSON,
			StoragePath:     "./data",
			StorageDriver:   StorageDriverDisk,
			UpstreamTimeout: Duration(time.Second),
		},
		Agent: AgentConfig{
			Origin:       "https://clock.example.com",
			CacheName:    "clock-cache-v1",
			Version:      "2025.12.04",
			IndexPath:    "/index.html",
			Assets:       append([]string(nil), DefaultAssets...),
			NotifyBuffer: 4,
		},
	}
}
