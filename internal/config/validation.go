package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.LogFormat != LogFormatJSON && g.LogFormat != LogFormatText {
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	switch g.StorageDriver {
	case StorageDriverDisk:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "disk 驱动下不能为空")
		}
	case StorageDriverMemory:
		if g.MemoryMaxEntries <= 0 {
			return newFieldError("Global.MemoryMaxEntries", "必须大于 0")
		}
	default:
		return newFieldError("Global.StorageDriver", "仅支持 disk/memory")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	a := c.Agent
	if err := validateUpstream(a.Origin); err != nil {
		return fmt.Errorf("Agent.Origin: %w", err)
	}
	if a.Proxy != "" {
		if err := validateUpstream(a.Proxy); err != nil {
			return fmt.Errorf("Agent.Proxy: %w", err)
		}
	}
	if err := validateCacheName(a.CacheName); err != nil {
		return fmt.Errorf("Agent.CacheName: %w", err)
	}
	if strings.TrimSpace(a.Version) == "" {
		return newFieldError("Agent.Version", "不能为空")
	}
	if len(a.Assets) == 0 {
		return newFieldError("Agent.Assets", "至少需要一个预热路径")
	}
	for idx, asset := range a.Assets {
		if strings.TrimSpace(asset) == "" {
			return newFieldError(assetField(idx), "不能为空")
		}
		if strings.ContainsAny(asset, "?#") {
			return newFieldError(assetField(idx), "不允许包含查询串或片段")
		}
		if parsed, err := url.Parse(asset); err != nil || parsed.IsAbs() {
			return newFieldError(assetField(idx), "必须是相对于 Origin 的路径")
		}
	}
	if a.NotifyBuffer <= 0 {
		return newFieldError("Agent.NotifyBuffer", "必须大于 0")
	}

	return nil
}

func validateCacheName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("不允许包含路径分隔符: %s", name)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
