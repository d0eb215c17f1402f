package agent

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/cache"
)

// Source 标记响应的来源，用于响应头与日志。
type Source string

const (
	// SourceCache 直接由缓存提供。
	SourceCache Source = "cache"
	// SourceNetwork 由源站提供，缓存未变化或未写入。
	SourceNetwork Source = "network"
	// SourceStored 由源站提供，并首次写入缓存。
	SourceStored Source = "stored"
	// SourceUpdated 由源站提供，检测到更新后覆盖缓存并已通知。
	SourceUpdated Source = "updated"
	// SourceOffline 回源失败且无缓存时合成的 503 响应。
	SourceOffline Source = "offline"
)

// Result 是一次拦截的处理结果。
type Result struct {
	Response *cache.Response
	Source   Source
}

// DestinationDocument 是页面导航请求的 destination（Sec-Fetch-Dest）。
const DestinationDocument = "document"

// Handle 拦截一次请求：文档请求走再验证流程，其它请求优先读缓存，未命中时直接回源
// 且不写缓存。非文档请求的回源错误原样返回，不提供离线兜底。
// 非 GET 请求不参与缓存，直接透传给源站（HEAD 由 HTTP 层转换为 GET 后再丢弃正文）。
func (a *Agent) Handle(ctx context.Context, req *Request) (*Result, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		resp, err := a.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp, Source: SourceNetwork}, nil
	}

	if a.IsDocument(req) {
		return a.Revalidate(ctx, req)
	}

	bucket, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey(req.URL)
	cached, err := bucket.Match(ctx, key)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "match",
			"cache_name": a.cacheName,
			"path":       key,
		}).Warn("cache_match_failed")
	}
	if cached != nil {
		return &Result{Response: cached, Source: SourceCache}, nil
	}

	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp, Source: SourceNetwork}, nil
}

// IsDocument 判断请求是否指向页面文档：完整 URL（含查询串）以 IndexPath 结尾，
// 或 destination 为 document。因此 /index.html?x=1 只有在导航时才算文档。
func (a *Agent) IsDocument(req *Request) bool {
	if req == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(req.Destination), DestinationDocument) {
		return true
	}
	if req.URL == nil {
		return false
	}
	target := req.URL.Path
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}
	return strings.HasSuffix(target, a.indexPath)
}
