package agent

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/cache"
)

// OfflineBody 是回源失败且无缓存时返回的正文。
const OfflineBody = "Offline"

// Revalidate 对文档请求执行网络优先的再验证：先查缓存，再回源比较。
// 回源失败时返回缓存，若无缓存则返回 503 Offline；成功时始终返回网络副本。
func (a *Agent) Revalidate(ctx context.Context, req *Request) (*Result, error) {
	started := time.Now()
	bucket, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey(req.URL)

	cached, err := bucket.Match(ctx, key)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "revalidate",
			"cache_name": a.cacheName,
			"path":       key,
		}).Warn("cache_match_failed")
	}

	network, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		fields := logrus.Fields{
			"action":     "revalidate",
			"cache_name": a.cacheName,
			"path":       key,
			"cache_hit":  cached != nil,
		}
		a.logger.WithError(err).WithFields(fields).Warn("revalidate_offline")
		if cached != nil {
			return &Result{Response: cached, Source: SourceCache}, nil
		}
		return &Result{Response: offlineResponse(), Source: SourceOffline}, nil
	}

	// 网络正文只读一次；缓存保存独立副本，返回给调用方的副本不受影响。
	stored := network.Clone()
	source := SourceNetwork

	switch {
	case cached == nil:
		if _, err := bucket.Put(ctx, key, stored); err != nil {
			a.logPutFailure(key, err)
		} else {
			source = SourceStored
		}
	case IsNewer(cached.Header, network.Header):
		if _, err := bucket.Put(ctx, key, stored); err != nil {
			a.logPutFailure(key, err)
			break
		}
		a.notifyClients(ctx)
		source = SourceUpdated
	}

	a.logger.WithFields(logrus.Fields{
		"action":          "revalidate",
		"cache_name":      a.cacheName,
		"path":            key,
		"cache_hit":       cached != nil,
		"source":          string(source),
		"upstream_status": network.StatusCode,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}).Debug("revalidate_complete")

	return &Result{Response: network, Source: source}, nil
}

func (a *Agent) logPutFailure(key string, err error) {
	a.logger.WithError(err).WithFields(logrus.Fields{
		"action":     "revalidate",
		"cache_name": a.cacheName,
		"path":       key,
	}).Error("cache_put_failed")
}

func offlineResponse() *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &cache.Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     header,
		Body:       []byte(OfflineBody),
	}
}
