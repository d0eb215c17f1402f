package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clock-cache/clock-cache/internal/cache"
)

// Install 打开当前版本的缓存桶并预热资源清单。任一资源回源失败或返回非 2xx
// 时整个安装失败，且本次不会写入任何条目；不做重试，由调用方决定何时再次安装。
func (a *Agent) Install(ctx context.Context) error {
	started := time.Now()
	bucket, err := a.open(ctx)
	if err != nil {
		return err
	}

	requests := make([]*Request, len(a.assets))
	for i, asset := range a.assets {
		requests[i] = assetRequest(asset)
	}

	responses := make([]*cache.Response, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			resp, err := a.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch asset %s: %w", req.URL.Path, err)
			}
			if !isOK(resp.StatusCode) {
				return fmt.Errorf("fetch asset %s: unexpected status %d", req.URL.Path, resp.StatusCode)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.WithFields(logrus.Fields{
			"action":     "install",
			"cache_name": a.cacheName,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).WithError(err).Error("install_failed")
		return err
	}

	for i, req := range requests {
		if _, err := bucket.Precache(ctx, cacheKey(req.URL), responses[i]); err != nil {
			return fmt.Errorf("store asset %s: %w", req.URL.Path, err)
		}
	}

	a.setPhase(PhaseInstalled)
	a.logger.WithFields(logrus.Fields{
		"action":     "install",
		"cache_name": a.cacheName,
		"assets":     len(requests),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("install_complete")
	return nil
}

// Activate 删除所有名称与当前版本不一致的缓存桶，返回被删除的桶名。
// 旧桶中的内容不会迁移。
func (a *Agent) Activate(ctx context.Context) ([]string, error) {
	if a.Phase() == PhaseNew {
		return nil, ErrNotInstalled
	}

	names, err := a.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache buckets: %w", err)
	}

	var stale []string
	for _, name := range names {
		if name != a.cacheName {
			stale = append(stale, name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range stale {
		g.Go(func() error {
			if _, err := a.store.Delete(gctx, name); err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.setPhase(PhaseActivated)
	a.logger.WithFields(logrus.Fields{
		"action":     "activate",
		"cache_name": a.cacheName,
		"deleted":    stale,
	}).Info("activate_complete")
	return stale, nil
}

// assetRequest 把 "./index.html" 形式的清单路径转换为相对 Origin 的 GET 请求。
func assetRequest(asset string) *Request {
	return &Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: path.Clean("/" + asset)},
		Header: http.Header{},
	}
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}
