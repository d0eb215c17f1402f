package agent

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/cache"
	"github.com/clock-cache/clock-cache/internal/notify"
)

// Request 描述一次被拦截的请求。URL 只包含相对于 Origin 的 path 与 query。
type Request struct {
	Method      string
	URL         *url.URL
	Destination string
	Header      http.Header
	Body        []byte
}

// Fetcher 负责真正的回源。网络层失败（连接、超时等）返回 error；
// 非 2xx 状态码不是 error，与 fetch() 语义一致。返回的 Body 已完整读入内存。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}

// Notifier 是“有更新”消息的出口，实现方负责把消息投递给所有监听者。
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message)
}

// Phase 表示代理所处的生命周期阶段。
type Phase string

const (
	PhaseNew       Phase = "new"
	PhaseInstalled Phase = "installed"
	PhaseActivated Phase = "activated"
)

// ErrNotInstalled 表示在 Install 成功之前调用了 Activate。
var ErrNotInstalled = errors.New("agent not installed")

// Options 汇总构造 Agent 所需的依赖与发布参数。
type Options struct {
	Store     cache.Store
	Fetcher   Fetcher
	Notifier  Notifier
	Logger    *logrus.Logger
	CacheName string
	Version   string
	IndexPath string
	Assets    []string
}

// Agent 串联生命周期、请求拦截与文档再验证。除 phase 外不持有可变状态，
// 缓存内容全部位于 Store 中。
type Agent struct {
	store     cache.Store
	fetcher   Fetcher
	notifier  Notifier
	logger    *logrus.Logger
	cacheName string
	version   string
	indexPath string
	assets    []string

	mu    sync.Mutex
	phase Phase
}

// New 校验依赖后构造 Agent。Notifier 可为空，此时更新不会通知任何人。
func New(opts Options) (*Agent, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(opts.CacheName) == "" {
		return nil, errors.New("cache name is required")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("version is required")
	}
	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = "/index.html"
	}
	if !strings.HasPrefix(indexPath, "/") {
		indexPath = "/" + indexPath
	}
	return &Agent{
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		cacheName: opts.CacheName,
		version:   opts.Version,
		indexPath: indexPath,
		assets:    append([]string(nil), opts.Assets...),
		phase:     PhaseNew,
	}, nil
}

// CacheName 返回当前版本的缓存桶名称。
func (a *Agent) CacheName() string { return a.cacheName }

// Version 返回当前发布版本。
func (a *Agent) Version() string { return a.version }

// Phase 返回当前生命周期阶段。
func (a *Agent) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// Status 汇总诊断接口需要的信息。
type Status struct {
	Version   string   `json:"version"`
	CacheName string   `json:"cache_name"`
	Phase     Phase    `json:"phase"`
	Buckets   []string `json:"buckets"`
	Assets    []string `json:"assets"`
}

// Status 读取当前阶段与存储中的缓存桶列表。
func (a *Agent) Status(ctx context.Context) (Status, error) {
	keys, err := a.store.Keys(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list cache buckets: %w", err)
	}
	return Status{
		Version:   a.version,
		CacheName: a.cacheName,
		Phase:     a.Phase(),
		Buckets:   keys,
		Assets:    append([]string(nil), a.assets...),
	}, nil
}

func (a *Agent) open(ctx context.Context) (*cache.Bucket, error) {
	bucket, err := cache.Open(ctx, a.store, a.cacheName)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", a.cacheName, err)
	}
	return bucket, nil
}

// cacheKey 将请求映射为缓存路径：带查询串时追加 /__qs/<sha1>，片段被忽略。
func cacheKey(u *url.URL) string {
	clean := "/"
	query := ""
	if u != nil {
		if u.Path != "" {
			clean = path.Clean("/" + u.Path)
		}
		query = u.RawQuery
	}
	if query != "" {
		sum := sha1.Sum([]byte(query))
		clean = fmt.Sprintf("%s/__qs/%s", strings.TrimSuffix(clean, "/"), hex.EncodeToString(sum[:]))
	}
	return clean
}
