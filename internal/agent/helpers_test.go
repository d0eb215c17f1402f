package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/cache"
	"github.com/clock-cache/clock-cache/internal/notify"
)

const (
	testCacheName = "clock-cache-v1"
	testVersion   = "2025.12.04"
)

var errNetworkDown = errors.New("dial tcp: connection refused")

// stubOrigin 模拟源站：按路径返回预置响应，并记录每次回源。
type stubOrigin struct {
	mu      sync.Mutex
	routes  map[string]*cache.Response
	fail    map[string]bool
	offline bool
	calls   []string
}

func newStubOrigin() *stubOrigin {
	return &stubOrigin{
		routes: make(map[string]*cache.Response),
		fail:   make(map[string]bool),
	}
}

func (o *stubOrigin) set(path string, status int, body string, headers ...string) {
	header := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		header.Set(headers[i], headers[i+1])
	}
	o.mu.Lock()
	o.routes[path] = &cache.Response{StatusCode: status, Header: header, Body: []byte(body)}
	o.mu.Unlock()
}

func (o *stubOrigin) setOffline(offline bool) {
	o.mu.Lock()
	o.offline = offline
	o.mu.Unlock()
}

func (o *stubOrigin) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, req.URL.Path)
	if o.offline || o.fail[req.URL.Path] {
		return nil, errNetworkDown
	}
	resp, ok := o.routes[req.URL.Path]
	if !ok {
		return &cache.Response{StatusCode: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found")}, nil
	}
	return resp.Clone(), nil
}

func (o *stubOrigin) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// recordingNotifier 记录所有通知，便于断言。
type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Message) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newTestAgent(t *testing.T, store cache.Store, origin Fetcher, notifier Notifier) *Agent {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a, err := New(Options{
		Store:     store,
		Fetcher:   origin,
		Notifier:  notifier,
		Logger:    logger,
		CacheName: testCacheName,
		Version:   testVersion,
		IndexPath: "/index.html",
		Assets:    []string{"./", "./index.html", "./manifest.json", "./north_map.png", "./earth_shadow.png"},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func seedAssets(o *stubOrigin) {
	o.set("/", 200, "root", "ETag", `"root-1"`)
	o.set("/index.html", 200, "index v1", "ETag", `"index-1"`)
	o.set("/manifest.json", 200, "{}", "Content-Type", "application/manifest+json")
	o.set("/north_map.png", 200, "north")
	o.set("/earth_shadow.png", 200, "shadow")
}

func getRequest(rawPath string) *Request {
	u, err := url.Parse(rawPath)
	if err != nil {
		panic(err)
	}
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}

func putCached(t *testing.T, store cache.Store, path string, body string, headers ...string) {
	t.Helper()
	header := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		header.Set(headers[i], headers[i+1])
	}
	_, err := store.Put(context.Background(), cache.Locator{Bucket: testCacheName, Path: path},
		&cache.Response{StatusCode: 200, Header: header, Body: []byte(body)}, cache.PutOptions{})
	if err != nil {
		t.Fatalf("seed cache %s: %v", path, err)
	}
}

func cachedBody(t *testing.T, store cache.Store, path string) (string, bool) {
	t.Helper()
	result, err := store.Get(context.Background(), cache.Locator{Bucket: testCacheName, Path: path})
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("read cache %s: %v", path, err)
	}
	return string(result.Response.Body), true
}
