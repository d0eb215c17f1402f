package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/clock-cache/clock-cache/internal/agent"
	"github.com/clock-cache/clock-cache/internal/cache"
	"github.com/clock-cache/clock-cache/internal/server"
)

// strippedRequestHeaders 不会转发给源站：条件/范围请求会让源站返回 304/206，
// 而代理需要完整的 200 正文来写缓存；Accept-Encoding 交给 Transport 处理。
var strippedRequestHeaders = []string{
	"Accept-Encoding",
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// Fetcher 通过共享 http.Client 回源，实现 agent.Fetcher。
type Fetcher struct {
	client *http.Client
	origin *url.URL
}

// NewFetcher 解析 origin 并返回 Fetcher。
func NewFetcher(client *http.Client, origin string) (*Fetcher, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, fmt.Errorf("invalid origin %s: %w", origin, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("origin %s must include scheme and host", origin)
	}
	return &Fetcher{client: client, origin: parsed}, nil
}

// Origin 返回源站地址。
func (f *Fetcher) Origin() string {
	return f.origin.String()
}

// Fetch 发起回源请求并完整读取响应正文。非 2xx 状态码按正常响应返回。
func (f *Fetcher) Fetch(ctx context.Context, req *agent.Request) (*cache.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := http.MethodGet
	if req != nil && req.Method != "" {
		method = req.Method
	}
	upstream := f.resolve(req)

	var body io.Reader = http.NoBody
	if req != nil && len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, upstream.String(), body)
	if err != nil {
		return nil, err
	}
	if req != nil && req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	for _, key := range strippedRequestHeaders {
		httpReq.Header.Del(key)
	}
	httpReq.Host = upstream.Host
	httpReq.Header.Set("Host", upstream.Host)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", upstream.Redacted(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", upstream.Redacted(), err)
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	// 正文已完整读入，长度以实际字节为准。
	header.Del("Content-Length")

	return &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       payload,
	}, nil
}

// resolve 把请求路径拼接到 origin 的路径前缀之后。
func (f *Fetcher) resolve(req *agent.Request) *url.URL {
	clean := "/"
	rawQuery := ""
	if req != nil && req.URL != nil {
		if req.URL.Path != "" {
			clean = path.Clean("/" + req.URL.Path)
		}
		rawQuery = req.URL.RawQuery
	}
	prefix := strings.TrimSuffix(f.origin.Path, "/")
	target := *f.origin
	target.Path = prefix + clean
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}
