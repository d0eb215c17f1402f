package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/agent"
	"github.com/clock-cache/clock-cache/internal/logging"
	"github.com/clock-cache/clock-cache/internal/server"
)

// CacheSourceHeader 标记响应来自缓存、源站还是离线兜底。
const CacheSourceHeader = "X-Clock-Cache"

// Interceptor 是 Handler 依赖的拦截器，由 *agent.Agent 实现。
type Interceptor interface {
	Handle(ctx context.Context, req *agent.Request) (*agent.Result, error)
	CacheName() string
}

// Handler 把 Fiber 请求转换为 agent.Request，并把拦截结果写回客户端。
type Handler struct {
	interceptor Interceptor
	logger      *logrus.Logger
	listenPort  int
}

// NewHandler constructs a proxy handler around the interceptor.
func NewHandler(interceptor Interceptor, logger *logrus.Logger, listenPort int) *Handler {
	return &Handler{
		interceptor: interceptor,
		logger:      logger,
		listenPort:  listenPort,
	}
}

// Handle 实现 server.ProxyHandler。回源失败时返回 502，不做离线兜底（文档请求除外，
// 其离线响应由拦截器合成）。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	headOnly := method == fiber.MethodHead

	req := h.buildRequest(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.interceptor.Handle(ctx, req)
	if err != nil {
		h.logResult(method, req.URL.Path, requestID, "", 0, started, err)
		setRequestIDHeader(c, requestID)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(CacheSourceHeader, string(result.Source))
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	h.logResult(method, req.URL.Path, requestID, result.Source, resp.StatusCode, started, nil)
	if headOnly {
		return nil
	}
	return c.Send(resp.Body)
}

// buildRequest 复制客户端请求；HEAD 被转换为 GET，使文档仍能参与再验证。
func (h *Handler) buildRequest(c fiber.Ctx) *agent.Request {
	uri := c.Request().URI()
	target := &url.URL{
		Path:     requestPath(c),
		RawQuery: string(uri.QueryString()),
	}

	method := c.Method()
	if method == fiber.MethodHead {
		method = fiber.MethodGet
	}

	header := fiberHeadersAsHTTP(c)
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	header.Set("X-Forwarded-Port", fmt.Sprintf("%d", h.listenPort))

	var body []byte
	if method != fiber.MethodGet {
		body = append([]byte(nil), c.Body()...)
	}

	return &agent.Request{
		Method:      method,
		URL:         target,
		Destination: strings.TrimSpace(c.Get("Sec-Fetch-Dest")),
		Header:      header,
		Body:        body,
	}
}

func (h *Handler) logResult(
	method string,
	path string,
	requestID string,
	source agent.Source,
	status int,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(method, path, h.interceptor.CacheName(), string(source))
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func requestPath(c fiber.Ctx) string {
	pathVal := string(c.Request().URI().Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 跳过 hop-by-hop 与 Content-Length，长度由 Fiber 按正文计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
