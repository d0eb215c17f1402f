package proxy

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/clock-cache/clock-cache/internal/agent"
	"github.com/clock-cache/clock-cache/internal/cache"
)

const requestIDKey = "_clockcache_request_id"

type recordingInterceptor struct {
	seen   *agent.Request
	result *agent.Result
	err    error
}

func (r *recordingInterceptor) Handle(_ context.Context, req *agent.Request) (*agent.Result, error) {
	r.seen = req
	return r.result, r.err
}

func (r *recordingInterceptor) CacheName() string { return "clock-cache-v1" }

func TestHandlerBuildsAgentRequest(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	fctx := new(fasthttp.RequestCtx)
	fctx.Request.Header.SetMethod(fiber.MethodHead)
	fctx.Request.SetRequestURI("/index.html?lang=zh")
	fctx.Request.Header.SetHost("clock.local")
	fctx.Request.Header.Set("Sec-Fetch-Dest", "document")
	ctx := app.AcquireCtx(fctx)
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "req-1")

	header := http.Header{}
	header.Set("Content-Type", "text/html")
	header.Set("Content-Length", "999")
	header.Set("Transfer-Encoding", "chunked")
	header.Add("Set-Cookie", "a=1")
	header.Add("Set-Cookie", "b=2")
	stub := &recordingInterceptor{result: &agent.Result{
		Response: &cache.Response{StatusCode: http.StatusOK, Header: header, Body: []byte("<html>")},
		Source:   agent.SourceUpdated,
	}}

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	if err := NewHandler(stub, logger, 5000).Handle(ctx); err != nil {
		t.Fatalf("Handle returned unexpected error: %v", err)
	}

	if stub.seen.Method != http.MethodGet {
		t.Fatalf("expected HEAD to become GET, got %s", stub.seen.Method)
	}
	if stub.seen.URL.Path != "/index.html" || stub.seen.URL.RawQuery != "lang=zh" {
		t.Fatalf("unexpected url %s", stub.seen.URL)
	}
	if stub.seen.Destination != "document" {
		t.Fatalf("expected destination from Sec-Fetch-Dest, got %q", stub.seen.Destination)
	}
	if stub.seen.Header.Get("X-Forwarded-Host") != "clock.local" || stub.seen.Header.Get("X-Forwarded-Port") != "5000" {
		t.Fatalf("expected forwarded headers, got %v", stub.seen.Header)
	}

	resp := ctx.Response()
	if got := string(resp.Header.Peek(CacheSourceHeader)); got != "updated" {
		t.Fatalf("expected source header, got %q", got)
	}
	if got := string(resp.Header.Peek("X-Request-ID")); got != "req-1" {
		t.Fatalf("expected request id header, got %q", got)
	}
	if len(resp.Body()) != 0 {
		t.Fatalf("expected HEAD body to be dropped, got %q", resp.Body())
	}
	if got := string(resp.Header.Peek("Transfer-Encoding")); got != "" {
		t.Fatalf("expected hop-by-hop header to be skipped, got %q", got)
	}
	cookies := 0
	resp.Header.VisitAllCookie(func(_, _ []byte) { cookies++ })
	if cookies != 2 {
		t.Fatalf("expected both cookies to be forwarded, got %d", cookies)
	}
	if !strings.Contains(logBuf.String(), "proxy_complete") || !strings.Contains(logBuf.String(), "req-1") {
		t.Fatalf("expected proxy_complete log with request id, got %s", logBuf.String())
	}
}

func TestHandlerReportsUpstreamFailure(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	fctx := new(fasthttp.RequestCtx)
	fctx.Request.SetRequestURI("/app.js")
	ctx := app.AcquireCtx(fctx)
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "req-2")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	stub := &recordingInterceptor{err: errors.New("dial tcp: connection refused")}
	if err := NewHandler(stub, logger, 5000).Handle(ctx); err != nil {
		t.Fatalf("Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "upstream_failed") {
		t.Fatalf("expected upstream_failed body, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "proxy_failed") {
		t.Fatalf("expected proxy_failed log, got %s", logBuf.String())
	}
}
