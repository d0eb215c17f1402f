package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/agent"
	"github.com/clock-cache/clock-cache/internal/notify"
	"github.com/clock-cache/clock-cache/internal/version"
)

// keepAliveInterval 控制 SSE 注释心跳的间隔，用于及时发现已断开的监听者。
var keepAliveInterval = 15 * time.Second

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/events。
// /-/events 是页面订阅“有更新”消息的 SSE 通道。
func RegisterDiagnosticsRoutes(app *fiber.App, a *agent.Agent, events *notify.Broadcaster, logger *logrus.Logger) {
	if app == nil || a == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		status, err := a.Status(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "status_unavailable")
		}
		listeners := 0
		if events != nil {
			listeners = events.Count()
		}
		return c.JSON(statusPayload{
			Status:    status,
			Build:     version.Full(),
			Listeners: listeners,
		})
	})

	if events == nil {
		return
	}

	app.Get("/-/events", func(c fiber.Ctx) error {
		listener := events.Subscribe()
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		fields := logrus.Fields{
			"action":      "events",
			"listener_id": listener.ID,
			"controlled":  listener.Controlled,
		}
		if logger != nil {
			logger.WithFields(fields).Debug("listener_connected")
		}

		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer func() {
				events.Unsubscribe(listener)
				if logger != nil {
					logger.WithFields(fields).Debug("listener_disconnected")
				}
			}()
			streamEvents(w, listener)
		})
	})
}

type statusPayload struct {
	agent.Status
	Build     string `json:"build"`
	Listeners int    `json:"listeners"`
}

// streamEvents 持续把消息写成 SSE 帧，写入失败（连接断开）或通道关闭时返回。
func streamEvents(w *bufio.Writer, listener *notify.Listener) {
	fmt.Fprintf(w, "retry: 5000\n\n")
	if err := w.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-listener.Messages():
			if !ok {
				return
			}
			if err := writeSSEEvent(w, "message", msg); err != nil {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func writeSSEEvent(w *bufio.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
