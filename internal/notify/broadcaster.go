// Package notify fans "update available" messages out to every connected
// listener (a browser tab subscribed to the event stream). Delivery is
// fire-and-forget: a listener whose buffer is full simply misses the message.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessageUpdateAvailable 是缓存刷新后推送的消息类型。
const MessageUpdateAvailable = "UPDATE_AVAILABLE"

// Message 是投递给监听者的结构化负载，不做持久化。
type Message struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Message string `json:"message"`
}

// UpdateAvailable 构造带版本号的更新消息。
func UpdateAvailable(version string) Message {
	return Message{
		Type:    MessageUpdateAvailable,
		Version: version,
		Message: fmt.Sprintf("Updated to version %s", version),
	}
}

// Listener 代表一个已连接的页面上下文。
type Listener struct {
	ID          string
	Controlled  bool
	ConnectedAt time.Time

	ch chan Message
}

// Messages 返回监听者的消息通道，Unsubscribe 后会被关闭。
func (l *Listener) Messages() <-chan Message {
	return l.ch
}

// Broadcaster 维护监听者集合。Claim 之后连接的监听者视为受控。
type Broadcaster struct {
	logger *logrus.Logger
	buffer int

	mu        sync.RWMutex
	listeners map[string]*Listener
	claimed   bool
}

// NewBroadcaster 创建广播器，buffer 为每个监听者的消息缓冲长度。
func NewBroadcaster(buffer int, logger *logrus.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{
		logger:    logger,
		buffer:    buffer,
		listeners: make(map[string]*Listener),
	}
}

// Subscribe 注册一个新的监听者。
func (b *Broadcaster) Subscribe() *Listener {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := &Listener{
		ID:          uuid.NewString(),
		Controlled:  b.claimed,
		ConnectedAt: time.Now().UTC(),
		ch:          make(chan Message, b.buffer),
	}
	b.listeners[l.ID] = l
	return l
}

// Unsubscribe 移除监听者并关闭其通道，重复调用是安全的。
func (b *Broadcaster) Unsubscribe(l *Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[l.ID]; !ok {
		return
	}
	delete(b.listeners, l.ID)
	close(l.ch)
}

// Claim 标记代理已激活；此后连接的监听者为受控监听者，已有监听者保持不变。
func (b *Broadcaster) Claim() {
	b.mu.Lock()
	b.claimed = true
	b.mu.Unlock()
}

// Clients 按连接时间返回监听者快照；includeUncontrolled 为 false 时仅返回受控监听者。
func (b *Broadcaster) Clients(includeUncontrolled bool) []*Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]*Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if !includeUncontrolled && !l.Controlled {
			continue
		}
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Count 返回当前监听者数量。
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Notify 通过 Clients(true) 枚举全部监听者（包括未受控的）并投递 msg，不等待、不确认。
func (b *Broadcaster) Notify(ctx context.Context, msg Message) {
	delivered, dropped := 0, 0
	for _, l := range b.Clients(true) {
		if b.deliver(l, msg) {
			delivered++
		} else {
			dropped++
		}
	}

	if b.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":    "notify",
		"type":      msg.Type,
		"version":   msg.Version,
		"delivered": delivered,
		"dropped":   dropped,
	}
	if dropped > 0 {
		b.logger.WithFields(fields).Debug("notify_dropped")
		return
	}
	b.logger.WithFields(fields).Debug("notify_complete")
}

// deliver 非阻塞地写入监听者通道。持有读锁并确认监听者仍在集合中，
// 避免向枚举之后才 Unsubscribe 的已关闭通道发送。
func (b *Broadcaster) deliver(l *Listener, msg Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if current, ok := b.listeners[l.ID]; !ok || current != l {
		return false
	}
	select {
	case l.ch <- msg:
		return true
	default:
		return false
	}
}
