package agent

import (
	"context"

	"github.com/clock-cache/clock-cache/internal/notify"
)

// notifyClients 广播“有更新”消息，不等待投递结果。
func (a *Agent) notifyClients(ctx context.Context) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(ctx, notify.UpdateAvailable(a.version))
}
