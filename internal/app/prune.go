package app

import (
	"context"
	"time"
)

// auditPruner 是审计表清理需要的最小存储接口。
type auditPruner interface {
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
	DeleteCommandsBefore(ctx context.Context, olderThan time.Time) error
}

// pruneAuditLoop 周期性删除超过保留期的审计行，直到 ctx 取消。
func (a *App) pruneAuditLoop(ctx context.Context, pruner auditPruner, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneAuditOnce(ctx, pruner, retention)
		}
	}
}

func (a *App) pruneAuditOnce(ctx context.Context, pruner auditPruner, retention time.Duration) {
	horizon := time.Now().UTC().Add(-retention)
	if err := pruner.DeleteAlertsBefore(ctx, horizon); err != nil {
		a.Logger.Error().Err(err).Msg("prune alert audit rows failed")
	}
	if err := pruner.DeleteCommandsBefore(ctx, horizon); err != nil {
		a.Logger.Error().Err(err).Msg("prune command audit rows failed")
	}
}
