package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/service"
)

// SharePurgeHandler 处理周期性的过期分享链接清理任务
type SharePurgeHandler struct {
	shareSvc *service.ShareService
}

// NewSharePurgeHandler 创建 Handler 实例
func NewSharePurgeHandler(shareSvc *service.ShareService) *SharePurgeHandler {
	if shareSvc == nil {
		panic("ShareService cannot be nil for SharePurgeHandler")
	}
	return &SharePurgeHandler{shareSvc: shareSvc}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SharePurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	purged, err := h.shareSvc.PurgeExpired(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to purge expired shares")
		return err
	}

	if purged > 0 {
		logCtx.WithField("purged", purged).Info("Expired shares purged")
	} else {
		logCtx.Debug("No expired shares to purge")
	}
	return nil
}
