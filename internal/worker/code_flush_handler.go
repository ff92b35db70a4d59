package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/repository"
	"collaborative-codepad/internal/service"
	"collaborative-codepad/internal/tasks"
)

// CodeFlushHandler 处理房间文档快照落库任务
type CodeFlushHandler struct {
	roomSvc *service.RoomService
}

// NewCodeFlushHandler 创建 Handler 实例
func NewCodeFlushHandler(roomSvc *service.RoomService) *CodeFlushHandler {
	if roomSvc == nil {
		panic("RoomService cannot be nil for CodeFlushHandler")
	}
	return &CodeFlushHandler{roomSvc: roomSvc}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *CodeFlushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	var payload tasks.CodeFlushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	if err := h.roomSvc.FlushRoomCode(ctx, payload.RoomID); err != nil {
		// 热副本没有 (未被写过或已过期) 或房间已不存在都不算失败
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, service.ErrRoomNotFound) {
			logCtx.Debug("No code snapshot to flush")
			return nil
		}
		logCtx.WithError(err).Error("Failed to flush room code")
		return fmt.Errorf("failed to flush room %s: %w", payload.RoomID, err)
	}

	logCtx.Info("Room code snapshot flushed to database")
	return nil
}
