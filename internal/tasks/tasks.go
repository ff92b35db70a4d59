package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeCodeFlush  = "code:flush"  // 房间文档快照落库任务
	TypeSharePurge = "share:purge" // 过期分享链接清理任务 (周期性)
)

// CodeFlushPayload 定义了文档落库任务的数据结构
type CodeFlushPayload struct {
	RoomID string `json:"room_id"`
}

// NewCodeFlushTask 创建一个文档落库任务。
// 调用方负责用 asynq.TaskID 对同一房间去重。
func NewCodeFlushTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CodeFlushPayload{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCodeFlush, payload), nil
}

// NewSharePurgeTask 创建一个过期分享清理任务。
// 没有 payload，由 Scheduler 周期性排入。
func NewSharePurgeTask() *asynq.Task {
	return asynq.NewTask(TypeSharePurge, nil)
}
