// Package session 协调后端侧的会话上下文。
//
// 对有状态/无状态后端多态: 调用方统一使用 Coordinator, 从不按后端
// 类型分支 — 无状态变体把三个操作都实现为成功的 no-op。
// 有状态后端的更新/清空失败 (如模型当前未加载) 属预期可恢复情况,
// 记日志后吞掉, 从不向调用方传播。
package session

import (
	"context"

	"github.com/mindgrid/go-chat-v2/internal/api"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

// Coordinator 会话协调操作面。
type Coordinator interface {
	// UpdateHistory 把线程完整历史推给后端会话。
	UpdateHistory(ctx context.Context, threadID string)
	// Clear 清空后端会话上下文。
	Clear(ctx context.Context, threadID string)
	// SwitchTo 线程切换: 取目标线程完整历史后委托 UpdateHistory。
	SwitchTo(ctx context.Context, threadID string)
}

// HistoryProvider 外部线程目录的历史读取面。
type HistoryProvider interface {
	ThreadHistory(ctx context.Context, threadID string) ([]api.HistoryMessage, error)
}

// Backend 有状态后端的会话调用面。*api.Client 满足本接口。
type Backend interface {
	UpdateSessionHistory(req api.SessionHistoryRequest) error
	ClearSession(threadID string) error
}

// New 按后端能力返回对应变体。
func New(stateful bool, backend Backend, history HistoryProvider) Coordinator {
	if !stateful {
		return statelessCoordinator{}
	}
	return &statefulCoordinator{backend: backend, history: history}
}

// ========================================
// 无状态变体
// ========================================

// statelessCoordinator 后端不保留会话上下文, 全部操作为成功 no-op。
type statelessCoordinator struct{}

func (statelessCoordinator) UpdateHistory(context.Context, string) {}
func (statelessCoordinator) Clear(context.Context, string)        {}
func (statelessCoordinator) SwitchTo(context.Context, string)     {}

// ========================================
// 有状态变体
// ========================================

type statefulCoordinator struct {
	backend Backend
	history HistoryProvider
}

func (c *statefulCoordinator) UpdateHistory(ctx context.Context, threadID string) {
	msgs, err := c.history.ThreadHistory(ctx, threadID)
	if err != nil {
		logger.Warn("session: fetch thread history failed, update skipped",
			logger.FieldThreadID, threadID,
			logger.FieldError, err,
		)
		return
	}
	err = c.backend.UpdateSessionHistory(api.SessionHistoryRequest{ThreadID: threadID, Messages: msgs})
	if err != nil {
		// 后端未加载时的预期失败, 吞掉
		logger.Warn("session: history update failed",
			logger.FieldThreadID, threadID,
			logger.FieldCount, len(msgs),
			logger.FieldError, err,
		)
		return
	}
	logger.Debug("session: history pushed",
		logger.FieldThreadID, threadID,
		logger.FieldCount, len(msgs),
	)
}

func (c *statefulCoordinator) Clear(ctx context.Context, threadID string) {
	if err := c.backend.ClearSession(threadID); err != nil {
		logger.Warn("session: clear failed",
			logger.FieldThreadID, threadID,
			logger.FieldError, err,
		)
	}
}

func (c *statefulCoordinator) SwitchTo(ctx context.Context, threadID string) {
	c.UpdateHistory(ctx, threadID)
}
