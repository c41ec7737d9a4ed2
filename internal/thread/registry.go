// Package thread 实现按线程的消息调和。
//
// Registry 持有 thread id → reconciler 的注册表 (首次访问惰性创建,
// 线程删除时驱逐), 订阅路由器的消息生命周期事件, 并按"当前活跃线程"
// 做 threadId 守卫 — 非活跃线程的事件整体丢弃, 防止中流切换线程时
// 的跨线程串扰。
package thread

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindgrid/go-chat-v2/internal/api"
	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
	apperrors "github.com/mindgrid/go-chat-v2/pkg/errors"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
	"github.com/mindgrid/go-chat-v2/pkg/util"
)

// Trigger 后端触发调用面。*api.Client 满足本接口。
type Trigger interface {
	SendMessage(req api.SendMessageRequest) error
	CancelMessage(req api.CancelMessageRequest) error
	GenerateTitle(threadID string, req api.GenerateTitleRequest) error
}

// SessionNotifier 线程切换时通知会话协调器。失败在协调器内部消化。
type SessionNotifier interface {
	SwitchTo(ctx context.Context, threadID string)
}

// Options Registry 参数。
type Options struct {
	SyncSendCeiling time.Duration   // 同步发送兜底超时, 零值取 30s
	Sessions        SessionNotifier // 可为 nil
}

// Registry 线程 reconciler 注册表。进程内只构造一次, 显式注入。
type Registry struct {
	router  *router.Router
	trigger Trigger
	opts    Options

	mu      sync.Mutex
	active  string
	recs    map[string]*reconciler
	unsubs  []func()
	started bool
}

// NewRegistry 创建注册表 (未订阅)。
func NewRegistry(r *router.Router, trigger Trigger, opts Options) *Registry {
	if opts.SyncSendCeiling <= 0 {
		opts.SyncSendCeiling = 30 * time.Second
	}
	return &Registry{
		router:  r,
		trigger: trigger,
		opts:    opts,
		recs:    make(map[string]*reconciler),
	}
}

// Start 订阅消息生命周期事件。幂等。
func (g *Registry) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started = true
	for typ, apply := range eventAppliers {
		g.unsubs = append(g.unsubs, g.router.Subscribe(typ, g.onEvent(apply)))
	}
}

// Stop 退订全部事件。幂等。
func (g *Registry) Stop() {
	g.mu.Lock()
	unsubs := g.unsubs
	g.unsubs = nil
	g.started = false
	g.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// onEvent 包装应用函数: 解码 → 活跃线程守卫 → 锁内应用 → 消费标题标记。
func (g *Registry) onEvent(apply applyFunc) router.Handler {
	return func(evt events.Event) {
		payload, err := events.Decode(evt)
		if err != nil {
			logger.Warn("thread: undecodable event dropped",
				logger.FieldEventType, evt.Type,
				logger.FieldError, err,
			)
			return
		}

		g.mu.Lock()
		if g.active == "" || evt.ThreadID != g.active {
			g.mu.Unlock()
			logger.Debug("thread: event for non-active thread dropped",
				logger.FieldEventType, evt.Type,
				logger.FieldThreadID, evt.ThreadID,
			)
			return
		}
		rec := g.ensureLocked(evt.ThreadID)
		apply(rec, payload)
		title := g.consumeTitleLocked(rec)
		g.mu.Unlock()

		if title != nil {
			title()
		}
	}
}

// consumeTitleLocked 消费一次性标题生成标记, 返回锁外执行的触发闭包。
// 标记在消费瞬间清除, 竞态的重复完成事件不会触发第二次请求。
func (g *Registry) consumeTitleLocked(rec *reconciler) func() {
	if !rec.titlePending {
		return nil
	}
	rec.titlePending = false
	rec.titleDone = true

	threadID := rec.threadID
	var firstUser, firstReply string
	for _, m := range rec.messages {
		if firstUser == "" && m.Role == RoleUser {
			firstUser = m.Content
		}
		if firstReply == "" && m.Role == RoleAssistant && m.Status == events.StatusCompleted {
			firstReply = m.Content
		}
	}

	return func() {
		util.SafeGo(func() {
			err := g.trigger.GenerateTitle(threadID, api.GenerateTitleRequest{
				FirstUserMessage: util.TruncateRunes(firstUser, 500),
				FirstReply:       util.TruncateRunes(firstReply, 500),
			})
			if err != nil {
				logger.Warn("thread: title generation request failed",
					logger.FieldThreadID, threadID,
					logger.FieldError, err,
				)
			}
		})
	}
}

// ensureLocked 惰性创建 reconciler。调用方持锁。
func (g *Registry) ensureLocked(threadID string) *reconciler {
	rec := g.recs[threadID]
	if rec == nil {
		rec = newReconciler(threadID)
		g.recs[threadID] = rec
	}
	return rec
}

// SetActiveThread 切换活跃线程并通知会话协调器。
func (g *Registry) SetActiveThread(ctx context.Context, threadID string) {
	g.mu.Lock()
	if g.active == threadID {
		g.mu.Unlock()
		return
	}
	g.active = threadID
	if threadID != "" {
		g.ensureLocked(threadID)
	}
	g.mu.Unlock()

	logger.Info("thread: active thread switched", logger.FieldThreadID, threadID)
	if g.opts.Sessions != nil && threadID != "" {
		g.opts.Sessions.SwitchTo(ctx, threadID)
	}
}

// ActiveThread 返回当前活跃线程 id。
func (g *Registry) ActiveThread() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Messages 返回指定线程消息列表的值拷贝。
func (g *Registry) Messages(threadID string) []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.recs[threadID]
	if rec == nil {
		return nil
	}
	return rec.snapshot()
}

// Sending 返回线程是否有已受理、终态未到的发送。
func (g *Registry) Sending(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.recs[threadID]
	return rec != nil && rec.sending
}

// Evict 线程删除时驱逐其 reconciler。
func (g *Registry) Evict(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.recs[threadID]
	if rec == nil {
		return
	}
	rec.notifyTerminal()
	delete(g.recs, threadID)
	if g.active == threadID {
		g.active = ""
	}
}

// ========================================
// 触发调用
// ========================================

// SendMessage 发送用户消息。
//
// 乐观策略: 用户消息先行追加到本地列表, 再发触发调用。
// 调用失败时已追加的消息保留, 仅清除加载标记, 错误上抛给调用方。
func (g *Registry) SendMessage(threadID, content string) (messageID string, err error) {
	if threadID == "" || content == "" {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "Registry.SendMessage", "threadId and content required")
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Status:    events.StatusCompleted,
		Timestamp: time.Now(),
	}

	g.mu.Lock()
	rec := g.ensureLocked(threadID)
	rec.messages = append(rec.messages, msg)
	rec.sending = true
	g.mu.Unlock()

	if err := g.trigger.SendMessage(api.SendMessageRequest{ThreadID: threadID, Content: content}); err != nil {
		g.mu.Lock()
		rec.sending = false
		g.mu.Unlock()
		return msg.ID, apperrors.Wrap(err, "Registry.SendMessage", "trigger call failed")
	}
	return msg.ID, nil
}

// SendMessageSync 同步发送: 阻塞到终态事件到达或兜底超时,
// 返回最后一条 assistant 消息的尽力而为内容, 不无限挂起。
func (g *Registry) SendMessageSync(ctx context.Context, threadID, content string) (string, error) {
	if _, err := g.SendMessage(threadID, content); err != nil {
		return "", err
	}

	g.mu.Lock()
	rec := g.ensureLocked(threadID)
	done := make(chan struct{})
	rec.waiters = append(rec.waiters, done)
	g.mu.Unlock()

	timer := time.NewTimer(g.opts.SyncSendCeiling)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("thread: sync send hit ceiling, returning accumulated content",
			logger.FieldThreadID, threadID,
		)
	case <-ctx.Done():
		return g.lastAssistantContent(threadID), ctx.Err()
	}
	return g.lastAssistantContent(threadID), nil
}

func (g *Registry) lastAssistantContent(threadID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.recs[threadID]
	if rec == nil {
		return ""
	}
	for i := len(rec.messages) - 1; i >= 0; i-- {
		if rec.messages[i].Role == RoleAssistant {
			return rec.messages[i].Content
		}
	}
	return ""
}

// CancelMessage 请求取消生成中的消息。
//
// 本地先点火共享取消令牌 (之后的片段不再追加), 再发触发调用;
// cancelled 终态仍以事件为准。
func (g *Registry) CancelMessage(threadID, messageID string) error {
	g.mu.Lock()
	rec := g.ensureLocked(threadID)
	rec.tokenFor(messageID).Fire()
	g.mu.Unlock()

	err := g.trigger.CancelMessage(api.CancelMessageRequest{ThreadID: threadID, MessageID: messageID})
	if err != nil {
		return apperrors.Wrap(err, "Registry.CancelMessage", "trigger call failed")
	}
	return nil
}
