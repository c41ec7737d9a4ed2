// reconciler.go — 单线程消息状态机。
//
// 每条消息的生命周期: absent → processing → {completed, cancelled, failed},
// 终态吸收。所有变更在 Registry 锁内执行, reconciler 自身不加锁。
//
// 生产端顺序约定 (本地不强制): 快照必须先于其累积的增量片段到达,
// 否则那些片段被静默丢弃 — 消息只由快照/完成事件创建, 从不由片段凭空合成。
package thread

import (
	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

// reconciler 单个线程的消息列表与生命周期状态。
type reconciler struct {
	threadID string
	messages []*Message
	cancels  map[string]*CancelToken // messageID → 共享取消令牌

	titlePending bool // 一次性标题生成待触发标记, 消费瞬间清除
	titleDone    bool // 本线程已触发过标题生成
	sending      bool // 触发调用已受理、终态事件未到
	waiters      []chan struct{}
}

func newReconciler(threadID string) *reconciler {
	return &reconciler{
		threadID: threadID,
		cancels:  make(map[string]*CancelToken),
	}
}

// applyFunc 类型化载荷的应用函数。在 Registry 锁内调用。
type applyFunc func(*reconciler, any)

// eventAppliers 事件类型 → 应用函数。
var eventAppliers = map[string]applyFunc{
	events.TypeContentChunk:    (*reconciler).applyChunk,
	events.TypeMessageUpdate:   (*reconciler).applySnapshot,
	events.TypeCompleted:       (*reconciler).applyCompletion,
	events.TypeCancelled:       (*reconciler).applyCancellation,
	events.TypeMessagesDeleted: (*reconciler).applyDeletion,
}

// applyChunk 增量片段: 只追加到最后一条消息, 且该消息必须是
// processing 状态的 assistant 消息; 否则丢弃 (接受数据丢失, 不缓冲)。
func (r *reconciler) applyChunk(payload any) {
	chunk := payload.(events.ChunkData)
	last := r.last()
	if last == nil || last.Role != RoleAssistant || last.Status != events.StatusProcessing {
		logger.Debug("thread: chunk without matching processing message dropped",
			logger.FieldThreadID, r.threadID,
		)
		return
	}
	if tok := r.cancels[last.ID]; tok != nil && tok.Fired() {
		// 取消令牌已点火, 之后的片段不再追加
		return
	}
	last.Content += chunk.Text()
}

// applySnapshot 权威快照: 按 id upsert, 整体替换而非合并,
// 因此重复/乱序快照是安全的。终态吸收: 已终态消息不被非终态快照回退。
func (r *reconciler) applySnapshot(payload any) {
	p := payload.(events.MessagePayload)
	incoming := messageFromPayload(p)

	if existing := r.byID(p.ID); existing != nil {
		if existing.Status.Terminal() && !incoming.Status.Terminal() {
			logger.Debug("thread: non-terminal snapshot for terminal message dropped",
				logger.FieldThreadID, r.threadID,
				logger.FieldMessageID, p.ID,
			)
			return
		}
		*existing = *incoming
		if incoming.Status.Terminal() {
			r.notifyTerminal()
		}
		return
	}

	r.insert(incoming)
}

// applyCompletion 完成事件: upsert 为 completed, 载荷内容无条件覆盖
// 片段累积内容。线程首轮对话完成时置一次性标题生成标记。
func (r *reconciler) applyCompletion(payload any) {
	p := payload.(events.MessagePayload)
	incoming := messageFromPayload(p)
	incoming.Status = events.StatusCompleted
	if incoming.Role == "" {
		incoming.Role = RoleAssistant
	}

	if existing := r.byID(p.ID); existing != nil {
		if existing.Status.Terminal() && existing.Status != events.StatusCompleted {
			// cancelled/failed 吸收, 迟到的完成事件不改写
			return
		}
		*existing = *incoming
	} else {
		r.insert(incoming)
	}

	if !r.titleDone && r.completedAssistantCount() == 1 {
		r.titlePending = true
	}
	r.notifyTerminal()
}

// applyCancellation 取消事件: 仅当消息存在且非终态时置 cancelled;
// 对已终态或未知 id 是 no-op, 不是错误。
func (r *reconciler) applyCancellation(payload any) {
	d := payload.(events.CancellationData)
	msg := r.byID(d.MessageID)
	if msg == nil || msg.Status.Terminal() {
		return
	}
	msg.Status = events.StatusCancelled
	if tok := r.cancels[d.MessageID]; tok != nil {
		tok.Fire()
	}
	r.notifyTerminal()
}

// applyDeletion 删除事件: 移除所有匹配 id, 不论状态。
func (r *reconciler) applyDeletion(payload any) {
	d := payload.(events.DeletionData)
	if len(d.MessageIDs) == 0 {
		return
	}
	doomed := make(map[string]bool, len(d.MessageIDs))
	for _, id := range d.MessageIDs {
		doomed[id] = true
		delete(r.cancels, id)
	}
	kept := r.messages[:0]
	for _, msg := range r.messages {
		if !doomed[msg.ID] {
			kept = append(kept, msg)
		}
	}
	r.messages = kept
}

// insert 追加新消息, 维持"每线程至多一条 processing"不变式:
// 新消息为 processing 时, 先把既有 processing 消息以累积内容定格为 completed。
func (r *reconciler) insert(msg *Message) {
	if msg.Status == events.StatusProcessing {
		for _, m := range r.messages {
			if m.Status == events.StatusProcessing {
				m.Status = events.StatusCompleted
			}
		}
	}
	r.messages = append(r.messages, msg)
}

func (r *reconciler) last() *Message {
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

func (r *reconciler) byID(id string) *Message {
	for _, m := range r.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (r *reconciler) completedAssistantCount() int {
	n := 0
	for _, m := range r.messages {
		if m.Role == RoleAssistant && m.Status == events.StatusCompleted {
			n++
		}
	}
	return n
}

// tokenFor 取出或创建指定消息的共享取消令牌。
func (r *reconciler) tokenFor(messageID string) *CancelToken {
	if tok := r.cancels[messageID]; tok != nil {
		return tok
	}
	tok := &CancelToken{}
	r.cancels[messageID] = tok
	return tok
}

// notifyTerminal 终态事件到达: 清 sending 标记并唤醒同步等待者。
func (r *reconciler) notifyTerminal() {
	r.sending = false
	for _, ch := range r.waiters {
		close(ch)
	}
	r.waiters = nil
}

// snapshot 返回消息列表的值拷贝, 供锁外读取。
func (r *reconciler) snapshot() []Message {
	out := make([]Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = *m
	}
	return out
}
