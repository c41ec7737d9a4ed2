// message.go — 线程内消息的领域类型与取消令牌。
package thread

import (
	"sync/atomic"
	"time"

	"github.com/mindgrid/go-chat-v2/internal/events"
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 单条对话消息。由所属线程的 reconciler 独占持有;
// processing 期间可变, 进入终态后冻结。
type Message struct {
	ID          string
	Role        string
	Content     string
	Status      events.Status
	Timestamp   time.Time
	Model       string
	ToolCalls   []events.ToolCall
	ToolResults []events.ToolResult
	Citations   []events.Citation
}

// messageFromPayload 从权威快照载荷构造消息。status 缺失取 processing。
func messageFromPayload(p events.MessagePayload) *Message {
	status := p.Status
	if status == "" {
		status = events.StatusProcessing
	}
	return &Message{
		ID:          p.ID,
		Role:        p.Role,
		Content:     p.Content,
		Status:      status,
		Timestamp:   payloadTime(p.Timestamp),
		Model:       p.Model,
		ToolCalls:   p.ToolCalls,
		ToolResults: p.ToolResults,
		Citations:   p.Citations,
	}
}

func payloadTime(unixMS int64) time.Time {
	if unixMS <= 0 {
		return time.Now()
	}
	return time.UnixMilli(unixMS)
}

// CancelToken 协作取消令牌。
//
// 触发调用方与 reconciler 按引用共享同一令牌: 取消请求发出即点火,
// 之后到达的增量片段在追加前检查令牌, 已点火则丢弃。
type CancelToken struct {
	fired atomic.Bool
}

// Fire 点火 (幂等)。
func (t *CancelToken) Fire() { t.fired.Store(true) }

// Fired 返回是否已点火。
func (t *CancelToken) Fired() bool { return t.fired.Load() }
