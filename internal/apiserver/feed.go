// feed.go — 透传类事件的有界缓冲。
//
// token-stats / debug-entry / process-log 不进调和核心, 由这里的
// 简单独立订阅者收进环形缓冲, 供只读 API 拉取。
package apiserver

import (
	"sync"
	"time"

	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
	"github.com/mindgrid/go-chat-v2/pkg/util"
)

// FeedEntry 缓冲内的单条透传事件。
type FeedEntry struct {
	Type       string    `json:"type"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Feeds 三类透传事件的有界缓冲, 满时丢最旧。
type Feeds struct {
	router *router.Router
	limit  int

	mu      sync.Mutex
	entries []FeedEntry
	unsubs  []func()
}

// NewFeeds 创建。limit 为缓冲上限。
func NewFeeds(r *router.Router, limit int) *Feeds {
	if limit <= 0 {
		limit = 200
	}
	return &Feeds{router: r, limit: util.ClampInt(limit, 1, 5000)}
}

// Start 订阅透传事件类型。
func (f *Feeds) Start() {
	for _, typ := range []string{events.TypeTokenStats, events.TypeDebugEntry, events.TypeProcessLog} {
		f.unsubs = append(f.unsubs, f.router.Subscribe(typ, f.onEvent))
	}
}

// Stop 退订。
func (f *Feeds) Stop() {
	for _, unsub := range f.unsubs {
		unsub()
	}
	f.unsubs = nil
}

func (f *Feeds) onEvent(evt events.Event) {
	payload, err := events.Decode(evt)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, FeedEntry{
		Type:       evt.Type,
		ThreadID:   evt.ThreadID,
		Payload:    util.ToMapAny(payload),
		ReceivedAt: evt.ReceivedAt,
	})
	if over := len(f.entries) - f.limit; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
	}
}

// Snapshot 返回缓冲拷贝, 旧在前。
func (f *Feeds) Snapshot() []FeedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FeedEntry, len(f.entries))
	copy(out, f.entries)
	return out
}
