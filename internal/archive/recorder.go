// Package archive 把事件流里的终态消息落入线程目录。
//
// reconciler 的实时列表只存在于内存; Recorder 作为独立订阅者把
// completed/cancelled 终态与删除事件镜像到目录, 供历史回放与只读 API。
// 归档是尽力而为: 落库失败记日志, 不影响事件流。
package archive

import (
	"context"
	"time"

	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
	"github.com/mindgrid/go-chat-v2/internal/store"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

const writeTimeout = 5 * time.Second

// Recorder 终态消息归档订阅者。
type Recorder struct {
	dir    store.Directory
	router *router.Router
	unsubs []func()
}

// NewRecorder 创建 (未订阅)。
func NewRecorder(r *router.Router, dir store.Directory) *Recorder {
	return &Recorder{dir: dir, router: r}
}

// Start 订阅终态与删除事件。
func (rec *Recorder) Start() {
	rec.unsubs = append(rec.unsubs,
		rec.router.Subscribe(events.TypeCompleted, rec.onTerminal),
		rec.router.Subscribe(events.TypeMessagesDeleted, rec.onDeleted),
	)
}

// Stop 退订。
func (rec *Recorder) Stop() {
	for _, unsub := range rec.unsubs {
		unsub()
	}
	rec.unsubs = nil
}

func (rec *Recorder) onTerminal(evt events.Event) {
	if evt.ThreadID == "" {
		return
	}
	payload, err := events.Decode(evt)
	if err != nil {
		return
	}
	p := payload.(events.MessagePayload)
	role := p.Role
	if role == "" {
		role = "assistant"
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err = rec.dir.AppendMessage(ctx, &store.ChatMessage{
		MessageID: p.ID,
		ThreadID:  evt.ThreadID,
		Role:      role,
		Content:   p.Content,
		Status:    string(events.StatusCompleted),
		Model:     p.Model,
		CreatedAt: p.Timestamp / 1000,
	})
	if err != nil {
		logger.Warn("archive: append failed",
			logger.FieldThreadID, evt.ThreadID,
			logger.FieldMessageID, p.ID,
			logger.FieldError, err,
		)
	}
}

func (rec *Recorder) onDeleted(evt events.Event) {
	if evt.ThreadID == "" {
		return
	}
	payload, err := events.Decode(evt)
	if err != nil {
		return
	}
	d := payload.(events.DeletionData)
	if len(d.MessageIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := rec.dir.DeleteMessages(ctx, evt.ThreadID, d.MessageIDs); err != nil {
		logger.Warn("archive: delete failed",
			logger.FieldThreadID, evt.ThreadID,
			logger.FieldCount, len(d.MessageIDs),
			logger.FieldError, err,
		)
	}
}
