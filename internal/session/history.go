// history.go — 线程目录到 HistoryProvider 的适配。
package session

import (
	"context"

	"github.com/mindgrid/go-chat-v2/internal/api"
	"github.com/mindgrid/go-chat-v2/internal/store"
)

type directoryHistory struct {
	dir store.Directory
}

// NewDirectoryHistory 把线程目录适配为会话历史来源。
func NewDirectoryHistory(dir store.Directory) HistoryProvider {
	return directoryHistory{dir: dir}
}

func (d directoryHistory) ThreadHistory(ctx context.Context, threadID string) ([]api.HistoryMessage, error) {
	msgs, err := d.dir.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]api.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return out, nil
}
