// chat_message.go — chat_messages 表 (线程历史归档)。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatMessage 归档的终态消息。流式中间态不落库。
type ChatMessage struct {
	MessageID string `db:"message_id" json:"message_id"`
	ThreadID  string `db:"thread_id" json:"thread_id"`
	Role      string `db:"role" json:"role"`
	Content   string `db:"content" json:"content"`
	Status    string `db:"status" json:"status"`
	Model     string `db:"model" json:"model,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// ChatMessageStore chat_messages 存储。
type ChatMessageStore struct{ BaseStore }

// NewChatMessageStore 创建。
func NewChatMessageStore(pool *pgxpool.Pool) *ChatMessageStore {
	return &ChatMessageStore{NewBaseStore(pool)}
}

const cmCols = "message_id, thread_id, role, content, status, model, created_at"

// Append 归档一条消息 (同 id 重复归档按最新覆盖)。
func (s *ChatMessageStore) Append(ctx context.Context, m *ChatMessage) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (message_id, thread_id, role, content, status, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (message_id) DO UPDATE SET
		   content=EXCLUDED.content, status=EXCLUDED.status, model=EXCLUDED.model`,
		m.MessageID, m.ThreadID, m.Role, m.Content, m.Status, m.Model, m.CreatedAt)
	return err
}

// History 按时间序返回线程全部归档消息。
func (s *ChatMessageStore) History(ctx context.Context, threadID string) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+cmCols+" FROM chat_messages WHERE thread_id = $1 ORDER BY created_at ASC, message_id ASC",
		threadID)
	if err != nil {
		return nil, err
	}
	return collectRows[ChatMessage](rows)
}

// DeleteByIDs 删除指定消息。
func (s *ChatMessageStore) DeleteByIDs(ctx context.Context, threadID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"DELETE FROM chat_messages WHERE thread_id = $1 AND message_id = ANY($2)",
		threadID, messageIDs)
	return err
}

// DeleteThread 删除线程全部归档消息。
func (s *ChatMessageStore) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM chat_messages WHERE thread_id=$1", threadID)
	return err
}
