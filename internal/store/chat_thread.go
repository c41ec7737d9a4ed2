// chat_thread.go — chat_threads 表 CRUD (线程目录元数据)。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatThread 线程目录元数据。消息正文不在目录里, 见 chat_messages。
type ChatThread struct {
	ThreadID     string `db:"thread_id" json:"thread_id"`
	Name         string `db:"name" json:"name"`
	CustomRole   string `db:"custom_role" json:"custom_role,omitempty"`
	MessageCount int    `db:"message_count" json:"message_count"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
}

// ChatThreadStore chat_threads 存储。
type ChatThreadStore struct{ BaseStore }

// NewChatThreadStore 创建。
func NewChatThreadStore(pool *pgxpool.Pool) *ChatThreadStore {
	return &ChatThreadStore{NewBaseStore(pool)}
}

const ctCols = "thread_id, name, custom_role, message_count, created_at, updated_at"

// Create 新建线程记录。
func (s *ChatThreadStore) Create(ctx context.Context, t *ChatThread) error {
	now := time.Now().Unix()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_threads (thread_id, name, custom_role, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5)`,
		t.ThreadID, t.Name, t.CustomRole, t.CreatedAt, t.UpdatedAt)
	return err
}

// Get 按 id 取线程, 不存在返回 nil。
func (s *ChatThreadStore) Get(ctx context.Context, threadID string) (*ChatThread, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+ctCols+" FROM chat_threads WHERE thread_id = $1", threadID)
	if err != nil {
		return nil, err
	}
	return collectOne[ChatThread](rows)
}

// List 按最近更新排序列出全部线程。
func (s *ChatThreadStore) List(ctx context.Context) ([]ChatThread, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+ctCols+" FROM chat_threads ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	return collectRows[ChatThread](rows)
}

// Rename 重命名线程 (标题生成结果落库也走这里)。
func (s *ChatThreadStore) Rename(ctx context.Context, threadID, name string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE chat_threads SET name=$1, updated_at=$2 WHERE thread_id=$3",
		name, time.Now().Unix(), threadID)
	return err
}

// BumpMessageCount 消息数增量更新。
func (s *ChatThreadStore) BumpMessageCount(ctx context.Context, threadID string, delta int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_threads SET message_count = GREATEST(message_count + $1, 0), updated_at=$2
		 WHERE thread_id=$3`,
		delta, time.Now().Unix(), threadID)
	return err
}

// Delete 删除线程记录。
func (s *ChatThreadStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM chat_threads WHERE thread_id=$1", threadID)
	return err
}
