// Package store 实现线程目录: 线程元数据与终态消息的归档存取。
//
// 目录是核心之外的协作方 — reconciler 的实时消息列表只存在于内存,
// 目录保存的是跨进程存活的历史。PostgreSQL 不可用时退化为内存实现,
// 调用方统一走 Directory 接口。
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory 线程目录操作面。
type Directory interface {
	CreateThread(ctx context.Context, name, customRole string) (*ChatThread, error)
	GetThread(ctx context.Context, threadID string) (*ChatThread, error)
	ListThreads(ctx context.Context) ([]ChatThread, error)
	RenameThread(ctx context.Context, threadID, name string) error
	DeleteThread(ctx context.Context, threadID string) error

	AppendMessage(ctx context.Context, m *ChatMessage) error
	History(ctx context.Context, threadID string) ([]ChatMessage, error)
	DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error
}

// ========================================
// PostgreSQL 实现
// ========================================

// PostgresDirectory 组合 chat_threads 与 chat_messages 两个 store。
type PostgresDirectory struct {
	threads  *ChatThreadStore
	messages *ChatMessageStore
}

// NewPostgresDirectory 创建。
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{
		threads:  NewChatThreadStore(pool),
		messages: NewChatMessageStore(pool),
	}
}

// EnsureSchema 建表 (幂等)。
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	_, err := d.threads.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_threads (
			thread_id     TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			custom_role   TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    BIGINT NOT NULL,
			updated_at    BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'completed',
			model      TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_thread ON chat_messages (thread_id, created_at);
	`)
	return err
}

func (d *PostgresDirectory) CreateThread(ctx context.Context, name, customRole string) (*ChatThread, error) {
	t := &ChatThread{ThreadID: uuid.NewString(), Name: name, CustomRole: customRole}
	if err := d.threads.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *PostgresDirectory) GetThread(ctx context.Context, threadID string) (*ChatThread, error) {
	return d.threads.Get(ctx, threadID)
}

func (d *PostgresDirectory) ListThreads(ctx context.Context) ([]ChatThread, error) {
	return d.threads.List(ctx)
}

func (d *PostgresDirectory) RenameThread(ctx context.Context, threadID, name string) error {
	return d.threads.Rename(ctx, threadID, name)
}

func (d *PostgresDirectory) DeleteThread(ctx context.Context, threadID string) error {
	if err := d.messages.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	return d.threads.Delete(ctx, threadID)
}

func (d *PostgresDirectory) AppendMessage(ctx context.Context, m *ChatMessage) error {
	if err := d.messages.Append(ctx, m); err != nil {
		return err
	}
	return d.threads.BumpMessageCount(ctx, m.ThreadID, 1)
}

func (d *PostgresDirectory) History(ctx context.Context, threadID string) ([]ChatMessage, error) {
	return d.messages.History(ctx, threadID)
}

func (d *PostgresDirectory) DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error {
	if err := d.messages.DeleteByIDs(ctx, threadID, messageIDs); err != nil {
		return err
	}
	return d.threads.BumpMessageCount(ctx, threadID, -len(messageIDs))
}

// ========================================
// 内存实现 (无 PostgreSQL 时的退化目录)
// ========================================

// MemoryDirectory 进程内线程目录。
type MemoryDirectory struct {
	mu       sync.Mutex
	threads  map[string]*ChatThread
	messages map[string][]ChatMessage // threadID → 时间序消息
}

// NewMemoryDirectory 创建。
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		threads:  make(map[string]*ChatThread),
		messages: make(map[string][]ChatMessage),
	}
}

func (d *MemoryDirectory) CreateThread(ctx context.Context, name, customRole string) (*ChatThread, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().Unix()
	t := &ChatThread{
		ThreadID:   uuid.NewString(),
		Name:       name,
		CustomRole: customRole,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.threads[t.ThreadID] = t
	out := *t
	return &out, nil
}

func (d *MemoryDirectory) GetThread(ctx context.Context, threadID string) (*ChatThread, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.threads[threadID]
	if t == nil {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (d *MemoryDirectory) ListThreads(ctx context.Context) ([]ChatThread, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ChatThread, 0, len(d.threads))
	for _, t := range d.threads {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (d *MemoryDirectory) RenameThread(ctx context.Context, threadID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := d.threads[threadID]; t != nil {
		t.Name = name
		t.UpdatedAt = time.Now().Unix()
	}
	return nil
}

func (d *MemoryDirectory) DeleteThread(ctx context.Context, threadID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.threads, threadID)
	delete(d.messages, threadID)
	return nil
}

func (d *MemoryDirectory) AppendMessage(ctx context.Context, m *ChatMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	list := d.messages[m.ThreadID]
	replaced := false
	for i := range list {
		if list[i].MessageID == m.MessageID {
			list[i] = *m
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, *m)
	}
	d.messages[m.ThreadID] = list
	if t := d.threads[m.ThreadID]; t != nil {
		if !replaced {
			t.MessageCount++
		}
		t.UpdatedAt = time.Now().Unix()
	}
	return nil
}

func (d *MemoryDirectory) History(ctx context.Context, threadID string) ([]ChatMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.messages[threadID]
	out := make([]ChatMessage, len(list))
	copy(out, list)
	return out, nil
}

func (d *MemoryDirectory) DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doomed := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		doomed[id] = true
	}
	list := d.messages[threadID]
	kept := list[:0]
	removed := 0
	for _, m := range list {
		if doomed[m.MessageID] {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	d.messages[threadID] = kept
	if t := d.threads[threadID]; t != nil {
		t.MessageCount -= removed
		if t.MessageCount < 0 {
			t.MessageCount = 0
		}
	}
	return nil
}
