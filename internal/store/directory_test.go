package store

import (
	"context"
	"testing"
)

func TestMemoryDirectoryThreadLifecycle(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	created, err := d.CreateThread(ctx, "新对话", "")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if created.ThreadID == "" {
		t.Fatal("empty thread id")
	}

	got, err := d.GetThread(ctx, created.ThreadID)
	if err != nil || got == nil || got.Name != "新对话" {
		t.Fatalf("GetThread = %+v, %v", got, err)
	}

	if err := d.RenameThread(ctx, created.ThreadID, "Go 并发问题"); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	got, _ = d.GetThread(ctx, created.ThreadID)
	if got.Name != "Go 并发问题" {
		t.Errorf("name = %q after rename", got.Name)
	}

	if err := d.DeleteThread(ctx, created.ThreadID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	got, _ = d.GetThread(ctx, created.ThreadID)
	if got != nil {
		t.Errorf("thread survived delete: %+v", got)
	}
}

func TestMemoryDirectoryMessages(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	th, _ := d.CreateThread(ctx, "t", "")

	msgs := []ChatMessage{
		{MessageID: "u1", ThreadID: th.ThreadID, Role: "user", Content: "q", Status: "completed"},
		{MessageID: "m1", ThreadID: th.ThreadID, Role: "assistant", Content: "a", Status: "completed"},
	}
	for i := range msgs {
		if err := d.AppendMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	hist, err := d.History(ctx, th.ThreadID)
	if err != nil || len(hist) != 2 {
		t.Fatalf("History = %+v, %v", hist, err)
	}
	got, _ := d.GetThread(ctx, th.ThreadID)
	if got.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", got.MessageCount)
	}

	// 同 id 重复归档覆盖而非追加
	if err := d.AppendMessage(ctx, &ChatMessage{
		MessageID: "m1", ThreadID: th.ThreadID, Role: "assistant", Content: "a2", Status: "completed",
	}); err != nil {
		t.Fatalf("re-append: %v", err)
	}
	hist, _ = d.History(ctx, th.ThreadID)
	if len(hist) != 2 || hist[1].Content != "a2" {
		t.Errorf("history after re-append = %+v", hist)
	}

	if err := d.DeleteMessages(ctx, th.ThreadID, []string{"u1", "ghost"}); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	hist, _ = d.History(ctx, th.ThreadID)
	if len(hist) != 1 || hist[0].MessageID != "m1" {
		t.Errorf("history after delete = %+v", hist)
	}
	got, _ = d.GetThread(ctx, th.ThreadID)
	if got.MessageCount != 1 {
		t.Errorf("message_count = %d, want 1", got.MessageCount)
	}
}

func TestMemoryDirectoryListOrder(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	a, _ := d.CreateThread(ctx, "a", "")
	b, _ := d.CreateThread(ctx, "b", "")

	// 触碰 a 让其排前
	if err := d.AppendMessage(ctx, &ChatMessage{MessageID: "x", ThreadID: a.ThreadID, Role: "user", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	// UpdatedAt 秒级, 手动拉开差距
	d.mu.Lock()
	d.threads[a.ThreadID].UpdatedAt = d.threads[b.ThreadID].UpdatedAt + 10
	d.mu.Unlock()

	list, err := d.ListThreads(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListThreads = %+v, %v", list, err)
	}
	if list[0].ThreadID != a.ThreadID {
		t.Errorf("order = [%s %s], want a first", list[0].ThreadID, list[1].ThreadID)
	}
}
