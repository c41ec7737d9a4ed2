package archive

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
	"github.com/mindgrid/go-chat-v2/internal/store"
)

func dispatch(r *router.Router, typ, threadID string, data any) {
	raw, _ := json.Marshal(data)
	r.Dispatch(events.Event{Type: typ, ThreadID: threadID, Data: raw})
}

func TestRecorderArchivesCompleted(t *testing.T) {
	r := router.New()
	dir := store.NewMemoryDirectory()
	rec := NewRecorder(r, dir)
	rec.Start()
	defer rec.Stop()

	th, _ := dir.CreateThread(context.Background(), "t", "")
	dispatch(r, events.TypeCompleted, th.ThreadID, events.MessagePayload{
		ID: "m1", Role: "assistant", Content: "answer", Model: "llama-3",
	})

	hist, err := dir.History(context.Background(), th.ThreadID)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	m := hist[0]
	if m.MessageID != "m1" || m.Content != "answer" || m.Status != "completed" || m.Model != "llama-3" {
		t.Errorf("archived = %+v", m)
	}
}

func TestRecorderDuplicateCompletionOverwrites(t *testing.T) {
	r := router.New()
	dir := store.NewMemoryDirectory()
	rec := NewRecorder(r, dir)
	rec.Start()
	defer rec.Stop()

	th, _ := dir.CreateThread(context.Background(), "t", "")
	dispatch(r, events.TypeCompleted, th.ThreadID, events.MessagePayload{ID: "m1", Content: "v1"})
	dispatch(r, events.TypeCompleted, th.ThreadID, events.MessagePayload{ID: "m1", Content: "v2"})

	hist, _ := dir.History(context.Background(), th.ThreadID)
	if len(hist) != 1 || hist[0].Content != "v2" {
		t.Errorf("history = %+v, want single m1 with v2", hist)
	}
}

func TestRecorderMirrorsDeletion(t *testing.T) {
	r := router.New()
	dir := store.NewMemoryDirectory()
	rec := NewRecorder(r, dir)
	rec.Start()
	defer rec.Stop()

	th, _ := dir.CreateThread(context.Background(), "t", "")
	dispatch(r, events.TypeCompleted, th.ThreadID, events.MessagePayload{ID: "m1", Content: "a"})
	dispatch(r, events.TypeCompleted, th.ThreadID, events.MessagePayload{ID: "m2", Content: "b"})
	dispatch(r, events.TypeMessagesDeleted, th.ThreadID, events.DeletionData{MessageIDs: []string{"m1"}})

	hist, _ := dir.History(context.Background(), th.ThreadID)
	if len(hist) != 1 || hist[0].MessageID != "m2" {
		t.Errorf("history = %+v, want only m2", hist)
	}
}

func TestRecorderIgnoresEventsWithoutThread(t *testing.T) {
	r := router.New()
	dir := store.NewMemoryDirectory()
	rec := NewRecorder(r, dir)
	rec.Start()
	defer rec.Stop()

	dispatch(r, events.TypeCompleted, "", events.MessagePayload{ID: "m1", Content: "a"})
	// 无线程归属的事件静默跳过, 无 panic 即通过
}
