package router

import (
	"testing"

	"github.com/mindgrid/go-chat-v2/internal/events"
)

func TestSubscribeDispatch(t *testing.T) {
	r := New()
	var got []string
	r.Subscribe("content-chunk", func(evt events.Event) {
		got = append(got, evt.ThreadID)
	})

	r.Dispatch(events.Event{Type: "content-chunk", ThreadID: "t1"})
	r.Dispatch(events.Event{Type: "completed", ThreadID: "t2"}) // 不匹配

	if len(got) != 1 || got[0] != "t1" {
		t.Errorf("got = %v, want [t1]", got)
	}
}

func TestWildcardReceivesAll(t *testing.T) {
	r := New()
	var count int
	r.Subscribe(events.TypeWildcard, func(events.Event) { count++ })

	r.Dispatch(events.Event{Type: "content-chunk"})
	r.Dispatch(events.Event{Type: "completed"})
	r.Dispatch(events.Event{Type: "anything-else"})

	if count != 3 {
		t.Errorf("wildcard received %d, want 3", count)
	}
}

func TestExactBeforeWildcardPerEvent(t *testing.T) {
	r := New()
	var order []string
	r.Subscribe("completed", func(events.Event) { order = append(order, "exact") })
	r.Subscribe(events.TypeWildcard, func(events.Event) { order = append(order, "wild") })

	r.Dispatch(events.Event{Type: "completed"})

	if len(order) != 2 || order[0] != "exact" || order[1] != "wild" {
		t.Errorf("order = %v, want [exact wild]", order)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := New()
	var a, b int
	unsubA := r.Subscribe("x", func(events.Event) { a++ })
	r.Subscribe("x", func(events.Event) { b++ })

	unsubA()
	unsubA() // 第二次调用不得 panic, 不得影响其他订阅者
	r.Dispatch(events.Event{Type: "x"})

	if a != 0 {
		t.Errorf("a = %d, want 0 after unsubscribe", a)
	}
	if b != 1 {
		t.Errorf("b = %d, want 1 (sibling unaffected)", b)
	}
}

func TestResubscribeSameHandlerIsFresh(t *testing.T) {
	r := New()
	var count int
	h := func(events.Event) { count++ }

	unsub1 := r.Subscribe("x", h)
	unsub1()
	unsub2 := r.Subscribe("x", h) // 全新注册
	defer unsub2()

	// 旧的取消函数再次调用不得影响新注册
	unsub1()
	r.Dispatch(events.Event{Type: "x"})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	r := New()
	var after int
	r.Subscribe("x", func(events.Event) { panic("boom") })
	r.Subscribe("x", func(events.Event) { after++ })

	r.Dispatch(events.Event{Type: "x"}) // 不得 panic 到调用方

	if after != 1 {
		t.Errorf("sibling after panicking handler ran %d times, want 1", after)
	}
}

func TestPerSubscriberReceiptOrder(t *testing.T) {
	r := New()
	var seen []string
	r.Subscribe(events.TypeWildcard, func(evt events.Event) {
		seen = append(seen, evt.Type)
	})

	for _, typ := range []string{"a", "b", "c", "d"} {
		r.Dispatch(events.Event{Type: typ})
	}

	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestSubscribeInsideHandler(t *testing.T) {
	// 回调在锁外执行, 回调内 Subscribe 不得死锁
	r := New()
	done := make(chan struct{})
	r.Subscribe("x", func(events.Event) {
		r.Subscribe("y", func(events.Event) {})
		close(done)
	})
	r.Dispatch(events.Event{Type: "x"})
	<-done
	if r.SubscriberCount("y") != 1 {
		t.Error("nested subscribe did not register")
	}
}

func TestReset(t *testing.T) {
	r := New()
	var count int
	r.Subscribe("x", func(events.Event) { count++ })
	r.Reset()
	r.Dispatch(events.Event{Type: "x"})
	if count != 0 {
		t.Errorf("count = %d after Reset, want 0", count)
	}
}
