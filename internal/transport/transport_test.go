package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
)

// wsServer 测试用推送端: 每个接入连接送入 conns 通道。
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	accepted atomic.Int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 8)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

func testOptions(url string) Options {
	return Options{URL: url, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
}

func TestInitializeAndDispatch(t *testing.T) {
	s := newWSServer(t)
	r := router.New()
	tr := New(testOptions(s.url()), r)
	defer tr.Disconnect()

	got := make(chan events.Event, 1)
	r.Subscribe(events.TypeWildcard, func(evt events.Event) { got <- evt })

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	conn := s.accept(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"content-chunk","threadId":"t1","data":{"delta":"Hi"}}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case evt := <-got:
		if evt.Type != events.TypeContentChunk || evt.ThreadID != "t1" {
			t.Errorf("event = %+v", evt)
		}
		if evt.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatched event")
	}
}

func TestMalformedFrameDroppedStreamContinues(t *testing.T) {
	s := newWSServer(t)
	r := router.New()
	tr := New(testOptions(s.url()), r)
	defer tr.Disconnect()

	got := make(chan events.Event, 2)
	r.Subscribe(events.TypeWildcard, func(evt events.Event) { got <- evt })

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	conn := s.accept(t)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"completed","threadId":"t1","data":{"id":"m1","role":"assistant","content":"x"}}`))

	select {
	case evt := <-got:
		if evt.Type != events.TypeCompleted {
			t.Errorf("first dispatched type = %q, want completed (malformed dropped)", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: stream did not continue after malformed frame")
	}
}

func TestMissingTypeDefaultsUnknown(t *testing.T) {
	s := newWSServer(t)
	r := router.New()
	tr := New(testOptions(s.url()), r)
	defer tr.Disconnect()

	got := make(chan events.Event, 1)
	r.Subscribe(events.TypeWildcard, func(evt events.Event) { got <- evt })

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	conn := s.accept(t)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"x":1}}`))

	select {
	case evt := <-got:
		if evt.Type != events.TypeUnknown {
			t.Errorf("type = %q, want unknown", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestInitializeIdempotent(t *testing.T) {
	s := newWSServer(t)
	tr := New(testOptions(s.url()), router.New())
	defer tr.Disconnect()

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.accept(t)
	if err := tr.Initialize(); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := s.accepted.Load(); n != 1 {
		t.Errorf("connections = %d, want 1 (idempotent while open)", n)
	}
}

func TestStatusImmediateCallback(t *testing.T) {
	s := newWSServer(t)
	tr := New(testOptions(s.url()), router.New())
	defer tr.Disconnect()

	// 未连接时订阅 → 立即回调 false
	first := make(chan bool, 1)
	unsub := tr.SubscribeToConnectionStatus(func(c bool) {
		select {
		case first <- c:
		default:
		}
	})
	select {
	case c := <-first:
		if c {
			t.Error("initial status = true, want false before Initialize")
		}
	default:
		t.Fatal("no immediate callback at subscribe time")
	}
	unsub()

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.accept(t)

	// 已连接时订阅 → 立即回调 true
	second := make(chan bool, 1)
	unsub2 := tr.SubscribeToConnectionStatus(func(c bool) {
		select {
		case second <- c:
		default:
		}
	})
	defer unsub2()
	select {
	case c := <-second:
		if !c {
			t.Error("initial status = false, want true after Initialize")
		}
	default:
		t.Fatal("no immediate callback at subscribe time")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	s := newWSServer(t)
	r := router.New()
	tr := New(testOptions(s.url()), r)
	defer tr.Disconnect()

	statusCh := make(chan bool, 8)
	tr.SubscribeToConnectionStatus(func(c bool) { statusCh <- c })
	<-statusCh // 订阅时的立即回调

	got := make(chan events.Event, 1)
	r.Subscribe(events.TypeWildcard, func(evt events.Event) { got <- evt })

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	conn1 := s.accept(t)
	waitStatus(t, statusCh, true)

	_ = conn1.Close() // 服务端掉线
	waitStatus(t, statusCh, false)

	conn2 := s.accept(t) // 退避后自动重连
	waitStatus(t, statusCh, true)

	_ = conn2.WriteMessage(websocket.TextMessage, []byte(`{"type":"completed","data":{"id":"m1","role":"assistant","content":"back"}}`))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestReconnectExhausted(t *testing.T) {
	s := newWSServer(t)
	tr := New(Options{URL: s.url(), BaseDelay: 5 * time.Millisecond, MaxAttempts: 2}, router.New())

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	conn := s.accept(t)
	s.srv.Close() // 后端彻底不可用
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Exhausted() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !tr.Exhausted() {
		t.Fatal("transport did not reach exhausted state")
	}
	if tr.Connected() {
		t.Error("Connected() = true in exhausted state")
	}
}

func TestDisconnectClearsSubscriptions(t *testing.T) {
	s := newWSServer(t)
	r := router.New()
	tr := New(testOptions(s.url()), r)

	r.Subscribe(events.TypeContentChunk, func(events.Event) {})
	var statusCalls atomic.Int32
	tr.SubscribeToConnectionStatus(func(bool) { statusCalls.Add(1) })

	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.accept(t)
	tr.Disconnect()

	if r.SubscriberCount(events.TypeContentChunk) != 0 {
		t.Error("router subscriptions not cleared on Disconnect")
	}

	before := statusCalls.Load()
	// 断开后再连接/断开不应再触发已清除的观察者
	tr.SetForeground(true)
	time.Sleep(50 * time.Millisecond)
	if statusCalls.Load() != before {
		t.Error("cleared status observer was invoked after Disconnect")
	}
}

func TestBackoffDelaySequence(t *testing.T) {
	base := 3000 * time.Millisecond
	want := []time.Duration{
		3000 * time.Millisecond,
		6000 * time.Millisecond,
		12000 * time.Millisecond,
		24000 * time.Millisecond,
		48000 * time.Millisecond,
	}
	for i, w := range want {
		if got := reconnectDelay(base, i+1); got != w {
			t.Errorf("reconnectDelay(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}

func waitStatus(t *testing.T, ch chan bool, want bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-ch:
			if c == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for status %v", want)
		}
	}
}
