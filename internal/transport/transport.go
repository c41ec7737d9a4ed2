// Package transport 维护到推理后端的唯一长连推送通道。
//
// 进程内只存在一个 Transport 实例, 由启动代码显式构造并注入消费者。
// 收帧 → 容错解码 → 补接收时间戳 → 同步交给 router 分发。
// 断线按指数退避重连 (delay = base·2^(attempt-1)), 尝试耗尽后停在
// 持久断开状态, 需要显式 Initialize() 才会恢复。
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
	apperrors "github.com/mindgrid/go-chat-v2/pkg/errors"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
	"github.com/mindgrid/go-chat-v2/pkg/util"
)

// StatusHandler 连接状态回调。订阅时立即收到一次当前状态。
type StatusHandler func(connected bool)

// Options 传输层参数。
type Options struct {
	URL          string        // ws:// 事件端点
	BaseDelay    time.Duration // 重连退避基数 (参考值 3s)
	MaxAttempts  int           // 重连尝试上限 (参考值 5)
	DialTimeout  time.Duration // 单次握手超时, 零值取 5s
}

func (o *Options) normalize() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 3 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
}

// Transport 进程级唯一的推送事件传输。
type Transport struct {
	opts   Options
	router *router.Router

	mu         sync.Mutex
	conn       *websocket.Conn
	gen        int64 // 连接代数, 使陈旧 readLoop 的断线处理失效
	connected  bool
	exhausted  bool // 重连耗尽, 等待显式 Initialize()
	stopped    bool // Disconnect() 之后
	foreground bool
	fgWake     chan struct{} // 前台恢复信号, 唤醒等待中的重连

	statusSeq  int64
	statusSubs map[int64]StatusHandler
}

// New 创建传输层 (不连接)。
func New(opts Options, r *router.Router) *Transport {
	opts.normalize()
	return &Transport{
		opts:       opts,
		router:     r,
		foreground: true,
		fgWake:     make(chan struct{}, 1),
		statusSubs: make(map[int64]StatusHandler),
	}
}

// Initialize 打开连接。已连接时幂等返回 nil。
//
// 重连耗尽后的持久断开状态也由本方法显式恢复。
func (t *Transport) Initialize() error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.stopped = false
	t.exhausted = false
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	conn, err := t.dial()
	if err != nil {
		return apperrors.Wrap(err, "Transport.Initialize", "dial event endpoint")
	}
	t.adopt(conn, gen)
	return nil
}

func (t *Transport) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.opts.DialTimeout}
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.DialTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(ctx, t.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// adopt 接管新连接: 置连接态、通知观察者、启动读循环。
func (t *Transport) adopt(conn *websocket.Conn, gen int64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	prev := t.conn
	t.conn = conn
	t.connected = true
	t.exhausted = false
	observers := t.statusSnapshotLocked()
	t.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close()
	}
	logger.Info("transport: connected", logger.FieldPath, t.opts.URL)
	notifyAll(observers, true)

	util.SafeGo(func() { t.readLoop(conn, gen) })
}

// readLoop 读帧直到出错。解码失败只丢当前帧, 流继续。
func (t *Transport) readLoop(conn *websocket.Conn, gen int64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.onReadError(gen, err)
			return
		}
		evt, derr := events.DecodeFrame(raw)
		if derr != nil {
			logger.Warn("transport: malformed frame dropped", logger.FieldError, derr)
			continue
		}
		evt.ReceivedAt = time.Now()
		t.router.Dispatch(evt)
	}
}

// onReadError 处理断线: 通知观察者并调度重连。
func (t *Transport) onReadError(gen int64, err error) {
	t.mu.Lock()
	if gen != t.gen || t.stopped {
		// 陈旧连接或已显式断开, 忽略
		t.mu.Unlock()
		return
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.connected = false
	observers := t.statusSnapshotLocked()
	t.mu.Unlock()

	logger.Warn("transport: connection lost", logger.FieldError, err)
	notifyAll(observers, false)

	util.SafeGo(func() { t.reconnect(gen) })
}

// reconnect 按指数退避重试, 仅在前台状态下拨号。
// 前台恢复信号会缩短当前等待, 立即重试。
func (t *Transport) reconnect(gen int64) {
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		delay := reconnectDelay(t.opts.BaseDelay, attempt)
		t.sleepOrWake(delay)

		t.mu.Lock()
		if t.stopped || gen != t.gen || t.connected {
			t.mu.Unlock()
			return
		}
		fg := t.foreground
		t.mu.Unlock()

		if !fg {
			// 后台期间不消耗尝试次数, 等前台恢复信号
			if !t.awaitForeground(gen) {
				return
			}
		}

		conn, err := t.dial()
		if err != nil {
			logger.Warn("transport: reconnect attempt failed",
				logger.FieldAttempt, attempt,
				"max_attempts", t.opts.MaxAttempts,
				logger.FieldError, err,
			)
			continue
		}

		t.mu.Lock()
		if t.stopped || gen != t.gen {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.mu.Unlock()
		t.adopt(conn, gen)
		logger.Info("transport: reconnected", logger.FieldAttempt, attempt)
		return
	}

	t.mu.Lock()
	t.exhausted = true
	t.mu.Unlock()
	logger.Error("transport: reconnect exhausted, explicit Initialize() required",
		"max_attempts", t.opts.MaxAttempts,
	)
}

// sleepOrWake 等待 delay, 前台恢复信号可提前结束等待。
func (t *Transport) sleepOrWake(delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.fgWake:
	}
}

// awaitForeground 阻塞到前台恢复。返回 false 表示连接代已失效。
func (t *Transport) awaitForeground(gen int64) bool {
	for {
		<-t.fgWake
		t.mu.Lock()
		ok := !t.stopped && gen == t.gen && !t.connected
		fg := t.foreground
		t.mu.Unlock()
		if !ok {
			return false
		}
		if fg {
			return true
		}
	}
}

// reconnectDelay 第 attempt 次重试前的退避: base·2^(attempt-1)。
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	return base << (attempt - 1)
}

// SetForeground 更新宿主前后台状态。
// 恢复前台且未连接时, 立即唤醒等待中的重连。
func (t *Transport) SetForeground(fg bool) {
	t.mu.Lock()
	t.foreground = fg
	wake := fg && !t.connected && !t.stopped
	t.mu.Unlock()

	if wake {
		select {
		case t.fgWake <- struct{}{}:
		default:
		}
	}
}

// Disconnect 显式断开并清空全部订阅 (事件订阅与状态观察者)。
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.stopped = true
	t.gen++
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	wasConnected := t.connected
	t.connected = false
	observers := t.statusSnapshotLocked()
	t.statusSubs = make(map[int64]StatusHandler)
	t.mu.Unlock()

	if wasConnected {
		notifyAll(observers, false)
	}
	t.router.Reset()
	logger.Info("transport: disconnected")
}

// Connected 返回当前连接状态。
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Exhausted 返回是否处于重连耗尽后的持久断开状态。
func (t *Transport) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exhausted
}

// ========================================
// 连接状态观察者
// ========================================

// SubscribeToConnectionStatus 注册状态观察者。
//
// 注册时立即同步回调一次当前状态, 之后每次状态变化各回调一次。
// 返回的取消函数幂等。
func (t *Transport) SubscribeToConnectionStatus(h StatusHandler) (unsubscribe func()) {
	t.mu.Lock()
	t.statusSeq++
	id := t.statusSeq
	t.statusSubs[id] = h
	current := t.connected
	t.mu.Unlock()

	if util.SafeCall(func() { h(current) }) {
		logger.Error("transport: status handler panicked on initial callback")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.statusSubs, id)
			t.mu.Unlock()
		})
	}
}

func (t *Transport) statusSnapshotLocked() []StatusHandler {
	observers := make([]StatusHandler, 0, len(t.statusSubs))
	for _, h := range t.statusSubs {
		observers = append(observers, h)
	}
	return observers
}

func notifyAll(observers []StatusHandler, connected bool) {
	for _, h := range observers {
		if util.SafeCall(func() { h(connected) }) {
			logger.Error("transport: status handler panicked", logger.FieldStatus, connected)
		}
	}
}
