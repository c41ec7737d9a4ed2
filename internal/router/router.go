// Package router 提供进程内事件 fan-out。
//
// 按事件类型字符串精确订阅, 另有 "*" 通配通道接收全部事件。
// 分发是同步的: 一条事件依次投递给所有匹配订阅者后才返回,
// 单个订阅者 panic 被隔离 (记日志), 不影响同级订阅者。
package router

import (
	"sync"

	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
	"github.com/mindgrid/go-chat-v2/pkg/util"
)

// Handler 事件回调。在分发 goroutine 上同步执行, 不得长时间阻塞。
type Handler func(evt events.Event)

type subscription struct {
	id      int64
	handler Handler
}

// Router 事件路由器。由启动代码显式构造一次并注入各消费者。
type Router struct {
	mu   sync.Mutex
	seq  int64
	subs map[string][]*subscription // eventType → 按注册顺序的订阅列表
}

// New 创建路由器。
func New() *Router {
	return &Router{subs: make(map[string][]*subscription)}
}

// Subscribe 注册订阅并返回取消函数。
//
// 取消函数幂等: 重复调用无害。取消后用同一 handler 再次 Subscribe
// 是一次全新注册, 与旧订阅无关联。
func (r *Router) Subscribe(eventType string, h Handler) (unsubscribe func()) {
	r.mu.Lock()
	r.seq++
	sub := &subscription{id: r.seq, handler: h}
	r.subs[eventType] = append(r.subs[eventType], sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(eventType, sub.id) })
	}
}

func (r *Router) remove(eventType string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[eventType]
	for i, sub := range list {
		if sub.id == id {
			r.subs[eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[eventType]) == 0 {
		delete(r.subs, eventType)
	}
}

// Dispatch 同步分发: 先精确类型订阅者, 再通配订阅者, 均按注册顺序。
//
// 锁下仅做快照, 回调在锁外执行 — 回调内允许 Subscribe/unsubscribe。
func (r *Router) Dispatch(evt events.Event) {
	r.mu.Lock()
	exact := r.subs[evt.Type]
	wild := r.subs[events.TypeWildcard]
	targets := make([]*subscription, 0, len(exact)+len(wild))
	targets = append(targets, exact...)
	if evt.Type != events.TypeWildcard {
		targets = append(targets, wild...)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		if util.SafeCall(func() { sub.handler(evt) }) {
			logger.Error("router: subscriber panicked, siblings unaffected",
				logger.FieldEventType, evt.Type,
			)
		}
	}
}

// Reset 移除全部订阅 (传输层断开时调用)。
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string][]*subscription)
}

// SubscriberCount 返回指定类型的订阅者数量。
func (r *Router) SubscriberCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[eventType])
}
