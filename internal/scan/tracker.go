// Package scan 跟踪长时后台发现操作 (模型扫描/搜索) 的进度。
//
// 与消息调和同一套传输/路由模式: start 打开专属进度订阅、发触发请求、
// 记录响应返回的 correlation id; 之后的进度事件按该 id 校验,
// 陈旧 id (被替代操作的残留) 一律忽略。任意终态确定性拆除订阅,
// 重复扫描不泄漏订阅。
package scan

import (
	"sync"

	"github.com/mindgrid/go-chat-v2/internal/api"
	"github.com/mindgrid/go-chat-v2/internal/events"
	"github.com/mindgrid/go-chat-v2/internal/router"
	apperrors "github.com/mindgrid/go-chat-v2/pkg/errors"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

// Starter 扫描触发调用面。*api.Client 满足本接口。
type Starter interface {
	StartScan() (*api.ScanResponse, error)
	StartSearch(query string) (*api.ScanResponse, error)
	CancelScan(correlationID string) error
}

// State 跟踪器状态快照。
type State struct {
	CorrelationID string
	Stage         events.ScanStage
	Progress      float64
	Cancelable    bool
	Message       string
	Error         string
	Results       []events.ModelHit
}

// Tracker 扫描进度跟踪器。每个界面面至多一个活动实例。
type Tracker struct {
	router  *router.Router
	trigger Starter

	mu            sync.Mutex
	stage         events.ScanStage
	correlationID string
	progress      float64
	cancelable    bool
	message       string
	lastError     string
	searching     bool // 当前操作是否为搜索 (结果缓存仅搜索替换)
	results       []events.ModelHit
	unsub         func()
}

// New 创建跟踪器, 初始 idle。
func New(r *router.Router, trigger Starter) *Tracker {
	return &Tracker{router: r, trigger: trigger, stage: events.StageIdle}
}

// StartScan 启动本地模型扫描。
func (t *Tracker) StartScan() error {
	return t.start(false, "")
}

// StartSearch 启动远端模型搜索。
func (t *Tracker) StartSearch(query string) error {
	return t.start(true, query)
}

// start 进入 initializing, 打开进度订阅, 发触发请求并记录 correlation id。
//
// 订阅先于请求打开, 但 id 未知前到达的事件按陈旧处理 — 进度事件
// 只在 id 匹配时生效。
func (t *Tracker) start(search bool, query string) error {
	t.mu.Lock()
	if t.stage != events.StageIdle && !t.stage.TerminalStage() {
		t.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Tracker.start", "scan already in progress")
	}
	t.stage = events.StageInitializing
	t.correlationID = ""
	t.progress = 0
	t.cancelable = false
	t.message = ""
	t.lastError = ""
	t.searching = search
	t.teardownLocked()
	t.unsub = t.router.Subscribe(events.TypeScanProgress, t.onProgress)
	t.mu.Unlock()

	var resp *api.ScanResponse
	var err error
	if search {
		resp, err = t.trigger.StartSearch(query)
	} else {
		resp, err = t.trigger.StartScan()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.stage = events.StageError
		t.lastError = err.Error()
		t.teardownLocked()
		return apperrors.Wrap(err, "Tracker.start", "trigger call failed")
	}
	t.correlationID = resp.CorrelationID
	logger.Info("scan: started",
		logger.FieldCorrelationID, resp.CorrelationID,
		"search", search,
	)
	return nil
}

// Cancel 请求取消当前操作。
//
// 仅在 cancelable 时允许; 发出取消请求的同时乐观地立即翻到 cancelled,
// 不等后端自己的终态事件 (该事件到达时订阅已拆除, 不再引起状态变化)。
func (t *Tracker) Cancel() error {
	t.mu.Lock()
	if !t.cancelable || t.stage.TerminalStage() {
		t.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrNotCancelable, "Tracker.Cancel", "operation not cancelable")
	}
	id := t.correlationID
	t.stage = events.StageScanCancelled
	t.cancelable = false
	t.teardownLocked()
	t.mu.Unlock()

	if err := t.trigger.CancelScan(id); err != nil {
		// 本地已是 cancelled, 请求失败只上抛不回滚
		return apperrors.Wrap(err, "Tracker.Cancel", "cancel request failed")
	}
	return nil
}

// onProgress 进度事件: correlation 校验 → 应用 → 终态时拆订阅。
func (t *Tracker) onProgress(evt events.Event) {
	payload, err := events.Decode(evt)
	if err != nil {
		logger.Warn("scan: undecodable progress event dropped", logger.FieldError, err)
		return
	}
	d := payload.(events.ScanProgressData)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.correlationID == "" || d.CorrelationID != t.correlationID {
		logger.Debug("scan: stale progress event ignored",
			logger.FieldCorrelationID, d.CorrelationID,
		)
		return
	}
	if t.stage.TerminalStage() {
		return
	}

	t.stage = d.Stage
	t.progress = d.Progress
	t.cancelable = d.Cancelable
	t.message = d.Message

	if !d.Stage.TerminalStage() {
		return
	}
	switch d.Stage {
	case events.StageCompleted:
		if t.searching {
			// 搜索完成: 结果原子替换缓存, 不合并
			t.results = d.Results
		}
	case events.StageError:
		t.lastError = d.Error
	}
	t.cancelable = false
	t.teardownLocked()
	logger.Info("scan: finished",
		logger.FieldCorrelationID, d.CorrelationID,
		logger.FieldStage, string(d.Stage),
		logger.FieldCount, len(d.Results),
	)
}

// teardownLocked 幂等拆除进度订阅。调用方持锁。
func (t *Tracker) teardownLocked() {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}

// Snapshot 返回当前状态的值拷贝。
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	results := make([]events.ModelHit, len(t.results))
	copy(results, t.results)
	return State{
		CorrelationID: t.correlationID,
		Stage:         t.stage,
		Progress:      t.progress,
		Cancelable:    t.cancelable,
		Message:       t.message,
		Error:         t.lastError,
		Results:       results,
	}
}
