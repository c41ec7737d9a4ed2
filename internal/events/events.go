// Package events 定义推送事件信封与各类型化载荷。
//
// 后端每帧的线格式:
//
//	{"type": "...", "data": {...}, "streamId": "...", "workflowId": "...", "threadId": "..."}
//
// 本地收到后补一个接收时间戳。事件只在同步分发期间存活, 不做长期保留。
package events

import (
	"encoding/json"
	"time"
)

// Event 推送事件信封。Data 按 Type 用 Decode() 解出类型化载荷。
type Event struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	StreamID   string          `json:"streamId,omitempty"`
	WorkflowID string          `json:"workflowId,omitempty"`
	ThreadID   string          `json:"threadId,omitempty"`
	ReceivedAt time.Time       `json:"-"` // 本地接收时间, 不在线格式中
}

// ========================================
// 事件类型常量
// ========================================

const (
	// 对话消息生命周期
	TypeContentChunk    = "content-chunk"    // 增量内容片段
	TypeMessageUpdate   = "message-update"   // 权威消息快照 (upsert)
	TypeCompleted       = "completed"        // 终态: 完成
	TypeCancelled       = "cancelled"        // 终态: 已取消
	TypeMessagesDeleted = "messages-deleted" // 消息删除

	// 后台扫描
	TypeScanProgress = "scan-progress"

	// 透传类 (核心之外的简单订阅者消费)
	TypeTokenStats = "token-stats"
	TypeDebugEntry = "debug-entry"
	TypeProcessLog = "process-log"

	// 缺失 type 字段时的兜底
	TypeUnknown = "unknown"

	// 通配订阅
	TypeWildcard = "*"
)

// ========================================
// 消息状态
// ========================================

// Status 消息生命周期状态。processing 可变, 其余为吸收终态。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Terminal 返回状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// ========================================
// 类型化载荷
// ========================================

// ChunkData 增量内容片段。Delta 优先, 部分后端用 Content 字段。
type ChunkData struct {
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
}

// Text 返回片段文本 (delta 优先)。
func (d ChunkData) Text() string {
	if d.Delta != "" {
		return d.Delta
	}
	return d.Content
}

// ToolCall 消息内的工具调用记录。
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult 工具调用结果。
type ToolResult struct {
	CallID  string `json:"callId,omitempty"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// Citation 引用来源。
type Citation struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// MessagePayload 权威消息快照 (message-update / completed 共用)。
type MessagePayload struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Status      Status       `json:"status,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"` // unix 毫秒
	Model       string       `json:"model,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Citations   []Citation   `json:"citations,omitempty"`
}

// CancellationData 单条消息取消。
type CancellationData struct {
	MessageID string `json:"messageId"`
}

// DeletionData 批量消息删除。
type DeletionData struct {
	MessageIDs []string `json:"messageIds"`
}

// ScanStage 扫描阶段。
type ScanStage string

const (
	StageIdle           ScanStage = "idle"
	StageInitializing   ScanStage = "initializing"
	StageFetchingIndex  ScanStage = "fetching-remote-index"
	StageSearching      ScanStage = "searching"
	StageChecking       ScanStage = "checking"
	StageCompleting     ScanStage = "completing"
	StageCompleted      ScanStage = "completed"
	StageError          ScanStage = "error"
	StageScanCancelled  ScanStage = "cancelled"
)

// TerminalStage 返回阶段是否为终态。
func (s ScanStage) TerminalStage() bool {
	switch s {
	case StageCompleted, StageError, StageScanCancelled:
		return true
	}
	return false
}

// ModelHit 扫描/搜索发现的单个模型。
type ModelHit struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	Quant     string `json:"quant,omitempty"`
	Source    string `json:"source,omitempty"`
}

// ScanProgressData 扫描进度 (correlation 约束)。
type ScanProgressData struct {
	CorrelationID string     `json:"correlationId"`
	Stage         ScanStage  `json:"stage"`
	Progress      float64    `json:"progress,omitempty"` // 0-100
	Cancelable    bool       `json:"cancelable,omitempty"`
	Message       string     `json:"message,omitempty"`
	Results       []ModelHit `json:"results,omitempty"` // 终态 completed 时附带
	Error         string     `json:"error,omitempty"`
}

// TokenStatsData token 用量统计 (透传)。
type TokenStatsData struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// DebugEntryData 调试条目 (透传)。
type DebugEntryData struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

// ProcessLogData 后端进程日志行 (透传)。
type ProcessLogData struct {
	Line string `json:"line"`
}
