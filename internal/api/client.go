// Package api 封装对推理后端的触发类 HTTP 调用。
//
// 所有调用都是 request/response: HTTP 应答只是受理确认,
// 真实效果 (生成内容、扫描进度) 之后以推送事件到达。
// 调用失败以 RequestError 语义上抛给调用方, 不在此层吞掉。
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	apperrors "github.com/mindgrid/go-chat-v2/pkg/errors"
)

// Client 后端触发调用客户端。
type Client struct {
	baseURL string
	httpCli *http.Client
}

// NewClient 创建客户端。timeout 为单请求超时。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpCli: &http.Client{Timeout: timeout},
	}
}

// ========================================
// 请求/响应类型
// ========================================

// SendMessageRequest POST /v1/messages。
type SendMessageRequest struct {
	ThreadID string `json:"threadId"`
	Content  string `json:"content"`
	Model    string `json:"model,omitempty"`
}

// CancelMessageRequest POST /v1/messages/cancel。
type CancelMessageRequest struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

// ScanRequest POST /v1/models/scan 与 /v1/models/search。
type ScanRequest struct {
	Query string `json:"query,omitempty"` // search 专用
}

// ScanResponse 扫描/搜索受理响应, 带 correlation id。
type ScanResponse struct {
	CorrelationID string `json:"correlationId"`
}

// CancelScanRequest POST /v1/models/scan/cancel。
type CancelScanRequest struct {
	CorrelationID string `json:"correlationId"`
}

// GenerateTitleRequest POST /v1/threads/:id/title。
type GenerateTitleRequest struct {
	FirstUserMessage string `json:"firstUserMessage"`
	FirstReply       string `json:"firstReply"`
}

// SessionHistoryRequest POST /v1/session/history — 有状态后端的会话重放。
type SessionHistoryRequest struct {
	ThreadID string           `json:"threadId"`
	Messages []HistoryMessage `json:"messages"`
}

// HistoryMessage 会话重放的单条消息。
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionClearRequest POST /v1/session/clear。
type SessionClearRequest struct {
	ThreadID string `json:"threadId"`
}

// ========================================
// 触发调用
// ========================================

// SendMessage 发送用户消息。受理 ≠ 生效: 内容经由事件流到达。
func (c *Client) SendMessage(req SendMessageRequest) error {
	if req.ThreadID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Client.SendMessage", "threadId required")
	}
	return c.postJSON("/v1/messages", req, nil, http.StatusOK, http.StatusAccepted)
}

// CancelMessage 请求取消生成中的消息。取消是协作式的:
// 本调用返回后, 终态以 cancelled 事件到达。
func (c *Client) CancelMessage(req CancelMessageRequest) error {
	return c.postJSON("/v1/messages/cancel", req, nil, http.StatusOK, http.StatusAccepted)
}

// StartScan 触发本地模型扫描, 返回 correlation id。
func (c *Client) StartScan() (*ScanResponse, error) {
	var result ScanResponse
	if err := c.postJSON("/v1/models/scan", ScanRequest{}, &result, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartSearch 触发远端模型搜索, 返回 correlation id。
func (c *Client) StartSearch(query string) (*ScanResponse, error) {
	var result ScanResponse
	if err := c.postJSON("/v1/models/search", ScanRequest{Query: query}, &result, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelScan 请求取消扫描/搜索。
func (c *Client) CancelScan(correlationID string) error {
	return c.postJSON("/v1/models/scan/cancel", CancelScanRequest{CorrelationID: correlationID}, nil, http.StatusOK, http.StatusAccepted)
}

// GenerateTitle 触发线程标题生成 (首轮对话完成后调用一次)。
func (c *Client) GenerateTitle(threadID string, req GenerateTitleRequest) error {
	if threadID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Client.GenerateTitle", "threadId required")
	}
	return c.postJSON("/v1/threads/"+threadID+"/title", req, nil, http.StatusOK, http.StatusAccepted)
}

// UpdateSessionHistory 向有状态后端推送完整会话历史。
func (c *Client) UpdateSessionHistory(req SessionHistoryRequest) error {
	return c.postJSON("/v1/session/history", req, nil, http.StatusOK)
}

// ClearSession 清空有状态后端的会话上下文。
func (c *Client) ClearSession(threadID string) error {
	return c.postJSON("/v1/session/clear", SessionClearRequest{ThreadID: threadID}, nil, http.StatusOK)
}

// ========================================
// 通用 HTTP helpers
// ========================================

// postJSON POST JSON 请求。out 为 nil 时不解析响应体。
func (c *Client) postJSON(path string, reqBody any, out any, okStatus ...int) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	resp, err := c.httpCli.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrapf(err, "Client.postJSON", "POST %s", path)
	}
	defer resp.Body.Close()
	if !statusOK(resp.StatusCode, okStatus) {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.Newf("Client.postJSON", "POST %s status %d: %s", path, resp.StatusCode, body)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// statusOK 检查状态码是否在允许列表中。
func statusOK(code int, allowed []int) bool {
	for _, ok := range allowed {
		if code == ok {
			return true
		}
	}
	return false
}
