// handler.go — 本机 API handlers。
package apiserver

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mindgrid/go-chat-v2/internal/store"
	"github.com/mindgrid/go-chat-v2/pkg/util"
)

// ========================================
// 线程目录
// ========================================

func (s *Server) listThreads(c *gin.Context) {
	items, err := s.deps.Directory.ListThreads(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

type createThreadRequest struct {
	Name       string `json:"name"`
	CustomRole string `json:"customRole"`
}

func (s *Server) createThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	t, err := s.deps.Directory.CreateThread(c.Request.Context(), util.FirstNonEmpty(req.Name, "新对话"), req.CustomRole)
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, t)
}

func (s *Server) deleteThread(c *gin.Context) {
	threadID := c.Param("id")
	if err := s.deps.Directory.DeleteThread(c.Request.Context(), threadID); err != nil {
		serverError(c, err)
		return
	}
	// 目录删除后驱逐内存 reconciler
	s.deps.Registry.Evict(threadID)
	success(c, gin.H{"thread_id": threadID})
}

func (s *Server) activateThread(c *gin.Context) {
	threadID := c.Param("id")
	t, err := s.deps.Directory.GetThread(c.Request.Context(), threadID)
	if err != nil {
		serverError(c, err)
		return
	}
	if t == nil {
		notFound(c, "thread not found")
		return
	}
	s.deps.Registry.SetActiveThread(c.Request.Context(), threadID)
	success(c, t)
}

// ========================================
// 消息
// ========================================

// listMessages 返回 reconciler 的实时消息列表 (内存态)。
func (s *Server) listMessages(c *gin.Context) {
	success(c, gin.H{
		"messages": s.deps.Registry.Messages(c.Param("id")),
		"sending":  s.deps.Registry.Sending(c.Param("id")),
	})
}

// listHistory 返回目录归档的历史 (跨进程存活态)。
func (s *Server) listHistory(c *gin.Context) {
	items, err := s.deps.Directory.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Sync    bool   `json:"sync"` // true 时阻塞到终态或兜底超时
}

func (s *Server) sendMessage(c *gin.Context) {
	threadID := c.Param("id")
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if req.Content == "" {
		badRequest(c, "empty_content", "content is required")
		return
	}

	if req.Sync {
		content, err := s.deps.Registry.SendMessageSync(c.Request.Context(), threadID, req.Content)
		if err != nil {
			badGateway(c, err)
			return
		}
		success(c, gin.H{"content": content})
		return
	}

	messageID, err := s.deps.Registry.SendMessage(threadID, req.Content)
	s.archiveUserMessage(c, threadID, messageID, req.Content)
	if err != nil {
		// 乐观追加的用户消息已保留, 错误面向调用方
		badGateway(c, err)
		return
	}
	accepted(c, gin.H{"message_id": messageID})
}

// archiveUserMessage 用户消息不经事件流, 发送时直接归档。
func (s *Server) archiveUserMessage(c *gin.Context, threadID, messageID, content string) {
	if messageID == "" {
		return
	}
	_ = s.deps.Directory.AppendMessage(c.Request.Context(), &store.ChatMessage{
		MessageID: messageID,
		ThreadID:  threadID,
		Role:      "user",
		Content:   content,
		Status:    "completed",
		CreatedAt: time.Now().Unix(),
	})
}

func (s *Server) cancelMessage(c *gin.Context) {
	err := s.deps.Registry.CancelMessage(c.Param("id"), c.Param("messageId"))
	if err != nil {
		badGateway(c, err)
		return
	}
	accepted(c, gin.H{"message_id": c.Param("messageId")})
}

func (s *Server) clearSession(c *gin.Context) {
	// 会话清空失败在协调器内部消化, 这里总是成功
	s.deps.Sessions.Clear(c.Request.Context(), c.Param("id"))
	success(c, gin.H{"thread_id": c.Param("id")})
}

// ========================================
// 扫描
// ========================================

func (s *Server) scanState(c *gin.Context) {
	success(c, s.deps.Scan.Snapshot())
}

func (s *Server) startScan(c *gin.Context) {
	if err := s.deps.Scan.StartScan(); err != nil {
		badGateway(c, err)
		return
	}
	accepted(c, s.deps.Scan.Snapshot())
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) startSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if err := s.deps.Scan.StartSearch(req.Query); err != nil {
		badGateway(c, err)
		return
	}
	accepted(c, s.deps.Scan.Snapshot())
}

func (s *Server) cancelScan(c *gin.Context) {
	if err := s.deps.Scan.Cancel(); err != nil {
		badRequest(c, "not_cancelable", err.Error())
		return
	}
	accepted(c, s.deps.Scan.Snapshot())
}

// ========================================
// 连接
// ========================================

func (s *Server) connectionState(c *gin.Context) {
	success(c, gin.H{
		"connected": s.deps.Transport.Connected(),
		"exhausted": s.deps.Transport.Exhausted(),
	})
}

func (s *Server) initializeConnection(c *gin.Context) {
	if err := s.deps.Transport.Initialize(); err != nil {
		badGateway(c, err)
		return
	}
	success(c, gin.H{"connected": true})
}

type foregroundRequest struct {
	Foreground bool `json:"foreground"`
}

func (s *Server) setForeground(c *gin.Context) {
	var req foregroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	s.deps.Transport.SetForeground(req.Foreground)
	success(c, gin.H{"foreground": req.Foreground})
}

// ========================================
// 调试透传缓冲
// ========================================

func (s *Server) debugFeed(c *gin.Context) {
	success(c, s.deps.Feeds.Snapshot())
}
