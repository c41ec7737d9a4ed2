// Package apiserver 提供本机只读/控制 HTTP API (Gin)。
//
// 面向本地工具与调试界面: 线程目录、实时消息列表、扫描状态、
// 连接状态与透传事件缓冲。对话内容的真实变更仍全部经由事件流。
package apiserver

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/mindgrid/go-chat-v2/internal/scan"
	"github.com/mindgrid/go-chat-v2/internal/session"
	"github.com/mindgrid/go-chat-v2/internal/store"
	"github.com/mindgrid/go-chat-v2/internal/thread"
	"github.com/mindgrid/go-chat-v2/internal/transport"
)

// Deps 聚合全部依赖 (一次注入)。
type Deps struct {
	Registry  *thread.Registry
	Scan      *scan.Tracker
	Transport *transport.Transport
	Directory store.Directory
	Sessions  session.Coordinator
	Feeds     *Feeds
}

// Server 本机 API 服务。
type Server struct {
	router *gin.Engine
	deps   Deps
}

// NewServer 创建服务并注册路由。
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{router: r, deps: deps}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试与启动代码使用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 监听本机端口, 阻塞运行。
func (s *Server) Run(port int) error {
	return s.router.Run(fmt.Sprintf("127.0.0.1:%d", port))
}

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/threads", s.listThreads)
	api.POST("/threads", s.createThread)
	api.DELETE("/threads/:id", s.deleteThread)
	api.POST("/threads/:id/activate", s.activateThread)

	api.GET("/threads/:id/messages", s.listMessages)
	api.GET("/threads/:id/history", s.listHistory)
	api.POST("/threads/:id/messages", s.sendMessage)
	api.POST("/threads/:id/messages/:messageId/cancel", s.cancelMessage)
	api.POST("/threads/:id/session/clear", s.clearSession)

	api.GET("/scan", s.scanState)
	api.POST("/scan", s.startScan)
	api.POST("/scan/search", s.startSearch)
	api.POST("/scan/cancel", s.cancelScan)

	api.GET("/connection", s.connectionState)
	api.POST("/connection/initialize", s.initializeConnection)
	api.POST("/connection/foreground", s.setForeground)

	api.GET("/debug/feed", s.debugFeed)
}
