package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func badGateway(c *gin.Context, err error) {
	c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": gin.H{"code": "backend_request_failed", "message": err.Error()}})
}

func serverError(c *gin.Context, err error) {
	logger.Error("apiserver: internal error", logger.FieldError, err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "服务器内部错误"}})
}
