package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/agentdeck/go-deck-v2/pkg/errors"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// 统一响应辅助, 所有 handler 共用。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.Error("dashboard: internal error",
		logger.FieldPath, c.FullPath(),
		logger.FieldError, err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "服务器内部错误"}})
}

// respondOpError 引擎操作错误分类: not found → 404, 其余 → 400。
func respondOpError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		notFound(c, err.Error())
		return
	}
	badRequest(c, "operation_failed", err.Error())
}
