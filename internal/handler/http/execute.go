package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/service"
)

// ExecuteHandler 封装了代码执行代理的 HTTP 处理逻辑
type ExecuteHandler struct {
	execService *service.ExecutionService
}

// NewExecuteHandler 创建 ExecuteHandler 实例
func NewExecuteHandler(execService *service.ExecutionService) *ExecuteHandler {
	if execService == nil {
		panic("ExecutionService cannot be nil for ExecuteHandler")
	}
	return &ExecuteHandler{execService: execService}
}

// ExecuteRequest 定义代码执行请求的结构体
type ExecuteRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
	Input    string `json:"input"`
}

// ExecuteResponse 定义代码执行成功的响应结构体
type ExecuteResponse struct {
	Output string `json:"output"`
	Cached bool   `json:"cached"`
}

// Execute 处理代码执行请求：限流、缓存命中、上游转发。
func (h *ExecuteHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	output, cached, err := h.execService.Execute(c.Request.Context(), c.ClientIP(), req.Code, req.Language, req.Input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"language": req.Language,
		"cached":   cached,
	}).Debug("Code execution served")
	SuccessResponse(c, http.StatusOK, ExecuteResponse{Output: output, Cached: cached})
}
