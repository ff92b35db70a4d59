package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/service"
)

// HandleServiceError 把 Service 层的哨兵错误映射为 HTTP 状态码。
func HandleServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrRoomNotFound) || errors.Is(err, service.ErrShareNotFound) || errors.Is(err, service.ErrMemberNotFound) {
		ErrorResponse(c, http.StatusNotFound, err.Error())
	} else if errors.Is(err, service.ErrShareExpired) {
		ErrorResponse(c, http.StatusGone, err.Error())
	} else if errors.Is(err, service.ErrShareUnauthorized) {
		ErrorResponse(c, http.StatusUnauthorized, err.Error())
	} else if errors.Is(err, service.ErrInvalidInput) {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	} else if errors.Is(err, service.ErrRateLimited) {
		ErrorResponse(c, http.StatusTooManyRequests, err.Error())
	} else if errors.Is(err, service.ErrExecutionFailed) {
		ErrorResponse(c, http.StatusBadGateway, err.Error())
	} else {
		// 内部错误不向客户端泄露细节
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
