package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/service"
)

// ShareHandler 封装了分享链接相关的 HTTP 处理逻辑
type ShareHandler struct {
	shareService *service.ShareService
}

// NewShareHandler 创建 ShareHandler 实例
func NewShareHandler(shareService *service.ShareService) *ShareHandler {
	if shareService == nil {
		panic("ShareService cannot be nil for ShareHandler")
	}
	return &ShareHandler{shareService: shareService}
}

// CreateShareRequest 定义创建分享链接请求的结构体
type CreateShareRequest struct {
	Code     string `json:"code" binding:"required"`
	Expiry   string `json:"expiry" binding:"required"` // 15min / 1h / 24h / 7d
	Password string `json:"password"`                  // 可选，非空则启用密码保护
}

// CreateShareResponse 定义创建分享链接成功的响应结构体
type CreateShareResponse struct {
	LinkID      string `json:"linkId"`
	IsProtected bool   `json:"isProtected"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// CreateShare 处理创建分享链接的请求
func (h *ShareHandler) CreateShare(c *gin.Context) {
	var req CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	share, err := h.shareService.CreateShare(c.Request.Context(), req.Code, req.Expiry, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"link_id":   share.LinkID,
		"protected": share.IsProtected,
	}).Info("Share link created")
	SuccessResponse(c, http.StatusCreated, CreateShareResponse{
		LinkID:      share.LinkID,
		IsProtected: share.IsProtected,
		ExpiresAt:   share.ExpiresAt.Unix(),
	})
}

// GetShare 处理读取分享链接的请求。
// 受密码保护且未验证时只返回元数据，不返回代码。
func (h *ShareHandler) GetShare(c *gin.Context) {
	linkID := c.Param("linkId")
	accessToken := c.Query("accessToken")

	share, authorized, err := h.shareService.GetShare(c.Request.Context(), linkID, accessToken)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	resp := gin.H{
		"linkId":      share.LinkID,
		"isProtected": share.IsProtected,
		"expiresAt":   share.ExpiresAt.Unix(),
	}
	if authorized {
		resp["code"] = share.Code
	}
	SuccessResponse(c, http.StatusOK, resp)
}

// VerifyShareRequest 定义密码验证请求的结构体
type VerifyShareRequest struct {
	Password string `json:"password" binding:"required"`
}

// VerifyShare 处理分享链接的密码验证请求。
// 验证成功后返回代码和一个短期的访问 token，页面刷新时凭 token 免密读取。
func (h *ShareHandler) VerifyShare(c *gin.Context) {
	linkID := c.Param("linkId")

	var req VerifyShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	code, token, err := h.shareService.VerifyPassword(c.Request.Context(), linkID, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{
		"code":        code,
		"accessToken": token,
	})
}

// ForkShareRequest 定义把分享内容派生为新房间的请求结构体
type ForkShareRequest struct {
	AccessToken string `json:"accessToken"` // 受保护的分享必须携带
}

// ForkShare 把分享的代码派生为一个全新的房间。
func (h *ShareHandler) ForkShare(c *gin.Context) {
	linkID := c.Param("linkId")

	var req ForkShareRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	roomID, err := h.shareService.ForkShare(c.Request.Context(), linkID, req.AccessToken)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"link_id": linkID, "room_id": roomID}).Info("Share forked into new room")
	SuccessResponse(c, http.StatusCreated, gin.H{"roomId": roomID})
}
