package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/api/middleware"
	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/service"
)

const eventHeader = "X-GitHub-Event"

type WebhookHandler struct {
	webhookService *service.WebhookService
}

func NewWebhookHandler(webhookService *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// GitHub 处理已验签的仓库事件
// POST /api/v1/webhooks/github
func (h *WebhookHandler) GitHub(c *gin.Context) {
	event := c.GetHeader(eventHeader)
	if event == "" {
		response.ParamError(c, "缺少事件类型")
		return
	}

	result, err := h.webhookService.HandleEvent(c.Request.Context(), event, middleware.GetRawBody(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}
