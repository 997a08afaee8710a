package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/api/middleware"
	"github.com/qs3c/docgen_server/internal/model/dto"
	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/service"
)

type RepositoryHandler struct {
	repositoryService *service.RepositoryService
}

func NewRepositoryHandler(repositoryService *service.RepositoryService) *RepositoryHandler {
	return &RepositoryHandler{
		repositoryService: repositoryService,
	}
}

// Connect 连接仓库
// POST /api/v1/repositories
func (h *RepositoryHandler) Connect(c *gin.Context) {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ConnectRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.repositoryService.Connect(ownerID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "仓库已连接", item)
}

// List GET /api/v1/repositories
func (h *RepositoryHandler) List(c *gin.Context) {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	items, err := h.repositoryService.List(ownerID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"repositories": items})
}

// SetWebhook 开启或关闭 push 自动生成，kind 为空表示关闭
// PUT /api/v1/repositories/:id/webhook
func (h *RepositoryHandler) SetWebhook(c *gin.Context) {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	repositoryID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || repositoryID <= 0 {
		response.ParamError(c, "无效的仓库ID")
		return
	}

	var req dto.SetWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.repositoryService.SetWebhook(ownerID, repositoryID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, item)
}
