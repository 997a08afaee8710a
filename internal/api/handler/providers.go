package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/service"
)

type ProvidersHandler struct {
	jobService *service.JobService
}

func NewProvidersHandler(jobService *service.JobService) *ProvidersHandler {
	return &ProvidersHandler{jobService: jobService}
}

// List 获取已配置的模型提供方及可选模型
// GET /api/v1/providers
func (h *ProvidersHandler) List(c *gin.Context) {
	response.Success(c, gin.H{
		"providers": h.jobService.Providers(),
	})
}
