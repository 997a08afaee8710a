package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/api/middleware"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/model/dto"
	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/service"
)

type JobHandler struct {
	jobService *service.JobService
}

func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// Submit 提交文档生成任务
// POST /api/v1/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.jobService.Submit(c.Request.Context(), ownerID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "任务已提交", resp)
}

// List 获取任务列表
// GET /api/v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.jobService.List(ownerID, page, pageSize, status)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Get 获取任务状态
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}

	detail, err := h.jobService.GetStatus(ownerID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, detail)
}

// Cancel 取消任务，运行中的任务在下一个检查点停止
// POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}

	resp, err := h.jobService.Cancel(c.Request.Context(), ownerID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	message := "任务已取消"
	if resp.Status == model.JobStatusRunning {
		message = "已请求取消，任务将在当前步骤结束后停止"
	}
	response.SuccessWithMessage(c, message, resp)
}

// Retry 以相同参数重新提交失败或已取消的任务
// POST /api/v1/jobs/:id/retry
func (h *JobHandler) Retry(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}

	resp, err := h.jobService.Retry(c.Request.Context(), ownerID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "任务已重新提交", resp)
}

// Events 获取任务状态流转记录
// GET /api/v1/jobs/:id/events
func (h *JobHandler) Events(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}

	events, err := h.jobService.Events(ownerID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"events": events})
}

func (h *JobHandler) ownerAndJob(c *gin.Context) (int64, int64, bool) {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		response.AuthError(c, "")
		return 0, 0, false
	}

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || jobID <= 0 {
		response.ParamError(c, "无效的任务ID")
		return 0, 0, false
	}
	return ownerID, jobID, true
}
