package handler

import (
	"errors"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/service"
)

// writeError 把 service 层错误映射为统一响应码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrUnknownProvider),
		errors.Is(err, service.ErrUnknownModel),
		errors.Is(err, service.ErrInvalidJobStatus),
		errors.Is(err, service.ErrJobNotRetryable):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrRepositoryNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrJobPermission),
		errors.Is(err, service.ErrRepositoryPermission):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrJobTerminal):
		response.TerminalError(c, err.Error())
	case errors.Is(err, service.ErrJobConflict),
		errors.Is(err, service.ErrRepositoryConflict):
		response.ConflictError(c, err.Error())
	default:
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		response.ServerError(c, "")
	}
}
