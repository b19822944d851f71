package handler

import (
	"errors"

	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/quarrylabs/quarry/internal/middleware"
	"github.com/quarrylabs/quarry/internal/pkg/errcode"
	"github.com/quarrylabs/quarry/internal/pkg/response"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

func getTenantID(c *gin.Context) string {
	tenantID, ok := c.Get(middleware.ContextTenantIDKey)
	if !ok {
		return ""
	}
	id, _ := tenantID.(string)
	return id
}

func handleError(c *gin.Context, err error) {
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case appErr.IsNotFound(err):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid), appErr.IsConfiguration(err):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case appErr.IsConflict(err):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	case errors.Is(err, appErr.ErrEmbeddingFailure):
		response.Error(c, errcode.ErrAIUnavailable, "embedding provider unavailable")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
