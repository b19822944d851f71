package handler

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quarrylabs/quarry/internal/pkg/errcode"
	"github.com/quarrylabs/quarry/internal/pkg/response"
	"github.com/quarrylabs/quarry/internal/queue"
	"github.com/quarrylabs/quarry/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type DocumentHandler struct {
	documents      *service.DocumentService
	maxUploadBytes int64
}

func NewDocumentHandler(documents *service.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxUploadBytes: maxUploadBytes}
}

// Upload accepts a multipart form with a "file" part plus optional "type"
// and "priority" fields, stores the blob and queues the document for
// processing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	kbID := c.Param("kbid")
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadBytes))
		return
	}
	declaredType := c.PostForm("type")
	if declaredType == "" {
		declaredType = file.Header.Get("Content-Type")
	}
	priority, err := queue.ParsePriority(c.PostForm("priority"))
	if err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	src, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open uploaded file")
		return
	}
	defer src.Close()
	doc, err := h.documents.Upload(c.Request.Context(), getTenantID(c), kbID,
		filepath.Base(file.Filename), declaredType, file.Size, src, priority)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	kbID := c.Param("kbid")
	limit := parseUintQuery(c, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := parseUintQuery(c, "offset", 0)
	docs, err := h.documents.List(c.Request.Context(), getTenantID(c), kbID, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), getTenantID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

type reprocessRequest struct {
	Priority string `json:"priority"`
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	// The body is optional; an empty body means default priority.
	var req reprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request body")
			return
		}
	}
	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	doc, err := h.documents.Reprocess(c.Request.Context(), getTenantID(c), c.Param("id"), priority)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), getTenantID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

func parseUintQuery(c *gin.Context, name string, fallback uint) uint {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return uint(v)
}

func formatUploadLimit(limit int64) string {
	const mb = 1 << 20
	if limit >= mb && limit%mb == 0 {
		return fmt.Sprintf("%dMB", limit/mb)
	}
	return fmt.Sprintf("%d bytes", limit)
}
