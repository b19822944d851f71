package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/quarrylabs/quarry/internal/pkg/errcode"
	"github.com/quarrylabs/quarry/internal/pkg/response"
	"github.com/quarrylabs/quarry/internal/service"
)

type KnowledgeBaseHandler struct {
	kbs *service.KnowledgeBaseService
}

func NewKnowledgeBaseHandler(kbs *service.KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{kbs: kbs}
}

type upsertKnowledgeBaseRequest struct {
	Name string `json:"name"`
}

func (h *KnowledgeBaseHandler) Upsert(c *gin.Context) {
	var req upsertKnowledgeBaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request body")
			return
		}
	}
	kb, err := h.kbs.Upsert(c.Request.Context(), getTenantID(c), c.Param("kbid"), req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, kb)
}

func (h *KnowledgeBaseHandler) Get(c *gin.Context) {
	kb, err := h.kbs.Get(c.Request.Context(), getTenantID(c), c.Param("kbid"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, kb)
}

func (h *KnowledgeBaseHandler) List(c *gin.Context) {
	kbs, err := h.kbs.List(c.Request.Context(), getTenantID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"knowledge_bases": kbs, "count": len(kbs)})
}

func (h *KnowledgeBaseHandler) Delete(c *gin.Context) {
	if err := h.kbs.Delete(c.Request.Context(), getTenantID(c), c.Param("kbid")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}
