package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/quarrylabs/quarry/internal/pkg/errcode"
	"github.com/quarrylabs/quarry/internal/pkg/response"
	"github.com/quarrylabs/quarry/internal/service"
)

const defaultTopK = 10

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	KBIDs    []string `json:"kb_ids"`
	Query    string   `json:"query"`
	TopK     int      `json:"top_k"`
	MinScore float64  `json:"min_score"`
}

// SearchKnowledgeBase handles similarity search within one knowledge base.
func (h *SearchHandler) SearchKnowledgeBase(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request body")
		return
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	hits, err := h.search.Search(c.Request.Context(), getTenantID(c), c.Param("kbid"),
		req.Query, req.TopK, req.MinScore)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"hits": hits, "count": len(hits)})
}

// SearchMultiple handles similarity search across several knowledge bases,
// globally ranked.
func (h *SearchHandler) SearchMultiple(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request body")
		return
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	hits, err := h.search.SearchMultiple(c.Request.Context(), getTenantID(c), req.KBIDs,
		req.Query, req.TopK, req.MinScore)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"hits": hits, "count": len(hits)})
}
