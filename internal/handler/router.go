package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quarrylabs/quarry/internal/middleware"
)

type RouterDeps struct {
	KnowledgeBases *KnowledgeBaseHandler
	Documents      *DocumentHandler
	Search         *SearchHandler
	Queue          *QueueHandler
	JWTSecret      []byte
	// UploadRateWindow throttles repeat uploads per tenant+IP when > 0.
	UploadRateWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.TenantAuth(deps.JWTSecret))

	authGroup.PUT("/kb/:kbid", deps.KnowledgeBases.Upsert)
	authGroup.GET("/kb", deps.KnowledgeBases.List)
	authGroup.GET("/kb/:kbid", deps.KnowledgeBases.Get)
	authGroup.DELETE("/kb/:kbid", deps.KnowledgeBases.Delete)

	uploadHandlers := []gin.HandlerFunc{deps.Documents.Upload}
	if deps.UploadRateWindow > 0 {
		uploadHandlers = append([]gin.HandlerFunc{middleware.RateLimit(deps.UploadRateWindow)}, uploadHandlers...)
	}
	authGroup.POST("/kb/:kbid/documents", uploadHandlers...)
	authGroup.GET("/kb/:kbid/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.POST("/documents/:id/reprocess", deps.Documents.Reprocess)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)

	authGroup.POST("/kb/:kbid/search", deps.Search.SearchKnowledgeBase)
	authGroup.POST("/search", deps.Search.SearchMultiple)

	authGroup.GET("/queue/status", deps.Queue.Status)
}
