package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/quarrylabs/quarry/internal/pkg/response"
	"github.com/quarrylabs/quarry/internal/queue"
)

type QueueHandler struct {
	dispatcher queue.Dispatcher
}

func NewQueueHandler(dispatcher queue.Dispatcher) *QueueHandler {
	return &QueueHandler{dispatcher: dispatcher}
}

func (h *QueueHandler) Status(c *gin.Context) {
	status, err := h.dispatcher.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}
