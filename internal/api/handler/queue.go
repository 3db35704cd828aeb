package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wzdavid/mineru-api/internal/service"
)

// QueueHandler serves the queue introspection endpoints.
type QueueHandler struct {
	tasks *service.TaskService
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(tasks *service.TaskService) *QueueHandler {
	return &QueueHandler{tasks: tasks}
}

// Stats returns aggregate queue statistics.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.tasks.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
		"workers": gin.H{
			"active_workers": stats.Workers,
			"active_jobs":    stats.ActiveJobs,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Tasks lists recent jobs, optionally filtered by status.
func (h *QueueHandler) Tasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	jobs, err := h.tasks.ListTasks(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"tasks":     jobs,
		"count":     len(jobs),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
