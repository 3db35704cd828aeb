package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/service"
)

// TaskHandler serves the task submission and lifecycle endpoints.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Submit accepts a multipart upload plus parse options and schedules a job.
func (h *TaskHandler) Submit(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to open upload"})
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read upload"})
		return
	}

	req := &service.SubmitRequest{
		FileName:      fileHeader.Filename,
		Content:       content,
		Backend:       c.PostForm("backend"),
		Lang:          c.PostForm("lang"),
		Method:        c.PostForm("method"),
		FormulaEnable: formBool(c, "formula_enable"),
		TableEnable:   formBool(c, "table_enable"),
		EmbedImages:   formBool(c, "embed_images"),
	}
	if p, err := strconv.Atoi(c.DefaultPostForm("priority", "0")); err == nil {
		req.Priority = p
	}

	job, err := h.tasks.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"task_id":   job.ID,
		"status":    job.Status,
		"file_name": job.FileName,
		"backend":   job.Backend,
		"priority":  job.Priority,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Status reports the current state of a job and, once completed, its result
// content.
func (h *TaskHandler) Status(c *gin.Context) {
	id := c.Param("id")

	res, err := h.tasks.Result(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	job := res.Job

	resp := gin.H{
		"success": true,
		"task": gin.H{
			"task_id":       job.ID,
			"status":        job.Status,
			"file_name":     job.FileName,
			"backend":       job.Backend,
			"priority":      job.Priority,
			"retry_count":   job.RetryCount,
			"error_message": job.ErrorMessage,
			"result_path":   job.ResultPrefix,
			"created_at":    job.CreatedAt,
			"started_at":    job.StartedAt,
			"completed_at":  job.CompletedAt,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if job.Status == domain.JobStatusCompleted {
		resp["markdown_content"] = res.MarkdownContent
		resp["images"] = res.ImageKeys
		if res.ContentList != "" {
			resp["content_list"] = res.ContentList
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel withdraws a pending job.
func (h *TaskHandler) Cancel(c *gin.Context) {
	id := c.Param("id")

	if err := h.tasks.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task_id": id,
		"status":  domain.JobStatusCancelled,
	})
}

// formBool reads an optional boolean form field; absent fields return nil so
// configured defaults apply.
func formBool(c *gin.Context, key string) *bool {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrQueueUnavailable), errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
