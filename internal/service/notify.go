package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
)

// Notifier pushes terminal-state notifications to a configured webhook so
// callers are not forced to poll. Delivery is best-effort: failures are
// logged and never affect the job outcome.
type Notifier struct {
	client *resty.Client
	url    string
}

// NewNotifier builds a Notifier, or nil when no webhook URL is configured.
func NewNotifier(cfg *config.WebhookConfig) *Notifier {
	if cfg == nil || cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Notifier{client: client, url: cfg.URL}
}

type webhookPayload struct {
	TaskID       string           `json:"task_id"`
	FileName     string           `json:"file_name"`
	Status       domain.JobStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// JobFinished posts the terminal state of a job to the webhook.
func (n *Notifier) JobFinished(ctx context.Context, job *domain.Job) {
	if n == nil {
		return
	}
	payload := webhookPayload{
		TaskID:       job.ID,
		FileName:     job.FileName,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID:  job.ID,
		logger.FieldStatus: job.Status,
	})
	if err != nil {
		log.WithError(err).Warn("Webhook notification failed")
		return
	}
	if resp.IsError() {
		log.WithField("http_status", resp.StatusCode()).Warn("Webhook returned error status")
		return
	}
	log.Debug("Webhook notification delivered")
}
