package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/podworks/podworks/internal/stocktake"
)

// TaskTypeReportNotify delivers a completed stock take report to ops.
const TaskTypeReportNotify = "stocktake:report_ready"

// ReportNotifyPayload identifies the completed session to deliver.
type ReportNotifyPayload struct {
	SessionID string `json:"session_id"`
}

// NewReportNotifyTask constructs an Asynq task for report delivery.
func NewReportNotifyTask(sessionID string) (*asynq.Task, error) {
	body, err := json.Marshal(ReportNotifyPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReportNotify, body, asynq.Queue(QueueDefault)), nil
}

// ReportNotifyJob renders a completed session's report and mails it to ops.
// The session is re-read at handling time so retried tasks always deliver the
// current report and resolution annotations.
type ReportNotifyJob struct {
	Service *stocktake.Service
	Mail    *Client
	To      string
	Logger  *slog.Logger
}

// NewReportNotifyJob wires dependencies for the report delivery handler.
func NewReportNotifyJob(service *stocktake.Service, mail *Client, to string, logger *slog.Logger) *ReportNotifyJob {
	return &ReportNotifyJob{Service: service, Mail: mail, To: to, Logger: logger}
}

// Handle processes TaskTypeReportNotify tasks.
func (j *ReportNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil || j.Mail == nil {
		return errors.New("report notify: handler not configured")
	}
	var payload ReportNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	session, err := j.Service.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, stocktake.ErrSessionNotFound) {
			// Session was cancelled between enqueue and delivery.
			return asynq.SkipRetry
		}
		return err
	}
	text, err := stocktake.RenderReportText(session)
	if err != nil {
		if errors.Is(err, stocktake.ErrReportNotReady) {
			return asynq.SkipRetry
		}
		return err
	}

	if _, err := j.Mail.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      j.To,
		Subject: fmt.Sprintf("Stock take report: %s", session.Name),
		Body:    text,
	}); err != nil {
		return err
	}
	j.logger().Info("report delivery queued", slog.String("session_id", session.ID))
	return nil
}

func (j *ReportNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
