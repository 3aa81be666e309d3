package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/podworks/podworks/internal/stocktake"
)

// TaskTypeDiscrepancyReminder nudges ops about completed sessions whose
// discrepancies are still awaiting resolution.
const TaskTypeDiscrepancyReminder = "stocktake:discrepancy_reminder"

// DiscrepancyReminderPayload carries scheduling metadata.
type DiscrepancyReminderPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewDiscrepancyReminderTask constructs an Asynq task for the nightly sweep.
func NewDiscrepancyReminderTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(DiscrepancyReminderPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDiscrepancyReminder, body, asynq.Queue(QueueDefault)), nil
}

// DiscrepancyReminderJob sweeps completed sessions older than Age with
// unsettled discrepancies and mails ops a single digest.
type DiscrepancyReminderJob struct {
	Service *stocktake.Service
	Mail    *Client
	To      string
	Age     time.Duration
	Logger  *slog.Logger
}

// NewDiscrepancyReminderJob wires dependencies for the reminder handler.
func NewDiscrepancyReminderJob(service *stocktake.Service, mail *Client, to string, age time.Duration, logger *slog.Logger) *DiscrepancyReminderJob {
	return &DiscrepancyReminderJob{Service: service, Mail: mail, To: to, Age: age, Logger: logger}
}

// Handle processes TaskTypeDiscrepancyReminder tasks.
func (j *DiscrepancyReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil || j.Mail == nil {
		return errors.New("discrepancy reminder: handler not configured")
	}
	var payload DiscrepancyReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	sessions, err := j.Service.ListUnresolved(ctx, j.Age)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		j.logger().Info("no stale discrepancies found")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d completed stock take session(s) still carry unresolved discrepancies:\n\n", len(sessions))
	for _, session := range sessions {
		completed := "unknown"
		if session.CompletedAt != nil {
			completed = session.CompletedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "- %s (%s), completed %s\n", session.Name, session.ID, completed)
	}

	if _, err := j.Mail.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      j.To,
		Subject: fmt.Sprintf("Stock take discrepancies awaiting resolution (%d)", len(sessions)),
		Body:    b.String(),
	}); err != nil {
		return err
	}
	j.logger().Info("discrepancy reminder queued", slog.Int("sessions", len(sessions)))
	return nil
}

func (j *DiscrepancyReminderJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
