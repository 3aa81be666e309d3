package jobs

import (
	"context"
	"errors"

	"github.com/podworks/podworks/internal/stocktake"
)

// Notifier enqueues report delivery when a session completes. It satisfies
// the stocktake notifier port; delivery itself happens on the worker.
type Notifier struct {
	client *Client
}

// NewNotifier constructs a queue-backed completion notifier.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// ReportCompleted enqueues a report delivery task for the session.
func (n *Notifier) ReportCompleted(ctx context.Context, session stocktake.Session) error {
	if n == nil || n.client == nil {
		return errors.New("jobs: notifier not configured")
	}
	_, err := n.client.EnqueueReportNotify(ctx, session.ID)
	return err
}
