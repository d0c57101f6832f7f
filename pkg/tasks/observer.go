package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// StaleAfter is how long a task can sit due and un-notified before
// the observer escalates it beyond the due scanner's ordinary reminder
// cadence (original_source/ supplement: the distilled spec only carries
// the due-reminder path, not the stale-escalation path).
const StaleAfter = 24 * time.Hour

// Observer flags prospective tasks that have been due for longer than
// StaleAfter and have never been notified, raising a distinct
// "overdue" notification and, when configured, an operator-facing Slack
// alert (spec §4.11's ObserverBatch, run every 15 minutes per-leader).
type Observer struct {
	Graph    GraphStore
	Notifier Notifier // optional; nil disables the Slack side-channel
}

// Notifier delivers an out-of-band alert for visibility; RecordNotification
// on the graph store remains the durable source of truth regardless of
// whether a Notifier is wired or whether its delivery succeeds.
type Notifier interface {
	NotifyOverdue(ctx context.Context, userID string, task model.ProspectiveTask) error
}

// ScanUser raises an "overdue" notification for every OPEN task due
// more than StaleAfter ago that has never been notified, returning how
// many it escalated.
func (o *Observer) ScanUser(ctx context.Context, userID string, now time.Time) (int, error) {
	stale, err := o.Graph.OpenTasksDueBefore(ctx, userID, now.Add(-StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("tasks: observe user %s: %w", userID, err)
	}
	escalated := 0
	for _, task := range stale {
		if task.NotifiedCount > 0 {
			continue
		}
		msg := fmt.Sprintf("Uzun süredir bekleyen görev: \"%s\"", task.RawText)
		if err := o.Graph.RecordNotification(ctx, task.TaskID, userID, msg, "overdue", now); err != nil {
			return escalated, fmt.Errorf("tasks: escalate task %s: %w", task.TaskID, err)
		}
		if o.Notifier != nil {
			_ = o.Notifier.NotifyOverdue(ctx, userID, task)
		}
		escalated++
	}
	return escalated, nil
}
