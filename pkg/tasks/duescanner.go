// Package tasks implements the prospective-task due scanner and stale
// task observer, the supplemented scheduler features pulled from
// original_source/ that spec.md's distillation only gestured at via the
// Task entity's `last_notified_at`/`notified_count` bookkeeping fields.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// NotificationCooldown is the 60-minute minimum gap between repeat
// reminders for the same task (spec §3 Task lifecycle).
const NotificationCooldown = 60 * time.Minute

// GraphStore is the subset of pkg/graphstore.Store the scanner needs.
type GraphStore interface {
	OpenTasksDueBefore(ctx context.Context, userID string, cutoff time.Time) ([]model.ProspectiveTask, error)
	RecordNotification(ctx context.Context, taskID, userID, message, reason string, now time.Time) error
}

// DueScanner re-notifies OPEN prospective tasks once their due time has
// passed, respecting the per-task cooldown (spec §4.11's DueScannerBatch,
// run every 5 minutes per-leader).
type DueScanner struct {
	Graph GraphStore
}

// ScanUser notifies every due, cooldown-elapsed OPEN task for one user
// and returns how many notifications it sent.
func (d *DueScanner) ScanUser(ctx context.Context, userID string, now time.Time) (int, error) {
	due, err := d.Graph.OpenTasksDueBefore(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("tasks: scan user %s: %w", userID, err)
	}
	sent := 0
	for _, task := range due {
		if !CooldownElapsed(task, now) {
			continue
		}
		msg := fmt.Sprintf("Hatırlatma: \"%s\"", task.RawText)
		if err := d.Graph.RecordNotification(ctx, task.TaskID, userID, msg, "due", now); err != nil {
			return sent, fmt.Errorf("tasks: notify task %s: %w", task.TaskID, err)
		}
		sent++
	}
	return sent, nil
}

// CooldownElapsed reports whether task is eligible for another
// reminder: never notified, or last notified more than
// NotificationCooldown ago.
func CooldownElapsed(task model.ProspectiveTask, now time.Time) bool {
	if task.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*task.LastNotifiedAt) >= NotificationCooldown
}
