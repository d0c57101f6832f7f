package graphstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// CreateProspectiveTask inserts a new OPEN task (spec §4.4's PROSPECTIVE
// bucket lands here instead of the fact store).
func (s *Store) CreateProspectiveTask(ctx context.Context, userID, rawText, dueAtRaw string, dueAtDT *time.Time) (string, error) {
	id := uuid.NewString()
	err := s.withBreaker(ctx, "create_prospective_task", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO prospective_tasks (task_id, user_id, raw_text, due_at_raw, due_at_dt, status, notified_count)
			VALUES ($1, $2, $3, $4, $5, 'OPEN', 0)`, id, userID, rawText, dueAtRaw, dueAtDT)
		return err
	})
	return id, err
}

// OpenTasksDueBefore returns OPEN tasks whose due_at_dt has passed,
// for the due scanner (pkg/tasks).
func (s *Store) OpenTasksDueBefore(ctx context.Context, userID string, cutoff time.Time) ([]model.ProspectiveTask, error) {
	var out []model.ProspectiveTask
	err := s.withBreaker(ctx, "open_tasks_due_before", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT task_id, user_id, raw_text, due_at_raw, due_at_dt, status,
			       last_notified_at, notified_count
			FROM prospective_tasks
			WHERE user_id = $1 AND status = 'OPEN' AND due_at_dt IS NOT NULL AND due_at_dt < $2`,
			userID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t model.ProspectiveTask
			if err := rows.StructScan(&t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// RecordNotification updates a task's notification bookkeeping and
// inserts the Notification row in one call, matching the 60-minute
// cooldown rule of spec §3's Task lifecycle.
func (s *Store) RecordNotification(ctx context.Context, taskID, userID, message, reason string, now time.Time) error {
	return s.withBreaker(ctx, "record_notification", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			UPDATE prospective_tasks SET last_notified_at = $1, notified_count = notified_count + 1
			WHERE task_id = $2`, now, taskID); err != nil {
			return err
		}

		notifID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, message, type, read, created_at, related_task_id, reason)
			VALUES ($1, $2, $3, 'task_due', false, $4, $5, $6)`,
			notifID, userID, message, now, taskID, reason); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// CooldownElapsed reports whether task's last notification, if any, is
// older than cooldown.
func CooldownElapsed(task model.ProspectiveTask, now time.Time, cooldown time.Duration) bool {
	if task.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*task.LastNotifiedAt) >= cooldown
}

// OpenTasksForUser lists a user's OPEN reminders for GET /api/tasks,
// earliest due first, with undated reminders last.
func (s *Store) OpenTasksForUser(ctx context.Context, userID string) ([]model.ProspectiveTask, error) {
	var out []model.ProspectiveTask
	err := s.withBreaker(ctx, "open_tasks_for_user", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT task_id, user_id, raw_text, due_at_raw, due_at_dt, status,
			       last_notified_at, notified_count
			FROM prospective_tasks
			WHERE user_id = $1 AND status = 'OPEN'
			ORDER BY due_at_dt NULLS LAST`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t model.ProspectiveTask
			if err := rows.StructScan(&t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// MarkTaskDone closes a task for POST /api/tasks/done, scoped to userID
// so a caller can't close another user's reminder.
func (s *Store) MarkTaskDone(ctx context.Context, taskID, userID string) error {
	return s.withBreaker(ctx, "mark_task_done", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE prospective_tasks SET status = 'DONE' WHERE task_id = $1 AND user_id = $2`,
			taskID, userID)
		return err
	})
}

// RecentNotifications lists a user's notifications newest-first for
// GET /api/notifications.
func (s *Store) RecentNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	var out []model.Notification
	err := s.withBreaker(ctx, "recent_notifications", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT id, user_id, message, type, read, created_at, related_task_id, reason
			FROM notifications WHERE user_id = $1
			ORDER BY created_at DESC LIMIT $2`, userID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n model.Notification
			if err := rows.StructScan(&n); err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

// AckNotification marks one notification read for POST
// /api/notifications/ack, scoped to userID.
func (s *Store) AckNotification(ctx context.Context, notificationID, userID string) error {
	return s.withBreaker(ctx, "ack_notification", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`,
			notificationID, userID)
		return err
	})
}
