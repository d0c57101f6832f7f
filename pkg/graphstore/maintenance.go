package graphstore

import (
	"context"
	"time"
)

// MaintenanceRetention bounds how long each prunable row class survives,
// read by the scheduler's MaintenanceJob (spec §4.11). It has one window
// per class RunMaintenance prunes; expired moods have no window or prune
// step of their own.
type MaintenanceRetention struct {
	Turns               time.Duration
	Episodes            time.Duration
	Notifications       time.Duration
	DoneTasks           time.Duration
	LowImportanceFacts  time.Duration
	MinFactConfidence   float64
}

// DefaultMaintenanceRetention returns the default retention windows for
// RunMaintenance.
func DefaultMaintenanceRetention() MaintenanceRetention {
	return MaintenanceRetention{
		Turns:              90 * 24 * time.Hour,
		Episodes:           180 * 24 * time.Hour,
		Notifications:      30 * 24 * time.Hour,
		DoneTasks:          14 * 24 * time.Hour,
		LowImportanceFacts: 60 * 24 * time.Hour,
		MinFactConfidence:  0.15,
	}
}

// MaintenanceResult reports how many rows each prune step removed, for
// the job's log line.
type MaintenanceResult struct {
	TurnsDeleted         int64
	EpisodesDeleted      int64
	NotificationsDeleted int64
	DoneTasksDeleted     int64
	FactsDeleted         int64
}

// RunMaintenance deletes stale rows across five classes (turns, episodes,
// notifications, done tasks, low-confidence deprecated facts); expired
// moods are not pruned as a class of their own. It runs in dependency order (turns/episodes before the sessions
// they belong to would reference, notifications/tasks independently,
// then low-confidence/expired facts last). It is idempotent: re-running
// it against the same cutoff only ever deletes rows that are still past
// retention.
func (s *Store) RunMaintenance(ctx context.Context, retention MaintenanceRetention, now time.Time) (MaintenanceResult, error) {
	var res MaintenanceResult
	err := s.withBreaker(ctx, "run_maintenance", func(ctx context.Context) error {
		if n, err := s.execRowsAffected(ctx,
			`DELETE FROM turns WHERE created_at < $1`, now.Add(-retention.Turns)); err != nil {
			return err
		} else {
			res.TurnsDeleted = n
		}

		if n, err := s.execRowsAffected(ctx,
			`DELETE FROM episodes WHERE status = 'READY' AND updated_at < $1`, now.Add(-retention.Episodes)); err != nil {
			return err
		} else {
			res.EpisodesDeleted = n
		}

		if n, err := s.execRowsAffected(ctx,
			`DELETE FROM notifications WHERE created_at < $1`, now.Add(-retention.Notifications)); err != nil {
			return err
		} else {
			res.NotificationsDeleted = n
		}

		if n, err := s.execRowsAffected(ctx,
			`DELETE FROM prospective_tasks WHERE status IN ('DONE', 'CLOSED') AND due_at_dt < $1`, now.Add(-retention.DoneTasks)); err != nil {
			return err
		} else {
			res.DoneTasksDeleted = n
		}

		if n, err := s.execRowsAffected(ctx, `
			DELETE FROM facts
			WHERE category IN ('soft_signal', 'personal')
			  AND status = 'DEPRECATED'
			  AND confidence < $1
			  AND updated_at < $2`, retention.MinFactConfidence, now.Add(-retention.LowImportanceFacts)); err != nil {
			return err
		} else {
			res.FactsDeleted = n
		}

		return nil
	})
	return res, err
}

func (s *Store) execRowsAffected(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
