package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// GetOrCreateUser fetches the user row, creating it with defaultMode as
// its memory mode (matching the teacher's
// upsert-on-first-sight account pattern) if absent.
func (s *Store) GetOrCreateUser(ctx context.Context, userID string, defaultMode model.MemoryMode, now time.Time) (model.User, error) {
	var u struct {
		UserID            string `db:"user_id"`
		MemoryMode        string `db:"memory_mode"`
		Timezone          string `db:"timezone"`
		InternalOnlyAllow bool   `db:"internal_only_allow"`
	}
	err := s.withBreaker(ctx, "get_or_create_user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (user_id, memory_mode, timezone, created_at)
			VALUES ($1, $2, 'UTC', $3)
			ON CONFLICT (user_id) DO NOTHING`, userID, defaultMode, now)
		if err != nil {
			return err
		}
		return s.db.GetContext(ctx, &u, `
			SELECT user_id, memory_mode, timezone, internal_only_allow
			FROM users WHERE user_id = $1`, userID)
	})
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		UserID:            u.UserID,
		MemoryMode:        model.MemoryMode(u.MemoryMode),
		Timezone:          u.Timezone,
		InternalOnlyAllow: u.InternalOnlyAllow,
	}, nil
}

// SetMemoryMode updates a user's policy mode from POST /api/policy.
func (s *Store) SetMemoryMode(ctx context.Context, userID string, mode model.MemoryMode) error {
	return s.withBreaker(ctx, "set_memory_mode", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE users SET memory_mode = $1 WHERE user_id = $2`, mode, userID)
		return err
	})
}

// SetNotificationPref flips one notification_prefs key for POST
// /api/policy, merging into the existing JSONB document rather than
// overwriting it.
func (s *Store) SetNotificationPref(ctx context.Context, userID, prefKey string, enabled bool) error {
	return s.withBreaker(ctx, "set_notification_pref", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE users SET notification_prefs = jsonb_set(notification_prefs, $1::text[], $2::jsonb, true) WHERE user_id = $3`,
			"{"+prefKey+"}", boolJSON(enabled), userID)
		return err
	})
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// UsersOptedInFor returns the user_ids whose notification_prefs JSONB
// has prefKey set to true, used by the scheduler's ObserverBatch and
// DueScannerBatch to scope their per-user fan-out (spec §4.11).
func (s *Store) UsersOptedInFor(ctx context.Context, prefKey string) ([]string, error) {
	var out []string
	err := s.withBreaker(ctx, "users_opted_in_for", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx,
			`SELECT user_id FROM users WHERE (notification_prefs->>$1)::boolean IS TRUE`, prefKey)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}

// GetOrCreateSession fetches the session row, creating a fresh one with
// turn_index=0 and topic "Genel" (spec §4.7 step 1's fresh-process
// default) if absent.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID, userID string, now time.Time) (model.Session, error) {
	var row struct {
		SessionID    string    `db:"session_id"`
		UserID       string    `db:"user_id"`
		TurnIndex    int       `db:"turn_index"`
		Topic        string    `db:"topic"`
		ActiveDomain string    `db:"active_domain"`
		CreatedAt    time.Time `db:"created_at"`
	}
	err := s.withBreaker(ctx, "get_or_create_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, user_id, turn_index, topic, active_domain, created_at, updated_at)
			VALUES ($1, $2, 0, 'Genel', '', $3, $3)
			ON CONFLICT (session_id) DO NOTHING`, sessionID, userID, now)
		if err != nil {
			return err
		}
		return s.db.GetContext(ctx, &row, `
			SELECT session_id, user_id, turn_index, topic, active_domain, created_at
			FROM sessions WHERE session_id = $1`, sessionID)
	})
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{
		SessionID:    row.SessionID,
		UserID:       row.UserID,
		TurnIndex:    row.TurnIndex,
		Topic:        row.Topic,
		ActiveDomain: row.ActiveDomain,
		CreatedAt:    row.CreatedAt,
	}, nil
}

// AppendTurn persists one transcript turn and advances the session's
// turn counter, matching the ordering guarantee of spec §5: "a new turn
// is appended only after its chat request completes transcript
// persistence".
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turnIndex int, role model.TurnRole, content string, now time.Time) error {
	return s.withBreaker(ctx, "append_turn", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, turn_index, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`, sessionID, turnIndex, role, content, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET turn_index = $1, updated_at = $2 WHERE session_id = $3`,
			turnIndex, now, sessionID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// RecentTurns returns the last limit turns for sessionID in chronological
// order, for the Context Builder's transcript layer (spec §4.6 step 5).
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	var out []model.Turn
	err := s.withBreaker(ctx, "recent_turns", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT session_id, turn_index, role, content, created_at
			FROM turns WHERE session_id = $1
			ORDER BY turn_index DESC LIMIT $2`, sessionID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		var desc []model.Turn
		for rows.Next() {
			var t model.Turn
			if err := rows.StructScan(&t); err != nil {
				return err
			}
			desc = append(desc, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = make([]model.Turn, len(desc))
		for i, t := range desc {
			out[len(desc)-1-i] = t
		}
		return nil
	})
	return out, err
}

// UpdateSessionState persists the in-memory topic/active-domain change
// made by the orchestrator (spec §4.7 steps 4/6), keeping the session
// row as the source of truth across process restarts.
func (s *Store) UpdateSessionState(ctx context.Context, sessionID, topic, activeDomain string, now time.Time) error {
	return s.withBreaker(ctx, "update_session_state", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET topic = $1, active_domain = $2, updated_at = $3
			WHERE session_id = $4`, topic, activeDomain, now, sessionID)
		return err
	})
}

// PersistTopicTransition records a HAS_TOPIC edge for sessionID, so a
// fresh process (spec §4.7 step 1) can restore the last detected topic
// instead of defaulting to "Genel" after a restart.
func (s *Store) PersistTopicTransition(ctx context.Context, sessionID, topic string, now time.Time) error {
	return s.withBreaker(ctx, "persist_topic_transition", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO topics (session_id, topic, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id) DO UPDATE SET topic = $2, updated_at = $3`,
			sessionID, topic, now)
		return err
	})
}

// PersistedTopic reads back the HAS_TOPIC edge, used on a fresh process
// to rehydrate session.Topic before the first plan of a restarted
// instance (spec §4.7 step 1).
func (s *Store) PersistedTopic(ctx context.Context, sessionID string) (string, bool, error) {
	var topic string
	var found bool
	err := s.withBreaker(ctx, "persisted_topic", func(ctx context.Context) error {
		row := s.db.QueryRowxContext(ctx, `SELECT topic FROM topics WHERE session_id = $1`, sessionID)
		scanErr := row.Scan(&topic)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}
			return scanErr
		}
		found = true
		return nil
	})
	return topic, found, err
}
