package graphstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CorrectionMode selects between the two correct_memory behaviors of
// spec §4.5's closing paragraph.
type CorrectionMode string

const (
	CorrectionRetract CorrectionMode = "RETRACT"
	CorrectionReplace CorrectionMode = "REPLACE"
)

// CorrectMemory retracts every ACTIVE fact matching (userID, subject,
// predicate), recording reason, and — when mode is REPLACE — inserts a
// new fact with attribution=USER_CORRECTION and confidence=1.0. Mirrors
// the original Atlas implementation's correction-audit row (SPEC_FULL.md
// §C).
func (s *Store) CorrectMemory(ctx context.Context, mode CorrectionMode, userID, subject, predicate, object, reason string, now time.Time) error {
	return s.withBreaker(ctx, "correct_memory", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			UPDATE facts SET status = 'RETRACTED', updated_at = $1
			WHERE user_id = $2 AND subject = $3 AND predicate = $4 AND status = 'ACTIVE'`,
			now, userID, subject, predicate); err != nil {
			return err
		}

		if mode == CorrectionReplace && object != "" {
			newID := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entities (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, object); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO facts (id, subject, predicate, object, user_id, confidence,
				                    status, category, created_at, updated_at, attribution)
				VALUES ($1, $2, $3, $4, $5, 1.0, 'ACTIVE', 'personal', $6, $6, 'USER_CORRECTION')
				ON CONFLICT (predicate, user_id, subject, object)
				DO UPDATE SET status = 'ACTIVE', confidence = 1.0, updated_at = $6,
				              attribution = 'USER_CORRECTION'`,
				newID, subject, predicate, object, userID, now); err != nil {
				return err
			}
		}

		auditID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO correction_audit (id, user_id, mode, subject, predicate, object, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			auditID, userID, mode, subject, predicate, object, reason, now); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// ForgetEntity soft-archives every fact touching entity for userID by
// superseding it, per spec §4.8's memory_control "forget_entity"
// operation.
func (s *Store) ForgetEntity(ctx context.Context, userID, entity string, now time.Time) error {
	return s.withBreaker(ctx, "forget_entity", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE facts SET status = 'SUPERSEDED', valid_until = $1, updated_at = $1
			WHERE user_id = $2 AND (subject = $3 OR object = $3) AND status = 'ACTIVE'`,
			now, userID, entity)
		return err
	})
}

// ForgetAll detaches the user's subgraph: it deletes the user's knows
// edges and, with hardDelete false, marks every fact carrying userID
// RETRACTED; those rows keep their user_id. hardDelete true deletes the
// fact rows instead, per spec §4.8's `hard_delete=true` variant, and only
// then does no fact row reference that user_id after the call.
func (s *Store) ForgetAll(ctx context.Context, userID string, hardDelete bool, now time.Time) error {
	return s.withBreaker(ctx, "forget_all", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if hardDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE user_id = $1`, userID); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE facts SET status = 'RETRACTED', updated_at = $1 WHERE user_id = $2`,
				now, userID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM knows_edges WHERE user_id = $1`, userID); err != nil {
			return err
		}
		return tx.Commit()
	})
}
