package graphstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// SubjectPredicate identifies an EXCLUSIVE-cardinality lookup key.
type SubjectPredicate struct {
	Subject   string
	Predicate string
}

// ActiveExclusiveFacts batch-fetches the currently ACTIVE fact for every
// (subject, predicate) pair in pairs, for one call to satisfy the
// lifecycle engine's "batch-fetch existing ACTIVE relations for these
// pairs in one query" requirement (spec §4.5 step 1).
func (s *Store) ActiveExclusiveFacts(ctx context.Context, userID string, pairs []SubjectPredicate) (map[SubjectPredicate]model.Fact, error) {
	if len(pairs) == 0 {
		return map[SubjectPredicate]model.Fact{}, nil
	}

	subjects := make([]string, 0, len(pairs))
	predicates := make([]string, 0, len(pairs))
	seen := map[string]bool{}
	for _, p := range pairs {
		key := p.Subject + "\x00" + p.Predicate
		if seen[key] {
			continue
		}
		seen[key] = true
		subjects = append(subjects, p.Subject)
		predicates = append(predicates, p.Predicate)
	}

	query := `
		SELECT id, subject, predicate, object, user_id, confidence, status,
		       category, cardinality, created_at, updated_at, source_turn_id_first,
		       source_turn_id_last, valid_until, superseded_by_turn_id, attribution
		FROM facts
		WHERE user_id = $1 AND status = 'ACTIVE'
		  AND (subject, predicate) = ANY (
		      SELECT UNNEST($2::text[]), UNNEST($3::text[])
		  )`

	out := map[SubjectPredicate]model.Fact{}
	err := s.withBreaker(ctx, "active_exclusive_facts", func(ctx context.Context) error {
		rows, queryErr := s.db.QueryxContext(ctx, query, userID, subjects, predicates)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			var f factRow
			if scanErr := rows.StructScan(&f); scanErr != nil {
				return scanErr
			}
			fact := f.toModel()
			out[SubjectPredicate{Subject: fact.Subject, Predicate: fact.Predicate}] = fact
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// factRow is the sqlx scan target for the facts table.
type factRow struct {
	ID                  string     `db:"id"`
	Subject             string     `db:"subject"`
	Predicate           string     `db:"predicate"`
	Object              string     `db:"object"`
	UserID              string     `db:"user_id"`
	Confidence          float64    `db:"confidence"`
	Status              string     `db:"status"`
	Category            string     `db:"category"`
	Cardinality         string     `db:"cardinality"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	SourceTurnIDFirst   *string    `db:"source_turn_id_first"`
	SourceTurnIDLast    *string    `db:"source_turn_id_last"`
	ValidUntil          *time.Time `db:"valid_until"`
	SupersededByTurnID  *string    `db:"superseded_by_turn_id"`
	Attribution         *string    `db:"attribution"`
}

func (f factRow) toModel() model.Fact {
	fact := model.Fact{
		ID:          f.ID,
		Subject:     f.Subject,
		Predicate:   f.Predicate,
		Object:      f.Object,
		UserID:      f.UserID,
		Confidence:  f.Confidence,
		Status:      model.FactStatus(f.Status),
		Category:    model.FactCategory(f.Category),
		Cardinality: model.Cardinality(f.Cardinality),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
		ValidUntil:  f.ValidUntil,
	}
	if f.SourceTurnIDFirst != nil {
		fact.SourceTurnIDFirst = *f.SourceTurnIDFirst
	}
	if f.SourceTurnIDLast != nil {
		fact.SourceTurnIDLast = *f.SourceTurnIDLast
	}
	if f.SupersededByTurnID != nil {
		fact.SupersededByTurnID = *f.SupersededByTurnID
	}
	if f.Attribution != nil {
		fact.Attribution = *f.Attribution
	}
	return fact
}

// SupersedeOp marks one existing ACTIVE fact SUPERSEDED.
type SupersedeOp struct {
	FactID             string
	Now                time.Time
	SupersededByTurnID string
}

// SupersedeBatch applies every supersede operation in a single batch
// write (spec §4.5 step 3), never leaving a half-applied supersede set.
func (s *Store) SupersedeBatch(ctx context.Context, ops []SupersedeOp) error {
	if len(ops) == 0 {
		return nil
	}
	return s.withBreaker(ctx, "supersede_batch", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt := `UPDATE facts SET status = 'SUPERSEDED', valid_until = $1,
		         superseded_by_turn_id = $2, updated_at = $1
		         WHERE id = $3 AND status = 'ACTIVE'`
		for _, op := range ops {
			if _, execErr := tx.ExecContext(ctx, stmt, op.Now, op.SupersededByTurnID, op.FactID); execErr != nil {
				return execErr
			}
		}
		return tx.Commit()
	})
}

// MarkConflicted flips one fact to CONFLICTED, per spec §4.5's
// coexist-pending-clarification branch. The lifecycle engine calls it for
// the existing fact and writes the incoming fact as CONFLICTED itself.
func (s *Store) MarkConflicted(ctx context.Context, factID string, now time.Time) error {
	return s.withBreaker(ctx, "mark_conflicted", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE facts SET status = 'CONFLICTED', updated_at = $1 WHERE id = $2`,
			now, factID)
		return err
	})
}

// WriteFact is the MERGE-shaped upsert on the composite key
// (predicate, user_id, subject, object): ON CREATE initializes
// provenance, ON MATCH refreshes last-seen metadata without downgrading
// confidence (spec §4.5, "write layer merges").
type WriteFact struct {
	Subject      string
	Predicate    string
	Object       string
	UserID       string
	Confidence   float64
	Status       model.FactStatus
	Category     model.FactCategory
	Cardinality  model.Cardinality
	SourceTurnID string
	Attribution  string
	Now          time.Time
}

// Write upserts one fact and ensures the Entity nodes and the
// User-[KNOWS]->Entity edges for both endpoints exist (spec §4.5,
// closing sentence).
func (s *Store) Write(ctx context.Context, w WriteFact) (string, error) {
	var id string
	err := s.withBreaker(ctx, "write_fact", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, entity := range []string{w.Subject, w.Object} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entities (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, entity); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO knows_edges (user_id, entity) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				w.UserID, entity); err != nil {
				return err
			}
		}

		newID := uuid.NewString()
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO facts (id, subject, predicate, object, user_id, confidence,
			                    status, category, cardinality, created_at, updated_at,
			                    source_turn_id_first, source_turn_id_last, attribution)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11, $11, $12)
			ON CONFLICT (predicate, user_id, subject, object)
			DO UPDATE SET
				updated_at = $10,
				source_turn_id_last = $11,
				confidence = GREATEST(facts.confidence, EXCLUDED.confidence),
				status = CASE WHEN facts.status = 'CONFLICTED' THEN facts.status ELSE EXCLUDED.status END
			RETURNING id`,
			newID, w.Subject, w.Predicate, w.Object, w.UserID, w.Confidence,
			w.Status, w.Category, w.Cardinality, w.Now, w.SourceTurnID, w.Attribution)

		if err := row.Scan(&id); err != nil {
			return err
		}
		return tx.Commit()
	})
	return id, err
}

// IdentityFacts returns ACTIVE facts from the user's anchor whose
// category is "identity", for context-builder injection.
func (s *Store) IdentityFacts(ctx context.Context, userID, anchor string) ([]model.Fact, error) {
	return s.queryFacts(ctx, "identity_facts", `
		SELECT id, subject, predicate, object, user_id, confidence, status,
		       category, cardinality, created_at, updated_at, source_turn_id_first,
		       source_turn_id_last, valid_until, superseded_by_turn_id, attribution
		FROM facts
		WHERE user_id = $1 AND subject = $2 AND status = 'ACTIVE' AND category = 'identity'
		ORDER BY updated_at DESC`, userID, anchor)
}

// HardFacts returns ACTIVE, non-identity, EXCLUSIVE-cardinality facts
// (spec §4.6 step 5's "### Sert Gerçekler" bucket). Cardinality, not
// category, decides hard vs. soft: a high-confidence ADDITIVE personal
// fact is a soft signal even though its category never got demoted to
// soft_signal by the sanitizer.
func (s *Store) HardFacts(ctx context.Context, userID string, limit int) ([]model.Fact, error) {
	return s.queryFacts(ctx, "hard_facts", `
		SELECT id, subject, predicate, object, user_id, confidence, status,
		       category, cardinality, created_at, updated_at, source_turn_id_first,
		       source_turn_id_last, valid_until, superseded_by_turn_id, attribution
		FROM facts
		WHERE user_id = $1 AND status = 'ACTIVE' AND category != 'identity' AND cardinality = 'EXCLUSIVE'
		ORDER BY updated_at DESC LIMIT $2`, userID, limit)
}

// SoftSignals returns ACTIVE ADDITIVE/TEMPORAL-cardinality facts (spec
// §4.6 step 5's "### Yumuşak Sinyaller" bucket), plus any fact the
// sanitizer demoted to the soft_signal category outright regardless of
// cardinality.
func (s *Store) SoftSignals(ctx context.Context, userID string, limit int) ([]model.Fact, error) {
	return s.queryFacts(ctx, "soft_signals", `
		SELECT id, subject, predicate, object, user_id, confidence, status,
		       category, cardinality, created_at, updated_at, source_turn_id_first,
		       source_turn_id_last, valid_until, superseded_by_turn_id, attribution
		FROM facts
		WHERE user_id = $1 AND status = 'ACTIVE'
		  AND (cardinality IN ('ADDITIVE', 'TEMPORAL') OR category = 'soft_signal')
		ORDER BY updated_at DESC LIMIT $2`, userID, limit)
}

// ActiveConflicts returns CONFLICTED edges for open-questions reporting.
func (s *Store) ActiveConflicts(ctx context.Context, userID string, limit int) ([]model.Fact, error) {
	return s.queryFacts(ctx, "active_conflicts", `
		SELECT id, subject, predicate, object, user_id, confidence, status,
		       category, cardinality, created_at, updated_at, source_turn_id_first,
		       source_turn_id_last, valid_until, superseded_by_turn_id, attribution
		FROM facts
		WHERE user_id = $1 AND status = 'CONFLICTED'
		ORDER BY updated_at DESC LIMIT $2`, userID, limit)
}

func (s *Store) queryFacts(ctx context.Context, op, query string, args ...interface{}) ([]model.Fact, error) {
	var out []model.Fact
	err := s.withBreaker(ctx, op, func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f factRow
			if err := rows.StructScan(&f); err != nil {
				return err
			}
			out = append(out, f.toModel())
		}
		return rows.Err()
	})
	return out, err
}

// RecurrenceExists backs memgate.RecurrenceChecker: true iff an
// identical ACTIVE (subject, predicate, object, user_id) fact exists.
func (s *Store) RecurrenceExists(ctx context.Context, subject, predicate, object, userID string) (bool, error) {
	var exists bool
	err := s.withBreaker(ctx, "recurrence_exists", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &exists, `
			SELECT EXISTS(
				SELECT 1 FROM facts
				WHERE subject = $1 AND predicate = $2 AND object = $3
				  AND user_id = $4 AND status = 'ACTIVE'
			)`, subject, predicate, object, userID)
	})
	return exists, err
}
