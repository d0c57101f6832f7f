package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/atlasagent/atlas-core/pkg/model"
)

type episodeRow struct {
	EpisodeID      string        `db:"episode_id"`
	SessionID      string        `db:"session_id"`
	UserID         string        `db:"user_id"`
	Kind           string        `db:"kind"`
	Status         string        `db:"status"`
	StartTurnIndex int           `db:"start_turn_index"`
	EndTurnIndex   int           `db:"end_turn_index"`
	Summary        *string       `db:"summary"`
	Embedding      float64Array  `db:"embedding"`
	EmbeddingModel *string       `db:"embedding_model"`
	VectorStatus   string        `db:"vector_status"`
	VectorError    *string       `db:"vector_error"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func (e episodeRow) toModel() model.Episode {
	ep := model.Episode{
		EpisodeID:      e.EpisodeID,
		SessionID:      e.SessionID,
		UserID:         e.UserID,
		Kind:           model.EpisodeKind(e.Kind),
		Status:         model.EpisodeStatus(e.Status),
		StartTurnIndex: e.StartTurnIndex,
		EndTurnIndex:   e.EndTurnIndex,
		VectorStatus:   model.VectorStatus(e.VectorStatus),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	if e.Summary != nil {
		ep.Summary = *e.Summary
	}
	if e.EmbeddingModel != nil {
		ep.EmbeddingModel = *e.EmbeddingModel
	}
	if e.VectorError != nil {
		ep.VectorError = *e.VectorError
	}
	if len(e.Embedding) > 0 {
		ep.Embedding = make([]float32, len(e.Embedding))
		for i, v := range e.Embedding {
			ep.Embedding[i] = float32(v)
		}
	}
	return ep
}

// CreateEpisode inserts a PENDING episode for the turn window
// [startTurn, endTurn], created every EPISODE_WINDOW turns (spec §4.10).
func (s *Store) CreateEpisode(ctx context.Context, sessionID, userID string, kind model.EpisodeKind, startTurn, endTurn int, now time.Time) (string, error) {
	id := uuid.NewString()
	err := s.withBreaker(ctx, "create_episode", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO episodes (episode_id, session_id, user_id, kind, status,
			                       start_turn_index, end_turn_index, vector_status,
			                       created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, 'PENDING', $7, $7)`,
			id, sessionID, userID, kind, startTurn, endTurn, now)
		return err
	})
	return id, err
}

// ClaimPendingEpisode atomically claims one PENDING episode of kind,
// flipping it to IN_PROGRESS, matching spec §4.10 step 1 / §4.11's
// EpisodeWorker. Returns ok=false if none are pending.
func (s *Store) ClaimPendingEpisode(ctx context.Context, kind model.EpisodeKind, now time.Time) (model.Episode, bool, error) {
	var row episodeRow
	var found bool
	err := s.withBreaker(ctx, "claim_pending_episode", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		selectErr := tx.QueryRowxContext(ctx, `
			SELECT episode_id, session_id, user_id, kind, status,
			       start_turn_index, end_turn_index, summary, embedding,
			       embedding_model, vector_status, vector_error, created_at, updated_at
			FROM episodes
			WHERE status = 'PENDING' AND kind = $1
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1`, kind).StructScan(&row)
		if selectErr != nil {
			if errors.Is(selectErr, sql.ErrNoRows) {
				return nil
			}
			return selectErr
		}
		found = true

		_, err = tx.ExecContext(ctx,
			`UPDATE episodes SET status = 'IN_PROGRESS', updated_at = $1 WHERE episode_id = $2`,
			now, row.EpisodeID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil || !found {
		return model.Episode{}, found, err
	}
	return row.toModel(), true, nil
}

// FinalizeEpisode marks the episode's main status and vector substate
// exactly once (spec §8: "always marks the episode READY or FAILED
// exactly once").
func (s *Store) FinalizeEpisode(ctx context.Context, episodeID string, status model.EpisodeStatus, summary string, embedding []float32, embeddingModel string, vectorStatus model.VectorStatus, vectorError string, now time.Time) error {
	emb := make(float64Array, len(embedding))
	for i, v := range embedding {
		emb[i] = float64(v)
	}
	return s.withBreaker(ctx, "finalize_episode", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE episodes SET status = $1, summary = $2, embedding = $3,
			       embedding_model = $4, vector_status = $5, vector_error = $6,
			       updated_at = $7
			WHERE episode_id = $8`,
			status, summary, emb, embeddingModel, vectorStatus, vectorError, now, episodeID)
		return err
	})
}

// TurnsInRange fetches the transcript for an episode window.
func (s *Store) TurnsInRange(ctx context.Context, sessionID string, start, end int) ([]model.Turn, error) {
	var out []model.Turn
	err := s.withBreaker(ctx, "turns_in_range", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT session_id, turn_index, role, content, created_at
			FROM turns WHERE session_id = $1 AND turn_index BETWEEN $2 AND $3
			ORDER BY turn_index ASC`, sessionID, start, end)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t model.Turn
			if err := rows.StructScan(&t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// RegularEpisodesInRange returns READY REGULAR episodes for sessionID
// whose turn window falls within [start, end], ordered chronologically;
// used by the consolidation worker pass to gather source summaries for
// re-summarization (spec §4.10 closing paragraph).
func (s *Store) RegularEpisodesInRange(ctx context.Context, sessionID string, start, end int) ([]model.Episode, error) {
	var out []model.Episode
	err := s.withBreaker(ctx, "regular_episodes_in_range", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT episode_id, session_id, user_id, kind, status,
			       start_turn_index, end_turn_index, summary, embedding,
			       embedding_model, vector_status, vector_error, created_at, updated_at
			FROM episodes
			WHERE session_id = $1 AND kind = 'REGULAR' AND status = 'READY'
			      AND start_turn_index >= $2 AND end_turn_index <= $3
			ORDER BY start_turn_index ASC`, sessionID, start, end)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row episodeRow
			if err := rows.StructScan(&row); err != nil {
				return err
			}
			out = append(out, row.toModel())
		}
		return rows.Err()
	})
	return out, err
}

// ReadyEpisodesForUser returns up to limit READY episodes for userID,
// excluding excludeSessionID, for episodic context retrieval (spec §4.6
// step 5).
func (s *Store) ReadyEpisodesForUser(ctx context.Context, userID, excludeSessionID string, limit int) ([]model.Episode, error) {
	var out []model.Episode
	err := s.withBreaker(ctx, "ready_episodes_for_user", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT episode_id, session_id, user_id, kind, status,
			       start_turn_index, end_turn_index, summary, embedding,
			       embedding_model, vector_status, vector_error, created_at, updated_at
			FROM episodes
			WHERE user_id = $1 AND status = 'READY' AND session_id != $2
			ORDER BY created_at DESC LIMIT $3`, userID, excludeSessionID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row episodeRow
			if err := rows.StructScan(&row); err != nil {
				return err
			}
			out = append(out, row.toModel())
		}
		return rows.Err()
	})
	return out, err
}

// StaleInProgressEpisodes returns IN_PROGRESS episodes whose updated_at
// is older than claimTimeout, for the recovery law in spec §8: a leader
// dying mid-finalization must not strand the episode IN_PROGRESS forever.
func (s *Store) StaleInProgressEpisodes(ctx context.Context, claimTimeout time.Duration, now time.Time) ([]model.Episode, error) {
	var out []model.Episode
	cutoff := now.Add(-claimTimeout)
	err := s.withBreaker(ctx, "stale_in_progress_episodes", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT episode_id, session_id, user_id, kind, status,
			       start_turn_index, end_turn_index, summary, embedding,
			       embedding_model, vector_status, vector_error, created_at, updated_at
			FROM episodes WHERE status = 'IN_PROGRESS' AND updated_at < $1`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row episodeRow
			if err := rows.StructScan(&row); err != nil {
				return err
			}
			out = append(out, row.toModel())
		}
		return rows.Err()
	})
	return out, err
}

// ReclaimStaleEpisode resets a stranded IN_PROGRESS episode back to
// PENDING so the next leader's worker pass picks it up.
func (s *Store) ReclaimStaleEpisode(ctx context.Context, episodeID string, now time.Time) error {
	return s.withBreaker(ctx, "reclaim_stale_episode", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE episodes SET status = 'PENDING', updated_at = $1 WHERE episode_id = $2 AND status = 'IN_PROGRESS'`,
			now, episodeID)
		return err
	})
}

// ConsolidationCandidates returns userID+sessionID groups with W
// consecutive REGULAR episodes older than minAge, for the consolidation
// job (spec §4.10 closing paragraph).
func (s *Store) ConsolidationCandidates(ctx context.Context, minAge time.Duration, windowSize int, now time.Time) ([][]model.Episode, error) {
	cutoff := now.Add(-minAge)
	var flat []episodeRow
	err := s.withBreaker(ctx, "consolidation_candidates", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT episode_id, session_id, user_id, kind, status,
			       start_turn_index, end_turn_index, summary, embedding,
			       embedding_model, vector_status, vector_error, created_at, updated_at
			FROM episodes
			WHERE kind = 'REGULAR' AND status = 'READY' AND created_at < $1
			ORDER BY user_id, session_id, start_turn_index ASC`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row episodeRow
			if err := rows.StructScan(&row); err != nil {
				return err
			}
			flat = append(flat, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	groups := map[string][]model.Episode{}
	order := []string{}
	for _, row := range flat {
		key := row.UserID + "\x00" + row.SessionID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row.toModel())
	}

	var out [][]model.Episode
	for _, key := range order {
		eps := groups[key]
		for len(eps) >= windowSize {
			out = append(out, eps[:windowSize])
			eps = eps[windowSize:]
		}
	}
	return out, nil
}
