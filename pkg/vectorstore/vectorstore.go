// Package vectorstore implements the Vector Store (C8): per-user
// filtered episode vectors. The pack carries no Qdrant/pgvector driver,
// so this is modeled atop the same Postgres connection as the graph
// store (SPEC_FULL.md §D), with an in-Go cosine similarity fallback —
// the seam a real vector database would occupy.
package vectorstore

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// namespaceDNS mirrors the uuid5(DNS, episode_id) point-id derivation of
// spec §5 ("upserts are idempotent on point_id = uuid5(DNS, episode_id)").
var namespaceDNS = uuid.NameSpaceDNS

// PointID derives the idempotent vector point id for an episode.
func PointID(episodeID string) string {
	return uuid.NewSHA1(namespaceDNS, []byte(episodeID)).String()
}

// Point is one stored vector with its payload, matching spec §4.10's
// `{episode_id, user_id, session_id, text, timestamp}` payload shape.
type Point struct {
	PointID   string
	EpisodeID string
	UserID    string
	SessionID string
	Text      string
	Timestamp time.Time
	Embedding []float32
}

// Store is the vector store handle.
type Store struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
}

// New builds a Store over the shared Postgres connection.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "vectorstore"}),
	}
}

func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return sharederrors.Classify(sharederrors.KindVectorStoreDegraded, sharederrors.FailedTo(op, err))
	}
	if err != nil {
		return sharederrors.Classify(sharederrors.KindVectorStoreDegraded, sharederrors.FailedTo(op, err))
	}
	return nil
}

// Upsert idempotently stores a point, keyed by PointID(p.EpisodeID). A
// failure here is always VectorStoreDegraded: episodes still reach
// READY (spec §4.10 step 4 / §7).
func (s *Store) Upsert(ctx context.Context, p Point) error {
	p.PointID = PointID(p.EpisodeID)
	emb := make(pqFloatArray, len(p.Embedding))
	for i, v := range p.Embedding {
		emb[i] = float64(v)
	}
	return s.run(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO vector_points (point_id, episode_id, user_id, session_id, text, ts, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (point_id) DO UPDATE SET
				text = $5, ts = $6, embedding = $7`,
			p.PointID, p.EpisodeID, p.UserID, p.SessionID, p.Text, p.Timestamp, emb)
		return err
	})
}

// SearchByUser returns the topK points for userID ranked by cosine
// similarity to query, excluding any point whose session_id is
// excludeSessionID (spec §4.6 step 5's episodic retrieval).
func (s *Store) SearchByUser(ctx context.Context, userID, excludeSessionID string, query []float32, topK int) ([]Point, error) {
	var points []Point
	err := s.run(ctx, "search_by_user", func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT point_id, episode_id, user_id, session_id, text, ts, embedding
			FROM vector_points WHERE user_id = $1 AND session_id != $2`, userID, excludeSessionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		type row struct {
			PointID   string       `db:"point_id"`
			EpisodeID string       `db:"episode_id"`
			UserID    string       `db:"user_id"`
			SessionID string       `db:"session_id"`
			Text      string       `db:"text"`
			Timestamp time.Time    `db:"ts"`
			Embedding pqFloatArray `db:"embedding"`
		}
		var all []Point
		for rows.Next() {
			var r row
			if err := rows.StructScan(&r); err != nil {
				return err
			}
			emb := make([]float32, len(r.Embedding))
			for i, v := range r.Embedding {
				emb[i] = float32(v)
			}
			all = append(all, Point{
				PointID: r.PointID, EpisodeID: r.EpisodeID, UserID: r.UserID,
				SessionID: r.SessionID, Text: r.Text, Timestamp: r.Timestamp, Embedding: emb,
			})
		}
		if err := rows.Err(); err != nil {
			return err
		}
		points = rankByCosine(all, query, topK)
		return nil
	})
	return points, err
}

// PurgeUser deletes every point belonging to userID, for forget_all
// (spec §8's testable property).
func (s *Store) PurgeUser(ctx context.Context, userID string) error {
	return s.run(ctx, "purge_user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM vector_points WHERE user_id = $1`, userID)
		return err
	})
}

func rankByCosine(points []Point, query []float32, topK int) []Point {
	type scored struct {
		p     Point
		score float64
	}
	scoredPoints := make([]scored, 0, len(points))
	for _, p := range points {
		scoredPoints = append(scoredPoints, scored{p: p, score: Cosine(p.Embedding, query)})
	}
	for i := 1; i < len(scoredPoints); i++ {
		for j := i; j > 0 && scoredPoints[j-1].score < scoredPoints[j].score; j-- {
			scoredPoints[j-1], scoredPoints[j] = scoredPoints[j], scoredPoints[j-1]
		}
	}
	if topK > len(scoredPoints) {
		topK = len(scoredPoints)
	}
	out := make([]Point, topK)
	for i := 0; i < topK; i++ {
		out[i] = scoredPoints[i].p
	}
	return out
}

// Cosine computes cosine similarity between two vectors of equal length;
// mismatched lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// fingerprint is used only by tests needing a deterministic pseudo
// embedding derived from text.
func fingerprint(text string) []float32 {
	sum := sha1.Sum([]byte(text))
	out := make([]float32, 4)
	for i := 0; i < 4; i++ {
		out[i] = float32(binary.BigEndian.Uint32(sum[i*4:i*4+4])) / float32(math.MaxUint32)
	}
	return out
}
