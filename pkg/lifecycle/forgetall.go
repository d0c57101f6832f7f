package lifecycle

import (
	"context"
	"time"
)

// GraphForgetter is the graphstore surface ForgetAll needs.
type GraphForgetter interface {
	ForgetAll(ctx context.Context, userID string, hardDelete bool, now time.Time) error
}

// CachePurger is the semcache surface ForgetAll needs.
type CachePurger interface {
	PurgeUser(ctx context.Context, userID string) error
}

// VectorPurger is the vectorstore surface ForgetAll needs.
type VectorPurger interface {
	PurgeUser(ctx context.Context, userID string) error
}

// ForgetAll detaches the user's subgraph, then purges the Redis cache
// prefix, then purges vector points, in that order — matching the
// original implementation's forget_all cascade (SPEC_FULL.md §C). The
// cache and vector purges remove every entry for the user; the graph
// deletes the user's facts only when hardDelete is true, and otherwise
// keeps them as RETRACTED rows that still carry the user_id.
func ForgetAll(ctx context.Context, graph GraphForgetter, cache CachePurger, vectors VectorPurger, userID string, hardDelete bool, now time.Time) error {
	if err := graph.ForgetAll(ctx, userID, hardDelete, now); err != nil {
		return err
	}
	if err := cache.PurgeUser(ctx, userID); err != nil {
		return err
	}
	if err := vectors.PurgeUser(ctx, userID); err != nil {
		return err
	}
	return nil
}
