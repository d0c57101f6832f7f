// Package semcache implements the Semantic Cache (C9): a per-user,
// vector-keyed response cache with TTL, backed by redis/go-redis/v9.
package semcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlasagent/atlas-core/pkg/vectorstore"
)

// SimilarityThreshold is the cosine floor for a cache hit (spec §5/§8).
const SimilarityThreshold = 0.92

// DefaultTTL matches spec §5's cache TTL.
const DefaultTTL = time.Hour

// entry is the JSON payload stored at each Redis key.
type entry struct {
	Query     string    `json:"query"`
	Embedding []float32 `json:"embedding"`
	Response  string    `json:"response"`
}

// Cache wraps a redis.Cmdable so tests can substitute miniredis.
type Cache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New builds a Cache. ttl<=0 selects DefaultTTL.
func New(rdb redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize lowercases and collapses whitespace, the same shape used
// for the cache key's query fingerprint.
func Normalize(query string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(strings.ToLower(query), " "))
}

// Key builds the spec §5 cache key: cache:<user_id>:<md5(normalized_query)>.
func Key(userID, query string) string {
	sum := md5.Sum([]byte(Normalize(query)))
	return "cache:" + userID + ":" + hex.EncodeToString(sum[:])
}

// Put stores response for (userID, query, embedding) with the
// configured TTL.
func (c *Cache) Put(ctx context.Context, userID, query string, embedding []float32, response string) error {
	data, err := json.Marshal(entry{Query: query, Embedding: embedding, Response: response})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, Key(userID, query), data, c.ttl).Err()
}

// Get returns the cached response for an exact-key hit whose stored
// embedding has cosine similarity >= SimilarityThreshold against
// queryEmbedding. A miss (key absent, TTL expired, or below threshold)
// returns ok=false with no error, matching §8's "cache hits return the
// exact stored response and only when cosine similarity ≥ 0.92 and TTL
// not expired" law.
func (c *Cache) Get(ctx context.Context, userID, query string, queryEmbedding []float32) (string, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(userID, query)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return "", false, err
	}

	if vectorstore.Cosine(e.Embedding, queryEmbedding) < SimilarityThreshold {
		return "", false, nil
	}
	return e.Response, true, nil
}

// PurgeUser deletes every cache entry under the user's key prefix, for
// forget_all (spec §8: "Redis cache prefix cache:<user_id>: empty").
func (c *Cache) PurgeUser(ctx context.Context, userID string) error {
	prefix := "cache:" + userID + ":*"
	iter := c.rdb.Scan(ctx, 0, prefix, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
