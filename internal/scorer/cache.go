package scorer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/brendte/news-router/internal/indexer"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/metrics"
	pkgredis "github.com/brendte/news-router/pkg/redis"
)

type ScoreAller interface {
	ScoreAll(ctx context.Context, kind news.Kind, query news.Indexable) ([]Score, error)
}

// Cache keeps ranked ScoreAll results in Redis. Queries with the same
// multiset of index terms share an entry. Entries expire after ttl and are
// dropped wholesale by Invalidate whenever the index changes.
type Cache struct {
	next    ScoreAller
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewCache(next ScoreAller, client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		next:    next,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "score-cache"),
	}
}

func (c *Cache) ScoreAll(ctx context.Context, kind news.Kind, query news.Indexable) ([]Score, error) {
	key := c.key(kind, query.Text())
	if scores, ok := c.get(ctx, key); ok {
		return scores, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if scores, ok := c.get(ctx, key); ok {
			return scores, nil
		}
		scores, err := c.next.ScoreAll(ctx, kind, query)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, scores)
		return scores, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Score), nil
}

// Invalidate deletes every cached score list.
func (c *Cache) Invalidate(ctx context.Context) error {
	rdb := c.client.Redis()
	iter := rdb.Scan(ctx, 0, c.client.Key("scores", "*"), 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning score cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidating score cache: %w", err)
	}
	c.logger.Debug("score cache invalidated", "keys_deleted", len(keys))
	return nil
}

func (c *Cache) get(ctx context.Context, key string) ([]Score, bool) {
	data, err := c.client.Redis().Get(ctx, key).Bytes()
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("score cache get failed", "key", key, "error", err)
		}
		c.metrics.ScoreCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var scores []Score
	if err := json.Unmarshal(data, &scores); err != nil {
		c.logger.Error("score cache unmarshal failed", "key", key, "error", err)
		c.metrics.ScoreCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.metrics.ScoreCacheTotal.WithLabelValues("hit").Inc()
	return scores, true
}

func (c *Cache) set(ctx context.Context, key string, scores []Score) {
	data, err := json.Marshal(scores)
	if err != nil {
		c.logger.Error("score cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Redis().Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("score cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) key(kind news.Kind, text string) string {
	terms := indexer.GenerateTermList(text)
	sort.Strings(terms)
	hash := sha256.Sum256([]byte(strings.Join(terms, " ")))
	return c.client.Key("scores", string(kind), fmt.Sprintf("%x", hash[:16]))
}
