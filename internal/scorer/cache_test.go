package scorer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/metrics"
	pkgredis "github.com/brendte/news-router/pkg/redis"
)

type countingScorer struct{ calls atomic.Int64 }

func (c *countingScorer) ScoreAll(context.Context, news.Kind, news.Indexable) ([]Score, error) {
	c.calls.Add(1)
	return []Score{{DocumentID: 2, Score: 0.9}, {DocumentID: 1, Score: 0.3}}, nil
}

func newTestCache(t *testing.T) (*Cache, *countingScorer, *miniredis.Miniredis, *metrics.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := pkgredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "nr")
	next := &countingScorer{}
	m := metrics.NewNop()
	return NewCache(next, client, time.Minute, m), next, mr, m
}

func TestCache_HitsShareEquivalentQueries(t *testing.T) {
	ctx := context.Background()
	c, next, _, m := newTestCache(t)

	first, err := c.ScoreAll(ctx, news.KindArticles, news.Query{ID: 1, Body: "interest rates"})
	require.NoError(t, err)
	// same terms after stemming and stop-word removal, different order
	second, err := c.ScoreAll(ctx, news.KindArticles, news.Query{ID: 2, Body: "the Rates of INTEREST"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), next.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoreCacheTotal.WithLabelValues("hit")))
}

func TestCache_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	c, next, mr, _ := newTestCache(t)
	q := news.Query{Body: "solar"}

	_, err := c.ScoreAll(ctx, news.KindArticles, q)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = c.ScoreAll(ctx, news.KindArticles, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.calls.Load())
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, next, mr, _ := newTestCache(t)

	for _, body := range []string{"solar", "wind", "tide"} {
		_, err := c.ScoreAll(ctx, news.KindArticles, news.Query{Body: body})
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("nr:other", "keep"))

	require.NoError(t, c.Invalidate(ctx))
	assert.Len(t, mr.Keys(), 1)

	_, err := c.ScoreAll(ctx, news.KindArticles, news.Query{Body: "solar"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.calls.Load())
}

func TestCache_SeparatesKinds(t *testing.T) {
	ctx := context.Background()
	c, next, _, _ := newTestCache(t)
	q := news.Query{Body: "solar"}

	_, err := c.ScoreAll(ctx, news.KindArticles, q)
	require.NoError(t, err)
	_, err = c.ScoreAll(ctx, news.KindQueries, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.calls.Load())
}
