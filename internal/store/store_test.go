package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/config"
	apperrors "github.com/brendte/news-router/pkg/errors"
	"github.com/brendte/news-router/pkg/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func entry(feedID int64, guid string) news.FeedEntry {
	return news.FeedEntry{
		FeedID:      feedID,
		Title:       "title " + guid,
		Summary:     "summary " + guid,
		URL:         "http://example.com/" + guid,
		GUID:        guid,
		PublishedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestFeeds_EnsureAndETag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f1, err := s.EnsureFeed(ctx, "http://example.com/rss")
	require.NoError(t, err)
	f2, err := s.EnsureFeed(ctx, "http://example.com/rss")
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)

	require.NoError(t, s.UpdateFeedETag(ctx, f1.ID, `"abc"`))
	feeds, err := s.Feeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, `"abc"`, feeds[0].ETag)
}

func TestCreateFeedEntry_DedupesByGUID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f, err := s.EnsureFeed(ctx, "http://example.com/rss")
	require.NoError(t, err)

	first, created, err := s.CreateFeedEntry(ctx, entry(f.ID, "g1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	dup := entry(f.ID, "g1")
	dup.Summary = "a different summary"
	_, created, err = s.CreateFeedEntry(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := s.FeedEntryExists(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, exists)

	unfetched, err := s.UnfetchedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, unfetched, 1)
	assert.Equal(t, "summary g1", unfetched[0].Summary)
	assert.True(t, unfetched[0].PublishedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestCreateArticleFromEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f, _ := s.EnsureFeed(ctx, "http://example.com/rss")
	e, _, err := s.CreateFeedEntry(ctx, entry(f.ID, "g1"))
	require.NoError(t, err)

	a, err := s.CreateArticleFromEntry(ctx, e, "full body text")
	require.NoError(t, err)
	assert.NotZero(t, a.ID)

	got, err := s.ArticleByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "full body text", got.Body)
	assert.Equal(t, e.ID, got.FeedEntryID)
	assert.Equal(t, e.URL, got.URL)
	assert.False(t, got.Indexed)
	assert.False(t, got.Routed)
	assert.Equal(t, 0.0, got.EuclideanLength)

	unfetched, err := s.UnfetchedEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfetched)

	_, err = s.CreateArticleFromEntry(ctx, e, "again")
	assert.True(t, IsAlreadyFetched(err))
	n, err := s.Count(ctx, news.KindArticles)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIndexingColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a1, err := s.CreateArticle(ctx, news.Article{Body: "cat dog cat"})
	require.NoError(t, err)
	a2, err := s.CreateArticle(ctx, news.Article{Body: "dog bird"})
	require.NoError(t, err)

	docs, err := s.Unindexed(ctx, news.KindArticles)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, a1.ID, docs[0].DocumentID())
	assert.Equal(t, "cat dog cat", docs[0].Text())

	require.NoError(t, s.MarkIndexed(ctx, news.KindArticles, a1.ID, 2.5))
	docs, err = s.Unindexed(ctx, news.KindArticles)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, a2.ID, docs[0].DocumentID())

	length, ok, err := s.EuclideanLength(ctx, news.KindArticles, a1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, length)

	_, ok, err = s.EuclideanLength(ctx, news.KindArticles, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Count(ctx, news.KindArticles)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Count(ctx, news.Kind("widgets"))
	assert.Error(t, err)
}

func TestRoutingColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		a, err := s.CreateArticle(ctx, news.Article{Body: "body"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	for _, id := range ids[:4] {
		require.NoError(t, s.MarkIndexed(ctx, news.KindArticles, id, 1))
	}
	require.NoError(t, s.MarkRouted(ctx, ids[0]))

	page, err := s.UnroutedArticles(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	page, err = s.UnroutedArticles(ctx, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[3], page[0].ID)

	all, err := s.Articles(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestQueriesAndDeliveries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u, err := s.CreateUser(ctx, "reader@example.com")
	require.NoError(t, err)
	exists, err := s.UserExists(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	q, err := s.CreateQuery(ctx, news.Query{UserID: u.ID, Body: "interest rates", Threshold: 0.3})
	require.NoError(t, err)
	got, err := s.QueryByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "interest rates", got.Body)
	assert.Equal(t, 0.3, got.Threshold)
	assert.Equal(t, u.ID, got.UserID)

	_, err = s.QueryByID(ctx, 999)
	assert.ErrorIs(t, err, apperrors.ErrQueryNotFound)

	all, err := s.AllQueries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	a, err := s.CreateArticle(ctx, news.Article{Body: "rates"})
	require.NoError(t, err)
	has, err := s.HasDelivery(ctx, a.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.AddDelivery(ctx, a.ID, u.ID))
	has, err = s.HasDelivery(ctx, a.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Error(t, s.AddDelivery(ctx, a.ID, u.ID), "the pair is unique")

	delivered, err := s.DeliveredArticleIDs(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, delivered)

	require.NoError(t, s.MarkIndexed(ctx, news.KindQueries, q.ID, 1.4))
	docs, err := s.Unindexed(ctx, news.KindQueries)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestArticleByID_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ArticleByID(context.Background(), 42)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestQueryRoutedFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u, err := s.CreateUser(ctx, "flag@example.com")
	require.NoError(t, err)
	first, err := s.CreateQuery(ctx, news.Query{UserID: u.ID, Body: "elections"})
	require.NoError(t, err)
	second, err := s.CreateQuery(ctx, news.Query{UserID: u.ID, Body: "harvest"})
	require.NoError(t, err)
	assert.False(t, first.Routed)

	pending, err := s.UnroutedQueries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, s.MarkQueryRouted(ctx, first.ID))
	got, err := s.QueryByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Routed)

	pending, err = s.UnroutedQueries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}
