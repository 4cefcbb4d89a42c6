package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendte/news-router/internal/crawler"
	"github.com/brendte/news-router/internal/crawler/extract"
	"github.com/brendte/news-router/internal/crawler/feed"
	"github.com/brendte/news-router/internal/indexer"
	"github.com/brendte/news-router/internal/indexer/index"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/internal/queries"
	"github.com/brendte/news-router/internal/router"
	"github.com/brendte/news-router/internal/scorer"
	"github.com/brendte/news-router/internal/store"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/metrics"
	"github.com/brendte/news-router/pkg/postgres"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>wire</title>
<item>
  <title>Fed raises rates</title>
  <link>http://news.test/fed</link>
  <guid>urn:news:fed</guid>
  <description>Central bank moves again.</description>
  <pubDate>Tue, 05 Mar 2024 10:00:00 GMT</pubDate>
</item>
<item>
  <title>Cup final</title>
  <link>http://news.test/cup</link>
  <guid>urn:news:cup</guid>
  <description>Weekend sport.</description>
  <pubDate>Sun, 03 Mar 2024 18:00:00 GMT</pubDate>
</item>
</channel></rss>`

var bodies = map[string]string{
	"http://news.test/fed": "The Federal Reserve raised interest rates again on Tuesday.",
	"http://news.test/cup": "The football team won the championship match on Sunday.",
}

type system struct {
	store       *store.Store
	coordinator *pipeline.Coordinator
}

func newSystem(t *testing.T) *system {
	t.Helper()
	ctx := context.Background()

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	t.Cleanup(feedSrv.Close)
	extractSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text, ok := bodies[r.URL.Query().Get("url")]
		status := "OK"
		if !ok {
			status = "ERROR"
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status, "text": text})
	}))
	t.Cleanup(extractSrv.Close)

	db, err := postgres.New(config.PostgresConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "e2e.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	require.NoError(t, st.Migrate(ctx))
	_, err = st.EnsureFeed(ctx, feedSrv.URL)
	require.NoError(t, err)

	m := metrics.NewNop()
	crawlCfg := config.CrawlerConfig{
		Concurrency:        2,
		FetchTimeout:       5 * time.Second,
		FeedTimeout:        5 * time.Second,
		ExtractionEndpoint: extractSrv.URL,
	}
	idx := index.NewMemoryStore()
	c := crawler.New(st, feed.NewSource(crawlCfg), extract.New(crawlCfg, nil), crawlCfg, m)
	ix := indexer.New(idx, st, config.IndexerConfig{Workers: 2}, m)
	sc := scorer.New(idx, st, m)
	rt := router.New(st, sc, router.NopNotifier{}, config.RouterConfig{DefaultThreshold: 0.5, BatchSize: 1}, m)

	return &system{
		store:       st,
		coordinator: pipeline.NewCoordinator(c, ix, rt, st, nil, config.CycleConfig{Mode: "reject"}, m),
	}
}

func (s *system) userWithQuery(t *testing.T, email, body string) (news.User, news.Query) {
	t.Helper()
	ctx := context.Background()
	u, err := s.store.CreateUser(ctx, email)
	require.NoError(t, err)
	q, err := s.store.CreateQuery(ctx, news.Query{UserID: u.ID, Body: body, Threshold: 0.1})
	require.NoError(t, err)
	return u, q
}

func TestCycle_CrawlsIndexesAndRoutes(t *testing.T) {
	ctx := context.Background()
	sys := newSystem(t)
	fedReader, _ := sys.userWithQuery(t, "fed@example.com", "interest rates federal reserve")

	report, err := sys.coordinator.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.Crawl.ArticlesCreated)
	assert.Equal(t, 2, report.Index.Indexed)
	assert.Equal(t, 1, report.Route.Deliveries)

	delivered, err := sys.store.DeliveredArticleIDs(ctx, fedReader.ID)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	a, err := sys.store.ArticleByID(ctx, delivered[0])
	require.NoError(t, err)
	assert.Equal(t, "http://news.test/fed", a.URL)

	again, err := sys.coordinator.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Crawl.ArticlesCreated)
	assert.Equal(t, 2, again.Crawl.Duplicates)
	assert.Zero(t, again.Route.Deliveries)

	delivered, err = sys.store.DeliveredArticleIDs(ctx, fedReader.ID)
	require.NoError(t, err)
	assert.Len(t, delivered, 1)
}

func TestOnQueryCreated_RoutesExistingArticles(t *testing.T) {
	ctx := context.Background()
	sys := newSystem(t)
	_, err := sys.coordinator.RunCycle(ctx)
	require.NoError(t, err)

	fan, q := sys.userWithQuery(t, "fan@example.com", "football championship")
	res, err := sys.coordinator.OnQueryCreated(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Articles)
	assert.Equal(t, 1, res.Deliveries)

	res, err = sys.coordinator.OnQueryCreated(ctx, q.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Deliveries, "deliveries are idempotent")

	delivered, err := sys.store.DeliveredArticleIDs(ctx, fan.ID)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	a, err := sys.store.ArticleByID(ctx, delivered[0])
	require.NoError(t, err)
	assert.Equal(t, "http://news.test/cup", a.URL)
}

// cancelAfterInsert cancels the request context as soon as the query row is
// written, as a client timeout would mid-request.
type cancelAfterInsert struct {
	*store.Store
	cancel context.CancelFunc
}

func (r cancelAfterInsert) CreateQuery(ctx context.Context, q news.Query) (news.Query, error) {
	q, err := r.Store.CreateQuery(ctx, q)
	r.cancel()
	return q, err
}

type unreachableBroker struct{}

func (unreachableBroker) Announce(context.Context, news.Query) error {
	return errors.New("broker unreachable")
}

func TestCreateQuery_CancelledRequestStillRoutesExistingArticles(t *testing.T) {
	ctx := context.Background()
	sys := newSystem(t)
	_, err := sys.coordinator.RunCycle(ctx)
	require.NoError(t, err)
	fan, err := sys.store.CreateUser(ctx, "fan@example.com")
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	inline := queries.NewInlineAnnouncer(sys.coordinator)
	svc := queries.NewService(cancelAfterInsert{Store: sys.store, cancel: cancel}, inline, metrics.NewNop())
	q, err := svc.Create(reqCtx, queries.Request{UserID: fan.ID, Body: "football championship", Threshold: 0.1})
	require.NoError(t, err)
	inline.Wait()

	delivered, err := sys.store.DeliveredArticleIDs(ctx, fan.ID)
	require.NoError(t, err)
	assert.Len(t, delivered, 1)
	got, err := sys.store.QueryByID(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, got.Routed)
}

func TestCreateQuery_LostAnnouncementIsRoutedByNextCycle(t *testing.T) {
	ctx := context.Background()
	sys := newSystem(t)
	_, err := sys.coordinator.RunCycle(ctx)
	require.NoError(t, err)
	fan, err := sys.store.CreateUser(ctx, "fan@example.com")
	require.NoError(t, err)

	svc := queries.NewService(sys.store, unreachableBroker{}, metrics.NewNop())
	q, err := svc.Create(ctx, queries.Request{UserID: fan.ID, Body: "football championship", Threshold: 0.1})
	require.NoError(t, err)
	delivered, err := sys.store.DeliveredArticleIDs(ctx, fan.ID)
	require.NoError(t, err)
	assert.Empty(t, delivered)

	report, err := sys.coordinator.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Route.Deliveries, "no new articles in this cycle")
	assert.Equal(t, 2, report.Queries.Articles)
	assert.Equal(t, 1, report.Queries.Deliveries)

	delivered, err = sys.store.DeliveredArticleIDs(ctx, fan.ID)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	a, err := sys.store.ArticleByID(ctx, delivered[0])
	require.NoError(t, err)
	assert.Equal(t, "http://news.test/cup", a.URL)

	got, err := sys.store.QueryByID(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, got.Routed)
}
