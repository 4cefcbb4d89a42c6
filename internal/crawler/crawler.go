// Package crawler polls feeds for new entries and turns unfetched entries
// into articles by fetching their full text from the extraction service.
package crawler

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brendte/news-router/internal/crawler/extract"
	"github.com/brendte/news-router/internal/crawler/feed"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/metrics"
	"github.com/brendte/news-router/pkg/resilience"
)

// Repository is the relational side of crawling.
type Repository interface {
	Feeds(ctx context.Context) ([]news.Feed, error)
	UpdateFeedETag(ctx context.Context, feedID int64, etag string) error
	FeedEntryExists(ctx context.Context, guid string) (bool, error)
	CreateFeedEntry(ctx context.Context, e news.FeedEntry) (news.FeedEntry, bool, error)
	UnfetchedEntries(ctx context.Context) ([]news.FeedEntry, error)
	CreateArticleFromEntry(ctx context.Context, entry news.FeedEntry, body string) (news.Article, error)
}

type FeedSource interface {
	Fetch(ctx context.Context, f news.Feed) (feed.Result, error)
}

type BodyFetcher interface {
	FetchBody(ctx context.Context, url string) (extract.Response, error)
}

// Stats summarises one crawl.
type Stats struct {
	Feeds           int `json:"feeds"`
	FeedErrors      int `json:"feed_errors"`
	EntriesCreated  int `json:"entries_created"`
	Duplicates      int `json:"duplicates"`
	Incomplete      int `json:"incomplete"`
	ArticlesCreated int `json:"articles_created"`
	FetchFailures   int `json:"fetch_failures"`
}

type Crawler struct {
	repo         Repository
	source       FeedSource
	fetcher      BodyFetcher
	concurrency  int
	fetchTimeout time.Duration
	feedTimeout  time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func New(repo Repository, source FeedSource, fetcher BodyFetcher, cfg config.CrawlerConfig, m *metrics.Metrics) *Crawler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	return &Crawler{
		repo:         repo,
		source:       source,
		fetcher:      fetcher,
		concurrency:  concurrency,
		fetchTimeout: cfg.FetchTimeout,
		feedTimeout:  cfg.FeedTimeout,
		metrics:      m,
		logger:       slog.Default().With("component", "crawler"),
	}
}

// GUID is the stable identity of a feed entry: the URL-safe base64 of the
// MD5 digest of its source id.
func GUID(externalID string) string {
	sum := md5.Sum([]byte(externalID))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// Crawl stores new feed entries and then fetches bodies for every
// unfetched entry.
func (c *Crawler) Crawl(ctx context.Context) (Stats, error) {
	stats, err := c.UpdateFeeds(ctx)
	if err != nil {
		return stats, err
	}
	created, failed, err := c.FetchArticles(ctx)
	stats.ArticlesCreated = created
	stats.FetchFailures = failed
	return stats, err
}

// UpdateFeeds polls every stored feed and records entries not seen before.
// A failing feed is logged and skipped.
func (c *Crawler) UpdateFeeds(ctx context.Context) (Stats, error) {
	feeds, err := c.repo.Feeds(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing feeds: %w", err)
	}
	var stats Stats
	stats.Feeds = len(feeds)
	for _, f := range feeds {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := c.updateFeed(ctx, f, &stats); err != nil {
			stats.FeedErrors++
			c.logger.Error("feed update failed", "feed_id", f.ID, "feed_url", f.URL, "error", err)
		}
	}
	c.logger.Info("feeds updated",
		"feeds", stats.Feeds,
		"feed_errors", stats.FeedErrors,
		"entries_created", stats.EntriesCreated,
		"duplicates", stats.Duplicates,
		"incomplete", stats.Incomplete,
	)
	return stats, nil
}

func (c *Crawler) updateFeed(ctx context.Context, f news.Feed, stats *Stats) error {
	var res feed.Result
	err := resilience.WithTimeout(ctx, c.feedTimeout, "fetch feed", func(ctx context.Context) error {
		var err error
		res, err = c.source.Fetch(ctx, f)
		return err
	})
	if err != nil {
		return err
	}
	if res.NotModified {
		c.logger.Debug("feed not modified", "feed_url", f.URL)
		return nil
	}

	for _, item := range res.Items {
		item = trimItem(item)
		if !item.Complete() {
			stats.Incomplete++
			c.metrics.FeedEntriesTotal.WithLabelValues("incomplete").Inc()
			continue
		}
		guid := GUID(item.ExternalID)
		exists, err := c.repo.FeedEntryExists(ctx, guid)
		if err != nil {
			c.metrics.FeedEntriesTotal.WithLabelValues("error").Inc()
			c.logger.Error("feed entry lookup failed", "guid", guid, "error", err)
			continue
		}
		if exists {
			stats.Duplicates++
			c.metrics.FeedEntriesTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		_, created, err := c.repo.CreateFeedEntry(ctx, news.FeedEntry{
			FeedID:      f.ID,
			Title:       item.Title,
			Summary:     item.Summary,
			URL:         item.URL,
			GUID:        guid,
			PublishedAt: item.PublishedAt,
		})
		switch {
		case err != nil:
			c.metrics.FeedEntriesTotal.WithLabelValues("error").Inc()
			c.logger.Error("storing feed entry failed", "guid", guid, "url", item.URL, "error", err)
		case !created:
			stats.Duplicates++
			c.metrics.FeedEntriesTotal.WithLabelValues("duplicate").Inc()
		default:
			stats.EntriesCreated++
			c.metrics.FeedEntriesTotal.WithLabelValues("created").Inc()
		}
	}

	if res.ETag != "" && res.ETag != f.ETag {
		if err := c.repo.UpdateFeedETag(ctx, f.ID, res.ETag); err != nil {
			c.logger.Warn("storing feed etag failed", "feed_id", f.ID, "error", err)
		}
	}
	return nil
}

func trimItem(it news.Item) news.Item {
	it.Title = strings.TrimSpace(it.Title)
	it.Summary = strings.TrimSpace(it.Summary)
	it.URL = strings.TrimSpace(it.URL)
	it.ExternalID = strings.TrimSpace(it.ExternalID)
	return it
}

// FetchArticles fetches bodies for all unfetched entries, at most
// concurrency at a time. Each success creates an article and marks its
// entry fetched; every other outcome leaves the entry for the next crawl.
func (c *Crawler) FetchArticles(ctx context.Context) (created, failed int, err error) {
	entries, err := c.repo.UnfetchedEntries(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing unfetched entries: %w", err)
	}
	var nCreated, nFailed atomic.Int64

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					nFailed.Add(1)
					c.logger.Error("body fetch panicked", "entry_id", entry.ID, "panic", r)
				}
			}()
			if c.fetchOne(ctx, entry) {
				nCreated.Add(1)
			} else {
				nFailed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	created, failed = int(nCreated.Load()), int(nFailed.Load())
	c.logger.Info("article bodies fetched",
		"entries", len(entries),
		"created", created,
		"failed", failed,
	)
	return created, failed, ctx.Err()
}

func (c *Crawler) fetchOne(ctx context.Context, entry news.FeedEntry) bool {
	var resp extract.Response
	err := resilience.WithTimeout(ctx, c.fetchTimeout, "fetch body", func(ctx context.Context) error {
		var err error
		resp, err = c.fetcher.FetchBody(ctx, entry.URL)
		return err
	})
	switch {
	case err != nil:
		c.metrics.BodyFetchesTotal.WithLabelValues("error").Inc()
		c.logger.Warn("body fetch failed", "entry_id", entry.ID, "url", entry.URL, "error", err)
		return false
	case resp.StatusCode != http.StatusOK:
		c.metrics.BodyFetchesTotal.WithLabelValues("bad_status").Inc()
		c.logger.Warn("body fetch returned bad status", "entry_id", entry.ID, "url", entry.URL, "status", resp.StatusCode)
		return false
	case !resp.OK():
		c.metrics.BodyFetchesTotal.WithLabelValues("blank").Inc()
		c.logger.Warn("body fetch returned no text", "entry_id", entry.ID, "url", entry.URL)
		return false
	}
	c.metrics.BodyFetchesTotal.WithLabelValues("ok").Inc()

	article, err := c.repo.CreateArticleFromEntry(ctx, entry, resp.Text)
	if err != nil {
		c.logger.Error("creating article failed", "entry_id", entry.ID, "error", err)
		return false
	}
	c.metrics.ArticlesCreated.Inc()
	c.logger.Debug("article created", "article_id", article.ID, "entry_id", entry.ID)
	return true
}
