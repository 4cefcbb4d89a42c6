package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brendte/news-router/internal/news"
)

// EnsureFeed registers url if it is not known yet and returns the stored feed.
func (s *Store) EnsureFeed(ctx context.Context, url string) (news.Feed, error) {
	now := s.now()
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`INSERT INTO feeds (feed_url, etag, created_at, updated_at) VALUES (?, '', ?, ?)
		 ON CONFLICT (feed_url) DO NOTHING`), url, now, now)
	if err != nil {
		return news.Feed{}, fmt.Errorf("inserting feed %s: %w", url, err)
	}
	var f news.Feed
	err = s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT id, feed_url, etag FROM feeds WHERE feed_url = ?`), url).Scan(&f.ID, &f.URL, &f.ETag)
	if err != nil {
		return news.Feed{}, fmt.Errorf("reading feed %s: %w", url, err)
	}
	return f, nil
}

func (s *Store) Feeds(ctx context.Context) ([]news.Feed, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT id, feed_url, etag FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()
	var feeds []news.Feed
	for rows.Next() {
		var f news.Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.ETag); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (s *Store) UpdateFeedETag(ctx context.Context, feedID int64, etag string) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`UPDATE feeds SET etag = ?, updated_at = ? WHERE id = ?`), etag, s.now(), feedID)
	if err != nil {
		return fmt.Errorf("updating etag of feed %d: %w", feedID, err)
	}
	return nil
}

func (s *Store) FeedEntryExists(ctx context.Context, guid string) (bool, error) {
	var one int
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT 1 FROM feed_entries WHERE guid = ?`), guid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking feed entry %s: %w", guid, err)
	}
	return true, nil
}

// CreateFeedEntry stores e unfetched. It reports false when an entry with the
// same guid already exists, leaving the stored entry untouched.
func (s *Store) CreateFeedEntry(ctx context.Context, e news.FeedEntry) (news.FeedEntry, bool, error) {
	now := s.now()
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`INSERT INTO feed_entries (feed_id, title, summary, url, guid, published_at, fetched, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (guid) DO NOTHING
		 RETURNING id`),
		e.FeedID, e.Title, e.Summary, e.URL, e.GUID, e.PublishedAt.UTC(), false, now, now,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return news.FeedEntry{}, false, nil
	}
	if err != nil {
		return news.FeedEntry{}, false, fmt.Errorf("inserting feed entry %s: %w", e.GUID, err)
	}
	e.Fetched = false
	return e, true, nil
}

func (s *Store) UnfetchedEntries(ctx context.Context) ([]news.FeedEntry, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.q(
		`SELECT id, feed_id, title, summary, url, guid, published_at
		 FROM feed_entries WHERE fetched = ? ORDER BY id`), false)
	if err != nil {
		return nil, fmt.Errorf("listing unfetched entries: %w", err)
	}
	defer rows.Close()
	var entries []news.FeedEntry
	for rows.Next() {
		var e news.FeedEntry
		if err := rows.Scan(&e.ID, &e.FeedID, &e.Title, &e.Summary, &e.URL, &e.GUID, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scanning feed entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateArticleFromEntry stores a new unindexed, unrouted article with body
// and marks the entry fetched, atomically.
func (s *Store) CreateArticleFromEntry(ctx context.Context, entry news.FeedEntry, body string) (news.Article, error) {
	now := s.now()
	a := news.Article{
		FeedEntryID: entry.ID,
		Title:       entry.Title,
		URL:         entry.URL,
		Body:        body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var fetched bool
		err := tx.QueryRowContext(ctx, s.q(
			`SELECT fetched FROM feed_entries WHERE id = ?`), entry.ID).Scan(&fetched)
		if err != nil {
			return fmt.Errorf("reading feed entry %d: %w", entry.ID, err)
		}
		if fetched {
			return errEntryFetched
		}
		err = tx.QueryRowContext(ctx, s.q(
			`INSERT INTO articles (feed_entry_id, title, url, body, indexed, euclidean_length, routed, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
			 RETURNING id`),
			entry.ID, a.Title, a.URL, a.Body, false, false, now, now,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("inserting article: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(
			`UPDATE feed_entries SET fetched = ?, article_id = ?, updated_at = ? WHERE id = ?`),
			true, a.ID, now, entry.ID)
		if err != nil {
			return fmt.Errorf("marking feed entry %d fetched: %w", entry.ID, err)
		}
		return nil
	})
	if err != nil {
		return news.Article{}, err
	}
	return a, nil
}

var errEntryFetched = errors.New("feed entry already fetched")

// IsAlreadyFetched reports whether err came from creating an article for an
// entry that another run fetched first.
func IsAlreadyFetched(err error) bool {
	return errors.Is(err, errEntryFetched)
}
