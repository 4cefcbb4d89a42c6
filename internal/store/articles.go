package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brendte/news-router/internal/news"
	apperrors "github.com/brendte/news-router/pkg/errors"
)

const articleColumns = `id, feed_entry_id, title, url, body, indexed, euclidean_length, routed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (news.Article, error) {
	var (
		a       news.Article
		entryID sql.NullInt64
	)
	err := row.Scan(&a.ID, &entryID, &a.Title, &a.URL, &a.Body, &a.Indexed, &a.EuclideanLength, &a.Routed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return news.Article{}, err
	}
	a.FeedEntryID = entryID.Int64
	return a, nil
}

func (s *Store) listArticles(ctx context.Context, query string, args ...any) ([]news.Article, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []news.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateArticle stores a free-standing article, unindexed and unrouted.
func (s *Store) CreateArticle(ctx context.Context, a news.Article) (news.Article, error) {
	now := s.now()
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`INSERT INTO articles (title, url, body, indexed, euclidean_length, routed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		 RETURNING id`),
		a.Title, a.URL, a.Body, false, false, now, now,
	).Scan(&a.ID)
	if err != nil {
		return news.Article{}, fmt.Errorf("inserting article: %w", err)
	}
	a.Indexed, a.Routed, a.EuclideanLength = false, false, 0
	a.CreatedAt, a.UpdatedAt = now, now
	return a, nil
}

func (s *Store) ArticleByID(ctx context.Context, id int64) (news.Article, error) {
	a, err := scanArticle(s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT `+articleColumns+` FROM articles WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return news.Article{}, fmt.Errorf("article %d: %w", id, apperrors.ErrDocumentNotFound)
	}
	if err != nil {
		return news.Article{}, fmt.Errorf("reading article %d: %w", id, err)
	}
	return a, nil
}

func (s *Store) UnroutedArticles(ctx context.Context, afterID int64, limit int) ([]news.Article, error) {
	out, err := s.listArticles(ctx,
		`SELECT `+articleColumns+` FROM articles
		 WHERE indexed = ? AND routed = ? AND id > ?
		 ORDER BY id LIMIT ?`, true, false, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unrouted articles: %w", err)
	}
	return out, nil
}

func (s *Store) Articles(ctx context.Context, afterID int64, limit int) ([]news.Article, error) {
	out, err := s.listArticles(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	return out, nil
}

func (s *Store) MarkRouted(ctx context.Context, articleID int64) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`UPDATE articles SET routed = ?, updated_at = ? WHERE id = ?`), true, s.now(), articleID)
	if err != nil {
		return fmt.Errorf("marking article %d routed: %w", articleID, err)
	}
	return nil
}

// Unindexed returns every unindexed document of kind.
func (s *Store) Unindexed(ctx context.Context, kind news.Kind) ([]news.Indexable, error) {
	var docs []news.Indexable
	switch kind {
	case news.KindArticles:
		articles, err := s.listArticles(ctx,
			`SELECT `+articleColumns+` FROM articles WHERE indexed = ? ORDER BY id`, false)
		if err != nil {
			return nil, fmt.Errorf("listing unindexed articles: %w", err)
		}
		for _, a := range articles {
			docs = append(docs, a)
		}
	case news.KindQueries:
		queries, err := s.listQueries(ctx,
			`SELECT `+queryColumns+` FROM queries WHERE indexed = ? ORDER BY id`, false)
		if err != nil {
			return nil, fmt.Errorf("listing unindexed queries: %w", err)
		}
		for _, q := range queries {
			docs = append(docs, q)
		}
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
	return docs, nil
}

// MarkIndexed records the document's euclidean length and sets indexed.
func (s *Store) MarkIndexed(ctx context.Context, kind news.Kind, id int64, euclideanLength float64) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}
	_, err = s.db.DB.ExecContext(ctx, s.q(
		`UPDATE `+tbl+` SET indexed = ?, euclidean_length = ?, updated_at = ? WHERE id = ?`),
		true, euclideanLength, s.now(), id)
	if err != nil {
		return fmt.Errorf("marking %s %d indexed: %w", kind, id, err)
	}
	return nil
}

// Count is the collection size used as N in idf.
func (s *Store) Count(ctx context.Context, kind news.Kind) (int64, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", kind, err)
	}
	return n, nil
}

func (s *Store) EuclideanLength(ctx context.Context, kind news.Kind, id int64) (float64, bool, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, false, err
	}
	var length float64
	err = s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT euclidean_length FROM `+tbl+` WHERE id = ?`), id).Scan(&length)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading length of %s %d: %w", kind, id, err)
	}
	return length, true, nil
}
