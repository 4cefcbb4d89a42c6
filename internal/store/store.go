// Package store is the relational side of the router: feeds and their
// entries, articles, users, standing queries and the article-to-user
// delivery relation. It runs on PostgreSQL or on an embedded SQLite file.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/postgres"
)

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func table(kind news.Kind) (string, error) {
	switch kind {
	case news.KindArticles:
		return "articles", nil
	case news.KindQueries:
		return "queries", nil
	default:
		return "", fmt.Errorf("unknown document kind %q", kind)
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	idType := "BIGSERIAL PRIMARY KEY"
	if s.db.Dialect() == postgres.DialectSQLite {
		idType = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	for _, stmt := range schema(idType) {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.logger.Info("schema ready", "dialect", s.db.Dialect())
	return nil
}

func schema(idType string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS feeds (
			id ` + idType + `,
			feed_url TEXT NOT NULL UNIQUE,
			etag TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feed_entries (
			id ` + idType + `,
			feed_id BIGINT NOT NULL REFERENCES feeds(id),
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			url TEXT NOT NULL,
			guid TEXT NOT NULL UNIQUE,
			published_at TIMESTAMP NOT NULL,
			fetched BOOLEAN NOT NULL DEFAULT FALSE,
			article_id BIGINT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS feed_entries_fetched_idx ON feed_entries (fetched)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id ` + idType + `,
			feed_entry_id BIGINT,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			indexed BOOLEAN NOT NULL DEFAULT FALSE,
			euclidean_length DOUBLE PRECISION NOT NULL DEFAULT 0,
			routed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS articles_indexed_routed_idx ON articles (indexed, routed)`,
		`CREATE TABLE IF NOT EXISTS users (
			id ` + idType + `,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queries (
			id ` + idType + `,
			user_id BIGINT NOT NULL REFERENCES users(id),
			body TEXT NOT NULL,
			threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
			indexed BOOLEAN NOT NULL DEFAULT FALSE,
			euclidean_length DOUBLE PRECISION NOT NULL DEFAULT 0,
			routed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS queries_routed_idx ON queries (routed)`,
		`CREATE TABLE IF NOT EXISTS articles_users (
			article_id BIGINT NOT NULL REFERENCES articles(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (article_id, user_id)
		)`,
	}
}
