package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brendte/news-router/internal/news"
	apperrors "github.com/brendte/news-router/pkg/errors"
)

const queryColumns = `id, user_id, body, threshold, indexed, euclidean_length, routed, created_at, updated_at`

func scanQuery(row scanner) (news.Query, error) {
	var q news.Query
	err := row.Scan(&q.ID, &q.UserID, &q.Body, &q.Threshold, &q.Indexed, &q.EuclideanLength, &q.Routed, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (s *Store) listQueries(ctx context.Context, query string, args ...any) ([]news.Query, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []news.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) CreateQuery(ctx context.Context, q news.Query) (news.Query, error) {
	now := s.now()
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`INSERT INTO queries (user_id, body, threshold, indexed, euclidean_length, routed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		 RETURNING id`),
		q.UserID, q.Body, q.Threshold, false, false, now, now,
	).Scan(&q.ID)
	if err != nil {
		return news.Query{}, fmt.Errorf("inserting query: %w", err)
	}
	q.Indexed, q.EuclideanLength, q.Routed = false, 0, false
	q.CreatedAt, q.UpdatedAt = now, now
	return q, nil
}

func (s *Store) QueryByID(ctx context.Context, id int64) (news.Query, error) {
	q, err := scanQuery(s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT `+queryColumns+` FROM queries WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return news.Query{}, fmt.Errorf("query %d: %w", id, apperrors.ErrQueryNotFound)
	}
	if err != nil {
		return news.Query{}, fmt.Errorf("reading query %d: %w", id, err)
	}
	return q, nil
}

func (s *Store) AllQueries(ctx context.Context) ([]news.Query, error) {
	out, err := s.listQueries(ctx, `SELECT `+queryColumns+` FROM queries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return out, nil
}

// UnroutedQueries lists queries whose new-query routing never completed.
func (s *Store) UnroutedQueries(ctx context.Context) ([]news.Query, error) {
	out, err := s.listQueries(ctx, `SELECT `+queryColumns+` FROM queries WHERE routed = ? ORDER BY id`, false)
	if err != nil {
		return nil, fmt.Errorf("listing unrouted queries: %w", err)
	}
	return out, nil
}

func (s *Store) MarkQueryRouted(ctx context.Context, id int64) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`UPDATE queries SET routed = ?, updated_at = ? WHERE id = ?`), true, s.now(), id)
	if err != nil {
		return fmt.Errorf("marking query %d routed: %w", id, err)
	}
	return nil
}
