package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brendte/news-router/internal/news"
)

func (s *Store) CreateUser(ctx context.Context, email string) (news.User, error) {
	u := news.User{Email: email}
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`INSERT INTO users (email, created_at) VALUES (?, ?) RETURNING id`), email, s.now()).Scan(&u.ID)
	if err != nil {
		return news.User{}, fmt.Errorf("inserting user %s: %w", email, err)
	}
	return u, nil
}

func (s *Store) UserExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.DB.QueryRowContext(ctx, s.q(`SELECT 1 FROM users WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user %d: %w", id, err)
	}
	return true, nil
}

func (s *Store) HasDelivery(ctx context.Context, articleID, userID int64) (bool, error) {
	var one int
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT 1 FROM articles_users WHERE article_id = ? AND user_id = ?`), articleID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking delivery of article %d to user %d: %w", articleID, userID, err)
	}
	return true, nil
}

func (s *Store) AddDelivery(ctx context.Context, articleID, userID int64) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`INSERT INTO articles_users (article_id, user_id, created_at) VALUES (?, ?, ?)`),
		articleID, userID, s.now())
	if err != nil {
		return fmt.Errorf("delivering article %d to user %d: %w", articleID, userID, err)
	}
	return nil
}

// DeliveredArticleIDs lists the articles delivered to userID.
func (s *Store) DeliveredArticleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.q(
		`SELECT article_id FROM articles_users WHERE user_id = ? ORDER BY article_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries of user %d: %w", userID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
