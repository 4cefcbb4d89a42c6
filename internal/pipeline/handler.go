package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/brendte/news-router/pkg/errors"
	"github.com/brendte/news-router/pkg/kafka"
)

// QueryCreatedEvent is the payload of the query-created topic.
type QueryCreatedEvent struct {
	QueryID   int64     `json:"query_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleQueryCreated consumes query-created events. Malformed events and
// events for queries that no longer exist are dropped; anything else is
// left uncommitted for redelivery.
func HandleQueryCreated(c *Coordinator) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[QueryCreatedEvent](value)
		if err != nil {
			return err
		}
		if event.QueryID <= 0 {
			return fmt.Errorf("query-created event without query id: %w", kafka.ErrPermanent)
		}
		if _, err := c.OnQueryCreated(ctx, event.QueryID); err != nil {
			if errors.Is(err, apperrors.ErrQueryNotFound) {
				return fmt.Errorf("%w: %w", kafka.ErrPermanent, err)
			}
			return err
		}
		return nil
	}
}
