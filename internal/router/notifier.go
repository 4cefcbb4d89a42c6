package router

import (
	"context"
	"strconv"
	"time"

	"github.com/brendte/news-router/pkg/kafka"
)

// DeliveryEvent is published once per new article-to-user delivery.
type DeliveryEvent struct {
	ArticleID int64     `json:"article_id"`
	UserID    int64     `json:"user_id"`
	QueryID   int64     `json:"query_id"`
	Score     float64   `json:"score"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url,omitempty"`
	RoutedAt  time.Time `json:"routed_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event DeliveryEvent) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, DeliveryEvent) error { return nil }

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaNotifier publishes deliveries keyed by user id, so one user's
// deliveries stay ordered on a partition.
type KafkaNotifier struct {
	pub Publisher
}

func NewKafkaNotifier(pub Publisher) *KafkaNotifier {
	return &KafkaNotifier{pub: pub}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event DeliveryEvent) error {
	return n.pub.Publish(ctx, kafka.Event{
		Key:   strconv.FormatInt(event.UserID, 10),
		Value: event,
	})
}
