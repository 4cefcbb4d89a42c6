// Package queries accepts new standing queries from users, stores them and
// announces them so every existing article is routed against them.
package queries

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/internal/router"
	"github.com/brendte/news-router/pkg/kafka"
	"github.com/brendte/news-router/pkg/logger"
	"github.com/brendte/news-router/pkg/metrics"
)

// Request is the JSON body accepted when creating a query. A zero Threshold
// leaves the query on the default threshold.
type Request struct {
	UserID    int64   `json:"user_id"`
	Body      string  `json:"body"`
	Threshold float64 `json:"threshold"`
}

type Repository interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	CreateQuery(ctx context.Context, q news.Query) (news.Query, error)
}

// Announcer tells the rest of the system a query was stored.
type Announcer interface {
	Announce(ctx context.Context, q news.Query) error
}

type Service struct {
	repo      Repository
	announcer Announcer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(repo Repository, announcer Announcer, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		announcer: announcer,
		metrics:   m,
		logger:    slog.Default().With("component", "queries"),
	}
}

// Create validates and stores the query, then announces it. A failed
// announcement is logged and the stored query is still returned; it stays
// unrouted and the next cycle routes it.
func (s *Service) Create(ctx context.Context, req Request) (news.Query, error) {
	if err := Validate(&req); err != nil {
		return news.Query{}, err
	}
	exists, err := s.repo.UserExists(ctx, req.UserID)
	if err != nil {
		return news.Query{}, fmt.Errorf("checking user %d: %w", req.UserID, err)
	}
	if !exists {
		return news.Query{}, &ValidationError{Fields: map[string]string{"user_id": "unknown user"}}
	}

	q, err := s.repo.CreateQuery(ctx, news.Query{
		UserID:    req.UserID,
		Body:      strings.TrimSpace(req.Body),
		Threshold: news.ClampThreshold(req.Threshold),
	})
	if err != nil {
		return news.Query{}, fmt.Errorf("storing query: %w", err)
	}
	s.metrics.QueriesCreatedTotal.Inc()

	if s.announcer != nil {
		if err := s.announcer.Announce(ctx, q); err != nil {
			s.logger.Error("announcing query failed, the next cycle will route it",
				"query_id", q.ID,
				"user_id", q.UserID,
				"error", err,
			)
		}
	}
	s.logger.Info("query created", "query_id", q.ID, "user_id", q.UserID, "threshold", q.Threshold)
	return q, nil
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaAnnouncer publishes a query-created event keyed by user id.
type KafkaAnnouncer struct {
	pub Publisher
}

func NewKafkaAnnouncer(pub Publisher) *KafkaAnnouncer {
	return &KafkaAnnouncer{pub: pub}
}

func (a *KafkaAnnouncer) Announce(ctx context.Context, q news.Query) error {
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return a.pub.Publish(ctx, kafka.Event{
		Key: strconv.FormatInt(q.UserID, 10),
		Value: pipeline.QueryCreatedEvent{
			QueryID:   q.ID,
			UserID:    q.UserID,
			CreatedAt: created,
		},
	})
}

// QueryRouter is satisfied by *pipeline.Coordinator.
type QueryRouter interface {
	OnQueryCreated(ctx context.Context, queryID int64) (router.Result, error)
}

// InlineAnnouncer routes the query in-process, in a background goroutine
// detached from the caller's cancellation. A pass that does not complete
// leaves the query unrouted for the next cycle.
type InlineAnnouncer struct {
	router QueryRouter
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewInlineAnnouncer(r QueryRouter) *InlineAnnouncer {
	return &InlineAnnouncer{
		router: r,
		logger: slog.Default().With("component", "queries"),
	}
}

func (a *InlineAnnouncer) Announce(ctx context.Context, q news.Query) error {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res, err := a.router.OnQueryCreated(ctx, q.ID)
		if err != nil {
			logger.FromContext(ctx).Error("routing new query failed, the next cycle will retry",
				"query_id", q.ID,
				"error", err,
			)
			return
		}
		a.logger.Debug("new query routed", "query_id", q.ID, "deliveries", res.Deliveries)
	}()
	return nil
}

// Wait blocks until every routing pass started by Announce has returned.
func (a *InlineAnnouncer) Wait() {
	a.wg.Wait()
}
