// Package router decides which users receive which articles. An article is
// delivered to a query's owner when the article scores at or above the
// query's threshold, and at most once per user.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/scorer"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/logger"
	"github.com/brendte/news-router/pkg/metrics"
)

// Repository is the relational side of routing.
type Repository interface {
	AllQueries(ctx context.Context) ([]news.Query, error)
	// UnroutedArticles pages through indexed, unrouted articles with id > afterID.
	UnroutedArticles(ctx context.Context, afterID int64, limit int) ([]news.Article, error)
	// Articles pages through every article with id > afterID.
	Articles(ctx context.Context, afterID int64, limit int) ([]news.Article, error)
	MarkRouted(ctx context.Context, articleID int64) error
	HasDelivery(ctx context.Context, articleID, userID int64) (bool, error)
	AddDelivery(ctx context.Context, articleID, userID int64) error
}

type Scorer interface {
	ScoreOne(ctx context.Context, doc news.Scorable, query news.Indexable, kind news.Kind) (scorer.Score, error)
}

// Result summarises a routing pass.
type Result struct {
	Articles   int `json:"articles"`
	Deliveries int `json:"deliveries"`
	Failed     int `json:"failed"`
}

type Router struct {
	repo      Repository
	scorer    Scorer
	notifier  Notifier
	batchSize int
	threshold float64
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Router. notifier may be nil.
func New(repo Repository, s Scorer, notifier Notifier, cfg config.RouterConfig, m *metrics.Metrics) *Router {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	threshold := cfg.DefaultThreshold
	if threshold <= 0 {
		threshold = news.DefaultThreshold
	}
	return &Router{
		repo:      repo,
		scorer:    s,
		notifier:  notifier,
		batchSize: batch,
		threshold: threshold,
		metrics:   m,
		logger:    logger.WithComponent("router"),
	}
}

// RouteArticle scores article against each query and delivers it to the
// owners whose threshold it meets. It returns the number of new deliveries.
// An error on one query does not stop the others; errors are joined.
func (r *Router) RouteArticle(ctx context.Context, article news.Article, queries ...news.Query) (int, error) {
	var (
		delivered int
		errs      []error
	)
	for _, q := range queries {
		ok, err := r.routeOne(ctx, article, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %d: %w", q.ID, err))
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, errors.Join(errs...)
}

func (r *Router) routeOne(ctx context.Context, article news.Article, q news.Query) (bool, error) {
	score, err := r.scorer.ScoreOne(ctx, article, q, news.KindArticles)
	if err != nil {
		return false, fmt.Errorf("scoring: %w", err)
	}
	if score.Score < q.ThresholdOr(r.threshold) {
		return false, nil
	}
	exists, err := r.repo.HasDelivery(ctx, article.ID, q.UserID)
	if err != nil {
		return false, fmt.Errorf("checking delivery: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := r.repo.AddDelivery(ctx, article.ID, q.UserID); err != nil {
		return false, fmt.Errorf("adding delivery: %w", err)
	}
	r.metrics.DeliveriesTotal.Inc()
	r.logger.Debug("article delivered",
		"article_id", article.ID,
		"user_id", q.UserID,
		"query_id", q.ID,
		"score", score.Score,
	)
	event := DeliveryEvent{
		ArticleID: article.ID,
		UserID:    q.UserID,
		QueryID:   q.ID,
		Score:     score.Score,
		Title:     article.Title,
		URL:       article.URL,
		RoutedAt:  time.Now().UTC(),
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.logger.Warn("delivery notification failed",
			"article_id", article.ID,
			"user_id", q.UserID,
			"error", err,
		)
	}
	return true, nil
}

// RouteNew evaluates every indexed, unrouted article against all queries and
// marks each evaluated article routed whether or not it matched. An article
// whose evaluation hits a storage error stays unrouted for the next cycle.
func (r *Router) RouteNew(ctx context.Context) (Result, error) {
	queries, err := r.repo.AllQueries(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading queries: %w", err)
	}

	var res Result
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := r.repo.UnroutedArticles(ctx, afterID, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("loading unrouted articles: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, article := range page {
			afterID = article.ID
			res.Articles++
			n, err := r.RouteArticle(ctx, article, queries...)
			res.Deliveries += n
			if err != nil {
				res.Failed++
				r.logger.Error("article routing failed", "article_id", article.ID, "error", err)
				continue
			}
			if err := r.repo.MarkRouted(ctx, article.ID); err != nil {
				res.Failed++
				r.logger.Error("marking article routed failed", "article_id", article.ID, "error", err)
			}
		}
		if len(page) < r.batchSize {
			break
		}
	}
	r.logger.Info("routed new articles",
		"queries", len(queries),
		"articles", res.Articles,
		"deliveries", res.Deliveries,
		"failed", res.Failed,
	)
	return res, nil
}

// RouteOnNewQuery evaluates every article, indexed or not, against query.
func (r *Router) RouteOnNewQuery(ctx context.Context, query news.Query) (Result, error) {
	var res Result
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := r.repo.Articles(ctx, afterID, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("loading articles: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, article := range page {
			afterID = article.ID
			res.Articles++
			n, err := r.RouteArticle(ctx, article, query)
			res.Deliveries += n
			if err != nil {
				res.Failed++
				r.logger.Error("article routing failed",
					"article_id", article.ID,
					"query_id", query.ID,
					"error", err,
				)
			}
		}
		if len(page) < r.batchSize {
			break
		}
	}
	r.logger.Info("routed new query",
		"query_id", query.ID,
		"articles", res.Articles,
		"deliveries", res.Deliveries,
		"failed", res.Failed,
	)
	return res, nil
}
