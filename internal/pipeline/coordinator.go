// Package pipeline drives the crawl-index-route cycle and the routing of
// newly created queries. At most one cycle runs at a time per process, and
// optionally across processes through a Locker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/brendte/news-router/internal/crawler"
	"github.com/brendte/news-router/internal/indexer"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/router"
	"github.com/brendte/news-router/pkg/config"
	apperrors "github.com/brendte/news-router/pkg/errors"
	"github.com/brendte/news-router/pkg/logger"
	"github.com/brendte/news-router/pkg/metrics"
	"github.com/brendte/news-router/pkg/tracing"
)

const cycleLockName = "crawl-index-route"

type Crawler interface {
	Crawl(ctx context.Context) (crawler.Stats, error)
}

type Indexer interface {
	IndexNew(ctx context.Context, kind news.Kind) (indexer.Result, error)
}

type Router interface {
	RouteNew(ctx context.Context) (router.Result, error)
	RouteOnNewQuery(ctx context.Context, query news.Query) (router.Result, error)
}

type QueryLoader interface {
	QueryByID(ctx context.Context, id int64) (news.Query, error)
	UnroutedQueries(ctx context.Context) ([]news.Query, error)
	MarkQueryRouted(ctx context.Context, id int64) error
}

// Report describes one finished cycle. Stage failures are listed in Errors;
// later stages still ran.
type Report struct {
	CycleID   string         `json:"cycle_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Crawl     crawler.Stats  `json:"crawl"`
	Index     indexer.Result `json:"index"`
	Route     router.Result  `json:"route"`
	Errors    []string       `json:"errors,omitempty"`

	// Queries sums the routing of queries created since the last cycle
	// whose own routing pass did not complete.
	Queries router.Result `json:"queries"`

	// Stages holds the wall time of crawl, index, route and queries.
	Stages map[string]time.Duration `json:"stages"`
}

type Coordinator struct {
	crawler Crawler
	indexer Indexer
	router  Router
	queries QueryLoader

	// slot holds a token while a cycle runs
	slot    chan struct{}
	block   bool
	locker  Locker
	lockTTL time.Duration

	inflight singleflight.Group
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCoordinator wires the cycle. locker may be nil for single-process use.
func NewCoordinator(c Crawler, ix Indexer, r Router, q QueryLoader, locker Locker, cfg config.CycleConfig, m *metrics.Metrics) *Coordinator {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Coordinator{
		crawler: c,
		indexer: ix,
		router:  r,
		queries: q,
		slot:    make(chan struct{}, 1),
		block:   cfg.Mode == "block",
		locker:  locker,
		lockTTL: ttl,
		metrics: m,
		logger:  logger.WithComponent("pipeline"),
	}
}

// RunCycle crawls, indexes new articles and routes them. In reject mode a
// call made while a cycle is running returns ErrCycleInProgress; in block
// mode it waits for the running cycle or for ctx.
func (c *Coordinator) RunCycle(ctx context.Context) (Report, error) {
	if err := c.enter(ctx); err != nil {
		c.metrics.CyclesTotal.WithLabelValues("rejected").Inc()
		return Report{}, err
	}
	defer c.leave()

	if c.locker != nil {
		ok, err := c.locker.Acquire(ctx, cycleLockName, c.lockTTL)
		if err != nil {
			c.metrics.CyclesTotal.WithLabelValues("error").Inc()
			return Report{}, apperrors.Newf(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "acquiring cycle lock: %v", err)
		}
		if !ok {
			c.metrics.CyclesTotal.WithLabelValues("rejected").Inc()
			return Report{}, fmt.Errorf("held by another process: %w", apperrors.ErrCycleInProgress)
		}
		defer func() {
			if err := c.locker.Release(context.WithoutCancel(ctx), cycleLockName); err != nil {
				c.logger.Warn("releasing cycle lock failed", "error", err)
			}
		}()
	}

	report := Report{CycleID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx = logger.WithCycleID(ctx, report.CycleID)
	log := logger.FromContext(ctx).With("component", "pipeline")
	log.Info("cycle started")
	ctx, span := tracing.Start(ctx, "cycle", report.CycleID)

	stage := func(name string, fn func(ctx context.Context) error) {
		sctx, s := tracing.Start(ctx, name, "")
		err := fn(sctx)
		s.End()
		if err != nil {
			s.SetAttr("error", err.Error())
			report.Errors = append(report.Errors, name+": "+err.Error())
			log.Error(name+" stage failed", "error", err)
		}
	}
	stage("crawl", func(ctx context.Context) (err error) {
		report.Crawl, err = c.crawler.Crawl(ctx)
		return err
	})
	stage("index", func(ctx context.Context) (err error) {
		report.Index, err = c.indexer.IndexNew(ctx, news.KindArticles)
		return err
	})
	stage("route", func(ctx context.Context) (err error) {
		report.Route, err = c.router.RouteNew(ctx)
		return err
	})
	stage("queries", func(ctx context.Context) (err error) {
		report.Queries, err = c.routePendingQueries(ctx)
		return err
	})
	span.End()
	span.Log(log)
	report.Stages = span.Durations()

	report.Duration = time.Since(report.StartedAt)
	c.metrics.CycleDuration.Observe(report.Duration.Seconds())
	status := "ok"
	if len(report.Errors) > 0 {
		status = "partial"
	}
	c.metrics.CyclesTotal.WithLabelValues(status).Inc()
	log.Info("cycle finished",
		"status", status,
		"duration", report.Duration,
		"articles_created", report.Crawl.ArticlesCreated,
		"indexed", report.Index.Indexed,
		"deliveries", report.Route.Deliveries,
		"pending_query_deliveries", report.Queries.Deliveries,
	)
	return report, nil
}

// routePendingQueries finishes new-query routing for every query that is
// not marked routed.
func (c *Coordinator) routePendingQueries(ctx context.Context) (router.Result, error) {
	pending, err := c.queries.UnroutedQueries(ctx)
	if err != nil {
		return router.Result{}, err
	}
	var (
		total router.Result
		errs  []error
	)
	for _, q := range pending {
		res, err := c.OnQueryCreated(ctx, q.ID)
		total.Articles += res.Articles
		total.Deliveries += res.Deliveries
		total.Failed += res.Failed
		if err != nil {
			errs = append(errs, fmt.Errorf("query %d: %w", q.ID, err))
		}
	}
	return total, errors.Join(errs...)
}

func (c *Coordinator) enter(ctx context.Context) error {
	if c.block {
		select {
		case c.slot <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case c.slot <- struct{}{}:
		return nil
	default:
		return apperrors.ErrCycleInProgress
	}
}

func (c *Coordinator) leave() {
	<-c.slot
}

// OnQueryCreated routes every article against the query with the given id.
// Concurrent calls for the same id share one routing pass. The query is
// marked routed only when no article failed; otherwise the next cycle
// routes it again.
func (c *Coordinator) OnQueryCreated(ctx context.Context, queryID int64) (router.Result, error) {
	v, err, shared := c.inflight.Do(strconv.FormatInt(queryID, 10), func() (any, error) {
		q, err := c.queries.QueryByID(ctx, queryID)
		if err != nil {
			return router.Result{}, err
		}
		res, err := c.router.RouteOnNewQuery(ctx, q)
		if err != nil {
			return res, err
		}
		if res.Failed > 0 {
			c.logger.Warn("query routing incomplete, left pending",
				"query_id", q.ID,
				"failed", res.Failed,
			)
			return res, nil
		}
		if !q.Routed {
			if err := c.queries.MarkQueryRouted(ctx, q.ID); err != nil {
				return res, err
			}
		}
		return res, nil
	})
	if shared {
		c.logger.Debug("query routing coalesced", "query_id", queryID)
	}
	res, _ := v.(router.Result)
	return res, err
}
