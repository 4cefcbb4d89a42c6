// Package app wires configuration into a running set of components. Both the
// daemon and the admin CLI build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brendte/news-router/internal/crawler"
	"github.com/brendte/news-router/internal/crawler/extract"
	"github.com/brendte/news-router/internal/crawler/feed"
	"github.com/brendte/news-router/internal/indexer"
	"github.com/brendte/news-router/internal/indexer/index"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/internal/queries"
	"github.com/brendte/news-router/internal/router"
	"github.com/brendte/news-router/internal/scorer"
	"github.com/brendte/news-router/internal/store"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/health"
	"github.com/brendte/news-router/pkg/kafka"
	"github.com/brendte/news-router/pkg/metrics"
	pkgmongo "github.com/brendte/news-router/pkg/mongo"
	"github.com/brendte/news-router/pkg/postgres"
	pkgredis "github.com/brendte/news-router/pkg/redis"
	"github.com/brendte/news-router/pkg/resilience"
)

type App struct {
	Config      *config.Config
	Metrics     *metrics.Metrics
	Store       *store.Store
	Index       index.Store
	Crawler     *crawler.Crawler
	Indexer     *indexer.Indexer
	Scorer      *scorer.Scorer
	Ranker      scorer.ScoreAller
	Router      *router.Router
	Coordinator *pipeline.Coordinator
	Queries     *queries.Service
	Health      *health.Checker

	db      *postgres.Client
	redis   *pkgredis.Client
	closers []func() error
	logger  *slog.Logger
}

// New connects to every configured backend, migrates the relational schema
// and registers the configured feeds. reg receives the Prometheus collectors;
// nil selects the default registry. On error everything opened so far is
// closed.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (a *App, err error) {
	a = &App{
		Config:  cfg,
		Metrics: metrics.New(reg),
		Health:  health.NewChecker(),
		logger:  slog.Default().With("component", "app"),
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return a, err
	}
	if err := a.openIndex(ctx); err != nil {
		return a, err
	}

	breaker := resilience.NewCircuitBreaker("extraction", resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, to resilience.State) {
			a.Metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})
	a.Metrics.CircuitBreakerState.WithLabelValues("extraction").Set(float64(resilience.StateClosed))

	a.Crawler = crawler.New(a.Store, feed.NewSource(cfg.Crawler), extract.New(cfg.Crawler, breaker), cfg.Crawler, a.Metrics)
	a.Indexer = indexer.New(a.Index, a.Store, cfg.Indexer, a.Metrics)
	a.Scorer = scorer.New(a.Index, a.Store, a.Metrics)

	var notifier router.Notifier = router.NopNotifier{}
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentRouted)
		a.closers = append(a.closers, p.Close)
		notifier = router.NewKafkaNotifier(p)
	}
	a.Router = router.New(a.Store, a.Scorer, notifier, cfg.Router, a.Metrics)

	var locker pipeline.Locker
	if cfg.Cycle.DistributedLock {
		rc, err := a.redisClient()
		if err != nil {
			return a, err
		}
		locker = pipeline.NewRedisLock(rc)
	}
	// a positive TTL puts ranked lists behind Redis whatever the index backend
	a.Ranker = a.Scorer
	var stageIndexer pipeline.Indexer = a.Indexer
	if cfg.Redis.ScoreCacheTTL > 0 {
		rc, err := a.redisClient()
		if err != nil {
			return a, fmt.Errorf("score cache: %w", err)
		}
		cache := scorer.NewCache(a.Scorer, rc, cfg.Redis.ScoreCacheTTL, a.Metrics)
		a.Ranker = cache
		stageIndexer = &invalidatingIndexer{next: a.Indexer, cache: cache, logger: a.logger}
	}
	a.Coordinator = pipeline.NewCoordinator(a.Crawler, stageIndexer, a.Router, a.Store, locker, cfg.Cycle, a.Metrics)

	var announcer queries.Announcer
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryCreated)
		a.closers = append(a.closers, p.Close)
		announcer = queries.NewKafkaAnnouncer(p)
	} else {
		inline := queries.NewInlineAnnouncer(a.Coordinator)
		// routing passes still running need the store and index open
		a.closers = append(a.closers, func() error {
			inline.Wait()
			return nil
		})
		announcer = inline
	}
	a.Queries = queries.NewService(a.Store, announcer, a.Metrics)

	a.Health.Register("database", health.PingCheck(a.Store.Ping, true))
	a.Health.Register("index", health.PingCheck(a.Index.Ping, true))
	a.Health.Register("extraction", func(context.Context) health.ComponentHealth {
		if breaker.GetState() == resilience.StateOpen {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit open"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if a.redis != nil && cfg.Index.Backend != "redis" {
		a.Health.Register("redis", health.PingCheck(a.redis.Ping, false))
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	err := resilience.Retry(ctx, "connect "+cfg.Postgres.Driver, resilience.RetryConfig{MaxAttempts: 5}, func(context.Context) error {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		a.db = db
		return nil
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	a.Store = store.New(a.db)
	if err := a.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	for _, url := range cfg.Crawler.Feeds {
		if _, err := a.Store.EnsureFeed(ctx, url); err != nil {
			return fmt.Errorf("registering feed %s: %w", url, err)
		}
	}
	return nil
}

func (a *App) openIndex(ctx context.Context) error {
	switch a.Config.Index.Backend {
	case "memory":
		a.Index = index.NewMemoryStore()
		a.logger.Warn("using in-memory index; it is lost on restart and only articles indexed by this process are searchable")
	case "mongo":
		mc, err := pkgmongo.NewClient(ctx, a.Config.Mongo)
		if err != nil {
			return err
		}
		ms := index.NewMongoStore(mc.Database(), mc.Close)
		if err := ms.EnsureIndexes(ctx, news.KindArticles, news.KindQueries); err != nil {
			_ = ms.Close()
			return fmt.Errorf("creating index collections: %w", err)
		}
		a.Index = ms
	default:
		rc, err := a.redisClient()
		if err != nil {
			return err
		}
		// closed through redisClient's closer
		a.Index = index.NewRedisStore(rc)
		return nil
	}
	a.closers = append(a.closers, a.Index.Close)
	return nil
}

// redisClient connects on first use; the index and the cycle lock share it.
func (a *App) redisClient() (*pkgredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	rc, err := pkgredis.NewClient(a.Config.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.redis = rc
	a.closers = append(a.closers, rc.Close)
	return rc, nil
}

// QueryConsumer returns the consumer feeding query-created events to the
// coordinator, or nil when Kafka is disabled.
func (a *App) QueryConsumer() *kafka.Consumer {
	if !a.Config.Kafka.Enabled {
		return nil
	}
	return kafka.NewConsumer(a.Config.Kafka, a.Config.Kafka.Topics.QueryCreated, pipeline.HandleQueryCreated(a.Coordinator))
}

// invalidatingIndexer drops cached score lists once a cycle changed the index.
type invalidatingIndexer struct {
	next   pipeline.Indexer
	cache  *scorer.Cache
	logger *slog.Logger
}

func (i *invalidatingIndexer) IndexNew(ctx context.Context, kind news.Kind) (indexer.Result, error) {
	res, err := i.next.IndexNew(ctx, kind)
	if res.Indexed > 0 {
		if cerr := i.cache.Invalidate(ctx); cerr != nil {
			i.logger.Warn("score cache invalidation failed", "error", cerr)
		}
	}
	return res, err
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
