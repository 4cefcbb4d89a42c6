// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Mongo, Kafka, Index, Crawler, Cycle, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Index    IndexConfig    `yaml:"index"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Router   RouterConfig   `yaml:"router"`
	Cycle    CycleConfig    `yaml:"cycle"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the trigger API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// PostgresConfig holds relational store connection parameters. Driver
// selects between a PostgreSQL server and an embedded SQLite file.
type PostgresConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// DSN returns a data source name for the configured driver.
func (p PostgresConfig) DSN() string {
	if p.Driver == "sqlite" {
		return p.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
	Prefix   string `yaml:"prefix"`
	// ScoreCacheTTL bounds how long ranked score lists are cached; 0 disables.
	ScoreCacheTTL time.Duration `yaml:"scoreCacheTTL"`
}

// MongoConfig holds MongoDB connection parameters for the document-oriented
// index backend.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	QueryCreated   string `yaml:"queryCreated"`
	DocumentRouted string `yaml:"documentRouted"`
}

// IndexConfig selects the inverted index backend.
type IndexConfig struct {
	Backend string `yaml:"backend"`
}

// IndexerConfig controls indexing parallelism.
type IndexerConfig struct {
	Workers int `yaml:"workers"`
}

// CrawlerConfig controls feed polling and body extraction.
type CrawlerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout"`
	FeedTimeout        time.Duration `yaml:"feedTimeout"`
	ExtractionEndpoint string        `yaml:"extractionEndpoint"`
	ExtractionAPIKey   string        `yaml:"extractionApiKey"`
	UserAgent          string        `yaml:"userAgent"`
	Feeds              []string      `yaml:"feeds"`
}

// RouterConfig controls threshold defaults and article paging.
type RouterConfig struct {
	DefaultThreshold float64 `yaml:"defaultThreshold"`
	BatchSize        int     `yaml:"batchSize"`
}

// CycleConfig controls the crawl-index-route schedule and its mutual
// exclusion.
type CycleConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Mode            string        `yaml:"mode"`
	DistributedLock bool          `yaml:"distributedLock"`
	LockTTL         time.Duration `yaml:"lockTTL"`
	RunOnStart      bool          `yaml:"runOnStart"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "memory", "redis", "mongo":
	default:
		return fmt.Errorf("invalid index backend %q (want memory, redis or mongo)", c.Index.Backend)
	}
	switch c.Postgres.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid relational driver %q (want postgres or sqlite)", c.Postgres.Driver)
	}
	switch c.Cycle.Mode {
	case "block", "reject":
	default:
		return fmt.Errorf("invalid cycle mode %q (want block or reject)", c.Cycle.Mode)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler concurrency must be positive, got %d", c.Crawler.Concurrency)
	}
	if c.Router.DefaultThreshold <= 0 || c.Router.DefaultThreshold > 1 {
		return fmt.Errorf("router default threshold must be in (0, 1], got %v", c.Router.DefaultThreshold)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Postgres: PostgresConfig{
			Driver:          "postgres",
			Path:            "newsrouter.db",
			Host:            "localhost",
			Port:            5432,
			Database:        "newsrouter",
			User:            "newsrouter",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			Prefix:        "newsrouter",
			ScoreCacheTTL: 5 * time.Minute,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "newsrouter",
			ConnectTimeout: 10 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "newsrouter-group",
			Topics: KafkaTopics{
				QueryCreated:   "query-created",
				DocumentRouted: "document-routed",
			},
		},
		Index: IndexConfig{
			Backend: "redis",
		},
		Indexer: IndexerConfig{
			Workers: 1,
		},
		Crawler: CrawlerConfig{
			Concurrency:        20,
			FetchTimeout:       30 * time.Second,
			FeedTimeout:        30 * time.Second,
			ExtractionEndpoint: "http://access.alchemyapi.com/calls/url/URLGetText",
			UserAgent:          "news-router/1.0",
		},
		Router: RouterConfig{
			DefaultThreshold: 0.5,
			BatchSize:        500,
		},
		Cycle: CycleConfig{
			Interval:   15 * time.Minute,
			Mode:       "reject",
			LockTTL:    30 * time.Minute,
			RunOnStart: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads NR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NR_POSTGRES_DRIVER"); v != "" {
		cfg.Postgres.Driver = v
	}
	if v := os.Getenv("NR_POSTGRES_PATH"); v != "" {
		cfg.Postgres.Path = v
	}
	if v := os.Getenv("NR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NR_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("NR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NR_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("NR_MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("NR_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("NR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NR_INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = v
	}
	if v := os.Getenv("NR_CRAWLER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Crawler.Concurrency = n
		}
	}
	if v := os.Getenv("NR_EXTRACTION_ENDPOINT"); v != "" {
		cfg.Crawler.ExtractionEndpoint = v
	}
	if v := os.Getenv("NR_EXTRACTION_API_KEY"); v != "" {
		cfg.Crawler.ExtractionAPIKey = v
	}
	if v := os.Getenv("NR_CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cycle.Interval = d
		}
	}
	if v := os.Getenv("NR_CYCLE_MODE"); v != "" {
		cfg.Cycle.Mode = v
	}
	if v := os.Getenv("NR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
