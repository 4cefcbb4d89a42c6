package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brendte/news-router/pkg/config"
	apperrors "github.com/brendte/news-router/pkg/errors"
	_ "github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
)

// Dialect identifies the SQL flavour behind a Client.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type Client struct {
	DB      *sql.DB
	dialect Dialect
}

func New(cfg config.PostgresConfig) (*Client, error) {
	dialect := Dialect(cfg.Driver)
	if dialect == "" {
		dialect = DialectPostgres
	}
	db, err := sql.Open(string(dialect), cfg.DSN())
	if err != nil {
		// only an unregistered driver fails here
		return nil, fmt.Errorf("opening %s connection: %w: %w", dialect, apperrors.ErrInvalidInput, err)
	}

	if dialect == DialectSQLite {
		// single writer; concurrent crawler inserts queue on the pool
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", dialect, err)
	}
	return &Client{DB: db, dialect: dialect}, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sql.DB, dialect Dialect) *Client {
	return &Client{DB: db, dialect: dialect}
}

func (c *Client) Dialect() Dialect {
	return c.dialect
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
func (c *Client) Rebind(query string) string {
	if c.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
