package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/socialminer/crawler/internal/engine"
)

// PgxIface is the slice of pgxpool.Pool the sink needs; pgxmock satisfies it
// in tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertItemSQL = `
INSERT INTO crawl_items (platform, item_key, task_id, payload, discovered_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (platform, item_key) DO NOTHING`

// Postgres persists items into the crawl_items table, relying on the
// (platform, item_key) unique constraint for dedup.
type Postgres struct {
	db PgxIface
}

// NewPostgres connects a pool for the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres sink: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres sink: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// NewPostgresWithDB wraps an existing connection; used by tests.
func NewPostgresWithDB(db PgxIface) *Postgres {
	return &Postgres{db: db}
}

// Put inserts the item. A conflicting key reports Duplicate; transport
// errors are returned for item-level retry.
func (p *Postgres) Put(ctx context.Context, item engine.NormalizedItem) (engine.PutResult, error) {
	tag, err := p.db.Exec(ctx, insertItemSQL,
		item.Platform, item.Key, item.TaskID, []byte(item.Payload), item.DiscoveredAt)
	if err != nil {
		return "", fmt.Errorf("insert item %s/%s: %w", item.Platform, item.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return engine.PutDuplicate, nil
	}
	return engine.PutOK, nil
}
