package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/delayrelay/libs/db"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS relay_records (
	storage_key BYTEA PRIMARY KEY,
	value       BYTEA NOT NULL,
	stored_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores records in a single table. Scan streams rows ordered by key
// from one statement snapshot while deletes run on other pooled connections.
type Postgres struct {
	pool *db.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres: url is required")
	}
	pool, err := db.Open(ctx, databaseURL, db.Options{MinConns: 2})
	if err != nil {
		return nil, wrapPostgres("open", err)
	}
	p := &Postgres{pool: pool}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, wrapPostgres("migrate", err)
	}
	return p, nil
}

func (p *Postgres) Put(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO relay_records (storage_key, value)
		VALUES ($1, $2)
		ON CONFLICT (storage_key) DO UPDATE SET value = EXCLUDED.value, stored_at = now()
	`, rec.Key, rec.Value)
	return wrapPostgres("put", err)
}

func (p *Postgres) Delete(ctx context.Context, key []byte) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM relay_records WHERE storage_key = $1`, key)
	return wrapPostgres("delete", err)
}

func (p *Postgres) Scan(ctx context.Context, fn func(Record) error) error {
	rows, err := p.pool.Query(ctx, `SELECT storage_key, value FROM relay_records ORDER BY storage_key`)
	if err != nil {
		return wrapPostgres("scan", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return wrapPostgres("scan", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return wrapPostgres("scan", rows.Err())
}

func (p *Postgres) Ping(ctx context.Context) error {
	return wrapPostgres("ping", db.ReadyCheck(p.pool)(ctx))
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func wrapPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return &Error{Kind: KindUnavailable, Backend: TypePostgres, Op: op, Err: err}
	}
	return wrap(TypePostgres, op, err)
}
