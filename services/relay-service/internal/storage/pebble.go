package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// Pebble is the persistent embedded backend. Every write is synced to the WAL
// before it returns, so a committed input offset never outlives its record.
type Pebble struct {
	db     *pebble.DB
	closed atomic.Bool
}

func OpenPebble(dir string) (*Pebble, error) {
	if dir == "" {
		return nil, errors.New("pebble: path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap(TypePebble, "open", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, wrap(TypePebble, "open", fmt.Errorf("%s: %w", dir, err))
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Put(_ context.Context, rec Record) error {
	if p.closed.Load() {
		return wrap(TypePebble, "put", ErrClosed)
	}
	return wrap(TypePebble, "put", p.db.Set(rec.Key, rec.Value, pebble.Sync), pebble.ErrClosed)
}

func (p *Pebble) Delete(_ context.Context, key []byte) error {
	if p.closed.Load() {
		return wrap(TypePebble, "delete", ErrClosed)
	}
	return wrap(TypePebble, "delete", p.db.Delete(key, pebble.Sync), pebble.ErrClosed)
}

// Scan iterates a point-in-time view in key order. Deletes issued from fn do
// not disturb the open iterator.
func (p *Pebble) Scan(ctx context.Context, fn func(Record) error) error {
	if p.closed.Load() {
		return wrap(TypePebble, "scan", ErrClosed)
	}
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return wrap(TypePebble, "scan", err, pebble.ErrClosed)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := Record{Key: clone(iter.Key()), Value: clone(iter.Value())}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return wrap(TypePebble, "scan", iter.Error(), pebble.ErrClosed)
}

func (p *Pebble) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}
