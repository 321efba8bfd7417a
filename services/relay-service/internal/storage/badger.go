package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is an alternative persistent embedded backend. Writes are synced.
type Badger struct {
	db      *badger.DB
	logger  *slog.Logger
	closed  atomic.Bool
	stop    chan struct{}
	stopped sync.WaitGroup
}

func OpenBadger(dir string, logger *slog.Logger) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("badger: path is required")
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrap(TypeBadger, "open", fmt.Errorf("%s: %w", dir, err))
	}

	b := &Badger{db: db, logger: logger, stop: make(chan struct{})}
	b.stopped.Add(1)
	go b.runGC(5 * time.Minute)
	return b, nil
}

// runGC reclaims value log space left behind by dispatched (deleted) records.
func (b *Badger) runGC(every time.Duration) {
	defer b.stopped.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.db.RunValueLogGC(0.7); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log gc failed", "err", err)
			}
		}
	}
}

func (b *Badger) Put(_ context.Context, rec Record) error {
	if b.closed.Load() {
		return wrap(TypeBadger, "put", ErrClosed)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rec.Key, rec.Value)
	})
	return wrap(TypeBadger, "put", err)
}

func (b *Badger) Delete(_ context.Context, key []byte) error {
	if b.closed.Load() {
		return wrap(TypeBadger, "delete", ErrClosed)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	return wrap(TypeBadger, "delete", err)
}

// Scan runs inside one read transaction, so it sees the snapshot taken when
// the scan began.
func (b *Badger) Scan(ctx context.Context, fn func(Record) error) error {
	if b.closed.Load() {
		return wrap(TypeBadger, "scan", ErrClosed)
	}
	var fnErr error
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				fnErr = err
				return nil
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(Record{Key: item.KeyCopy(nil), Value: value}); err != nil {
				fnErr = err
				return nil
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return wrap(TypeBadger, "scan", err)
}

func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.stop)
	b.stopped.Wait()
	return b.db.Close()
}
