package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, s Storage) map[string][]byte {
	t.Helper()
	got := map[string][]byte{}
	err := s.Scan(context.Background(), func(rec Record) error {
		if _, dup := got[string(rec.Key)]; dup {
			return fmt.Errorf("key %x visited twice", rec.Key)
		}
		got[string(rec.Key)] = rec.Value
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return got
}

// runContract exercises the behaviour every non-discard backend shares.
func runContract(t *testing.T, s Storage) {
	ctx := context.Background()

	t.Run("put scan delete", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			key := []byte{0x80, 0, 0, 0, 0, 0, 0, byte(i)}
			if err := s.Put(ctx, Record{Key: key, Value: []byte(fmt.Sprintf("v%d", i))}); err != nil {
				t.Fatalf("put %d: %v", i, err)
			}
		}
		got := collect(t, s)
		if len(got) != 5 {
			t.Fatalf("expected 5 records, got %d", len(got))
		}
		if string(got[string([]byte{0x80, 0, 0, 0, 0, 0, 0, 3})]) != "v3" {
			t.Fatalf("unexpected value for key 3: %q", got[string([]byte{0x80, 0, 0, 0, 0, 0, 0, 3})])
		}

		for i := 0; i < 5; i++ {
			if err := s.Delete(ctx, []byte{0x80, 0, 0, 0, 0, 0, 0, byte(i)}); err != nil {
				t.Fatalf("delete %d: %v", i, err)
			}
		}
		if got := collect(t, s); len(got) != 0 {
			t.Fatalf("expected empty store, got %d records", len(got))
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		key := []byte("k-overwrite")
		_ = s.Put(ctx, Record{Key: key, Value: []byte("a")})
		if err := s.Put(ctx, Record{Key: key, Value: []byte("b")}); err != nil {
			t.Fatalf("put: %v", err)
		}
		got := collect(t, s)
		if !bytes.Equal(got[string(key)], []byte("b")) {
			t.Fatalf("expected overwritten value b, got %q", got[string(key)])
		}
		_ = s.Delete(ctx, key)
	})

	t.Run("delete absent", func(t *testing.T) {
		if err := s.Delete(ctx, []byte("never-written")); err != nil {
			t.Fatalf("deleting an absent key must not fail: %v", err)
		}
	})

	t.Run("delete during scan", func(t *testing.T) {
		keys := [][]byte{[]byte("d1"), []byte("d2"), []byte("d3")}
		for _, k := range keys {
			_ = s.Put(ctx, Record{Key: k, Value: k})
		}
		visited := 0
		err := s.Scan(ctx, func(rec Record) error {
			visited++
			return s.Delete(ctx, rec.Key)
		})
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if visited != len(keys) {
			t.Fatalf("expected %d visits, got %d", len(keys), visited)
		}
		if got := collect(t, s); len(got) != 0 {
			t.Fatalf("expected empty store after deleting in scan, got %d", len(got))
		}
	})

	t.Run("callback error stops scan", func(t *testing.T) {
		_ = s.Put(ctx, Record{Key: []byte("e1"), Value: []byte("1")})
		_ = s.Put(ctx, Record{Key: []byte("e2"), Value: []byte("2")})
		stop := errors.New("stop")
		calls := 0
		err := s.Scan(ctx, func(Record) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Fatalf("expected callback error, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected 1 call, got %d", calls)
		}
		_ = s.Delete(ctx, []byte("e1"))
		_ = s.Delete(ctx, []byte("e2"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		_ = s.Put(ctx, Record{Key: []byte("c1"), Value: []byte("1")})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.Scan(cctx, func(Record) error { return nil })
		if err == nil {
			t.Fatal("expected scan to fail on cancelled context")
		}
		_ = s.Delete(ctx, []byte("c1"))
	})

	t.Run("concurrent put with scan and delete", func(t *testing.T) {
		const total = 2000
		keyOf := func(i int) []byte {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, 0x9000000000000000|uint64(i))
			return key
		}

		putErr := make(chan error, 1)
		go func() {
			for i := 0; i < total; i++ {
				if err := s.Put(ctx, Record{Key: keyOf(i), Value: []byte{byte(i)}}); err != nil {
					putErr <- fmt.Errorf("put %d: %w", i, err)
					return
				}
			}
			putErr <- nil
		}()

		deleted := make(map[string]struct{}, total)
		writerDone := false
		deadline := time.Now().Add(30 * time.Second)
		for {
			if !writerDone {
				select {
				case err := <-putErr:
					if err != nil {
						t.Fatal(err)
					}
					writerDone = true
				default:
				}
			}
			seen := 0
			err := s.Scan(ctx, func(rec Record) error {
				seen++
				if err := s.Delete(ctx, rec.Key); err != nil {
					return err
				}
				deleted[string(rec.Key)] = struct{}{}
				return nil
			})
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if writerDone && seen == 0 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("store not drained: %d of %d deleted", len(deleted), total)
			}
		}

		if len(deleted) != total {
			t.Fatalf("expected %d keys deleted, got %d", total, len(deleted))
		}
		for i := 0; i < total; i++ {
			if _, ok := deleted[string(keyOf(i))]; !ok {
				t.Fatalf("key %d never seen by scan", i)
			}
		}
	})
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	var s Storage = Discard{}
	for i := 0; i < 100; i++ {
		if err := s.Put(ctx, Record{Key: []byte{byte(i)}, Value: []byte("x")}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if got := collect(t, s); len(got) != 0 {
		t.Fatalf("expected empty scan, got %d", len(got))
	}
	if err := s.Delete(ctx, []byte{1}); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestMemory(t *testing.T) {
	runContract(t, NewMemory())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	value := []byte("abc")
	_ = m.Put(context.Background(), Record{Key: []byte("k"), Value: value})
	value[0] = 'X'
	got := collect(t, m)
	if string(got["k"]) != "abc" {
		t.Fatalf("stored value must not alias the caller's buffer, got %q", got["k"])
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", m.Len())
	}
}

func TestPebble(t *testing.T) {
	s, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runContract(t, s)
}

func TestPebbleScanOrderAndReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		if err := s.Put(ctx, Record{Key: []byte(k), Value: []byte(k)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenPebble(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var order []string
	_ = s.Scan(ctx, func(rec Record) error {
		order = append(order, string(rec.Key))
		return nil
	})
	if !sort.StringsAreSorted(order) || len(order) != 3 {
		t.Fatalf("expected 3 records in key order after reopen, got %v", order)
	}
}

func TestPebbleClosedIsUnavailable(t *testing.T) {
	s, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	err = s.Put(context.Background(), Record{Key: []byte("k"), Value: []byte("v")})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Backend != TypePebble || se.Op != "put" {
		t.Fatalf("unexpected error detail: %#v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
}

func TestBadger(t *testing.T) {
	s, err := OpenBadger(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runContract(t, s)
}

func TestBadgerClosedIsUnavailable(t *testing.T) {
	s, err := OpenBadger(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	if err := s.Delete(context.Background(), []byte("k")); !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}
	s, err := OpenRedis(context.Background(), RedisOptions{Addr: addr, Prefix: "relay:test:" + t.Name() + ":"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runContract(t, s)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("RELAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set")
	}
	s, err := OpenPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runContract(t, s)
}
