package storage

import (
	"context"
	"sync"
)

// Memory is a volatile backend. Scan is a live, weakly consistent view: it may
// observe records put during the scan and skips records deleted before they
// are reached.
type Memory struct {
	data sync.Map // string(key) -> []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	m.data.Store(string(rec.Key), clone(rec.Value))
	return nil
}

func (m *Memory) Delete(_ context.Context, key []byte) error {
	m.data.Delete(string(key))
	return nil
}

func (m *Memory) Scan(ctx context.Context, fn func(Record) error) error {
	var err error
	m.data.Range(func(k, v any) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		err = fn(Record{Key: []byte(k.(string)), Value: clone(v.([]byte))})
		return err == nil
	})
	return err
}

// Len counts records by walking the map.
func (m *Memory) Len() int {
	n := 0
	m.data.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *Memory) Close() error { return nil }
