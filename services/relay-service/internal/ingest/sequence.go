package ingest

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// Sequencer hands out strictly increasing storage keys for one process run.
// It starts at math.MinInt64 and is not persisted, so a restarted process may
// reuse keys already on disk; records are only found by scanning, never by key.
type Sequencer struct {
	next atomic.Int64
}

func NewSequencer() *Sequencer {
	s := &Sequencer{}
	s.next.Store(math.MinInt64)
	return s
}

// Next returns the next value and its 8-byte big-endian key encoding.
func (s *Sequencer) Next() (int64, []byte) {
	v := s.next.Add(1) - 1
	return v, SequenceKey(v)
}

func SequenceKey(v int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(v))
	return key
}

// ParseSequenceKey reports false for keys that are not 8 bytes long.
func ParseSequenceKey(key []byte) (int64, bool) {
	if len(key) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key)), true
}
