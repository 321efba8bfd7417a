package dispatch

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/envelope"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/event"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/storage"
)

// Status is where a stored record stands relative to dispatch.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDue         Status = "due"
	StatusUndecodable Status = "undecodable"
	StatusInvalid     Status = "invalid"
)

// Decoder extracts the event from a payload. *event.Codec implements it.
type Decoder interface {
	Decode(payload []byte) (event.Event, error)
}

// Entry is one stored record as seen by a dispatch pass.
type Entry struct {
	StorageKey []byte
	Status     Status
	Envelope   envelope.Envelope
	Timestamp  time.Time
	Age        time.Duration
	// Err is why an undecodable or invalid record cannot be dispatched.
	Err error
}

func classify(rec storage.Record, dec Decoder, now time.Time, expiryAge time.Duration) Entry {
	e := Entry{StorageKey: rec.Key}
	env, err := envelope.Decode(rec.Value)
	if err != nil {
		e.Status = StatusUndecodable
		e.Err = err
		return e
	}
	e.Envelope = env
	ev, err := dec.Decode(env.Payload)
	if err != nil {
		e.Status = StatusInvalid
		e.Err = err
		return e
	}
	e.Timestamp = ev.Timestamp
	e.Age = now.Sub(ev.Timestamp)
	if event.Expired(ev, now, expiryAge) {
		e.Status = StatusDue
	} else {
		e.Status = StatusPending
	}
	return e
}

// Summary counts stored records by status.
type Summary struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Due         int `json:"due"`
	Undecodable int `json:"undecodable"`
	Invalid     int `json:"invalid"`
}

func (s *Summary) add(st Status) {
	s.Total++
	switch st {
	case StatusPending:
		s.Pending++
	case StatusDue:
		s.Due++
	case StatusUndecodable:
		s.Undecodable++
	case StatusInvalid:
		s.Invalid++
	}
}

// Inspect scans store without modifying it and reports every record to fn,
// which may be nil. An error from fn stops the scan.
func Inspect(ctx context.Context, store storage.Storage, dec Decoder, now time.Time, expiryAge time.Duration, fn func(Entry) error) (Summary, error) {
	var sum Summary
	err := store.Scan(ctx, func(rec storage.Record) error {
		e := classify(rec, dec, now, expiryAge)
		sum.add(e.Status)
		if fn != nil {
			return fn(e)
		}
		return nil
	})
	return sum, err
}
