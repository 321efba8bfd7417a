// Package event validates relay payloads and extracts their timestamps.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Event is derived from a payload on demand and never stored.
type Event struct {
	Timestamp time.Time
}

// Codec reads a timestamp from a configured top-level field of a JSON object.
type Codec struct {
	field  string
	layout string
	logger *slog.Logger
}

func NewCodec(field, layout string, logger *slog.Logger) *Codec {
	if layout == "" {
		layout = time.RFC3339Nano
	}
	return &Codec{field: field, layout: layout, logger: logger}
}

// Valid reports whether payload carries a well-formed timestamp. The reason for
// a rejection is logged at warn level.
func (c *Codec) Valid(payload []byte) bool {
	_, err := c.parse(payload)
	if err != nil {
		c.logger.Warn("invalid event", "err", err, "payload", truncate(payload))
		return false
	}
	return true
}

func (c *Codec) Timestamp(payload []byte) (time.Time, bool) {
	ev, err := c.Decode(payload)
	return ev.Timestamp, err == nil
}

func (c *Codec) Decode(payload []byte) (Event, error) {
	ts, err := c.parse(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Timestamp: ts}, nil
}

// Expired uses a strict comparison: an event exactly expiryAge old is not yet due.
func Expired(ev Event, now time.Time, expiryAge time.Duration) bool {
	return now.Sub(ev.Timestamp) > expiryAge
}

var errMissingField = errors.New("timestamp field missing")

func (c *Codec) parse(payload []byte) (time.Time, error) {
	if len(payload) == 0 {
		return time.Time{}, errors.New("empty payload")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return time.Time{}, fmt.Errorf("not a json object: %w", err)
	}
	raw, ok := doc[c.field]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", errMissingField, c.field)
	}
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, fmt.Errorf("field %q is not a string: %w", c.field, err)
	}
	if value == nil {
		return time.Time{}, fmt.Errorf("field %q is null", c.field)
	}
	ts, err := time.Parse(c.layout, *value)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %q: %w", c.field, err)
	}
	return ts, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
