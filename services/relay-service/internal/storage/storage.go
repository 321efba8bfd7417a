// Package storage holds relay records between ingestion and dispatch.
//
// Records are only ever found by a full Scan; keys are opaque to every backend.
// All backends tolerate Put from one goroutine concurrently with Scan and Delete
// from another. Close must not race with other calls.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Record struct {
	Key   []byte
	Value []byte
}

type Storage interface {
	// Put stores or overwrites the value at rec.Key.
	Put(ctx context.Context, rec Record) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key []byte) error
	// Scan calls fn once for every record present when the scan starts that is
	// not deleted before being visited. Records written during the scan may or
	// may not be visited. An error from fn stops the scan and is returned as is.
	Scan(ctx context.Context, fn func(Record) error) error
	Close() error
}

// Pinger is implemented by backends that depend on a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Kind int

const (
	KindIO Kind = iota + 1
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io failure"
	case KindUnavailable:
		return "backend unavailable"
	default:
		return "unknown"
	}
}

var ErrClosed = errors.New("storage closed")

type Error struct {
	Kind    Kind
	Backend Type
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %s: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsUnavailable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindUnavailable
}

// wrap classifies err. Closed stores and transport failures are unavailable,
// everything else is treated as an I/O failure of an otherwise reachable backend.
func wrap(backend Type, op string, err error, unavailable ...error) error {
	if err == nil {
		return nil
	}
	kind := KindIO
	var netErr net.Error
	switch {
	case errors.Is(err, ErrClosed), errors.As(err, &netErr):
		kind = KindUnavailable
	default:
		for _, u := range unavailable {
			if errors.Is(err, u) {
				kind = KindUnavailable
				break
			}
		}
	}
	return &Error{Kind: kind, Backend: backend, Op: op, Err: err}
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
