// Package dispatch republishes expired records from storage to the output
// streams.
package dispatch

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/delayrelay/libs/otel"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sink sends one message to a destination and returns once it is
// acknowledged or has failed.
type Sink interface {
	Send(ctx context.Context, destination string, key, payload []byte) error
}

type Config struct {
	Interval     time.Duration
	ExpiryAge    time.Duration
	Destinations []string
	Now          func() time.Time
}

type Dispatcher struct {
	store        storage.Storage
	decoder      Decoder
	sink         Sink
	sendMu       sync.Mutex
	logger       *slog.Logger
	interval     time.Duration
	expiryAge    time.Duration
	destinations []string
	now          func() time.Time
}

func NewDispatcher(store storage.Storage, decoder Decoder, sink Sink, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:        store,
		decoder:      decoder,
		sink:         sink,
		logger:       logger.With("component", "dispatch"),
		interval:     cfg.Interval,
		expiryAge:    cfg.ExpiryAge,
		destinations: append([]string(nil), cfg.Destinations...),
		now:          cfg.Now,
	}
}

// PassResult counts what one pass did with each scanned record.
type PassResult struct {
	Scanned       int
	Dispatched    int
	Pending       int
	Undecodable   int
	Invalid       int
	PublishFailed int
	DeleteFailed  int
}

// Run executes a pass immediately and then one pass per interval, measured
// from the end of the previous pass, until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				if storage.IsUnavailable(err) {
					d.logger.Warn("storage unavailable; retrying next pass", "err", err)
				} else {
					d.logger.Error("dispatch pass failed", "err", err)
				}
			}
			timer.Reset(d.interval)
		}
	}
}

// RunOnce scans storage and sends every expired record to all destinations,
// deleting it once every destination acknowledged. Publish and delete
// failures leave the record for a later pass; only a scan failure is
// returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (PassResult, error) {
	var res PassResult
	now := d.now()
	logger := d.logger.With("pass", uuid.NewString())

	err := d.store.Scan(ctx, func(rec storage.Record) error {
		res.Scanned++
		e := classify(rec, d.decoder, now, d.expiryAge)
		key := hex.EncodeToString(rec.Key)
		switch e.Status {
		case StatusUndecodable:
			res.Undecodable++
			logger.Warn("cannot decode stored record; leaving it in storage", "key", key, "err", e.Err)
		case StatusInvalid:
			res.Invalid++
			logger.Warn("stored event has no valid timestamp; leaving it in storage", "key", key, "err", e.Err)
		case StatusPending:
			res.Pending++
		case StatusDue:
			d.dispatch(ctx, logger, e, &res)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("scan storage: %w", err)
	}

	if res.Scanned > 0 {
		logger.Info("dispatch pass done",
			"scanned", res.Scanned, "dispatched", res.Dispatched, "pending", res.Pending,
			"publish_failed", res.PublishFailed, "delete_failed", res.DeleteFailed,
			"undecodable", res.Undecodable, "invalid", res.Invalid)
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *slog.Logger, e Entry, res *PassResult) {
	key := hex.EncodeToString(e.StorageKey)
	ctx, span := otel.Tracer("relay").Start(ctx, "dispatch.record",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("relay.storage_key", key),
			attribute.Int64("relay.age_ms", e.Age.Milliseconds()),
		),
	)
	defer span.End()

	for _, dest := range d.destinations {
		if err := d.send(ctx, dest, e.Envelope.Key, e.Envelope.Payload); err != nil {
			res.PublishFailed++
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
			logger.Warn("failed sending record; will retry next pass",
				"key", key, "destination", dest, "traceparent", otelx.TraceParent(ctx), "err", err)
			return
		}
	}

	if err := d.store.Delete(ctx, e.StorageKey); err != nil {
		res.DeleteFailed++
		span.RecordError(err)
		logger.Warn("failed deleting sent record; it will be sent again",
			"key", key, "err", err)
		return
	}
	res.Dispatched++
	logger.Debug("sent record", "key", key, "age", e.Age.String())
}

func (d *Dispatcher) send(ctx context.Context, dest string, key, payload []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.sink.Send(ctx, dest, key, payload)
}
