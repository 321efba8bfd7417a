// Package ingest moves events from the input stream into storage.
package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/delayrelay/libs/otel"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/envelope"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Message is one record read from the input stream.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Source is the input stream. Poll returns whatever arrived within timeout
// (possibly nothing). Commit acknowledges everything polled so far.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) ([]Message, error)
	Commit(ctx context.Context) error
	Close() error
}

// Rewinder is implemented by sources that can drop uncommitted progress so the
// next Poll redelivers from the last committed position.
type Rewinder interface {
	Rewind(ctx context.Context) error
}

type Validator interface {
	Valid(payload []byte) bool
}

type Config struct {
	PollTimeout   time.Duration
	CommitTimeout time.Duration
	// RetryBackoff is the pause before polling again after a failed write.
	// Defaults to PollTimeout.
	RetryBackoff time.Duration
}

type Pipeline struct {
	source        Source
	store         storage.Storage
	validator     Validator
	seq           *Sequencer
	logger        *slog.Logger
	pollTimeout   time.Duration
	commitTimeout time.Duration
	retryBackoff  time.Duration
}

func NewPipeline(source Source, store storage.Storage, validator Validator, logger *slog.Logger, cfg Config) *Pipeline {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = cfg.PollTimeout
	}
	return &Pipeline{
		source:        source,
		store:         store,
		validator:     validator,
		seq:           NewSequencer(),
		logger:        logger.With("component", "ingest"),
		pollTimeout:   cfg.PollTimeout,
		commitTimeout: cfg.CommitTimeout,
		retryBackoff:  cfg.RetryBackoff,
	}
}

// BatchResult summarizes one poll.
type BatchResult struct {
	Received    int
	Invalid     int
	Written     int
	Committed   bool
	WriteFailed bool
}

// Run polls until ctx is cancelled and closes the source on return. A batch in
// flight when ctx is cancelled is still written and committed. Poll, commit and
// rewind failures are stream errors and end Run with an error. After a failed
// write Run waits RetryBackoff before polling again.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		if err := p.source.Close(); err != nil {
			p.logger.Warn("closing input stream failed", "err", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := p.source.Poll(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll input stream: %w", err)
		}
		res, err := p.HandleBatch(context.WithoutCancel(ctx), batch)
		if err != nil {
			return err
		}
		if res.WriteFailed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryBackoff):
			}
		}
	}
}

// HandleBatch validates and stores batch, then commits it only if every valid
// record was written. On a write failure the remaining records are skipped and
// the source is rewound, so the whole batch is redelivered.
func (p *Pipeline) HandleBatch(ctx context.Context, batch []Message) (BatchResult, error) {
	res := BatchResult{Received: len(batch)}
	if len(batch) == 0 {
		return res, nil
	}

	ctx, span := otel.Tracer("relay").Start(ctx, "ingest.batch",
		trace.WithAttributes(attribute.Int("relay.batch.size", len(batch))),
	)
	defer span.End()

	p.logger.Info("got records from input stream", "count", len(batch))

	var writeErr error
	for _, msg := range batch {
		if !p.validator.Valid(msg.Value) {
			res.Invalid++
			p.logger.Warn("dropping invalid event",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			continue
		}
		if writeErr = p.save(ctx, msg); writeErr != nil {
			break
		}
		res.Written++
	}

	if writeErr != nil {
		res.WriteFailed = true
		span.RecordError(writeErr)
		span.SetStatus(codes.Error, "storage write failed")
		p.logger.Warn("failed saving batch to storage; not committing",
			"written", res.Written, "received", res.Received, "err", writeErr)
		return res, p.rewind(ctx)
	}

	commitCtx, cancel := context.WithTimeout(ctx, p.commitTimeout)
	defer cancel()
	if err := p.source.Commit(commitCtx); err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("commit input stream: %w", err)
	}
	res.Committed = true
	return res, nil
}

func (p *Pipeline) save(ctx context.Context, msg Message) error {
	msgCtx := otelx.ContextFromHeaders(ctx, msg.Headers)
	msgCtx, span := otel.Tracer("relay").Start(msgCtx, "ingest.store",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source", msg.Topic),
		),
	)
	defer span.End()

	value, err := envelope.Encode(envelope.Envelope{Key: msg.Key, Payload: msg.Value})
	if err != nil {
		span.RecordError(err)
		return err
	}
	seq, key := p.seq.Next()
	if err := p.store.Put(msgCtx, storage.Record{Key: key, Value: value}); err != nil {
		span.RecordError(err)
		p.logger.Warn("failed saving record",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"seq", seq, "err", err)
		return err
	}
	p.logger.Debug("saved record",
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
		"seq", seq, "key", hex.EncodeToString(msg.Key))
	return nil
}

func (p *Pipeline) rewind(ctx context.Context) error {
	rw, ok := p.source.(Rewinder)
	if !ok {
		return nil
	}
	rewindCtx, cancel := context.WithTimeout(ctx, p.commitTimeout)
	defer cancel()
	if err := rw.Rewind(rewindCtx); err != nil {
		return fmt.Errorf("rewind input stream: %w", err)
	}
	return nil
}
