// Package stream adapts Kafka clients to the ingest source and dispatch sink.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/ingest"
	"github.com/segmentio/kafka-go"
)

type KafkaSourceConfig struct {
	Brokers   []string
	GroupID   string
	Topics    []string
	BatchSize int
}

// KafkaSource reads a consumer group with explicit commits. Messages fetched
// since the last Commit are committed together.
type KafkaSource struct {
	cfg       kafka.ReaderConfig
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	reader  *kafka.Reader
	fetched []kafka.Message
	closed  bool
}

func NewKafkaSource(logger *slog.Logger, cfg KafkaSourceConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka source: no brokers configured")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka source: no topics configured")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka source: group id required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	logger = logger.With("component", "kafka-source")
	rc := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: 0,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaSource{
		cfg:       rc,
		batchSize: cfg.BatchSize,
		logger:    logger,
		reader:    kafka.NewReader(rc),
	}, nil
}

// Poll fetches until timeout elapses or a full batch is read.
func (s *KafkaSource) Poll(ctx context.Context, timeout time.Duration) ([]ingest.Message, error) {
	s.mu.Lock()
	reader, closed := s.reader, s.closed
	s.mu.Unlock()
	if closed {
		return nil, errSourceClosed
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var fetched []kafka.Message
	for len(fetched) < s.batchSize {
		msg, err := reader.FetchMessage(pollCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, err
		}
		fetched = append(fetched, msg)
	}

	s.mu.Lock()
	s.fetched = append(s.fetched, fetched...)
	s.mu.Unlock()

	batch := make([]ingest.Message, 0, len(fetched))
	for _, msg := range fetched {
		batch = append(batch, toMessage(msg))
	}
	return batch, nil
}

func (s *KafkaSource) Commit(ctx context.Context) error {
	s.mu.Lock()
	reader, pending := s.reader, s.fetched
	s.fetched = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return reader.CommitMessages(ctx, pending...)
}

// Rewind drops uncommitted progress by reopening the reader, which rejoins the
// group at the committed offsets.
func (s *KafkaSource) Rewind(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSourceClosed
	}
	dropped := len(s.fetched)
	s.fetched = nil
	if err := s.reader.Close(); err != nil {
		s.logger.Warn("closing reader for rewind failed", "err", err)
	}
	s.reader = kafka.NewReader(s.cfg)
	s.logger.Info("rewound to committed offsets", "dropped", dropped)
	return nil
}

// Close may be called concurrently with Poll and unblocks it.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.reader.Close()
}

var errSourceClosed = errors.New("kafka source closed")

func toMessage(msg kafka.Message) ingest.Message {
	var headers map[string]string
	if len(msg.Headers) > 0 {
		headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return ingest.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
	}
}
