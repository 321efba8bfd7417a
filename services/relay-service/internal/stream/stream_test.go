package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/md-rashed-zaman/delayrelay/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

func TestToMessageCopiesHeaders(t *testing.T) {
	msg := toMessage(kafka.Message{
		Topic:     "events",
		Partition: 3,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("00-abc")}},
	})
	if msg.Topic != "events" || msg.Partition != 3 || msg.Offset != 42 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Headers["traceparent"] != "00-abc" {
		t.Fatalf("expected traceparent header, got %v", msg.Headers)
	}
	if toMessage(kafka.Message{}).Headers != nil {
		t.Fatal("expected nil headers for a message without headers")
	}
}

func TestNewKafkaSourceValidates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []KafkaSourceConfig{
		{Topics: []string{"a"}, GroupID: "g"},
		{Brokers: []string{"localhost:9092"}, GroupID: "g"},
		{Brokers: []string{"localhost:9092"}, Topics: []string{"a"}},
	}
	for i, cfg := range cases {
		if _, err := NewKafkaSource(logger, cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestKafkaSourceCloseIsIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src, err := NewKafkaSource(logger, KafkaSourceConfig{
		Brokers: []string{"127.0.0.1:1"},
		GroupID: "g",
		Topics:  []string{"a"},
	})
	if err != nil {
		t.Fatalf("NewKafkaSource failed: %v", err)
	}
	if src.cfg.StartOffset != kafka.LastOffset {
		t.Fatalf("a new group must start at the latest offset, got %d", src.cfg.StartOffset)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if _, err := src.Poll(context.Background(), 0); err == nil {
		t.Fatal("expected poll on closed source to fail")
	}
	if err := src.Commit(context.Background()); err != nil {
		t.Fatalf("commit with nothing fetched should be a no-op, got %v", err)
	}
}

func TestKafkaSinkMessage(t *testing.T) {
	sink := &KafkaSink{instance: "relay-1"}
	msg := sink.message(context.Background(), "out", []byte("k"), []byte("v"))
	if msg.Topic != "out" || string(msg.Key) != "k" || string(msg.Value) != "v" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.RelayInstanceHeader) != "relay-1" {
		t.Fatalf("expected relay instance header, got %+v", msg.Headers)
	}
}

func TestSaramaSinkSends(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"a":1}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	sink := NewSaramaSinkWithProducer(producer, "relay-1")
	defer sink.Close()

	if err := sink.Send(context.Background(), "out", []byte("k"), []byte(`{"a":1}`)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestSaramaSinkFailureNamesDestination(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	sink := NewSaramaSinkWithProducer(producer, "relay-1")
	defer sink.Close()

	err := sink.Send(context.Background(), "out", nil, []byte("v"))
	var pubErr *PublishError
	if !errors.As(err, &pubErr) || pubErr.Destination != "out" {
		t.Fatalf("expected PublishError for out, got %v", err)
	}
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected underlying sarama error, got %v", err)
	}
}

func TestSaramaMessage(t *testing.T) {
	sink := NewSaramaSinkWithProducer(nil, "relay-1")
	msg := sink.message(context.Background(), "out", nil, []byte("v"))
	if msg.Key != nil {
		t.Fatalf("expected nil key, got %v", msg.Key)
	}
	if len(msg.Headers) == 0 || string(msg.Headers[0].Key) != kafkax.RelayInstanceHeader {
		t.Fatalf("expected relay instance header, got %+v", msg.Headers)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Send(cancelled, "out", nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled send to fail, got %v", err)
	}
}
