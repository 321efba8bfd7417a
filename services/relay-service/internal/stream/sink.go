package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/md-rashed-zaman/delayrelay/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// PublishError is a failed send to one destination.
type PublishError struct {
	Destination string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Destination, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// KafkaSink writes each message synchronously and waits for all in-sync
// replicas.
type KafkaSink struct {
	writer   *kafka.Writer
	instance string
}

func NewKafkaSink(brokers []string, instance string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchSize:    1,
		},
		instance: instance,
	}, nil
}

func (s *KafkaSink) Send(ctx context.Context, destination string, key, payload []byte) error {
	if err := s.writer.WriteMessages(ctx, s.message(ctx, destination, key, payload)); err != nil {
		return &PublishError{Destination: destination, Err: err}
	}
	return nil
}

func (s *KafkaSink) message(ctx context.Context, destination string, key, payload []byte) kafka.Message {
	msg := kafka.Message{Topic: destination, Key: key, Value: payload}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	msg.Headers = kafkax.SetHeader(msg.Headers, kafkax.RelayInstanceHeader, []byte(s.instance))
	return msg
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// SaramaSink sends through a sarama SyncProducer.
type SaramaSink struct {
	producer sarama.SyncProducer
	instance string
}

func NewSaramaSink(brokers []string, clientID, instance string) (*SaramaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("sarama sink: no brokers configured")
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("sarama sink: %w", err)
	}
	return NewSaramaSinkWithProducer(producer, instance), nil
}

func NewSaramaSinkWithProducer(producer sarama.SyncProducer, instance string) *SaramaSink {
	return &SaramaSink{producer: producer, instance: instance}
}

func (s *SaramaSink) Send(ctx context.Context, destination string, key, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return &PublishError{Destination: destination, Err: err}
	}
	if _, _, err := s.producer.SendMessage(s.message(ctx, destination, key, payload)); err != nil {
		return &PublishError{Destination: destination, Err: err}
	}
	return nil
}

func (s *SaramaSink) message(ctx context.Context, destination string, key, payload []byte) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: destination,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafkax.RelayInstanceHeader), Value: []byte(s.instance)},
		},
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}
	msg.Headers = kafkax.InjectSaramaHeaders(ctx, msg.Headers)
	return msg
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}
