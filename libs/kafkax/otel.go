package kafkax

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders appends W3C trace context headers to Kafka headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &kafkaHeaderCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

// InjectSaramaHeaders is InjectTraceHeaders for sarama producer messages.
func InjectSaramaHeaders(ctx context.Context, headers []sarama.RecordHeader) []sarama.RecordHeader {
	carrier := &saramaHeaderCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type kafkaHeaderCarrier struct {
	headers []kafka.Header
}

func (c *kafkaHeaderCarrier) Get(key string) string {
	return HeaderValue(c.headers, key)
}

func (c *kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *kafkaHeaderCarrier) Set(key string, value string) {
	c.headers = SetHeader(c.headers, key, []byte(value))
}

type saramaHeaderCarrier struct {
	headers []sarama.RecordHeader
}

func (c *saramaHeaderCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

func (c *saramaHeaderCarrier) Set(key string, value string) {
	for i := range c.headers {
		if string(c.headers[i].Key) == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

var (
	_ propagation.TextMapCarrier = (*kafkaHeaderCarrier)(nil)
	_ propagation.TextMapCarrier = (*saramaHeaderCarrier)(nil)
)
