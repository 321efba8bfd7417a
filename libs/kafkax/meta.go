package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// RelayInstanceHeader names the relay process that republished a message.
const RelayInstanceHeader = "relay_instance"

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SetHeader overwrites key if present, otherwise appends it.
func SetHeader(headers []kafka.Header, key string, value []byte) []kafka.Header {
	for i := range headers {
		if headers[i].Key == key {
			headers[i].Value = value
			return headers
		}
	}
	return append(headers, kafka.Header{Key: key, Value: value})
}

// SplitList parses a comma separated list, dropping blanks. Used for brokers and topics.
func SplitList(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

func SplitBrokers(raw string) []string {
	return SplitList(raw)
}
