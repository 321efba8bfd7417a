// Package config loads relay settings from a properties file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/delayrelay/libs/kafkax"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/storage"
	"github.com/spf13/viper"
)

const DefaultPath = "./local.properties"

// Property names.
const (
	KeySourceTopics    = "source.topics"
	KeySinkTopics      = "sink.topics"
	KeyConsumerServers = "consumer.bootstrap.servers"
	KeyGroupID         = "group.id"
	KeyProducerServers = "producer.bootstrap.servers"
	KeyConsumerPoll    = "consumer.poll.time"
	KeyProducerPoll    = "producer.poll.time"
	KeyExpiryAge       = "expiry.age"
	KeyTimestampField  = "timestamp.field.name"
	KeyTimestampFormat = "timestamp.format"
	KeyStorageType     = "storage.type"
	KeyStoragePath     = "storage.path"
	KeyRocksDBPath     = "rocksdb.path"
	KeyRedisAddr       = "storage.redis.addr"
	KeyRedisPassword   = "storage.redis.password"
	KeyRedisDB         = "storage.redis.db"
	KeyRedisPrefix     = "storage.redis.prefix"
	KeyPostgresURL     = "storage.postgres.url"
	KeyBatchSize       = "consumer.batch.size"
	KeyProducerClient  = "producer.client"
)

const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

type Config struct {
	SourceTopics     []string
	SinkTopics       []string
	ConsumerBrokers  []string
	GroupID          string
	ProducerBrokers  []string
	PollTimeout      time.Duration
	DispatchInterval time.Duration
	ExpiryAge        time.Duration
	TimestampField   string
	TimestampLayout  string
	BatchSize        int
	ProducerClient   string
	Storage          storage.Config
}

// InvalidError lists every problem found while loading, not just the first.
type InvalidError struct {
	Missing  []string
	Problems []string
}

func (e *InvalidError) Error() string {
	msgs := append([]string(nil), e.Problems...)
	if len(e.Missing) > 0 {
		msgs = append(msgs, "missing required values: "+strings.Join(e.Missing, ","))
	}
	return "invalid relay config: " + strings.Join(msgs, "; ")
}

// Load reads path when it exists. Every key can be set or overridden by an
// environment variable named RELAY_ plus the key upper-cased with dots replaced
// by underscores, e.g. RELAY_SOURCE_TOPICS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("properties")
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyTimestampFormat, "ISO_INSTANT")
	v.SetDefault(KeyBatchSize, 500)
	v.SetDefault(KeyProducerClient, ClientKafkaGo)
	v.SetDefault(KeyRedisDB, 0)

	if path != "" {
		info, err := os.Stat(path)
		switch {
		case err == nil && !info.IsDir():
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

// ConfigFile is the file Load would read, or "" when only the environment
// is used.
func ConfigFile(path string) string {
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}

type loader struct {
	v        *viper.Viper
	missing  []string
	problems []string
}

func (l *loader) required(key string) string {
	s := strings.TrimSpace(l.v.GetString(key))
	if s == "" {
		l.missing = append(l.missing, key)
	}
	return s
}

func (l *loader) list(key string) []string {
	s := l.required(key)
	if s == "" {
		return nil
	}
	out := kafkax.SplitList(s)
	if len(out) == 0 {
		l.problems = append(l.problems, fmt.Sprintf("%s has no entries", key))
	}
	return out
}

func (l *loader) duration(key string, allowZero bool) time.Duration {
	s := l.required(key)
	if s == "" {
		return 0
	}
	d, err := ParseDuration(s)
	if err != nil {
		l.problems = append(l.problems, fmt.Sprintf("could not parse %s %q: %v", key, s, err))
		return 0
	}
	if d < 0 || (d == 0 && !allowZero) {
		l.problems = append(l.problems, fmt.Sprintf("%s must be positive, got %s", key, s))
	}
	return d
}

func fromViper(v *viper.Viper) (*Config, error) {
	l := &loader{v: v}
	cfg := &Config{
		SinkTopics:       l.list(KeySinkTopics),
		SourceTopics:     l.list(KeySourceTopics),
		TimestampField:   l.required(KeyTimestampField),
		ConsumerBrokers:  l.list(KeyConsumerServers),
		GroupID:          l.required(KeyGroupID),
		ProducerBrokers:  l.list(KeyProducerServers),
		PollTimeout:      l.duration(KeyConsumerPoll, false),
		DispatchInterval: l.duration(KeyProducerPoll, false),
		ExpiryAge:        l.duration(KeyExpiryAge, true),
	}

	layout, err := TimestampLayout(v.GetString(KeyTimestampFormat))
	if err != nil {
		l.problems = append(l.problems, err.Error())
	}
	cfg.TimestampLayout = layout

	cfg.BatchSize = v.GetInt(KeyBatchSize)
	if cfg.BatchSize <= 0 {
		l.problems = append(l.problems, fmt.Sprintf("%s must be positive", KeyBatchSize))
	}

	cfg.ProducerClient = strings.ToLower(strings.TrimSpace(v.GetString(KeyProducerClient)))
	if cfg.ProducerClient != ClientKafkaGo && cfg.ProducerClient != ClientSarama {
		l.problems = append(l.problems, fmt.Sprintf("unknown %s %q", KeyProducerClient, cfg.ProducerClient))
	}

	if raw := l.required(KeyStorageType); raw != "" {
		t, err := storage.ParseType(raw)
		if err != nil {
			l.problems = append(l.problems, err.Error())
		}
		cfg.Storage.Type = t
	}
	cfg.Storage.Path = strings.TrimSpace(v.GetString(KeyStoragePath))
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = strings.TrimSpace(v.GetString(KeyRocksDBPath))
	}
	cfg.Storage.RedisAddr = strings.TrimSpace(v.GetString(KeyRedisAddr))
	cfg.Storage.RedisPassword = v.GetString(KeyRedisPassword)
	cfg.Storage.RedisDB = v.GetInt(KeyRedisDB)
	cfg.Storage.RedisPrefix = v.GetString(KeyRedisPrefix)
	cfg.Storage.PostgresURL = strings.TrimSpace(v.GetString(KeyPostgresURL))

	switch cfg.Storage.Type {
	case storage.TypePebble, storage.TypeBadger:
		if cfg.Storage.Path == "" {
			l.missing = append(l.missing, KeyStoragePath)
		}
	case storage.TypeRedis:
		if cfg.Storage.RedisAddr == "" {
			l.missing = append(l.missing, KeyRedisAddr)
		}
	case storage.TypePostgres:
		if cfg.Storage.PostgresURL == "" {
			l.missing = append(l.missing, KeyPostgresURL)
		}
	}

	if len(l.missing) > 0 || len(l.problems) > 0 {
		return nil, &InvalidError{Missing: l.missing, Problems: l.problems}
	}
	return cfg, nil
}

// TimestampLayout maps a configured format name to a time layout. Only the
// ISO-8601 instant format is supported.
func TimestampLayout(name string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "ISO_INSTANT", "RFC3339", "RFC3339NANO":
		return time.RFC3339Nano, nil
	default:
		return "", fmt.Errorf("unsupported %s %q", KeyTimestampFormat, name)
	}
}
