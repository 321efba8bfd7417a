package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces relay keys inside a shared database.
	Prefix string
}

// Redis keeps records as plain string keys under a prefix. Scan walks the
// keyspace with SCAN, which is weakly consistent like the memory backend.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

const defaultRedisPrefix = "relay:record:"

func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, wrap(TypeRedis, "open", err)
	}
	return NewRedis(rdb, opts.Prefix), nil
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Put(ctx context.Context, rec Record) error {
	return r.wrap("put", r.rdb.Set(ctx, r.prefix+string(rec.Key), rec.Value, 0).Err())
}

func (r *Redis) Delete(ctx context.Context, key []byte) error {
	return r.wrap("delete", r.rdb.Del(ctx, r.prefix+string(key)).Err())
}

func (r *Redis) Scan(ctx context.Context, fn func(Record) error) error {
	iter := r.rdb.Scan(ctx, 0, globEscape(r.prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		name := iter.Val()
		value, err := r.rdb.Get(ctx, name).Bytes()
		if errors.Is(err, redis.Nil) {
			// deleted since SCAN returned it
			continue
		}
		if err != nil {
			return r.wrap("scan", err)
		}
		key := []byte(strings.TrimPrefix(name, r.prefix))
		if err := fn(Record{Key: key, Value: value}); err != nil {
			return err
		}
	}
	return r.wrap("scan", iter.Err())
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.wrap("ping", r.rdb.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) wrap(op string, err error) error {
	return wrap(TypeRedis, op, err, redis.ErrClosed)
}

func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
