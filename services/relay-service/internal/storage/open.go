package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Type string

const (
	TypeDiscard  Type = "nop"
	TypeMemory   Type = "memory"
	TypePebble   Type = "pebble"
	TypeBadger   Type = "badger"
	TypeRedis    Type = "redis"
	TypePostgres Type = "postgres"
)

// ParseType is case-insensitive and accepts "discard" for nop and "rocksdb" for pebble.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nop", "discard":
		return TypeDiscard, nil
	case "memory":
		return TypeMemory, nil
	case "pebble", "rocksdb":
		return TypePebble, nil
	case "badger":
		return TypeBadger, nil
	case "redis":
		return TypeRedis, nil
	case "postgres", "postgresql":
		return TypePostgres, nil
	default:
		return "", fmt.Errorf("unknown storage type %q", s)
	}
}

// Persistent reports whether records survive a process restart.
func (t Type) Persistent() bool {
	return t != TypeDiscard && t != TypeMemory
}

type Config struct {
	Type Type
	// Path is the directory for embedded stores. Created if absent.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PostgresURL string
}

func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Storage, error) {
	logger = logger.With("storage", string(cfg.Type))
	var (
		s   Storage
		err error
	)
	switch cfg.Type {
	case TypeDiscard:
		return Discard{}, nil
	case TypeMemory:
		return NewMemory(), nil
	case TypePebble:
		var p *Pebble
		if p, err = OpenPebble(cfg.Path); err == nil {
			s = p
		}
	case TypeBadger:
		var b *Badger
		if b, err = OpenBadger(cfg.Path, logger); err == nil {
			s = b
		}
	case TypeRedis:
		var r *Redis
		if r, err = OpenRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}); err == nil {
			s = r
		}
	case TypePostgres:
		var p *Postgres
		if p, err = OpenPostgres(ctx, cfg.PostgresURL); err == nil {
			s = p
		}
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
