// Package redisstore implements store.Store on Redis. Multi-key updates use
// WATCH/MULTI and are retried when a watched key changes underneath them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

var _ store.Store = (*Store)(nil)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "karma:"

// maxTxRetries bounds optimistic retries. Each round lets at least one
// contender commit, so this only trips under pathological contention.
const maxTxRetries = 100

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	prefix string
	owned  bool
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// New wraps an existing client. Close leaves the client open.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dial connects to addr, which is either host:port or a redis:// URL, and
// pings the server. The returned Store owns the client.
func Dial(ctx context.Context, addr string, db int, opts ...Option) (*Store, error) {
	var ro *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{Addr: addr, DB: db}
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

// watch runs fn under WATCH on keys, retrying on redis.TxFailedErr.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("redis: %d optimistic retries exhausted on %v", maxTxRetries, keys)
}

func getJSON[T any](ctx context.Context, c redis.Cmdable, key string, v *T) error {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func mustJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}
