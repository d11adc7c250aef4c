// Package redis implements a store.Backend on go-redis, for deployments
// that reach Redis over its native protocol instead of a REST endpoint.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/quota/store"
)

// scanCount is the COUNT hint sent with each SCAN.
const scanCount = 100

// Compile-time interface check.
var _ store.Backend = (*RedisStore)(nil)

// RedisStore is a Backend backed by Redis. Each counter is a plain integer
// key whose TTL is the remainder of its window.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithTimeout bounds every operation. Zero disables the store-level bound
// and leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *RedisStore) {
		r.timeout = d
	}
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	r := &RedisStore{
		client:  client,
		timeout: 2 * time.Second,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var checkScript = redis.NewScript(store.CheckScript)

// Name implements store.Backend.
func (r *RedisStore) Name() string { return "redis" }

// Check runs the check script atomically on the server.
func (r *RedisStore) Check(ctx context.Context, key string, window time.Duration, max, cost int64) (store.Result, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	reply, err := checkScript.Run(ctx, r.client, []string{r.key(key)}, store.CheckArgs(window, max, cost)...).Result()
	if err != nil {
		return store.Result{}, r.classify("check", err)
	}

	res, err := store.ParseCheckReply(reply, max, r.now())
	if err != nil {
		return store.Result{}, store.NewError(store.KindParse, r.Name(), "check", err)
	}
	return res, nil
}

// Peek reads the counter and its TTL in one pipeline.
func (r *RedisStore) Peek(ctx context.Context, key string, window time.Duration, max int64) (store.Snapshot, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	k := r.key(key)
	var get, pttl *redis.Cmd
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Do(ctx, "GET", k)
		pttl = p.Do(ctx, "PTTL", k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.Snapshot{}, r.classify("peek", err)
	}

	value, err := get.Result()
	if errors.Is(err, redis.Nil) {
		value = nil
	} else if err != nil {
		return store.Snapshot{}, r.classify("peek", err)
	}
	ttl, err := pttl.Int64()
	if err != nil {
		return store.Snapshot{}, store.NewError(store.KindParse, r.Name(), "peek", fmt.Errorf("ttl: %w", err))
	}

	snap, err := store.PeekSnapshot(value, ttl, window, max, r.now())
	if err != nil {
		return store.Snapshot{}, store.NewError(store.KindParse, r.Name(), "peek", err)
	}
	return snap, nil
}

// ResetPrefix scans for keys starting with prefix and deletes them.
func (r *RedisStore) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	// Deleting while scanning can move unvisited keys behind the cursor, so
	// the whole pass is collected before anything is removed.
	pattern := store.PrefixPattern(r.key(prefix))
	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64

	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return 0, r.classify("reset", err)
		}
		for _, k := range batch {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	var deleted int64
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, r.classify("reset", err)
		}
		deleted += n
	}
	return deleted, nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RedisStore) classify(op string, err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return store.NewError(store.KindScript, r.Name(), op, err)
	}
	return store.NewError(store.KindTransport, r.Name(), op, err)
}
