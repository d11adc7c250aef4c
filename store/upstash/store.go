package upstash

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ryhazerus/quota/store"
)

// scanCount is the COUNT hint sent with each SCAN.
const scanCount = 100

// Compile-time interface check.
var _ store.Backend = (*Store)(nil)

// Store is a store.Backend that talks to a Redis REST pipeline endpoint.
// When the endpoint is not configured every method returns
// store.ErrNotConfigured.
type Store struct {
	client     *Client
	configured bool
	now        func() time.Time
}

// New creates a Store from cfg.
func New(cfg Config) *Store {
	return &Store{
		client:     NewClient(cfg),
		configured: cfg.Configured(),
		now:        time.Now,
	}
}

// Configured reports whether the store has an endpoint and a token.
func (s *Store) Configured() bool { return s.configured }

// Name implements store.Backend.
func (s *Store) Name() string { return "upstash" }

// Check evaluates the shared check script in a single round trip.
func (s *Store) Check(ctx context.Context, key string, window time.Duration, max, cost int64) (store.Result, error) {
	if !s.configured {
		return store.Result{}, store.ErrNotConfigured
	}

	cmd := append([]any{"EVAL", store.CheckScript, "1", key}, store.CheckArgs(window, max, cost)...)
	replies, err := s.client.Pipeline(ctx, cmd)
	if err != nil {
		return store.Result{}, s.classify("check", err)
	}
	if err := replies[0].err(); err != nil {
		return store.Result{}, store.NewError(store.KindScript, s.Name(), "check", err)
	}

	res, err := store.ParseCheckReply(replies[0].Result, max, s.now())
	if err != nil {
		return store.Result{}, store.NewError(store.KindParse, s.Name(), "check", err)
	}
	return res, nil
}

// Peek reads the counter and its remaining TTL in one pipeline.
func (s *Store) Peek(ctx context.Context, key string, window time.Duration, max int64) (store.Snapshot, error) {
	if !s.configured {
		return store.Snapshot{}, store.ErrNotConfigured
	}

	replies, err := s.client.Pipeline(ctx, []any{"GET", key}, []any{"PTTL", key})
	if err != nil {
		return store.Snapshot{}, s.classify("peek", err)
	}
	for _, r := range replies {
		if err := r.err(); err != nil {
			return store.Snapshot{}, store.NewError(store.KindScript, s.Name(), "peek", err)
		}
	}

	ttl, err := store.ToInt64(replies[1].Result)
	if err != nil {
		return store.Snapshot{}, store.NewError(store.KindParse, s.Name(), "peek", fmt.Errorf("ttl: %w", err))
	}
	snap, err := store.PeekSnapshot(replies[0].Result, ttl, window, max, s.now())
	if err != nil {
		return store.Snapshot{}, store.NewError(store.KindParse, s.Name(), "peek", err)
	}
	return snap, nil
}

// ResetPrefix walks the keyspace with SCAN and deletes every match.
func (s *Store) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	if !s.configured {
		return 0, store.ErrNotConfigured
	}

	// Deleting while scanning can move unvisited keys behind the cursor, so
	// the whole pass is collected before anything is removed.
	pattern := store.PrefixPattern(prefix)
	seen := make(map[string]struct{})
	var keys []string
	cursor := "0"

	for {
		replies, err := s.client.Pipeline(ctx, []any{"SCAN", cursor, "MATCH", pattern, "COUNT", scanCount})
		if err != nil {
			return 0, s.classify("reset", err)
		}
		if err := replies[0].err(); err != nil {
			return 0, store.NewError(store.KindScript, s.Name(), "reset", err)
		}

		next, batch, err := parseScan(replies[0].Result)
		if err != nil {
			return 0, store.NewError(store.KindParse, s.Name(), "reset", err)
		}
		for _, k := range batch {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}

		if next == "0" {
			break
		}
		cursor = next
	}

	var deleted int64
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		cmd := make([]any, 0, end-start+1)
		cmd = append(cmd, "DEL")
		for _, k := range keys[start:end] {
			cmd = append(cmd, k)
		}

		replies, err := s.client.Pipeline(ctx, cmd)
		if err != nil {
			return deleted, s.classify("reset", err)
		}
		if err := replies[0].err(); err != nil {
			return deleted, store.NewError(store.KindScript, s.Name(), "reset", err)
		}
		n, err := store.ToInt64(replies[0].Result)
		if err != nil {
			return deleted, store.NewError(store.KindParse, s.Name(), "reset", err)
		}
		deleted += n
	}
	return deleted, nil
}

// Close is a no-op; the HTTP client holds no dedicated connections.
func (s *Store) Close() error {
	return nil
}

func (s *Store) classify(op string, err error) error {
	if errors.Is(err, errDecode) {
		return store.NewError(store.KindParse, s.Name(), op, err)
	}
	return store.NewError(store.KindTransport, s.Name(), op, err)
}

// parseScan splits a SCAN reply of the form [cursor, [key...]].
func parseScan(v any) (string, []string, error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return "", nil, fmt.Errorf("unexpected scan reply %T", v)
	}

	var cursor string
	switch c := pair[0].(type) {
	case string:
		cursor = c
	default:
		n, err := store.ToInt64(c)
		if err != nil {
			return "", nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursor = strconv.FormatInt(n, 10)
	}

	rawKeys, ok := pair[1].([]any)
	if !ok {
		return "", nil, fmt.Errorf("unexpected scan keys %T", pair[1])
	}
	keys := make([]string, 0, len(rawKeys))
	for _, k := range rawKeys {
		s, ok := k.(string)
		if !ok {
			return "", nil, fmt.Errorf("unexpected scan key %T", k)
		}
		keys = append(keys, s)
	}
	return cursor, keys, nil
}
