package upstash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryhazerus/quota/internal/kvproxy"
	"github.com/ryhazerus/quota/store"
	"github.com/ryhazerus/quota/store/storetest"
)

const testToken = "test-token"

// newProxiedStore runs the REST gateway over miniredis and points a Store at it.
func newProxiedStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	srv := httptest.NewServer(kvproxy.New(client, testToken, nil).Handler())
	t.Cleanup(srv.Close)

	return New(Config{URL: srv.URL, Token: testToken}), mr
}

// newStubStore points a Store at a handler that fakes the REST endpoint.
func newStubStore(t *testing.T, h http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, Token: testToken, Timeout: 200 * time.Millisecond})
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s, mr := newProxiedStore(t)
		return storetest.Harness{
			Backend: s,
			Advance: mr.FastForward,
			Now:     time.Now,
		}
	})
}

func TestNotConfigured(t *testing.T) {
	tests := []Config{
		{},
		{URL: "https://example.upstash.io"},
		{Token: "secret"},
		{URL: "   ", Token: "secret"},
	}

	for _, cfg := range tests {
		s := New(cfg)
		assert.False(t, s.Configured())

		_, err := s.Check(context.Background(), "k", time.Minute, 5, 1)
		assert.ErrorIs(t, err, store.ErrNotConfigured)
		_, err = s.Peek(context.Background(), "k", time.Minute, 5)
		assert.ErrorIs(t, err, store.ErrNotConfigured)
		_, err = s.ResetPrefix(context.Background(), "k")
		assert.ErrorIs(t, err, store.ErrNotConfigured)
	}
}

func TestPipelineWireFormat(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody [][]any

	s := newStubStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`[{"result":[1,4,60000]}]`))
	})

	res, err := s.Check(context.Background(), "predict:user-1", time.Minute, 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(4), res.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ResetAt, time.Second)

	assert.Equal(t, "Bearer "+testToken, gotAuth)
	assert.Equal(t, "/pipeline", gotPath)
	require.Len(t, gotBody, 1)
	cmd := gotBody[0]
	require.Len(t, cmd, 7)
	assert.Equal(t, "EVAL", cmd[0])
	assert.Equal(t, store.CheckScript, cmd[1])
	assert.Equal(t, "1", cmd[2])
	assert.Equal(t, "predict:user-1", cmd[3])
	assert.Equal(t, float64(60000), cmd[4])
}

func TestMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind store.Kind
	}{
		{"not json", `<html>oops</html>`, store.KindParse},
		{"object instead of array", `{"result":1}`, store.KindParse},
		{"wrong reply count", `[]`, store.KindParse},
		{"short script reply", `[{"result":[1,4]}]`, store.KindParse},
		{"string reply", `[{"result":"OK"}]`, store.KindParse},
		{"script error", `[{"error":"ERR Error running script"}]`, store.KindScript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStubStore(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			_, err := s.Check(context.Background(), "k", time.Minute, 5, 1)
			require.Error(t, err)
			assert.Equal(t, tt.kind, store.KindOf(err))
		})
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	s := newStubStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Unauthorized"}`))
	})

	_, err := s.Peek(context.Background(), "k", time.Minute, 5)
	require.Error(t, err)
	assert.Equal(t, store.KindTransport, store.KindOf(err))
	assert.Contains(t, err.Error(), "401")
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	s := newStubStore(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	// Released before the server shuts down, which waits for the handler.
	defer close(release)

	start := time.Now()
	_, err := s.Check(context.Background(), "k", time.Minute, 5, 1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, []store.Kind{store.KindTimeout, store.KindTransport}, store.KindOf(err))
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := New(Config{URL: url, Token: testToken, Timeout: 200 * time.Millisecond})
	_, err := s.Check(context.Background(), "k", time.Minute, 5, 1)
	require.Error(t, err)
	assert.Equal(t, store.KindTransport, store.KindOf(err))
}

func TestPeekPipeline(t *testing.T) {
	s := newStubStore(t, func(w http.ResponseWriter, r *http.Request) {
		var cmds [][]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmds))
		require.Len(t, cmds, 2)
		assert.Equal(t, []any{"GET", "ai:org-1"}, cmds[0])
		assert.Equal(t, []any{"PTTL", "ai:org-1"}, cmds[1])
		w.Write([]byte(`[{"result":"7"},{"result":5000}]`))
	})

	snap, err := s.Peek(context.Background(), "ai:org-1", time.Hour, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(13), snap.Remaining)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), snap.ResetAt, time.Second)
}

func TestResetPrefixFollowsCursor(t *testing.T) {
	var scans, dels atomic.Int32

	s := newStubStore(t, func(w http.ResponseWriter, r *http.Request) {
		var cmds [][]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmds))
		switch cmds[0][0] {
		case "SCAN":
			assert.Equal(t, `a\*b:*`, cmds[0][3])
			if scans.Add(1) == 1 {
				assert.Equal(t, "0", cmds[0][1])
				w.Write([]byte(`[{"result":["17",["a*b:1","a*b:2"]]}]`))
				return
			}
			assert.Equal(t, "17", cmds[0][1])
			w.Write([]byte(`[{"result":["0",[]]}]`))
		case "DEL":
			assert.Equal(t, int32(2), scans.Load(), "delete before the scan finished")
			dels.Add(1)
			w.Write([]byte(`[{"result":2}]`))
		}
	})

	n, err := s.ResetPrefix(context.Background(), "a*b:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int32(2), scans.Load())
	assert.Equal(t, int32(1), dels.Load())
}

func TestResetPrefixManyKeys(t *testing.T) {
	s, mr := newProxiedStore(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		_, err := s.Check(ctx, "bulk:"+strconv.Itoa(i), time.Hour, 5, 1)
		require.NoError(t, err)
	}
	_, err := s.Check(ctx, "other:1", time.Hour, 5, 1)
	require.NoError(t, err)

	n, err := s.ResetPrefix(ctx, "bulk:")
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)
	assert.Equal(t, []string{"other:1"}, mr.Keys())
}
