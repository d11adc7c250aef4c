package kvproxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "secret", nil).Handler(), mr
}

func post(t *testing.T, h http.Handler, token, body string) (*httptest.ResponseRecorder, []reply) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/pipeline", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out []reply
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPipelineRequiresToken(t *testing.T) {
	h, _ := newTestServer(t)

	rec, _ := post(t, h, "", `[["PING"]]`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = post(t, h, "wrong", `[["PING"]]`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPipelineExecutesInOrder(t *testing.T) {
	h, mr := newTestServer(t)
	require.NoError(t, mr.Set("counter", "4"))

	rec, out := post(t, h, "secret", `[["INCRBY","counter",2],["GET","counter"],["GET","missing"],["PTTL","missing"]]`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out, 4)

	assert.Equal(t, float64(6), out[0].Result)
	assert.Equal(t, "6", out[1].Result)
	assert.Nil(t, out[2].Result)
	assert.Empty(t, out[2].Error)
	assert.Equal(t, float64(-2), out[3].Result)
}

func TestPipelineCommandError(t *testing.T) {
	h, mr := newTestServer(t)
	require.NoError(t, mr.Set("word", "abc"))

	rec, out := post(t, h, "secret", `[["INCRBY","word",1],["PING"]]`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].Error)
	assert.Equal(t, "PONG", out[1].Result)
}

func TestPipelineRejectsCommands(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []string{
		`[["FLUSHALL"]]`,
		`[["CONFIG","SET","dir","/tmp"]]`,
		`[[]]`,
		`[]`,
		`[[1,2]]`,
		`[["GET",{"nested":true}]]`,
		`not json`,
	}
	for _, body := range tests {
		rec, _ := post(t, h, "secret", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
}

func TestPipelineScan(t *testing.T) {
	h, mr := newTestServer(t)
	require.NoError(t, mr.Set("ai:1", "1"))
	require.NoError(t, mr.Set("ai:2", "1"))
	require.NoError(t, mr.Set("predict:1", "1"))

	rec, out := post(t, h, "secret", `[["SCAN","0","MATCH","ai:*","COUNT",100]]`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out, 1)

	pair, ok := out[0].Result.([]any)
	require.True(t, ok)
	require.Len(t, pair, 2)
	assert.Equal(t, "0", pair[0])
	assert.ElementsMatch(t, []any{"ai:1", "ai:2"}, pair[1])
}

func TestHealth(t *testing.T) {
	h, mr := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
