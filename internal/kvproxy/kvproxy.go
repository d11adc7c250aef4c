// Package kvproxy serves a Redis REST pipeline API on top of a native Redis
// connection, so self-hosted deployments can use the same REST backend as
// hosted ones.
package kvproxy

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxCommands bounds the length of a single pipeline.
const maxCommands = 64

// allowed lists the commands the proxy forwards. Everything else is
// rejected before reaching Redis.
var allowed = map[string]bool{
	"EVAL":    true,
	"EVALSHA": true,
	"GET":     true,
	"PTTL":    true,
	"SCAN":    true,
	"DEL":     true,
	"INCRBY":  true,
	"PEXPIRE": true,
	"PING":    true,
}

// reply mirrors one element of a pipeline response.
type reply struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Server translates pipeline requests into Redis commands.
type Server struct {
	client redis.UniversalClient
	token  string
	logger *zap.Logger
}

// New creates a Server. Requests must carry token as a bearer token.
func New(client redis.UniversalClient, token string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{client: client, token: token, logger: logger}
}

// Handler returns the HTTP routes of the proxy.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/pipeline", s.authenticate(http.HandlerFunc(s.handlePipeline))).Methods(http.MethodPost)
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Ping(r.Context()).Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "redis unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()

	var cmds [][]any
	if err := dec.Decode(&cmds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pipeline body")
		return
	}
	if len(cmds) == 0 || len(cmds) > maxCommands {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("pipeline must hold 1 to %d commands", maxCommands))
		return
	}

	args := make([][]any, len(cmds))
	for i, c := range cmds {
		a, err := commandArgs(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("command %d: %v", i, err))
			return
		}
		args[i] = a
	}

	ctx := r.Context()
	pipe := s.client.Pipeline()
	results := make([]*redis.Cmd, len(args))
	for i, a := range args {
		results[i] = pipe.Do(ctx, a...)
	}
	// Per-command errors are read from each Cmd below.
	_, _ = pipe.Exec(ctx)

	out := make([]reply, len(results))
	for i, cmd := range results {
		v, err := cmd.Result()
		switch {
		case err == nil:
			out[i] = reply{Result: v}
		case errors.Is(err, redis.Nil):
			out[i] = reply{Result: nil}
		case isRedisError(err):
			out[i] = reply{Error: err.Error()}
		default:
			s.logger.Error("redis pipeline failed", zap.Error(err), zap.Int("commands", len(args)))
			writeError(w, http.StatusBadGateway, "redis unavailable")
			return
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// commandArgs validates one command and converts its JSON arguments to
// values the Redis client can encode.
func commandArgs(c []any) ([]any, error) {
	if len(c) == 0 {
		return nil, errors.New("empty command")
	}
	name, ok := c[0].(string)
	if !ok {
		return nil, errors.New("command name must be a string")
	}
	name = strings.ToUpper(name)
	if !allowed[name] {
		return nil, fmt.Errorf("command %q not allowed", name)
	}

	out := make([]any, len(c))
	out[0] = name
	for i, v := range c[1:] {
		switch a := v.(type) {
		case string:
			out[i+1] = a
		case json.Number:
			out[i+1] = a.String()
		case bool:
			out[i+1] = a
		default:
			return nil, fmt.Errorf("argument %d has unsupported type %T", i+1, v)
		}
	}
	return out, nil
}

func isRedisError(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, reply{Error: msg})
}
