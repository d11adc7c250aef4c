package quota

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"
)

// KeyFunc extracts the identity a rule applies to. An empty identity skips
// limiting for the request.
type KeyFunc func(*http.Request) string

// limitedBody is the JSON body of a 429 response.
type limitedBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// WriteLimited writes a 429 response for res: rate limit headers,
// Retry-After and a JSON body carrying the category's message.
func WriteLimited(w http.ResponseWriter, res Result, max int64, c Category, now time.Time) {
	retry := RetryAfterSeconds(res.ResetAt, now)
	h := w.Header()
	SetHeaders(h, SnapshotOf(res), max)
	SetRetryAfter(h, res.ResetAt, now)
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(limitedBody{Error: c.LimitMessage(), RetryAfter: retry})
}

// Middleware applies rule to every request, keyed by key. Allowed requests
// get the rate limit headers and reach next; rejected ones get a 429.
func Middleware(l *Limiter, rule Rule, key KeyFunc, c Category) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Allow(r.Context(), rule, id)
			if !res.Allowed {
				WriteLimited(w, res, rule.Max, c, l.now())
				return
			}

			SetHeaders(w.Header(), SnapshotOf(res), rule.Max)
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first address of X-Forwarded-For, falling back to
// the host part of the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderKey returns a KeyFunc reading the identity from header name.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}
