// Package server exposes the quota-protected demo API of quotad.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ryhazerus/quota"
)

// Identity headers. Authentication happens upstream; these carry its result.
const (
	HeaderUserID = "X-User-ID"
	HeaderOrgID  = "X-Org-ID"
	HeaderPlan   = "X-Plan"
)

// maxSyncCost caps the number of matches one sync request may charge.
const maxSyncCost = 200

// Server routes API requests through the limiter.
type Server struct {
	limiter    *quota.Limiter
	plans      quota.Plans
	adminToken string
	logger     *zap.Logger
}

// New creates a Server. An empty adminToken disables the admin routes.
func New(l *quota.Limiter, plans quota.Plans, adminToken string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{limiter: l, plans: plans, adminToken: adminToken, logger: logger}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(RequestID, Logging(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/predict",
		quota.Middleware(s.limiter, quota.PredictRule, quota.HeaderKey(HeaderUserID), quota.CategoryGeneral)(
			http.HandlerFunc(s.handlePredict))).Methods(http.MethodPost)
	api.Handle("/teams/{number:[0-9]+}",
		quota.Middleware(s.limiter, quota.TeamLookupRule, quota.ClientIP, quota.CategoryGeneral)(
			http.HandlerFunc(s.handleTeam))).Methods(http.MethodGet)
	api.HandleFunc("/ai/brief", s.handleAIBrief).Methods(http.MethodPost)
	api.HandleFunc("/ai/usage", s.handleAIUsage).Methods(http.MethodGet)
	api.HandleFunc("/events/sync", s.handleEventSync).Methods(http.MethodPost)

	if s.adminToken != "" {
		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(s.requireAdmin)
		admin.HandleFunc("/ratelimit/reset", s.handleReset).Methods(http.MethodPost)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"distributed": s.limiter.Distributed(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"team": mux.Vars(r)["number"]})
}

func (s *Server) handleAIBrief(w http.ResponseWriter, r *http.Request) {
	org := strings.TrimSpace(r.Header.Get(HeaderOrgID))
	if org == "" {
		writeError(w, http.StatusBadRequest, "missing "+HeaderOrgID)
		return
	}

	rule := s.plans.AIRule(r.Header.Get(HeaderPlan))
	res := s.limiter.Allow(r.Context(), rule, org)
	if !res.Allowed {
		quota.WriteLimited(w, res, rule.Max, quota.CategoryAI, s.now())
		return
	}

	quota.SetHeaders(w.Header(), quota.SnapshotOf(res), rule.Max)
	writeJSON(w, http.StatusOK, map[string]string{"brief": "generated"})
}

// usageResponse is the body of GET /api/ai/usage.
type usageResponse struct {
	Plan        quota.PlanTier `json:"plan"`
	Limit       int64          `json:"limit"`
	Remaining   int64          `json:"remaining"`
	ResetAt     int64          `json:"resetAt"`
	PercentUsed int            `json:"percentUsed"`
	ResetIn     string         `json:"resetIn"`
	Status      string         `json:"status"`
}

func (s *Server) handleAIUsage(w http.ResponseWriter, r *http.Request) {
	org := strings.TrimSpace(r.Header.Get(HeaderOrgID))
	if org == "" {
		writeError(w, http.StatusBadRequest, "missing "+HeaderOrgID)
		return
	}

	plan := r.Header.Get(HeaderPlan)
	rule := s.plans.AIRule(plan)
	snap := s.limiter.Usage(r.Context(), rule, org)
	quota.SetHeaders(w.Header(), snap, rule.Max)

	now := s.now()
	u := quota.Usage{Limit: rule.Max, Remaining: snap.Remaining, ResetAt: snap.ResetAt}
	writeJSON(w, http.StatusOK, usageResponse{
		Plan:        quota.NormalizePlanTier(plan),
		Limit:       u.Limit,
		Remaining:   u.Remaining,
		ResetAt:     u.ResetAt.UnixMilli(),
		PercentUsed: u.PercentUsed(),
		ResetIn:     quota.FormatResetIn(u.ResetIn(now)),
		Status:      u.Status(quota.CategoryAI, now),
	})
}

func (s *Server) handleEventSync(w http.ResponseWriter, r *http.Request) {
	org := strings.TrimSpace(r.Header.Get(HeaderOrgID))
	if org == "" {
		writeError(w, http.StatusBadRequest, "missing "+HeaderOrgID)
		return
	}

	cost := int64(1)
	if raw := r.URL.Query().Get("matches"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxSyncCost {
			writeError(w, http.StatusBadRequest, "matches must be between 1 and "+strconv.Itoa(maxSyncCost))
			return
		}
		cost = n
	}

	rule := quota.EventSyncRule.WithCost(cost)
	res := s.limiter.Allow(r.Context(), rule, org)
	if !res.Allowed {
		quota.WriteLimited(w, res, rule.Max, quota.CategorySync, s.now())
		return
	}

	quota.SetHeaders(w.Header(), quota.SnapshotOf(res), rule.Max)
	writeJSON(w, http.StatusOK, map[string]int64{"synced": cost})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	report := s.limiter.ResetPrefix(r.Context(), prefix)
	s.logger.Info("admin reset rate limit counters",
		zap.String("prefix", prefix),
		zap.Int64("deleted", report.Deleted),
		zap.String("backend", report.Backend),
		zap.String("request_id", RequestIDFrom(r.Context())),
	)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) now() time.Time {
	return s.limiter.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
