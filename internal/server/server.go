// Package server exposes the thin HTTP surface of spec §6: chat,
// auth/session, notifications, tasks, policy, and memory-correction
// endpoints on top of internal/pipeline.Runner and pkg/graphstore.Store.
// It is intentionally a thin adapter: every operation it performs is
// already implemented by a lower package; this layer only decodes
// requests, enforces the INTERNAL_ONLY whitelist, and encodes responses.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/atlasagent/atlas-core/internal/pipeline"
	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/metrics"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// Store is the subset of pkg/graphstore.Store the auxiliary endpoints
// (notifications/tasks/policy/memory correction) touch directly.
type Store interface {
	SetMemoryMode(ctx context.Context, userID string, mode model.MemoryMode) error
	SetNotificationPref(ctx context.Context, userID, prefKey string, enabled bool) error
	OpenTasksForUser(ctx context.Context, userID string) ([]model.ProspectiveTask, error)
	MarkTaskDone(ctx context.Context, taskID, userID string) error
	RecentNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	AckNotification(ctx context.Context, notificationID, userID string) error
	CorrectMemory(ctx context.Context, mode graphstore.CorrectionMode, userID, subject, predicate, object, reason string, now time.Time) error
	ForgetAll(ctx context.Context, userID string, hardDelete bool, now time.Time) error
}

// Server bundles everything the HTTP layer needs; New wires its routes.
type Server struct {
	Pipeline *pipeline.Runner
	Store    Store
	Metrics  *metrics.Registry
	Logger   *zap.Logger

	SessionSecret         string
	InternalOnly          bool
	InternalOnlyWhitelist []string

	router chi.Router
}

// New builds the chi router and returns a Server ready to hand to
// http.Server as its Handler.
func New(s *Server) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.httpMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Session-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(api chi.Router) {
		if s.InternalOnly {
			api.Use(s.internalOnlyWhitelist)
		}
		api.Use(s.requireSession)

		api.Post("/chat", s.handleChat)
		api.Post("/chat/stream", s.handleChatStream)

		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/logout", s.handleLogout)
		api.Get("/auth/me", s.handleAuthMe)

		api.Get("/notifications", s.handleListNotifications)
		api.Post("/notifications/ack", s.handleAckNotification)

		api.Get("/tasks", s.handleListTasks)
		api.Post("/tasks/done", s.handleTaskDone)

		api.Post("/policy", s.handleSetPolicy)

		api.Post("/memory/correct", s.handleCorrectMemory)
		api.Post("/memory/forget_all", s.handleForgetAll)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// httpMetrics records request duration/outcome keyed by the matched chi
// route pattern, mirroring the teacher's gateway HTTP metrics middleware.
func (s *Server) httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.Metrics.ObserveHTTP(route, r.Method, statusClass(ww.Status()), time.Since(start))
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// internalOnlyWhitelist enforces spec §6's INTERNAL_ONLY gate: requests
// must name a caller on the configured whitelist via X-Internal-Caller,
// or they're rejected with the ACCESS_DENIED classification before any
// session check runs.
func (s *Server) internalOnlyWhitelist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get("X-Internal-Caller")
		if !contains(s.InternalOnlyWhitelist, caller) {
			writeError(w, http.StatusForbidden, sharederrors.KindAccessDenied, "caller not on INTERNAL_ONLY_WHITELIST")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contains(list []string, v string) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

type ctxKey string

const ctxKeyUserID ctxKey = "atlas_user_id"

// requireSession resolves the caller's user id from the X-Session-Token
// header (HMAC-signed opaque token minted by handleLogin) and stores it
// on the request context. Every /api route past this point reads it via
// userIDFromContext instead of trusting a client-supplied user_id field.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Session-Token")
		userID, ok := verifySessionToken(token, s.SessionSecret)
		if !ok {
			writeError(w, http.StatusUnauthorized, sharederrors.KindAccessDenied, "missing or invalid session token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind sharederrors.Kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
}

// writeClassifiedError maps a pipeline/store error's sharederrors.Kind to
// an HTTP status, defaulting to 503 per spec §7's "components return
// structured results" default for unclassified failures.
func writeClassifiedError(w http.ResponseWriter, err error) {
	kind := sharederrors.KindOf(err)
	status := http.StatusServiceUnavailable
	switch kind {
	case sharederrors.KindPolicyViolation:
		status = http.StatusOK // canned response, not a failure, per spec §4.4
	case sharederrors.KindAccessDenied:
		status = http.StatusForbidden
	case sharederrors.KindPermanentInput, sharederrors.KindExtractorParse:
		status = http.StatusBadRequest
	case sharederrors.KindQuotaExhausted, sharederrors.KindTransientExternal:
		status = http.StatusBadGateway
	}
	writeError(w, status, kind, err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func trimmed(s string) string { return strings.TrimSpace(s) }
