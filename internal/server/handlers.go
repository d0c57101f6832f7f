package server

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atlasagent/atlas-core/internal/pipeline"
	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/model"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	StyleKey  string `json:"style_key"`
}

type chatResponse struct {
	Reply   string            `json:"reply"`
	Intent  string            `json:"intent"`
	Topic   string            `json:"topic"`
	Results []model.TaskResult `json:"task_results"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || trimmed(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "", "missing or malformed request body")
		return
	}

	out, err := s.Pipeline.Run(r.Context(), pipeline.Turn{
		UserID:    userID,
		SessionID: req.SessionID,
		Message:   req.Message,
		StyleKey:  req.StyleKey,
	}, time.Now())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	results := make([]model.TaskResult, 0, len(out.TaskResults))
	for _, t := range out.Plan.Tasks {
		if res, ok := out.TaskResults[t.ID]; ok {
			results = append(results, res)
		}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:   out.Reply,
		Intent:  out.Plan.Intent,
		Topic:   out.Plan.DetectedTopic,
		Results: results,
	})
}

// handleChatStream is the SSE variant of handleChat: after Run returns,
// it replays dag.Execute's already-closed StreamEvent channel as
// "thought"/"task_result" events, then emits the closing events carrying
// the synthesized reply, per spec §6's event vocabulary.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || trimmed(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "", "missing or malformed request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Run executes synchronously and only returns Events once the DAG
	// has finished (the channel is already closed by dag.Execute), so
	// this endpoint trades true intra-request streaming for a simple,
	// buffered replay of the same events handleChat's non-streaming
	// response summarizes — acceptable because the channel is sized to
	// hold a whole plan's worth of events without blocking the producer.
	out, err := s.Pipeline.Run(r.Context(), pipeline.Turn{
		UserID:    userID,
		SessionID: req.SessionID,
		Message:   req.Message,
		StyleKey:  req.StyleKey,
	}, time.Now())
	if err != nil {
		writeSSE(w, flusher, "error", err.Error())
		return
	}

	for ev := range out.Events {
		switch ev.Kind {
		case model.StreamEventThought:
			writeSSE(w, flusher, "thought", ev.Text)
		case model.StreamEventTaskResult:
			if ev.Result != nil {
				writeSSE(w, flusher, "task_result", fmt.Sprintf("%s:%s", ev.TaskID, ev.Result.Status))
			}
		}
	}
	writeSSE(w, flusher, "tasks_done", "")
	writeSSE(w, flusher, "chunk", out.Reply)
	writeSSE(w, flusher, "done", "")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

type loginRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || trimmed(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "", "missing user_id")
		return
	}
	token := mintSessionToken(req.UserID, s.SessionSecret, time.Now())
	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Tokens are stateless (HMAC signed, no server-side store), so logout
	// is a client-side no-op that acknowledges the request.
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userIDFromContext(r.Context())})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	notifications, err := s.Store.RecentNotifications(r.Context(), userID, 50)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

type ackRequest struct {
	NotificationID string `json:"notification_id"`
}

func (s *Server) handleAckNotification(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req ackRequest
	if err := decodeJSON(r, &req); err != nil || trimmed(req.NotificationID) == "" {
		writeError(w, http.StatusBadRequest, "", "missing notification_id")
		return
	}
	if err := s.Store.AckNotification(r.Context(), req.NotificationID, userID); err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	open, err := s.Store.OpenTasksForUser(r.Context(), userID)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": open})
}

type taskDoneRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleTaskDone(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req taskDoneRequest
	if err := decodeJSON(r, &req); err != nil || trimmed(req.TaskID) == "" {
		writeError(w, http.StatusBadRequest, "", "missing task_id")
		return
	}
	if err := s.Store.MarkTaskDone(r.Context(), req.TaskID, userID); err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type policyRequest struct {
	MemoryMode        string          `json:"memory_mode"`
	NotificationPrefs map[string]bool `json:"notification_prefs"`
}

// handleSetPolicy applies spec §6's POST /api/policy: an optional
// memory-mode change plus zero or more notification preference toggles,
// each persisted independently so a partial failure on one pref doesn't
// roll back the others.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req policyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "malformed request body")
		return
	}

	if req.MemoryMode != "" {
		mode := model.MemoryMode(req.MemoryMode)
		switch mode {
		case model.MemoryModeOff, model.MemoryModeStandard, model.MemoryModeFull:
		default:
			writeError(w, http.StatusBadRequest, "", "invalid memory_mode")
			return
		}
		if err := s.Store.SetMemoryMode(r.Context(), userID, mode); err != nil {
			writeClassifiedError(w, err)
			return
		}
	}

	for key, enabled := range req.NotificationPrefs {
		if err := s.Store.SetNotificationPref(r.Context(), userID, key, enabled); err != nil {
			writeClassifiedError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type correctMemoryRequest struct {
	Mode      string `json:"mode"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Reason    string `json:"reason"`
}

func (s *Server) handleCorrectMemory(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req correctMemoryRequest
	if err := decodeJSON(r, &req); err != nil || trimmed(req.Subject) == "" || trimmed(req.Predicate) == "" {
		writeError(w, http.StatusBadRequest, "", "missing subject/predicate")
		return
	}
	mode := graphstore.CorrectionRetract
	if req.Mode == string(graphstore.CorrectionReplace) {
		mode = graphstore.CorrectionReplace
	}
	if err := s.Store.CorrectMemory(r.Context(), mode, userID, req.Subject, req.Predicate, req.Object, req.Reason, time.Now()); err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type forgetAllRequest struct {
	HardDelete bool `json:"hard_delete"`
}

func (s *Server) handleForgetAll(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req forgetAllRequest
	_ = decodeJSON(r, &req) // body is optional; hard_delete defaults false

	if err := s.Store.ForgetAll(r.Context(), userID, req.HardDelete, time.Now()); err != nil {
		writeClassifiedError(w, err)
		return
	}
	s.logger().Info("forget_all executed", zap.String("user_id", userID), zap.Bool("hard_delete", req.HardDelete))
	w.WriteHeader(http.StatusNoContent)
}
