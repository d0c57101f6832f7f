package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/metrics"
	"github.com/atlasagent/atlas-core/pkg/model"
)

type fakeStore struct {
	memoryMode    model.MemoryMode
	prefs         map[string]bool
	tasks         []model.ProspectiveTask
	doneTaskIDs   []string
	notifications []model.Notification
	ackedIDs      []string
	corrected     bool
	forgotAll     bool
	hardDelete    bool
}

func (f *fakeStore) SetMemoryMode(ctx context.Context, userID string, mode model.MemoryMode) error {
	f.memoryMode = mode
	return nil
}

func (f *fakeStore) SetNotificationPref(ctx context.Context, userID, prefKey string, enabled bool) error {
	if f.prefs == nil {
		f.prefs = map[string]bool{}
	}
	f.prefs[prefKey] = enabled
	return nil
}

func (f *fakeStore) OpenTasksForUser(ctx context.Context, userID string) ([]model.ProspectiveTask, error) {
	return f.tasks, nil
}

func (f *fakeStore) MarkTaskDone(ctx context.Context, taskID, userID string) error {
	f.doneTaskIDs = append(f.doneTaskIDs, taskID)
	return nil
}

func (f *fakeStore) RecentNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return f.notifications, nil
}

func (f *fakeStore) AckNotification(ctx context.Context, notificationID, userID string) error {
	f.ackedIDs = append(f.ackedIDs, notificationID)
	return nil
}

func (f *fakeStore) CorrectMemory(ctx context.Context, mode graphstore.CorrectionMode, userID, subject, predicate, object, reason string, now time.Time) error {
	f.corrected = true
	return nil
}

func (f *fakeStore) ForgetAll(ctx context.Context, userID string, hardDelete bool, now time.Time) error {
	f.forgotAll = true
	f.hardDelete = hardDelete
	return nil
}

func newTestServer(store *fakeStore) (*Server, string) {
	secret := "test-secret"
	srv := New(&Server{
		Store:         store,
		Metrics:       metrics.NewRegistry(prometheus.NewRegistry()),
		SessionSecret: secret,
	})
	token := mintSessionToken("u1", secret, time.Now())
	return srv, token
}

func doRequest(t *testing.T, srv *Server, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Session-Token", token)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHandleListTasks(t *testing.T) {
	store := &fakeStore{tasks: []model.ProspectiveTask{{TaskID: "t1", UserID: "u1"}}}
	srv, token := newTestServer(store)

	w := doRequest(t, srv, token, http.MethodGet, "/api/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleTaskDone(t *testing.T) {
	store := &fakeStore{}
	srv, token := newTestServer(store)

	w := doRequest(t, srv, token, http.MethodPost, "/api/tasks/done", taskDoneRequest{TaskID: "t1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(store.doneTaskIDs) != 1 || store.doneTaskIDs[0] != "t1" {
		t.Errorf("doneTaskIDs = %v, want [t1]", store.doneTaskIDs)
	}
}

func TestHandleSetPolicyMemoryMode(t *testing.T) {
	store := &fakeStore{}
	srv, token := newTestServer(store)

	w := doRequest(t, srv, token, http.MethodPost, "/api/policy", policyRequest{MemoryMode: "FULL"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if store.memoryMode != model.MemoryModeFull {
		t.Errorf("memoryMode = %v, want FULL", store.memoryMode)
	}
}

func TestHandleSetPolicyRejectsInvalidMode(t *testing.T) {
	store := &fakeStore{}
	srv, token := newTestServer(store)

	w := doRequest(t, srv, token, http.MethodPost, "/api/policy", policyRequest{MemoryMode: "BOGUS"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleCorrectMemoryRequiresSubjectPredicate(t *testing.T) {
	store := &fakeStore{}
	srv, token := newTestServer(store)

	w := doRequest(t, srv, token, http.MethodPost, "/api/memory/correct", correctMemoryRequest{Subject: "", Predicate: ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if store.corrected {
		t.Errorf("CorrectMemory should not have been called")
	}
}

func TestHandleForgetAll(t *testing.T) {
	store := &fakeStore{}
	srv, token := newTestServer(store)

	w := doRequest(t, srv, token, http.MethodPost, "/api/memory/forget_all", forgetAllRequest{HardDelete: true})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if !store.forgotAll || !store.hardDelete {
		t.Errorf("forgotAll=%v hardDelete=%v, want both true", store.forgotAll, store.hardDelete)
	}
}

func TestRequireSessionRejectsMissingToken(t *testing.T) {
	store := &fakeStore{}
	srv, _ := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestInternalOnlyWhitelistRejectsUnknownCaller(t *testing.T) {
	store := &fakeStore{}
	secret := "test-secret"
	srv := New(&Server{
		Store:                 store,
		Metrics:               metrics.NewRegistry(prometheus.NewRegistry()),
		SessionSecret:         secret,
		InternalOnly:          true,
		InternalOnlyWhitelist: []string{"trusted-caller"},
	})
	token := mintSessionToken("u1", secret, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("X-Session-Token", token)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHealthzIsAlwaysReachable(t *testing.T) {
	store := &fakeStore{}
	srv, _ := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
