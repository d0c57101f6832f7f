package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

type fakeGraph struct {
	due        []model.ProspectiveTask
	notified   []string
	reasons    []string
}

func (f *fakeGraph) OpenTasksDueBefore(ctx context.Context, userID string, cutoff time.Time) ([]model.ProspectiveTask, error) {
	var out []model.ProspectiveTask
	for _, t := range f.due {
		if t.DueAtDT != nil && t.DueAtDT.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeGraph) RecordNotification(ctx context.Context, taskID, userID, message, reason string, now time.Time) error {
	f.notified = append(f.notified, taskID)
	f.reasons = append(f.reasons, reason)
	return nil
}

func dueTask(id string, dueAt time.Time, lastNotified *time.Time, notifiedCount int) model.ProspectiveTask {
	return model.ProspectiveTask{TaskID: id, RawText: "şeyi yap", DueAtDT: &dueAt, LastNotifiedAt: lastNotified, NotifiedCount: notifiedCount}
}

func TestDueScannerNotifiesDueTaskWithoutPriorNotification(t *testing.T) {
	now := time.Now()
	g := &fakeGraph{due: []model.ProspectiveTask{dueTask("t1", now.Add(-time.Hour), nil, 0)}}
	scanner := &DueScanner{Graph: g}

	sent, err := scanner.ScanUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("ScanUser error: %v", err)
	}
	if sent != 1 || len(g.notified) != 1 {
		t.Fatalf("expected 1 notification, got sent=%d notified=%v", sent, g.notified)
	}
}

func TestDueScannerRespectsCooldown(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Minute)
	g := &fakeGraph{due: []model.ProspectiveTask{dueTask("t1", now.Add(-time.Hour), &recent, 1)}}
	scanner := &DueScanner{Graph: g}

	sent, err := scanner.ScanUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("ScanUser error: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected cooldown to suppress notification, got sent=%d", sent)
	}
}

func TestDueScannerFiresAfterCooldownElapses(t *testing.T) {
	now := time.Now()
	old := now.Add(-90 * time.Minute)
	g := &fakeGraph{due: []model.ProspectiveTask{dueTask("t1", now.Add(-2*time.Hour), &old, 1)}}
	scanner := &DueScanner{Graph: g}

	sent, err := scanner.ScanUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("ScanUser error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected cooldown-elapsed reminder to fire, got sent=%d", sent)
	}
}

type fakeNotifier struct{ notified []string }

func (f *fakeNotifier) NotifyOverdue(ctx context.Context, userID string, task model.ProspectiveTask) error {
	f.notified = append(f.notified, task.TaskID)
	return nil
}

func TestObserverEscalatesNeverNotifiedStaleTask(t *testing.T) {
	now := time.Now()
	g := &fakeGraph{due: []model.ProspectiveTask{dueTask("t1", now.Add(-48*time.Hour), nil, 0)}}
	notifier := &fakeNotifier{}
	observer := &Observer{Graph: g, Notifier: notifier}

	escalated, err := observer.ScanUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("ScanUser error: %v", err)
	}
	if escalated != 1 || len(notifier.notified) != 1 {
		t.Fatalf("expected 1 escalation with Slack alert, got escalated=%d notifier=%v", escalated, notifier.notified)
	}
	if g.reasons[0] != "overdue" {
		t.Fatalf("expected reason 'overdue', got %q", g.reasons[0])
	}
}

func TestObserverSkipsAlreadyNotifiedTask(t *testing.T) {
	now := time.Now()
	g := &fakeGraph{due: []model.ProspectiveTask{dueTask("t1", now.Add(-48*time.Hour), nil, 2)}}
	observer := &Observer{Graph: g}

	escalated, err := observer.ScanUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("ScanUser error: %v", err)
	}
	if escalated != 0 {
		t.Fatalf("expected already-notified task to be skipped, got escalated=%d", escalated)
	}
}
