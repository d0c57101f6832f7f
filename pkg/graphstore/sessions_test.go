package graphstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/atlasagent/atlas-core/pkg/model"
)

func TestAppendTurnPersistsAndAdvancesCounter(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO turns").
		WithArgs("s1", 3, model.TurnRoleUser, "merhaba", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET turn_index").
		WithArgs(3, now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.AppendTurn(context.Background(), "s1", 3, model.TurnRoleUser, "merhaba", now); err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecentTurnsReturnsChronologicalOrder(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"session_id", "turn_index", "role", "content", "created_at"}).
		AddRow("s1", 2, "assistant", "b", now).
		AddRow("s1", 1, "user", "a", now)
	mock.ExpectQuery("SELECT session_id, turn_index, role, content, created_at").
		WithArgs("s1", 12).
		WillReturnRows(rows)

	turns, err := store.RecentTurns(context.Background(), "s1", 12)
	if err != nil {
		t.Fatalf("RecentTurns error: %v", err)
	}
	if len(turns) != 2 || turns[0].TurnIndex != 1 || turns[1].TurnIndex != 2 {
		t.Fatalf("expected chronological order, got %+v", turns)
	}
}

func TestPersistedTopicMissReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT topic FROM topics").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"topic"}))

	_, found, err := store.PersistedTopic(context.Background(), "s1")
	if err != nil {
		t.Fatalf("PersistedTopic error: %v", err)
	}
	if found {
		t.Error("expected found=false for an empty topics table")
	}
}
