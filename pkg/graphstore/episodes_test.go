package graphstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/atlasagent/atlas-core/pkg/model"
)

func TestCreateEpisode(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO episodes").
		WithArgs(sqlmock.AnyArg(), "s1", "u1", model.EpisodeKindRegular, 0, 10, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := store.CreateEpisode(context.Background(), "s1", "u1", model.EpisodeKindRegular, 0, 10, time.Now())
	if err != nil {
		t.Fatalf("CreateEpisode error: %v", err)
	}
	if id == "" {
		t.Error("expected non-empty episode id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimPendingEpisodeNoneFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT episode_id").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, found, err := store.ClaimPendingEpisode(context.Background(), model.EpisodeKindRegular, time.Now())
	if err != nil {
		t.Fatalf("ClaimPendingEpisode error: %v", err)
	}
	if found {
		t.Error("expected found=false when no PENDING episodes exist")
	}
}

func TestFinalizeEpisodeVectorFailureStillReady(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE episodes SET status").
		WithArgs(model.EpisodeStatusReady, "summary text", sqlmock.AnyArg(), "", model.VectorStatusFailed, "embedding timeout", sqlmock.AnyArg(), "ep-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.FinalizeEpisode(context.Background(), "ep-1", model.EpisodeStatusReady, "summary text", nil, "", model.VectorStatusFailed, "embedding timeout", time.Now())
	if err != nil {
		t.Fatalf("FinalizeEpisode error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
