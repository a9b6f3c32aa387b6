package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"classroom-quiz-service/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestInsertSnapshotsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	snaps := []domain.SessionQuestionSnapshot{{ID: "s1", SessionID: "sess", Options: []domain.Option{{Order: 0, IsCorrect: true}}}}
	ok, err := store.InsertSnapshots(ctx, "sess", snaps)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	snaps[0].Options[0].IsCorrect = false

	ok, _ = store.InsertSnapshots(ctx, "sess", []domain.SessionQuestionSnapshot{{ID: "s2"}})
	if ok {
		t.Fatalf("second insert must report already built")
	}
	got, _ := store.ListSnapshots(ctx, "sess")
	if len(got) != 1 || !got[0].Options[0].IsCorrect {
		t.Fatalf("stored snapshot must be an isolated copy, got %+v", got)
	}
	if _, err := store.GetSnapshot(ctx, "sess", "nope"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestCreateAttemptOnePerUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first, created, _ := store.CreateAttempt(ctx, domain.Attempt{ID: "a1", SessionID: "sess", UserID: "u1", Status: domain.AttemptActive})
	if !created || first.ID != "a1" {
		t.Fatalf("expected a1 created, got %+v %v", first, created)
	}
	again, created, _ := store.CreateAttempt(ctx, domain.Attempt{ID: "a2", SessionID: "sess", UserID: "u1"})
	if created || again.ID != "a1" {
		t.Fatalf("expected existing a1, got %+v %v", again, created)
	}
}

func TestSubmitAttemptIsOneWay(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, _, _ = store.CreateAttempt(ctx, domain.Attempt{ID: "a1", SessionID: "sess", UserID: "u1", Status: domain.AttemptActive})

	if ok, _ := store.SubmitAttempt(ctx, "a1", 2.5, t0); !ok {
		t.Fatalf("expected first submit to win")
	}
	if ok, _ := store.SubmitAttempt(ctx, "a1", 1, t0); ok {
		t.Fatalf("expected second submit to be rejected")
	}

	// checkpoint writes after submit are ignored
	if saved, _ := store.SaveCheckpoint(ctx, domain.Attempt{ID: "a1", Status: domain.AttemptLocked, FailedCount: 6}, 0); saved {
		t.Fatalf("checkpoint write after submit must be rejected")
	}
	a, _ := store.GetAttempt(ctx, "a1")
	if a.Status != domain.AttemptSubmitted || a.FailedCount != 0 || *a.Score != 2.5 {
		t.Fatalf("unexpected attempt after submit %+v", a)
	}
}

func TestSaveCheckpointRejectsStaleFailedCount(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, _, _ = store.CreateAttempt(ctx, domain.Attempt{ID: "a1", SessionID: "sess", UserID: "u1", Status: domain.AttemptActive})

	if saved, err := store.SaveCheckpoint(ctx, domain.Attempt{ID: "a1", Status: domain.AttemptActive, FailedCount: 1}, 0); err != nil || !saved {
		t.Fatalf("expected first strike to be written: %v %v", saved, err)
	}
	// A second writer that read failedCount=0 must not overwrite the strike.
	if saved, _ := store.SaveCheckpoint(ctx, domain.Attempt{ID: "a1", Status: domain.AttemptActive, FailedCount: 1}, 0); saved {
		t.Fatalf("stale checkpoint write must be rejected")
	}
	a, _ := store.GetAttempt(ctx, "a1")
	if a.FailedCount != 1 {
		t.Fatalf("expected failed count 1, got %d", a.FailedCount)
	}
}

func TestSessionTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.AddSession(domain.Session{ID: "s", Status: domain.SessionScheduled, TOTPSecret: "KEEP"})

	if ok, _ := store.EndSession(ctx, "s", t0); ok {
		t.Fatalf("scheduled session must not end")
	}
	if ok, _ := store.StartSession(ctx, "s", t0, "NEW"); !ok {
		t.Fatalf("expected start")
	}
	if ok, _ := store.StartSession(ctx, "s", t0, "NEW"); ok {
		t.Fatalf("expected second start to be a no-op")
	}
	s, _ := store.GetSession(ctx, "s")
	if s.TOTPSecret != "KEEP" || s.StartedAt == nil {
		t.Fatalf("existing secret must be kept, got %+v", s)
	}
	if ok, _ := store.EndSession(ctx, "s", t0.Add(time.Hour)); !ok {
		t.Fatalf("expected end")
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestLogsScopedToSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, _, _ = store.CreateAttempt(ctx, domain.Attempt{ID: "a1", SessionID: "s1", UserID: "u1"})
	_, _, _ = store.CreateAttempt(ctx, domain.Attempt{ID: "a2", SessionID: "s2", UserID: "u1"})
	_ = store.AppendLog(ctx, domain.CheckpointLog{ID: "l2", AttemptID: "a1", Event: domain.EventVerifyOK, CreatedAt: t0.Add(time.Minute)})
	_ = store.AppendLog(ctx, domain.CheckpointLog{ID: "l1", AttemptID: "a1", Event: domain.EventScheduled, CreatedAt: t0})
	_ = store.AppendLog(ctx, domain.CheckpointLog{ID: "lx", AttemptID: "a2", Event: domain.EventScheduled, CreatedAt: t0})

	logs, _ := store.ListLogs(ctx, "s1")
	if len(logs) != 2 || logs[0].ID != "l1" || logs[1].ID != "l2" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}
