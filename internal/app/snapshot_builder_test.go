package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"golang.org/x/sync/errgroup"
)

func sourceIDs(snaps []domain.SessionQuestionSnapshot) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.SourceQuestionID
	}
	return ids
}

func TestBuildIsDeterministicPerSession(t *testing.T) {
	ctx := context.Background()
	var runs [][]string
	for i := 0; i < 2; i++ {
		f := newFixture(t)
		f.addQuestions("q", "t1", 20)
		f.quizzes.Put(sameSetQuiz("quiz", "t1", 5))
		f.addActiveSession("sess-1", "quiz")

		report, err := f.builder.Build(ctx, "sess-1")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if report.AlreadyBuilt || report.Count != 5 {
			t.Fatalf("unexpected report %+v", report)
		}
		snaps, _ := f.store.ListSnapshots(ctx, "sess-1")
		for i, s := range snaps {
			if s.Ord != i || s.TagID != "t1" {
				t.Fatalf("unexpected snapshot ordering %+v", s)
			}
		}
		runs = append(runs, sourceIDs(snaps))
	}
	for i := range runs[0] {
		if runs[0][i] != runs[1][i] {
			t.Fatalf("builds differ: %v vs %v", runs[0], runs[1])
		}
	}
}

func TestBuildNeverPicksQuestionTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bank.AddQuestion(domain.Question{ID: "shared", Type: domain.QuestionMCQSingle, CreatedAt: t0}, "t1", "t2")
	f.bank.AddQuestion(domain.Question{ID: "only-1", Type: domain.QuestionMCQSingle, CreatedAt: t0}, "t1")
	f.bank.AddQuestion(domain.Question{ID: "only-2", Type: domain.QuestionMCQSingle, CreatedAt: t0}, "t2")
	f.quizzes.Put(domain.Quiz{ID: "quiz", Rules: []domain.Rule{
		{TagID: "t1", Count: 2},
		{TagID: "t2", Count: 2},
	}})
	f.addActiveSession("sess", "quiz")

	report, err := f.builder.Build(ctx, "sess")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	snaps, _ := f.store.ListSnapshots(ctx, "sess")
	seen := map[string]string{}
	for _, s := range snaps {
		if tag, dup := seen[s.SourceQuestionID]; dup {
			t.Fatalf("question %s picked for %s and %s", s.SourceQuestionID, tag, s.TagID)
		}
		seen[s.SourceQuestionID] = s.TagID
	}
	if len(snaps) != 3 || report.PerRule[0].Picked+report.PerRule[1].Picked != 3 {
		t.Fatalf("expected 3 distinct snapshots, got %d (%+v)", len(snaps), report.PerRule)
	}
	if seen["shared"] != "t1" {
		t.Fatalf("shared question must be recorded for the first rule, got %q", seen["shared"])
	}
}

func TestConcurrentBuildsProduceOneSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addQuestions("q", "t1", 30)
	f.quizzes.Put(variantQuiz("quiz", "t1", 2, 8))
	f.addActiveSession("sess", "quiz")

	var fresh atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			report, err := f.builder.Build(gctx, "sess")
			if err != nil {
				return err
			}
			if !report.AlreadyBuilt {
				fresh.Add(1)
			}
			if report.Count != 12 {
				return errors.New("unexpected count")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent build: %v", err)
	}
	if fresh.Load() != 1 {
		t.Fatalf("expected exactly one builder to write, got %d", fresh.Load())
	}
	if n, _ := f.store.CountSnapshots(ctx, "sess"); n != 12 {
		t.Fatalf("expected 12 snapshots, got %d", n)
	}
}

func TestPoolSizeAndShortage(t *testing.T) {
	ctx := context.Background()
	half := 0.5
	f := newFixture(t)
	f.addQuestions("a", "ta", 40)
	f.addQuestions("b", "tb", 40)
	f.addQuestions("c", "tc", 3)
	f.addQuestions("d", "td", 1)
	f.quizzes.Put(domain.Quiz{
		ID:                "quiz",
		ExtraPercentByTag: map[string]float64{"tb": 0.1},
		Rules: []domain.Rule{
			{TagID: "ta", CommonCount: 4, VariantCount: 6},
			{TagID: "tb", CommonCount: 4, VariantCount: 6},
			{TagID: "tc", CommonCount: 1, VariantCount: 4, ExtraPercent: &half},
			{TagID: "td", Count: 3},
		},
	})
	f.addActiveSession("sess", "quiz")

	report, err := f.builder.Build(ctx, "sess")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []app.RuleReport{
		{TagID: "ta", VariantSet: true, Requested: 10, PoolSize: 12, Picked: 12},
		{TagID: "tb", VariantSet: true, Requested: 10, PoolSize: 11, Picked: 11},
		{TagID: "tc", VariantSet: true, Requested: 5, PoolSize: 8, Picked: 3, Shortage: true},
		{TagID: "td", Requested: 3, PoolSize: 3, Picked: 1},
	}
	for i, w := range want {
		if report.PerRule[i] != w {
			t.Fatalf("rule %d: expected %+v, got %+v", i, w, report.PerRule[i])
		}
	}
	if report.Count != 27 {
		t.Fatalf("expected 27 snapshots, got %d", report.Count)
	}
}

func TestBuildFallsBackToQuizDefaultExtra(t *testing.T) {
	ctx := context.Background()
	quarter := 0.25
	f := newFixture(t)
	f.addQuestions("a", "ta", 20)
	quiz := variantQuiz("quiz", "ta", 0, 8)
	quiz.DefaultExtraPercent = &quarter
	f.quizzes.Put(quiz)
	f.addActiveSession("sess", "quiz")

	report, err := f.builder.Build(ctx, "sess")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if report.PerRule[0].PoolSize != 10 {
		t.Fatalf("expected ceil(8*1.25)=10, got %d", report.PerRule[0].PoolSize)
	}
}

func TestBuildAlreadyBuiltAndCommonPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addQuestions("q", "t1", 20)
	f.quizzes.Put(variantQuiz("quiz", "t1", 3, 4))
	f.addActiveSession("sess", "quiz")

	if _, err := f.builder.Build(ctx, "sess"); err != nil {
		t.Fatalf("build: %v", err)
	}
	common, _ := f.store.ListCommonQuestions(ctx, "sess", "t1")
	if len(common) != 3 {
		t.Fatalf("expected 3 common questions, got %d", len(common))
	}
	if n, ok := f.markers.Built(ctx, "sess"); !ok || n != 9 {
		t.Fatalf("expected marker with 9 snapshots, got %d %v", n, ok)
	}

	again, err := f.builder.Build(ctx, "sess")
	if err != nil || !again.AlreadyBuilt || again.Count != 9 {
		t.Fatalf("expected already built, got %+v %v", again, err)
	}

	// A builder without the marker cache still sees the existing rows and leaves
	// the common subset untouched.
	quizRepo := memory.NewQuizRepository(f.quizzes, time.Minute)
	other := app.NewSnapshotBuilder(f.store, quizRepo, f.bank, f.store, nil, app.DefaultBuildConfig(), quietLogger())
	again, err = other.Build(ctx, "sess")
	if err != nil || !again.AlreadyBuilt || again.Count != 9 {
		t.Fatalf("expected already built from count, got %+v %v", again, err)
	}
	after, _ := f.store.ListCommonQuestions(ctx, "sess", "t1")
	for i := range common {
		if after[i] != common[i] {
			t.Fatalf("common subset changed: %v vs %v", common, after)
		}
	}
}

func TestSnapshotIsFrozen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addQuestions("q", "t1", 1)
	f.quizzes.Put(sameSetQuiz("quiz", "t1", 1))
	f.addActiveSession("sess", "quiz")

	if _, err := f.builder.Build(ctx, "sess"); err != nil {
		t.Fatalf("build: %v", err)
	}
	f.bank.UpdateQuestion(domain.Question{ID: "q-00", Prompt: "edited", CreatedAt: t0})

	snaps, _ := f.store.ListSnapshots(ctx, "sess")
	if snaps[0].Prompt != "q question 0" || len(snaps[0].Options) != 2 {
		t.Fatalf("snapshot must not follow bank edits, got %+v", snaps[0])
	}
}

func TestBuildUnknownSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.builder.Build(context.Background(), "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}
