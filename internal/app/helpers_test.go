package app_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/checkpoint"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/totp"
)

const testSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store   *memory.Store
	bank    *memory.QuestionBank
	quizzes *memory.StaticQuizLoader
	markers *memory.SnapshotMarkers
	builder *app.SnapshotBuilder
	service *app.RuntimeService
	clock   *clock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		bank:    memory.NewQuestionBank(),
		quizzes: memory.NewStaticQuizLoader(nil),
		markers: memory.NewSnapshotMarkers(),
		clock:   &clock{now: t0},
	}
	log := quietLogger()
	quizRepo := memory.NewQuizRepository(f.quizzes, time.Minute)
	f.builder = app.NewSnapshotBuilder(f.store, quizRepo, f.bank, f.store, f.markers, app.DefaultBuildConfig(), log)
	machine := checkpoint.NewWithInterval(checkpoint.DefaultPolicy(), func() time.Duration { return 4 * time.Minute })
	f.service = app.NewRuntimeService(f.store, quizRepo, f.builder, machine, app.RuntimeOptions{Log: log, Now: f.clock.Now})

	f.store.AddClassroom("class-1", "teacher", "alice", "bob")
	return f
}

// addQuestions seeds n single-choice questions tagged tag; option 0 is correct.
func (f *fixture) addQuestions(prefix, tag string, n int) {
	for i := 0; i < n; i++ {
		f.bank.AddQuestion(domain.Question{
			ID:     fmt.Sprintf("%s-%02d", prefix, i),
			PoolID: "pool-1",
			Type:   domain.QuestionMCQSingle,
			Prompt: fmt.Sprintf("%s question %d", prefix, i),
			Options: []domain.Option{
				{Order: 0, Text: "right", IsCorrect: true},
				{Order: 1, Text: "wrong"},
			},
			CreatedAt: t0.Add(-time.Duration(i) * time.Minute),
		}, tag)
	}
}

func (f *fixture) addActiveSession(id, quizID string) {
	started := t0
	f.store.AddSession(domain.Session{
		ID:          id,
		QuizID:      quizID,
		ClassroomID: "class-1",
		Status:      domain.SessionActive,
		TOTPSecret:  testSecret,
		StepSeconds: 30,
		StartedAt:   &started,
	})
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	tok, err := totp.Current(totp.Params{Secret: testSecret, StepSeconds: 30, Digits: 6}, f.clock.Now())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok.Code
}

func sameSetQuiz(id, tag string, count int) domain.Quiz {
	return domain.Quiz{
		ID:      id,
		Scoring: domain.ScoringConfig{Mode: domain.ScoringAllOrNothing},
		Rules:   []domain.Rule{{ID: id + "-r1", QuizID: id, TagID: tag, Count: count}},
	}
}

func variantQuiz(id, tag string, common, variant int) domain.Quiz {
	return domain.Quiz{
		ID:      id,
		Scoring: domain.ScoringConfig{Mode: domain.ScoringAllOrNothing},
		Rules:   []domain.Rule{{ID: id + "-r1", QuizID: id, TagID: tag, CommonCount: common, VariantCount: variant}},
	}
}
