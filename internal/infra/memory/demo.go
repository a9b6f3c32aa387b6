package memory

import (
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
)

// Demo is a seeded in-memory backend for running the server without Postgres.
type Demo struct {
	Store   *Store
	Bank    *QuestionBank
	Quizzes *StaticQuizLoader
}

// NewDemo seeds classroom "class-1" (owner "teacher-1", students "student-1" and
// "student-2"), an active same-set session and a scheduled variant-set session.
func NewDemo(now time.Time) Demo {
	store := NewStore()
	bank := NewQuestionBank()

	store.AddClassroom("class-1", "teacher-1", "student-1", "student-2")

	for i := 1; i <= 6; i++ {
		bank.AddQuestion(domain.Question{
			ID:     fmt.Sprintf("arith-%d", i),
			PoolID: "pool-math",
			Type:   domain.QuestionMCQSingle,
			Prompt: fmt.Sprintf("What is %d + %d?", i, i),
			Options: []domain.Option{
				{Order: 0, Text: fmt.Sprint(2 * i), IsCorrect: true},
				{Order: 1, Text: fmt.Sprint(2*i + 1)},
				{Order: 2, Text: fmt.Sprint(2*i - 1)},
			},
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		}, "arith")
	}
	for i := 1; i <= 8; i++ {
		bank.AddQuestion(domain.Question{
			ID:     fmt.Sprintf("prime-%d", i),
			PoolID: "pool-math",
			Type:   domain.QuestionMCQMulti,
			Prompt: fmt.Sprintf("Which of these are prime? (set %d)", i),
			Options: []domain.Option{
				{Order: 0, Text: "2", IsCorrect: true},
				{Order: 1, Text: fmt.Sprint(4 * i)},
				{Order: 2, Text: "3", IsCorrect: true},
			},
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		}, "primes")
	}

	extra := 0.25
	quizzes := NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-same": {
			ID:      "quiz-same",
			Title:   "Warm-up",
			Scoring: domain.ScoringConfig{Mode: domain.ScoringAllOrNothing},
			Rules:   []domain.Rule{{ID: "rule-1", QuizID: "quiz-same", TagID: "arith", Count: 3}},
		},
		"quiz-variant": {
			ID:                  "quiz-variant",
			Title:               "Primes",
			DefaultExtraPercent: &extra,
			Scoring:             domain.ScoringConfig{Mode: domain.ScoringPartial, PartialMethod: domain.PartialEDC, Rounding: domain.Rounding2},
			Rules: []domain.Rule{
				{ID: "rule-2", QuizID: "quiz-variant", TagID: "arith", Count: 2, Ord: 0},
				{ID: "rule-3", QuizID: "quiz-variant", TagID: "primes", CommonCount: 1, VariantCount: 2, Ord: 1},
			},
		},
	})

	started := now
	store.AddSession(domain.Session{
		ID:              "session-same",
		QuizID:          "quiz-same",
		ClassroomID:     "class-1",
		Status:          domain.SessionActive,
		TOTPSecret:      "JBSWY3DPEHPK3PXP",
		StepSeconds:     30,
		AutoEnd:         true,
		DurationSeconds: 3600,
		BufferMinutes:   5,
		StartedAt:       &started,
	})
	store.AddSession(domain.Session{
		ID:               "session-variant",
		QuizID:           "quiz-variant",
		ClassroomID:      "class-1",
		Status:           domain.SessionScheduled,
		StepSeconds:      30,
		AutoStart:        true,
		ScheduledStartAt: &started,
		DurationSeconds:  1800,
	})

	return Demo{Store: store, Bank: bank, Quizzes: quizzes}
}
