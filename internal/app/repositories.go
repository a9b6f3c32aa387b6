package app

import (
	"context"
	"time"

	"classroom-quiz-service/internal/domain"
)

// QuizRepository loads quiz rules and scoring settings (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuestionBank reads candidate questions. The bank is read-only from here.
type QuestionBank interface {
	Candidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Question, error)
}

// SessionRepository reads sessions and moves them through their lifecycle.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessionsByStatus(ctx context.Context, status string) ([]domain.Session, error)
	// StartSession moves a scheduled session to active. secret is stored only when
	// the session has none yet. Reports false when the session was not scheduled.
	StartSession(ctx context.Context, id string, now time.Time, secret string) (bool, error)
	// EndSession moves an active session to ended. Reports false when it was not active.
	EndSession(ctx context.Context, id string, now time.Time) (bool, error)
}

// SnapshotRepository stores the frozen per-session question set and its derived lists.
type SnapshotRepository interface {
	CountSnapshots(ctx context.Context, sessionID string) (int, error)
	// InsertSnapshots writes the whole set in one transaction. It reports false when
	// the session's set was already written by another builder.
	InsertSnapshots(ctx context.Context, sessionID string, snaps []domain.SessionQuestionSnapshot) (bool, error)
	ListSnapshots(ctx context.Context, sessionID string) ([]domain.SessionQuestionSnapshot, error)
	GetSnapshot(ctx context.Context, sessionID, snapshotID string) (domain.SessionQuestionSnapshot, error)
	ListCommonQuestions(ctx context.Context, sessionID, tagID string) ([]domain.SessionCommonQuestion, error)
	InsertCommonQuestions(ctx context.Context, rows []domain.SessionCommonQuestion) error
	ListAttemptQuestions(ctx context.Context, attemptID string) ([]domain.AttemptQuestion, error)
	// InsertAttemptQuestions reports false when the attempt already had rows.
	InsertAttemptQuestions(ctx context.Context, attemptID string, rows []domain.AttemptQuestion) (bool, error)
}

// AttemptRepository persists attempts and their checkpoint state.
type AttemptRepository interface {
	// CreateAttempt stores a unless (session, user) already has an attempt, and
	// returns the stored attempt plus whether it was created by this call.
	CreateAttempt(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error)
	GetAttempt(ctx context.Context, id string) (domain.Attempt, error)
	// SaveCheckpoint writes checkpoint fields and status unless the attempt was
	// submitted or its failed count is no longer prevFailed. Reports whether it wrote.
	SaveCheckpoint(ctx context.Context, a domain.Attempt, prevFailed int) (bool, error)
	// SubmitAttempt moves an active attempt to submitted. Reports false otherwise.
	SubmitAttempt(ctx context.Context, id string, score float64, now time.Time) (bool, error)
	ListAttempts(ctx context.Context, sessionID string) ([]domain.Attempt, error)
}

// AnswerRepository keeps the latest selection per question.
type AnswerRepository interface {
	UpsertAnswer(ctx context.Context, a domain.Answer) error
	ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error)
}

// CheckpointLogRepository is the append-only audit trail.
type CheckpointLogRepository interface {
	AppendLog(ctx context.Context, l domain.CheckpointLog) error
	ListLogs(ctx context.Context, sessionID string) ([]domain.CheckpointLog, error)
}

// MembershipRepository answers classroom authorization questions.
type MembershipRepository interface {
	IsMember(ctx context.Context, classroomID, userID string) (bool, error)
	IsOwner(ctx context.Context, classroomID, userID string) (bool, error)
}

// Store is everything the runtime persists.
type Store interface {
	SessionRepository
	SnapshotRepository
	AttemptRepository
	AnswerRepository
	CheckpointLogRepository
	MembershipRepository
}

// SnapshotMarkers remembers which sessions already have a snapshot set so joins can
// skip the count query. Implementations are best effort.
type SnapshotMarkers interface {
	Built(ctx context.Context, sessionID string) (int, bool)
	MarkBuilt(ctx context.Context, sessionID string, count int)
}

type noMarkers struct{}

func (noMarkers) Built(context.Context, string) (int, bool) { return 0, false }
func (noMarkers) MarkBuilt(context.Context, string, int)    {}
