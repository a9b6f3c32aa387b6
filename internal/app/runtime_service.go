package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"classroom-quiz-service/internal/checkpoint"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/scoring"
	"classroom-quiz-service/internal/totp"
	"github.com/google/uuid"
)

// maxCheckpointRetries bounds re-reads when concurrent verifies race on one attempt.
const maxCheckpointRetries = 3

// RuntimeOptions carries the optional knobs of RuntimeService.
type RuntimeOptions struct {
	TokenDigits int
	Log         *slog.Logger
	// Now is overridden by tests for deterministic timestamps.
	Now func() time.Time
}

// RuntimeService contains the session/attempt use cases.
type RuntimeService struct {
	store    Store
	quizzes  QuizRepository
	builder  *SnapshotBuilder
	variants *VariantAssigner
	machine  *checkpoint.Machine
	digits   int
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewRuntimeService(store Store, quizzes QuizRepository, builder *SnapshotBuilder, machine *checkpoint.Machine, opts RuntimeOptions) *RuntimeService {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TokenDigits <= 0 {
		opts.TokenDigits = 6
	}
	return &RuntimeService{
		store:    store,
		quizzes:  quizzes,
		builder:  builder,
		variants: NewVariantAssigner(store, opts.Log),
		machine:  machine,
		digits:   opts.TokenDigits,
		log:      opts.Log,
		now:      opts.Now,
		newID:    uuid.NewString,
	}
}

// JoinResult is returned to a student entering a session.
type JoinResult struct {
	AttemptID string      `json:"attemptId"`
	Status    string      `json:"status"`
	NextDueAt time.Time   `json:"nextDueAt"`
	Created   bool        `json:"created"`
	Build     BuildReport `json:"build"`
}

// AttemptState is what the student client polls to drive the checkpoint modal.
type AttemptState struct {
	AttemptID     string           `json:"attemptId"`
	AttemptStatus string           `json:"attemptStatus"`
	SessionStatus string           `json:"sessionStatus"`
	NextDueAt     time.Time        `json:"nextDueAt"`
	FailedCount   int              `json:"failedCount"`
	CooldownUntil *time.Time       `json:"cooldownUntil,omitempty"`
	LockedUntil   *time.Time       `json:"lockedUntil,omitempty"`
	Score         *float64         `json:"score,omitempty"`
	ServerTime    time.Time        `json:"serverTime"`
	Flags         checkpoint.Flags `json:"flags"`
}

// OptionView is an option without its correctness flag.
type OptionView struct {
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// QuestionView is one entry of an attempt's effective question list.
type QuestionView struct {
	ID      string       `json:"id"`
	TagID   string       `json:"tagId"`
	Number  int          `json:"number"`
	Type    string       `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []OptionView `json:"options"`
}

// VerifyResult is the outcome of a successful checkpoint verify.
type VerifyResult struct {
	OK        bool      `json:"ok"`
	Status    string    `json:"status"`
	NextDueAt time.Time `json:"nextDueAt"`
}

// SubmitResult is returned once an attempt is scored.
type SubmitResult struct {
	OK             bool    `json:"ok"`
	Score          float64 `json:"score"`
	CorrectCount   int     `json:"correctCount"`
	TotalQuestions int     `json:"totalQuestions"`
}

// StartResult reports a manual session start with its build warnings.
type StartResult struct {
	Session domain.Session `json:"session"`
	Build   BuildReport    `json:"build"`
}

// SessionStatus is the polling view of a session.
type SessionStatus struct {
	domain.Session
	EndsAt     *time.Time `json:"endsAt,omitempty"`
	ServerTime time.Time  `json:"serverTime"`
}

// ScoreboardEntry is one row of the teacher's scoreboard.
type ScoreboardEntry struct {
	AttemptID   string     `json:"attemptId"`
	UserID      string     `json:"userId"`
	Status      string     `json:"status"`
	Score       *float64   `json:"score,omitempty"`
	FailedCount int        `json:"failedCount"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// Join creates the caller's attempt (or returns the existing one), makes sure the
// session snapshot exists and assigns variant questions.
func (s *RuntimeService) Join(ctx context.Context, userID, sessionID string) (JoinResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	if err := s.requireMember(ctx, session, userID); err != nil {
		return JoinResult{}, err
	}
	switch session.Status {
	case domain.SessionEnded:
		return JoinResult{}, domain.ErrSessionEnded
	case domain.SessionActive:
	default:
		return JoinResult{}, domain.ErrSessionNotActive
	}

	report, err := s.builder.Build(ctx, sessionID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("build snapshot: %w", err)
	}

	now := s.now()
	candidate := domain.Attempt{
		ID:        s.newID(),
		SessionID: sessionID,
		UserID:    userID,
		Status:    domain.AttemptActive,
		StartedAt: now,
	}
	s.machine.Schedule(&candidate, now)
	attempt, created, err := s.store.CreateAttempt(ctx, candidate)
	if err != nil {
		return JoinResult{}, fmt.Errorf("create attempt: %w", err)
	}
	if created {
		due := attempt.NextDueAt
		s.appendLog(ctx, attempt.ID, domain.EventScheduled, "", &due, now)
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return JoinResult{}, err
	}
	if _, err := s.variants.Assign(ctx, attempt, quiz); err != nil {
		return JoinResult{}, err
	}

	return JoinResult{
		AttemptID: attempt.ID,
		Status:    attempt.Status,
		NextDueAt: attempt.NextDueAt,
		Created:   created,
		Build:     report,
	}, nil
}

// State derives the checkpoint flags of the caller's attempt.
func (s *RuntimeService) State(ctx context.Context, userID, attemptID string) (AttemptState, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return AttemptState{}, err
	}
	session, err := s.store.GetSession(ctx, attempt.SessionID)
	if err != nil {
		return AttemptState{}, err
	}
	now := s.now()
	return AttemptState{
		AttemptID:     attempt.ID,
		AttemptStatus: attempt.Status,
		SessionStatus: session.Status,
		NextDueAt:     attempt.NextDueAt,
		FailedCount:   attempt.FailedCount,
		CooldownUntil: attempt.CooldownUntil,
		LockedUntil:   attempt.LockedUntil,
		Score:         attempt.Score,
		ServerTime:    now,
		Flags:         s.machine.Flags(attempt, now),
	}, nil
}

// Questions returns the attempt's ordered question list with correctness stripped.
func (s *RuntimeService) Questions(ctx context.Context, userID, attemptID string) ([]QuestionView, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.effectiveQuestions(ctx, attempt)
	if err != nil {
		return nil, err
	}
	views := make([]QuestionView, len(snaps))
	for i, snap := range snaps {
		opts := make([]OptionView, len(snap.Options))
		for j, o := range snap.Options {
			opts[j] = OptionView{Order: o.Order, Text: o.Text}
		}
		views[i] = QuestionView{
			ID:      snap.ID,
			TagID:   snap.TagID,
			Number:  i + 1,
			Type:    snap.Type,
			Prompt:  snap.Prompt,
			Options: opts,
		}
	}
	return views, nil
}

// ListAnswers returns the server copy of the caller's answers.
func (s *RuntimeService) ListAnswers(ctx context.Context, userID, attemptID string) ([]domain.Answer, error) {
	if _, err := s.ownedAttempt(ctx, userID, attemptID); err != nil {
		return nil, err
	}
	return s.store.ListAnswers(ctx, attemptID)
}

// SaveAnswer upserts the selection for one question. Last write wins.
func (s *RuntimeService) SaveAnswer(ctx context.Context, userID, attemptID, questionID string, selected []int) (domain.Answer, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return domain.Answer{}, err
	}
	if attempt.Status != domain.AttemptActive {
		return domain.Answer{}, domain.ErrAttemptNotActive
	}
	snap, err := s.store.GetSnapshot(ctx, attempt.SessionID, questionID)
	if err != nil {
		return domain.Answer{}, err
	}

	clean := cleanSelection(selected, snap.Options)
	if snap.Type == domain.QuestionMCQSingle && len(clean) > 1 {
		return domain.Answer{}, domain.ErrMCQSingleOnlyOne
	}
	answer := domain.Answer{
		AttemptID:         attemptID,
		SessionQuestionID: questionID,
		Selected:          clean,
		UpdatedAt:         s.now(),
	}
	if err := s.store.UpsertAnswer(ctx, answer); err != nil {
		return domain.Answer{}, fmt.Errorf("upsert answer: %w", err)
	}
	return answer, nil
}

// VerifyToken checks a projector token against the session secret.
func (s *RuntimeService) VerifyToken(ctx context.Context, userID, attemptID, token string) (VerifyResult, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return VerifyResult{}, err
	}
	session, err := s.store.GetSession(ctx, attempt.SessionID)
	if err != nil {
		return VerifyResult{}, err
	}
	if session.Status != domain.SessionActive {
		return VerifyResult{}, domain.ErrSessionNotActive
	}

	now := s.now()
	valid := totp.Verify(s.params(session), token, now)
	for try := 0; ; try++ {
		if attempt.Status == domain.AttemptSubmitted {
			return VerifyResult{}, domain.ErrAttemptNotActive
		}
		if err := s.machine.Gate(attempt, now); err != nil {
			return VerifyResult{}, err
		}

		due, prevFailed := attempt.NextDueAt, attempt.FailedCount
		var event string
		if valid {
			event = s.machine.Verified(&attempt, now)
		} else {
			event = s.machine.Fail(&attempt, now)
		}
		saved, err := s.store.SaveCheckpoint(ctx, attempt, prevFailed)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("save checkpoint: %w", err)
		}
		if saved {
			s.appendLog(ctx, attempt.ID, event, token, &due, now)
			if !valid {
				return VerifyResult{}, domain.ErrWrongToken
			}
			return VerifyResult{OK: true, Status: attempt.Status, NextDueAt: attempt.NextDueAt}, nil
		}
		if try >= maxCheckpointRetries {
			return VerifyResult{}, fmt.Errorf("save checkpoint: attempt %s kept changing", attempt.ID)
		}
		// Another verify moved the attempt; reapply on the fresh row.
		if attempt, err = s.store.GetAttempt(ctx, attempt.ID); err != nil {
			return VerifyResult{}, err
		}
	}
}

// Submit scores the attempt against the full session snapshot and closes it.
func (s *RuntimeService) Submit(ctx context.Context, userID, attemptID string) (SubmitResult, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	if attempt.Status != domain.AttemptActive {
		return SubmitResult{}, domain.ErrAttemptNotActive
	}
	session, err := s.store.GetSession(ctx, attempt.SessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}
	snaps, err := s.store.ListSnapshots(ctx, attempt.SessionID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("list snapshots: %w", err)
	}
	stored, err := s.store.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("list answers: %w", err)
	}
	answers := make(map[string][]int, len(stored))
	for _, a := range stored {
		answers[a.SessionQuestionID] = a.Selected
	}
	effective, err := s.effectiveQuestions(ctx, attempt)
	if err != nil {
		return SubmitResult{}, err
	}

	res := scoring.Score(snaps, answers, quiz.Scoring)
	ok, err := s.store.SubmitAttempt(ctx, attempt.ID, res.Score, s.now())
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit attempt: %w", err)
	}
	if !ok {
		return SubmitResult{}, domain.ErrAttemptNotActive
	}
	s.log.Info("attempt submitted", "attempt", attempt.ID, "session", attempt.SessionID, "score", res.Score)
	return SubmitResult{
		OK:             true,
		Score:          res.Score,
		CorrectCount:   res.CorrectCount,
		TotalQuestions: len(effective),
	}, nil
}

// TeacherToken returns the token the projector shows right now.
func (s *RuntimeService) TeacherToken(ctx context.Context, userID, sessionID string) (totp.Token, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return totp.Token{}, err
	}
	if err := s.requireOwner(ctx, session, userID); err != nil {
		return totp.Token{}, err
	}
	if session.Status != domain.SessionActive || session.TOTPSecret == "" {
		return totp.Token{}, domain.ErrSessionNotActive
	}
	return totp.Current(s.params(session), s.now())
}

// StartSession activates a scheduled session and builds its snapshot. Starting an
// active session only re-runs the (idempotent) build.
func (s *RuntimeService) StartSession(ctx context.Context, userID, sessionID string) (StartResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if err := s.requireOwner(ctx, session, userID); err != nil {
		return StartResult{}, err
	}
	if session.Status == domain.SessionEnded {
		return StartResult{}, domain.ErrSessionEnded
	}
	if session.Status == domain.SessionScheduled {
		if _, err := activateSession(ctx, s.store, sessionID, s.now()); err != nil {
			return StartResult{}, err
		}
	}
	report, err := s.builder.Build(ctx, sessionID)
	if err != nil {
		return StartResult{}, fmt.Errorf("build snapshot: %w", err)
	}
	session, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Session: session, Build: report}, nil
}

// EndSession closes an active session. Ending an ended session is a no-op.
func (s *RuntimeService) EndSession(ctx context.Context, userID, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.requireOwner(ctx, session, userID); err != nil {
		return domain.Session{}, err
	}
	switch session.Status {
	case domain.SessionEnded:
		return session, nil
	case domain.SessionScheduled:
		return domain.Session{}, domain.ErrSessionNotActive
	}
	if _, err := s.store.EndSession(ctx, sessionID, s.now()); err != nil {
		return domain.Session{}, fmt.Errorf("end session: %w", err)
	}
	s.log.Info("session ended", "session", sessionID, "by", userID)
	return s.store.GetSession(ctx, sessionID)
}

// SessionStatus is readable by classroom members and the owner.
func (s *RuntimeService) SessionStatus(ctx context.Context, userID, sessionID string) (SessionStatus, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	if err := s.requireMember(ctx, session, userID); err != nil {
		if !errors.Is(err, domain.ErrClassroomForbidden) {
			return SessionStatus{}, err
		}
		if err := s.requireOwner(ctx, session, userID); err != nil {
			return SessionStatus{}, domain.ErrClassroomForbidden
		}
	}
	out := SessionStatus{Session: session, ServerTime: s.now()}
	if end, ok := session.EndsAt(); ok {
		out.EndsAt = &end
	}
	return out, nil
}

// Scoreboard lists attempts best score first, then earliest submit.
func (s *RuntimeService) Scoreboard(ctx context.Context, userID, sessionID string) ([]ScoreboardEntry, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, session, userID); err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]ScoreboardEntry, len(attempts))
	for i, a := range attempts {
		entries[i] = ScoreboardEntry{
			AttemptID:   a.ID,
			UserID:      a.UserID,
			Status:      a.Status,
			Score:       a.Score,
			FailedCount: a.FailedCount,
			SubmittedAt: a.SubmittedAt,
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := scoreOf(entries[i]), scoreOf(entries[j])
		if si != sj {
			return si > sj
		}
		ti, tj := entries[i].SubmittedAt, entries[j].SubmittedAt
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		if (ti == nil) != (tj == nil) {
			return ti != nil
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// CheckpointLogs returns the audit trail of every attempt of the session.
func (s *RuntimeService) CheckpointLogs(ctx context.Context, userID, sessionID string) ([]domain.CheckpointLog, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, session, userID); err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, sessionID)
}

// effectiveQuestions is the attempt's display list: same-set snapshots in snapshot
// order followed by the attempt's assigned variant questions.
func (s *RuntimeService) effectiveQuestions(ctx context.Context, attempt domain.Attempt) ([]domain.SessionQuestionSnapshot, error) {
	snaps, err := s.store.ListSnapshots(ctx, attempt.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	session, err := s.store.GetSession(ctx, attempt.SessionID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	if !quiz.HasVariantRules() {
		return snaps, nil
	}

	rows, err := s.variants.Assign(ctx, attempt, quiz)
	if err != nil {
		return nil, err
	}
	variantTags := make(map[string]bool)
	for _, r := range quiz.Rules {
		if r.IsVariantSet() {
			variantTags[r.TagID] = true
		}
	}
	byID := make(map[string]domain.SessionQuestionSnapshot, len(snaps))
	out := make([]domain.SessionQuestionSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		byID[snap.ID] = snap
		if !variantTags[snap.TagID] {
			out = append(out, snap)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Ord < rows[j].Ord })
	for _, row := range rows {
		if snap, ok := byID[row.SnapshotID]; ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *RuntimeService) ownedAttempt(ctx context.Context, userID, attemptID string) (domain.Attempt, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.UserID != userID {
		return domain.Attempt{}, domain.ErrForbidden
	}
	return attempt, nil
}

func (s *RuntimeService) requireMember(ctx context.Context, session domain.Session, userID string) error {
	ok, err := s.store.IsMember(ctx, session.ClassroomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return domain.ErrClassroomForbidden
	}
	return nil
}

func (s *RuntimeService) requireOwner(ctx context.Context, session domain.Session, userID string) error {
	ok, err := s.store.IsOwner(ctx, session.ClassroomID, userID)
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func (s *RuntimeService) params(session domain.Session) totp.Params {
	return totp.Params{Secret: session.TOTPSecret, StepSeconds: session.StepSeconds, Digits: s.digits}
}

// appendLog never fails the transition it records.
func (s *RuntimeService) appendLog(ctx context.Context, attemptID, event, token string, due *time.Time, now time.Time) {
	err := s.store.AppendLog(ctx, domain.CheckpointLog{
		ID:        s.newID(),
		AttemptID: attemptID,
		Event:     event,
		Token:     token,
		DueAt:     due,
		CreatedAt: now,
	})
	if err != nil {
		s.log.Warn("append checkpoint log", "attempt", attemptID, "event", event, "err", err)
	}
}

// cleanSelection dedupes, drops orders the question does not have and sorts.
func cleanSelection(selected []int, options []domain.Option) []int {
	valid := make(map[int]bool, len(options))
	for _, o := range options {
		valid[o.Order] = true
	}
	kept := make([]int, 0, len(selected))
	for _, order := range selected {
		if valid[order] {
			kept = append(kept, order)
		}
	}
	return scoring.Normalize(kept)
}

func scoreOf(e ScoreboardEntry) float64 {
	if e.Score == nil {
		return -1
	}
	return *e.Score
}
