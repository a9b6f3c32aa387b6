package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/uptrace/bun"
)

// Store is the bun-backed implementation of app.Store. Multi-row writes run in one
// transaction and state transitions are conditional updates.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

type classroomRow struct {
	bun.BaseModel `bun:"table:classrooms"`

	ID      string `bun:"id,pk"`
	OwnerID string `bun:"owner_id"`
	Name    string `bun:"name"`
}

type memberRow struct {
	bun.BaseModel `bun:"table:classroom_members"`

	ClassroomID string `bun:"classroom_id,pk"`
	UserID      string `bun:"user_id,pk"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions"`

	ID               string     `bun:"id,pk"`
	QuizID           string     `bun:"quiz_id"`
	ClassroomID      string     `bun:"classroom_id"`
	Status           string     `bun:"status"`
	TOTPSecret       string     `bun:"totp_secret"`
	StepSeconds      int        `bun:"step_seconds"`
	AutoStart        bool       `bun:"auto_start"`
	ScheduledStartAt *time.Time `bun:"scheduled_start_at"`
	AutoEnd          bool       `bun:"auto_end"`
	DurationSeconds  int        `bun:"duration_seconds"`
	BufferMinutes    int        `bun:"buffer_minutes"`
	StartedAt        *time.Time `bun:"started_at"`
	EndedAt          *time.Time `bun:"ended_at"`
}

type buildRow struct {
	bun.BaseModel `bun:"table:session_snapshot_builds"`

	SessionID string    `bun:"session_id,pk"`
	BuiltAt   time.Time `bun:"built_at"`
}

type snapshotRow struct {
	bun.BaseModel `bun:"table:session_question_snapshots"`

	ID               string          `bun:"id,pk"`
	SessionID        string          `bun:"session_id"`
	SourceQuestionID string          `bun:"source_question_id"`
	TagID            string          `bun:"tag_id"`
	Ord              int             `bun:"ord"`
	Type             string          `bun:"type"`
	Prompt           string          `bun:"prompt"`
	Options          []domain.Option `bun:"options,type:jsonb"`
}

type commonRow struct {
	bun.BaseModel `bun:"table:session_common_questions"`

	SessionID  string `bun:"session_id,pk"`
	TagID      string `bun:"tag_id"`
	SnapshotID string `bun:"snapshot_id,pk"`
	Ord        int    `bun:"ord"`
}

type attemptQuestionRow struct {
	bun.BaseModel `bun:"table:attempt_questions"`

	AttemptID  string `bun:"attempt_id,pk"`
	SnapshotID string `bun:"snapshot_id"`
	TagID      string `bun:"tag_id"`
	Ord        int    `bun:"ord,pk"`
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts"`

	ID             string     `bun:"id,pk"`
	SessionID      string     `bun:"session_id"`
	UserID         string     `bun:"user_id"`
	Status         string     `bun:"status"`
	NextDueAt      time.Time  `bun:"next_due_at"`
	FailedCount    int        `bun:"failed_count"`
	CooldownUntil  *time.Time `bun:"cooldown_until"`
	LockedUntil    *time.Time `bun:"locked_until"`
	LastVerifiedAt *time.Time `bun:"last_verified_at"`
	Score          *float64   `bun:"score"`
	StartedAt      time.Time  `bun:"started_at"`
	SubmittedAt    *time.Time `bun:"submitted_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers"`

	AttemptID         string    `bun:"attempt_id,pk"`
	SessionQuestionID string    `bun:"session_question_id,pk"`
	Selected          []int     `bun:"selected,array"`
	UpdatedAt         time.Time `bun:"updated_at"`
}

type logRow struct {
	bun.BaseModel `bun:"table:checkpoint_logs"`

	ID        string     `bun:"id,pk"`
	AttemptID string     `bun:"attempt_id"`
	Event     string     `bun:"event"`
	Token     string     `bun:"token"`
	DueAt     *time.Time `bun:"due_at"`
	CreatedAt time.Time  `bun:"created_at"`
}

func (s *Store) IsMember(ctx context.Context, classroomID, userID string) (bool, error) {
	return s.db.NewSelect().Model((*memberRow)(nil)).
		Where("classroom_id = ?", classroomID).
		Where("user_id = ?", userID).
		Exists(ctx)
}

func (s *Store) IsOwner(ctx context.Context, classroomID, userID string) (bool, error) {
	return s.db.NewSelect().Model((*classroomRow)(nil)).
		Where("id = ?", classroomID).
		Where("owner_id = ?", userID).
		Exists(ctx)
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSessionsByStatus(ctx context.Context, status string) ([]domain.Session, error) {
	var rows []sessionRow
	if err := s.db.NewSelect().Model(&rows).Where("status = ?", status).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) StartSession(ctx context.Context, id string, now time.Time, secret string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*sessionRow)(nil)).
		Set("status = ?", domain.SessionActive).
		Set("started_at = ?", now).
		Set("totp_secret = COALESCE(NULLIF(totp_secret, ''), ?)", secret).
		Where("id = ?", id).
		Where("status = ?", domain.SessionScheduled).
		Exec(ctx)
	return s.transitioned(ctx, id, res, err)
}

func (s *Store) EndSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*sessionRow)(nil)).
		Set("status = ?", domain.SessionEnded).
		Set("ended_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", domain.SessionActive).
		Exec(ctx)
	return s.transitioned(ctx, id, res, err)
}

// transitioned tells a lost conditional update apart from a missing session.
func (s *Store) transitioned(ctx context.Context, id string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) CountSnapshots(ctx context.Context, sessionID string) (int, error) {
	return s.db.NewSelect().Model((*snapshotRow)(nil)).Where("session_id = ?", sessionID).Count(ctx)
}

// InsertSnapshots claims the session's build row and writes the set in the same
// transaction. A concurrent builder that lost the claim gets false.
func (s *Store) InsertSnapshots(ctx context.Context, sessionID string, snaps []domain.SessionQuestionSnapshot) (bool, error) {
	if len(snaps) == 0 {
		return true, nil
	}
	inserted := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(&buildRow{SessionID: sessionID, BuiltAt: time.Now().UTC()}).
			On("CONFLICT (session_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		rows := make([]snapshotRow, len(snaps))
		for i, snap := range snaps {
			rows[i] = snapshotRow{
				ID:               snap.ID,
				SessionID:        sessionID,
				SourceQuestionID: snap.SourceQuestionID,
				TagID:            snap.TagID,
				Ord:              snap.Ord,
				Type:             snap.Type,
				Prompt:           snap.Prompt,
				Options:          snap.Options,
			}
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert snapshots: %w", err)
	}
	return inserted, nil
}

func (s *Store) ListSnapshots(ctx context.Context, sessionID string) ([]domain.SessionQuestionSnapshot, error) {
	var rows []snapshotRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("ord").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]domain.SessionQuestionSnapshot, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) GetSnapshot(ctx context.Context, sessionID, snapshotID string) (domain.SessionQuestionSnapshot, error) {
	row := new(snapshotRow)
	err := s.db.NewSelect().Model(row).
		Where("id = ?", snapshotID).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionQuestionSnapshot{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.SessionQuestionSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListCommonQuestions(ctx context.Context, sessionID, tagID string) ([]domain.SessionCommonQuestion, error) {
	var rows []commonRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Where("tag_id = ?", tagID).
		Order("ord").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list common questions: %w", err)
	}
	out := make([]domain.SessionCommonQuestion, len(rows))
	for i, r := range rows {
		out[i] = domain.SessionCommonQuestion{SessionID: r.SessionID, TagID: r.TagID, SnapshotID: r.SnapshotID, Ord: r.Ord}
	}
	return out, nil
}

func (s *Store) InsertCommonQuestions(ctx context.Context, rows []domain.SessionCommonQuestion) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]commonRow, len(rows))
	for i, r := range rows {
		models[i] = commonRow{SessionID: r.SessionID, TagID: r.TagID, SnapshotID: r.SnapshotID, Ord: r.Ord}
	}
	_, err := s.db.NewInsert().Model(&models).On("CONFLICT (session_id, snapshot_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert common questions: %w", err)
	}
	return nil
}

func (s *Store) ListAttemptQuestions(ctx context.Context, attemptID string) ([]domain.AttemptQuestion, error) {
	var rows []attemptQuestionRow
	if err := s.db.NewSelect().Model(&rows).Where("attempt_id = ?", attemptID).Order("ord").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}
	out := make([]domain.AttemptQuestion, len(rows))
	for i, r := range rows {
		out[i] = domain.AttemptQuestion{AttemptID: r.AttemptID, SnapshotID: r.SnapshotID, TagID: r.TagID, Ord: r.Ord}
	}
	return out, nil
}

// InsertAttemptQuestions relies on the (attempt_id, ord) key: a second assigner
// writing the same positions inserts nothing.
func (s *Store) InsertAttemptQuestions(ctx context.Context, attemptID string, rows []domain.AttemptQuestion) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	models := make([]attemptQuestionRow, len(rows))
	for i, r := range rows {
		models[i] = attemptQuestionRow{AttemptID: attemptID, SnapshotID: r.SnapshotID, TagID: r.TagID, Ord: r.Ord}
	}
	res, err := s.db.NewInsert().Model(&models).On("CONFLICT (attempt_id, ord) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("insert attempt questions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CreateAttempt(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error) {
	row := attemptFromDomain(a)
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT (session_id, user_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("insert attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return a, true, nil
	}
	existing := new(attemptRow)
	err = s.db.NewSelect().Model(existing).
		Where("session_id = ?", a.SessionID).
		Where("user_id = ?", a.UserID).
		Scan(ctx)
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("load existing attempt: %w", err)
	}
	return existing.toDomain(), false, nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (domain.Attempt, error) {
	row := new(attemptRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, a domain.Attempt, prevFailed int) (bool, error) {
	row := attemptFromDomain(a)
	res, err := s.db.NewUpdate().Model(&row).
		Column("status", "next_due_at", "failed_count", "cooldown_until", "locked_until", "last_verified_at").
		WherePK().
		Where("status <> ?", domain.AttemptSubmitted).
		Where("failed_count = ?", prevFailed).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) SubmitAttempt(ctx context.Context, id string, score float64, now time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("status = ?", domain.AttemptSubmitted).
		Set("score = ?", score).
		Set("submitted_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", domain.AttemptActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("submit attempt: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListAttempts(ctx context.Context, sessionID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("started_at", "id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) UpsertAnswer(ctx context.Context, a domain.Answer) error {
	selected := a.Selected
	if selected == nil {
		selected = []int{}
	}
	row := answerRow{AttemptID: a.AttemptID, SessionQuestionID: a.SessionQuestionID, Selected: selected, UpdatedAt: a.UpdatedAt}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (attempt_id, session_question_id) DO UPDATE").
		Set("selected = EXCLUDED.selected").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (s *Store) ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error) {
	var rows []answerRow
	if err := s.db.NewSelect().Model(&rows).Where("attempt_id = ?", attemptID).Order("session_question_id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	out := make([]domain.Answer, len(rows))
	for i, r := range rows {
		selected := r.Selected
		if selected == nil {
			selected = []int{}
		}
		out[i] = domain.Answer{AttemptID: r.AttemptID, SessionQuestionID: r.SessionQuestionID, Selected: selected, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

func (s *Store) AppendLog(ctx context.Context, l domain.CheckpointLog) error {
	row := logRow{ID: l.ID, AttemptID: l.AttemptID, Event: l.Event, Token: l.Token, DueAt: l.DueAt, CreatedAt: l.CreatedAt}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("append checkpoint log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, sessionID string) ([]domain.CheckpointLog, error) {
	var rows []logRow
	err := s.db.NewSelect().Model(&rows).
		Where("attempt_id IN (SELECT id FROM attempts WHERE session_id = ?)", sessionID).
		Order("created_at", "id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint logs: %w", err)
	}
	out := make([]domain.CheckpointLog, len(rows))
	for i, r := range rows {
		out[i] = domain.CheckpointLog{ID: r.ID, AttemptID: r.AttemptID, Event: r.Event, Token: r.Token, DueAt: r.DueAt, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:               r.ID,
		QuizID:           r.QuizID,
		ClassroomID:      r.ClassroomID,
		Status:           r.Status,
		TOTPSecret:       r.TOTPSecret,
		StepSeconds:      r.StepSeconds,
		AutoStart:        r.AutoStart,
		ScheduledStartAt: r.ScheduledStartAt,
		AutoEnd:          r.AutoEnd,
		DurationSeconds:  r.DurationSeconds,
		BufferMinutes:    r.BufferMinutes,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
	}
}

func (r snapshotRow) toDomain() domain.SessionQuestionSnapshot {
	return domain.SessionQuestionSnapshot{
		ID:               r.ID,
		SessionID:        r.SessionID,
		SourceQuestionID: r.SourceQuestionID,
		TagID:            r.TagID,
		Ord:              r.Ord,
		Type:             r.Type,
		Prompt:           r.Prompt,
		Options:          r.Options,
	}
}

func attemptFromDomain(a domain.Attempt) attemptRow {
	return attemptRow{
		ID:             a.ID,
		SessionID:      a.SessionID,
		UserID:         a.UserID,
		Status:         a.Status,
		NextDueAt:      a.NextDueAt,
		FailedCount:    a.FailedCount,
		CooldownUntil:  a.CooldownUntil,
		LockedUntil:    a.LockedUntil,
		LastVerifiedAt: a.LastVerifiedAt,
		Score:          a.Score,
		StartedAt:      a.StartedAt,
		SubmittedAt:    a.SubmittedAt,
	}
}

func (r attemptRow) toDomain() domain.Attempt {
	return domain.Attempt{
		ID:             r.ID,
		SessionID:      r.SessionID,
		UserID:         r.UserID,
		Status:         r.Status,
		NextDueAt:      r.NextDueAt,
		FailedCount:    r.FailedCount,
		CooldownUntil:  r.CooldownUntil,
		LockedUntil:    r.LockedUntil,
		LastVerifiedAt: r.LastVerifiedAt,
		Score:          r.Score,
		StartedAt:      r.StartedAt,
		SubmittedAt:    r.SubmittedAt,
	}
}
