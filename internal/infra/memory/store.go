package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. Every method takes the single
// mutex, so the conditional updates behave like the SQL ones.
type Store struct {
	mu sync.RWMutex

	owners   map[string]string
	members  map[string]map[string]bool
	sessions map[string]domain.Session

	builds           map[string]bool
	snapshots        map[string][]domain.SessionQuestionSnapshot
	common           map[string][]domain.SessionCommonQuestion
	attemptQuestions map[string][]domain.AttemptQuestion

	attempts      map[string]domain.Attempt
	attemptByUser map[string]string
	answers       map[string]map[string]domain.Answer
	logs          []domain.CheckpointLog
}

func NewStore() *Store {
	return &Store{
		owners:           make(map[string]string),
		members:          make(map[string]map[string]bool),
		sessions:         make(map[string]domain.Session),
		builds:           make(map[string]bool),
		snapshots:        make(map[string][]domain.SessionQuestionSnapshot),
		common:           make(map[string][]domain.SessionCommonQuestion),
		attemptQuestions: make(map[string][]domain.AttemptQuestion),
		attempts:         make(map[string]domain.Attempt),
		attemptByUser:    make(map[string]string),
		answers:          make(map[string]map[string]domain.Answer),
	}
}

// AddClassroom registers a classroom with its owner and student members.
func (s *Store) AddClassroom(id, ownerID string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[id] = ownerID
	if s.members[id] == nil {
		s.members[id] = make(map[string]bool)
	}
	for _, m := range memberIDs {
		s.members[id][m] = true
	}
}

// AddSession stores or replaces a session.
func (s *Store) AddSession(session domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Store) IsMember(_ context.Context, classroomID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[classroomID][userID], nil
}

func (s *Store) IsOwner(_ context.Context, classroomID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[classroomID]
	return ok && owner == userID, nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) ListSessionsByStatus(_ context.Context, status string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, session := range s.sessions {
		if session.Status == status {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) StartSession(_ context.Context, id string, now time.Time, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionScheduled {
		return false, nil
	}
	session.Status = domain.SessionActive
	session.StartedAt = &now
	if session.TOTPSecret == "" {
		session.TOTPSecret = secret
	}
	s.sessions[id] = session
	return true, nil
}

func (s *Store) EndSession(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionActive {
		return false, nil
	}
	session.Status = domain.SessionEnded
	session.EndedAt = &now
	s.sessions[id] = session
	return true, nil
}

func (s *Store) CountSnapshots(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots[sessionID]), nil
}

func (s *Store) InsertSnapshots(_ context.Context, sessionID string, snaps []domain.SessionQuestionSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.builds[sessionID] {
		return false, nil
	}
	if len(snaps) == 0 {
		return true, nil
	}
	s.builds[sessionID] = true
	s.snapshots[sessionID] = cloneSnapshots(snaps)
	return true, nil
}

func (s *Store) ListSnapshots(_ context.Context, sessionID string) ([]domain.SessionQuestionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshots(s.snapshots[sessionID]), nil
}

func (s *Store) GetSnapshot(_ context.Context, sessionID, snapshotID string) (domain.SessionQuestionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.snapshots[sessionID] {
		if snap.ID == snapshotID {
			return cloneSnapshots([]domain.SessionQuestionSnapshot{snap})[0], nil
		}
	}
	return domain.SessionQuestionSnapshot{}, domain.ErrQuestionNotFound
}

func (s *Store) ListCommonQuestions(_ context.Context, sessionID, tagID string) ([]domain.SessionCommonQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SessionCommonQuestion
	for _, c := range s.common[sessionID] {
		if c.TagID == tagID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ord < out[j].Ord })
	return out, nil
}

func (s *Store) InsertCommonQuestions(_ context.Context, rows []domain.SessionCommonQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if s.hasCommonLocked(row.SessionID, row.SnapshotID) {
			continue
		}
		s.common[row.SessionID] = append(s.common[row.SessionID], row)
	}
	return nil
}

func (s *Store) hasCommonLocked(sessionID, snapshotID string) bool {
	for _, c := range s.common[sessionID] {
		if c.SnapshotID == snapshotID {
			return true
		}
	}
	return false
}

func (s *Store) ListAttemptQuestions(_ context.Context, attemptID string) ([]domain.AttemptQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AttemptQuestion(nil), s.attemptQuestions[attemptID]...), nil
}

func (s *Store) InsertAttemptQuestions(_ context.Context, attemptID string, rows []domain.AttemptQuestion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attemptQuestions[attemptID]) > 0 {
		return false, nil
	}
	s.attemptQuestions[attemptID] = append([]domain.AttemptQuestion(nil), rows...)
	return true, nil
}

func (s *Store) CreateAttempt(_ context.Context, a domain.Attempt) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.SessionID + "/" + a.UserID
	if id, ok := s.attemptByUser[key]; ok {
		return s.attempts[id], false, nil
	}
	s.attempts[a.ID] = a
	s.attemptByUser[key] = a.ID
	return a, true, nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return a, nil
}

func (s *Store) SaveCheckpoint(_ context.Context, a domain.Attempt, prevFailed int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[a.ID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if stored.Status == domain.AttemptSubmitted || stored.FailedCount != prevFailed {
		return false, nil
	}
	stored.Status = a.Status
	stored.NextDueAt = a.NextDueAt
	stored.FailedCount = a.FailedCount
	stored.CooldownUntil = a.CooldownUntil
	stored.LockedUntil = a.LockedUntil
	stored.LastVerifiedAt = a.LastVerifiedAt
	s.attempts[a.ID] = stored
	return true, nil
}

func (s *Store) SubmitAttempt(_ context.Context, id string, score float64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if a.Status != domain.AttemptActive {
		return false, nil
	}
	a.Status = domain.AttemptSubmitted
	a.Score = &score
	a.SubmittedAt = &now
	s.attempts[id] = a
	return true, nil
}

func (s *Store) ListAttempts(_ context.Context, sessionID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpsertAnswer(_ context.Context, a domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers[a.AttemptID] == nil {
		s.answers[a.AttemptID] = make(map[string]domain.Answer)
	}
	a.Selected = append([]int{}, a.Selected...)
	s.answers[a.AttemptID][a.SessionQuestionID] = a
	return nil
}

func (s *Store) ListAnswers(_ context.Context, attemptID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, 0, len(s.answers[attemptID]))
	for _, a := range s.answers[attemptID] {
		a.Selected = append([]int{}, a.Selected...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionQuestionID < out[j].SessionQuestionID })
	return out, nil
}

func (s *Store) AppendLog(_ context.Context, l domain.CheckpointLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *Store) ListLogs(_ context.Context, sessionID string) ([]domain.CheckpointLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CheckpointLog
	for _, l := range s.logs {
		if a, ok := s.attempts[l.AttemptID]; ok && a.SessionID == sessionID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneSnapshots(in []domain.SessionQuestionSnapshot) []domain.SessionQuestionSnapshot {
	if in == nil {
		return nil
	}
	out := make([]domain.SessionQuestionSnapshot, len(in))
	for i, snap := range in {
		snap.Options = append([]domain.Option(nil), snap.Options...)
		out[i] = snap
	}
	return out
}
