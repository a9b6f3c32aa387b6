package domain

import "time"

// Question types supported by the runtime.
const (
	QuestionMCQSingle = "mcq_single"
	QuestionMCQMulti  = "mcq_multi"
)

// Session statuses.
const (
	SessionScheduled = "scheduled"
	SessionActive    = "active"
	SessionEnded     = "ended"
)

// Attempt statuses.
const (
	AttemptActive    = "active"
	AttemptSubmitted = "submitted"
	AttemptLocked    = "locked"
)

// Checkpoint log events.
const (
	EventScheduled  = "scheduled"
	EventVerifyOK   = "verify_ok"
	EventVerifyFail = "verify_fail"
	EventLocked     = "locked"
)

// Scoring modes and their sub-policies.
const (
	ScoringAllOrNothing = "all_or_nothing"
	ScoringPartial      = "partial"
	ScoringPenalty      = "penalty"

	PartialEDC    = "edc"
	PartialHalves = "halves"

	RoundingNone = "none"
	Rounding2    = "round_2"
)

// Option is one choice of a question. Order is zero-based and is what answers reference.
type Option struct {
	Order     int    `json:"order"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a row of the external question bank.
type Question struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"poolId"`
	Type      string    `json:"type"`
	Prompt    string    `json:"prompt"`
	Options   []Option  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

// Rule selects questions of one tag for a quiz. Count > 0 means same-set mode;
// CommonCount/VariantCount > 0 means variant-set mode.
type Rule struct {
	ID           string   `json:"id"`
	QuizID       string   `json:"quizId"`
	TagID        string   `json:"tagId"`
	Count        int      `json:"count"`
	CommonCount  int      `json:"commonCount"`
	VariantCount int      `json:"variantCount"`
	ExtraPercent *float64 `json:"extraPercent,omitempty"`
	PoolIDs      []string `json:"poolIds,omitempty"`
	Ord          int      `json:"ord"`
}

// IsVariantSet reports whether the rule gives every attempt its own subset.
func (r Rule) IsVariantSet() bool {
	return r.CommonCount > 0 || r.VariantCount > 0
}

// RequestedBase is the number of questions the rule asks for.
func (r Rule) RequestedBase() int {
	if r.IsVariantSet() {
		return r.CommonCount + r.VariantCount
	}
	return r.Count
}

// ScoringConfig selects the partial-credit policy applied at submit.
type ScoringConfig struct {
	Mode                  string  `json:"mode"`
	PartialMethod         string  `json:"partialMethod"`
	PenaltyPerWrongOption float64 `json:"penaltyPerWrongOption"`
	Rounding              string  `json:"rounding"`
}

// Quiz is the rule set a session draws its questions from.
type Quiz struct {
	ID                  string             `json:"id"`
	Title               string             `json:"title"`
	DefaultExtraPercent *float64           `json:"defaultExtraPercent,omitempty"`
	ExtraPercentByTag   map[string]float64 `json:"extraPercentByTag,omitempty"`
	Scoring             ScoringConfig      `json:"scoring"`
	Rules               []Rule             `json:"rules"`
}

// HasVariantRules reports whether any rule needs per-attempt materialization.
func (q Quiz) HasVariantRules() bool {
	for _, r := range q.Rules {
		if r.IsVariantSet() {
			return true
		}
	}
	return false
}

// Session is one live run of a quiz in a classroom.
type Session struct {
	ID               string     `json:"id"`
	QuizID           string     `json:"quizId"`
	ClassroomID      string     `json:"classroomId"`
	Status           string     `json:"status"`
	TOTPSecret       string     `json:"-"`
	StepSeconds      int        `json:"stepSeconds"`
	AutoStart        bool       `json:"autoStart"`
	ScheduledStartAt *time.Time `json:"scheduledStartAt,omitempty"`
	AutoEnd          bool       `json:"autoEnd"`
	DurationSeconds  int        `json:"durationSeconds"`
	BufferMinutes    int        `json:"bufferMinutes"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
}

// EndsAt returns when an auto-ending session should be closed, or false if it has no deadline.
func (s Session) EndsAt() (time.Time, bool) {
	if s.StartedAt == nil || s.DurationSeconds <= 0 {
		return time.Time{}, false
	}
	d := time.Duration(s.DurationSeconds)*time.Second + time.Duration(s.BufferMinutes)*time.Minute
	return s.StartedAt.Add(d), true
}

// SessionQuestionSnapshot is the frozen copy of a bank question used by one session.
type SessionQuestionSnapshot struct {
	ID               string   `json:"id"`
	SessionID        string   `json:"sessionId"`
	SourceQuestionID string   `json:"sourceQuestionId"`
	TagID            string   `json:"tagId"`
	Ord              int      `json:"ord"`
	Type             string   `json:"type"`
	Prompt           string   `json:"prompt"`
	Options          []Option `json:"options"`
}

// SessionCommonQuestion marks a snapshot as shared by every attempt for a variant-set tag.
type SessionCommonQuestion struct {
	SessionID  string `json:"sessionId"`
	TagID      string `json:"tagId"`
	SnapshotID string `json:"snapshotId"`
	Ord        int    `json:"ord"`
}

// AttemptQuestion is one question assigned to an attempt of a variant-set quiz.
type AttemptQuestion struct {
	AttemptID  string `json:"attemptId"`
	SnapshotID string `json:"snapshotId"`
	TagID      string `json:"tagId"`
	Ord        int    `json:"ord"`
}

// Attempt is a student's participation in a session.
type Attempt struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId"`
	UserID         string     `json:"userId"`
	Status         string     `json:"status"`
	NextDueAt      time.Time  `json:"nextDueAt"`
	FailedCount    int        `json:"failedCount"`
	CooldownUntil  *time.Time `json:"cooldownUntil,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
	LastVerifiedAt *time.Time `json:"lastVerifiedAt,omitempty"`
	Score          *float64   `json:"score,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
}

// Answer is the latest selection for one question of an attempt.
type Answer struct {
	AttemptID         string    `json:"attemptId"`
	SessionQuestionID string    `json:"sessionQuestionId"`
	Selected          []int     `json:"selected"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// CheckpointLog is an append-only audit entry.
type CheckpointLog struct {
	ID        string     `json:"id"`
	AttemptID string     `json:"attemptId"`
	Event     string     `json:"event"`
	Token     string     `json:"token,omitempty"`
	DueAt     *time.Time `json:"dueAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CandidateQuery bounds a question bank fetch for one rule.
type CandidateQuery struct {
	TagID   string
	PoolIDs []string
	Limit   int
}
