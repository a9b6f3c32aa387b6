package domain

import "errors"

// Error is a runtime error with a stable code clients branch on.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	// ErrSessionNotFound is returned when a session id does not resolve.
	ErrSessionNotFound = newError("SESSION_NOT_FOUND", "session not found")
	// ErrAttemptNotFound is returned when an attempt id does not resolve.
	ErrAttemptNotFound = newError("ATTEMPT_NOT_FOUND", "attempt not found")
	// ErrQuestionNotFound indicates the question is not part of the attempt's session.
	ErrQuestionNotFound = newError("QUESTION_NOT_FOUND", "question not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newError("QUIZ_NOT_FOUND", "quiz not found")

	ErrForbidden          = newError("FORBIDDEN", "forbidden")
	ErrClassroomForbidden = newError("CLASSROOM_FORBIDDEN", "not a member of this classroom")

	ErrAttemptNotActive = newError("ATTEMPT_NOT_ACTIVE", "attempt is not active")
	ErrSessionNotActive = newError("SESSION_NOT_ACTIVE", "session is not active")
	ErrSessionEnded     = newError("SESSION_ENDED", "session has ended")
	ErrAttemptLocked    = newError("ATTEMPT_LOCKED", "attempt is locked")
	ErrCooldown         = newError("COOLDOWN", "too many failed checkpoints, retry later")
	ErrWrongToken       = newError("WRONG_TOKEN", "wrong checkpoint token")

	ErrMCQSingleOnlyOne = newError("MCQ_SINGLE_ONLY_ONE", "single choice question accepts one option")
)

// Code extracts the stable code of a runtime error, or "" for anything else.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
