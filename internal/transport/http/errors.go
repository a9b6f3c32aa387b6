package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"classroom-quiz-service/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrClassroomForbidden),
		errors.Is(err, domain.ErrAttemptLocked):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrCooldown):
		return http.StatusTooManyRequests
	case domain.Code(err) != "", errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: domain.Code(err), Message: err.Error()}
	switch status {
	case http.StatusUnauthorized:
		body.Error = "UNAUTHENTICATED"
	case http.StatusInternalServerError:
		body = errorBody{Error: "INTERNAL", Message: "internal error"}
	}
	if body.Error == "" {
		body.Error = "BAD_REQUEST"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
