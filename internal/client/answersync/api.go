package answersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classroom-quiz-service/internal/domain"
)

// API is the slice of the runtime's REST surface the client needs.
type API interface {
	ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error)
	PutAnswer(ctx context.Context, attemptID, questionID string, selected []int) error
	State(ctx context.Context, attemptID string) (AttemptState, error)
	Submit(ctx context.Context, attemptID string) (SubmitResult, error)
}

// AttemptState is the subset of the state endpoint used for gating and polling.
type AttemptState struct {
	AttemptStatus string    `json:"attemptStatus"`
	SessionStatus string    `json:"sessionStatus"`
	NextDueAt     time.Time `json:"nextDueAt"`
	ServerTime    time.Time `json:"serverTime"`
	Flags         struct {
		Due          bool `json:"due"`
		Warning      bool `json:"warning"`
		IsLocked     bool `json:"isLocked"`
		Blocked      bool `json:"blocked"`
		SecondsToDue int  `json:"secondsToDue"`
	} `json:"flags"`
}

type SubmitResult struct {
	OK             bool    `json:"ok"`
	Score          float64 `json:"score"`
	CorrectCount   int     `json:"correctCount"`
	TotalQuestions int     `json:"totalQuestions"`
}

// APIError is a non-2xx response from the runtime.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPAPI talks to the runtime with a bearer token.
type HTTPAPI struct {
	base   string
	token  string
	client *http.Client
}

func NewHTTPAPI(baseURL, token string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAPI{base: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (a *HTTPAPI) ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error) {
	var out struct {
		Answers []domain.Answer `json:"answers"`
	}
	if err := a.do(ctx, http.MethodGet, a.attemptPath(attemptID, "answers"), nil, &out); err != nil {
		return nil, err
	}
	return out.Answers, nil
}

func (a *HTTPAPI) PutAnswer(ctx context.Context, attemptID, questionID string, selected []int) error {
	if selected == nil {
		selected = []int{}
	}
	body := map[string]any{"sessionQuestionId": questionID, "selected": selected}
	return a.do(ctx, http.MethodPut, a.attemptPath(attemptID, "answers"), body, nil)
}

func (a *HTTPAPI) State(ctx context.Context, attemptID string) (AttemptState, error) {
	var out AttemptState
	err := a.do(ctx, http.MethodGet, a.attemptPath(attemptID, "state"), nil, &out)
	return out, err
}

func (a *HTTPAPI) Submit(ctx context.Context, attemptID string) (SubmitResult, error) {
	var out SubmitResult
	err := a.do(ctx, http.MethodPost, a.attemptPath(attemptID, "submit"), nil, &out)
	return out, err
}

func (a *HTTPAPI) attemptPath(attemptID, leaf string) string {
	return a.base + "/attempts/" + url.PathEscape(attemptID) + "/" + leaf
}

func (a *HTTPAPI) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
