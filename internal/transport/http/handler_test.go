package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/checkpoint"
	"classroom-quiz-service/internal/infra/memory"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	auth *Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }
	demo := memory.NewDemo(now)
	quizzes := memory.NewQuizRepository(demo.Quizzes, time.Minute)
	builder := app.NewSnapshotBuilder(demo.Store, quizzes, demo.Bank, demo.Store, memory.NewSnapshotMarkers(), app.DefaultBuildConfig(), log)
	machine := checkpoint.NewWithInterval(checkpoint.DefaultPolicy(), func() time.Duration { return 4 * time.Minute })
	runtime := app.NewRuntimeService(demo.Store, quizzes, builder, machine, app.RuntimeOptions{Log: log, Now: clock})
	lifecycle := app.NewLifecycleService(demo.Store, builder, log, clock)

	auth := NewAuthenticator("test-secret")
	handler := NewHandler(runtime, lifecycle, auth, Options{CronKey: "cron", Log: log})
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: auth}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.auth.Issue(userID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, user string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, joined := srv.do(t, http.MethodPost, "/sessions/session-same/join", "student-1", nil)
	if status != http.StatusOK {
		t.Fatalf("join: %d %v", status, joined)
	}
	attemptID, _ := joined["attemptId"].(string)
	if attemptID == "" {
		t.Fatalf("expected attempt id, got %v", joined)
	}
	base := "/attempts/" + attemptID

	status, body := srv.do(t, http.MethodGet, base+"/questions", "student-1", nil)
	questions, _ := body["questions"].([]any)
	if status != http.StatusOK || len(questions) != 3 {
		t.Fatalf("questions: %d %v", status, body)
	}
	first := questions[0].(map[string]any)
	raw, _ := json.Marshal(first)
	if strings.Contains(string(raw), "isCorrect") {
		t.Fatalf("questions must not leak correctness: %s", raw)
	}
	questionID := first["id"].(string)

	status, body = srv.do(t, http.MethodPut, base+"/answers", "student-1", map[string]any{"sessionQuestionId": questionID, "selected": []int{0, 1}})
	if status != http.StatusBadRequest || body["error"] != "MCQ_SINGLE_ONLY_ONE" {
		t.Fatalf("expected MCQ_SINGLE_ONLY_ONE, got %d %v", status, body)
	}
	status, body = srv.do(t, http.MethodPut, base+"/answers", "student-1", map[string]any{"sessionQuestionId": questionID, "selected": []int{0}})
	if status != http.StatusOK {
		t.Fatalf("save answer: %d %v", status, body)
	}
	status, body = srv.do(t, http.MethodGet, base+"/answers", "student-1", nil)
	if answers, _ := body["answers"].([]any); status != http.StatusOK || len(answers) != 1 {
		t.Fatalf("list answers: %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodPost, base+"/verifyToken", "student-1", map[string]string{"token": "nope"})
	if status != http.StatusBadRequest || body["error"] != "WRONG_TOKEN" {
		t.Fatalf("expected WRONG_TOKEN, got %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodGet, "/sessions/session-same/teacherToken", "teacher-1", nil)
	code, _ := body["token"].(string)
	if status != http.StatusOK || code == "" {
		t.Fatalf("teacher token: %d %v", status, body)
	}
	status, body = srv.do(t, http.MethodPost, base+"/verifyToken", "student-1", map[string]string{"token": code})
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("verify: %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodGet, base+"/state", "student-1", nil)
	if status != http.StatusOK || body["attemptStatus"] != "active" {
		t.Fatalf("state: %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodPost, base+"/submit", "student-1", nil)
	if status != http.StatusOK || body["ok"] != true || body["totalQuestions"] != float64(3) {
		t.Fatalf("submit: %d %v", status, body)
	}
	status, body = srv.do(t, http.MethodPost, base+"/submit", "student-1", nil)
	if status != http.StatusBadRequest || body["error"] != "ATTEMPT_NOT_ACTIVE" {
		t.Fatalf("expected ATTEMPT_NOT_ACTIVE on resubmit, got %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodGet, "/sessions/session-same/scoreboard", "teacher-1", nil)
	if entries, _ := body["attempts"].([]any); status != http.StatusOK || len(entries) != 1 {
		t.Fatalf("scoreboard: %d %v", status, body)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		status int
		code   string
	}{
		{"no token", http.MethodPost, "/sessions/session-same/join", "", http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"unknown session", http.MethodPost, "/sessions/missing/join", "student-1", http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"outsider join", http.MethodPost, "/sessions/session-same/join", "stranger", http.StatusForbidden, "CLASSROOM_FORBIDDEN"},
		{"scheduled join", http.MethodPost, "/sessions/session-variant/join", "student-1", http.StatusBadRequest, "SESSION_NOT_ACTIVE"},
		{"student token", http.MethodGet, "/sessions/session-same/teacherToken", "student-1", http.StatusForbidden, "FORBIDDEN"},
		{"unknown attempt", http.MethodGet, "/attempts/missing/state", "student-1", http.StatusNotFound, "ATTEMPT_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := srv.do(t, tc.method, tc.path, tc.user, nil)
			if status != tc.status || body["error"] != tc.code {
				t.Fatalf("expected %d %s, got %d %v", tc.status, tc.code, status, body)
			}
		})
	}

	status, body := srv.do(t, http.MethodPut, "/attempts/whatever/answers", "student-1", map[string]any{"selected": []int{0}})
	if status != http.StatusBadRequest || body["error"] != "BAD_REQUEST" {
		t.Fatalf("expected bad request for missing question id, got %d %v", status, body)
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv := newTestServer(t)

	if status, _ := srv.do(t, http.MethodPost, "/sessions/auto", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected sweep to require the cron key, got %d", status)
	}
	status, body := srv.do(t, http.MethodPost, "/sessions/auto", "", nil, "X-Cron-Key", "cron")
	started, _ := body["started"].([]any)
	if status != http.StatusOK || len(started) != 1 || started[0] != "session-variant" {
		t.Fatalf("sweep: %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodPost, "/sessions/session-variant/join", "student-2", nil)
	if status != http.StatusOK {
		t.Fatalf("join after auto start: %d %v", status, body)
	}
	status, body = srv.do(t, http.MethodGet, "/attempts/"+body["attemptId"].(string)+"/questions", "student-2", nil)
	if questions, _ := body["questions"].([]any); status != http.StatusOK || len(questions) != 5 {
		t.Fatalf("expected 2 same-set + 1 common + 2 variant questions, got %d %v", status, body)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
