package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/totp"
)

// SweepResult lists the sessions a sweep moved.
type SweepResult struct {
	Started []string `json:"started"`
	Ended   []string `json:"ended"`
	Failed  []string `json:"failed,omitempty"`
}

// LifecycleService applies auto-start and auto-end schedules. It keeps no state
// between calls, so an external cron or polling client decides when it runs.
type LifecycleService struct {
	sessions SessionRepository
	builder  *SnapshotBuilder
	log      *slog.Logger
	now      func() time.Time
}

func NewLifecycleService(sessions SessionRepository, builder *SnapshotBuilder, log *slog.Logger, now func() time.Time) *LifecycleService {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &LifecycleService{sessions: sessions, builder: builder, log: log, now: now}
}

// Sweep starts due scheduled sessions and ends expired active ones. Status updates
// are conditional, so overlapping sweeps move each session once.
func (l *LifecycleService) Sweep(ctx context.Context) (SweepResult, error) {
	now := l.now()
	res := SweepResult{Started: []string{}, Ended: []string{}}

	scheduled, err := l.sessions.ListSessionsByStatus(ctx, domain.SessionScheduled)
	if err != nil {
		return res, fmt.Errorf("list scheduled sessions: %w", err)
	}
	for _, s := range scheduled {
		if !s.AutoStart || s.ScheduledStartAt == nil || s.ScheduledStartAt.After(now) {
			continue
		}
		started, err := activateSession(ctx, l.sessions, s.ID, now)
		if err != nil {
			l.log.Error("auto start session", "session", s.ID, "err", err)
			res.Failed = append(res.Failed, s.ID)
			continue
		}
		if !started {
			continue
		}
		res.Started = append(res.Started, s.ID)
		if _, err := l.builder.Build(ctx, s.ID); err != nil {
			// Join retries the build.
			l.log.Warn("build snapshot after auto start", "session", s.ID, "err", err)
		}
	}

	active, err := l.sessions.ListSessionsByStatus(ctx, domain.SessionActive)
	if err != nil {
		return res, fmt.Errorf("list active sessions: %w", err)
	}
	for _, s := range active {
		if !s.AutoEnd {
			continue
		}
		end, ok := s.EndsAt()
		if !ok || now.Before(end) {
			continue
		}
		ended, err := l.sessions.EndSession(ctx, s.ID, now)
		if err != nil {
			l.log.Error("auto end session", "session", s.ID, "err", err)
			res.Failed = append(res.Failed, s.ID)
			continue
		}
		if ended {
			res.Ended = append(res.Ended, s.ID)
		}
	}

	if len(res.Started)+len(res.Ended) > 0 {
		l.log.Info("lifecycle sweep", "started", len(res.Started), "ended", len(res.Ended))
	}
	return res, nil
}

// activateSession moves a scheduled session to active with a fresh token secret.
func activateSession(ctx context.Context, sessions SessionRepository, id string, now time.Time) (bool, error) {
	secret, err := totp.NewSecret(id)
	if err != nil {
		return false, fmt.Errorf("generate token secret: %w", err)
	}
	return sessions.StartSession(ctx, id, now, secret)
}
