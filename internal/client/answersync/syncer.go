package answersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
)

// DefaultDebounce is how long SetAnswer waits for further edits before syncing.
const DefaultDebounce = 500 * time.Millisecond

var (
	ErrOffline         = errors.New("offline")
	ErrPendingAnswers  = errors.New("answers not yet synced")
	ErrCheckpointBlock = errors.New("checkpoint verification required")
)

type Options struct {
	Debounce time.Duration
	Log      *slog.Logger
	Now      func() time.Time
}

// Syncer owns the local answers of one attempt. Every edit is persisted locally
// before anything else; pushes to the server run one question at a time.
type Syncer struct {
	attemptID string
	store     Store
	api       API
	debounce  time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	online  bool
	timer   *time.Timer
	syncErr error

	syncing sync.Mutex
}

func NewSyncer(attemptID string, store Store, api API, opts Options) *Syncer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		attemptID: attemptID,
		store:     store,
		api:       api,
		debounce:  opts.Debounce,
		log:       opts.Log,
		now:       opts.Now,
		entries:   map[string]Entry{},
		online:    true,
	}
}

// Load reads the local cache and, when online, reconciles it with the server.
// A failed server fetch leaves the local view in place.
func (s *Syncer) Load(ctx context.Context) (map[string]Entry, error) {
	local, err := s.store.Load(ctx, s.attemptID)
	if err != nil {
		return nil, fmt.Errorf("load local answers: %w", err)
	}
	merged := local
	if s.Online() {
		server, err := s.api.ListAnswers(ctx, s.attemptID)
		if err != nil {
			s.log.Warn("fetch server answers", "attempt", s.attemptID, "err", err)
		} else {
			merged = Reconcile(local, server)
			for id, e := range merged {
				if old, ok := local[id]; ok && old.UpdatedAt.Equal(e.UpdatedAt) && old.Dirty == e.Dirty {
					continue
				}
				if err := s.store.Save(ctx, s.attemptID, id, e); err != nil {
					return nil, fmt.Errorf("save reconciled answer: %w", err)
				}
			}
		}
	}

	s.mu.Lock()
	s.entries = merged
	n := len(pending(merged))
	s.mu.Unlock()
	if n > 0 {
		s.schedule()
	}
	return s.Entries(), nil
}

// SetAnswer records a selection locally as dirty and schedules a sync.
func (s *Syncer) SetAnswer(ctx context.Context, questionID string, selected []int) error {
	e := Entry{Selected: slices.Clone(selected), UpdatedAt: s.now(), Dirty: true}
	if err := s.store.Save(ctx, s.attemptID, questionID, e); err != nil {
		return fmt.Errorf("save local answer: %w", err)
	}
	s.mu.Lock()
	s.entries[questionID] = e
	s.mu.Unlock()
	s.schedule()
	return nil
}

// schedule replaces any pending debounced sync with a new one.
func (s *Syncer) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.SyncNow(context.Background()); err != nil {
			s.log.Warn("answer sync failed", "attempt", s.attemptID, "err", err)
		}
	})
}

// SyncNow pushes every dirty entry in question order, one request at a time.
// Entries edited while their request was in flight stay dirty.
func (s *Syncer) SyncNow(ctx context.Context) error {
	s.syncing.Lock()
	defer s.syncing.Unlock()

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return ErrOffline
	}
	ids := pending(s.entries)
	work := make(map[string]Entry, len(ids))
	for _, id := range ids {
		work[id] = s.entries[id]
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		e := work[id]
		if err := s.api.PutAnswer(ctx, s.attemptID, id, e.Selected); err != nil {
			errs = append(errs, fmt.Errorf("question %s: %w", id, err))
			continue
		}
		s.mu.Lock()
		cur := s.entries[id]
		if cur.Dirty && cur.UpdatedAt.Equal(e.UpdatedAt) {
			cur.Dirty = false
			s.entries[id] = cur
			s.mu.Unlock()
			if err := s.store.Save(ctx, s.attemptID, id, cur); err != nil {
				errs = append(errs, fmt.Errorf("persist question %s: %w", id, err))
			}
			continue
		}
		s.mu.Unlock()
	}

	err := errors.Join(errs...)
	s.mu.Lock()
	s.syncErr = err
	s.mu.Unlock()
	return err
}

// SetOnline records connectivity. Coming back online flushes pending edits.
func (s *Syncer) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	if !online && s.timer != nil {
		s.timer.Stop()
	}
	n := len(pending(s.entries))
	s.mu.Unlock()
	if online && !was && n > 0 {
		s.schedule()
	}
}

func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Syncer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(pending(s.entries))
}

// SyncErr is the outcome of the last sync pass, nil when it fully succeeded.
func (s *Syncer) SyncErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncErr
}

func (s *Syncer) Entries() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.entries)
}

// CanSubmit reports why submit is not allowed yet, or nil.
func (s *Syncer) CanSubmit(attemptStatus string, blocked bool) error {
	switch {
	case attemptStatus != domain.AttemptActive:
		return domain.ErrAttemptNotActive
	case !s.Online():
		return ErrOffline
	case s.PendingCount() > 0:
		return ErrPendingAnswers
	case blocked:
		return ErrCheckpointBlock
	}
	return nil
}

// Submit flushes pending answers, re-reads the attempt state and submits when
// nothing gates it.
func (s *Syncer) Submit(ctx context.Context) (SubmitResult, error) {
	if s.Online() && s.PendingCount() > 0 {
		if err := s.SyncNow(ctx); err != nil {
			return SubmitResult{}, fmt.Errorf("%w: %v", ErrPendingAnswers, err)
		}
	}
	if !s.Online() {
		return SubmitResult{}, ErrOffline
	}
	state, err := s.api.State(ctx, s.attemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := s.CanSubmit(state.AttemptStatus, state.Flags.Blocked); err != nil {
		return SubmitResult{}, err
	}
	return s.api.Submit(ctx, s.attemptID)
}

// Close stops any pending debounced sync.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}
