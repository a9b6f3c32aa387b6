package answersync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite" // driver: sqlite
)

// Store is the durable local key-value store, keyed by attempt.
type Store interface {
	Load(ctx context.Context, attemptID string) (map[string]Entry, error)
	Save(ctx context.Context, attemptID, questionID string, e Entry) error
}

// MemoryStore keeps entries for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]map[string]Entry{}}
}

func (m *MemoryStore) Load(_ context.Context, attemptID string) (map[string]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]Entry{}
	for id, e := range m.entries[attemptID] {
		e.Selected = slices.Clone(e.Selected)
		out[id] = e
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, attemptID, questionID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[attemptID] == nil {
		m.entries[attemptID] = map[string]Entry{}
	}
	e.Selected = slices.Clone(e.Selected)
	m.entries[attemptID][questionID] = e
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS local_answers (
  attempt_id TEXT NOT NULL,
  question_id TEXT NOT NULL,
  selected TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  dirty INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (attempt_id, question_id)
);`

// SQLiteStore persists entries in a local SQLite file so edits survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the store at dsn, e.g. "file:answers.db?_pragma=busy_timeout(5000)".
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create local schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, attemptID string) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, selected, updated_at, dirty FROM local_answers WHERE attempt_id = ?`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Entry{}
	for rows.Next() {
		var (
			questionID string
			selected   string
			updatedAt  int64
			dirty      bool
		)
		if err := rows.Scan(&questionID, &selected, &updatedAt, &dirty); err != nil {
			return nil, err
		}
		e := Entry{UpdatedAt: time.UnixMilli(updatedAt).UTC(), Dirty: dirty}
		if err := json.Unmarshal([]byte(selected), &e.Selected); err != nil {
			return nil, fmt.Errorf("decode local answer %s: %w", questionID, err)
		}
		out[questionID] = e
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, attemptID, questionID string, e Entry) error {
	selected := e.Selected
	if selected == nil {
		selected = []int{}
	}
	raw, err := json.Marshal(selected)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_answers (attempt_id, question_id, selected, updated_at, dirty)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		  selected = excluded.selected,
		  updated_at = excluded.updated_at,
		  dirty = excluded.dirty`,
		attemptID, questionID, string(raw), e.UpdatedAt.UnixMilli(), e.Dirty)
	return err
}

// TieredStore writes to a durable primary and falls back to a secondary store once
// the primary fails. Reads overlay the fallback on whatever the primary still has.
type TieredStore struct {
	primary  Store
	fallback Store
	log      *slog.Logger

	mu       sync.Mutex
	degraded bool
}

func NewTieredStore(primary, fallback Store, log *slog.Logger) *TieredStore {
	if log == nil {
		log = slog.Default()
	}
	return &TieredStore{primary: primary, fallback: fallback, log: log}
}

// Degraded reports whether writes have moved to the fallback store.
func (t *TieredStore) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

func (t *TieredStore) Save(ctx context.Context, attemptID, questionID string, e Entry) error {
	if !t.Degraded() {
		err := t.primary.Save(ctx, attemptID, questionID, e)
		if err == nil {
			return nil
		}
		t.log.Warn("local answer store failed, falling back", "err", err)
		t.mu.Lock()
		t.degraded = true
		t.mu.Unlock()
	}
	return t.fallback.Save(ctx, attemptID, questionID, e)
}

func (t *TieredStore) Load(ctx context.Context, attemptID string) (map[string]Entry, error) {
	out, err := t.primary.Load(ctx, attemptID)
	if err != nil {
		t.log.Warn("local answer store unreadable", "err", err)
		out = map[string]Entry{}
	}
	extra, err := t.fallback.Load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	for id, e := range extra {
		out[id] = e
	}
	return out, nil
}
