package memory

import (
	"context"
	"sync"
)

// SnapshotMarkers is an in-memory implementation of app.SnapshotMarkers.
type SnapshotMarkers struct {
	mu     sync.RWMutex
	counts map[string]int
}

func NewSnapshotMarkers() *SnapshotMarkers {
	return &SnapshotMarkers{counts: make(map[string]int)}
}

func (m *SnapshotMarkers) Built(_ context.Context, sessionID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.counts[sessionID]
	return n, ok
}

func (m *SnapshotMarkers) MarkBuilt(_ context.Context, sessionID string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[sessionID] = count
}

