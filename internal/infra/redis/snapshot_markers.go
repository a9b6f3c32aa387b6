package redis

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotMarkers records built sessions in Redis so every instance can skip the
// snapshot count on join. Stored as: SET quiz:session:{sessionID}:snapshot {count}
type SnapshotMarkers struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewSnapshotMarkers(client *redis.Client, ttl time.Duration, log *slog.Logger) *SnapshotMarkers {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotMarkers{client: client, ttl: ttl, log: log}
}

func (m *SnapshotMarkers) Built(ctx context.Context, sessionID string) (int, bool) {
	raw, err := m.client.Get(ctx, m.key(sessionID)).Result()
	if err != nil {
		if err != redis.Nil {
			m.log.Warn("read snapshot marker", "session", sessionID, "err", err)
		}
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarkBuilt is best effort; a lost marker only costs a count query.
func (m *SnapshotMarkers) MarkBuilt(ctx context.Context, sessionID string, count int) {
	if err := m.client.Set(ctx, m.key(sessionID), count, m.ttl).Err(); err != nil {
		m.log.Warn("write snapshot marker", "session", sessionID, "err", err)
	}
}

func (m *SnapshotMarkers) key(sessionID string) string {
	return "quiz:session:" + sessionID + ":snapshot"
}
