package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSnapshotMarkersRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	markers := NewSnapshotMarkers(newClient(mr), time.Hour, nil)
	ctx := context.Background()

	if _, ok := markers.Built(ctx, "sess-1"); ok {
		t.Fatalf("expected no marker yet")
	}
	markers.MarkBuilt(ctx, "sess-1", 12)
	if !mr.Exists("quiz:session:sess-1:snapshot") {
		t.Fatalf("expected redis key to be set")
	}
	if n, ok := markers.Built(ctx, "sess-1"); !ok || n != 12 {
		t.Fatalf("expected marker 12, got %d %v", n, ok)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok := markers.Built(ctx, "sess-1"); ok {
		t.Fatalf("expected marker to expire")
	}
}
