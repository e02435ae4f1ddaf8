package feed

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T, keep int) *SnapshotStore {
	t.Helper()
	s, err := OpenInMemorySnapshotStore(keep)
	if err != nil {
		t.Fatalf("OpenInMemorySnapshotStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshotStoreEmpty(t *testing.T) {
	s := openTestStore(t, 3)
	if _, _, err := s.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Latest on empty store = %v, want ErrNoSnapshot", err)
	}
}

func TestSnapshotStoreLatestAndPrune(t *testing.T) {
	s := openTestStore(t, 2)
	base := time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		raw := []byte(sampleFeed(i + 1))
		if err := s.Put(raw, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	raw, ts, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if want := base.Add(3 * time.Hour); !ts.Equal(want) {
		t.Fatalf("latest time = %v, want %v", ts, want)
	}
	if string(raw) != sampleFeed(4) {
		t.Fatalf("latest snapshot body mismatch")
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("snapshots kept = %d, want 2", n)
	}
}
