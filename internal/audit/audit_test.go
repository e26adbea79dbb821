package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type captureStore struct {
	entries []*Entry
	fail    bool
}

func (c *captureStore) Append(_ context.Context, entry *Entry) error {
	if c.fail {
		return errors.New("disk full")
	}
	c.entries = append(c.entries, entry)
	return nil
}

func TestRecordStampsTime(t *testing.T) {
	store := &captureStore{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, WithClock(func() time.Time { return now }))

	rec.Record(context.Background(), Entry{Action: ActionLogin, ActorID: "u1", Success: true})

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	if got := store.entries[0].CreatedAt; !got.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, got)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	rec := NewRecorder(&captureStore{fail: true})
	// Must not panic or surface the error to the caller.
	rec.Record(context.Background(), Entry{Action: ActionFailedLogin})
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), Entry{Action: ActionLogin})
}
