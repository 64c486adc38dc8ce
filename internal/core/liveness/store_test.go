package liveness

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := newSession("abc", nil, time.Now(), 10*time.Minute)
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if session.Version != 1 {
		t.Errorf("Version after Put = %d, want 1", session.Version)
	}

	loaded, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.ID != "abc" || loaded.State != StatePending {
		t.Errorf("unexpected session loaded: %+v", loaded)
	}

	// Mutationen an der Kopie dürfen den Store nicht verändern
	loaded.Steps[PositionCenter].Verified = true
	reloaded, _ := store.Get(ctx, "abc")
	if reloaded.Steps[PositionCenter].Verified {
		t.Error("store returned shared memory instead of a copy")
	}
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := newSession("abc", nil, time.Now(), 10*time.Minute)
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Erfolgreicher Swap mit passender Version
	session.State = StateInProgress
	if err := store.CompareAndSwap(ctx, session, 1); err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if session.Version != 2 {
		t.Errorf("Version after swap = %d, want 2", session.Version)
	}

	// Veraltete Version muss abgewiesen werden
	err := store.CompareAndSwap(ctx, session, 1)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", err)
	}

	loaded, _ := store.Get(ctx, "abc")
	if loaded.State != StateInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", loaded.State)
	}
}

func TestMemoryStore_ListAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, newSession("a", nil, time.Now(), time.Minute))
	store.Put(ctx, newSession("b", nil, time.Now(), time.Minute))

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session still present, err = %v", err)
	}
}
