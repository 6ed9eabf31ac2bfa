package session

import "testing"

func TestGetOrCreateReturnsStableID(t *testing.T) {
	store := NewStore(nil)

	first := store.GetOrCreate()
	if first == "" {
		t.Fatal("expected a non-empty session id")
	}

	second := store.GetOrCreate()
	if second != first {
		t.Fatalf("expected stable id, got %q then %q", first, second)
	}
}

func TestResetMintsDifferentID(t *testing.T) {
	store := NewStore(nil)

	old := store.GetOrCreate()
	fresh := store.Reset()

	if fresh == "" {
		t.Fatal("expected a non-empty id after reset")
	}
	if fresh == old {
		t.Fatalf("expected reset to mint a new id, got %q twice", old)
	}
	if got := store.GetOrCreate(); got != fresh {
		t.Fatalf("expected GetOrCreate to return the reset id %q, got %q", fresh, got)
	}
}

func TestStoreUsesInjectedStorage(t *testing.T) {
	backing := NewMemoryStorage()
	backing.Set("carried-over")

	store := NewStore(backing)
	if got := store.GetOrCreate(); got != "carried-over" {
		t.Fatalf("expected persisted id to win, got %q", got)
	}

	store.Reset()
	if id, ok := backing.Get(); !ok || id == "carried-over" {
		t.Fatalf("expected storage to hold the replacement id, got %q ok=%v", id, ok)
	}
}
