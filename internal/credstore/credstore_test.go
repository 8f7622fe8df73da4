package credstore

import "testing"

func TestFreezeBlocksReadsAndWrites(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set("api_key", "secret"); err != nil {
		t.Fatalf("set: %v", err)
	}

	s.Freeze("compromised")
	if !s.Frozen() {
		t.Fatal("store must report frozen")
	}
	if _, err := s.Get("api_key"); err == nil {
		t.Fatal("get while frozen must fail")
	}
	if err := s.Set("other", "x"); err == nil {
		t.Fatal("set while frozen must fail")
	}
}

func TestHasAvailableWhileFrozen(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set("api_key", "secret"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Freeze("lockdown")

	if !s.Has("api_key") {
		t.Fatal("Has must work while frozen")
	}
	if s.Has("absent") {
		t.Fatal("Has must not invent keys")
	}
}

func TestUnfreezeRestoresAccess(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set("api_key", "secret"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Freeze("compromised")
	s.Unfreeze()

	v, err := s.Get("api_key")
	if err != nil {
		t.Fatalf("get after unfreeze: %v", err)
	}
	if v != "secret" {
		t.Fatalf("value = %q, want secret", v)
	}
}

func TestFreezeFirstReasonWins(t *testing.T) {
	s := NewMemoryStore()
	s.Freeze("first")
	s.Freeze("second")
	if _, err := s.Get("x"); err == nil {
		t.Fatal("expected frozen error")
	} else if got := err.Error(); got != "credstore: frozen (first): reads disabled until manual unfreeze" {
		t.Fatalf("unexpected error text: %s", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get("ghost"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
