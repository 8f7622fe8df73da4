package recovery

import (
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestIssueRequiresReason(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Issue("  ", 0); err == nil {
		t.Fatal("blank reason must be rejected")
	}
}

func TestIssueRejectsExcessiveDuration(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Issue("drill", 2*time.Hour); err == nil {
		t.Fatal("duration beyond maximum must be rejected")
	}
}

func TestIssueAndFindActive(t *testing.T) {
	s := newTestStore(t)
	token, err := s.Issue("operator verified clean tree", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(token.ID, "rt-") {
		t.Fatalf("token id = %q", token.ID)
	}
	if !token.Active() {
		t.Fatal("fresh token must be active")
	}

	found := s.FindActive()
	if found == nil || found.ID != token.ID {
		t.Fatalf("FindActive = %+v, want %s", found, token.ID)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	s := newTestStore(t)
	token, err := s.Issue("recovery drill", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := s.Consume(token.ID); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := s.Consume(token.ID); err == nil {
		t.Fatal("second consume must fail")
	}
	if s.FindActive() != nil {
		t.Fatal("consumed token must not be active")
	}
}

func TestRevokedTokenIsInactive(t *testing.T) {
	s := newTestStore(t)
	token, err := s.Issue("issued in error", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Revoke(token.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Consume(token.ID); err == nil {
		t.Fatal("revoked token must not consume")
	}
}

func TestConsumeRejectsTraversalIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../../etc/passwd", "a/b", "x..y"} {
		if err := s.Consume(id); err == nil {
			t.Errorf("id %q must be rejected", id)
		}
	}
}

func TestCleanupRemovesDeadTokens(t *testing.T) {
	s := newTestStore(t)
	used, err := s.Issue("will be used", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Consume(used.ID); err != nil {
		t.Fatalf("consume: %v", err)
	}
	live, err := s.Issue("still open", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := s.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	tokens, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tokens) != 1 || tokens[0].ID != live.ID {
		t.Fatalf("cleanup left %+v, want only %s", tokens, live.ID)
	}
}
