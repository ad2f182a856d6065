package capability_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/sentrycore/internal/audit"
	"github.com/MrWong99/sentrycore/internal/capability"
)

func newTestLogger(t *testing.T) *audit.Logger {
	t.Helper()
	l, err := audit.NewLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestIssueTokenIsActiveUntilTTL(t *testing.T) {
	b := capability.NewBroker(newTestLogger(t))
	tok := b.IssueToken(capability.Request{Kind: "tool:web_search", Purpose: "search the web", Issuer: "gate"})

	if !b.IsActive(tok.ID) {
		t.Fatal("freshly issued token should be active")
	}
	if b.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", b.ActiveCount())
	}
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	b := capability.NewBroker(newTestLogger(t))
	tok := b.IssueToken(capability.Request{Kind: "tool:files", TTL: 10 * time.Millisecond})

	time.Sleep(25 * time.Millisecond)

	if b.IsActive(tok.ID) {
		t.Fatal("token should no longer be active after TTL elapses")
	}
	if b.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", b.ActiveCount())
	}
}

func TestRevokeAllAfterExpiryReportsZero(t *testing.T) {
	b := capability.NewBroker(newTestLogger(t))
	b.IssueToken(capability.Request{Kind: "tool:files", TTL: 5 * time.Millisecond})

	time.Sleep(20 * time.Millisecond)

	if got := b.RevokeAll("shutdown"); got != 0 {
		t.Fatalf("RevokeAll after expiry = %d, want 0", got)
	}
}

func TestRevokeAllRevokesActiveTokens(t *testing.T) {
	b := capability.NewBroker(newTestLogger(t))
	a := b.IssueToken(capability.Request{Kind: "tool:a"})
	c := b.IssueToken(capability.Request{Kind: "tool:c"})

	revoked := b.RevokeAll("stop all")
	if revoked != 2 {
		t.Fatalf("RevokeAll = %d, want 2", revoked)
	}
	if b.IsActive(a.ID) || b.IsActive(c.ID) {
		t.Fatal("revoked tokens should not be active")
	}
	if b.ActiveCount() != 0 {
		t.Fatalf("ActiveCount after RevokeAll = %d, want 0", b.ActiveCount())
	}
}

func TestTokensAreNeverReissuedWithSameID(t *testing.T) {
	b := capability.NewBroker(newTestLogger(t))
	a := b.IssueToken(capability.Request{Kind: "tool:a"})
	c := b.IssueToken(capability.Request{Kind: "tool:a"})
	if a.ID == c.ID {
		t.Fatal("expected distinct token ids for separate issuances")
	}
}
