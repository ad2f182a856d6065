// Package capability implements short-lived capability tokens (spec §3
// CapabilityToken, §4.5 "Capability broker"): issuance with a fixed TTL,
// bulk revocation, and an active-token count.
package capability

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/sentrycore/internal/audit"
)

// DefaultTTL is the default token lifetime (spec §3: "expires-at (default
// 60s)").
const DefaultTTL = 60 * time.Second

// Token is a short-lived proof that a named capability was granted.
type Token struct {
	ID        string
	Kind      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Purpose   string
	Issuer    string

	revoked bool
}

// Request describes a capability to issue.
type Request struct {
	Kind    string
	Purpose string
	Issuer  string
	TTL     time.Duration // zero means DefaultTTL
}

// Broker issues and tracks capability tokens. It is safe for concurrent
// use; every public method is a single critical section under an internal
// mutex, mirroring the gate's "only the owner mutates" discipline (spec
// §5: "Shared-resource policy").
type Broker struct {
	logger *audit.Logger

	mu     sync.Mutex
	tokens map[string]*Token
	now    func() time.Time
}

// NewBroker creates a Broker that emits audit events through logger.
func NewBroker(logger *audit.Logger) *Broker {
	return &Broker{
		logger: logger,
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
}

// IssueToken creates and records a new token. Tokens are never re-issued:
// each call allocates a fresh id.
func (b *Broker) IssueToken(req Request) Token {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := b.now()
	tok := &Token{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Purpose:   req.Purpose,
		Issuer:    req.Issuer,
	}

	b.mu.Lock()
	b.tokens[tok.ID] = tok
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Log(audit.NewEvent(audit.ActorGate, audit.ActionTokenIssued, tok.Kind, audit.ResultOK, map[string]audit.Detail{
			"tokenId": tok.ID,
			"ttlSec":  ttl.Seconds(),
		}))
	}

	return *tok
}

// IsActive reports whether the token identified by id exists, has not been
// revoked, and has not expired. Expired or revoked tokens are never
// observed as active (Testable Property 4).
func (b *Broker) IsActive(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.tokens[id]
	if !ok {
		return false
	}
	if tok.revoked {
		return false
	}
	if !b.now().Before(tok.ExpiresAt) {
		return false
	}
	return true
}

// ActiveCount returns the number of tokens that are neither revoked nor
// expired. Expired entries are lazily swept so the table does not grow
// without bound.
func (b *Broker) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	count := 0
	for id, tok := range b.tokens {
		if tok.revoked || !now.Before(tok.ExpiresAt) {
			delete(b.tokens, id)
			continue
		}
		count++
	}
	return count
}

// RevokeAll marks every currently active token as revoked and returns how
// many were revoked, emitting a single audit event tagged with the count
// (spec §3: "Revocation is bulk-capable and produces an audit entry per
// cohort"). Revoking after all tokens have already expired reports 0.
func (b *Broker) RevokeAll(reason string) int {
	b.mu.Lock()
	now := b.now()
	revoked := 0
	for _, tok := range b.tokens {
		if tok.revoked || !now.Before(tok.ExpiresAt) {
			continue
		}
		tok.revoked = true
		revoked++
	}
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.LogSync(audit.NewEvent(audit.ActorRuntime, audit.ActionTokenRevokedAll, "", audit.ResultOK, map[string]audit.Detail{
			"revokedCount": revoked,
			"reason":       reason,
		}))
	}

	return revoked
}
