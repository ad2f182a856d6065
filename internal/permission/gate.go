// Package permission implements the sole authorization point for tool
// calls (spec §4.1 Permission Gate): policy evaluation against an
// immutable snapshot, session-grant bookkeeping keyed by conversation
// epoch, and delegation to a user-facing prompt for "ask" decisions.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/sentrycore/internal/audit"
	"github.com/MrWong99/sentrycore/internal/capability"
	"github.com/MrWong99/sentrycore/internal/config"
)

// DecisionKind is the tagged-union discriminant for [Decision] (spec §9:
// "sum types for states and decisions").
type DecisionKind int

const (
	// NotRequired means the call may proceed without a token — the group
	// policy is "always", or the tool call already holds a valid session
	// grant.
	NotRequired DecisionKind = iota
	// Granted means a capability token was issued for this call.
	Granted
	// Denied means the call must not proceed; Reason is user-visible.
	Denied
)

func (k DecisionKind) String() string {
	switch k {
	case NotRequired:
		return "not_required"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Decision is the outcome of [Gate.Check].
type Decision struct {
	Kind    DecisionKind
	Group   config.ToolGroup // the tool group the decision was made against
	TokenID string           // set only when Kind == Granted
	Reason  string           // set only when Kind == Denied
}

// PromptChoice is the user's response to a permission prompt.
type PromptChoice int

const (
	ChoiceDenied PromptChoice = iota
	ChoiceAllowOnce
	ChoiceAllowSession
	ChoiceAllowAlways
)

// PromptRequest carries the information shown to the user when a tool call
// requires explicit consent. Purpose is pre-redacted (see [BuildPurpose]);
// callers must never be given the raw argument JSON.
type PromptRequest struct {
	Tool    string
	Group   config.ToolGroup
	Purpose string
}

// Prompter is the small capability interface through which the gate
// suspends for user consent (spec §9: "small capability interfaces ...
// not inheritance chains"). Implementations belong to the host layer (the
// GUI shell); the gate only depends on this narrow contract.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (PromptChoice, error)
}

// ErrPromptCancelled is wrapped into a Denied decision's Reason text when
// the prompt context is cancelled while awaiting a decision.
var ErrPromptCancelled = errors.New("prompt cancelled")

type grantKey struct {
	group config.ToolGroup
	epoch uint64
}

// Gate is the sole authorization point for tool calls. All exported
// methods are safe for concurrent use. A single read lock guards every
// Check against a torn snapshot read; writers (UpdateSettings,
// ClearSessionGrants) take the write lock briefly to swap state and
// release it before any suspending work.
type Gate struct {
	mapping  config.ToolGroupMapping
	prompter Prompter
	broker   *capability.Broker
	logger   *audit.Logger

	onPersistAlways func(config.ToolGroup)

	mu       sync.RWMutex
	snapshot config.PolicySnapshot
	epoch    uint64
	grants   map[grantKey]struct{}
}

// Option configures a [Gate] at construction time.
type Option func(*Gate)

// WithOnPersistGroupAlways registers the callback invoked when the user
// chooses "allow always" for a group (spec §4.1: event
// "PersistGroupAsAlways(group)" — "the host layer persists and swaps
// settings").
func WithOnPersistGroupAlways(fn func(config.ToolGroup)) Option {
	return func(g *Gate) { g.onPersistAlways = fn }
}

// NewGate constructs a Gate with the given initial policy snapshot, static
// tool-group mapping, prompt delegate, capability broker, and audit
// logger.
func NewGate(snapshot config.PolicySnapshot, mapping config.ToolGroupMapping, prompter Prompter, broker *capability.Broker, logger *audit.Logger, opts ...Option) *Gate {
	g := &Gate{
		mapping:  mapping,
		prompter: prompter,
		broker:   broker,
		logger:   logger,
		snapshot: snapshot,
		epoch:    1,
		grants:   make(map[grantKey]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// UpdateSettings atomically swaps the policy snapshot. Thread-safe;
// concurrent Checks complete against whichever snapshot they captured at
// entry (spec §4.1).
func (g *Gate) UpdateSettings(snapshot config.PolicySnapshot) {
	g.mu.Lock()
	g.snapshot = snapshot
	g.mu.Unlock()
}

// ClearSessionGrants atomically increments the conversation epoch; all
// prior session grants become unreachable without being individually
// mutated (spec §3 SessionGrant, Testable Property 3).
func (g *Gate) ClearSessionGrants() {
	g.mu.Lock()
	g.epoch++
	// The grants map is keyed by epoch, so old entries are simply orphaned;
	// clear it opportunistically to bound memory.
	g.grants = make(map[grantKey]struct{})
	g.mu.Unlock()
}

// Check is the sole authorization point for tool calls (spec §4.1
// Algorithm). It never panics: policy evaluation errors default to the
// safest group and "ask".
func (g *Gate) Check(ctx context.Context, tool string, argsJSON string) (Decision, error) {
	canonical := canonicalizeToolName(tool)

	g.mu.RLock()
	snapshot := g.snapshot
	epoch := g.epoch
	g.mu.RUnlock()

	group, known := g.mapping.GroupFor(canonical)
	var effective config.PolicyValue
	if !known {
		// Unknown tools are treated as belonging to the safest fallback
		// group: one that always prompts, regardless of stored policy.
		group = config.GroupSystem
		effective = config.PolicyAsk
	} else {
		effective = snapshot.Effective(group)
	}

	switch effective {
	case config.PolicyOff:
		g.audit(audit.ActionPermissionBlocked, canonical, audit.ResultError, map[string]audit.Detail{"group": string(group)})
		return Decision{Kind: Denied, Group: group, Reason: "Disabled in Settings"}, nil

	case config.PolicyAlways:
		return Decision{Kind: NotRequired, Group: group}, nil

	case config.PolicyAsk:
		return g.checkAsk(ctx, canonical, argsJSON, group, epoch)

	default:
		// Defensive default: unrecognised policy values never silently
		// authorize anything.
		return g.checkAsk(ctx, canonical, argsJSON, group, epoch)
	}
}

func (g *Gate) checkAsk(ctx context.Context, tool, argsJSON string, group config.ToolGroup, epoch uint64) (Decision, error) {
	if g.hasSessionGrant(group, epoch) {
		return Decision{Kind: NotRequired, Group: group}, nil
	}

	if g.prompter == nil {
		return Decision{Kind: Denied, Group: group, Reason: "no prompt handler configured"}, nil
	}

	purpose := BuildPurpose(tool, argsJSON)
	choice, err := g.prompter.Prompt(ctx, PromptRequest{Tool: tool, Group: group, Purpose: purpose})
	if err != nil {
		reason := ErrPromptCancelled.Error()
		if !errors.Is(err, context.Canceled) {
			reason = fmt.Sprintf("prompt error: %v", err)
		}
		g.audit(audit.ActionPermissionDenied, tool, audit.Result(reason), map[string]audit.Detail{"group": string(group)})
		return Decision{Kind: Denied, Group: group, Reason: reason}, nil
	}

	switch choice {
	case ChoiceDenied:
		g.audit(audit.ActionPermissionDenied, tool, audit.Result("user denied"), map[string]audit.Detail{"group": string(group)})
		return Decision{Kind: Denied, Group: group, Reason: "user denied"}, nil

	case ChoiceAllowOnce:
		tok := g.issueToken(group, purpose)
		return Decision{Kind: Granted, Group: group, TokenID: tok}, nil

	case ChoiceAllowSession:
		g.mu.Lock()
		// The grant is keyed by the epoch captured at entry: if
		// ClearSessionGrants raced with this prompt, the grant is seeded
		// against the (now stale) epoch and will simply never be observed
		// again, which is the
		// documented epoch-bump barrier semantics (spec §9 Open Questions).
		g.grants[grantKey{group: group, epoch: epoch}] = struct{}{}
		g.mu.Unlock()
		tok := g.issueToken(group, purpose)
		return Decision{Kind: Granted, Group: group, TokenID: tok}, nil

	case ChoiceAllowAlways:
		if g.onPersistAlways != nil {
			g.onPersistAlways(group)
		}
		g.audit(audit.ActionPersistGroupAlways, tool, audit.ResultOK, map[string]audit.Detail{"group": string(group)})
		tok := g.issueToken(group, purpose)
		return Decision{Kind: Granted, Group: group, TokenID: tok}, nil

	default:
		return Decision{Kind: Denied, Group: group, Reason: "unrecognised prompt choice"}, nil
	}
}

func (g *Gate) hasSessionGrant(group config.ToolGroup, epoch uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.grants[grantKey{group: group, epoch: epoch}]
	return ok
}

func (g *Gate) issueToken(group config.ToolGroup, purpose string) string {
	if g.broker == nil {
		return ""
	}
	tok := g.broker.IssueToken(capability.Request{
		Kind:    "tool:" + string(group),
		Purpose: purpose,
		Issuer:  "gate",
	})
	g.audit(audit.ActionPermissionGranted, string(group), audit.ResultOK, map[string]audit.Detail{"tokenId": tok.ID})
	return tok.ID
}

func (g *Gate) audit(action, target string, result audit.Result, details map[string]audit.Detail) {
	if g.logger == nil {
		return
	}
	g.logger.Log(audit.NewEvent(audit.ActorGate, action, target, result, details))
}

// canonicalizeToolName lowercases tool and normalizes space/dash/underscore
// separators to a single dot, matching the static mapping's naming
// convention (spec glossary: "canonicalized tool name (lowercased,
// normalized separators)").
func canonicalizeToolName(tool string) string {
	lower := strings.ToLower(strings.TrimSpace(tool))
	replacer := strings.NewReplacer(" ", ".", "-", ".", "_", ".")
	return replacer.Replace(lower)
}
