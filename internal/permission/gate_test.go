package permission_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/sentrycore/internal/audit"
	"github.com/MrWong99/sentrycore/internal/capability"
	"github.com/MrWong99/sentrycore/internal/config"
	"github.com/MrWong99/sentrycore/internal/permission"
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

func testMapping(t *testing.T) config.ToolGroupMapping {
	t.Helper()
	m, err := config.LoadToolGroupMapping(strings.NewReader(`
groups:
  web:
    - web.search
  memoryRead:
    - memory.retrieve
  files:
    - files.read
`))
	if err != nil {
		t.Fatalf("LoadToolGroupMapping: %v", err)
	}
	return m
}

// fixedPrompter always returns the configured choice, recording every
// invocation for assertions.
type fixedPrompter struct {
	choice permission.PromptChoice
	err    error
	calls  int
}

func (p *fixedPrompter) Prompt(ctx context.Context, req permission.PromptRequest) (permission.PromptChoice, error) {
	p.calls++
	return p.choice, p.err
}

func snapshotWith(groups map[config.ToolGroup]config.PolicyValue, memoryEnabled bool) config.PolicySnapshot {
	return config.PolicySnapshot{
		Version:       1,
		Groups:        groups,
		MemoryEnabled: memoryEnabled,
	}
}

func TestGateS1AskOnceThenReprompt(t *testing.T) {
	prompter := &fixedPrompter{choice: permission.ChoiceAllowOnce}
	broker := capability.NewBroker(newTestLogger(t))
	gate := permission.NewGate(
		snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupWeb: config.PolicyAsk}, false),
		testMapping(t), prompter, broker, newTestLogger(t),
	)

	d1, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d1.Kind != permission.Granted || d1.TokenID == "" {
		t.Fatalf("expected Granted with token, got %+v", d1)
	}

	d2, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d2.Kind != permission.Granted {
		t.Fatalf("expected second ask-once call to re-prompt and grant, got %+v", d2)
	}
	if prompter.calls != 2 {
		t.Fatalf("expected prompter called twice (no session memory), got %d", prompter.calls)
	}
}

func TestGateS2AskSessionThenEpochInvalidation(t *testing.T) {
	prompter := &fixedPrompter{choice: permission.ChoiceAllowSession}
	broker := capability.NewBroker(newTestLogger(t))
	gate := permission.NewGate(
		snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupWeb: config.PolicyAsk}, false),
		testMapping(t), prompter, broker, newTestLogger(t),
	)

	d1, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil || d1.Kind != permission.Granted {
		t.Fatalf("first Check = %+v, err %v", d1, err)
	}

	d2, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d2.Kind != permission.NotRequired {
		t.Fatalf("expected NotRequired from session grant, got %+v", d2)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected exactly one prompt before session grant kicks in, got %d", prompter.calls)
	}

	gate.ClearSessionGrants()

	d3, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d3.Kind != permission.Granted {
		t.Fatalf("expected re-prompt after epoch bump, got %+v", d3)
	}
	if prompter.calls != 2 {
		t.Fatalf("expected a second prompt after ClearSessionGrants, got %d", prompter.calls)
	}
}

func TestGateS3MemoryDisabledForcesOff(t *testing.T) {
	prompter := &fixedPrompter{choice: permission.ChoiceAllowOnce}
	broker := capability.NewBroker(newTestLogger(t))
	gate := permission.NewGate(
		snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupMemoryRead: config.PolicyAlways}, false),
		testMapping(t), prompter, broker, newTestLogger(t),
	)

	d, err := gate.Check(context.Background(), "memory_retrieve", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Kind != permission.Denied || d.Reason != "Disabled in Settings" {
		t.Fatalf("expected Denied(\"Disabled in Settings\"), got %+v", d)
	}
	if prompter.calls != 0 {
		t.Fatal("prompter should never be consulted when effective policy is off")
	}
}

func TestGatePurityAcrossRepeatedChecks(t *testing.T) {
	broker := capability.NewBroker(newTestLogger(t))
	gate := permission.NewGate(
		snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupFiles: config.PolicyAlways}, false),
		testMapping(t), nil, broker, newTestLogger(t),
	)

	for i := 0; i < 5; i++ {
		d, err := gate.Check(context.Background(), "files_read", "{}")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if d.Kind != permission.NotRequired {
			t.Fatalf("iteration %d: expected stable NotRequired decision, got %+v", i, d)
		}
	}
}

func TestGateDeveloperOverrideAppliesToDangerousGroupsOnly(t *testing.T) {
	broker := capability.NewBroker(newTestLogger(t))
	snap := snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupFiles: config.PolicyAlways}, true)
	snap.DeveloperOverride = config.DeveloperOverrideOff
	snap.Groups[config.GroupMemoryRead] = config.PolicyAlways

	gate := permission.NewGate(snap, testMapping(t), nil, broker, newTestLogger(t))

	d, err := gate.Check(context.Background(), "files_read", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Kind != permission.Denied {
		t.Fatalf("expected dangerous group files to be overridden off, got %+v", d)
	}

	d2, err := gate.Check(context.Background(), "memory_retrieve", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d2.Kind != permission.NotRequired {
		t.Fatalf("expected memory group unaffected by developer override, got %+v", d2)
	}
}

func TestGateUnknownToolDefaultsToAsk(t *testing.T) {
	prompter := &fixedPrompter{choice: permission.ChoiceAllowOnce}
	broker := capability.NewBroker(newTestLogger(t))
	gate := permission.NewGate(config.DefaultPolicySnapshot(), testMapping(t), prompter, broker, newTestLogger(t))

	d, err := gate.Check(context.Background(), "totally_unknown_tool", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Kind != permission.Granted {
		t.Fatalf("expected unknown tool to prompt (ask), got %+v", d)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected exactly one prompt for unknown tool, got %d", prompter.calls)
	}
}

func TestGatePromptCancelledYieldsDenied(t *testing.T) {
	prompter := &fixedPrompter{err: context.Canceled}
	broker := capability.NewBroker(newTestLogger(t))
	gate := permission.NewGate(
		snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupWeb: config.PolicyAsk}, false),
		testMapping(t), prompter, broker, newTestLogger(t),
	)

	d, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Kind != permission.Denied || d.Reason != permission.ErrPromptCancelled.Error() {
		t.Fatalf("expected Denied(prompt cancelled), got %+v", d)
	}
}

func TestGateAllowAlwaysRaisesPersistEvent(t *testing.T) {
	prompter := &fixedPrompter{choice: permission.ChoiceAllowAlways}
	broker := capability.NewBroker(newTestLogger(t))

	var persisted config.ToolGroup
	gate := permission.NewGate(
		snapshotWith(map[config.ToolGroup]config.PolicyValue{config.GroupWeb: config.PolicyAsk}, false),
		testMapping(t), prompter, broker, newTestLogger(t),
		permission.WithOnPersistGroupAlways(func(g config.ToolGroup) { persisted = g }),
	)

	d, err := gate.Check(context.Background(), "web_search", "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Kind != permission.Granted {
		t.Fatalf("expected Granted, got %+v", d)
	}
	if persisted != config.GroupWeb {
		t.Fatalf("expected PersistGroupAsAlways(web), got %q", persisted)
	}
}
