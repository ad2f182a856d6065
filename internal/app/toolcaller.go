package app

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/sentrycore/internal/observe"
	"github.com/MrWong99/sentrycore/internal/permission"
	"github.com/MrWong99/sentrycore/internal/toolhost"
)

// GatedToolCaller routes every tool call through the permission gate before
// reaching the tool-server child (spec §5.3: "Every CallTool first passes
// through the permission gate"). It is the contract an external
// [orchestrator.Dialogue] implementation is expected to call into when it
// decides to invoke a tool.
type GatedToolCaller struct {
	gate    *permission.Gate
	client  *toolhost.Client
	metrics *observe.Metrics
}

// NewGatedToolCaller wires gate and client together. metrics may be nil,
// in which case CallTool simply skips recording.
func NewGatedToolCaller(gate *permission.Gate, client *toolhost.Client, metrics *observe.Metrics) *GatedToolCaller {
	return &GatedToolCaller{gate: gate, client: client, metrics: metrics}
}

// ErrToolDenied is returned when the permission gate denies a tool call.
// The decision's Reason is folded into the error text for logging; callers
// that need the structured reason should inspect the gate's own audit
// trail rather than parsing this error.
type ErrToolDenied struct {
	Tool   string
	Reason string
}

func (e *ErrToolDenied) Error() string {
	return fmt.Sprintf("app: tool %q denied: %s", e.Tool, e.Reason)
}

// CallTool checks the permission gate for tool/argsJSON and, if allowed,
// forwards the call to the tool-server child. Every decision records a
// gate-decision counter increment; every forwarded call records its
// latency and status.
func (c *GatedToolCaller) CallTool(ctx context.Context, tool, argsJSON string) (string, error) {
	decision, err := c.gate.Check(ctx, tool, argsJSON)
	if err != nil {
		return "", fmt.Errorf("app: permission check for %q: %w", tool, err)
	}
	if c.metrics != nil {
		c.metrics.RecordGateDecision(ctx, string(decision.Group), decision.Kind.String())
	}
	if decision.Kind == permission.Denied {
		return "", &ErrToolDenied{Tool: tool, Reason: decision.Reason}
	}

	start := time.Now()
	result, err := c.client.CallTool(ctx, tool, argsJSON)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordToolCall(ctx, tool, status, time.Since(start).Seconds())
	}
	return result, err
}

// ListTools forwards directly to the tool-server child; listing available
// tools does not itself execute anything subject to the gate.
func (c *GatedToolCaller) ListTools(ctx context.Context) ([]toolhost.ToolInfo, error) {
	return c.client.ListTools(ctx)
}
