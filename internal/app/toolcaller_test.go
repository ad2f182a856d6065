package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/sentrycore/internal/audit"
	"github.com/MrWong99/sentrycore/internal/capability"
	"github.com/MrWong99/sentrycore/internal/config"
	"github.com/MrWong99/sentrycore/internal/permission"
	"github.com/MrWong99/sentrycore/internal/toolhost"
)

func newTestGate(t *testing.T, policy config.PolicyValue) *permission.Gate {
	t.Helper()
	mapping, err := config.LoadToolGroupMapping(strings.NewReader("groups:\n  files:\n    - read_file\n"))
	if err != nil {
		t.Fatalf("LoadToolGroupMapping: %v", err)
	}
	logger := newDiscardAuditLogger(t)
	broker := capability.NewBroker(logger)
	snapshot := config.PolicySnapshot{
		Version: 1,
		Groups: map[config.ToolGroup]config.PolicyValue{
			config.GroupFiles: policy,
		},
		DeveloperOverride: config.DeveloperOverrideNone,
		MemoryEnabled:     true,
	}
	return permission.NewGate(snapshot, mapping, nil, broker, logger)
}

func newDiscardAuditLogger(t *testing.T) *audit.Logger {
	t.Helper()
	path := t.TempDir() + "/audit.log"
	logger, err := audit.NewLogger(path)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestGatedToolCaller_DeniesWhenGateDenies(t *testing.T) {
	gate := newTestGate(t, config.PolicyOff)
	client := toolhost.New("", nil, nil)
	caller := NewGatedToolCaller(gate, client, nil)

	_, err := caller.CallTool(context.Background(), "read_file", "{}")
	if err == nil {
		t.Fatal("CallTool() returned nil error, want ErrToolDenied")
	}
	var denied *ErrToolDenied
	if !errors.As(err, &denied) {
		t.Fatalf("CallTool() error = %v, want *ErrToolDenied", err)
	}
}

func TestGatedToolCaller_ForwardsWhenGateAllows(t *testing.T) {
	gate := newTestGate(t, config.PolicyAlways)
	client := toolhost.New("", nil, nil)
	caller := NewGatedToolCaller(gate, client, nil)

	_, err := caller.CallTool(context.Background(), "read_file", "{}")
	if err == nil {
		t.Fatal("CallTool() returned nil error, want a toolhost connection error")
	}
	var denied *ErrToolDenied
	if errors.As(err, &denied) {
		t.Fatalf("CallTool() returned ErrToolDenied even though the gate allowed the call: %v", err)
	}
}

func TestGatedToolCaller_ListToolsBypassesGate(t *testing.T) {
	gate := newTestGate(t, config.PolicyOff)
	client := toolhost.New("", nil, nil)
	caller := NewGatedToolCaller(gate, client, nil)

	if _, err := caller.ListTools(context.Background()); err == nil {
		t.Fatal("ListTools() returned nil error, want a toolhost connection error since no child is running")
	}
}
