package supervisor

import (
	"context"
	"testing"
)

func TestToolServerSupervisorEnsureReadyFailsWithoutCommand(t *testing.T) {
	s := NewToolServerSupervisor("", nil, nil)
	_, err := s.EnsureReady(context.Background())
	if err == nil {
		t.Fatal("expected failure for unconfigured tool-server command")
	}
	var f *Failure
	if !asFailure(err, &f) {
		t.Fatalf("expected a *Failure, got %T: %v", err, err)
	}
	if f.Code != FailureMissing {
		t.Fatalf("Code = %q, want %q", f.Code, FailureMissing)
	}
}

func TestToolServerSupervisorConnectFailureLeavesItRespawnable(t *testing.T) {
	s := NewToolServerSupervisor("/nonexistent/tool-server", nil, nil)
	_, err := s.EnsureReady(context.Background())
	if err == nil {
		t.Fatal("expected failure spawning a nonexistent executable")
	}
	if s.started {
		t.Fatal("started must stay false after a failed spawn")
	}

	// A second attempt must retry the spawn rather than replaying a cached
	// failure, since EnsureReady never latched s.started on error.
	_, err = s.EnsureReady(context.Background())
	if err == nil {
		t.Fatal("expected second attempt to also fail against the same nonexistent executable")
	}
}

func TestToolServerSupervisorStopBeforeStartIsNoop(t *testing.T) {
	s := NewToolServerSupervisor("/nonexistent/tool-server", nil, nil)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop before EnsureReady should be a no-op, got %v", err)
	}
}
