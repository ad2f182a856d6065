package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/sentrycore/internal/resilience"
	"github.com/MrWong99/sentrycore/internal/toolhost"
)

// ToolServerSupervisor guarantees at most one live tool-server child is
// owned at a time (Testable Property 8). Unlike the voice host, the
// tool-server has no port negotiation — it always talks stdio — so its
// readiness gating reduces to "has Connect succeeded".
type ToolServerSupervisor struct {
	command string
	args    []string
	env     map[string]string

	breaker *resilience.CircuitBreaker

	mu      sync.Mutex
	client  *toolhost.Client
	started bool
}

// NewToolServerSupervisor constructs a supervisor that will launch command
// with args/env when EnsureReady is first called. Repeated spawn failures
// trip an internal circuit breaker so a crash-looping child stops being
// respawned on every call.
func NewToolServerSupervisor(command string, args []string, env map[string]string) *ToolServerSupervisor {
	return &ToolServerSupervisor{
		command: command,
		args:    args,
		env:     env,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tool-server"}),
	}
}

// EnsureReady starts the tool-server child on first call and returns the
// connected client on every call thereafter. Concurrent callers observe a
// single spawn.
func (s *ToolServerSupervisor) EnsureReady(ctx context.Context) (*toolhost.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.client, nil
	}
	if s.command == "" {
		return nil, newFailure(FailureMissing, "tool-server executable not configured", nil)
	}

	client := toolhost.New(s.command, s.args, s.env)
	connectErr := s.breaker.Execute(func() error { return client.Connect(ctx) })
	if connectErr != nil {
		return nil, newFailure(FailureMissing, fmt.Sprintf("failed to start tool-server %q", s.command), connectErr)
	}

	s.client = client
	s.started = true
	return s.client, nil
}

// Stop tears down the tool-server child, releasing ownership so a
// subsequent EnsureReady respawns it.
func (s *ToolServerSupervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.started = false
	return err
}
