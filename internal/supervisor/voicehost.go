package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/sentrycore/internal/voicehost"
)

// probeConcurrency bounds how many candidate ports are health-probed at
// once during the fast-scan phase of EnsureReady.
const probeConcurrency = 4

// probeTimeout bounds a single /health probe (spec §5 Timeouts: "health
// probe ≤3s").
const probeTimeout = 3 * time.Second

// pollInterval is the cadence at which EnsureReady polls a starting
// child's /health endpoint (spec §4.2 step 4: "polling every ≈250ms").
const pollInterval = 250 * time.Millisecond

// minStartupTimeout is the floor applied to a configured startup deadline
// (spec §5: "voice host startup ≤configured (clamped ≥5s)").
const minStartupTimeout = 5 * time.Second

// VoiceHostConfig describes how to reach or launch the voice-host child.
type VoiceHostConfig struct {
	Disabled       bool
	Executable     string
	Args           []string
	PreferredPort  int
	SessionFile    string
	StartupTimeout time.Duration
}

// VoiceHostSupervisor owns the voice-host child process across restarts,
// implementing spec §4.2's EnsureReady state machine. Exactly one
// VoiceHostSupervisor should exist per host runtime; it enforces that at
// most one live child is owned at any instant (Testable Property 8) via
// its internal mutex.
type VoiceHostSupervisor struct {
	cfg VoiceHostConfig

	mu      sync.Mutex
	handle  *SubprocessHandle
	baseURL string
	reaped  bool
}

// NewVoiceHostSupervisor constructs a supervisor for cfg. cfg.StartupTimeout
// is clamped to at least minStartupTimeout.
func NewVoiceHostSupervisor(cfg VoiceHostConfig) *VoiceHostSupervisor {
	if cfg.StartupTimeout < minStartupTimeout {
		cfg.StartupTimeout = minStartupTimeout
	}
	return &VoiceHostSupervisor{cfg: cfg}
}

// BaseURL returns the currently adopted base URL, or "" if none.
func (s *VoiceHostSupervisor) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// EnsureReady implements spec §4.2: reap a stale session at most once,
// probe the preferred URL, iterate a bounded port range starting a child
// where needed, and fall back to an OS-ephemeral port. On success it
// returns the adopted base URL.
func (s *VoiceHostSupervisor) EnsureReady(ctx context.Context) (string, error) {
	if s.cfg.Disabled {
		return "", nil
	}
	if s.cfg.Executable == "" {
		return "", newFailure(FailureMissing, "voice-host executable not configured", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle.Alive() && s.baseURL != "" {
		if status, err := s.probe(ctx, s.baseURL); err == nil && status.IsReady() {
			return s.baseURL, nil
		}
	}

	s.reapStaleSession()

	ports := candidatePorts(s.cfg.PreferredPort)

	if adopted := s.fastScan(ctx, ports); adopted != "" {
		s.baseURL = adopted
		return adopted, nil
	}

	var lastErr error
	for _, port := range ports {
		if s.handle.Alive() {
			// We already started a child this call; don't start a second.
			break
		}
		if !portFree(port) {
			continue
		}
		baseURL, err := s.startAndWait(ctx, port)
		if err == nil {
			s.baseURL = baseURL
			return baseURL, nil
		}
		var failure *Failure
		if ok := asFailure(err, &failure); ok && failure.Code == FailureProcessExited {
			return "", err
		}
		lastErr = err
		slog.Warn("supervisor: voice-host candidate port failed to start", "port", port, "err", err)
	}

	if s.handle.Alive() {
		// An owned child is still running but not ready; never start a second.
		if lastErr == nil {
			lastErr = newFailure(FailureWarmingUp, "voice-host child is running but not ready", nil)
		}
		return "", lastErr
	}

	ephemeral, err := bindEphemeralPort()
	if err != nil {
		return "", newFailure(FailurePortUnavailable, "no port available, including ephemeral fallback", err)
	}
	baseURL, err := s.startAndWait(ctx, ephemeral)
	if err != nil {
		return "", err
	}
	s.baseURL = baseURL
	return baseURL, nil
}

// fastScan concurrently probes every candidate port's /health endpoint and
// returns the base URL of the first ready one found, preferring the
// earliest port in candidate order when multiple are ready. Concurrency is
// bounded by a semaphore rather than left unbounded, since the candidate
// list can be wide.
func (s *VoiceHostSupervisor) fastScan(ctx context.Context, ports []int) string {
	sem := semaphore.NewWeighted(probeConcurrency)
	results := make([]bool, len(ports))
	var wg sync.WaitGroup

	for i, port := range ports {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			defer sem.Release(1)
			base := fmt.Sprintf("http://127.0.0.1:%d", port)
			status, err := s.probe(ctx, base)
			results[i] = err == nil && status.IsReady()
		}(i, port)
	}
	wg.Wait()

	for i, ready := range results {
		if ready {
			return fmt.Sprintf("http://127.0.0.1:%d", ports[i])
		}
	}
	return ""
}

func (s *VoiceHostSupervisor) probe(ctx context.Context, baseURL string) (voicehost.HealthStatus, error) {
	client, err := voicehost.NewClient(baseURL, nil)
	if err != nil {
		return voicehost.HealthStatus{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return client.Health(ctx)
}

// startAndWait spawns the voice-host child bound to port and polls
// readiness until StartupTimeout elapses or the child exits.
func (s *VoiceHostSupervisor) startAndWait(ctx context.Context, port int) (string, error) {
	args := append(append([]string{}, s.cfg.Args...), fmt.Sprintf("--port=%d", port))
	cmd := exec.Command(s.cfg.Executable, args...)
	if err := cmd.Start(); err != nil {
		return "", newFailure(FailureMissing, "failed to start voice-host executable", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	handle := &SubprocessHandle{
		Name:        "voicehost",
		Port:        port,
		PID:         cmd.Process.Pid,
		SessionFile: s.cfg.SessionFile,
		process:     cmd.Process,
	}
	s.handle = handle

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(s.cfg.StartupTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			s.handle = nil
			return "", newFailure(FailureProcessExited, "voice-host exited before becoming ready", err)
		case <-ctx.Done():
			return "", newFailure(FailureUnreachable, "context cancelled while waiting for voice-host readiness", ctx.Err())
		case <-ticker.C:
			status, err := s.probe(ctx, baseURL)
			if err != nil {
				if time.Now().After(deadline) {
					return "", newFailure(FailureStartupTimeout, "voice-host did not become reachable in time", err)
				}
				continue
			}
			if status.IsReady() {
				if s.cfg.SessionFile != "" {
					if werr := writeSessionFile(s.cfg.SessionFile, sessionRecord{
						BaseURL: baseURL, Port: port, PID: handle.PID, UpdatedAtUTC: time.Now().UTC(),
					}); werr != nil {
						slog.Warn("supervisor: failed to persist voice-host session file", "err", werr)
					}
				}
				return baseURL, nil
			}
			if time.Now().After(deadline) {
				return "", newFailure(FailureStartupTimeout, "voice-host still warming up at deadline", nil)
			}
		}
	}
}

// reapStaleSession attempts, at most once per supervisor lifetime, to kill
// an orphaned voice-host process left behind by a prior crashed run (spec
// §4.2 step 2, §9 "Stale-process reaping is dangerous").
func (s *VoiceHostSupervisor) reapStaleSession() {
	if s.reaped || s.cfg.SessionFile == "" {
		return
	}
	s.reaped = true

	rec, found, err := readSessionFile(s.cfg.SessionFile)
	if err != nil {
		slog.Warn("supervisor: failed to read voice-host session file", "err", err)
		return
	}
	if !found {
		return
	}
	if s.handle.Alive() {
		// We already own a live instance; never reap our own child.
		return
	}
	if !verifyStaleTarget(rec.PID, executableBaseName(s.cfg.Executable)) {
		return
	}

	if err := killProcessTree(rec.PID); err != nil {
		slog.Warn("supervisor: failed to reap stale voice-host process", "pid", rec.PID, "err", err)
		return
	}
	_ = removeSessionFile(s.cfg.SessionFile)
	slog.Info("supervisor: reaped stale voice-host process", "pid", rec.PID)
}

// Stop tears down the owned child, if any, and clears the adopted base
// URL. This is the only path that releases subprocess ownership.
func (s *VoiceHostSupervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.handle.Stop()
	s.handle = nil
	s.baseURL = ""
	return err
}

// ReconfigureAndReset tears down the current child and clears the adopted
// base URL so the next EnsureReady respawns with new arguments (spec §4.2
// "Settings hot-swap": "If TTS/ASR engine or model identifiers change, the
// supervisor tears down the managed child").
func (s *VoiceHostSupervisor) ReconfigureAndReset(cfg VoiceHostConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.handle.Stop()
	s.handle = nil
	s.baseURL = ""
	if cfg.StartupTimeout < minStartupTimeout {
		cfg.StartupTimeout = minStartupTimeout
	}
	s.cfg = cfg
}

func asFailure(err error, target **Failure) bool {
	f, ok := err.(*Failure)
	if ok {
		*target = f
	}
	return ok
}

func removeSessionFile(path string) error {
	return os.Remove(path)
}

func executableBaseName(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	return base
}
