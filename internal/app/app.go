// Package app wires every sentrycore subsystem into a running process: the
// permission gate, capability broker, audit log, subprocess supervisors,
// voice session state machine, UI bridge, health/metrics endpoints, and the
// HTTP server that exposes them.
//
// New creates and connects all subsystems; Run serves HTTP until its
// context is cancelled; Shutdown tears everything down in reverse order. External
// collaborators the shell must supply (microphone capture, audio playback,
// the permission prompt UI, and the concrete LLM-driven dialogue
// orchestrator) are injected via [Option] — see [WithCapture],
// [WithPlayer], [WithPrompter], [WithDialogue].
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/sentrycore/internal/audit"
	"github.com/MrWong99/sentrycore/internal/bridge"
	"github.com/MrWong99/sentrycore/internal/capability"
	"github.com/MrWong99/sentrycore/internal/config"
	"github.com/MrWong99/sentrycore/internal/health"
	"github.com/MrWong99/sentrycore/internal/observe"
	"github.com/MrWong99/sentrycore/internal/orchestrator"
	"github.com/MrWong99/sentrycore/internal/permission"
	"github.com/MrWong99/sentrycore/internal/supervisor"
	"github.com/MrWong99/sentrycore/internal/toolhost"
	"github.com/MrWong99/sentrycore/internal/voice"
	"github.com/MrWong99/sentrycore/internal/voicehost"
)

// Config holds the paths and process-level knobs New needs to wire an App.
// Zero-value fields fall back to the defaults documented per field.
type Config struct {
	// SettingsPath is where the runtime-swappable AppSettings JSON snapshot
	// lives (spec §6). Created with defaults on first run.
	SettingsPath string

	// ToolGroupMappingPath optionally overrides the embedded default tool
	// group mapping YAML. Empty uses [config.DefaultToolGroupMapping].
	ToolGroupMappingPath string

	// AuditLogPath is where the newline-delimited JSON audit trail is
	// appended.
	AuditLogPath string

	// ListenAddr is the address the local HTTP server (health, metrics, UI
	// bridge) binds to. Defaults to "127.0.0.1:8787".
	ListenAddr string

	// ToolServerCommand/Args/Env launch the stdio tool-server child.
	ToolServerCommand string
	ToolServerArgs    []string
	ToolServerEnv     map[string]string

	// VoiceHost configures the voice-host subprocess supervisor.
	VoiceHost supervisor.VoiceHostConfig

	// ASREngine/TTSEngine/TTSVoice select which engine/voice the voice
	// host is asked to use for transcription/synthesis requests.
	ASREngine string
	TTSEngine string
	TTSVoice  string

	// Voice tunes the voice session state machine's stage timeouts.
	Voice voice.Config
}

// App owns every subsystem's lifetime.
type App struct {
	cfg Config

	settings    *config.Watcher
	auditLogger *audit.Logger
	broker      *capability.Broker
	gate        *permission.Gate
	toolCaller  *GatedToolCaller

	toolSupervisor  *supervisor.ToolServerSupervisor
	voiceSupervisor *supervisor.VoiceHostSupervisor
	voiceClient     *voicehost.Client
	voiceMachine    *voice.Machine

	bridge     *bridge.Bridge
	metrics    *observe.Metrics
	health     *health.Handler
	httpServer *http.Server

	prompter permission.Prompter
	capture  voice.Capture
	player   voice.Player
	dialogue orchestrator.Dialogue

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to supply the external
// collaborators the core doesn't implement itself, or to inject test
// doubles for the subsystems it does.
type Option func(*App)

// WithPrompter supplies the user-facing consent prompt the gate suspends
// on for "ask" decisions. Without one, every "ask" policy denies.
func WithPrompter(p permission.Prompter) Option { return func(a *App) { a.prompter = p } }

// WithCapture supplies microphone capture for voice sessions.
func WithCapture(c voice.Capture) Option { return func(a *App) { a.capture = c } }

// WithPlayer supplies audio playback for voice sessions.
func WithPlayer(p voice.Player) Option { return func(a *App) { a.player = p } }

// WithDialogue supplies the concrete LLM-driven orchestrator. Without one,
// voice sessions fail at the Thinking stage.
func WithDialogue(d orchestrator.Dialogue) Option { return func(a *App) { a.dialogue = d } }

// WithAuditLogger injects an audit logger instead of creating one from
// cfg.AuditLogPath; tests use this to avoid touching disk.
func WithAuditLogger(l *audit.Logger) Option { return func(a *App) { a.auditLogger = l } }

func (cfg Config) withDefaults() Config {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8787"
	}
	if cfg.ASREngine == "" {
		cfg.ASREngine = "default"
	}
	if cfg.TTSEngine == "" {
		cfg.TTSEngine = "default"
	}
	return cfg
}

// New wires every subsystem together. Initialisation is synchronous:
// settings load, audit log open, tool-server spawn, voice-host spawn, and
// HTTP route registration all complete (or fail) before New returns.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	cfg = cfg.withDefaults()
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initAudit(); err != nil {
		return nil, fmt.Errorf("app: init audit: %w", err)
	}
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	if err := a.initGate(); err != nil {
		return nil, fmt.Errorf("app: init gate: %w", err)
	}
	if err := a.initToolHost(ctx); err != nil {
		return nil, fmt.Errorf("app: init tool host: %w", err)
	}
	if err := a.initVoiceHost(ctx); err != nil {
		return nil, fmt.Errorf("app: init voice host: %w", err)
	}
	a.initBridge()
	a.initVoiceMachine()
	a.initHealth()
	a.initHTTPServer()

	return a, nil
}

func (a *App) initAudit() error {
	if a.auditLogger != nil {
		return nil
	}
	logger, err := audit.NewLogger(a.cfg.AuditLogPath)
	if err != nil {
		return err
	}
	a.auditLogger = logger
	a.closers = append(a.closers, logger.Close)
	return nil
}

func (a *App) initGate() error {
	mapping, err := a.loadToolGroupMapping()
	if err != nil {
		return fmt.Errorf("load tool group mapping: %w", err)
	}

	watcher, err := config.NewWatcher(a.cfg.SettingsPath, a.onSettingsChanged)
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	a.settings = watcher
	a.closers = append(a.closers, func() error { watcher.Stop(); return nil })

	a.broker = capability.NewBroker(a.auditLogger)
	a.gate = permission.NewGate(watcher.Current().Permissions, mapping, a.prompter, a.broker, a.auditLogger,
		permission.WithOnPersistGroupAlways(a.persistGroupAlways),
	)
	return nil
}

// persistGroupAlways is the host-layer side effect for the gate's
// PersistGroupAsAlways event (spec §4.1): it swaps the stored policy value
// for group to "always" in the on-disk settings snapshot and applies the
// change to the gate immediately, without waiting for the watcher's
// fsnotify round-trip.
func (a *App) persistGroupAlways(group config.ToolGroup) {
	current := a.settings.Current()

	groups := make(map[config.ToolGroup]config.PolicyValue, len(current.Permissions.Groups))
	for g, v := range current.Permissions.Groups {
		groups[g] = v
	}
	groups[group] = config.PolicyAlways

	updated := current
	updated.Permissions.Groups = groups
	updated.Permissions.Version = current.Permissions.Version + 1

	if err := config.Save(a.cfg.SettingsPath, updated); err != nil {
		slog.Warn("failed to persist allow-always policy change", "group", group, "err", err)
		return
	}
	a.gate.UpdateSettings(updated.Permissions)
}

func (a *App) loadToolGroupMapping() (config.ToolGroupMapping, error) {
	if a.cfg.ToolGroupMappingPath == "" {
		return config.DefaultToolGroupMapping()
	}
	return config.LoadToolGroupMappingFile(a.cfg.ToolGroupMappingPath)
}

// onSettingsChanged applies a hot-reloaded settings snapshot to the gate
// and records which permission groups changed, grounded on the teacher's
// config.Diff-driven reload.
func (a *App) onSettingsChanged(old, new config.AppSettings) {
	diff := config.Diff(old, new)
	if diff.PermissionsChanged {
		a.gate.UpdateSettings(new.Permissions)
		for _, g := range diff.GroupChanges {
			slog.Info("permission group policy changed", "group", g.Group, "old", g.Old, "new", g.New)
		}
		a.metrics.RecordConfigReload(context.Background(), "applied")
	} else {
		a.metrics.RecordConfigReload(context.Background(), "unchanged")
	}
}

func (a *App) initToolHost(ctx context.Context) error {
	a.toolSupervisor = supervisor.NewToolServerSupervisor(a.cfg.ToolServerCommand, a.cfg.ToolServerArgs, a.cfg.ToolServerEnv)
	a.closers = append(a.closers, a.toolSupervisor.Stop)

	if a.cfg.ToolServerCommand == "" {
		slog.Warn("no tool-server command configured, tool calls will fail")
		a.toolCaller = NewGatedToolCaller(a.gate, toolhost.New("", nil, nil), a.metrics)
		return nil
	}

	start := time.Now()
	client, err := a.toolSupervisor.EnsureReady(ctx)
	outcome := "ready"
	if err != nil {
		outcome = "failed"
	}
	a.metrics.RecordSupervisorReadiness(ctx, "tool_host", outcome, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	a.toolCaller = NewGatedToolCaller(a.gate, client, a.metrics)
	return nil
}

func (a *App) initVoiceHost(ctx context.Context) error {
	a.voiceSupervisor = supervisor.NewVoiceHostSupervisor(a.cfg.VoiceHost)
	a.closers = append(a.closers, a.voiceSupervisor.Stop)

	if a.cfg.VoiceHost.Disabled {
		return nil
	}

	start := time.Now()
	baseURL, err := a.voiceSupervisor.EnsureReady(ctx)
	outcome := "ready"
	if err != nil {
		outcome = "failed"
	}
	a.metrics.RecordSupervisorReadiness(ctx, "voice_host", outcome, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	client, err := voicehost.NewClient(baseURL, nil)
	if err != nil {
		return err
	}
	a.voiceClient = client
	return nil
}

func (a *App) initBridge() {
	a.bridge = bridge.New(0)
}

func (a *App) initMetrics() error {
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	if a.auditLogger != nil {
		a.auditLogger.SetMetrics(m)
	}
	return nil
}

func (a *App) initVoiceMachine() {
	asr := voice.Transcriber(disabledTranscriber{})
	tts := voice.Synthesizer(disabledSynthesizer{})
	if a.voiceClient != nil {
		asr = voicehostASR{client: a.voiceClient, engine: a.cfg.ASREngine}
		tts = voicehostTTS{client: a.voiceClient, engine: a.cfg.TTSEngine, voice: a.cfg.TTSVoice}
	}

	a.voiceMachine = voice.NewMachine(
		a.capture,
		asr,
		a.dialogue,
		tts,
		a.player,
		bridge.VoiceChatSink{Bridge: a.bridge},
		a.cfg.Voice,
		voice.WithProgressSink(bridge.VoiceProgressSink{Bridge: a.bridge}),
		voice.WithLogger(a.auditLogger),
		voice.WithMetrics(a.metrics),
	)
}

func (a *App) initHealth() {
	checkers := []health.Checker{
		{Name: "tool_host", Check: func(ctx context.Context) error {
			if a.cfg.ToolServerCommand == "" {
				return nil
			}
			_, err := a.toolCaller.ListTools(ctx)
			return err
		}},
		{Name: "voice_host", Check: func(ctx context.Context) error {
			if a.cfg.VoiceHost.Disabled || a.voiceClient == nil {
				return nil
			}
			status, err := a.voiceClient.Health(ctx)
			if err != nil {
				return err
			}
			if !status.IsReady() {
				return fmt.Errorf("voice host not ready: %s", status.Status)
			}
			return nil
		}},
	}
	a.health = health.New(checkers...)
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /events", a.bridge)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	a.httpServer = &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Gate returns the permission gate, for callers (e.g. the tool-call path
// of an external dialogue orchestrator) that need to reach it directly.
func (a *App) Gate() *permission.Gate { return a.gate }

// ToolCaller returns the gate-wrapped tool invocation contract an external
// [orchestrator.Dialogue] implementation should use to execute tools.
func (a *App) ToolCaller() *GatedToolCaller { return a.toolCaller }

// VoiceMachine returns the voice session state machine.
func (a *App) VoiceMachine() *voice.Machine { return a.voiceMachine }

// Bridge returns the event-driven UI bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// ListenAddr returns the address the HTTP server binds to.
func (a *App) ListenAddr() string { return a.cfg.ListenAddr }

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.cfg.ListenAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down every subsystem in reverse registration order. Safe to
// call multiple times; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
