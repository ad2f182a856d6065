package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sentrycore/internal/audit"
	"github.com/MrWong99/sentrycore/internal/observe"
	"github.com/MrWong99/sentrycore/internal/orchestrator"
)

const (
	defaultCaptureStartTimeout = 3 * time.Second
	defaultCaptureStopTimeout  = 5 * time.Second
	minASRTimeout              = 5 * time.Second
	minAgentTimeout            = 10 * time.Second
	minSpeakingTimeout         = 10 * time.Second

	previewCadence      = 350 * time.Millisecond
	previewInitialDelay = 180 * time.Millisecond
	previewDrainBudget  = 1500 * time.Millisecond
)

// errShutup is the cancellation cause set by [Machine.Shutup]. The running
// session pipeline checks for it with context.Cause to distinguish a
// deliberate Shutup (→ Idle, VOICE_SHUTUP audit line) from any other
// cancellation or failure (→ Faulted).
var errShutup = errors.New("voice: shutup")

// Config bounds the voice pipeline's per-stage timeouts. Zero values are
// replaced by defaults; values below the spec's floors are clamped up.
type Config struct {
	CaptureStartTimeout time.Duration
	CaptureStopTimeout  time.Duration
	ASRTimeout          time.Duration
	AgentTimeout        time.Duration
	SpeakingTimeout     time.Duration
	PreviewEnabled      bool
}

func (c Config) withDefaults() Config {
	if c.CaptureStartTimeout <= 0 {
		c.CaptureStartTimeout = defaultCaptureStartTimeout
	}
	if c.CaptureStopTimeout <= 0 {
		c.CaptureStopTimeout = defaultCaptureStopTimeout
	}
	if c.ASRTimeout < minASRTimeout {
		c.ASRTimeout = minASRTimeout
	}
	if c.AgentTimeout < minAgentTimeout {
		c.AgentTimeout = minAgentTimeout
	}
	if c.SpeakingTimeout < minSpeakingTimeout {
		c.SpeakingTimeout = minSpeakingTimeout
	}
	return c
}

// session is the state carried for one Idle-to-Idle lifecycle.
type session struct {
	id       string
	timeline *Timeline
	ctx      context.Context
	cancel   context.CancelCauseFunc
	preview  *previewLoop
}

// Machine drives a single voice session end to end. Only one session can be
// active at a time, matching Testable Property 8's "at most one live child"
// discipline applied here to in-process sessions rather than subprocesses.
type Machine struct {
	mu   sync.Mutex
	state State
	cur   *session

	cfg      Config
	capture  Capture
	asr      Transcriber
	dialogue orchestrator.Dialogue
	tts      Synthesizer
	player   Player
	chat     ChatSink
	progress ProgressSink
	logger   *audit.Logger
	metrics  *observe.Metrics
	now      func() time.Time
}

// Option configures a [Machine] at construction.
type Option func(*Machine)

// WithProgressSink wires a UI progress sink (e.g. the websocket bridge).
func WithProgressSink(p ProgressSink) Option { return func(m *Machine) { m.progress = p } }

// WithLogger wires the audit logger used for VOICE_SHUTUP/VOICE_FAULT lines.
func WithLogger(l *audit.Logger) Option { return func(m *Machine) { m.logger = l } }

// WithMetrics wires an [observe.Metrics] instance so stage timings and
// terminal session outcomes are recorded. Without one, the machine still
// runs; it just emits no voice metrics.
func WithMetrics(met *observe.Metrics) Option { return func(m *Machine) { m.metrics = met } }

// WithClock overrides the time source; tests use it to make timeline
// ordering assertions deterministic.
func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

// NewMachine constructs an idle Machine around its collaborators.
func NewMachine(capture Capture, asr Transcriber, dialogue orchestrator.Dialogue, tts Synthesizer, player Player, chat ChatSink, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		state:    Idle,
		cfg:      cfg.withDefaults(),
		capture:  capture,
		asr:      asr,
		dialogue: dialogue,
		tts:      tts,
		player:   player,
		chat:     chat,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the machine's current stage.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MicDown begins a new session: it starts capture (bound by
// cfg.CaptureStartTimeout) and, on success, transitions to Listening. The
// rest of the pipeline is driven by MicUp.
func (m *Machine) MicDown(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle && m.state != Faulted {
		m.mu.Unlock()
		return fmt.Errorf("voice: session already in progress (state=%s)", m.state)
	}

	sessionID := uuid.NewString()
	timeline := NewTimeline(sessionID, m.now())
	sessionCtx, cancel := context.WithCancelCause(context.Background())
	sess := &session{id: sessionID, timeline: timeline, ctx: sessionCtx, cancel: cancel}

	m.state = Listening
	m.cur = sess
	m.mu.Unlock()

	startCtx, startCancel := context.WithTimeout(ctx, m.cfg.CaptureStartTimeout)
	defer startCancel()

	var frameOnce sync.Once
	if err := m.capture.Start(startCtx, func() {
		frameOnce.Do(func() { timeline.MarkFirstAudioFrame(m.now()) })
	}); err != nil {
		cancel(err)
		m.enterFault(sess, fmt.Sprintf("capture failed to start: %v", err))
		return fmt.Errorf("voice: start capture: %w", err)
	}

	if m.cfg.PreviewEnabled {
		sess.preview = startPreviewLoop(sessionCtx, m.capture, m.asr, sessionID)
	}

	m.emitProgress(sessionID, Listening, nil)
	return nil
}

// MicUp ends capture and launches the transcription/dialogue/speech
// pipeline asynchronously, so a Shutup racing with a slow TTS/playback
// stage can still interrupt it promptly.
func (m *Machine) MicUp(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Listening {
		m.mu.Unlock()
		return fmt.Errorf("voice: MicUp received outside Listening (state=%s)", m.state)
	}
	sess := m.cur
	m.state = Transcribing
	m.mu.Unlock()

	// Preview drain and capture stop are independent teardown steps bound to
	// the same MicUp call; run them concurrently under a shared errgroup so
	// a failure or cancellation on one side propagates to the other instead
	// of waiting out its own timeout needlessly.
	group, gctx := errgroup.WithContext(ctx)

	var previewHint string
	if sess.preview != nil {
		group.Go(func() error {
			previewHint = sess.preview.stopAndDrain(previewDrainBudget)
			return nil
		})
	}

	stopCtx, stopCancel := context.WithTimeout(gctx, m.cfg.CaptureStopTimeout)
	defer stopCancel()
	var clip []byte
	group.Go(func() error {
		c, err := m.capture.Stop(stopCtx)
		clip = c
		return err
	})

	err := group.Wait()
	sess.timeline.MarkMicReleased(m.now())
	if err != nil {
		m.abortOrFault(sess, fmt.Sprintf("capture stop failed: %v", err))
		return nil
	}

	go m.runPipeline(sess, clip, previewHint)
	return nil
}

// Shutup cancels whatever is in flight and returns to Idle immediately,
// emitting no further progress events for the session (spec S6).
func (m *Machine) Shutup() {
	m.mu.Lock()
	sess := m.cur
	state := m.state
	m.mu.Unlock()

	if state == Idle || sess == nil {
		return
	}
	sess.cancel(errShutup)
	if sess.preview != nil {
		sess.preview.stop()
	}

	m.mu.Lock()
	if m.cur == sess {
		m.state = Idle
		m.cur = nil
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Log(audit.NewEvent(audit.ActorVoice, audit.ActionVoiceShutup, sess.id, audit.ResultOK, nil))
	}
}

// Fault forces the machine into Faulted with reason, e.g. from a
// supervisor EnsureReady failure observed before a session pipeline would
// have caught it itself.
func (m *Machine) Fault(reason string) {
	m.mu.Lock()
	state := m.state
	sess := m.cur
	m.mu.Unlock()
	if !state.canFault() {
		return
	}
	m.enterFault(sess, reason)
}

func (m *Machine) enterFault(sess *session, reason string) {
	id := ""
	m.mu.Lock()
	if sess != nil {
		id = sess.id
	}
	if m.cur == sess || sess == nil {
		m.state = Faulted
		m.cur = nil
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Log(audit.NewEvent(audit.ActorVoice, audit.ActionVoiceFault, id, audit.Result(reason), nil))
	}
	if m.metrics != nil {
		m.metrics.RecordVoiceSession(context.Background(), "faulted")
	}
	m.emitProgress(id, Faulted, map[string]any{"reason": reason})
}

func (m *Machine) runPipeline(sess *session, audioClip []byte, previewHint string) {
	ctx := sess.ctx
	timeline := sess.timeline
	sessionID := sess.id

	m.setState(Transcribing)
	timeline.MarkASRStarted(m.now())
	asrStart := m.now()
	asrCtx, asrCancel := context.WithTimeout(ctx, m.cfg.ASRTimeout)
	transcript, err := m.asr.Transcribe(asrCtx, TranscribeRequest{SessionID: sessionID, Audio: audioClip, Preview: false})
	asrCancel()
	if err != nil {
		m.abortOrFault(sess, fmt.Sprintf("transcription failed: %v", err))
		return
	}
	timeline.MarkTranscriptReady(m.now())
	m.recordStage("asr", asrStart)

	if timeline.TakeUserMessageSlot() && m.chat != nil {
		m.chat.UserMessage(sessionID, transcript)
	}

	m.setState(Thinking)
	m.emitProgress(sessionID, Thinking, nil)
	timeline.MarkAgentStarted(m.now())
	agentStart := m.now()
	agentCtx, agentCancel := context.WithTimeout(ctx, m.cfg.AgentTimeout)
	turn := orchestrator.Turn{
		SessionID:   sessionID,
		Transcript:  transcript,
		PreviewHint: previewHint,
		RequestedAt: m.now().UnixNano(),
	}
	reply, err := m.dialogue.Respond(agentCtx, turn)
	agentCancel()
	if err != nil {
		m.abortOrFault(sess, fmt.Sprintf("dialogue failed: %v", err))
		return
	}
	timeline.MarkAgentReady(m.now())
	m.recordStage("agent", agentStart)

	if timeline.TakeAgentMessageSlot() && m.chat != nil {
		m.chat.AgentMessage(sessionID, reply.Text)
	}

	timeline.MarkTTSStarted(m.now())
	ttsStart := m.now()
	audioOut, err := m.tts.Synthesize(ctx, sessionID, reply.Text)
	if err != nil {
		m.abortOrFault(sess, fmt.Sprintf("synthesis failed: %v", err))
		return
	}
	m.recordStage("tts", ttsStart)

	m.setState(Speaking)
	timeline.MarkSpeakingStarted(m.now())
	m.emitProgress(sessionID, Speaking, nil)
	speakStart := m.now()
	speakCtx, speakCancel := context.WithTimeout(ctx, m.cfg.SpeakingTimeout)
	err = m.player.Play(speakCtx, audioOut)
	speakCancel()
	if err != nil {
		m.abortOrFault(sess, fmt.Sprintf("playback failed: %v", err))
		return
	}
	m.recordStage("speaking", speakStart)

	m.mu.Lock()
	if m.cur == sess {
		m.state = Idle
		m.cur = nil
	}
	m.mu.Unlock()
	m.emitProgress(sessionID, Idle, nil)
	if m.metrics != nil {
		m.metrics.RecordVoiceSession(context.Background(), "idle")
	}
}

// recordStage records how long a completed pipeline stage took, if metrics
// are wired.
func (m *Machine) recordStage(stage string, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordVoiceStage(context.Background(), stage, m.now().Sub(start).Seconds())
	}
}

// abortOrFault distinguishes a deliberate Shutup cancellation (already
// handled by Shutup itself — silent return to Idle) from a genuine failure
// (Faulted, surfaced reason).
func (m *Machine) abortOrFault(sess *session, reason string) {
	if errors.Is(context.Cause(sess.ctx), errShutup) {
		return
	}
	m.enterFault(sess, reason)
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	if m.cur != nil {
		m.state = s
	}
	m.mu.Unlock()
}

func (m *Machine) emitProgress(sessionID string, stage State, detail map[string]any) {
	if m.progress != nil {
		m.progress.Progress(sessionID, stage, detail)
	}
}
