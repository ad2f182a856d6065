package voice

import (
	"sync"
	"time"
)

// Timeline is the mutable per-session record of stage timestamps (spec
// "VoiceSessionTimeline"). Every Mark* method is idempotent first-writer-wins:
// once a stage timestamp is set, later calls are no-ops, so a retried or
// racing completion can never rewrite history.
type Timeline struct {
	mu sync.Mutex

	SessionID string

	startedAt         time.Time
	firstAudioFrameAt time.Time
	micReleasedAt     time.Time
	asrStartedAt      time.Time
	asrFirstTokenAt   time.Time
	transcriptReadyAt time.Time
	agentStartedAt    time.Time
	agentReadyAt      time.Time
	ttsStartedAt      time.Time
	speakingStartedAt time.Time

	userMessageAdded  bool
	agentMessageAdded bool
}

// NewTimeline creates a Timeline for sessionID with startedAt already set to
// now, matching the spec's "created when the user begins pressing
// push-to-talk" lifecycle.
func NewTimeline(sessionID string, now time.Time) *Timeline {
	return &Timeline{SessionID: sessionID, startedAt: now}
}

func (t *Timeline) mark(field *time.Time, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !field.IsZero() {
		return false
	}
	*field = at
	return true
}

func (t *Timeline) MarkFirstAudioFrame(at time.Time) bool { return t.mark(&t.firstAudioFrameAt, at) }
func (t *Timeline) MarkMicReleased(at time.Time) bool     { return t.mark(&t.micReleasedAt, at) }
func (t *Timeline) MarkASRStarted(at time.Time) bool      { return t.mark(&t.asrStartedAt, at) }
func (t *Timeline) MarkASRFirstToken(at time.Time) bool   { return t.mark(&t.asrFirstTokenAt, at) }
func (t *Timeline) MarkTranscriptReady(at time.Time) bool { return t.mark(&t.transcriptReadyAt, at) }
func (t *Timeline) MarkAgentStarted(at time.Time) bool    { return t.mark(&t.agentStartedAt, at) }
func (t *Timeline) MarkAgentReady(at time.Time) bool      { return t.mark(&t.agentReadyAt, at) }
func (t *Timeline) MarkTTSStarted(at time.Time) bool      { return t.mark(&t.ttsStartedAt, at) }
func (t *Timeline) MarkSpeakingStarted(at time.Time) bool { return t.mark(&t.speakingStartedAt, at) }

// StartedAt returns the session creation time.
func (t *Timeline) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// TakeUserMessageSlot reports true exactly once per timeline: the first
// caller to ask gets true and may emit the user chat message; every
// subsequent caller gets false.
func (t *Timeline) TakeUserMessageSlot() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userMessageAdded {
		return false
	}
	t.userMessageAdded = true
	return true
}

// TakeAgentMessageSlot is TakeUserMessageSlot's counterpart for the agent's
// reply.
func (t *Timeline) TakeAgentMessageSlot() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.agentMessageAdded {
		return false
	}
	t.agentMessageAdded = true
	return true
}

// Stages snapshots every stage timestamp set so far, in spec order. Stages
// left unset remain the zero time.Time.
type Stages struct {
	StartedAt         time.Time
	FirstAudioFrameAt time.Time
	MicReleasedAt     time.Time
	ASRStartedAt      time.Time
	ASRFirstTokenAt   time.Time
	TranscriptReadyAt time.Time
	AgentStartedAt    time.Time
	AgentReadyAt      time.Time
	TTSStartedAt      time.Time
	SpeakingStartedAt time.Time
}

func (t *Timeline) Snapshot() Stages {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stages{
		StartedAt:         t.startedAt,
		FirstAudioFrameAt: t.firstAudioFrameAt,
		MicReleasedAt:     t.micReleasedAt,
		ASRStartedAt:      t.asrStartedAt,
		ASRFirstTokenAt:   t.asrFirstTokenAt,
		TranscriptReadyAt: t.transcriptReadyAt,
		AgentStartedAt:    t.agentStartedAt,
		AgentReadyAt:      t.agentReadyAt,
		TTSStartedAt:      t.ttsStartedAt,
		SpeakingStartedAt: t.speakingStartedAt,
	}
}

// Monotonic verifies Testable Property 6: every stage timestamp that has
// been set occurs no earlier than the stage before it. Unset (zero) stages
// are skipped rather than treated as violations.
func (s Stages) Monotonic() bool {
	stages := []time.Time{
		s.StartedAt, s.FirstAudioFrameAt, s.MicReleasedAt, s.ASRStartedAt,
		s.ASRFirstTokenAt, s.TranscriptReadyAt, s.AgentStartedAt, s.AgentReadyAt,
		s.TTSStartedAt, s.SpeakingStartedAt,
	}
	var last time.Time
	for _, st := range stages {
		if st.IsZero() {
			continue
		}
		if !last.IsZero() && st.Before(last) {
			return false
		}
		last = st
	}
	return true
}
