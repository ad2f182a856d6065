package voice

import (
	"context"

	"github.com/MrWong99/sentrycore/internal/orchestrator"
)

// Capture owns microphone capture for a single session. Start must notify
// frameSeen the first time audio data is available, so the machine can mark
// firstAudioFrame; Stop returns the recorded clip (WAV-framed PCM per the
// external audio contract) and must not block past its caller's deadline.
type Capture interface {
	Start(ctx context.Context, frameSeen func()) error
	// Snapshot returns whatever audio has been captured so far, for the
	// preview ASR loop; it must not mutate or consume the running capture.
	Snapshot() []byte
	Stop(ctx context.Context) ([]byte, error)
}

// TranscribeRequest is handed to a [Transcriber] for both preview and final
// transcription attempts.
type TranscribeRequest struct {
	SessionID string
	Audio     []byte
	Preview   bool
}

// Transcriber performs automatic speech recognition against the voice host.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

// Synthesizer performs text-to-speech against the voice host.
type Synthesizer interface {
	Synthesize(ctx context.Context, sessionID, text string) ([]byte, error)
}

// Player plays back synthesized audio. Play must observe ctx cancellation
// so Shutup can abort playback within the cancellation timing bound.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// ChatSink receives the exactly-once chat messages a completed (or
// partially completed) session produces.
type ChatSink interface {
	UserMessage(sessionID, text string)
	AgentMessage(sessionID, text string)
}

// ProgressSink receives best-effort progress notifications for the UI
// bridge; implementations must not block the caller.
type ProgressSink interface {
	Progress(sessionID string, stage State, detail map[string]any)
}

// Dialogue is re-exported for convenience so callers constructing a
// [Machine] only need to import this package.
type Dialogue = orchestrator.Dialogue
