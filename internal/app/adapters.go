package app

import (
	"context"
	"errors"

	"github.com/MrWong99/sentrycore/internal/voice"
	"github.com/MrWong99/sentrycore/internal/voicehost"
)

// errVoiceHostDisabled is returned by the voice adapters when no voice host
// client was started, so a session that reaches the Listening or Speaking
// stage fails with a clear error instead of a nil-interface panic.
var errVoiceHostDisabled = errors.New("app: voice host is disabled")

// disabledTranscriber and disabledSynthesizer stand in for the voice host
// adapters when cfg.VoiceHost.Disabled is set, so [voice.Machine] always
// has non-nil dependencies.
type disabledTranscriber struct{}

func (disabledTranscriber) Transcribe(context.Context, voice.TranscribeRequest) (string, error) {
	return "", errVoiceHostDisabled
}

type disabledSynthesizer struct{}

func (disabledSynthesizer) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, errVoiceHostDisabled
}

// voicehostASR adapts a [voicehost.Client] to [voice.Transcriber].
type voicehostASR struct {
	client *voicehost.Client
	engine string
}

func (a voicehostASR) Transcribe(ctx context.Context, req voice.TranscribeRequest) (string, error) {
	return a.client.Transcribe(ctx, voicehost.ASRRequest{
		Audio:     req.Audio,
		SessionID: req.SessionID,
		Engine:    a.engine,
	})
}

// voicehostTTS adapts a [voicehost.Client] to [voice.Synthesizer].
type voicehostTTS struct {
	client *voicehost.Client
	engine string
	voice  string
}

func (a voicehostTTS) Synthesize(ctx context.Context, sessionID, text string) ([]byte, error) {
	return a.client.Synthesize(ctx, voicehost.TTSRequest{
		Text:      text,
		SessionID: sessionID,
		Engine:    a.engine,
		Voice:     a.voice,
	})
}
