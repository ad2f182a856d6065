package bridge

import "github.com/MrWong99/sentrycore/internal/voice"

// VoiceProgressSink adapts a Bridge to [voice.ProgressSink].
type VoiceProgressSink struct{ Bridge *Bridge }

func (s VoiceProgressSink) Progress(sessionID string, stage voice.State, detail map[string]any) {
	s.Bridge.Publish(Event{
		Type:      "voice.progress",
		SessionID: sessionID,
		Payload:   map[string]any{"stage": stage.String(), "detail": detail},
	})
}

// VoiceChatSink adapts a Bridge to [voice.ChatSink].
type VoiceChatSink struct{ Bridge *Bridge }

func (s VoiceChatSink) UserMessage(sessionID, text string) {
	s.Bridge.Publish(Event{Type: "chat.user", SessionID: sessionID, Payload: map[string]any{"text": text}})
}

func (s VoiceChatSink) AgentMessage(sessionID, text string) {
	s.Bridge.Publish(Event{Type: "chat.agent", SessionID: sessionID, Payload: map[string]any{"text": text}})
}
