package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sentrycore/internal/voice"
	"github.com/MrWong99/sentrycore/internal/voicehost"
)

func TestVoicehostASR_Transcribe(t *testing.T) {
	var gotEngine, gotSessionID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		gotEngine = r.FormValue("engine")
		gotSessionID = r.FormValue("sessionId")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer srv.Close()

	client, err := voicehost.NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	asr := voicehostASR{client: client, engine: "whisper-small"}

	text, err := asr.Transcribe(context.Background(), voice.TranscribeRequest{
		SessionID: "sess-1",
		Audio:     []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Transcribe() = %q, want %q", text, "hello world")
	}
	if gotEngine != "whisper-small" {
		t.Errorf("engine field = %q, want %q", gotEngine, "whisper-small")
	}
	if gotSessionID != "sess-1" {
		t.Errorf("sessionId field = %q, want %q", gotSessionID, "sess-1")
	}
}

func TestVoicehostTTS_Synthesize(t *testing.T) {
	var gotReq voicehost.TTSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte{0xAA, 0xBB, 0xCC})
	}))
	defer srv.Close()

	client, err := voicehost.NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tts := voicehostTTS{client: client, engine: "piper", voice: "en-us-amy"}

	audio, err := tts.Synthesize(context.Background(), "sess-2", "hi there")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if string(audio) != "\xAA\xBB\xCC" {
		t.Errorf("Synthesize() returned %v, want %v", audio, []byte{0xAA, 0xBB, 0xCC})
	}
	if gotReq.Engine != "piper" || gotReq.Voice != "en-us-amy" || gotReq.SessionID != "sess-2" || gotReq.Text != "hi there" {
		t.Errorf("unexpected request forwarded: %+v", gotReq)
	}
}

func TestDisabledAdapters_ReturnError(t *testing.T) {
	if _, err := (disabledTranscriber{}).Transcribe(context.Background(), voice.TranscribeRequest{}); err == nil {
		t.Error("disabledTranscriber.Transcribe() returned nil error")
	}
	if _, err := (disabledSynthesizer{}).Synthesize(context.Background(), "s", "t"); err == nil {
		t.Error("disabledSynthesizer.Synthesize() returned nil error")
	}
}
