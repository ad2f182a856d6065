// Package voicehost defines the HTTP contract spoken by the voice-host
// subprocess (spec §6 "Voice host HTTP contract") and a small client used
// by both the supervisor (readiness probing) and the voice session state
// machine (ASR/TTS calls).
package voicehost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/sentrycore/internal/resilience"
)

// HealthStatus is the decoded response body of GET {base}/health.
type HealthStatus struct {
	Status    string `json:"status"` // "ok" | "loading"
	Ready     bool   `json:"ready"`
	ASRReady  bool   `json:"asrReady"`
	TTSReady  bool   `json:"ttsReady"`
	Version   string `json:"version"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// IsReady reports whether the host considers itself ready to serve ASR/TTS
// traffic (spec §4.2 step 3: "status == \"ok\" and ready == true").
func (h HealthStatus) IsReady() bool {
	return h.Status == "ok" && h.Ready
}

// ASRRequest describes a transcription request (spec §6 POST /asr).
type ASRRequest struct {
	Audio       []byte
	SessionID   string
	Engine      string
	ModelID     string
	Language    string
	RequestID   string
}

// TTSRequest describes a speech synthesis request (spec §6 POST /tts).
type TTSRequest struct {
	Text       string `json:"text"`
	RequestID  string `json:"requestId"`
	Engine     string `json:"engine"`
	ModelID    string `json:"modelId"`
	VoiceID    string `json:"voiceId"`
	Voice      string `json:"voice"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	SessionID  string `json:"sessionId"`
}

// Client talks to a single voice-host base URL. The base URL must be
// loopback; [NewClient] enforces this (spec §6: "non-loopback is
// rejected").
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewClient validates baseURL and returns a Client. Host is normalized to
// 127.0.0.1 (localhost, ::1 and 127.0.0.1 are treated as equivalent); any
// other host is rejected.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	normalized, err := NormalizeLoopback(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: normalized,
		http:    httpClient,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "voice-host"}),
	}, nil
}

// do executes req through the client's circuit breaker, guarding ASR/TTS/
// health traffic against a wedged voice-host child.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.breaker.Execute(func() error {
		var doErr error
		resp, doErr = c.http.Do(req)
		return doErr
	})
	return resp, err
}

// NormalizeLoopback validates that raw is an http URL (https is rejected)
// whose host is loopback (127.0.0.1, localhost or ::1) and rewrites the host
// to 127.0.0.1.
func NormalizeLoopback(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("voicehost: parse base url %q: %w", raw, err)
	}
	if u.Scheme != "http" {
		return "", fmt.Errorf("voicehost: base url %q must use http", raw)
	}
	host := u.Hostname()
	if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		return "", fmt.Errorf("voicehost: base url host %q is not loopback", host)
	}
	u.Host = net.JoinHostPort("127.0.0.1", u.Port())
	return u.String(), nil
}

// Health fetches GET {base}/health.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("voicehost: build health request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("voicehost: health request: %w", err)
	}
	defer resp.Body.Close()

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return HealthStatus{}, fmt.Errorf("voicehost: decode health response: %w", err)
	}
	return status, nil
}

// Transcribe performs POST {base}/asr with a multipart body.
func (c *Client) Transcribe(ctx context.Context, req ASRRequest) (string, error) {
	body := &strings.Builder{}
	writer := multipart.NewWriter(body)

	if err := writeMultipartField(writer, "sessionId", req.SessionID); err != nil {
		return "", err
	}
	if err := writeMultipartField(writer, "engine", req.Engine); err != nil {
		return "", err
	}
	if req.ModelID != "" {
		if err := writeMultipartField(writer, "modelId", req.ModelID); err != nil {
			return "", err
		}
	}
	if req.Language != "" {
		if err := writeMultipartField(writer, "sttLanguage", req.Language); err != nil {
			return "", err
		}
	}
	if req.RequestID != "" {
		if err := writeMultipartField(writer, "requestId", req.RequestID); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("audio", "capture.wav")
	if err != nil {
		return "", fmt.Errorf("voicehost: create audio form part: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", fmt.Errorf("voicehost: write audio bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("voicehost: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/asr", strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("voicehost: build asr request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	resp, err := c.do(httpReq)
	if err != nil {
		return "", fmt.Errorf("voicehost: asr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("voicehost: read asr response: %w", err)
	}

	var decoded struct {
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
		Result     string `json:"result"`
		Output     string `json:"output"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		for _, candidate := range []string{decoded.Text, decoded.Transcript, decoded.Result, decoded.Output} {
			if candidate != "" {
				return candidate, nil
			}
		}
	}
	return string(raw), nil
}

func writeMultipartField(w *multipart.Writer, name, value string) error {
	if err := w.WriteField(name, value); err != nil {
		return fmt.Errorf("voicehost: write multipart field %q: %w", name, err)
	}
	return nil
}

// Synthesize performs POST {base}/tts and returns the raw audio bytes,
// decoding either a direct audio/* response or a JSON-wrapped base64
// payload.
func (c *Client) Synthesize(ctx context.Context, req TTSRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("voicehost: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("voicehost: build tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("voicehost: tts request: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicehost: read tts response: %w", err)
	}

	if strings.HasPrefix(contentType, "audio/") {
		return raw, nil
	}

	var decoded struct {
		AudioBase64 string `json:"audioBase64"`
		Audio       string `json:"audio"`
		Data        string `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("voicehost: decode tts response: %w", err)
	}
	for _, candidate := range []string{decoded.AudioBase64, decoded.Audio, decoded.Data} {
		if candidate != "" {
			return decodeBase64Audio(candidate)
		}
	}
	return nil, fmt.Errorf("voicehost: tts response contained no audio payload")
}
