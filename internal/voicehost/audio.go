package voicehost

import (
	"encoding/base64"
	"fmt"
)

// decodeBase64Audio decodes a base64-wrapped audio payload as returned by
// the JSON fallback shape of POST /tts.
func decodeBase64Audio(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("voicehost: decode base64 audio: %w", err)
	}
	return data, nil
}
