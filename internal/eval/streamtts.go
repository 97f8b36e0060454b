package eval

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vocim/vocim/internal/reliability"
)

// ElevenLabsConfig configures the streaming TTS synthesizer.
type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	VoiceID      string
	ModelID      string
	OutputFormat string
}

// ElevenLabsSynthesizer renders feedback audio over the ElevenLabs
// stream-input websocket. Each Synthesize call opens one stream, sends the
// full text, and collects chunks until the final marker.
type ElevenLabsSynthesizer struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	return &ElevenLabsSynthesizer{cfg: cfg}
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, fmt.Errorf("empty text")
	}
	if strings.TrimSpace(s.cfg.VoiceID) == "" {
		return nil, 0, fmt.Errorf("voice_id is required")
	}

	u, err := url.Parse(strings.TrimRight(s.cfg.WSBaseURL, "/") +
		"/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return nil, 0, err
	}
	q := u.Query()
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		err = fmt.Errorf("dial tts websocket: %w", err)
		// Auth and client errors will not heal on a retry.
		if resp != nil && !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, 0, reliability.Permanent(err)
		}
		return nil, 0, err
	}
	defer conn.Close()

	// Prime the stream as documented for stream-input flows, then send the
	// text and close input with an empty message.
	msgs := []map[string]any{
		{"text": " ", "voice_settings": map[string]any{"stability": 0.42, "similarity_boost": 0.85}},
		{"text": text, "try_trigger_generation": true},
		{"text": ""},
	}
	for _, msg := range msgs {
		if err := conn.WriteJSON(msg); err != nil {
			return nil, 0, fmt.Errorf("write tts message: %w", err)
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, 0, fmt.Errorf("read tts stream: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			streamErr := fmt.Errorf("tts stream error: %s", errMsg)
			if !reliability.IsRetryableRealtimeMessageType(asString(raw["message_type"])) {
				return nil, 0, reliability.Permanent(streamErr)
			}
			return nil, 0, streamErr
		}
		if chunk := asString(raw["audio"]); chunk != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				return nil, 0, fmt.Errorf("decode audio chunk: %w", err)
			}
			pcm = append(pcm, decoded...)
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			break
		}
	}
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("tts stream produced no audio")
	}
	return pcm, sampleRateForFormat(s.cfg.OutputFormat), nil
}

// sampleRateForFormat extracts the rate from formats like "pcm_16000".
func sampleRateForFormat(format string) int {
	idx := strings.LastIndex(format, "_")
	if idx >= 0 {
		if rate, err := strconv.Atoi(format[idx+1:]); err == nil && rate > 0 {
			return rate
		}
	}
	return 16000
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
