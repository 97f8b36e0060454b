package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice review service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// Capability provider selection: "auto", "gemini" or "mock".
	EvalProvider string

	GeminiAPIKey string
	GeminiModel  string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	DatabaseURL string

	// Per-session defaults; an individual session may override the turn
	// detection settings at start.
	SampleRate         int
	VADEnergyThreshold float64
	VADMaxSilentFrames int
	MaxUtterance       time.Duration
	DefaultCardLimit   int

	TranscribeTimeout time.Duration
	JudgeTimeout      time.Duration
	SynthesizeTimeout time.Duration
	RetryBackoffBase  time.Duration
	RetryBackoffCap   time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "vocim"),
		AllowAnyOrigin:      false,
		EvalProvider:        envOrDefault("EVAL_PROVIDER", "auto"),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:         envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSVoice:  envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:  envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		// Low-latency raw PCM; the protocol layer carries it as-is.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		SampleRate:                16000,
		VADEnergyThreshold:        0.015,
		VADMaxSilentFrames:        40,
		MaxUtterance:              30 * time.Second,
		DefaultCardLimit:          20,
		TranscribeTimeout:         10 * time.Second,
		JudgeTimeout:              20 * time.Second,
		SynthesizeTimeout:         15 * time.Second,
		RetryBackoffBase:          250 * time.Millisecond,
		RetryBackoffCap:           2 * time.Second,
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VADEnergyThreshold, err = floatFromEnv("VAD_ENERGY_THRESHOLD", cfg.VADEnergyThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADMaxSilentFrames, err = intFromEnv("VAD_MAX_SILENT_FRAMES", cfg.VADMaxSilentFrames)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUtterance, err = durationFromEnv("VAD_MAX_UTTERANCE", cfg.MaxUtterance)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultCardLimit, err = intFromEnv("REVIEW_DEFAULT_CARD_LIMIT", cfg.DefaultCardLimit)
	if err != nil {
		return Config{}, err
	}

	cfg.TranscribeTimeout, err = durationFromEnv("EVAL_TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JudgeTimeout, err = durationFromEnv("EVAL_JUDGE_TIMEOUT", cfg.JudgeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesizeTimeout, err = durationFromEnv("EVAL_SYNTHESIZE_TIMEOUT", cfg.SynthesizeTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.VADEnergyThreshold <= 0 || cfg.VADEnergyThreshold >= 1 {
		return Config{}, fmt.Errorf("VAD_ENERGY_THRESHOLD must be in (0, 1)")
	}
	if cfg.VADMaxSilentFrames <= 0 {
		return Config{}, fmt.Errorf("VAD_MAX_SILENT_FRAMES must be positive")
	}
	if cfg.DefaultCardLimit <= 0 {
		return Config{}, fmt.Errorf("REVIEW_DEFAULT_CARD_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
