package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.EvalProvider != "auto" {
		t.Fatalf("EvalProvider = %q, want %q", cfg.EvalProvider, "auto")
	}
	if cfg.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.DefaultCardLimit != 20 {
		t.Fatalf("DefaultCardLimit = %d, want 20", cfg.DefaultCardLimit)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VAD_ENERGY_THRESHOLD", "0.02")
	t.Setenv("VAD_MAX_SILENT_FRAMES", "25")
	t.Setenv("EVAL_JUDGE_TIMEOUT", "30s")
	t.Setenv("GEMINI_API_KEY", "  key-with-spaces  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VADEnergyThreshold != 0.02 {
		t.Fatalf("VADEnergyThreshold = %v, want 0.02", cfg.VADEnergyThreshold)
	}
	if cfg.VADMaxSilentFrames != 25 {
		t.Fatalf("VADMaxSilentFrames = %d, want 25", cfg.VADMaxSilentFrames)
	}
	if cfg.JudgeTimeout != 30*time.Second {
		t.Fatalf("JudgeTimeout = %v, want 30s", cfg.JudgeTimeout)
	}
	if cfg.GeminiAPIKey != "key-with-spaces" {
		t.Fatalf("GeminiAPIKey = %q, want trimmed value", cfg.GeminiAPIKey)
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VAD_ENERGY_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for out-of-range threshold")
	}
}

func TestLoadRejectsShortInactivityTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for short inactivity timeout")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"EVAL_PROVIDER",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"DATABASE_URL",
		"AUDIO_SAMPLE_RATE",
		"VAD_ENERGY_THRESHOLD",
		"VAD_MAX_SILENT_FRAMES",
		"VAD_MAX_UTTERANCE",
		"REVIEW_DEFAULT_CARD_LIMIT",
		"EVAL_TRANSCRIBE_TIMEOUT",
		"EVAL_JUDGE_TIMEOUT",
		"EVAL_SYNTHESIZE_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
