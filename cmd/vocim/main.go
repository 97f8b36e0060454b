package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vocim/vocim/internal/cards"
	"github.com/vocim/vocim/internal/config"
	"github.com/vocim/vocim/internal/eval"
	"github.com/vocim/vocim/internal/httpapi"
	"github.com/vocim/vocim/internal/observability"
	"github.com/vocim/vocim/internal/review"
	"github.com/vocim/vocim/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := cards.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("card store init failed: %v", err)
	}
	defer store.Close()

	var (
		stt      eval.Transcriber
		judge    eval.Judge
		composer eval.Composer
		tts      eval.Synthesizer
	)

	mock := eval.NewMockProvider()
	stt, judge, composer, tts = mock, mock, mock, mock

	evalMode := strings.ToLower(strings.TrimSpace(cfg.EvalProvider))
	if evalMode == "" {
		evalMode = "auto"
	}

	tryGemini := func() bool {
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return false
		}
		p, err := eval.NewGeminiProvider(ctx, slog.Default(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Printf("gemini provider unavailable: %v", err)
			return false
		}
		stt, judge, composer = p, p, p
		log.Printf("eval provider: gemini (%s)", cfg.GeminiModel)
		return true
	}

	switch evalMode {
	case "gemini":
		if !tryGemini() {
			log.Fatalf("EVAL_PROVIDER=gemini but GEMINI_API_KEY is not usable")
		}
	case "mock":
		log.Printf("eval provider: mock")
	case "auto":
		if !tryGemini() {
			log.Printf("eval provider: mock (no gemini key)")
		}
	default:
		log.Fatalf("invalid EVAL_PROVIDER: %q (expected auto|gemini|mock)", cfg.EvalProvider)
	}

	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		tts = eval.NewElevenLabsSynthesizer(eval.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			VoiceID:      cfg.ElevenLabsTTSVoice,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		log.Printf("tts provider: elevenlabs streaming")
	} else {
		log.Printf("tts provider: mock (no elevenlabs key)")
	}

	client := eval.NewClient(stt, judge, composer, tts, eval.Timeouts{
		Transcribe:  cfg.TranscribeTimeout,
		Judge:       cfg.JudgeTimeout,
		Synthesize:  cfg.SynthesizeTimeout,
		BackoffBase: cfg.RetryBackoffBase,
		BackoffCap:  cfg.RetryBackoffCap,
	}, metrics)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	engine := review.NewEngine(store, client, sessions, metrics, review.Config{
		SampleRate:       cfg.SampleRate,
		EnergyThreshold:  cfg.VADEnergyThreshold,
		MaxSilentFrames:  cfg.VADMaxSilentFrames,
		MaxUtterance:     cfg.MaxUtterance,
		DefaultCardLimit: cfg.DefaultCardLimit,
	})

	api := httpapi.New(cfg, sessions, engine, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
