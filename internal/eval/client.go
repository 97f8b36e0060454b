package eval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vocim/vocim/internal/observability"
	"github.com/vocim/vocim/internal/reliability"
)

// Timeouts bounds each capability call. Zero fields get defaults.
type Timeouts struct {
	Transcribe  time.Duration
	Judge       time.Duration
	Synthesize  time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Transcribe <= 0 {
		t.Transcribe = 10 * time.Second
	}
	if t.Judge <= 0 {
		t.Judge = 20 * time.Second
	}
	if t.Synthesize <= 0 {
		t.Synthesize = 15 * time.Second
	}
	if t.BackoffBase <= 0 {
		t.BackoffBase = 250 * time.Millisecond
	}
	if t.BackoffCap <= 0 {
		t.BackoffCap = 2 * time.Second
	}
	return t
}

// Each capability call is attempted at most twice: the original call plus
// one retry after backoff.
const attemptsPerCall = 2

// Client fronts the three capabilities with timeouts, one retry per call,
// and stage-tagged errors. A nil metrics handle disables instrumentation.
type Client struct {
	stt      Transcriber
	judge    Judge
	composer Composer
	tts      Synthesizer
	timeouts Timeouts
	metrics  *observability.Metrics
}

func NewClient(stt Transcriber, judge Judge, composer Composer, tts Synthesizer, timeouts Timeouts, metrics *observability.Metrics) *Client {
	return &Client{
		stt:      stt,
		judge:    judge,
		composer: composer,
		tts:      tts,
		timeouts: timeouts.withDefaults(),
		metrics:  metrics,
	}
}

// Transcribe converts one utterance to text. The returned text is trimmed;
// an empty result with nil error means the utterance carried no speech the
// model could hear.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, float64, error) {
	var text string
	var confidence float64
	err := c.call(ctx, StageTranscribe, c.timeouts.Transcribe, func(ctx context.Context) error {
		var err error
		text, confidence, err = c.stt.Transcribe(ctx, pcm, sampleRate)
		return err
	})
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(text), confidence, nil
}

// Judge grades a transcribed answer against the card.
func (c *Client) Judge(ctx context.Context, req JudgeRequest) (Result, error) {
	var result Result
	err := c.call(ctx, StageJudge, c.timeouts.Judge, func(ctx context.Context) error {
		var err error
		result, err = c.judge.Judge(ctx, req)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	result.ExpectedAnswer = req.ExpectedAnswer
	result.UserAnswer = req.UserAnswer
	result.Feedback = SanitizeSpeechText(result.Feedback)
	return result, nil
}

// Compose generates free-form spoken text. Errors carry the judge stage
// since the same model backs both.
func (c *Client) Compose(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.call(ctx, StageJudge, c.timeouts.Judge, func(ctx context.Context) error {
		var err error
		text, err = c.composer.Compose(ctx, prompt)
		return err
	})
	if err != nil {
		return "", err
	}
	return SanitizeSpeechText(text), nil
}

// Synthesize renders text to audio. Callers treat a failure as "no audio",
// never as fatal.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	var pcm []byte
	var sampleRate int
	err := c.call(ctx, StageSynthesize, c.timeouts.Synthesize, func(ctx context.Context) error {
		var err error
		pcm, sampleRate, err = c.tts.Synthesize(ctx, text)
		return err
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveIndicator("synthesis_fallback")
		}
		return nil, 0, err
	}
	return pcm, sampleRate, nil
}

func (c *Client) call(ctx context.Context, stage Stage, timeout time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := reliability.Do(ctx, attemptsPerCall, c.timeouts.BackoffBase, c.timeouts.BackoffCap, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(attemptCtx)
	})
	if c.metrics != nil {
		c.metrics.ObserveEvalStage(string(stage), time.Since(start))
		if err != nil {
			c.metrics.CapabilityErrors.WithLabelValues(string(stage), errKind(err)).Inc()
		}
	}
	if err != nil {
		return &CapabilityError{Stage: stage, Err: err}
	}
	return nil
}

func errKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "provider"
	}
}
