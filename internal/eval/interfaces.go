// Package eval orchestrates the three capabilities a review turn needs:
// speech-to-text, an answer judgment model, and text-to-speech. Callers see
// one client with per-stage timeouts and a single retry; every failure is a
// CapabilityError naming the stage that produced it.
package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocim/vocim/internal/srs"
)

// Stage identifies which capability produced an error.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageJudge      Stage = "judge"
	StageSynthesize Stage = "synthesize"
)

// CapabilityError wraps a capability failure with its stage. Timeouts are
// reported the same way as provider errors.
type CapabilityError struct {
	Stage Stage
	Err   error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// StageOf returns the capability stage of err, or "" when err is not a
// CapabilityError.
func StageOf(err error) Stage {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.Stage
	}
	return ""
}

// Result is the judged outcome of one spoken answer.
type Result struct {
	Rating         srs.Rating
	IsCorrect      bool
	Feedback       string
	ExpectedAnswer string
	UserAnswer     string
}

// JudgeRequest carries one answer to the judgment model.
type JudgeRequest struct {
	Question       string
	ExpectedAnswer string
	UserAnswer     string
	Mode           ModeStrategy
}

// Transcriber converts one utterance of PCM16LE audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (text string, confidence float64, err error)
}

// Judge grades a transcribed answer against the card.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (Result, error)
}

// Composer generates free-form spoken text (conversational question
// wrapping, session intro and outro).
type Composer interface {
	Compose(ctx context.Context, prompt string) (string, error)
}

// Synthesizer renders text to PCM16LE audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (pcm []byte, sampleRate int, err error)
}
