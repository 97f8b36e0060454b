package eval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vocim/vocim/internal/audio"
	"github.com/vocim/vocim/internal/srs"
)

// MockProvider is a local fallback provider used when no API keys are
// configured. Transcription echoes queued transcripts (or a placeholder),
// judgment is plain string comparison, and synthesis returns a short burst
// of silence so the audio path stays exercised.
type MockProvider struct {
	mu          sync.Mutex
	transcripts []string
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// QueueTranscript sets the text returned by the next Transcribe call.
// Used by tests and the dev loop.
func (p *MockProvider) QueueTranscript(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcripts = append(p.transcripts, text)
}

func (p *MockProvider) Transcribe(_ context.Context, pcm []byte, _ int) (string, float64, error) {
	if audio.RMS(audio.DecodePCM16LE(pcm)) == 0 {
		return "", 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.transcripts) > 0 {
		text := p.transcripts[0]
		p.transcripts = p.transcripts[1:]
		return text, 0.9, nil
	}
	return "simulated spoken answer", 0.5, nil
}

func (p *MockProvider) Judge(_ context.Context, req JudgeRequest) (Result, error) {
	expected := normalizeAnswer(req.ExpectedAnswer)
	got := normalizeAnswer(req.UserAnswer)

	var rating srs.Rating
	var feedback string
	switch {
	case got == "":
		rating = srs.Again
		feedback = "I didn't catch an answer there."
	case got == expected:
		rating = srs.Easy
		feedback = "Exactly right."
	case strings.Contains(got, expected) || strings.Contains(expected, got):
		rating = srs.Good
		feedback = "That's correct."
	default:
		rating = srs.Again
		feedback = fmt.Sprintf("Not quite. The answer is %s.", req.ExpectedAnswer)
	}
	if req.Mode.AnnouncesRating {
		feedback = fmt.Sprintf("Rated %s. %s", rating, feedback)
	}
	return Result{
		Rating:    rating,
		IsCorrect: rating.IsSuccess(),
		Feedback:  feedback,
	}, nil
}

func (p *MockProvider) Compose(_ context.Context, prompt string) (string, error) {
	// Return the last line of the prompt so callers get deterministic,
	// recognisable text.
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string) ([]byte, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, fmt.Errorf("empty text")
	}
	// 100 ms of silence per ten characters, capped at two seconds.
	const sampleRate = 16000
	frames := (len(text)/10 + 1) * sampleRate / 10
	if frames > 2*sampleRate {
		frames = 2 * sampleRate
	}
	return make([]byte, 2*frames), sampleRate, nil
}

func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
