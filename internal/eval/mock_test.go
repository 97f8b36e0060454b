package eval

import (
	"context"
	"strings"
	"testing"

	"github.com/vocim/vocim/internal/srs"
)

func loudPCM() []byte {
	pcm := make([]byte, 640)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x20
	}
	return pcm
}

func TestMockTranscribeSilenceIsEmpty(t *testing.T) {
	p := NewMockProvider()
	text, _, err := p.Transcribe(context.Background(), make([]byte, 640), 16000)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "" {
		t.Fatalf("silent audio transcribed to %q, want empty", text)
	}
}

func TestMockTranscribeUsesQueue(t *testing.T) {
	p := NewMockProvider()
	p.QueueTranscript("Paris")

	text, conf, err := p.Transcribe(context.Background(), loudPCM(), 16000)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "Paris" || conf != 0.9 {
		t.Fatalf("got %q/%v, want queued transcript", text, conf)
	}
}

func TestMockJudge(t *testing.T) {
	p := NewMockProvider()
	cases := []struct {
		answer     string
		wantRating srs.Rating
		wantOK     bool
	}{
		{"Paris", srs.Easy, true},
		{"uh, Paris I think", srs.Good, true},
		{"London", srs.Again, false},
		{"", srs.Again, false},
	}
	for _, tc := range cases {
		res, err := p.Judge(context.Background(), JudgeRequest{
			Question:       "Capital of France?",
			ExpectedAnswer: "Paris",
			UserAnswer:     tc.answer,
			Mode:           ConversationalStrategy,
		})
		if err != nil {
			t.Fatalf("Judge(%q) error = %v", tc.answer, err)
		}
		if res.Rating != tc.wantRating || res.IsCorrect != tc.wantOK {
			t.Fatalf("Judge(%q) = %v/%v, want %v/%v", tc.answer, res.Rating, res.IsCorrect, tc.wantRating, tc.wantOK)
		}
	}
}

func TestMockJudgeOralAnnouncesRating(t *testing.T) {
	p := NewMockProvider()
	res, err := p.Judge(context.Background(), JudgeRequest{
		Question:       "Q",
		ExpectedAnswer: "A",
		UserAnswer:     "A",
		Mode:           OralStrategy,
	})
	if err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if !strings.HasPrefix(res.Feedback, "Rated ") {
		t.Fatalf("oral feedback should announce the rating: %q", res.Feedback)
	}
}

func TestMockSynthesizeProducesAudio(t *testing.T) {
	p := NewMockProvider()
	pcm, rate, err := p.Synthesize(context.Background(), "Well done.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(pcm) == 0 || rate != 16000 {
		t.Fatalf("unexpected audio: %d bytes at %d Hz", len(pcm), rate)
	}

	if _, _, err := p.Synthesize(context.Background(), "  "); err == nil {
		t.Fatalf("empty text should fail")
	}
}
