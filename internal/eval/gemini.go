package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/vocim/vocim/internal/audio"
	"github.com/vocim/vocim/internal/srs"
)

var (
	ErrInvalidConfig   = errors.New("invalid gemini configuration")
	ErrInvalidResponse = errors.New("invalid gemini response")
)

// GeminiProvider backs the transcription, judgment and composition
// capabilities with the Gemini API. One provider serves all sessions.
type GeminiProvider struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, logger *slog.Logger, apiKey, model string) (*GeminiProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key cannot be empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrInvalidConfig, err)
	}

	return &GeminiProvider{logger: logger, client: client, model: model}, nil
}

const transcribePrompt = `Transcribe the spoken answer in this audio clip.
Reply with the transcription only, no commentary. If the clip contains no
intelligible speech, reply with an empty string.`

func (p *GeminiProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, float64, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", 0, fmt.Errorf("encode wav: %w", err)
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav}},
		},
	}}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		p.logger.ErrorContext(ctx, "gemini transcription call failed", "error", err)
		return "", 0, err
	}
	text, err := responseText(resp)
	if err != nil {
		return "", 0, err
	}
	// The model does not report confidence; anything non-empty is trusted.
	return strings.TrimSpace(text), 1.0, nil
}

// judgeVerdict is the JSON contract the judge prompts request.
type judgeVerdict struct {
	IsCorrect       bool   `json:"is_correct"`
	Feedback        string `json:"feedback"`
	SuggestedRating string `json:"suggested_rating"`
}

func (p *GeminiProvider) Judge(ctx context.Context, req JudgeRequest) (Result, error) {
	prompt := req.Mode.judgePrompt(req.Question, req.ExpectedAnswer, req.UserAnswer)

	text, err := p.generate(ctx, prompt)
	if err != nil {
		return Result{}, err
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &verdict); err != nil {
		p.logger.WarnContext(ctx, "unparseable judge output", "error", err, "model", p.model)
		return Result{}, fmt.Errorf("%w: parse verdict: %v", ErrInvalidResponse, err)
	}

	return Result{
		Rating:    srs.ParseRating(verdict.SuggestedRating),
		IsCorrect: verdict.IsCorrect,
		Feedback:  verdict.Feedback,
	}, nil
}

func (p *GeminiProvider) Compose(ctx context.Context, prompt string) (string, error) {
	text, err := p.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (p *GeminiProvider) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		p.logger.ErrorContext(ctx, "gemini call failed", "error", err, "model", p.model)
		return "", err
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: blocked by safety filters", ErrInvalidResponse)
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// stripCodeFences unwraps the ```json fences models often add around
// structured output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
