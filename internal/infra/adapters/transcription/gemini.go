package transcription

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/infra/metrics"
)

var _ adapter.Summarizer = (*Gemini)(nil)

// Gemini summarizes transcripts with the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	maxOut  int
	trimmer *Trimmer
}

func NewGemini(ctx context.Context, apiKey, baseURL, model string, maxOut int, trimmer *Trimmer) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if maxOut <= 0 {
		maxOut = 400
	}
	return &Gemini{client: c, model: model, maxOut: maxOut, trimmer: trimmer}, nil
}

func (g *Gemini) Summarize(ctx context.Context, transcript string, detail model.DetailLevel) (string, error) {
	if g.trimmer != nil {
		transcript = g.trimmer.Trim(transcript)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(userPrompt(transcript, detail)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			MaxOutputTokens:   int32(outputBudget(g.maxOut, detail)),
		},
	)
	if err != nil {
		return "", err
	}
	if resp != nil && resp.UsageMetadata != nil {
		metrics.AddSummaryTokens("gemini", int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}
