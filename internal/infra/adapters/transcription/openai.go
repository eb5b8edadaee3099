package transcription

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/infra/metrics"
)

var (
	_ adapter.SpeechToText = (*OpenAI)(nil)
	_ adapter.Summarizer   = (*OpenAI)(nil)
)

// OpenAI wraps the official SDK for Whisper transcription and chat summaries.
type OpenAI struct {
	client       openai.Client
	sttModel     string
	summaryModel string
	maxOutTokens int
	inputTrimmer *Trimmer
}

func NewOpenAI(apiKey, baseURL, sttModel, summaryModel string, maxOut int, trimmer *Trimmer) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if sttModel == "" {
		sttModel = "whisper-1"
	}
	if summaryModel == "" {
		summaryModel = "gpt-4o-mini"
	}
	if maxOut <= 0 {
		maxOut = 400
	}
	return &OpenAI{
		client:       openai.NewClient(opts...),
		sttModel:     sttModel,
		summaryModel: summaryModel,
		maxOutTokens: maxOut,
		inputTrimmer: trimmer,
	}, nil
}

func (o *OpenAI) SpeechToText(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	res, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, mimeType),
		Model: openai.AudioModel(o.sttModel),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

func (o *OpenAI) Summarize(ctx context.Context, transcript string, detail model.DetailLevel) (string, error) {
	if o.inputTrimmer != nil {
		transcript = o.inputTrimmer.Trim(transcript)
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.summaryModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(transcript, detail)),
		},
		MaxCompletionTokens: openai.Int(int64(outputBudget(o.maxOutTokens, detail))),
		Temperature:         openai.Float(0.3),
	})
	if err != nil {
		return "", err
	}
	metrics.AddSummaryTokens("openai", int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return strings.TrimSpace(c.Message.Content), nil
		}
	}
	return "", errors.New("openai: no choice content")
}
