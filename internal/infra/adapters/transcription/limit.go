package transcription

import (
	"context"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
)

// limiter bounds concurrent provider calls. Waiting respects ctx.
type limiter struct {
	sem chan struct{}
}

func newLimiter(n int) *limiter {
	if n <= 0 {
		return nil
	}
	return &limiter{sem: make(chan struct{}, n)}
}

func (l *limiter) acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type limitedSTT struct {
	inner adapter.SpeechToText
	l     *limiter
}

// NewLimitedSTT wraps inner so at most n calls run at once.
func NewLimitedSTT(inner adapter.SpeechToText, n int) adapter.SpeechToText {
	if n <= 0 {
		return inner
	}
	return &limitedSTT{inner: inner, l: newLimiter(n)}
}

func (s *limitedSTT) SpeechToText(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	release, err := s.l.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return s.inner.SpeechToText(ctx, audio, filename, mimeType)
}

type limitedSummarizer struct {
	inner adapter.Summarizer
	l     *limiter
}

func NewLimitedSummarizer(inner adapter.Summarizer, n int) adapter.Summarizer {
	if n <= 0 {
		return inner
	}
	return &limitedSummarizer{inner: inner, l: newLimiter(n)}
}

func (s *limitedSummarizer) Summarize(ctx context.Context, transcript string, detail model.DetailLevel) (string, error) {
	release, err := s.l.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return s.inner.Summarize(ctx, transcript, detail)
}
