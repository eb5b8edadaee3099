package adapter

import (
	"context"

	"whatsapp-voice-subscription/internal/domain/model"
)

// TranscriptionAdapter turns a voice message into the text sent back to the user.
type TranscriptionAdapter interface {
	Transcribe(ctx context.Context, mediaRef string, pref model.Preference) (string, error)
}

// SpeechToText converts raw audio into a transcript.
type SpeechToText interface {
	SpeechToText(ctx context.Context, audio []byte, filename, mimeType string) (string, error)
}

// Summarizer condenses a transcript at the requested detail level.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, detail model.DetailLevel) (string, error)
}
