package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/infra/logging"
)

var _ adapter.TranscriptionAdapter = (*Service)(nil)

// ErrEmptyTranscript is returned when the audio contained no speech.
var ErrEmptyTranscript = errors.New("empty transcript")

// Service downloads the voice note, transcribes it and, in summary mode,
// condenses the transcript.
type Service struct {
	media      adapter.MediaFetcher
	stt        adapter.SpeechToText
	summarizer adapter.Summarizer
	log        *zerolog.Logger
}

func NewService(media adapter.MediaFetcher, stt adapter.SpeechToText, summarizer adapter.Summarizer, logger *zerolog.Logger) *Service {
	l := logger.With().Str("component", "TranscriptionService").Logger()
	return &Service{media: media, stt: stt, summarizer: summarizer, log: &l}
}

func (s *Service) Transcribe(ctx context.Context, mediaRef string, pref model.Preference) (string, error) {
	defer logging.TraceDuration(s.log, "TranscriptionService.Transcribe")()

	m, err := s.media.FetchMedia(ctx, mediaRef)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	text, err := s.stt.SpeechToText(ctx, m.Data, "audio"+extension(m.MimeType), m.MimeType)
	if err != nil {
		return "", fmt.Errorf("speech to text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTranscript
	}
	if pref.Mode != model.ModeSummary {
		return text, nil
	}
	summary, err := s.summarizer.Summarize(ctx, text, pref.Detail)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	s.log.Debug().Int("transcript_len", len(text)).Int("summary_len", len(summary)).Msg("summary generated")
	return summary, nil
}

func extension(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	switch mime {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/aac":
		return ".aac"
	case "audio/amr":
		return ".amr"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	}
	return ".ogg"
}
