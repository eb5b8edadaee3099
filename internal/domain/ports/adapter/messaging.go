package adapter

import (
	"context"

	"whatsapp-voice-subscription/internal/domain/model"
)

// MessagingAdapter is the WhatsApp Cloud API port.
type MessagingAdapter interface {
	// VerifyChallenge answers the webhook subscription handshake. It returns
	// the challenge to echo or domain.ErrInvalidVerification.
	VerifyChallenge(mode, token, challenge string) (string, error)
	Send(ctx context.Context, to, text string, channel model.ChannelContext) error
}

// Media is a downloaded attachment.
type Media struct {
	Data     []byte
	MimeType string
}

// MediaFetcher resolves a media reference to its bytes.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaRef string) (*Media, error)
}
