package usecase

import (
	"context"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// notifier sends user-facing messages through the messaging collaborator
// with a bounded timeout.
type notifier struct {
	msg     adapter.MessagingAdapter
	exec    Executor
	timeout time.Duration
	log     *zerolog.Logger
}

func newNotifier(msg adapter.MessagingAdapter, exec Executor, timeout time.Duration, logger *zerolog.Logger) *notifier {
	if exec == nil {
		exec = InlineExecutor{}
	}
	return &notifier{msg: msg, exec: exec, timeout: timeout, log: logger}
}

func (n *notifier) send(ctx context.Context, phone, text string, ch model.ChannelContext) error {
	err := callCollaborator(ctx, n.timeout, "messaging", "send", func(ctx context.Context) error {
		return n.msg.Send(ctx, phone, text, ch)
	})
	if err != nil {
		n.log.Warn().Err(err).Msg("failed to deliver message")
	}
	return err
}

// sendAsync hands the message to the executor and returns immediately.
func (n *notifier) sendAsync(phone, text string) {
	task := func(ctx context.Context) error {
		return n.send(ctx, phone, text, model.ChannelContext{})
	}
	if err := n.exec.Submit(task); err != nil {
		n.log.Warn().Err(err).Msg("notification dropped")
	}
}
