package model

import "time"

// Event is one normalized inbound occurrence. The set of variants is closed.
type Event interface {
	eventKind() string
}

// MessageKind is the WhatsApp message type after normalization.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageMedia MessageKind = "media" // audio and voice notes
	MessageOther MessageKind = "other"
)

// ChannelContext identifies the business number the message arrived on.
type ChannelContext struct {
	PhoneNumberID string
}

type ConversationMessage struct {
	ID       string
	From     string
	Name     string
	Kind     MessageKind
	Text     string
	MediaRef string
	Channel  ChannelContext
	Command  Command
	Received time.Time
}

// StatusUpdate is a delivery/read receipt. It is acknowledged and dropped.
type StatusUpdate struct {
	MessageID string
	Status    string
}

type BillingLifecycle struct {
	EventID                string
	SubscriptionExternalID string
	EventType              string
	Event                  LifecycleEvent
	OccurredAt             time.Time
	NextBillingAt          *time.Time
}

type RedirectOutcome string

const (
	RedirectSuccess   RedirectOutcome = "success"
	RedirectCancelled RedirectOutcome = "cancel"
)

type RedirectConfirmation struct {
	Phone                  string
	SubscriptionExternalID string
	Outcome                RedirectOutcome
}

func (ConversationMessage) eventKind() string  { return "conversation_message" }
func (StatusUpdate) eventKind() string         { return "status_update" }
func (BillingLifecycle) eventKind() string     { return "billing_lifecycle" }
func (RedirectConfirmation) eventKind() string { return "redirect_confirmation" }

// EventKind returns a stable label for logs and metrics.
func EventKind(e Event) string {
	if e == nil {
		return "none"
	}
	return e.eventKind()
}
