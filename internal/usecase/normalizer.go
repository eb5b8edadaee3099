package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
)

const whatsappObject = "whatsapp_business_account"

// Normalizer turns raw webhook payloads into model events. It holds no state
// besides the admin command prefix.
type Normalizer struct {
	adminPrefix string
}

func NewNormalizer(adminPrefix string) *Normalizer {
	return &Normalizer{adminPrefix: strings.ToLower(strings.TrimSpace(adminPrefix))}
}

type waEnvelope struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	Metadata struct {
		PhoneNumberID      string `json:"phone_number_id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []waMessage `json:"messages"`
	Statuses []waStatus  `json:"statuses"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

type waMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *waMedia `json:"audio"`
	Voice *waMedia `json:"voice"`
}

type waStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// NormalizeConversation validates a messaging webhook body. The result is a
// ConversationMessage or a StatusUpdate; every other shape is
// ErrMalformedPayload.
func (n *Normalizer) NormalizeConversation(body []byte) (model.Event, error) {
	var env waEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.Object != whatsappObject {
		return nil, fmt.Errorf("%w: unexpected object %q", domain.ErrMalformedPayload, env.Object)
	}

	var (
		msgs     []waMessage
		statuses []waStatus
		value    waValue
	)
	for _, e := range env.Entry {
		for _, c := range e.Changes {
			if len(c.Value.Messages) > 0 {
				value = c.Value
			}
			msgs = append(msgs, c.Value.Messages...)
			statuses = append(statuses, c.Value.Statuses...)
		}
	}

	switch {
	case len(msgs) == 1 && len(statuses) == 0:
		return n.conversation(msgs[0], value)
	case len(statuses) == 1 && len(msgs) == 0:
		return model.StatusUpdate{MessageID: statuses[0].ID, Status: statuses[0].Status}, nil
	}
	return nil, fmt.Errorf("%w: %d messages, %d statuses", domain.ErrMalformedPayload, len(msgs), len(statuses))
}

func (n *Normalizer) conversation(m waMessage, v waValue) (model.Event, error) {
	from := strings.TrimSpace(m.From)
	if from == "" {
		return nil, fmt.Errorf("%w: message without sender", domain.ErrMalformedPayload)
	}

	out := model.ConversationMessage{
		ID:       m.ID,
		From:     from,
		Channel:  model.ChannelContext{PhoneNumberID: v.Metadata.PhoneNumberID},
		Received: parseUnix(m.Timestamp),
	}
	for _, c := range v.Contacts {
		if c.WaID == from || len(v.Contacts) == 1 {
			out.Name = c.Profile.Name
			break
		}
	}

	switch {
	case m.Type == "text" && m.Text != nil:
		out.Kind = model.MessageText
		out.Text = m.Text.Body
		out.Command = n.ParseCommand(m.Text.Body)
	case m.Type == "audio" || m.Type == "voice":
		media := m.Audio
		if media == nil {
			media = m.Voice
		}
		out.Kind = model.MessageMedia
		if media != nil {
			out.MediaRef = media.ID
		}
		out.Command = model.MediaCommand{MediaRef: out.MediaRef}
	default:
		out.Kind = model.MessageOther
		out.Command = model.HelpCommand{}
	}
	return out, nil
}

// ParseCommand maps message text to a Command. The command token is
// case-insensitive and may carry a leading slash. Arity is checked at dispatch.
func (n *Normalizer) ParseCommand(text string) model.Command {
	trimmed := strings.TrimSpace(text)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return model.HelpCommand{Text: text}
	}

	if n.adminPrefix != "" && strings.ToLower(fields[0]) == n.adminPrefix {
		cmd := model.AdminCommand{}
		rest := fields[1:]
		if len(rest) > 0 {
			cmd.Secret, rest = rest[0], rest[1:]
		}
		if len(rest) > 0 {
			cmd.Action, rest = strings.ToLower(rest[0]), rest[1:]
		}
		cmd.Args = rest
		return cmd
	}

	token := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]
	switch token {
	case "status":
		return model.StatusCommand{}
	case "mode":
		return model.PreferenceCommand{Key: model.PreferenceMode, Args: args}
	case "detail":
		return model.PreferenceCommand{Key: model.PreferenceDetail, Args: args}
	case "subscribe":
		return model.SubscribeCommand{}
	case "unsubscribe":
		return model.UnsubscribeCommand{}
	case "referral":
		return model.ReferralCommand{}
	case "hello":
		return model.HelloCommand{Args: args}
	}
	return model.HelpCommand{Text: text}
}

type billingEnvelope struct {
	ID         string `json:"id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Resource   struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		BillingInfo *struct {
			NextBillingTime string `json:"next_billing_time"`
		} `json:"billing_info"`
	} `json:"resource"`
}

// NormalizeBilling parses a billing webhook body. Unhandled event types come
// back as LifecycleUnknown, not as an error.
func NormalizeBilling(body []byte) (model.BillingLifecycle, error) {
	var env billingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.BillingLifecycle{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.EventType == "" || env.Resource.ID == "" {
		return model.BillingLifecycle{}, fmt.Errorf("%w: missing event_type or resource.id", domain.ErrMalformedPayload)
	}

	ev := model.BillingLifecycle{
		EventID:                env.ID,
		SubscriptionExternalID: env.Resource.ID,
		EventType:              env.EventType,
		Event:                  model.ParseLifecycleEvent(env.EventType),
	}
	if t, err := time.Parse(time.RFC3339, env.CreateTime); err == nil {
		ev.OccurredAt = t
	}
	if env.Resource.BillingInfo != nil {
		if t, err := time.Parse(time.RFC3339, env.Resource.BillingInfo.NextBillingTime); err == nil {
			ev.NextBillingAt = &t
		}
	}
	return ev, nil
}

// NormalizeRedirect builds a redirect confirmation from already verified
// query values. A success needs the external subscription id.
func NormalizeRedirect(outcome model.RedirectOutcome, phone, externalID string) (model.RedirectConfirmation, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return model.RedirectConfirmation{}, fmt.Errorf("%w: missing user", domain.ErrMalformedPayload)
	}
	switch outcome {
	case model.RedirectSuccess:
		if strings.TrimSpace(externalID) == "" {
			return model.RedirectConfirmation{}, fmt.Errorf("%w: missing subscription id", domain.ErrMalformedPayload)
		}
	case model.RedirectCancelled:
		externalID = ""
	default:
		return model.RedirectConfirmation{}, fmt.Errorf("%w: unknown redirect outcome", domain.ErrMalformedPayload)
	}
	return model.RedirectConfirmation{Phone: phone, SubscriptionExternalID: strings.TrimSpace(externalID), Outcome: outcome}, nil
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
