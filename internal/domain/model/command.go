package model

// Command is the action a conversational message asks for. It is decided once
// during normalization; dispatch switches on the concrete type.
type Command interface {
	Name() string
}

// PreferenceKey names which preference a PreferenceCommand changes.
type PreferenceKey string

const (
	PreferenceMode   PreferenceKey = "mode"
	PreferenceDetail PreferenceKey = "detail"
)

type StatusCommand struct{}

// PreferenceCommand carries raw arguments; arity and value are validated at dispatch.
type PreferenceCommand struct {
	Key  PreferenceKey
	Args []string
}

type SubscribeCommand struct{}

type UnsubscribeCommand struct{}

type ReferralCommand struct{}

type HelloCommand struct {
	Args []string
}

type MediaCommand struct {
	MediaRef string
}

// AdminCommand is a privileged request. Secret is checked by the admin use case.
type AdminCommand struct {
	Secret string
	Action string
	Args   []string
}

// HelpCommand covers plain text, unknown commands and unsupported media.
type HelpCommand struct {
	Text string
}

func (StatusCommand) Name() string      { return "status" }
func (c PreferenceCommand) Name() string { return string(c.Key) }
func (SubscribeCommand) Name() string   { return "subscribe" }
func (UnsubscribeCommand) Name() string { return "unsubscribe" }
func (ReferralCommand) Name() string    { return "referral" }
func (HelloCommand) Name() string       { return "hello" }
func (MediaCommand) Name() string       { return "media" }
func (AdminCommand) Name() string       { return "admin" }
func (HelpCommand) Name() string        { return "help" }
