package types

import "strings"

// Channel identifies the originating payment/notification system of an
// operation. It selects which retry flow applies to a queued job.
type Channel string

const (
	ChannelStripe Channel = "stripe"
	ChannelPaypal Channel = "paypal"
	ChannelEmail  Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelStripe, ChannelPaypal, ChannelEmail:
		return true
	}
	return false
}

// InferChannelFromSource maps a free-text log source to a Channel.
// New retry jobs carry an explicit channel; this heuristic only backs
// trace-driven manual retries, where the channel must be recovered from
// the latest stored log row.
func InferChannelFromSource(source string) (Channel, bool) {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "stripe"):
		return ChannelStripe, true
	case strings.Contains(s, "paypal"):
		return ChannelPaypal, true
	case strings.Contains(s, "sendgrid"), strings.Contains(s, "email"), strings.Contains(s, "mailer"):
		return ChannelEmail, true
	}
	return "", false
}
