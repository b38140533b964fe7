package models

import "strings"

// InboundMessage is an immutable snapshot of one fetched message
type InboundMessage struct {
	ID       string            // Provider-stable message ID
	ThreadID string            // Provider thread ID
	Sender   string            // Bare reply-to address, empty if none could be parsed
	From     string            // Raw From header
	Subject  string            // Email subject
	BodyText string            // Plain text body
	Labels   []string          // Label IDs already attached by the provider
	Headers  map[string]string // Lower-cased auto-response headers (auto-submitted, precedence, ...)
}

// Key returns the idempotency key for the message: the RFC Message-ID
// header when the provider exposes one, the provider ID otherwise.
func (m *InboundMessage) Key() string {
	if id := strings.TrimSpace(m.Header("message-id")); id != "" {
		return id
	}
	return m.ID
}

// Header returns a header value by case-insensitive name
func (m *InboundMessage) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[strings.ToLower(name)]
}

// HasLabel reports whether the provider already attached the label
func (m *InboundMessage) HasLabel(labelID string) bool {
	for _, l := range m.Labels {
		if l == labelID {
			return true
		}
	}
	return false
}

// Thread is a conversation as seen by the mail provider
type Thread struct {
	ID       string
	Messages []ThreadMessage
}

// ThreadMessage is one message inside a thread
type ThreadMessage struct {
	ID     string
	From   string   // Raw From header
	Labels []string // Label IDs
}

// HasLabel reports whether any message in the thread carries the label
func (t *Thread) HasLabel(labelID string) bool {
	if t == nil || labelID == "" {
		return false
	}
	for _, msg := range t.Messages {
		for _, l := range msg.Labels {
			if l == labelID {
				return true
			}
		}
	}
	return false
}

// HasOutgoingFrom reports whether any message in the thread was sent from alias
func (t *Thread) HasOutgoingFrom(alias string) bool {
	if t == nil || alias == "" {
		return false
	}
	alias = strings.ToLower(alias)
	for _, msg := range t.Messages {
		if strings.Contains(strings.ToLower(msg.From), alias) {
			return true
		}
	}
	return false
}

// SenderDomain extracts the lower-cased domain from an email address
func SenderDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// OutgoingReply is a reply to be sent into an existing thread
type OutgoingReply struct {
	To         string // Recipient address
	Subject    string // Subject of the message being answered
	InReplyTo  string // RFC Message-ID of the message being answered
	References string // References header of the message being answered
	Body       string // Plain text body
	FromAlias  string // Sender address, provider default when empty
	FromName   string // Sender display name
}

// ReplySubject returns subject prefixed with "Re: " unless it already is
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return "Re: (no subject)"
	}
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}
