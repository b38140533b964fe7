package email

import (
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/replybot/internal/parser"
)

// keptHeaders are copied into InboundMessage.Headers
var keptHeaders = []string{
	"Message-Id",
	"In-Reply-To",
	"References",
	"Reply-To",
	"Auto-Submitted",
	"Precedence",
	"X-Auto-Response-Suppress",
	"List-Unsubscribe",
}

// Parsed is a raw RFC 5322 message reduced to what the poller needs
type Parsed struct {
	MessageID  string // with angle brackets
	InReplyTo  string
	References []string // without angle brackets
	From       string   // raw From header
	Sender     string   // bare reply address
	Subject    string
	Date       time.Time
	BodyText   string
	Headers    map[string]string
}

// ThreadRoot returns the Message-ID that identifies the conversation:
// the first reference, the message being answered, or the message itself
func (p *Parsed) ThreadRoot() string {
	if len(p.References) > 0 {
		return "<" + p.References[0] + ">"
	}
	if p.InReplyTo != "" {
		return p.InReplyTo
	}
	return p.MessageID
}

// ReadMessage parses a raw message. Bodies are decoded and reduced to
// plain text; attachments are skipped.
func ReadMessage(r io.Reader, html *parser.HTMLParser) (*Parsed, error) {
	mr, err := mail.CreateReader(r)
	if mr == nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	p := &Parsed{
		MessageID: strings.TrimSpace(h.Get("Message-Id")),
		InReplyTo: strings.TrimSpace(h.Get("In-Reply-To")),
		From:      h.Get("From"),
		Headers:   make(map[string]string),
	}
	p.Subject, _ = h.Subject()
	p.Date, _ = h.Date()
	p.References, _ = h.MsgIDList("References")
	p.Sender = replyAddress(&h)

	for _, name := range keptHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			p.Headers[strings.ToLower(name)] = v
		}
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if part == nil {
			// unreadable structure, keep what we have
			break
		}

		if ih, ok := part.Header.(*mail.InlineHeader); ok {
			ct, _, _ := ih.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/plain") && plain == "":
				plain = string(body)
			case strings.HasPrefix(ct, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}
		}
	}

	if html != nil {
		p.BodyText = html.BodyText(plain, htmlBody)
	} else {
		p.BodyText = strings.TrimSpace(plain)
	}
	return p, nil
}

// replyAddress returns the Reply-To address, falling back to From
func replyAddress(h *mail.Header) string {
	for _, key := range []string{"Reply-To", "From"} {
		addrs, err := h.AddressList(key)
		if err != nil || len(addrs) == 0 {
			continue
		}
		if a := strings.TrimSpace(addrs[0].Address); a != "" {
			return strings.ToLower(a)
		}
	}
	return ""
}
