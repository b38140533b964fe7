package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/mixelka/replybot/pkg/models"
)

// BuildReply renders a plain-text reply and returns it with its Message-ID
func BuildReply(reply models.OutgoingReply, from string, now time.Time) ([]byte, string, error) {
	if strings.TrimSpace(reply.To) == "" {
		return nil, "", fmt.Errorf("reply has no recipient")
	}
	if strings.TrimSpace(from) == "" {
		return nil, "", fmt.Errorf("reply has no sender")
	}

	to, err := mail.ParseAddress(reply.To)
	if err != nil {
		to = &mail.Address{Address: strings.TrimSpace(reply.To)}
	}
	sender := &mail.Address{Name: reply.FromName, Address: from}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{sender})
	h.SetAddressList("Reply-To", []*mail.Address{sender})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(models.ReplySubject(reply.Subject))
	if id := strings.TrimSpace(reply.InReplyTo); id != "" {
		h.Set("In-Reply-To", id)
		h.Set("References", references(reply.References, id))
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	if err := h.GenerateMessageIDWithHostname(domainOf(from)); err != nil {
		return nil, "", fmt.Errorf("failed to generate message id: %w", err)
	}
	messageID := h.Get("Message-Id")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, strings.TrimSpace(reply.Body)+"\r\n"); err != nil {
		return nil, "", fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

func references(existing, inReplyTo string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return inReplyTo
	}
	if strings.HasSuffix(existing, inReplyTo) {
		return existing
	}
	return existing + " " + inReplyTo
}

func domainOf(addr string) string {
	if d := models.SenderDomain(addr); d != "" {
		return d
	}
	return "localhost"
}
