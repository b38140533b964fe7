package email

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/replybot/internal/parser"
	"github.com/mixelka/replybot/pkg/models"
)

const multipartMessage = "From: Amy Lee <amy@mail.example>\r\n" +
	"Reply-To: Amy <Amy.Lee@Personal.example>\r\n" +
	"To: support@shop.example\r\n" +
	"Subject: =?utf-8?q?Where_is_my_order=3F?=\r\n" +
	"Message-ID: <m2@mail.example>\r\n" +
	"In-Reply-To: <m1@shop.example>\r\n" +
	"References: <m0@mail.example> <m1@shop.example>\r\n" +
	"Auto-Submitted: no\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Order #10234 never arrived</p><blockquote>old thread</blockquote>\r\n" +
	"--XYZ--\r\n"

func TestReadMessage(t *testing.T) {
	p, err := ReadMessage(strings.NewReader(multipartMessage), parser.NewHTMLParser())
	require.NoError(t, err)

	assert.Equal(t, "<m2@mail.example>", p.MessageID)
	assert.Equal(t, "Where is my order?", p.Subject)
	assert.Equal(t, "amy.lee@personal.example", p.Sender, "reply-to wins over from")
	assert.Equal(t, "Amy Lee <amy@mail.example>", p.From)
	assert.Equal(t, []string{"m0@mail.example", "m1@shop.example"}, p.References)
	assert.Equal(t, "<m0@mail.example>", p.ThreadRoot())
	assert.Equal(t, "Order #10234 never arrived", p.BodyText)
	assert.Equal(t, "no", p.Headers["auto-submitted"])
	assert.Equal(t, "<m2@mail.example>", p.Headers["message-id"])
}

func TestReadMessagePlainWithoutThreading(t *testing.T) {
	raw := "From: bob@mail.example\r\n" +
		"Subject: hi\r\n" +
		"Message-ID: <solo@mail.example>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Need help\r\n\r\n> quoted line\r\n"

	p, err := ReadMessage(strings.NewReader(raw), parser.NewHTMLParser())
	require.NoError(t, err)
	assert.Equal(t, "bob@mail.example", p.Sender)
	assert.Equal(t, "<solo@mail.example>", p.ThreadRoot())
	assert.Equal(t, "Need help", p.BodyText)
}

func TestBuildReply(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	raw, id, err := BuildReply(models.OutgoingReply{
		To:         "Amy <amy@mail.example>",
		Subject:    "Where is my order?",
		InReplyTo:  "<m2@mail.example>",
		References: "<m0@mail.example>",
		Body:       "  It ships tomorrow.  ",
		FromName:   "Shop Support",
	}, "support@shop.example", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<") && strings.HasSuffix(id, "@shop.example>"), id)

	p, err := ReadMessage(bytes.NewReader(raw), nil)
	require.NoError(t, err)
	assert.Equal(t, id, p.MessageID)
	assert.Equal(t, "Re: Where is my order?", p.Subject)
	assert.Equal(t, "<m2@mail.example>", p.InReplyTo)
	assert.Equal(t, []string{"m0@mail.example", "m2@mail.example"}, p.References)
	assert.Equal(t, "support@shop.example", p.Sender)
	assert.Equal(t, "auto-replied", p.Headers["auto-submitted"])
	assert.Equal(t, "It ships tomorrow.", p.BodyText)
	assert.Equal(t, now, p.Date.UTC())
}

func TestBuildReplyRequiresAddresses(t *testing.T) {
	_, _, err := BuildReply(models.OutgoingReply{Body: "x"}, "support@shop.example", time.Now())
	assert.Error(t, err)

	_, _, err = BuildReply(models.OutgoingReply{To: "amy@mail.example"}, "", time.Now())
	assert.Error(t, err)
}

func TestReferencesDoNotRepeat(t *testing.T) {
	assert.Equal(t, "<a@x>", references("", "<a@x>"))
	assert.Equal(t, "<r@x> <a@x>", references("<r@x> <a@x>", "<a@x>"))
	assert.Equal(t, "<r@x> <a@x>", references("<r@x>", "<a@x>"))
}
