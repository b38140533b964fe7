package email

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/pkg/models"
)

// The memory backend ships one seen message with UID 6
const seedUID = "6"

func startIMAP(t *testing.T) string {
	t.Helper()

	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	return l.Addr().String()
}

func appendMessage(t *testing.T, addr, raw string) {
	t.Helper()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login("username", "password"))
	require.NoError(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(raw)))
}

func newTestClient(t *testing.T, addr string, sender *Sender) *Client {
	t.Helper()

	c, err := NewClient(ClientConfig{
		Username: "username",
		Password: "password",
		Server:   addr,
	}, sender, nil)
	require.NoError(t, err)
	c.dial = func() (*client.Client, error) { return client.Dial(addr) }
	t.Cleanup(func() { _ = c.Close() })
	return c
}

const (
	firstMessage = "From: Amy <amy@mail.example>\r\n" +
		"Subject: Where is my order?\r\n" +
		"Message-ID: <m1@mail.example>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Order #10234 please\r\n"
	followUp = "From: Amy <amy@mail.example>\r\n" +
		"Subject: Re: Where is my order?\r\n" +
		"Message-ID: <m2@mail.example>\r\n" +
		"In-Reply-To: <m1@mail.example>\r\n" +
		"References: <m1@mail.example>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"any news?\r\n"
)

func TestClientListAndLabel(t *testing.T) {
	ctx := context.Background()
	addr := startIMAP(t)
	appendMessage(t, addr, firstMessage)
	appendMessage(t, addr, followUp)

	c := newTestClient(t, addr, nil)

	msgs, err := c.ListCandidateMessages(ctx, "[Ospra] Processed", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, seedUID, msgs[0].ID)
	assert.NotContains(t, msgs[0].Labels, unreadLabel)

	first, second := msgs[1], msgs[2]
	assert.Equal(t, "amy@mail.example", first.Sender)
	assert.Equal(t, "Where is my order?", first.Subject)
	assert.Equal(t, "<m1@mail.example>", first.Key())
	assert.Equal(t, "<m1@mail.example>", first.ThreadID)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Contains(t, first.Labels, unreadLabel)

	limited, err := c.ListCandidateMessages(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, seedUID, limited[0].ID)

	processed, err := c.EnsureLabel(ctx, "[Ospra] Processed")
	require.NoError(t, err)
	assert.Equal(t, "Ospra_Processed", processed)

	require.NoError(t, c.ModifyLabels(ctx, first.ID, []string{processed}, []string{unreadLabel}))

	msgs, err = c.ListCandidateMessages(ctx, "[Ospra] Processed", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, second.ID, msgs[1].ID)

	thread, err := c.GetThread(ctx, first.ThreadID)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, first.ID, thread.Messages[0].ID)
	assert.Equal(t, "Amy <amy@mail.example>", thread.Messages[0].From)
	assert.Contains(t, thread.Messages[0].Labels, processed)
	assert.NotContains(t, thread.Messages[0].Labels, unreadLabel)

	has, err := c.ThreadHasLabel(ctx, first.ThreadID, processed)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = c.ThreadHasLabel(ctx, first.ThreadID, "Ospra_Auto_Replied")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestClientReconnectsAfterLogout(t *testing.T) {
	ctx := context.Background()
	addr := startIMAP(t)
	c := newTestClient(t, addr, nil)

	_, err := c.ListCandidateMessages(ctx, "", 10)
	require.NoError(t, err)
	require.True(t, c.IsConnected())

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())

	msgs, err := c.ListCandidateMessages(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestKeyword(t *testing.T) {
	assert.Equal(t, "Ospra_Auto_Replied", Keyword("[Ospra] Auto Replied"))
	assert.Equal(t, "Processed", Keyword("Processed"))
	assert.Equal(t, "", Keyword("UNREAD"))
	assert.Equal(t, "", Keyword(""))
}

type smtpMessage struct {
	From string
	To   []string
	Data []byte
}

type smtpBackend struct {
	mu       sync.Mutex
	messages []smtpMessage
	rcptErr  error
}

func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{backend: b}, nil
}

func (b *smtpBackend) received() []smtpMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]smtpMessage(nil), b.messages...)
}

type smtpSession struct {
	backend *smtpBackend
	from    string
	to      []string
}

func (s *smtpSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.backend.rcptErr != nil {
		return s.backend.rcptErr
	}
	s.to = append(s.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, smtpMessage{From: s.from, To: s.to, Data: data})
	s.backend.mu.Unlock()
	return nil
}

func (s *smtpSession) Reset() {}

func (s *smtpSession) Logout() error { return nil }

func startSMTP(t *testing.T, be *smtpBackend) *Sender {
	t.Helper()

	s := smtp.NewServer(be)
	s.Domain = "shop.example"
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	sender := NewSender(SMTPConfig{Server: l.Addr().String()}, nil)
	sender.dial = func(addr string) (*smtp.Client, error) { return smtp.Dial(addr) }
	return sender
}

func TestClientSendReply(t *testing.T) {
	be := &smtpBackend{}
	sender := startSMTP(t, be)
	addr := startIMAP(t)
	c := newTestClient(t, addr, sender)

	id, err := c.SendReply(context.Background(), "<m1@mail.example>", models.OutgoingReply{
		To:        "amy@mail.example",
		Subject:   "Where is my order?",
		InReplyTo: "<m1@mail.example>",
		Body:      "It ships tomorrow.",
		FromAlias: "support@shop.example",
		FromName:  "Shop Support",
	})
	require.NoError(t, err)

	got := be.received()
	require.Len(t, got, 1)
	assert.Equal(t, "support@shop.example", got[0].From)
	assert.Equal(t, []string{"amy@mail.example"}, got[0].To)

	p, err := ReadMessage(bytes.NewReader(got[0].Data), nil)
	require.NoError(t, err)
	assert.Equal(t, id, p.MessageID)
	assert.Equal(t, "<m1@mail.example>", p.ThreadRoot())
	assert.Equal(t, "It ships tomorrow.", p.BodyText)
}

func TestSenderPermanentRejection(t *testing.T) {
	be := &smtpBackend{rcptErr: &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "no such user",
	}}
	sender := startSMTP(t, be)

	err := sender.Send(context.Background(), "support@shop.example", []string{"ghost@mail.example"}, []byte("Subject: x\r\n\r\nx"))
	require.Error(t, err)
	assert.True(t, retry.IsStopError(err))
	assert.Empty(t, be.received())
}

func TestSenderTemporaryRejectionIsRetryable(t *testing.T) {
	be := &smtpBackend{rcptErr: &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "try later",
	}}
	sender := startSMTP(t, be)

	err := sender.Send(context.Background(), "support@shop.example", []string{"amy@mail.example"}, []byte("Subject: x\r\n\r\nx"))
	require.Error(t, err)
	assert.False(t, retry.IsStopError(err))
}

func TestSendReplyWithoutSender(t *testing.T) {
	addr := startIMAP(t)
	c := newTestClient(t, addr, nil)

	_, err := c.SendReply(context.Background(), "t", models.OutgoingReply{To: "amy@mail.example", Body: "x"})
	assert.Error(t, err)
}
