package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mixelka/replybot/internal/parser"
	"github.com/mixelka/replybot/pkg/models"
)

// unreadLabel is the provider-neutral label for unseen messages
const unreadLabel = "UNREAD"

// ClientConfig configuration for the IMAP mailbox
type ClientConfig struct {
	Username    string
	Password    string
	Server      string // host:port, resolved from the username when empty
	Mailbox     string
	DialTimeout time.Duration
}

// Client is a MailClient over one IMAP mailbox. Labels are stored as IMAP
// keywords, threads are reconstructed from Message-ID and References, and
// replies leave through SMTP.
type Client struct {
	config ClientConfig
	sender *Sender
	html   *parser.HTMLParser
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	client *client.Client
	dial   func() (*client.Client, error)
}

// NewClient creates a new IMAP client. sender may be nil, in which case
// SendReply fails.
func NewClient(cfg ClientConfig, sender *Sender, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.Server == "" {
		server, err := ResolveIMAPServer(cfg.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IMAP server: %w", err)
		}
		cfg.Server = server
	}

	c := &Client{
		config: cfg,
		sender: sender,
		html:   parser.NewHTMLParser(),
		logger: logger.With("component", "imap", "email", cfg.Username),
		now:    time.Now,
	}
	c.dial = c.dialTLS
	return c, nil
}

func (c *Client) dialTLS() (*client.Client, error) {
	dialer := &net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", c.config.Server, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	return imapClient, nil
}

// connect logs in and selects the mailbox. Caller holds mu.
func (c *Client) connect() error {
	if c.client != nil {
		select {
		case <-c.client.LoggedOut():
			c.client = nil
		default:
			return nil
		}
	}

	c.logger.Info("connecting to IMAP server", "server", c.config.Server)

	imapClient, err := c.dial()
	if err != nil {
		return err
	}
	if err := imapClient.Login(c.config.Username, c.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}
	if _, err := imapClient.Select(c.config.Mailbox, false); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to select %s: %w", c.config.Mailbox, err)
	}

	c.client = imapClient
	c.logger.Info("connected to IMAP server", "mailbox", c.config.Mailbox)
	return nil
}

// withConn runs fn on a live session. The session is dropped when the
// server logged us out, so the next call reconnects.
func (c *Client) withConn(ctx context.Context, fn func(*client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return err
	}

	err := fn(c.client)
	if err != nil {
		select {
		case <-c.client.LoggedOut():
			c.logger.Warn("IMAP session lost", "error", err)
			c.client = nil
		default:
		}
	}
	return err
}

// ListCandidateMessages returns up to limit messages without the exclude
// keyword, oldest first
func (c *Client) ListCandidateMessages(ctx context.Context, excludeLabel string, limit int) ([]*models.InboundMessage, error) {
	var out []*models.InboundMessage

	err := c.withConn(ctx, func(cl *client.Client) error {
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.DeletedFlag}
		if kw := Keyword(excludeLabel); kw != "" {
			criteria.WithoutFlags = append(criteria.WithoutFlags, kw)
		}

		uids, err := cl.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}
		if len(uids) == 0 {
			return nil
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)

		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

		messages := make(chan *imap.Message, 16)
		done := make(chan error, 1)
		go func() {
			done <- cl.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			inbound, err := c.toInbound(msg, section)
			if err != nil {
				c.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
				continue
			}
			out = append(out, inbound)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return uidOf(out[i].ID) < uidOf(out[j].ID) })
	return out, nil
}

func (c *Client) toInbound(msg *imap.Message, section *imap.BodySectionName) (*models.InboundMessage, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("server returned no body")
	}

	parsed, err := ReadMessage(body, c.html)
	if err != nil {
		return nil, err
	}

	id := strconv.FormatUint(uint64(msg.Uid), 10)
	thread := parsed.ThreadRoot()
	if thread == "" {
		thread = id
	}

	return &models.InboundMessage{
		ID:       id,
		ThreadID: thread,
		Sender:   parsed.Sender,
		From:     parsed.From,
		Subject:  parsed.Subject,
		BodyText: parsed.BodyText,
		Labels:   flagLabels(msg.Flags),
		Headers:  parsed.Headers,
	}, nil
}

// GetThread returns every message of the mailbox that belongs to the thread
func (c *Client) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	thread := &models.Thread{ID: threadID}

	err := c.withConn(ctx, func(cl *client.Client) error {
		uids, err := cl.UidSearch(threadCriteria(threadID))
		if err != nil {
			return fmt.Errorf("failed to search thread: %w", err)
		}
		if len(uids) == 0 {
			return nil
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)

		messages := make(chan *imap.Message, 16)
		done := make(chan error, 1)
		go func() {
			done <- cl.UidFetch(seqSet, []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchEnvelope}, messages)
		}()

		for msg := range messages {
			tm := models.ThreadMessage{
				ID:     strconv.FormatUint(uint64(msg.Uid), 10),
				Labels: flagLabels(msg.Flags),
			}
			if msg.Envelope != nil && len(msg.Envelope.From) > 0 {
				tm.From = formatAddress(msg.Envelope.From[0])
			}
			thread.Messages = append(thread.Messages, tm)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(thread.Messages, func(i, j int) bool {
		return uidOf(thread.Messages[i].ID) < uidOf(thread.Messages[j].ID)
	})
	return thread, nil
}

// threadCriteria matches the root message and everything referencing it.
// Threads of messages without a Message-ID are the message itself.
func threadCriteria(threadID string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if !strings.HasPrefix(threadID, "<") {
		uid, _ := strconv.ParseUint(threadID, 10, 32)
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddNum(uint32(uid))
		return criteria
	}

	byHeader := func(key string) *imap.SearchCriteria {
		c := imap.NewSearchCriteria()
		c.Header = textproto.MIMEHeader{key: {threadID}}
		return c
	}
	referencing := imap.NewSearchCriteria()
	referencing.Or = [][2]*imap.SearchCriteria{{byHeader("References"), byHeader("In-Reply-To")}}
	criteria.Or = [][2]*imap.SearchCriteria{{byHeader("Message-Id"), referencing}}
	return criteria
}

// ModifyLabels adds and removes keywords. Removing UNREAD sets \Seen.
func (c *Client) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}

	var addFlags, removeFlags []interface{}
	for _, l := range add {
		if l == unreadLabel {
			removeFlags = append(removeFlags, imap.SeenFlag)
		} else if l != "" {
			addFlags = append(addFlags, l)
		}
	}
	for _, l := range remove {
		if l == unreadLabel {
			addFlags = append(addFlags, imap.SeenFlag)
		} else if l != "" {
			removeFlags = append(removeFlags, l)
		}
	}

	return c.withConn(ctx, func(cl *client.Client) error {
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)

		if len(addFlags) > 0 {
			item := imap.FormatFlagsOp(imap.AddFlags, true)
			if err := cl.UidStore(seqSet, item, addFlags, nil); err != nil {
				return fmt.Errorf("failed to add flags: %w", err)
			}
		}
		if len(removeFlags) > 0 {
			item := imap.FormatFlagsOp(imap.RemoveFlags, true)
			if err := cl.UidStore(seqSet, item, removeFlags, nil); err != nil {
				return fmt.Errorf("failed to remove flags: %w", err)
			}
		}
		return nil
	})
}

// EnsureLabel maps a label name to its keyword, checking the mailbox
// accepts custom keywords
func (c *Client) EnsureLabel(ctx context.Context, name string) (string, error) {
	kw := Keyword(name)
	if kw == "" {
		return "", fmt.Errorf("label %q has no usable keyword", name)
	}

	err := c.withConn(ctx, func(cl *client.Client) error {
		mbox := cl.Mailbox()
		if mbox == nil || len(mbox.PermanentFlags) == 0 {
			return nil
		}
		for _, f := range mbox.PermanentFlags {
			if f == "\\*" || strings.EqualFold(f, kw) {
				return nil
			}
		}
		return fmt.Errorf("mailbox %s does not accept keyword %s", c.config.Mailbox, kw)
	})
	if err != nil {
		return "", err
	}
	return kw, nil
}

// ThreadHasLabel reports whether any message of the thread has the keyword
func (c *Client) ThreadHasLabel(ctx context.Context, threadID, labelID string) (bool, error) {
	thread, err := c.GetThread(ctx, threadID)
	if err != nil {
		return false, err
	}
	return thread.HasLabel(labelID), nil
}

// SendReply sends the reply over SMTP and returns its Message-ID
func (c *Client) SendReply(ctx context.Context, threadID string, reply models.OutgoingReply) (string, error) {
	if c.sender == nil {
		return "", fmt.Errorf("no SMTP sender configured")
	}

	from := reply.FromAlias
	if from == "" {
		from = c.config.Username
	}

	raw, messageID, err := BuildReply(reply, from, c.now())
	if err != nil {
		return "", err
	}
	if err := c.sender.Send(ctx, from, []string{reply.To}, raw); err != nil {
		return "", err
	}

	c.logger.Debug("reply sent", "thread_id", threadID, "message_id", messageID)
	return messageID, nil
}

// Close logs out of the server
func (c *Client) Close() error {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.mu.Unlock()

	if imapClient == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- imapClient.Logout()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return imapClient.Terminate()
	}
}

// IsConnected returns whether the client holds a live session
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return false
	}
	select {
	case <-c.client.LoggedOut():
		return false
	default:
		return true
	}
}

var keywordUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Keyword turns a label name into an IMAP keyword atom:
// "[Ospra] Auto Replied" becomes "Ospra_Auto_Replied"
func Keyword(label string) string {
	if label == unreadLabel {
		return ""
	}
	return strings.Trim(keywordUnsafe.ReplaceAllString(label, "_"), "_")
}

// flagLabels returns the flags as labels, \Seen absent means UNREAD
func flagLabels(flags []string) []string {
	labels := make([]string, 0, len(flags)+1)
	seen := false
	for _, f := range flags {
		if f == imap.SeenFlag {
			seen = true
			continue
		}
		labels = append(labels, f)
	}
	if !seen {
		labels = append(labels, unreadLabel)
	}
	return labels
}

func formatAddress(a *imap.Address) string {
	addr := a.Address()
	if a.PersonalName == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", a.PersonalName, addr)
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return uint32(uid), nil
}

func uidOf(id string) uint32 {
	uid, _ := strconv.ParseUint(id, 10, 32)
	return uint32(uid)
}
