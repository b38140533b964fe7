// Package gmail implements the poller mailbox over the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mixelka/replybot/internal/email"
	"github.com/mixelka/replybot/internal/parser"
	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/pkg/models"
)

// Config holds OAuth credentials for one mailbox
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	User         string // "me" for the authorized account
}

// Client is a MailClient over Gmail
type Client struct {
	srv    *gmail.Service
	user   string
	html   *parser.HTMLParser
	logger *slog.Logger
	now    func() time.Time

	labelSF singleflight.Group // one lookup/create per label name at a time

	mu      sync.Mutex
	labels  map[string]string // name -> label ID
	address string            // mailbox address, fetched once
}

// New creates a client that refreshes its access token from the stored
// refresh token
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("gmail refresh token is required")
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope},
	}
	ts := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	srv, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewWithService(srv, cfg.User, logger), nil
}

// NewWithService wraps an existing service
func NewWithService(srv *gmail.Service, user string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if user == "" {
		user = "me"
	}
	return &Client{
		srv:    srv,
		user:   user,
		html:   parser.NewHTMLParser(),
		logger: logger.With("component", "gmail"),
		now:    time.Now,
		labels: make(map[string]string),
	}
}

// ListCandidateMessages lists inbox messages without the exclude label.
// Messages that fail to load are skipped until the next call.
func (c *Client) ListCandidateMessages(ctx context.Context, excludeLabel string, limit int) ([]*models.InboundMessage, error) {
	query := "in:inbox"
	if name := strings.TrimSpace(excludeLabel); name != "" {
		query += fmt.Sprintf(` -label:"%s"`, name)
	}

	call := c.srv.Users.Messages.List(c.user).Q(query).LabelIds("INBOX").Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	list, err := call.Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list messages: %w", err))
	}

	out := make([]*models.InboundMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := c.getMessage(ctx, ref.Id)
		if err != nil {
			c.logger.Warn("failed to load message", "message_id", ref.Id, "error", err)
			continue
		}
		out = append(out, msg)
	}

	// Gmail lists newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (c *Client) getMessage(ctx context.Context, id string) (*models.InboundMessage, error) {
	msg, err := c.srv.Users.Messages.Get(c.user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get message: %w", err))
	}

	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	parsed, err := email.ReadMessage(bytes.NewReader(raw), c.html)
	if err != nil {
		return nil, err
	}

	return &models.InboundMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Sender:   parsed.Sender,
		From:     parsed.From,
		Subject:  parsed.Subject,
		BodyText: parsed.BodyText,
		Labels:   msg.LabelIds,
		Headers:  parsed.Headers,
	}, nil
}

// GetThread returns the thread with sender and labels of every message
func (c *Client) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	t, err := c.srv.Users.Threads.Get(c.user, threadID).
		Format("metadata").
		MetadataHeaders("From").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get thread: %w", err))
	}

	thread := &models.Thread{ID: t.Id}
	for _, m := range t.Messages {
		tm := models.ThreadMessage{ID: m.Id, Labels: m.LabelIds}
		if m.Payload != nil {
			for _, h := range m.Payload.Headers {
				if strings.EqualFold(h.Name, "From") {
					tm.From = h.Value
					break
				}
			}
		}
		thread.Messages = append(thread.Messages, tm)
	}
	return thread, nil
}

// ModifyLabels adds and removes label IDs on one message
func (c *Client) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	if _, err := c.srv.Users.Messages.Modify(c.user, messageID, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("failed to modify labels: %w", err))
	}
	return nil
}

// EnsureLabel returns the ID of the named label, creating it if needed
func (c *Client) EnsureLabel(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.labels[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := c.labelSF.Do(name, func() (any, error) {
		return c.lookupOrCreateLabel(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) lookupOrCreateLabel(ctx context.Context, name string) (string, error) {
	id, err := c.findLabel(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		created, err := c.srv.Users.Labels.Create(c.user, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return "", classify(fmt.Errorf("failed to create label %q: %w", name, err))
		}
		id = created.Id
		c.logger.Info("created label", "label", name, "id", id)
	}

	c.mu.Lock()
	c.labels[name] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) findLabel(ctx context.Context, name string) (string, error) {
	list, err := c.srv.Users.Labels.List(c.user).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("failed to list labels: %w", err))
	}
	for _, l := range list.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}
	return "", nil
}

// ThreadHasLabel reports whether any message of the thread has the label
func (c *Client) ThreadHasLabel(ctx context.Context, threadID, labelID string) (bool, error) {
	t, err := c.srv.Users.Threads.Get(c.user, threadID).Format("minimal").Context(ctx).Do()
	if err != nil {
		return false, classify(fmt.Errorf("failed to get thread: %w", err))
	}
	for _, m := range t.Messages {
		for _, l := range m.LabelIds {
			if l == labelID {
				return true, nil
			}
		}
	}
	return false, nil
}

// SendReply sends the reply into the thread and returns the Gmail message ID
func (c *Client) SendReply(ctx context.Context, threadID string, reply models.OutgoingReply) (string, error) {
	from := reply.FromAlias
	if from == "" {
		addr, err := c.mailboxAddress(ctx)
		if err != nil {
			return "", err
		}
		from = addr
	}

	raw, _, err := email.BuildReply(reply, from, c.now())
	if err != nil {
		return "", retry.Stop(err)
	}

	sent, err := c.srv.Users.Messages.Send(c.user, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("failed to send reply: %w", err))
	}
	return sent.Id, nil
}

func (c *Client) mailboxAddress(ctx context.Context) (string, error) {
	c.mu.Lock()
	addr := c.address
	c.mu.Unlock()
	if addr != "" {
		return addr, nil
	}

	profile, err := c.srv.Users.GetProfile(c.user).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("failed to get profile: %w", err))
	}

	c.mu.Lock()
	c.address = profile.EmailAddress
	c.mu.Unlock()
	return profile.EmailAddress, nil
}

// classify marks client errors other than throttling as permanent
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code == http.StatusRequestTimeout:
		return err
	case apiErr.Code >= 400 && apiErr.Code < 500:
		return retry.Stop(err)
	}
	return err
}

func decodeRaw(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
