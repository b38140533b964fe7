// Package classifier assigns an intent to inbound messages, consulting
// learned rules before the static heuristics.
package classifier

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mixelka/replybot/internal/parser"
	"github.com/mixelka/replybot/pkg/models"
)

var (
	adSenderHints = compileAll(
		`(no[-_. ]?reply|donotreply|mailer-daemon|postmaster)@`,
		`news(?:letter)?@`,
		`\bmarketing\b`,
		`\badvertis(?:e|ing)\b`,
		`\bpartnership\b`,
		`\bcollab\b`,
	)
	adSubjectHints = compileAll(
		`\bnewsletter\b`,
		`\bdiscount\b`,
		`\bpromo\b`,
		`\bpartnership\b`,
		`\bcollab\b`,
		`\bseo\b`,
		`\bbacklink\b`,
		`\bguest post\b`,
		`\bleads?\b`,
	)
	newsletterKeywords = []string{
		"unsubscribe", "newsletter", "promo code", "sponsored",
		"mailchimp", "constant contact", "clickfunnels",
	}

	refundPattern = regexp.MustCompile(`(?i)\b(refund|chargeback|return|rma)\b`)
	orderTerms    = []string{"order", "tracking", "where is my", "wheres my", "shipment", "delivered", "delivery"}
	returnTerms   = []string{"return", "exchange", "cancel order"}
	supportTerms  = []string{"help", "issue", "problem", "support", "question"}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// Result is the outcome of classifying one message
type Result struct {
	Intent      models.Intent
	Source      models.ConfidenceSource
	Suppressed  bool   // a learned ignore rule matched; Intent is unset
	OrderNumber string // order number quoted by the customer, if any
}

// RuleGuesser is the learned-rule lookup consulted before heuristics
type RuleGuesser interface {
	BestGuess(ctx context.Context, sender, subject string) (models.RuleAction, bool, error)
}

// Classifier maps a message to an intent
type Classifier struct {
	rules  RuleGuesser
	orders *parser.OrderDetector
	logger *slog.Logger
}

// New creates a classifier. rules may be nil to run heuristics only.
func New(rules RuleGuesser, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		rules:  rules,
		orders: parser.NewOrderDetector(),
		logger: logger.With("component", "classifier"),
	}
}

// Classify assigns an intent to a message. A learned rule wins over the
// heuristics; a failing rule lookup falls back to the heuristics.
func (c *Classifier) Classify(ctx context.Context, sender, subject, body string) (Result, error) {
	orderNo := c.orders.Detect(subject, body)

	if c.rules != nil {
		action, ok, err := c.rules.BestGuess(ctx, sender, subject)
		switch {
		case err != nil:
			c.logger.Warn("learned rule lookup failed, using heuristics", "sender", sender, "error", err)
		case ok && action == models.RuleIgnore:
			return Result{Suppressed: true, Source: models.SourceLearned, OrderNumber: orderNo}, nil
		case ok && action == models.RuleOrders:
			return Result{Intent: models.IntentOrderStatus, Source: models.SourceLearned, OrderNumber: orderNo}, nil
		case ok && action == models.RuleSupport:
			return Result{Intent: models.IntentGeneralSupport, Source: models.SourceLearned, OrderNumber: orderNo}, nil
		}
	}

	return Result{
		Intent:      c.heuristic(sender, subject, body, orderNo),
		Source:      models.SourceStatic,
		OrderNumber: orderNo,
	}, nil
}

func (c *Classifier) heuristic(sender, subject, body, orderNo string) models.Intent {
	if LooksLikeAd(sender, subject, body) {
		return models.IntentSpamNewsletter
	}

	text := strings.ToLower(subject + "\n" + body)
	switch {
	case refundPattern.MatchString(text):
		return models.IntentRefund
	case orderNo != "" || containsAny(text, orderTerms):
		return models.IntentOrderStatus
	case containsAny(text, returnTerms):
		return models.IntentReturnExchange
	case containsAny(text, supportTerms):
		return models.IntentGeneralSupport
	}
	return models.IntentGeneralSupport
}

// LooksLikeAd reports whether the sender, subject or body carries
// marketing or newsletter markers
func LooksLikeAd(sender, subject, body string) bool {
	for _, re := range adSenderHints {
		if re.MatchString(sender) {
			return true
		}
	}
	for _, re := range adSubjectHints {
		if re.MatchString(subject) || re.MatchString(body) {
			return true
		}
	}
	return containsAny(strings.ToLower(subject+" "+body), newsletterKeywords)
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
