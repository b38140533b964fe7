// Package policy holds the per-message reply state machine: which
// terminal state a message reaches, which labels it gets and what the
// learning engine is told about it.
package policy

import (
	"regexp"
	"strings"

	"github.com/mixelka/replybot/internal/classifier"
	"github.com/mixelka/replybot/pkg/models"
)

// State is a node of the per-message state machine
type State string

const (
	StateReceived            State = "received"
	StateClassified          State = "classified"
	StateSkipped             State = "skipped"
	StateSuppressed          State = "suppressed"
	StateNonSupport          State = "non_support"
	StateDuplicateOrCooldown State = "duplicate_or_cooldown"
	StateEligible            State = "eligible"
	StateLabeled             State = "labeled"
	StateQuietAcked          State = "quiet_acked"
	StateReplied             State = "replied"
	StateErrored             State = "errored"
)

// Terminal reports whether the state ends processing of a message
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateSuppressed, StateNonSupport, StateDuplicateOrCooldown,
		StateLabeled, StateQuietAcked, StateReplied, StateErrored:
		return true
	}
	return false
}

// Skip and duplicate reasons stored in metadata
const (
	ReasonNoReplyTo      = "no_reply_to"
	ReasonAutoMessage    = "auto_message"
	ReasonAutoReplyLabel = "thread_auto_replied"
	ReasonOutgoingReply  = "thread_has_reply"
	ReasonCooldown       = "cooldown"
	ReasonLearnedRule    = "learned_rule"
	ReasonIgnoredDomain  = "ignored_domain"
	ReasonSenderPattern  = "sender_pattern"
	ReasonSubjectPattern = "subject_pattern"
	ReasonNoSafeReply    = "no_safe_reply"
	ReasonAutoReplyOff   = "auto_reply_disabled"
)

// Decision is the outcome of one state machine step
type Decision struct {
	State  State
	Action models.Action // set for terminal states
	Reason string
}

// Continue reports whether processing moves on to the next step
func (d Decision) Continue() bool {
	return !d.State.Terminal()
}

// Labels are the provider label names the policy attaches
type Labels struct {
	Support     string
	Orders      string
	AutoReplied string
	Ignored     string
	Error       string
	Processed   string
}

// SystemUnread is removed from every message the policy finishes with
const SystemUnread = "UNREAD"

// Config configures the policy
type Config struct {
	Labels          Labels
	IgnoreDomains   []string
	SenderPatterns  []*regexp.Regexp
	SubjectPatterns []*regexp.Regexp
	AutoReply       bool
}

// Policy decides what happens to each message
type Policy struct {
	cfg Config
}

// New creates a policy
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// Labels returns the configured label names
func (p *Policy) Labels() Labels {
	return p.cfg.Labels
}

// Screen rejects messages nobody should answer: no usable reply-to
// address, or an automated sender.
func (p *Policy) Screen(msg *models.InboundMessage) Decision {
	if strings.TrimSpace(msg.Sender) == "" {
		return Decision{State: StateSkipped, Action: models.ActionSkippedNoReplyTo, Reason: ReasonNoReplyTo}
	}
	if IsAutoMessage(msg.From, msg.Headers) {
		return Decision{State: StateSkipped, Action: models.ActionSkippedAutoMessage, Reason: ReasonAutoMessage}
	}
	return Decision{State: StateReceived}
}

// Judge applies suppression and the support-intent filter to a classified message
func (p *Policy) Judge(msg *models.InboundMessage, res classifier.Result) Decision {
	if res.Suppressed {
		return Decision{State: StateSuppressed, Action: models.ActionLearnedIgnore, Reason: ReasonLearnedRule}
	}
	if reason := p.staticIgnore(msg.Sender, msg.Subject); reason != "" {
		return Decision{State: StateSuppressed, Action: models.ActionIgnoredSender, Reason: reason}
	}
	if !res.Intent.IsSupport() {
		return Decision{State: StateNonSupport, Action: models.ActionIgnoredNonSupport}
	}
	return Decision{State: StateClassified}
}

func (p *Policy) staticIgnore(sender, subject string) string {
	email := strings.ToLower(strings.TrimSpace(sender))
	if email != "" {
		for _, d := range p.cfg.IgnoreDomains {
			if d != "" && strings.HasSuffix(email, "@"+strings.ToLower(d)) {
				return ReasonIgnoredDomain
			}
		}
		for _, re := range p.cfg.SenderPatterns {
			if re.MatchString(email) {
				return ReasonSenderPattern
			}
		}
	}
	for _, re := range p.cfg.SubjectPatterns {
		if re.MatchString(subject) {
			return ReasonSubjectPattern
		}
	}
	return ""
}

// ThreadSignals is what the poller knows about the thread of a message
type ThreadSignals struct {
	AutoReplyLabel bool // some message in the thread carries the auto-reply label
	RecentReply    bool // we replied within the cooldown window
	OutgoingReply  bool // the thread contains a message from our address
}

// CheckThread refuses threads we already answered
func (p *Policy) CheckThread(s ThreadSignals) Decision {
	var reason string
	switch {
	case s.AutoReplyLabel:
		reason = ReasonAutoReplyLabel
	case s.OutgoingReply:
		reason = ReasonOutgoingReply
	case s.RecentReply:
		reason = ReasonCooldown
	default:
		return Decision{State: StateEligible}
	}
	return Decision{State: StateDuplicateOrCooldown, Action: models.ActionSkippedCooldown, Reason: reason}
}

// ReplyPlan is the kind of reply an eligible message gets
type ReplyPlan int

const (
	ReplyNone ReplyPlan = iota
	ReplyQuietAck
	ReplyGenerate
)

func (r ReplyPlan) String() string {
	switch r {
	case ReplyQuietAck:
		return "quiet_ack"
	case ReplyGenerate:
		return "generate"
	}
	return "none"
}

// Plan picks the reply for an eligible message
func (p *Policy) Plan(intent models.Intent, quiet bool) ReplyPlan {
	if !p.cfg.AutoReply || !intent.IsSupport() {
		return ReplyNone
	}
	if quiet {
		return ReplyQuietAck
	}
	return ReplyGenerate
}

// Finalize settles an eligible message. sent reports whether a reply
// actually left the mailbox.
func (p *Policy) Finalize(plan ReplyPlan, replyText string, sent bool) Decision {
	switch {
	case plan == ReplyNone:
		return Decision{State: StateLabeled, Action: models.ActionLabeled, Reason: ReasonAutoReplyOff}
	case strings.TrimSpace(replyText) == "" || !sent:
		return Decision{State: StateLabeled, Action: models.ActionLabeled, Reason: ReasonNoSafeReply}
	case plan == ReplyQuietAck:
		return Decision{State: StateQuietAcked, Action: models.ActionQuietAck}
	default:
		return Decision{State: StateReplied, Action: models.ActionReplied}
	}
}

// Errored is the decision for a message whose collaborator calls failed
func Errored() Decision {
	return Decision{State: StateErrored, Action: models.ActionError}
}

// IntentLabels maps an intent to its category labels
func (p *Policy) IntentLabels(intent models.Intent) []string {
	l := p.cfg.Labels
	switch {
	case intent == models.IntentSpamNewsletter:
		return compact(l.Ignored)
	case intent.IsOrderRelated():
		return compact(l.Support, l.Orders)
	case intent == models.IntentGeneralSupport:
		return compact(l.Support)
	}
	return compact(l.Ignored)
}

// LabelChanges returns the labels to add and remove for a terminal decision
func (p *Policy) LabelChanges(d Decision, intent models.Intent) (add, remove []string) {
	l := p.cfg.Labels
	remove = []string{SystemUnread}

	switch d.State {
	case StateSkipped:
		if d.Action == models.ActionSkippedAutoMessage {
			return compact(l.Processed, l.Ignored), remove
		}
		return compact(l.Processed), remove
	case StateSuppressed, StateNonSupport:
		return compact(l.Ignored, l.Processed), remove
	case StateDuplicateOrCooldown:
		return compact(l.Processed), remove
	case StateLabeled:
		return append(p.IntentLabels(intent), compact(l.Processed)...), remove
	case StateQuietAcked, StateReplied:
		return append(p.IntentLabels(intent), compact(l.Processed, l.AutoReplied)...), remove
	case StateErrored:
		// unread stays for the operator
		return compact(l.Error, l.Processed), nil
	}
	return nil, nil
}

// LearningOutcome returns what the learning engine should record for a
// terminal decision. ok is false for states that say nothing about the sender.
func LearningOutcome(d Decision, intent models.Intent) (models.FinalAction, bool) {
	switch d.State {
	case StateSuppressed, StateNonSupport:
		return models.FinalIgnored, true
	case StateLabeled, StateQuietAcked, StateReplied:
		if intent.IsOrderRelated() {
			return models.FinalOrders, true
		}
		return models.FinalSupport, true
	}
	return "", false
}

// QuietHoursAck is the fixed acknowledgment sent during quiet hours
func QuietHoursAck(brand, signature string) string {
	text := "Hi,\n\nWe received your message at " + brand + ". We'll reply during business hours."
	if s := strings.TrimSpace(signature); s != "" {
		text += "\n\n" + s
	}
	return text
}

var noReplyPattern = regexp.MustCompile(`(?i)(no[-_. ]?reply|do[-_. ]?not[-_. ]?reply)`)

// IsAutoMessage reports whether a message was sent by a machine:
// a no-reply address or RFC 3834 / bulk-mail headers.
func IsAutoMessage(from string, headers map[string]string) bool {
	if noReplyPattern.MatchString(from) {
		return true
	}
	header := func(name string) string {
		return strings.ToLower(strings.TrimSpace(headers[name]))
	}
	if v := header("auto-submitted"); v != "" && v != "no" {
		return true
	}
	switch header("precedence") {
	case "bulk", "list", "junk":
		return true
	}
	ars := header("x-auto-response-suppress")
	return strings.Contains(ars, "all") || strings.Contains(ars, "autoreply")
}

func compact(labels ...string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
