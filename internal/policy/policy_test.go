package policy

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mixelka/replybot/internal/classifier"
	"github.com/mixelka/replybot/pkg/models"
)

var testLabels = Labels{
	Support:     "[Ospra] Support",
	Orders:      "[Ospra] Orders",
	AutoReplied: "[Ospra] Auto Replied",
	Ignored:     "[Ospra] Auto Ignored",
	Error:       "[Ospra] Admin",
	Processed:   "[Ospra] Processed",
}

func newTestPolicy() *Policy {
	return New(Config{
		Labels:          testLabels,
		IgnoreDomains:   []string{"spam.example"},
		SenderPatterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)^alerts@`)},
		SubjectPatterns: []*regexp.Regexp{regexp.MustCompile(`(?i)weekly digest`)},
		AutoReply:       true,
	})
}

func TestScreen(t *testing.T) {
	p := newTestPolicy()

	tests := []struct {
		name   string
		msg    models.InboundMessage
		action models.Action
		cont   bool
	}{
		{
			name:   "missing reply-to",
			msg:    models.InboundMessage{From: "Someone"},
			action: models.ActionSkippedNoReplyTo,
		},
		{
			name:   "no-reply address",
			msg:    models.InboundMessage{Sender: "no-reply@shop.example", From: "Shop <no-reply@shop.example>"},
			action: models.ActionSkippedAutoMessage,
		},
		{
			name:   "auto-submitted header",
			msg:    models.InboundMessage{Sender: "amy@mail.example", From: "amy@mail.example", Headers: map[string]string{"auto-submitted": "auto-replied"}},
			action: models.ActionSkippedAutoMessage,
		},
		{
			name: "human",
			msg:  models.InboundMessage{Sender: "amy@mail.example", From: "Amy <amy@mail.example>", Headers: map[string]string{"auto-submitted": "no"}},
			cont: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Screen(&tt.msg)
			assert.Equal(t, tt.cont, d.Continue())
			assert.Equal(t, tt.action, d.Action)
		})
	}
}

func TestIsAutoMessage(t *testing.T) {
	assert.True(t, IsAutoMessage("DoNotReply@bank.example", nil))
	assert.True(t, IsAutoMessage("a@b.example", map[string]string{"precedence": "Bulk"}))
	assert.True(t, IsAutoMessage("a@b.example", map[string]string{"x-auto-response-suppress": "OOF, AutoReply"}))
	assert.True(t, IsAutoMessage("a@b.example", map[string]string{"x-auto-response-suppress": "All"}))
	assert.False(t, IsAutoMessage("a@b.example", map[string]string{"precedence": "first-class"}))
	assert.False(t, IsAutoMessage("Amy <amy@mail.example>", nil))
}

func TestJudge(t *testing.T) {
	p := newTestPolicy()
	support := classifier.Result{Intent: models.IntentGeneralSupport, Source: models.SourceStatic}

	tests := []struct {
		name   string
		msg    models.InboundMessage
		res    classifier.Result
		state  State
		action models.Action
		reason string
	}{
		{"learned ignore", models.InboundMessage{Sender: "bot@news.example"}, classifier.Result{Suppressed: true}, StateSuppressed, models.ActionLearnedIgnore, ReasonLearnedRule},
		{"ignored domain", models.InboundMessage{Sender: "x@SPAM.example"}, support, StateSuppressed, models.ActionIgnoredSender, ReasonIgnoredDomain},
		{"sender pattern", models.InboundMessage{Sender: "alerts@bank.example"}, support, StateSuppressed, models.ActionIgnoredSender, ReasonSenderPattern},
		{"subject pattern", models.InboundMessage{Sender: "amy@mail.example", Subject: "Your Weekly Digest"}, support, StateSuppressed, models.ActionIgnoredSender, ReasonSubjectPattern},
		{"subdomain is not the domain", models.InboundMessage{Sender: "x@notspam.example"}, support, StateClassified, "", ""},
		{"refund is not support", models.InboundMessage{Sender: "amy@mail.example"}, classifier.Result{Intent: models.IntentRefund}, StateNonSupport, models.ActionIgnoredNonSupport, ""},
		{"newsletter", models.InboundMessage{Sender: "amy@mail.example"}, classifier.Result{Intent: models.IntentSpamNewsletter}, StateNonSupport, models.ActionIgnoredNonSupport, ""},
		{"order status continues", models.InboundMessage{Sender: "amy@mail.example"}, classifier.Result{Intent: models.IntentOrderStatus}, StateClassified, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Judge(&tt.msg, tt.res)
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestCheckThread(t *testing.T) {
	p := newTestPolicy()

	d := p.CheckThread(ThreadSignals{})
	assert.Equal(t, StateEligible, d.State)
	assert.True(t, d.Continue())

	d = p.CheckThread(ThreadSignals{RecentReply: true})
	assert.Equal(t, StateDuplicateOrCooldown, d.State)
	assert.Equal(t, models.ActionSkippedCooldown, d.Action)
	assert.Equal(t, ReasonCooldown, d.Reason)

	d = p.CheckThread(ThreadSignals{AutoReplyLabel: true, RecentReply: true})
	assert.Equal(t, ReasonAutoReplyLabel, d.Reason)

	d = p.CheckThread(ThreadSignals{OutgoingReply: true})
	assert.Equal(t, ReasonOutgoingReply, d.Reason)
}

func TestPlanAndFinalize(t *testing.T) {
	p := newTestPolicy()

	assert.Equal(t, ReplyQuietAck, p.Plan(models.IntentOrderStatus, true))
	assert.Equal(t, ReplyGenerate, p.Plan(models.IntentOrderStatus, false))

	assert.Equal(t, StateQuietAcked, p.Finalize(ReplyQuietAck, "ack", true).State)
	assert.Equal(t, StateReplied, p.Finalize(ReplyGenerate, "Hello!", true).State)

	d := p.Finalize(ReplyGenerate, "   ", false)
	assert.Equal(t, StateLabeled, d.State)
	assert.Equal(t, models.ActionLabeled, d.Action)
	assert.Equal(t, ReasonNoSafeReply, d.Reason)

	off := New(Config{Labels: testLabels})
	plan := off.Plan(models.IntentGeneralSupport, false)
	assert.Equal(t, ReplyNone, plan)
	assert.Equal(t, ReasonAutoReplyOff, off.Finalize(plan, "", false).Reason)
}

func TestLabelChanges(t *testing.T) {
	p := newTestPolicy()

	add, remove := p.LabelChanges(Decision{State: StateReplied}, models.IntentOrderStatus)
	assert.ElementsMatch(t, []string{testLabels.Support, testLabels.Orders, testLabels.Processed, testLabels.AutoReplied}, add)
	assert.Equal(t, []string{SystemUnread}, remove)

	add, _ = p.LabelChanges(Decision{State: StateLabeled}, models.IntentGeneralSupport)
	assert.ElementsMatch(t, []string{testLabels.Support, testLabels.Processed}, add)

	add, _ = p.LabelChanges(Decision{State: StateSuppressed}, "")
	assert.ElementsMatch(t, []string{testLabels.Ignored, testLabels.Processed}, add)

	add, _ = p.LabelChanges(Decision{State: StateSkipped, Action: models.ActionSkippedNoReplyTo}, "")
	assert.Equal(t, []string{testLabels.Processed}, add)

	add, _ = p.LabelChanges(Decision{State: StateSkipped, Action: models.ActionSkippedAutoMessage}, "")
	assert.ElementsMatch(t, []string{testLabels.Processed, testLabels.Ignored}, add)

	add, remove = p.LabelChanges(Errored(), models.IntentOrderStatus)
	assert.Equal(t, []string{testLabels.Error, testLabels.Processed}, add)
	assert.Empty(t, remove)

	blank := New(Config{})
	add, _ = blank.LabelChanges(Decision{State: StateReplied}, models.IntentOrderStatus)
	assert.Empty(t, add)
}

func TestLearningOutcome(t *testing.T) {
	tests := []struct {
		state  State
		intent models.Intent
		want   models.FinalAction
		ok     bool
	}{
		{StateSuppressed, "", models.FinalIgnored, true},
		{StateNonSupport, models.IntentRefund, models.FinalIgnored, true},
		{StateReplied, models.IntentOrderStatus, models.FinalOrders, true},
		{StateQuietAcked, models.IntentGeneralSupport, models.FinalSupport, true},
		{StateLabeled, models.IntentReturnExchange, models.FinalOrders, true},
		{StateSkipped, "", "", false},
		{StateDuplicateOrCooldown, models.IntentOrderStatus, "", false},
		{StateErrored, models.IntentOrderStatus, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, ok := LearningOutcome(Decision{State: tt.state}, tt.intent)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuietHoursAck(t *testing.T) {
	assert.Equal(t,
		"Hi,\n\nWe received your message at Oubon Shop. We'll reply during business hours.\n\n— The Oubon Team",
		QuietHoursAck("Oubon Shop", "— The Oubon Team"))
	assert.Equal(t,
		"Hi,\n\nWe received your message at Oubon Shop. We'll reply during business hours.",
		QuietHoursAck("Oubon Shop", ""))
}
