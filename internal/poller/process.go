package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mixelka/replybot/internal/classifier"
	"github.com/mixelka/replybot/internal/metrics"
	"github.com/mixelka/replybot/internal/policy"
	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/pkg/models"
)

// outcome accumulates what is known about a message while it moves
// through the pipeline
type outcome struct {
	msg     *models.InboundMessage
	key     string
	started time.Time
	thread  *models.Thread
	result  classifier.Result
	meta    models.Metadata
	logger  *slog.Logger
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorage, op, err)
}

// process runs one message to a terminal state. The returned action is
// empty when the message had already been processed. A non-nil error is
// always a storage failure.
func (p *Poller) process(ctx context.Context, msg *models.InboundMessage) (models.Action, error) {
	key := msg.Key()
	logger := p.logger.With("message_id", key, "thread_id", msg.ThreadID)

	done, err := p.store.HasProcessed(ctx, key)
	if err != nil {
		return "", storageErr("check processed message", err)
	}
	if done {
		logger.Debug("message already processed")
		p.markProcessed(ctx, msg, logger)
		return "", nil
	}

	o := &outcome{
		msg:     msg,
		key:     key,
		started: p.now(),
		meta:    models.NewMetadata().String(models.MetaThreadID, msg.ThreadID),
		logger:  logger,
	}

	if d := p.policy.Screen(msg); !d.Continue() {
		o.meta.String(models.MetaFrom, msg.From)
		return p.finish(ctx, o, d)
	}

	o.thread = p.fetchThread(ctx, o)

	res, err := p.classify.Classify(ctx, msg.Sender, msg.Subject, msg.BodyText)
	if err != nil {
		return p.fail(ctx, o, fmt.Errorf("failed to classify message: %w", err))
	}
	o.result = res
	if res.Suppressed {
		metrics.Classifications.WithLabelValues("SUPPRESSED", string(res.Source)).Inc()
	} else {
		metrics.Classifications.WithLabelValues(string(res.Intent), string(res.Source)).Inc()
	}

	if d := p.policy.Judge(msg, res); !d.Continue() {
		return p.finish(ctx, o, d)
	}

	signals, err := p.threadSignals(ctx, o)
	if err != nil {
		return "", err
	}
	if d := p.policy.CheckThread(signals); !d.Continue() {
		return p.finish(ctx, o, d)
	}

	return p.respond(ctx, o)
}

func (p *Poller) threadSignals(ctx context.Context, o *outcome) (policy.ThreadSignals, error) {
	var s policy.ThreadSignals

	if labelID := p.labels[p.policy.Labels().AutoReplied]; labelID != "" {
		if o.thread != nil {
			s.AutoReplyLabel = o.thread.HasLabel(labelID)
		} else {
			has, err := retry.Do(ctx, p.retryConfig("thread_has_label"), func(ctx context.Context) (bool, error) {
				return p.mail.ThreadHasLabel(ctx, o.msg.ThreadID, labelID)
			})
			if err != nil {
				o.logger.Warn("failed to check thread label", "error", err)
			}
			s.AutoReplyLabel = has
		}
	}

	s.OutgoingReply = o.thread.HasOutgoingFrom(p.cfg.ReplyFrom)

	recent, err := p.store.RecentReply(ctx, o.msg.ThreadID, p.cfg.CooldownHours)
	if err != nil {
		return s, storageErr("check thread cooldown", err)
	}
	s.RecentReply = recent

	return s, nil
}

// respond handles an eligible message: pick the reply, send it, then
// mark the thread as answered
func (p *Poller) respond(ctx context.Context, o *outcome) (models.Action, error) {
	intent := o.result.Intent

	var orderStatus *models.OrderStatus
	if no := o.result.OrderNumber; no != "" {
		o.meta.String(models.MetaOrderNo, no)
		orderStatus = p.lookupOrder(ctx, o, no)
		if orderStatus != nil {
			o.meta.String(models.MetaOrderStatus, orderStatus.Status)
		}
	}

	quiet := p.cfg.Quiet.IsQuiet(p.now())
	o.meta.Bool(models.MetaQuietHours, quiet)
	plan := p.policy.Plan(intent, quiet)

	var text string
	switch plan {
	case policy.ReplyQuietAck:
		text = policy.QuietHoursAck(p.cfg.Brand, p.cfg.Signature)
	case policy.ReplyGenerate:
		req := models.ReplyRequest{
			Subject:     o.msg.Subject,
			Body:        o.msg.BodyText,
			OrderStatus: orderStatus,
			Brand:       p.cfg.Brand,
			Signature:   p.cfg.Signature,
		}
		generated, err := retry.Do(ctx, p.retryConfig("smart_reply"), func(ctx context.Context) (string, error) {
			return p.replies.SmartReply(ctx, req)
		})
		if err != nil {
			return p.fail(ctx, o, fmt.Errorf("failed to generate reply: %w", err))
		}
		text = generated
	}

	sent := false
	if strings.TrimSpace(text) != "" {
		reply := models.OutgoingReply{
			To:         o.msg.Sender,
			Subject:    o.msg.Subject,
			InReplyTo:  o.msg.Header("message-id"),
			References: o.msg.Header("references"),
			Body:       text,
			FromAlias:  p.cfg.ReplyFrom,
			FromName:   p.cfg.ReplyFromName,
		}
		replyID, err := retry.Do(ctx, p.retryConfig("send_reply"), func(ctx context.Context) (string, error) {
			return p.mail.SendReply(ctx, o.msg.ThreadID, reply)
		})
		if err != nil {
			return p.fail(ctx, o, fmt.Errorf("failed to send reply: %w", err))
		}
		sent = true
		o.meta.String(models.MetaReplyMessageID, replyID)

		if err := p.store.RecordReply(ctx, o.msg.ThreadID); err != nil {
			// the mailbox label still guards the thread against a second reply
			p.labelThread(ctx, o)
			return "", storageErr("record thread reply", err)
		}
		p.labelThread(ctx, o)
	}

	return p.finish(ctx, o, p.policy.Finalize(plan, text, sent))
}

// fail settles a message whose collaborator calls kept failing
func (p *Poller) fail(ctx context.Context, o *outcome, cause error) (models.Action, error) {
	o.logger.Error("message failed", "error", cause)
	p.noteError(cause)
	o.meta.String(models.MetaError, cause.Error())
	return p.finish(ctx, o, policy.Errored())
}

// finish applies labels, writes the action record and the learning
// event for a terminal decision
func (p *Poller) finish(ctx context.Context, o *outcome, d policy.Decision) (models.Action, error) {
	intent := o.result.Intent

	add, remove := p.policy.LabelChanges(d, intent)
	p.applyLabels(ctx, o, add, remove)

	meta := o.meta.
		String(models.MetaReason, d.Reason).
		String(models.MetaClassification, string(intent)).
		String(models.MetaSource, string(o.result.Source)).
		String(models.MetaLabels, strings.Join(add, ","))
	if d.State == policy.StateSuppressed {
		meta.String(models.MetaEmail, o.msg.Sender).String(models.MetaSubject, o.msg.Subject)
	}
	duration := p.now().Sub(o.started)
	meta.Int(models.MetaDurationMS, duration.Milliseconds())

	if err := p.store.Record(ctx, o.key, d.Action, meta); err != nil {
		return "", storageErr("record action", err)
	}

	if final, ok := policy.LearningOutcome(d, intent); ok {
		if err := p.learning.RecordOutcome(ctx, o.msg.Sender, o.msg.Subject, final); err != nil {
			return "", storageErr("record learning outcome", err)
		}
	}

	p.mu.Lock()
	p.processedTotal++
	if d.State == policy.StateReplied || d.State == policy.StateQuietAcked {
		p.repliedTotal++
	}
	p.mu.Unlock()

	metrics.RecordMessage(string(d.Action), duration)
	o.logger.Info("message processed",
		"action", d.Action,
		"reason", d.Reason,
		"classification", intent,
		"duration_ms", duration.Milliseconds(),
	)

	switch d.Action {
	case models.ActionIgnoredSender:
		p.alert(ctx, fmt.Sprintf("Ignored sender %s · subject='%s'", o.msg.Sender, truncate(o.msg.Subject, 80)))
	case models.ActionQuietAck:
		metrics.RepliesSent.WithLabelValues("quiet_ack").Inc()
		p.alert(ctx, fmt.Sprintf("Quiet-hours ack sent to %s · intent=%s", o.msg.Sender, intent))
	case models.ActionReplied:
		metrics.RepliesSent.WithLabelValues("generated").Inc()
		p.alert(ctx, fmt.Sprintf("AI reply sent to %s · intent=%s", o.msg.Sender, intent))
	case models.ActionError:
		p.alert(ctx, fmt.Sprintf("Inbox worker error on %s: %s", o.key, o.meta[models.MetaError]))
	}

	return d.Action, nil
}

func (p *Poller) fetchThread(ctx context.Context, o *outcome) *models.Thread {
	thread, err := retry.Do(ctx, p.retryConfig("get_thread"), func(ctx context.Context) (*models.Thread, error) {
		return p.mail.GetThread(ctx, o.msg.ThreadID)
	})
	if err != nil {
		o.logger.Warn("failed to fetch thread", "error", err)
		return nil
	}
	return thread
}

func (p *Poller) lookupOrder(ctx context.Context, o *outcome, name string) *models.OrderStatus {
	if p.orders == nil {
		return nil
	}
	order, err := retry.Do(ctx, p.retryConfig("order_lookup"), func(ctx context.Context) (*models.Order, error) {
		return p.orders.GetOrderByName(ctx, name)
	})
	if err != nil {
		o.logger.Warn("order lookup failed", "order_no", name, "error", err)
		return nil
	}
	return order.Summarize()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
