package poller

import (
	"context"
	"log/slog"

	"github.com/mixelka/replybot/internal/policy"
	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/pkg/models"
)

// resolveLabels makes sure every configured label exists in the mailbox.
// Labels that cannot be created are retried on the next tick.
func (p *Poller) resolveLabels(ctx context.Context) {
	l := p.policy.Labels()
	for _, name := range []string{l.Support, l.Orders, l.AutoReplied, l.Ignored, l.Error, l.Processed} {
		if name == "" {
			continue
		}
		if _, ok := p.labels[name]; ok {
			continue
		}

		id, err := retry.Do(ctx, p.retryConfig("ensure_label"), func(ctx context.Context) (string, error) {
			return p.mail.EnsureLabel(ctx, name)
		})
		if err != nil {
			p.logger.Warn("failed to ensure label", "label", name, "error", err)
			continue
		}
		p.labels[name] = id
	}
}

// labelIDs maps label names to provider IDs, dropping unresolved ones
func (p *Poller) labelIDs(names []string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if name == policy.SystemUnread {
			ids = append(ids, name)
			continue
		}
		if id, ok := p.labels[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// applyLabels changes the labels of one message. Failures are logged;
// labels never decide the recorded outcome.
func (p *Poller) applyLabels(ctx context.Context, o *outcome, add, remove []string) {
	addIDs, removeIDs := p.labelIDs(add), p.labelIDs(remove)
	if len(addIDs) == 0 && len(removeIDs) == 0 {
		return
	}

	err := retry.Run(ctx, p.retryConfig("modify_labels"), func(ctx context.Context) error {
		return p.mail.ModifyLabels(ctx, o.msg.ID, addIDs, removeIDs)
	})
	if err != nil {
		o.logger.Warn("failed to modify labels", "add", add, "remove", remove, "error", err)
	}
}

// markProcessed puts the Processed label on an already recorded message
// whose earlier label write failed. Unread is left alone since errored
// messages keep it. Single attempt, no ledger writes.
func (p *Poller) markProcessed(ctx context.Context, msg *models.InboundMessage, logger *slog.Logger) {
	labelID := p.labels[p.policy.Labels().Processed]
	if labelID == "" {
		return
	}
	if err := p.mail.ModifyLabels(ctx, msg.ID, []string{labelID}, nil); err != nil {
		logger.Warn("failed to re-mark processed message", "error", err)
	}
}

// labelThread puts the auto-reply label on every message of the thread
// so older unseen messages count as answered too
func (p *Poller) labelThread(ctx context.Context, o *outcome) {
	labelID := p.labels[p.policy.Labels().AutoReplied]
	if labelID == "" {
		return
	}

	thread := p.fetchThread(ctx, o)
	if thread == nil {
		thread = o.thread
	}

	ids := []string{o.msg.ID}
	if thread != nil {
		for _, m := range thread.Messages {
			if m.ID != o.msg.ID {
				ids = append(ids, m.ID)
			}
		}
	}

	for _, id := range ids {
		err := retry.Run(ctx, p.retryConfig("label_thread"), func(ctx context.Context) error {
			return p.mail.ModifyLabels(ctx, id, []string{labelID}, nil)
		})
		if err != nil {
			o.logger.Warn("failed to label thread message", "message", id, "error", err)
		}
	}
}
