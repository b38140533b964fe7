package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/replybot/internal/formatter"
	"github.com/mixelka/replybot/internal/poller"
	appmodels "github.com/mixelka/replybot/pkg/models"
)

const rulesListLimit = 30

// handleStatus handles /status command
func (b *Bot) handleStatus(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}

	st := b.worker.Status()
	if _, err := b.send(ctx, msg.Chat.ID, msg.MessageThreadID,
		b.formatter.FormatStatus(st), formatter.BuildStatusKeyboard(st.Running)); err != nil {
		b.logger.Error("failed to send status", "error", err)
	}
}

// handleRun handles /run command
func (b *Bot) handleRun(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}
	if !b.canControl(ctx, msg.Chat, msg.From) {
		b.reply(ctx, msg, "Only chat admins can run the worker")
		return
	}

	b.reply(ctx, msg, b.runOnce(ctx))
}

// handlePromote handles /promote command
func (b *Bot) handlePromote(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}
	if !b.canControl(ctx, msg.Chat, msg.From) {
		b.reply(ctx, msg, "Only chat admins can promote rules")
		return
	}

	b.reply(ctx, msg, b.promote(ctx))
}

// handleRules handles /rules command
func (b *Bot) handleRules(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}
	if b.rules == nil {
		b.reply(ctx, msg, "Rule listing is not available")
		return
	}

	rules, err := b.rules.Rules(ctx, rulesListLimit)
	if err != nil {
		b.logger.Error("failed to list rules", "error", err)
		b.reply(ctx, msg, "Failed to list rules")
		return
	}

	b.reply(ctx, msg, b.formatter.FormatRules(rules))
}

// handlePause handles /pause command
func (b *Bot) handlePause(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}
	if !b.canControl(ctx, msg.Chat, msg.From) {
		b.reply(ctx, msg, "Only chat admins can pause the worker")
		return
	}

	b.reply(ctx, msg, b.pause())
}

// handleResume handles /resume command
func (b *Bot) handleResume(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}
	if !b.canControl(ctx, msg.Chat, msg.From) {
		b.reply(ctx, msg, "Only chat admins can resume the worker")
		return
	}

	b.reply(ctx, msg, b.resume())
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	chat, msgID, ok := callbackOrigin(callback)
	if !ok || chat.ID != b.chatID {
		b.answerCallback(ctx, callback.ID, "Not allowed here", false)
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	if data.Action != appmodels.CallbackRefresh && !b.canControl(ctx, chat, &callback.From) {
		b.answerCallback(ctx, callback.ID, "Only chat admins can do this", true)
		return
	}

	var notice string
	switch data.Action {
	case appmodels.CallbackRefresh:
		notice = "Refreshed"
	case appmodels.CallbackRunNow:
		notice = stripTags(b.runOnce(ctx))
	case appmodels.CallbackPromote:
		notice = b.promote(ctx)
	case appmodels.CallbackPause:
		notice = b.pause()
	case appmodels.CallbackResume:
		notice = b.resume()
	default:
		b.answerCallback(ctx, callback.ID, "Unknown action", false)
		return
	}

	st := b.worker.Status()
	if err := b.editMessage(ctx, chat.ID, msgID, b.formatter.FormatStatus(st), formatter.BuildStatusKeyboard(st.Running)); err != nil {
		b.logger.Debug("failed to refresh status message", "error", err)
	}
	b.answerCallback(ctx, callback.ID, notice, data.Action == appmodels.CallbackRunNow)
}

func (b *Bot) runOnce(ctx context.Context) string {
	report, err := b.worker.RunOnce(ctx)
	switch {
	case errors.Is(err, poller.ErrTickInProgress):
		return "A tick is already running"
	case err != nil:
		b.logger.Error("manual tick failed", "error", err)
		return "Tick failed: " + formatter.EscapeHTML(err.Error())
	}
	return b.formatter.FormatTickReport(report)
}

func (b *Bot) promote(ctx context.Context) string {
	n, err := b.worker.Promote(ctx)
	if err != nil {
		b.logger.Error("manual promotion failed", "error", err)
		return "Promotion failed"
	}
	return fmt.Sprintf("Rules written: %d", n)
}

func (b *Bot) pause() string {
	if !b.worker.Status().Running {
		return "Worker is already paused"
	}
	b.worker.Stop()
	b.logger.Info("worker paused from telegram")
	return "Worker paused"
}

func (b *Bot) resume() string {
	if !b.worker.Start(b.workerCtx) {
		return "Worker is already running"
	}
	b.logger.Info("worker resumed from telegram")
	return "Worker resumed"
}

// callbackOrigin returns the chat and message a callback button belongs to
func callbackOrigin(cb *models.CallbackQuery) (models.Chat, int, bool) {
	switch {
	case cb.Message.Message != nil:
		return cb.Message.Message.Chat, cb.Message.Message.ID, true
	case cb.Message.InaccessibleMessage != nil:
		return cb.Message.InaccessibleMessage.Chat, cb.Message.InaccessibleMessage.MessageID, true
	}
	return models.Chat{}, 0, false
}
