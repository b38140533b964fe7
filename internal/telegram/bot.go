package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/replybot/internal/formatter"
	"github.com/mixelka/replybot/internal/poller"
	appmodels "github.com/mixelka/replybot/pkg/models"
)

// Worker is the inbox worker the bot controls
type Worker interface {
	Status() appmodels.WorkerStatus
	RunOnce(ctx context.Context) (poller.TickReport, error)
	Promote(ctx context.Context) (int, error)
	Start(ctx context.Context) bool
	Stop()
}

// RuleLister lists learned rules
type RuleLister interface {
	Rules(ctx context.Context, limit int) ([]appmodels.LearnedRule, error)
}

// Bot represents the Telegram bot
type Bot struct {
	bot       *bot.Bot
	chatID    int64
	worker    Worker
	rules     RuleLister
	formatter *formatter.TelegramFormatter
	logger    *slog.Logger

	// workerCtx is the parent context for worker loops started from chat
	workerCtx context.Context
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Token     string
	ChatID    int64
	Worker    Worker
	Rules     RuleLister
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
	Options   []bot.Option
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := deps.Formatter
	if f == nil {
		f = formatter.NewTelegramFormatter(nil)
	}

	b := &Bot{
		chatID:    deps.ChatID,
		worker:    deps.Worker,
		rules:     deps.Rules,
		formatter: f,
		logger:    logger.With("component", "telegram_bot"),
		workerCtx: context.Background(),
	}

	opts := append([]bot.Option{bot.WithDefaultHandler(b.defaultHandler)}, deps.Options...)

	tgBot, err := bot.New(deps.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.handleStatus)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/run", bot.MatchTypePrefix, b.handleRun)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/promote", bot.MatchTypePrefix, b.handlePromote)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/rules", bot.MatchTypePrefix, b.handleRules)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/pause", bot.MatchTypePrefix, b.handlePause)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/resume", bot.MatchTypePrefix, b.handleResume)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// SetWorker attaches the worker the commands control. It must be called
// before Start.
func (b *Bot) SetWorker(w Worker) {
	b.worker = w
}

// Start starts the bot and blocks until ctx is done. Worker loops resumed
// from chat inherit ctx.
func (b *Bot) Start(ctx context.Context) {
	b.workerCtx = ctx
	b.logger.Info("starting telegram bot", "chat_id", b.chatID)
	b.bot.Start(ctx)
}

// Notify sends an alert to the operator chat
func (b *Bot) Notify(ctx context.Context, text string) error {
	if _, err := b.send(ctx, b.chatID, 0, b.formatter.FormatAlert(text), nil); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	if update.Message.Text != "" && update.Message.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", update.Message.Text)
	}
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleHelp(ctx, tgBot, update)
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.fromOperatorChat(msg) {
		return
	}

	text := `<b>Replybot</b>

Answers support mail, labels the rest and learns which senders to ignore.

<b>Commands:</b>
/status - worker state and counters
/run - process one batch now
/promote - turn learning events into rules now
/rules - list learned rules
/pause - stop the background worker
/resume - start the background worker

Alerts about replies, ignored senders and errors are posted to this chat.`

	b.reply(ctx, msg, text)
}
