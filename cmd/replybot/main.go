package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/mixelka/replybot/internal/aireply"
	"github.com/mixelka/replybot/internal/classifier"
	"github.com/mixelka/replybot/internal/config"
	"github.com/mixelka/replybot/internal/database"
	"github.com/mixelka/replybot/internal/email"
	"github.com/mixelka/replybot/internal/formatter"
	"github.com/mixelka/replybot/internal/gmail"
	"github.com/mixelka/replybot/internal/httpapi"
	"github.com/mixelka/replybot/internal/learning"
	"github.com/mixelka/replybot/internal/policy"
	"github.com/mixelka/replybot/internal/poller"
	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/internal/shopify"
	"github.com/mixelka/replybot/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting replybot", "provider", cfg.MailProvider)

	if err := run(cfg, logger); err != nil {
		logger.Error("replybot failed", "error", err)
		os.Exit(1)
	}

	logger.Info("replybot stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	actions := database.NewActionStore(db)
	rules := database.NewRuleStore(db)
	engine := learning.NewEngine(learning.Deps{
		Store:      rules,
		MinSupport: cfg.LearningMinSupport,
		Logger:     logger,
	})

	mail, closeMail, err := newMailClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMail()

	replies := aireply.New(aireply.Config{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	}, logger)
	if replies.RefinementEnabled() {
		logger.Info("AI reply refinement enabled", "model", cfg.AIModel)
	}

	var orders poller.OrderLookup
	if cfg.ShopifyEnabled() {
		orders = shopify.NewClient(shopify.Config{
			Store:       cfg.ShopifyStore,
			AccessToken: cfg.ShopifyToken,
			APIVersion:  cfg.ShopifyAPIVersion,
		})
		logger.Info("shopify integration enabled", "store", cfg.ShopifyStore)
	}

	var (
		bot      *telegram.Bot
		notifier poller.Notifier
	)
	if cfg.TelegramEnabled() {
		bot, err = telegram.NewBot(telegram.BotDeps{
			Token:     cfg.TelegramToken,
			ChatID:    cfg.TelegramChatID,
			Rules:     engine,
			Formatter: formatter.NewTelegramFormatter(cfg.QuietLocation),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		notifier = bot
	}

	p := poller.New(poller.Deps{
		Mail:       mail,
		Replies:    replies,
		Orders:     orders,
		Notifier:   notifier,
		Store:      actions,
		Learning:   engine,
		Classifier: classifier.New(engine, logger),
		Policy: policy.New(policy.Config{
			Labels: policy.Labels{
				Support:     cfg.Label(cfg.LabelSupport),
				Orders:      cfg.Label(cfg.LabelOrders),
				AutoReplied: cfg.Label(cfg.LabelAutoReplied),
				Ignored:     cfg.Label(cfg.LabelIgnored),
				Error:       cfg.Label(cfg.LabelError),
				Processed:   cfg.Label(cfg.LabelProcessed),
			},
			IgnoreDomains:   cfg.IgnoreDomains,
			SenderPatterns:  cfg.SenderPatterns,
			SubjectPatterns: cfg.SubjectPatterns,
			AutoReply:       cfg.AutoReply,
		}),
		Config: poller.Config{
			PollInterval:    cfg.PollInterval,
			PromoteInterval: cfg.PromoteInterval,
			BatchSize:       cfg.BatchSize,
			CooldownHours:   cfg.CooldownHours,
			Quiet:           cfg.QuietWindow(),
			ReplyFrom:       cfg.ReplyFrom(),
			ReplyFromName:   cfg.SupportFromName,
			Brand:           cfg.BrandName,
			Signature:       cfg.Signature,
			MinSupport:      cfg.LearningMinSupport,
			MinIgnoreRatio:  cfg.LearningMinIgnoreRatio,
			Retry: retry.BackoffConfig{
				MaxAttempts:     cfg.RetryAttempts,
				InitialInterval: cfg.RetryBaseDelay,
				MaxInterval:     cfg.RetryMaxDelay,
				Multiplier:      2,
			},
		},
		Logger: logger,
	})

	api := httpapi.New(httpapi.Deps{
		Addr:    cfg.HTTPAddr,
		APIKey:  cfg.HTTPAPIKey,
		Worker:  p,
		Rules:   engine,
		Actions: actions,
		DB:      db,
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AutoStart {
		p.Start(gctx)
	} else {
		logger.Info("poller autostart disabled, waiting for a start command")
	}
	g.Go(func() error {
		<-gctx.Done()
		p.Stop()
		return nil
	})

	g.Go(func() error {
		return api.Run(gctx)
	})

	if bot != nil {
		bot.SetWorker(p)
		g.Go(func() error {
			bot.Start(gctx)
			return nil
		})
	}

	logger.Info("replybot is running, press Ctrl+C to stop")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newMailClient builds the configured MailClient and its cleanup
func newMailClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (poller.MailClient, func(), error) {
	switch cfg.MailProvider {
	case config.ProviderIMAP:
		smtpUser, smtpPass := cfg.SMTPUsername, cfg.SMTPPassword
		if smtpUser == "" {
			smtpUser, smtpPass = cfg.IMAPUsername, cfg.IMAPPassword
		}
		smtpServer := cfg.SMTPServer
		if smtpServer == "" {
			resolved, err := email.ResolveSMTPServer(smtpUser)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to resolve SMTP server: %w", err)
			}
			smtpServer = resolved
		}

		sender := email.NewSender(email.SMTPConfig{
			Server:   smtpServer,
			Username: smtpUser,
			Password: smtpPass,
		}, logger)

		client, err := email.NewClient(email.ClientConfig{
			Username:    cfg.IMAPUsername,
			Password:    cfg.IMAPPassword,
			Server:      cfg.IMAPServer,
			Mailbox:     cfg.IMAPMailbox,
			DialTimeout: cfg.IMAPDialTimeout,
		}, sender, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using IMAP mailbox", "email", cfg.IMAPUsername, "smtp", smtpServer)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close IMAP connection", "error", err)
			}
		}
		return client, closeFn, nil

	default:
		client, err := gmail.New(ctx, gmail.Config{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RefreshToken: cfg.GmailRefreshToken,
			User:         cfg.GmailUser,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using Gmail API", "user", cfg.GmailUser)
		return client, func() {}, nil
	}
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
