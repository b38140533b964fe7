package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mixelka/replybot/internal/quiethours"
)

// Mail providers
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Config application configuration
type Config struct {
	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/replybot.db"`

	// Poller
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"60s"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"20"`
	AutoStart       bool          `env:"POLLER_AUTOSTART" envDefault:"true"`
	AutoReply       bool          `env:"AUTO_REPLY_ENABLED" envDefault:"true"`
	CooldownHours   int           `env:"REPLY_COOLDOWN_HOURS" envDefault:"24"`
	RetryAttempts   int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay   time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	PromoteInterval time.Duration `env:"LEARNING_PROMOTE_INTERVAL" envDefault:"3m"`

	// Mail provider
	MailProvider string `env:"MAIL_PROVIDER" envDefault:"gmail"`

	// Gmail API
	GmailClientID     string `env:"GMAIL_CLIENT_ID"`
	GmailClientSecret string `env:"GMAIL_CLIENT_SECRET"`
	GmailRefreshToken string `env:"GMAIL_REFRESH_TOKEN"`
	GmailUser         string `env:"GMAIL_USER" envDefault:"me"`

	// IMAP / SMTP
	IMAPServer      string        `env:"IMAP_SERVER"` // host:port, resolved from the address when empty
	IMAPUsername    string        `env:"IMAP_USERNAME"`
	IMAPPassword    string        `env:"IMAP_PASSWORD"`
	IMAPMailbox     string        `env:"IMAP_MAILBOX" envDefault:"INBOX"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	SMTPServer      string        `env:"SMTP_SERVER"` // host:port
	SMTPUsername    string        `env:"SMTP_USERNAME"`
	SMTPPassword    string        `env:"SMTP_PASSWORD"`

	// Labels
	LabelPrefix      string `env:"LABEL_PREFIX" envDefault:"[Ospra]"`
	LabelSupport     string `env:"LABEL_SUPPORT" envDefault:"Support"`
	LabelOrders      string `env:"LABEL_ORDERS" envDefault:"Orders"`
	LabelAutoReplied string `env:"LABEL_AUTO_REPLIED" envDefault:"Auto Replied"`
	LabelIgnored     string `env:"LABEL_IGNORED" envDefault:"Auto Ignored"`
	LabelError       string `env:"LABEL_ERROR" envDefault:"Admin"`
	LabelProcessed   string `env:"LABEL_PROCESSED" envDefault:"Processed"`

	// Quiet hours
	QuietStart    quiethours.TimeOfDay `env:"QUIET_HOURS_START" envDefault:"22:00"`
	QuietEnd      quiethours.TimeOfDay `env:"QUIET_HOURS_END" envDefault:"07:00"`
	QuietTimezone string               `env:"QUIET_HOURS_TIMEZONE" envDefault:"UTC"`
	QuietOverride string               `env:"QUIET_HOURS_OVERRIDE" envDefault:"auto"` // auto, day, quiet

	// Static suppression
	IgnoreDomains         []string `env:"IGNORE_DOMAINS" envSeparator:","`
	IgnoreSenderPatterns  []string `env:"IGNORE_SENDER_PATTERNS" envSeparator:";"`
	IgnoreSubjectPatterns []string `env:"IGNORE_SUBJECT_PATTERNS" envSeparator:";"`

	// Reply content
	BrandName       string `env:"BRAND_NAME" envDefault:"Support Team"`
	SupportFromName string `env:"SUPPORT_FROM_NAME"`
	SupportFrom     string `env:"SUPPORT_FROM_EMAIL"`
	Signature       string `env:"SIGNATURE"`

	// Learning
	LearningMinSupport     int     `env:"LEARNING_MIN_SUPPORT" envDefault:"4"`
	LearningMinIgnoreRatio float64 `env:"LEARNING_MIN_IGNORE_RATIO" envDefault:"0.85"`

	// AI refinement (optional, OpenAI-compatible)
	AIBaseURL string        `env:"AI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AIAPIKey  string        `env:"AI_API_KEY"`
	AIModel   string        `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	AITimeout time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`

	// Shopify integration (optional)
	ShopifyStore      string `env:"SHOPIFY_STORE"` // e.g., my-shop.myshopify.com
	ShopifyToken      string `env:"SHOPIFY_ACCESS_TOKEN"`
	ShopifyAPIVersion string `env:"SHOPIFY_API_VERSION" envDefault:"2024-07"`

	// Telegram alerts (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// HTTP control API
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	HTTPAPIKey string `env:"HTTP_API_KEY"`

	// Derived in Load
	QuietLocation   *time.Location
	SenderPatterns  []*regexp.Regexp
	SubjectPatterns []*regexp.Regexp
}

// ShopifyEnabled returns true if Shopify integration is configured
func (c *Config) ShopifyEnabled() bool {
	return c.ShopifyStore != "" && c.ShopifyToken != ""
}

// TelegramEnabled returns true if Telegram alerts are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// AIEnabled returns true if an AI endpoint key is configured
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

// Label returns the full provider label name for a short name
func (c *Config) Label(name string) string {
	if c.LabelPrefix == "" {
		return name
	}
	return c.LabelPrefix + " " + name
}

// QuietWindow returns the configured quiet-hours window
func (c *Config) QuietWindow() quiethours.Window {
	return quiethours.Window{
		Start:    c.QuietStart,
		End:      c.QuietEnd,
		Location: c.QuietLocation,
		Mode:     quiethours.Mode(c.QuietOverride),
	}
}

// ReplyFrom returns the From address used for replies
func (c *Config) ReplyFrom() string {
	if c.SupportFrom != "" {
		return c.SupportFrom
	}
	if c.MailProvider == ProviderIMAP {
		return c.IMAPUsername
	}
	return ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) finalize() error {
	c.MailProvider = strings.ToLower(strings.TrimSpace(c.MailProvider))
	switch c.MailProvider {
	case ProviderGmail:
		if c.GmailClientID == "" || c.GmailClientSecret == "" || c.GmailRefreshToken == "" {
			return fmt.Errorf("GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET and GMAIL_REFRESH_TOKEN are required for the gmail provider")
		}
	case ProviderIMAP:
		if c.IMAPUsername == "" || c.IMAPPassword == "" {
			return fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required for the imap provider")
		}
	default:
		return fmt.Errorf("MAIL_PROVIDER must be %q or %q, got %q", ProviderGmail, ProviderIMAP, c.MailProvider)
	}

	switch quiethours.Mode(c.QuietOverride) {
	case quiethours.ModeAuto, quiethours.ModeDay, quiethours.ModeQuiet:
	default:
		return fmt.Errorf("QUIET_HOURS_OVERRIDE must be auto, day or quiet, got %q", c.QuietOverride)
	}

	loc, err := time.LoadLocation(c.QuietTimezone)
	if err != nil {
		return fmt.Errorf("invalid QUIET_HOURS_TIMEZONE %q: %w", c.QuietTimezone, err)
	}
	c.QuietLocation = loc

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts)
	}
	if c.LearningMinSupport <= 0 {
		return fmt.Errorf("LEARNING_MIN_SUPPORT must be positive, got %d", c.LearningMinSupport)
	}
	if c.LearningMinIgnoreRatio <= 0 || c.LearningMinIgnoreRatio > 1 {
		return fmt.Errorf("LEARNING_MIN_IGNORE_RATIO must be in (0, 1], got %v", c.LearningMinIgnoreRatio)
	}

	c.IgnoreDomains = normalizeDomains(c.IgnoreDomains)

	if c.SenderPatterns, err = compilePatterns("IGNORE_SENDER_PATTERNS", c.IgnoreSenderPatterns); err != nil {
		return err
	}
	if c.SubjectPatterns, err = compilePatterns("IGNORE_SUBJECT_PATTERNS", c.IgnoreSubjectPatterns); err != nil {
		return err
	}

	return nil
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "@")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// compilePatterns compiles case-insensitive patterns, skipping blanks
func compilePatterns(key string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
