package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/replybot/internal/quiethours"
)

func setGmailEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MAIL_PROVIDER", "gmail")
	t.Setenv("GMAIL_CLIENT_ID", "id")
	t.Setenv("GMAIL_CLIENT_SECRET", "secret")
	t.Setenv("GMAIL_REFRESH_TOKEN", "refresh")
}

func TestLoadDefaults(t *testing.T) {
	setGmailEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 24, cfg.CooldownHours)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 3*time.Minute, cfg.PromoteInterval)
	assert.Equal(t, quiethours.Clock(22, 0, 0), cfg.QuietStart)
	assert.Equal(t, quiethours.Clock(7, 0, 0), cfg.QuietEnd)
	assert.Equal(t, time.UTC, cfg.QuietLocation)
	assert.Equal(t, "[Ospra] Auto Replied", cfg.Label(cfg.LabelAutoReplied))
	assert.False(t, cfg.ShopifyEnabled())
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoadParsesListsAndPatterns(t *testing.T) {
	setGmailEnv(t)
	t.Setenv("IGNORE_DOMAINS", " News.Example ,@promo.example,,")
	t.Setenv("IGNORE_SENDER_PATTERNS", "^bot@;noreply")
	t.Setenv("IGNORE_SUBJECT_PATTERNS", "weekly digest")
	t.Setenv("QUIET_HOURS_START", "21:30")
	t.Setenv("QUIET_HOURS_TIMEZONE", "America/New_York")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"news.example", "promo.example"}, cfg.IgnoreDomains)
	require.Len(t, cfg.SenderPatterns, 2)
	assert.True(t, cfg.SenderPatterns[0].MatchString("BOT@x.example"))
	require.Len(t, cfg.SubjectPatterns, 1)
	assert.True(t, cfg.SubjectPatterns[0].MatchString("Your Weekly Digest"))
	assert.Equal(t, "21:30", cfg.QuietStart.String())
	assert.Equal(t, "America/New_York", cfg.QuietLocation.String())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown provider", "MAIL_PROVIDER", "pop3"},
		{"bad timezone", "QUIET_HOURS_TIMEZONE", "Mars/Olympus"},
		{"bad override", "QUIET_HOURS_OVERRIDE", "sometimes"},
		{"bad quiet start", "QUIET_HOURS_START", "25:00"},
		{"bad pattern", "IGNORE_SUBJECT_PATTERNS", "(unclosed"},
		{"zero batch", "BATCH_SIZE", "0"},
		{"ratio above one", "LEARNING_MIN_IGNORE_RATIO", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setGmailEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadIMAPRequiresCredentials(t *testing.T) {
	t.Setenv("MAIL_PROVIDER", "imap")
	t.Setenv("IMAP_USERNAME", "")
	t.Setenv("IMAP_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("IMAP_USERNAME", "support@shop.example")
	t.Setenv("IMAP_PASSWORD", "pw")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "support@shop.example", cfg.ReplyFrom())
}

func TestQuietWindow(t *testing.T) {
	setGmailEnv(t)
	t.Setenv("QUIET_HOURS_OVERRIDE", "quiet")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.QuietWindow().IsQuiet(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}
