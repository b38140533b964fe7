package formatter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mixelka/replybot/internal/poller"
	"github.com/mixelka/replybot/pkg/models"
)

// TelegramFormatter renders operator messages as Telegram HTML
type TelegramFormatter struct {
	maxLength int
	loc       *time.Location
}

// NewTelegramFormatter creates a new Telegram formatter. Times are shown in loc.
func NewTelegramFormatter(loc *time.Location) *TelegramFormatter {
	if loc == nil {
		loc = time.UTC
	}
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
		loc:       loc,
	}
}

// FormatAlert wraps a plain-text alert
func (f *TelegramFormatter) FormatAlert(text string) string {
	return "<b>Replybot</b>\n" + f.truncate(EscapeHTML(text), f.maxLength-20)
}

// FormatStatus renders the worker status
func (f *TelegramFormatter) FormatStatus(st models.WorkerStatus) string {
	var sb strings.Builder

	state := "🔴 stopped"
	if st.Running {
		state = "🟢 running"
	}
	if st.Ticking {
		state += " (tick in progress)"
	}
	hours := "day"
	if st.QuietHours {
		hours = "quiet"
	}

	sb.WriteString("<b>Inbox worker</b>\n\n")
	fmt.Fprintf(&sb, "<b>State:</b> %s\n", state)
	fmt.Fprintf(&sb, "<b>Hours:</b> %s\n", hours)
	fmt.Fprintf(&sb, "<b>Processed:</b> %d\n", st.Processed)
	fmt.Fprintf(&sb, "<b>Replied:</b> %d\n", st.Replied)
	fmt.Fprintf(&sb, "<b>Errors:</b> %d\n", st.Errors)
	fmt.Fprintf(&sb, "<b>Rules promoted:</b> %d\n", st.RulesPromoted)
	fmt.Fprintf(&sb, "<b>Last tick:</b> %s\n", f.formatTime(st.LastTick))
	fmt.Fprintf(&sb, "<b>Last promote:</b> %s\n", f.formatTime(st.LastPromote))
	if st.LastError != "" {
		fmt.Fprintf(&sb, "\n<b>Last error:</b>\n<code>%s</code>", f.truncate(EscapeHTML(st.LastError), 500))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatTickReport renders the result of a manual run
func (f *TelegramFormatter) FormatTickReport(r poller.TickReport) string {
	var sb strings.Builder

	sb.WriteString("<b>Tick finished</b>")
	switch {
	case r.Aborted:
		sb.WriteString(" (aborted)")
	case r.Stopped:
		sb.WriteString(" (stopped)")
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Fetched: %d\nReplied: %d\nErrors: %d\nDuplicates: %d\n", r.Fetched, r.Replied, r.Errors, r.Duplicates)

	if len(r.Actions) > 0 {
		actions := make([]string, 0, len(r.Actions))
		for a := range r.Actions {
			actions = append(actions, string(a))
		}
		sort.Strings(actions)
		for _, a := range actions {
			fmt.Fprintf(&sb, "  <code>%s</code>: %d\n", a, r.Actions[models.Action(a)])
		}
	}
	if r.Promoted > 0 {
		fmt.Fprintf(&sb, "Rules promoted: %d\n", r.Promoted)
	}
	fmt.Fprintf(&sb, "Duration: %s", r.Duration.Round(time.Millisecond))

	return sb.String()
}

// FormatRules renders learned rules
func (f *TelegramFormatter) FormatRules(rules []models.LearnedRule) string {
	if len(rules) == 0 {
		return "No learned rules yet"
	}

	var sb strings.Builder
	sb.WriteString("<b>Learned rules</b>\n\n")
	for _, r := range rules {
		line := fmt.Sprintf("• <code>%s</code> [%s] → %s, weight %.2f, hits %d\n",
			EscapeHTML(r.Pattern), r.Scope, r.Action, r.Weight, r.Hits)
		if sb.Len()+len(line) > f.maxLength {
			sb.WriteString("<i>...</i>")
			break
		}
		sb.WriteString(line)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *TelegramFormatter) formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.In(f.loc).Format("02.01.2006 15:04:05")
}

// EscapeHTML escapes HTML special characters for Telegram
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
