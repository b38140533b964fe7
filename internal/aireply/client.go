package aireply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mixelka/replybot/internal/metrics"
	"github.com/mixelka/replybot/pkg/models"
)

// unsafePhrases must never reach a customer
var unsafePhrases = []string{
	"refund approved",
	"guarantee delivery",
	"free replacement",
	"discount code",
}

const maxPromptBody = 2000

// Config for the reply generator
type Config struct {
	BaseURL     string // OpenAI-compatible API root, e.g. https://api.openai.com/v1
	APIKey      string // refinement is disabled when empty
	Model       string
	Temperature float64
	Timeout     time.Duration
	Breaker     BreakerConfig
}

// Generator drafts replies and optionally refines them with a chat model
type Generator struct {
	cfg        Config
	httpClient *http.Client
	breaker    *Breaker
	logger     *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// New creates a Generator
func New(cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Generator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    NewBreaker(cfg.Breaker),
		logger:     logger.With("component", "aireply"),
	}
}

// RefinementEnabled reports whether a chat endpoint is configured
func (g *Generator) RefinementEnabled() bool {
	return g.cfg.APIKey != "" && g.cfg.BaseURL != ""
}

// BreakerState exposes the breaker state for status reporting
func (g *Generator) BreakerState() State {
	return g.breaker.State()
}

// SmartReply returns the reply text for a message. Refinement failures
// fall back to the base draft. An empty string means no safe reply exists.
func (g *Generator) SmartReply(ctx context.Context, req models.ReplyRequest) (string, error) {
	base := BaseDraft(req)
	if !IsSafe(base) {
		g.logger.Warn("Base draft contains an unsafe phrase", "subject", req.Subject)
		return "", nil
	}
	if !g.RefinementEnabled() {
		return base, nil
	}

	var refined string
	err := g.breaker.Execute(func() error {
		var err error
		refined, err = g.complete(ctx, refinePrompt(req, base))
		return err
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		metrics.AIRefinements.WithLabelValues("circuit_open").Inc()
		g.logger.Debug("Circuit open, using base draft")
		return base, nil
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		metrics.AIRefinements.WithLabelValues("failed").Inc()
		g.logger.Warn("Reply refinement failed, using base draft", "error", err)
		return base, nil
	}

	refined = strings.TrimSpace(refined)
	if refined == "" || !IsSafe(refined) {
		metrics.AIRefinements.WithLabelValues("unsafe").Inc()
		g.logger.Info("Refined reply rejected, using base draft")
		return base, nil
	}

	metrics.AIRefinements.WithLabelValues("refined").Inc()
	return refined, nil
}

// IsSafe reports whether text is free of phrases that promise things
// an automated reply must not promise
func IsSafe(text string) bool {
	low := strings.ToLower(text)
	for _, p := range unsafePhrases {
		if strings.Contains(low, p) {
			return false
		}
	}
	return true
}

// HelpLink derives the help-center URL from the brand name
func HelpLink(brand string) string {
	host := strings.ToLower(strings.ReplaceAll(brand, " ", ""))
	return "https://" + host + "/pages/help-with-orders"
}

// BaseDraft builds the templated reply used without refinement
func BaseDraft(req models.ReplyRequest) string {
	link := HelpLink(req.Brand)

	var lines []string
	if req.OrderStatus == nil {
		lines = []string{
			fmt.Sprintf("Hello, thanks for reaching out to %s! We've received your message.", req.Brand),
			"We'll check your order and follow up shortly.",
			"In the meantime you can find help here: " + link,
		}
	} else {
		st := req.OrderStatus
		status := st.Status
		if status == "" {
			status = "processing"
		}
		lines = []string{
			fmt.Sprintf("Hello, thanks for reaching out to %s!", req.Brand),
			fmt.Sprintf("Current status: %s.", status),
		}
		if st.Tracking != "" {
			lines = append(lines, "Tracking: "+st.Tracking)
		}
		if st.Carrier != "" {
			lines = append(lines, "Carrier: "+st.Carrier)
		}
		if st.ETA != "" {
			lines = append(lines, "Estimated delivery: "+st.ETA)
		}
		lines = append(lines, "If you need anything else, see: "+link)
	}
	if req.Signature != "" {
		lines = append(lines, req.Signature)
	}
	return strings.Join(lines, "\n")
}

func refinePrompt(req models.ReplyRequest, draft string) string {
	subject := req.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	body := req.Body
	if r := []rune(body); len(r) > maxPromptBody {
		body = string(r[:maxPromptBody])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s customer support agent.\n", req.Brand)
	b.WriteString("Rewrite the draft reply below in a concise, friendly and professional tone.\n")
	b.WriteString("- Do NOT promise refunds, discounts or guaranteed delivery dates.\n")
	b.WriteString("- Keep it factual and empathetic.\n")
	b.WriteString("- Preserve tracking links and order details exactly.\n")
	b.WriteString("- At most 150 words.\n\n")
	fmt.Fprintf(&b, "Customer message subject: %s\n---\n%s\n---\n\n", subject, body)
	b.WriteString("Draft reply to refine:\n")
	b.WriteString(draft)
	return b.String()
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       g.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error: %s (status %d)", strings.TrimSpace(string(respBody)), resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return out.Choices[0].Message.Content, nil
}
