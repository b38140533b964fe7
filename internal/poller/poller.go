// Package poller runs the inbox tick loop: fetch candidate messages,
// push each one through classification and the reply policy, act on the
// mailbox and record the outcome.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mixelka/replybot/internal/classifier"
	"github.com/mixelka/replybot/internal/metrics"
	"github.com/mixelka/replybot/internal/policy"
	"github.com/mixelka/replybot/internal/quiethours"
	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/pkg/models"
)

var (
	// ErrStorage marks a failure of the action store; it aborts the tick
	ErrStorage = errors.New("storage unavailable")

	// ErrTickInProgress is returned when a tick is requested while one runs
	ErrTickInProgress = errors.New("tick already in progress")
)

// MailClient is the mailbox the poller works on
type MailClient interface {
	ListCandidateMessages(ctx context.Context, excludeLabel string, limit int) ([]*models.InboundMessage, error)
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)
	ModifyLabels(ctx context.Context, messageID string, add, remove []string) error
	SendReply(ctx context.Context, threadID string, reply models.OutgoingReply) (string, error)
	EnsureLabel(ctx context.Context, name string) (string, error)
	ThreadHasLabel(ctx context.Context, threadID, labelID string) (bool, error)
}

// ReplyGenerator drafts replies. An empty reply means no safe reply exists.
type ReplyGenerator interface {
	SmartReply(ctx context.Context, req models.ReplyRequest) (string, error)
}

// OrderLookup finds an order by its customer-facing name
type OrderLookup interface {
	GetOrderByName(ctx context.Context, name string) (*models.Order, error)
}

// Notifier delivers operator alerts
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ActionStore is the idempotency ledger
type ActionStore interface {
	HasProcessed(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, messageID string, action models.Action, meta models.Metadata) error
	RecordReply(ctx context.Context, threadID string) error
	RecentReply(ctx context.Context, threadID string, cooldownHours int) (bool, error)
}

// Learner records outcomes and mines them into rules
type Learner interface {
	RecordOutcome(ctx context.Context, sender, subject string, action models.FinalAction) error
	Promote(ctx context.Context, minSupport int, minIgnoreRatio float64) (int, error)
}

// Classifier assigns intents
type Classifier interface {
	Classify(ctx context.Context, sender, subject, body string) (classifier.Result, error)
}

// Config holds poller settings
type Config struct {
	PollInterval    time.Duration
	PromoteInterval time.Duration
	BatchSize       int
	CooldownHours   int
	Quiet           quiethours.Window
	ReplyFrom       string
	ReplyFromName   string
	Brand           string
	Signature       string
	MinSupport      int
	MinIgnoreRatio  float64
	Retry           retry.BackoffConfig
}

// Deps contains dependencies for the poller
type Deps struct {
	Mail       MailClient
	Replies    ReplyGenerator
	Orders     OrderLookup // optional
	Notifier   Notifier    // optional
	Store      ActionStore
	Learning   Learner
	Classifier Classifier
	Policy     *policy.Policy
	Config     Config
	Logger     *slog.Logger
	Now        func() time.Time // defaults to time.Now
}

// TickReport summarizes one tick
type TickReport struct {
	StartedAt  time.Time
	Duration   time.Duration
	Fetched    int
	Duplicates int // already recorded, skipped without side effects
	Replied    int
	Errors     int
	Actions    map[models.Action]int
	Stopped    bool // stop was requested before the batch finished
	Aborted    bool // a storage failure ended the tick
	Promoted   int
}

// Poller drives the inbox
type Poller struct {
	mail     MailClient
	replies  ReplyGenerator
	orders   OrderLookup
	notifier Notifier
	store    ActionStore
	learning Learner
	classify Classifier
	policy   *policy.Policy
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	ticking atomic.Bool
	labels  map[string]string // label name -> provider ID, touched only inside a tick

	mu             sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
	processedTotal int64
	repliedTotal   int64
	errorsTotal    int64
	promotedTotal  int64
	lastTick       time.Time
	lastPromote    time.Time
	lastError      string
}

// New creates a poller
func New(deps Deps) *Poller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg := deps.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = 3 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultBackoffConfig()
	}

	return &Poller{
		mail:     deps.Mail,
		replies:  deps.Replies,
		orders:   deps.Orders,
		notifier: deps.Notifier,
		store:    deps.Store,
		learning: deps.Learning,
		classify: deps.Classifier,
		policy:   deps.Policy,
		cfg:      cfg,
		logger:   logger.With("component", "poller"),
		now:      now,
		labels:   make(map[string]string),
	}
}

// Start runs the tick loop in the background. It returns false when the
// loop is already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		p.Run(loopCtx)
	}()

	return true
}

// Stop asks the loop to stop and waits for it. A message being processed
// is always finished first.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if done == nil {
		return
	}

	cancel()
	<-done

	p.mu.Lock()
	if p.done == done {
		p.cancel = nil
		p.done = nil
	}
	p.mu.Unlock()
}

// Running reports whether the background loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

// Run ticks at the poll interval until ctx is done
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)
	defer p.logger.Info("poller stopped")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.runTick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single tick outside the loop
func (p *Poller) RunOnce(ctx context.Context) (TickReport, error) {
	return p.Tick(ctx)
}

func (p *Poller) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := p.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		p.logger.Debug("previous tick still running, skipping")
	case err != nil:
		p.logger.Error("tick failed", "error", err)
	default:
		p.logger.Debug("tick finished",
			"fetched", report.Fetched,
			"replied", report.Replied,
			"errors", report.Errors,
			"duration", report.Duration,
		)
	}
}

// Tick processes one batch of candidate messages. Ticks never overlap;
// a concurrent call returns ErrTickInProgress.
func (p *Poller) Tick(ctx context.Context) (TickReport, error) {
	if !p.ticking.CompareAndSwap(false, true) {
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return TickReport{}, ErrTickInProgress
	}
	defer p.ticking.Store(false)

	report := TickReport{StartedAt: p.now(), Actions: make(map[models.Action]int)}
	status := "ok"
	defer func() {
		report.Duration = p.now().Sub(report.StartedAt)
		metrics.RecordTick(status, report.Duration)
		p.mu.Lock()
		p.lastTick = report.StartedAt
		p.mu.Unlock()
	}()

	p.resolveLabels(ctx)

	msgs, err := retry.Do(ctx, p.retryConfig("list_messages"), func(ctx context.Context) ([]*models.InboundMessage, error) {
		return p.mail.ListCandidateMessages(ctx, p.policy.Labels().Processed, p.cfg.BatchSize)
	})
	if err != nil {
		status = "failed"
		p.noteError(err)
		return report, fmt.Errorf("failed to list candidate messages: %w", err)
	}
	report.Fetched = len(msgs)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			report.Stopped = true
			p.logger.Info("stop requested, leaving remaining messages for the next tick",
				"remaining", report.Fetched-countActions(report))
			break
		}

		// A started message always runs to completion
		action, err := p.process(context.WithoutCancel(ctx), msg)
		if err != nil {
			status = "aborted"
			report.Aborted = true
			p.noteError(err)
			p.logger.Error("storage failure, aborting tick", "message_id", msg.ID, "error", err)
			p.alert(ctx, fmt.Sprintf("Inbox worker halted tick: %v", err))
			return report, err
		}

		switch action {
		case "":
			report.Duplicates++
		case models.ActionError:
			report.Errors++
			report.Actions[action]++
		case models.ActionReplied, models.ActionQuietAck:
			report.Replied++
			report.Actions[action]++
		default:
			report.Actions[action]++
		}
	}

	if !report.Stopped {
		report.Promoted = p.maybePromote(ctx)
	}

	return report, nil
}

func countActions(r TickReport) int {
	n := r.Duplicates
	for _, c := range r.Actions {
		n += c
	}
	return n
}

// Promote mines learning events into rules now
func (p *Poller) Promote(ctx context.Context) (int, error) {
	n, err := p.learning.Promote(ctx, p.cfg.MinSupport, p.cfg.MinIgnoreRatio)

	p.mu.Lock()
	p.lastPromote = p.now()
	if err == nil {
		p.promotedTotal += int64(n)
	}
	p.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("failed to promote rules: %w", err)
	}
	metrics.RulesPromoted.Add(float64(n))
	return n, nil
}

func (p *Poller) maybePromote(ctx context.Context) int {
	p.mu.Lock()
	due := p.now().Sub(p.lastPromote) >= p.cfg.PromoteInterval
	p.mu.Unlock()
	if !due {
		return 0
	}

	n, err := p.Promote(ctx)
	if err != nil {
		p.logger.Warn("rule promotion failed", "error", err)
		return 0
	}
	return n
}

// Status returns counters and timestamps of the poller
func (p *Poller) Status() models.WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return models.WorkerStatus{
		Running:       p.done != nil,
		Ticking:       p.ticking.Load(),
		Processed:     p.processedTotal,
		Replied:       p.repliedTotal,
		Errors:        p.errorsTotal,
		RulesPromoted: p.promotedTotal,
		LastTick:      p.lastTick,
		LastPromote:   p.lastPromote,
		LastError:     p.lastError,
		QuietHours:    p.cfg.Quiet.IsQuiet(p.now()),
	}
}

func (p *Poller) noteError(err error) {
	p.mu.Lock()
	p.errorsTotal++
	p.lastError = err.Error()
	p.mu.Unlock()
}

func (p *Poller) retryConfig(operation string) retry.BackoffConfig {
	cfg := p.cfg.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.CollaboratorRetries.WithLabelValues(operation).Inc()
		p.logger.Warn("retrying collaborator call",
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return cfg
}

// alert notifies operators; failures are logged and dropped
func (p *Poller) alert(ctx context.Context, text string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(context.WithoutCancel(ctx), text); err != nil {
		p.logger.Warn("failed to send alert", "error", err)
	}
}
