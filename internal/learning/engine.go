// Package learning mines recorded outcomes into suppression rules and
// applies them to new mail.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/mixelka/replybot/internal/database"
	"github.com/mixelka/replybot/pkg/models"
)

// Rule application thresholds per tier
const (
	DomainMinWeight  = 0.75
	SubjectMinWeight = 0.8
	RegexMinWeight   = 0.9
	MaxRegexRules    = 20

	// subject tokens considered when applying rules
	matchTokenMinLen = 4
	// subject tokens mined when promoting
	promoteTokenMinLen = 6
	maxTokens          = 6
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// Deps contains dependencies for the engine
type Deps struct {
	Store      *database.RuleStore
	MinSupport int // rules with fewer hits are never applied
	Logger     *slog.Logger
}

// Engine applies and promotes learned rules
type Engine struct {
	store      *database.RuleStore
	minSupport int
	logger     *slog.Logger
}

// NewEngine creates a learning engine
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minSupport := deps.MinSupport
	if minSupport <= 0 {
		minSupport = 1
	}
	return &Engine{
		store:      deps.Store,
		minSupport: minSupport,
		logger:     logger.With("component", "learning"),
	}
}

// SubjectTokens lower-cases subject, splits it on non-alphanumerics and
// returns the first max tokens of at least minLen characters.
func SubjectTokens(subject string, minLen, max int) []string {
	var tokens []string
	for _, t := range tokenSplit.Split(strings.ToLower(subject), -1) {
		if len(t) < minLen {
			continue
		}
		tokens = append(tokens, t)
		if len(tokens) == max {
			break
		}
	}
	return tokens
}

// BestGuess returns the action recommended by learned rules for a sender
// and subject. Tiers are tried in order: sender domain, subject tokens,
// subject regexes. ok is false when no rule applies.
func (e *Engine) BestGuess(ctx context.Context, sender, subject string) (models.RuleAction, bool, error) {
	if domain := models.SenderDomain(sender); domain != "" {
		rules, err := e.store.FindRules(ctx, database.RuleQuery{
			Scope:     models.ScopeSenderDomain,
			Patterns:  []string{domain},
			MinWeight: DomainMinWeight,
			MinHits:   e.minSupport,
			Limit:     1,
		})
		if err != nil {
			return "", false, fmt.Errorf("failed to match domain rules: %w", err)
		}
		if len(rules) > 0 {
			return rules[0].Action, true, nil
		}
	}

	if tokens := SubjectTokens(subject, matchTokenMinLen, maxTokens); len(tokens) > 0 {
		rules, err := e.store.FindRules(ctx, database.RuleQuery{
			Scope:     models.ScopeSubjectContains,
			Patterns:  tokens,
			MinWeight: SubjectMinWeight,
			MinHits:   e.minSupport,
			Limit:     1,
		})
		if err != nil {
			return "", false, fmt.Errorf("failed to match subject rules: %w", err)
		}
		if len(rules) > 0 {
			return rules[0].Action, true, nil
		}
	}

	rules, err := e.store.FindRules(ctx, database.RuleQuery{
		Scope:     models.ScopeRegexSubject,
		MinWeight: RegexMinWeight,
		MinHits:   e.minSupport,
		Limit:     MaxRegexRules,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to match regex rules: %w", err)
	}
	for _, rule := range rules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			e.logger.Warn("skipping invalid regex rule", "pattern", rule.Pattern, "error", err)
			continue
		}
		if re.MatchString(subject) {
			return rule.Action, true, nil
		}
	}

	return "", false, nil
}

// RecordOutcome appends a learning event for a processed message
func (e *Engine) RecordOutcome(ctx context.Context, sender, subject string, action models.FinalAction) error {
	switch action {
	case models.FinalIgnored, models.FinalSupport, models.FinalOrders:
	default:
		return fmt.Errorf("failed to record outcome: unknown final action %q", action)
	}
	return e.store.InsertEvent(ctx, models.SenderDomain(sender), subject, action)
}

// Promote turns event groups that are mostly ignored into ignore rules.
// A group qualifies with at least minSupport events of which at least
// minIgnoreRatio were ignored. Returns the number of rules written.
func (e *Engine) Promote(ctx context.Context, minSupport int, minIgnoreRatio float64) (int, error) {
	domains, err := e.store.DomainStats(ctx)
	if err != nil {
		return 0, err
	}

	events, err := e.store.EventOutcomes(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	promote := func(scope models.RuleScope, stat models.GroupStat) error {
		if stat.Total < minSupport || stat.Total == 0 {
			return nil
		}
		ratio := float64(stat.Ignored) / float64(stat.Total)
		if ratio < minIgnoreRatio {
			return nil
		}
		err := e.store.UpsertRule(ctx, models.LearnedRule{
			Pattern: stat.Key,
			Scope:   scope,
			Action:  models.RuleIgnore,
			Weight:  ratio,
			Hits:    stat.Total,
		})
		if err != nil {
			return err
		}
		written++
		return nil
	}

	for _, stat := range domains {
		if err := promote(models.ScopeSenderDomain, stat); err != nil {
			return written, err
		}
	}

	for _, stat := range tokenStats(events) {
		if err := promote(models.ScopeSubjectContains, stat); err != nil {
			return written, err
		}
	}

	if written > 0 {
		e.logger.Info("promoted learned rules", "rules", written, "events", len(events))
	}
	return written, nil
}

// Rules lists the strongest learned rules
func (e *Engine) Rules(ctx context.Context, limit int) ([]models.LearnedRule, error) {
	return e.store.ListRules(ctx, limit)
}

// tokenStats counts each subject token at most once per event
func tokenStats(events []models.LearningEvent) []models.GroupStat {
	byToken := make(map[string]*models.GroupStat)
	for _, ev := range events {
		seen := make(map[string]bool)
		for _, tok := range SubjectTokens(ev.Subject, promoteTokenMinLen, maxTokens) {
			if seen[tok] {
				continue
			}
			seen[tok] = true

			stat, ok := byToken[tok]
			if !ok {
				stat = &models.GroupStat{Key: tok}
				byToken[tok] = stat
			}
			stat.Total++
			if ev.FinalAction == models.FinalIgnored {
				stat.Ignored++
			}
		}
	}

	stats := make([]models.GroupStat, 0, len(byToken))
	for _, s := range byToken {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}
