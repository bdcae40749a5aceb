package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/repositories"
	"reconciliation-engine/internal/widget"
)

// AutoReconcileService is the background loop that runs matching rules over
// pending statement lines. Lines are claimed with their cron_last_check
// stamped in the same transaction, so concurrent ticks select disjoint sets
// and lines are served fairly across ticks: never-checked first, then oldest
// checked, then statement date.
type AutoReconcileService struct {
	statements repositories.StatementRepository
	rules      repositories.RuleRepository
	matcher    *matching.Matcher
	validator  *ValidationService
	env        *widget.Env
	log        *zap.SugaredLogger

	company    *models.Company
	windowDays int
	batchSize  int
	limitTime  time.Duration

	trigger chan struct{}
}

func NewAutoReconcileService(
	statements repositories.StatementRepository,
	rules repositories.RuleRepository,
	matcher *matching.Matcher,
	validator *ValidationService,
	env *widget.Env,
	company *models.Company,
	windowDays, batchSize int,
	limitTime time.Duration,
	log *zap.SugaredLogger,
) *AutoReconcileService {
	return &AutoReconcileService{
		statements: statements,
		rules:      rules,
		matcher:    matcher,
		validator:  validator,
		env:        env,
		company:    company,
		windowDays: windowDays,
		batchSize:  batchSize,
		limitTime:  limitTime,
		log:        log,
		trigger:    make(chan struct{}, 1),
	}
}

// TickStats summarizes one scheduler tick.
type TickStats struct {
	Claimed     int  `json:"claimed"`
	Reconciled  int  `json:"reconciled"`
	Skipped     int  `json:"skipped"`
	Failed      int  `json:"failed"`
	Retriggered bool `json:"retriggered"`
}

// Trigger requests an immediate tick from the running loop.
func (s *AutoReconcileService) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run ticks on the interval and on demand until the context is cancelled.
func (s *AutoReconcileService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if _, err := s.Tick(ctx); err != nil {
			s.log.Errorw("auto-reconcile tick", "error", err)
		}
	}
}

// Tick claims one batch of pending lines and processes them within the time
// budget. Per-line failures are logged and isolated; the budget is checked
// between lines.
func (s *AutoReconcileService) Tick(ctx context.Context) (*TickStats, error) {
	stats := &TickStats{}
	rules, err := s.rules.ListAutoReconcileModels(ctx, s.company.ID)
	if err != nil {
		return stats, err
	}
	if len(rules) == 0 {
		return stats, nil
	}
	scope := claimScope(rules)
	windowFrom := time.Now().AddDate(0, 0, -s.windowDays)
	lines, err := s.statements.ClaimPending(ctx, s.company.ID, windowFrom, s.batchSize, scope)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(lines)

	deadline := time.Now().Add(s.limitTime)
	for i, line := range lines {
		if s.limitTime > 0 && time.Now().After(deadline) {
			s.log.Infow("auto-reconcile time budget exhausted", "remaining", len(lines)-i)
			stats.Retriggered = true
			s.Trigger()
			break
		}
		switch err := s.processLine(ctx, line, rules); {
		case err == nil:
			stats.Reconciled++
		case errors.Is(err, models.ErrRuleNoMatch):
			stats.Skipped++
		case errors.Is(err, models.ErrConfig), errors.Is(err, models.ErrData),
			errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrPrecondition):
			stats.Failed++
			s.log.Warnw("auto-reconcile line skipped", "statement_line", line.ID, "error", err)
		default:
			stats.Failed++
			s.log.Errorw("auto-reconcile line failed", "statement_line", line.ID, "error", err)
		}
	}

	if !stats.Retriggered && stats.Claimed == s.batchSize {
		remaining, err := s.statements.CountPending(ctx, s.company.ID, windowFrom, scope)
		if err == nil && remaining > 0 {
			stats.Retriggered = true
			s.Trigger()
		}
	}
	return stats, nil
}

// claimScope folds the active models' journal and partner filters into the
// claim predicate. Any model without filters opens the claim to every line;
// the union is a superset of what the models accept, AppliesTo still decides
// per line at processing time.
func claimScope(rules []*models.ReconcileModel) repositories.ClaimScope {
	var scope repositories.ClaimScope
	for _, r := range rules {
		if len(r.JournalIDs) == 0 && len(r.PartnerIDs) == 0 {
			return repositories.ClaimScope{Unscoped: true}
		}
		scope.JournalIDs = append(scope.JournalIDs, r.JournalIDs...)
		scope.PartnerIDs = append(scope.PartnerIDs, r.PartnerIDs...)
	}
	return scope
}

func (s *AutoReconcileService) processLine(ctx context.Context, line *models.StatementLine, rules []*models.ReconcileModel) error {
	w, err := widget.New(ctx, s.env, line)
	if err != nil {
		return err
	}
	rule, err := s.matcher.Apply(ctx, w, rules)
	if err != nil {
		return err
	}
	if w.State() != widget.StateValid {
		return fmt.Errorf("%w: matched rule left widget unbalanced", models.ErrRuleNoMatch)
	}
	if _, err := s.validator.Validate(ctx, w); err != nil {
		return err
	}
	s.log.Infow("auto-reconciled", "statement_line", line.ID, "rule", rule.Name)
	return nil
}
