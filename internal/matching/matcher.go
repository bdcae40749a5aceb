// Package matching infers partners from bank metadata and drives the
// rule-based suggestion of invoices and write-off templates onto a widget.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
	"reconciliation-engine/internal/widget"
)

// candidateCap bounds the combination search so a runaway candidate set
// degrades to the best subset seen rather than blowing the per-line budget.
const (
	candidateCap = 12
	maxCombine   = 3
)

// Matcher evaluates reconcile models against statement lines.
type Matcher struct {
	Directory  ledger.Directory
	Book       ledger.Book
	Currencies money.Currencies
	Log        *zap.SugaredLogger
}

// Apply runs the rules in sequence order against the widget's statement line
// and mutates the widget with the first rule that produces a match. It
// returns the applied rule, or ErrRuleNoMatch when no rule fires.
func (m *Matcher) Apply(ctx context.Context, w *widget.Widget, rules []*models.ReconcileModel) (*models.ReconcileModel, error) {
	stmt := w.Statement()
	ordered := append([]*models.ReconcileModel(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	for _, rule := range ordered {
		if !rule.AppliesTo(stmt) {
			continue
		}
		var err error
		switch rule.Type {
		case models.RuleInvoiceMatching:
			err = m.applyInvoiceMatching(ctx, w, rule)
		case models.RuleWriteoffSuggestion, models.RuleWriteoffButton:
			err = w.SelectReconcileModel(ctx, rule)
		default:
			err = fmt.Errorf("%w: rule %q has unknown type %q", models.ErrConfig, rule.Name, rule.Type)
		}
		if err == nil {
			return rule, nil
		}
		if errors.Is(err, models.ErrRuleNoMatch) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: no rule matched statement line %d", models.ErrRuleNoMatch, stmt.ID)
}

// applyInvoiceMatching selects the open-line combination closest to the
// statement amount within the rule's payment tolerance, mounts it on the
// widget and absorbs any leftover on the rule's write-off account.
func (m *Matcher) applyInvoiceMatching(ctx context.Context, w *widget.Widget, rule *models.ReconcileModel) error {
	stmt := w.Statement()
	partnerID, err := InferPartner(ctx, m.Directory, stmt)
	if err != nil {
		return err
	}
	if partnerID == 0 {
		return fmt.Errorf("%w: no partner inferred for statement line %d", models.ErrRuleNoMatch, stmt.ID)
	}

	target := stmt.Amount
	ccy := w.CompanyCurrency().Code
	if stmt.ForeignCurrency.Valid && stmt.ForeignAmount.Valid && !stmt.ForeignAmount.Decimal.IsZero() {
		target = stmt.ForeignAmount.Decimal
		ccy = stmt.ForeignCurrency.String
	}
	open, err := m.Book.OpenLines(ctx, ledger.OpenLineQuery{
		CompanyID:  stmt.CompanyID,
		PartnerIDs: []int64{partnerID},
		Currency:   ccy,
	})
	if err != nil {
		return err
	}
	cur := m.Currencies.Get(ccy)

	candidates := m.scoreCandidates(stmt, open, target, cur, rule.MatchReference)
	if len(candidates) == 0 {
		return fmt.Errorf("%w: partner %d has no open line candidates", models.ErrRuleNoMatch, partnerID)
	}
	if len(candidates) > candidateCap {
		candidates = candidates[:candidateCap]
	}

	tolerance := ruleTolerance(rule, target, cur)
	best := searchCombination(candidates, target, tolerance, cur)
	if best == nil {
		return fmt.Errorf("%w: no open-line combination within tolerance", models.ErrRuleNoMatch)
	}

	ids := make([]int64, len(best))
	for i, c := range best {
		ids[i] = c.line.ID
	}
	if err := w.AddNewAmls(ctx, ids); err != nil {
		return err
	}
	// The combination was selected against the full residuals; pin each
	// mounted row to its full amount so the write-off, not a clamp,
	// carries the deviation.
	for _, c := range best {
		idx, full := mountedIndex(w, c.line.ID), c.line.AmountResidualCurrency.Neg()
		if idx < 0 {
			continue
		}
		if err := w.SetAmountCurrency(ctx, idx, full); err != nil {
			return err
		}
	}

	leftover := w.ResidualCompany()
	if !money.IsZero(leftover, w.CompanyCurrency()) && rule.WriteoffAccount != 0 {
		var taxIDs []int64
		for _, tl := range rule.Lines {
			taxIDs = append(taxIDs, tl.TaxIDs...)
		}
		if err := w.AddWriteoff(ctx, rule.WriteoffAccount, leftover, rule.Name, taxIDs); err != nil {
			return err
		}
	}
	return nil
}

func mountedIndex(w *widget.Widget, openLineID int64) int {
	for _, l := range w.Lines() {
		if l.Flag == widget.FlagNewAml && l.OpenLineID == openLineID {
			return l.Index
		}
	}
	return -1
}

func ruleTolerance(rule *models.ReconcileModel, target decimal.Decimal, cur *models.Currency) decimal.Decimal {
	switch rule.ToleranceType {
	case models.TolerancePercent:
		return money.Round(target.Abs().Mul(rule.ToleranceValue).Div(decimal.NewFromInt(100)), cur)
	case models.ToleranceFixed:
		return rule.ToleranceValue.Abs()
	}
	return decimal.Zero
}

type candidate struct {
	line  *models.OpenLine
	score int
}

// scoreCandidates ranks open lines: exact amount plus reference above amount,
// amount above reference, reference above bare partner match. Reference
// scoring only participates when the rule opts in via matchRef.
func (m *Matcher) scoreCandidates(stmt *models.StatementLine, open []*models.OpenLine, target decimal.Decimal, cur *models.Currency, matchRef bool) []candidate {
	var out []candidate
	for _, ol := range open {
		residual := ol.AmountResidualCurrency
		if residual.IsZero() || residual.Sign() != target.Sign() {
			continue
		}
		amountExact := money.Cmp(residual.Abs(), target.Abs(), cur) == 0
		refMatch := matchRef && referenceMatches(stmt.PaymentRef, ol.MoveRef)
		score := 0
		switch {
		case amountExact && refMatch:
			score = 3
		case amountExact:
			score = 2
		case refMatch:
			score = 1
		}
		out = append(out, candidate{line: ol, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if !out[i].line.DateMaturity.Equal(out[j].line.DateMaturity) {
			return out[i].line.DateMaturity.Before(out[j].line.DateMaturity)
		}
		return out[i].line.ID < out[j].line.ID
	})
	return out
}

func referenceMatches(paymentRef, moveRef string) bool {
	if paymentRef == "" || moveRef == "" {
		return false
	}
	p, m := strings.ToLower(paymentRef), strings.ToLower(moveRef)
	return strings.Contains(p, m) || strings.Contains(m, p)
}

// searchCombination walks subsets up to maxCombine lines and keeps the one
// with the smallest deviation from target that stays within tolerance; score
// breaks deviation ties.
func searchCombination(candidates []candidate, target, tolerance decimal.Decimal, cur *models.Currency) []candidate {
	var best []candidate
	var bestDev decimal.Decimal
	var bestScore int

	var walk func(start int, current []candidate, sum decimal.Decimal, score int)
	walk = func(start int, current []candidate, sum decimal.Decimal, score int) {
		if len(current) > 0 {
			dev := target.Sub(sum).Abs()
			if dev.Cmp(tolerance.Add(money.Ulp(cur).Div(decimal.NewFromInt(2)))) <= 0 {
				if best == nil || dev.Cmp(bestDev) < 0 || (dev.Cmp(bestDev) == 0 && score > bestScore) {
					best = append([]candidate(nil), current...)
					bestDev = dev
					bestScore = score
				}
			}
		}
		if len(current) == maxCombine {
			return
		}
		for i := start; i < len(candidates); i++ {
			c := candidates[i]
			walk(i+1, append(current, c), sum.Add(c.line.AmountResidualCurrency), score+c.score)
		}
	}
	walk(0, nil, decimal.Zero, 0)
	return best
}
