package widget

import (
	"context"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// resolveTaxes recomputes the base amount and tax children of a write-off
// line from the given input amount. Existing children are reconciled by
// (tax, account) identity so their stable indexes survive a recompute.
func (w *Widget) resolveTaxes(ctx context.Context, l *Line, mode models.TaxMode, input decimal.Decimal) error {
	taxes, err := w.env.Directory.Taxes(ctx, l.TaxIDs)
	if err != nil {
		return err
	}
	refund := input.Sign() > 0
	res, err := w.env.Taxes.ComputeTaxes(input, taxes, mode, refund)
	if err != nil {
		return err
	}
	companyCur := w.env.companyCur()
	names := map[int64]string{}
	for _, t := range taxes {
		names[t.ID] = t.Name
	}

	base := res.Base
	kept := res.Components[:0]
	for _, c := range res.Components {
		if c.AccountID == 0 {
			// Non-deductible part stays on the base account.
			base = base.Add(c.Amount)
			continue
		}
		kept = append(kept, c)
	}
	l.Balance = money.Round(base, companyCur)
	if l.Currency == w.env.Company.Currency {
		l.AmountCurrency = l.Balance
	}
	l.TaxTags = res.BaseTags

	type childKey struct{ tax, account int64 }
	existing := map[childKey]*Line{}
	for _, c := range w.lines {
		if c.Flag == FlagTaxLine && c.ParentIndex == l.Index {
			existing[childKey{c.TaxID, c.AccountID}] = c
		}
	}
	seen := map[childKey]bool{}
	for _, comp := range kept {
		key := childKey{comp.TaxID, comp.AccountID}
		seen[key] = true
		child := existing[key]
		if child == nil {
			child = w.newLine(FlagTaxLine)
			child.ParentIndex = l.Index
			child.TaxID = comp.TaxID
			child.AccountID = comp.AccountID
			child.Currency = w.env.Company.Currency
			child.Label = names[comp.TaxID]
		}
		child.AmountCurrency = money.Round(comp.Amount, companyCur)
		child.Balance = child.AmountCurrency
		child.TaxTags = comp.Tags
		child.PartnerID = l.PartnerID
		child.Date = l.Date
	}
	for key, c := range existing {
		if !seen[key] {
			w.removeLineAndChildren(c.Index)
		}
	}
	return nil
}

// removeTaxChildren drops every tax child of the line at index.
func (w *Widget) removeTaxChildren(index int) {
	keep := w.lines[:0]
	for _, l := range w.lines {
		if l.Flag == FlagTaxLine && l.ParentIndex == index {
			continue
		}
		keep = append(keep, l)
	}
	w.lines = keep
}
