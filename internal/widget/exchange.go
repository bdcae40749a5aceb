package widget

import (
	"context"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/money"
)

const exchangeDiffLabel = "Exchange difference"

// recomputeExchangeDiffs revalues every foreign counterpart and maintains its
// exchange-diff child. The counterpart keeps the company value implied by its
// own source (the invoice rate for a new_aml); the child carries the gap to
// the statement-date valuation, so the company books both the historic value
// and the realized difference.
func (w *Widget) recomputeExchangeDiffs(ctx context.Context) error {
	companyCcy := w.env.Company.Currency
	companyCur := w.env.companyCur()

	parents := append([]*Line(nil), w.lines...)
	for _, l := range parents {
		if !l.IsCounterpart() || l.Flag == FlagAml {
			continue
		}
		if l.Currency == "" || l.Currency == companyCcy {
			if child := w.exchangeChild(l.Index); child != nil {
				w.removeLineAndChildren(child.Index)
			}
			continue
		}

		var balance decimal.Decimal
		var haveBalance bool
		if l.Flag == FlagNewAml && l.open != nil {
			rate := money.ReconstructRate(l.open.AmountCurrency, l.open.Balance, l.open.ExchangeBalance)
			balance, haveBalance = money.ApplyRate(l.AmountCurrency, rate, companyCur)
		} else if !l.Balance.IsZero() {
			// A manual foreign line keeps whatever company value the user
			// gave it; the child absorbs the divergence.
			balance, haveBalance = l.Balance, true
		}
		valuation, err := w.convertAtStatement(ctx, l.AmountCurrency, l.Currency)
		if err != nil {
			return err
		}
		if !haveBalance {
			balance = valuation
		}
		l.Balance = balance

		gap := valuation.Sub(balance)
		child := w.exchangeChild(l.Index)
		if money.IsZero(gap, companyCur) {
			if child != nil {
				w.removeLineAndChildren(child.Index)
			}
			continue
		}
		if child == nil {
			child = w.newLine(FlagExchangeDiff)
			child.ParentIndex = l.Index
			child.Label = exchangeDiffLabel
		}
		child.Currency = l.Currency
		child.AmountCurrency = decimal.Zero
		child.Balance = money.Round(gap, companyCur)
		child.PartnerID = l.PartnerID
		child.Date = l.Date
		if gap.Sign() < 0 {
			child.AccountID = w.env.Company.IncomeExchangeAccountID
		} else {
			child.AccountID = w.env.Company.ExpenseExchangeAccountID
		}
	}
	return nil
}

func (w *Widget) exchangeChild(parentIndex int) *Line {
	for _, l := range w.lines {
		if l.Flag == FlagExchangeDiff && l.ParentIndex == parentIndex {
			return l
		}
	}
	return nil
}
