package widget

import (
	"fmt"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/money"
)

// recomputeSuggestions refreshes the suggestion mirror of every new_aml row.
// A partially applied invoice mirrors the full-pay amount; a fully applied
// one mirrors the partial amount the widget could still fund, when that is
// strictly smaller.
func (w *Widget) recomputeSuggestions() {
	companyCur := w.env.companyCur()
	for _, l := range w.lines {
		if l.Flag != FlagNewAml || l.open == nil {
			l.SuggestionAmountCurrency = decimal.Zero
			l.SuggestionBalance = decimal.Zero
			l.SuggestionText = ""
			continue
		}
		cur := w.env.Currencies.Get(l.Currency)
		full := l.open.AmountResidualCurrency.Neg()
		invRate := money.ReconstructRate(l.open.AmountCurrency, l.open.Balance, l.open.ExchangeBalance)

		mirror := func(amount decimal.Decimal, text string) {
			l.SuggestionAmountCurrency = amount
			l.SuggestionText = text
			if l.Currency == w.env.Company.Currency {
				l.SuggestionBalance = amount
				return
			}
			if b, ok := money.ApplyRate(amount, invRate, companyCur); ok {
				l.SuggestionBalance = b
			} else {
				l.SuggestionBalance = decimal.Zero
			}
		}

		if money.Cmp(l.AmountCurrency, full, cur) != 0 {
			mirror(full, fmt.Sprintf("open amount of %s reduced by %s set the invoice as fully paid",
				money.Format(l.open.AmountResidualCurrency.Abs(), cur),
				money.Format(l.AmountCurrency.Abs(), cur)))
			continue
		}
		avail := w.bucketGap(l.Currency, l)
		if !avail.IsZero() && avail.Sign() == full.Sign() && avail.Abs().Cmp(full.Abs()) < 0 {
			mirror(avail, "record a partial payment")
			continue
		}
		l.SuggestionAmountCurrency = decimal.Zero
		l.SuggestionBalance = decimal.Zero
		l.SuggestionText = ""
	}
}
