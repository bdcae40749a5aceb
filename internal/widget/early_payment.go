package widget

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// ApplyEarlyPaymentDiscount settles every matched invoice in full and books
// the conditional discount on the given account, one early_payment companion
// per invoice. Percent is the discount share of the invoice residual. An
// optional tax set distributes the discount across base and tax, price
// included, mirroring the repartition the invoice was booked with.
func (w *Widget) ApplyEarlyPaymentDiscount(ctx context.Context, accountID int64, percent decimal.Decimal, taxIDs []int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	if percent.Sign() <= 0 || percent.Cmp(decimal.NewFromInt(100)) >= 0 {
		return fmt.Errorf("%w: early payment discount must be between 0 and 100 percent", models.ErrPrecondition)
	}
	hundred := decimal.NewFromInt(100)
	applied := false
	for _, l := range append([]*Line(nil), w.lines...) {
		if l.Flag != FlagNewAml || l.open == nil {
			continue
		}
		cur := w.env.Currencies.Get(l.Currency)
		full := l.open.AmountResidualCurrency.Neg()
		discount := money.Round(full.Neg().Mul(percent).Div(hundred), cur)
		if discount.IsZero() {
			continue
		}
		l.AmountCurrency = full
		if l.Currency == w.env.Company.Currency {
			l.Balance = full
		}
		l.UserEdited = true

		d := w.newLine(FlagEarlyPayment)
		d.ParentIndex = l.Index
		d.AccountID = accountID
		d.PartnerID = l.PartnerID
		d.Currency = l.Currency
		d.AmountCurrency = discount
		d.Label = "Early payment discount"
		balance, err := w.convertAtStatement(ctx, discount, l.Currency)
		if err != nil {
			return err
		}
		d.Balance = balance
		if len(taxIDs) > 0 && l.Currency == w.env.Company.Currency {
			d.TaxIDs = append([]int64(nil), taxIDs...)
			d.taxMode = models.TaxModePriceIncluded
			if err := w.resolveTaxes(ctx, d, models.TaxModePriceIncluded, balance); err != nil {
				return err
			}
		}
		applied = true
	}
	if !applied {
		return fmt.Errorf("%w: no matched invoice to discount", models.ErrPrecondition)
	}
	return w.react(ctx)
}
