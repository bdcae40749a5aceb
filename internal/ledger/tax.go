package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

var hundred = decimal.NewFromInt(100)

// StandardTaxComputer implements the compute_taxes contract for percentage
// taxes with invoice/refund repartitions and partial deductibility.
type StandardTaxComputer struct {
	Company *models.Currency
}

func NewStandardTaxComputer(company *models.Currency) *StandardTaxComputer {
	return &StandardTaxComputer{Company: company}
}

// ComputeTaxes splits amount into a base and one repartition component set
// per tax. In price-included mode amount already carries the taxes and the
// base is what remains once they are peeled off; in price-excluded mode
// amount is the base itself.
func (c *StandardTaxComputer) ComputeTaxes(amount decimal.Decimal, taxes []*models.Tax, mode models.TaxMode, refund bool) (*models.TaxResult, error) {
	res := &models.TaxResult{Base: money.Round(amount, c.Company)}
	if len(taxes) == 0 {
		return res, nil
	}

	sumRates := decimal.Zero
	for _, t := range taxes {
		if t.Rate.IsNegative() {
			return nil, fmt.Errorf("%w: negative rate on tax %q", models.ErrConfig, t.Name)
		}
		sumRates = sumRates.Add(t.Rate)
	}

	base := money.Round(amount, c.Company)
	taxAmounts := make([]decimal.Decimal, len(taxes))
	switch mode {
	case models.TaxModePriceIncluded:
		// Peel each tax off the gross amount; the base absorbs the
		// rounding remainder so that base + taxes == amount exactly.
		divisor := hundred.Add(sumRates)
		for i, t := range taxes {
			taxAmounts[i] = money.Round(amount.Mul(t.Rate).Div(divisor), c.Company)
			base = base.Sub(taxAmounts[i])
		}
	case models.TaxModePriceExcluded:
		for i, t := range taxes {
			taxAmounts[i] = money.Round(base.Mul(t.Rate).Div(hundred), c.Company)
		}
	default:
		return nil, fmt.Errorf("%w: unknown tax mode %q", models.ErrConfig, mode)
	}

	res.Base = base
	res.BaseTags = nil
	for _, t := range taxes {
		res.BaseTags = append(res.BaseTags, baseTag(t, refund))
	}

	for i, t := range taxes {
		account := t.AccountID
		if refund && t.RefundAccountID != 0 {
			account = t.RefundAccountID
		}
		// Cash-basis taxes resolve to the final tax account directly;
		// the widget never books the transition account.

		deductible := t.DeductiblePercent
		if deductible.IsZero() {
			deductible = hundred
		}
		accounted := money.Round(taxAmounts[i].Mul(deductible).Div(hundred), c.Company)
		rest := taxAmounts[i].Sub(accounted)

		res.Components = append(res.Components, models.TaxComponent{
			TaxID:     t.ID,
			AccountID: account,
			Factor:    deductible.Div(hundred),
			Amount:    accounted,
			Tags:      []string{taxTag(t, refund)},
		})
		if !rest.IsZero() {
			// Non-deductible part: no account, folded back into the
			// base line by the caller.
			res.Components = append(res.Components, models.TaxComponent{
				TaxID:  t.ID,
				Factor: hundred.Sub(deductible).Div(hundred),
				Amount: rest,
				Tags:   []string{taxTag(t, refund)},
			})
		}
	}
	return res, nil
}

func baseTag(t *models.Tax, refund bool) string {
	if refund {
		if t.RefundBaseTag != "" {
			return t.RefundBaseTag
		}
		return t.InvoiceBaseTag
	}
	return t.InvoiceBaseTag
}

func taxTag(t *models.Tax, refund bool) string {
	if refund {
		if t.RefundTaxTag != "" {
			return t.RefundTaxTag
		}
		return t.InvoiceTaxTag
	}
	return t.InvoiceTaxTag
}
