package money

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
)

// RateProvider reads the conversion rate applicable at a date: the most
// recent rate at or before it, scoped to the company. The rate is expressed
// as units of the foreign currency per one unit of company currency.
type RateProvider interface {
	Rate(ctx context.Context, currency string, companyID int64, date time.Time) (decimal.Decimal, error)
}

// Converter performs point-in-time conversions against the company currency.
type Converter struct {
	Rates      RateProvider
	Company    *models.Currency
	Currencies Currencies
}

// ToCompany converts an amount in ccy into company currency at the given
// date, rounded at the company precision.
func (c *Converter) ToCompany(ctx context.Context, amount decimal.Decimal, ccy string, companyID int64, date time.Time) (decimal.Decimal, error) {
	if ccy == "" || ccy == c.Company.Code {
		return Round(amount, c.Company), nil
	}
	rate, err := c.Rates.Rate(ctx, ccy, companyID, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate %s->%s at %s: %w", ccy, c.Company.Code, date.Format("2006-01-02"), err)
	}
	if rate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero rate for %s at %s", models.ErrConfig, ccy, date.Format("2006-01-02"))
	}
	return Round(amount.Div(rate), c.Company), nil
}

// FromCompany converts a company-currency amount into ccy at the given date,
// rounded at the target currency's precision.
func (c *Converter) FromCompany(ctx context.Context, amount decimal.Decimal, ccy string, companyID int64, date time.Time) (decimal.Decimal, error) {
	if ccy == "" || ccy == c.Company.Code {
		return Round(amount, c.Company), nil
	}
	rate, err := c.Rates.Rate(ctx, ccy, companyID, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate %s->%s at %s: %w", c.Company.Code, ccy, date.Format("2006-01-02"), err)
	}
	return Round(amount.Mul(rate), c.Currencies.Get(ccy)), nil
}

// Convert converts between two arbitrary currencies through the company
// currency pivot.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, companyID int64, date time.Time) (decimal.Decimal, error) {
	if from == to {
		return Round(amount, c.Currencies.Get(to)), nil
	}
	company, err := c.ToCompany(ctx, amount, from, companyID, date)
	if err != nil {
		return decimal.Zero, err
	}
	return c.FromCompany(ctx, company, to, companyID, date)
}

// EffectiveRate derives the units-per-company-unit rate implied by a pair of
// amounts. Zero when either side is zero: a statement carrying a zero foreign
// amount against a nonzero company amount has an unknown rate, not 1:1.
func EffectiveRate(amountCurrency, balance decimal.Decimal) decimal.Decimal {
	if amountCurrency.IsZero() || balance.IsZero() {
		return decimal.Zero
	}
	return amountCurrency.Div(balance)
}
