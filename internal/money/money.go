package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
)

// Currencies is the lookup table the engine rounds against. Codes are upper
// case ISO 4217.
type Currencies map[string]*models.Currency

// Get returns the currency for code, or a 2-decimal fallback so that a
// missing configuration row degrades to cent rounding instead of panicking.
func (c Currencies) Get(code string) *models.Currency {
	if cur, ok := c[strings.ToUpper(code)]; ok {
		return cur
	}
	return &models.Currency{Code: strings.ToUpper(code), DecimalPlaces: 2, Active: true}
}

// Round rounds half away from zero at the currency's precision. Every
// monetary value the engine stores or compares goes through here.
func Round(amount decimal.Decimal, cur *models.Currency) decimal.Decimal {
	return amount.Round(cur.DecimalPlaces)
}

// Ulp is the smallest representable increment of the currency.
func Ulp(cur *models.Currency) decimal.Decimal {
	return decimal.New(1, -cur.DecimalPlaces)
}

// IsZero reports whether amount is zero under the currency's rounding:
// |amount| < 0.5 ulp.
func IsZero(amount decimal.Decimal, cur *models.Currency) bool {
	half := decimal.New(5, -cur.DecimalPlaces-1)
	return amount.Abs().Cmp(half) < 0
}

// Cmp compares two amounts at the currency's precision: -1, 0 or 1.
func Cmp(a, b decimal.Decimal, cur *models.Currency) int {
	if IsZero(a.Sub(b), cur) {
		return 0
	}
	return a.Cmp(b)
}

// ReconstructRate derives the effective units-of-currency per unit of company
// currency an invoice was booked at, from its open line's native amount, its
// company-currency balance and the exchange-difference balances already
// booked against it. Ceil-rounded to six significant digits so the rate is
// never under-applied. Returns zero when the rate cannot be derived.
func ReconstructRate(amountCurrency, balance, exchangeBalance decimal.Decimal) decimal.Decimal {
	total := balance.Add(exchangeBalance)
	if total.IsZero() || amountCurrency.IsZero() {
		return decimal.Zero
	}
	rate := amountCurrency.Div(total)
	return ceilSignificant(rate, 6)
}

// ApplyRate converts an amount in a foreign currency to company currency at
// the given units-per-company-unit rate, rounded at the company precision.
// A zero rate is unknown, not 1:1; the caller must fall back to the rate
// table and let an exchange difference absorb the gap.
func ApplyRate(amountCurrency, rate decimal.Decimal, company *models.Currency) (decimal.Decimal, bool) {
	if rate.IsZero() {
		return decimal.Zero, false
	}
	return Round(amountCurrency.Div(rate), company), true
}

// ceilSignificant rounds away from zero at the given number of significant
// digits.
func ceilSignificant(d decimal.Decimal, digits int32) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	// Exponent of the most significant digit.
	msd := int32(len(d.Abs().Coefficient().String())) + d.Exponent()
	places := digits - msd
	step := decimal.New(1, -places)
	if d.Sign() < 0 {
		return d.Div(step).Floor().Mul(step)
	}
	return d.Div(step).Ceil().Mul(step)
}
