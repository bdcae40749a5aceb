package models

import "github.com/shopspring/decimal"

// Tax is a percentage tax with separate invoice and refund repartitions.
// DeductiblePercent below 100 splits the tax amount into an accounted part and
// a non-deductible part folded back into the base account. CashBasis taxes
// book through a transition account until payment; the reconciliation widget
// resolves them to the final account directly.
type Tax struct {
	ID                  int64           `db:"id" json:"id"`
	Name                string          `db:"name" json:"name"`
	Rate                decimal.Decimal `db:"rate" json:"rate"` // percent, e.g. 21
	PriceInclude        bool            `db:"price_include" json:"price_include"`
	DeductiblePercent   decimal.Decimal `db:"deductible_percent" json:"deductible_percent"`
	CashBasis           bool            `db:"cash_basis" json:"cash_basis"`
	AccountID           int64           `db:"account_id" json:"account_id"`
	RefundAccountID     int64           `db:"refund_account_id" json:"refund_account_id"`
	TransitionAccountID int64           `db:"transition_account_id" json:"transition_account_id"`
	InvoiceBaseTag      string          `db:"invoice_base_tag" json:"invoice_base_tag"`
	InvoiceTaxTag       string          `db:"invoice_tax_tag" json:"invoice_tax_tag"`
	RefundBaseTag       string          `db:"refund_base_tag" json:"refund_base_tag"`
	RefundTaxTag        string          `db:"refund_tax_tag" json:"refund_tax_tag"`
	CompanyID           int64           `db:"company_id" json:"company_id"`
}

// TaxMode selects whether an edited amount already includes the tax.
type TaxMode string

const (
	TaxModePriceIncluded TaxMode = "price_included"
	TaxModePriceExcluded TaxMode = "price_excluded"
)

// TaxComponent is one tax repartition row produced by the tax computation.
// A zero AccountID marks a non-deductible part that stays on the base account.
type TaxComponent struct {
	TaxID     int64           `json:"tax_id"`
	AccountID int64           `json:"account_id"`
	Factor    decimal.Decimal `json:"factor"`
	Amount    decimal.Decimal `json:"amount"`
	Tags      []string        `json:"tags"`
}

// TaxResult is the outcome of computing a tax set over a base amount.
type TaxResult struct {
	Base       decimal.Decimal `json:"base"`
	BaseTags   []string        `json:"base_tags"`
	Components []TaxComponent  `json:"components"`
}
