package models

import "github.com/shopspring/decimal"

// Reconcile model types.
const (
	RuleInvoiceMatching    = "invoice_matching"
	RuleWriteoffSuggestion = "writeoff_suggestion"
	RuleWriteoffButton     = "writeoff_button"
)

// Payment tolerance types.
const (
	ToleranceNone    = ""
	TolerancePercent = "percent"
	ToleranceFixed   = "fixed"
)

// Write-off template amount types.
const (
	AmountFixed      = "fixed"
	AmountPercentage = "percentage"
)

// ReconcileModel is a persisted matching rule. Rules are evaluated in
// Sequence order; the first whose filters accept the statement line applies.
type ReconcileModel struct {
	ID               int64                 `db:"id" json:"id"`
	Name             string                `db:"name" json:"name"`
	Sequence         int                   `db:"sequence" json:"sequence"`
	Type             string                `db:"rule_type" json:"rule_type"`
	AutoReconcile    bool                  `db:"auto_reconcile" json:"auto_reconcile"`
	CompanyID        int64                 `db:"company_id" json:"company_id"`
	JournalIDs       []int64               `db:"-" json:"journal_ids,omitempty"`
	PartnerIDs       []int64               `db:"-" json:"partner_ids,omitempty"`
	MatchReference   bool                  `db:"match_reference" json:"match_reference"`
	ToleranceType    string                `db:"tolerance_type" json:"tolerance_type"`
	ToleranceValue   decimal.Decimal       `db:"tolerance_value" json:"tolerance_value"`
	WriteoffAccount  int64                 `db:"writeoff_account_id" json:"writeoff_account_id"`
	Lines            []*ReconcileModelLine `db:"-" json:"lines,omitempty"`
}

// ReconcileModelLine is one write-off template row of a rule.
type ReconcileModelLine struct {
	ID         int64           `db:"id" json:"id"`
	ModelID    int64           `db:"model_id" json:"model_id"`
	Sequence   int             `db:"sequence" json:"sequence"`
	AccountID  int64           `db:"account_id" json:"account_id"`
	Label      string          `db:"label" json:"label"`
	AmountType string          `db:"amount_type" json:"amount_type"`
	Amount     decimal.Decimal `db:"amount" json:"amount"` // fixed value or percent of the residual
	TaxIDs     []int64         `db:"-" json:"tax_ids,omitempty"`
}

// AppliesTo reports whether the rule's journal and partner filters accept the
// given statement line. Empty filters accept everything.
func (m *ReconcileModel) AppliesTo(line *StatementLine) bool {
	if m.CompanyID != 0 && m.CompanyID != line.CompanyID {
		return false
	}
	if len(m.JournalIDs) > 0 {
		ok := false
		for _, id := range m.JournalIDs {
			if id == line.JournalID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(m.PartnerIDs) > 0 {
		if !line.PartnerID.Valid {
			return false
		}
		ok := false
		for _, id := range m.PartnerIDs {
			if id == line.PartnerID.Int64 {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
