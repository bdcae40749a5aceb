// Package widget implements the in-memory journal-entry builder behind the
// bank-statement reconciliation screen: an always-balanced set of lines that
// reacts to field edits, tax changes and invoice selection, and that the
// validation service turns into a posted move.
package widget

import (
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
)

// Flag is the closed set of widget line variants. The flag is assigned at
// construction and only the state machine converts lines between variants
// (auto_balance becomes manual when the user claims it with an account).
type Flag string

const (
	FlagLiquidity    Flag = "liquidity"
	FlagAutoBalance  Flag = "auto_balance"
	FlagNewAml       Flag = "new_aml"
	FlagAml          Flag = "aml"
	FlagManual       Flag = "manual"
	FlagTaxLine      Flag = "tax_line"
	FlagExchangeDiff Flag = "exchange_diff"
	FlagEarlyPayment Flag = "early_payment"
)

const noParent = -1

// Line is one row of the widget. Lines live in an arena with stable Index
// identity; parent/child links (tax base to tax child, counterpart to its
// exchange-diff companion) are by index, never by pointer.
type Line struct {
	Index int  `json:"index"`
	Flag  Flag `json:"flag"`

	AccountID      int64           `json:"account_id"`
	PartnerID      int64           `json:"partner_id"`
	Currency       string          `json:"currency"`
	AmountCurrency decimal.Decimal `json:"amount_currency"`
	Balance        decimal.Decimal `json:"balance"`
	TaxIDs         []int64         `json:"tax_ids,omitempty"`
	TaxTags        []string        `json:"tax_tags,omitempty"`
	Label          string          `json:"label"`
	Date           time.Time       `json:"date"`
	Reconciled     bool            `json:"reconciled"`

	// ParentIndex links tax_line and exchange_diff rows to their base.
	ParentIndex int `json:"parent_index"`
	// TaxID identifies which tax of the base produced a tax_line row; the
	// (TaxID, AccountID) pair is the repartition identity used when a tax
	// set is re-resolved.
	TaxID int64 `json:"tax_id,omitempty"`
	// OpenLineID is the matched invoice open line for new_aml/aml rows.
	OpenLineID int64 `json:"open_line_id,omitempty"`

	// Open-line snapshot carried by new_aml rows for suggestion and
	// clamping arithmetic.
	open *models.OpenLine

	// Suggestion mirror: an alternative amount previewed on the line.
	SuggestionAmountCurrency decimal.Decimal `json:"suggestion_amount_currency"`
	SuggestionBalance        decimal.Decimal `json:"suggestion_balance"`
	SuggestionText           string          `json:"suggestion_text,omitempty"`

	// UserEdited makes an explicit amount edit sticky: later invoice
	// additions must not recompute it away.
	UserEdited bool `json:"user_edited"`

	taxMode models.TaxMode
	seq     int // insertion order, tie-break for the stable line ordering
}

// IsCounterpart reports whether the line is a top-level counterpart row that
// may carry exchange-diff or tax children.
func (l *Line) IsCounterpart() bool {
	switch l.Flag {
	case FlagNewAml, FlagAml, FlagManual:
		return true
	}
	return false
}

// Open returns the open-line snapshot of a new_aml row, nil otherwise.
func (l *Line) Open() *models.OpenLine { return l.open }
