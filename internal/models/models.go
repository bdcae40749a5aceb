package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the monetary unit a value is expressed in. DecimalPlaces drives
// every rounding decision made by the engine.
type Currency struct {
	Code          string `db:"code" json:"code"`
	Name          string `db:"name" json:"name"`
	DecimalPlaces int32  `db:"decimal_places" json:"decimal_places"`
	Active        bool   `db:"active" json:"active"`
}

// Rate is a point-in-time conversion rate from one currency to the company
// currency, scoped to a company. The applicable rate for a date is the most
// recent rate at or before that date.
type Rate struct {
	ID        int64           `db:"id" json:"id"`
	Currency  string          `db:"currency" json:"currency"`
	CompanyID int64           `db:"company_id" json:"company_id"`
	Date      time.Time       `db:"rate_date" json:"rate_date"`
	Rate      decimal.Decimal `db:"rate" json:"rate"`
}

// AccountType constants mirror the ledger's internal account types.
const (
	AccountTypeReceivable = "receivable"
	AccountTypePayable    = "payable"
	AccountTypeLiquidity  = "liquidity"
	AccountTypeIncome     = "income"
	AccountTypeExpense    = "expense"
	AccountTypeSuspense   = "suspense"
	AccountTypeTax        = "tax"
)

// Account is a chart-of-accounts entry. Reconcile marks accounts whose lines
// carry residuals and may be partially reconciled (receivable/payable).
type Account struct {
	ID        int64  `db:"id" json:"id"`
	Code      string `db:"code" json:"code"`
	Name      string `db:"name" json:"name"`
	Type      string `db:"account_type" json:"account_type"`
	Reconcile bool   `db:"reconcile" json:"reconcile"`
	CompanyID int64  `db:"company_id" json:"company_id"`
}

// Partner is a customer or supplier. CustomerRank and SupplierRank decide
// which of the receivable/payable accounts dominates when both are set.
type Partner struct {
	ID                  int64  `db:"id" json:"id"`
	Name                string `db:"name" json:"name"`
	Active              bool   `db:"active" json:"active"`
	CompanyID           int64  `db:"company_id" json:"company_id"`
	ReceivableAccountID int64  `db:"receivable_account_id" json:"receivable_account_id"`
	PayableAccountID    int64  `db:"payable_account_id" json:"payable_account_id"`
	CustomerRank        int    `db:"customer_rank" json:"customer_rank"`
	SupplierRank        int    `db:"supplier_rank" json:"supplier_rank"`
}

// PartnerBankAccount links a bank account number to a partner. Archived
// accounts are kept for matching since old statements may reference them.
type PartnerBankAccount struct {
	ID        int64  `db:"id" json:"id"`
	PartnerID int64  `db:"partner_id" json:"partner_id"`
	Number    string `db:"account_number" json:"account_number"`
	Active    bool   `db:"active" json:"active"`
	CompanyID int64  `db:"company_id" json:"company_id"`
}

// Journal is the book a statement or move belongs to. Bank journals carry the
// default liquidity and suspense accounts the widget posts against.
type Journal struct {
	ID                int64  `db:"id" json:"id"`
	Code              string `db:"code" json:"code"`
	Name              string `db:"name" json:"name"`
	Type              string `db:"journal_type" json:"journal_type"`
	CompanyID         int64  `db:"company_id" json:"company_id"`
	Currency          string `db:"currency" json:"currency"`
	BankAccountID     int64  `db:"bank_account_id" json:"bank_account_id"`
	SuspenseAccountID int64  `db:"suspense_account_id" json:"suspense_account_id"`
}

// Statement states.
const (
	StatementOpen      = "open"
	StatementConfirmed = "confirmed"
)

// Statement groups the lines of one imported bank statement and carries the
// declared start/end balances used by the close check.
type Statement struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	JournalID    int64           `db:"journal_id" json:"journal_id"`
	CompanyID    int64           `db:"company_id" json:"company_id"`
	Date         time.Time       `db:"statement_date" json:"statement_date"`
	BalanceStart decimal.Decimal `db:"balance_start" json:"balance_start"`
	BalanceEnd   decimal.Decimal `db:"balance_end" json:"balance_end"`
	State        string          `db:"state" json:"state"`
	CreatedAt    time.Time       `db:"created_at" json:"-"`
	UpdatedAt    time.Time       `db:"updated_at" json:"-"`
}

// StatementLine is one observed movement on the bank account. Immutable after
// creation except for IsReconciled, CronLastCheck and MoveID.
type StatementLine struct {
	ID              int64               `db:"id" json:"id"`
	StatementID     int64               `db:"statement_id" json:"statement_id"`
	JournalID       int64               `db:"journal_id" json:"journal_id"`
	CompanyID       int64               `db:"company_id" json:"company_id"`
	Date            time.Time           `db:"line_date" json:"line_date"`
	PayerName       string              `db:"payer_name" json:"payer_name"`
	AccountNumber   string              `db:"account_number" json:"account_number"`
	Amount          decimal.Decimal     `db:"amount" json:"amount"`
	ForeignAmount   decimal.NullDecimal `db:"foreign_amount" json:"foreign_amount"`
	ForeignCurrency sql.NullString      `db:"foreign_currency" json:"foreign_currency"`
	PartnerID       sql.NullInt64       `db:"partner_id" json:"partner_id"`
	PaymentRef      string              `db:"payment_ref" json:"payment_ref"`
	IsReconciled    bool                `db:"is_reconciled" json:"is_reconciled"`
	CronLastCheck   sql.NullTime        `db:"cron_last_check" json:"cron_last_check"`
	MoveID          sql.NullInt64       `db:"move_id" json:"move_id"`
	CreatedAt       time.Time           `db:"created_at" json:"-"`
	UpdatedAt       time.Time           `db:"updated_at" json:"-"`
}

// Move states.
const (
	MoveDraft  = "draft"
	MovePosted = "posted"
	MoveCancel = "cancel"
)

// Invoice payment states, derived from the open line's residuals.
const (
	PaymentStateNotPaid = "not_paid"
	PaymentStatePartial = "partial"
	PaymentStatePaid    = "paid"
)

// Move is a balanced journal entry: its lines sum to zero in company currency.
type Move struct {
	ID              int64         `db:"id" json:"id"`
	JournalID       int64         `db:"journal_id" json:"journal_id"`
	CompanyID       int64         `db:"company_id" json:"company_id"`
	Date            time.Time     `db:"move_date" json:"move_date"`
	Ref             string        `db:"ref" json:"ref"`
	State           string        `db:"state" json:"state"`
	PartnerID       sql.NullInt64 `db:"partner_id" json:"partner_id"`
	StatementLineID sql.NullInt64 `db:"statement_line_id" json:"statement_line_id"`
	PaymentState    string        `db:"payment_state" json:"payment_state"`
	Lines           []*MoveLine   `db:"-" json:"lines,omitempty"`
}

// MoveLine is the atomic ledger posting. Balance is in company currency,
// AmountCurrency in the line currency. An exchange-difference line carries a
// zero AmountCurrency and a nonzero Balance.
type MoveLine struct {
	ID                     int64           `db:"id" json:"id"`
	MoveID                 int64           `db:"move_id" json:"move_id"`
	AccountID              int64           `db:"account_id" json:"account_id"`
	PartnerID              sql.NullInt64   `db:"partner_id" json:"partner_id"`
	Currency               string          `db:"currency" json:"currency"`
	AmountCurrency         decimal.Decimal `db:"amount_currency" json:"amount_currency"`
	Balance                decimal.Decimal `db:"balance" json:"balance"`
	TaxIDs                 []int64         `db:"-" json:"tax_ids,omitempty"`
	TaxTags                []string        `db:"-" json:"tax_tags,omitempty"`
	Label                  string          `db:"label" json:"label"`
	Date                   time.Time       `db:"line_date" json:"line_date"`
	Reconciled             bool            `db:"reconciled" json:"reconciled"`
	AmountResidual         decimal.Decimal `db:"amount_residual" json:"amount_residual"`
	AmountResidualCurrency decimal.Decimal `db:"amount_residual_currency" json:"amount_residual_currency"`
}

// PartialReconciliation is a directed edge debit line -> credit line. Amount
// is expressed in the partial's currency, AmountCompany in company currency.
// ExchangeMoveID points to the exchange-difference move generated for it when
// the two sides reconciled at different effective rates.
type PartialReconciliation struct {
	ID             int64           `db:"id" json:"id"`
	DebitLineID    int64           `db:"debit_line_id" json:"debit_line_id"`
	CreditLineID   int64           `db:"credit_line_id" json:"credit_line_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	AmountCompany  decimal.Decimal `db:"amount_company" json:"amount_company"`
	Currency       string          `db:"currency" json:"currency"`
	ExchangeMoveID sql.NullInt64   `db:"exchange_move_id" json:"exchange_move_id"`
	CreatedAt      time.Time       `db:"created_at" json:"-"`
}

// OpenLine is the unreconciled receivable/payable side of an invoice or bill
// as seen by the widget: the open line plus the bookkeeping needed to
// reconstruct the invoice's effective rate at reconciliation time.
type OpenLine struct {
	ID                     int64           `db:"id" json:"id"`
	MoveID                 int64           `db:"move_id" json:"move_id"`
	MoveRef                string          `db:"move_ref" json:"move_ref"`
	PartnerID              int64           `db:"partner_id" json:"partner_id"`
	AccountID              int64           `db:"account_id" json:"account_id"`
	Currency               string          `db:"currency" json:"currency"`
	AmountCurrency         decimal.Decimal `db:"amount_currency" json:"amount_currency"`
	Balance                decimal.Decimal `db:"balance" json:"balance"`
	AmountResidual         decimal.Decimal `db:"amount_residual" json:"amount_residual"`
	AmountResidualCurrency decimal.Decimal `db:"amount_residual_currency" json:"amount_residual_currency"`
	ExchangeBalance        decimal.Decimal `db:"exchange_balance" json:"exchange_balance"`
	DateMaturity           time.Time       `db:"date_maturity" json:"date_maturity"`
}
