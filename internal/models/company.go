package models

// Company scopes every operation of the engine. The exchange accounts and
// journal are where generated exchange-difference moves are booked; a company
// without them cannot reconcile across currencies (ErrConfig).
type Company struct {
	ID                       int64  `db:"id" json:"id"`
	Name                     string `db:"name" json:"name"`
	Currency                 string `db:"currency" json:"currency"`
	IncomeExchangeAccountID  int64  `db:"income_exchange_account_id" json:"income_exchange_account_id"`
	ExpenseExchangeAccountID int64  `db:"expense_exchange_account_id" json:"expense_exchange_account_id"`
	ExchangeJournalID        int64  `db:"exchange_journal_id" json:"exchange_journal_id"`
}
