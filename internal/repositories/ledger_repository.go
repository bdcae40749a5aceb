package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// LedgerRepository is the MySQL-backed ledger primitive. It implements
// ledger.Book, ledger.Directory and money.RateProvider over the moves,
// move_lines and partial_reconciliations tables, with the same settlement
// arithmetic as the in-memory book.
type LedgerRepository struct {
	db         *sqlx.DB
	company    *models.Company
	currencies money.Currencies
}

func NewLedgerRepository(db *sqlx.DB, company *models.Company, currencies money.Currencies) *LedgerRepository {
	return &LedgerRepository{db: db, company: company, currencies: currencies}
}

var _ ledger.Book = (*LedgerRepository)(nil)
var _ ledger.Directory = (*LedgerRepository)(nil)
var _ money.RateProvider = (*LedgerRepository)(nil)

// --- Directory ---

func (r *LedgerRepository) Company(ctx context.Context, id int64) (*models.Company, error) {
	c := &models.Company{}
	err := r.db.GetContext(ctx, c, `
		SELECT id, name, currency, income_exchange_account_id, expense_exchange_account_id, exchange_journal_id
		FROM companies WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown company %d", models.ErrData, id)
	}
	return c, err
}

func (r *LedgerRepository) Account(ctx context.Context, id int64) (*models.Account, error) {
	a := &models.Account{}
	err := r.db.GetContext(ctx, a, `
		SELECT id, code, name, account_type, reconcile, company_id FROM accounts WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown account %d", models.ErrData, id)
	}
	return a, err
}

func (r *LedgerRepository) Journal(ctx context.Context, id int64) (*models.Journal, error) {
	j := &models.Journal{}
	err := r.db.GetContext(ctx, j, `
		SELECT id, code, name, journal_type, company_id, currency, bank_account_id, suspense_account_id
		FROM journals WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown journal %d", models.ErrData, id)
	}
	return j, err
}

func (r *LedgerRepository) Partner(ctx context.Context, id int64) (*models.Partner, error) {
	p := &models.Partner{}
	err := r.db.GetContext(ctx, p, `
		SELECT id, name, active, company_id, receivable_account_id, payable_account_id, customer_rank, supplier_rank
		FROM partners WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown partner %d", models.ErrData, id)
	}
	return p, err
}

func (r *LedgerRepository) ActivePartners(ctx context.Context, companyID int64) ([]*models.Partner, error) {
	var out []*models.Partner
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, name, active, company_id, receivable_account_id, payable_account_id, customer_rank, supplier_rank
		FROM partners WHERE company_id = ? AND active = 1 ORDER BY id
	`, companyID)
	return out, err
}

// BankAccountsByNumber compares digits only, so formatting differences (IBAN
// spacing and the like) do not hide a match. Archived accounts and other
// companies are included on purpose; the caller treats ambiguity as soft.
func (r *LedgerRepository) BankAccountsByNumber(ctx context.Context, number string) ([]*models.PartnerBankAccount, error) {
	wanted := digitsOnly(number)
	if wanted == "" {
		return nil, nil
	}
	var all []*models.PartnerBankAccount
	err := r.db.SelectContext(ctx, &all, `
		SELECT id, partner_id, account_number, active, company_id FROM partner_bank_accounts
	`)
	if err != nil {
		return nil, err
	}
	var out []*models.PartnerBankAccount
	for _, a := range all {
		if digitsOnly(a.Number) == wanted {
			out = append(out, a)
		}
	}
	return out, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (r *LedgerRepository) Taxes(ctx context.Context, ids []int64) ([]*models.Tax, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, name, rate, price_include, deductible_percent, cash_basis,
		       account_id, refund_account_id, transition_account_id,
		       invoice_base_tag, invoice_tax_tag, refund_base_tag, refund_tax_tag, company_id
		FROM taxes WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	var loaded []*models.Tax
	if err := r.db.SelectContext(ctx, &loaded, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	byID := map[int64]*models.Tax{}
	for _, t := range loaded {
		byID[t.ID] = t
	}
	out := make([]*models.Tax, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown tax %d", models.ErrData, id)
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadCurrencies reads the currency table into the lookup map the engine
// rounds against.
func (r *LedgerRepository) LoadCurrencies(ctx context.Context) (money.Currencies, error) {
	var rows []*models.Currency
	if err := r.db.SelectContext(ctx, &rows, `SELECT code, name, decimal_places, active FROM currencies`); err != nil {
		return nil, err
	}
	out := money.Currencies{}
	for _, c := range rows {
		out[strings.ToUpper(c.Code)] = c
	}
	return out, nil
}

// --- RateProvider ---

// Rate returns the most recent rate at or before date, in units of currency
// per company unit.
func (r *LedgerRepository) Rate(ctx context.Context, currency string, companyID int64, date time.Time) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := r.db.GetContext(ctx, &rate, `
		SELECT rate FROM currency_rates
		WHERE currency = ? AND company_id = ? AND rate_date <= ?
		ORDER BY rate_date DESC LIMIT 1
	`, currency, companyID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s at %s", models.ErrData, currency, date.Format("2006-01-02"))
	}
	return rate, err
}

// --- Book: moves and lines ---

const moveColumns = `id, journal_id, company_id, move_date, ref, state, partner_id, statement_line_id, payment_state`

const moveLineColumns = `
	id, move_id, account_id, partner_id, currency, amount_currency, balance,
	label, line_date, reconciled, amount_residual, amount_residual_currency
`

func (r *LedgerRepository) CreateMove(ctx context.Context, move *models.Move) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.insertMoveTx(ctx, tx, move); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *LedgerRepository) insertMoveTx(ctx context.Context, tx *sqlx.Tx, move *models.Move) error {
	if move.State == "" {
		move.State = models.MoveDraft
	}
	if move.PaymentState == "" {
		move.PaymentState = models.PaymentStateNotPaid
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO moves (journal_id, company_id, move_date, ref, state, partner_id, statement_line_id, payment_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, move.JournalID, move.CompanyID, move.Date, move.Ref, move.State, move.PartnerID, move.StatementLineID, move.PaymentState)
	if err != nil {
		return err
	}
	if move.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	for _, l := range move.Lines {
		l.MoveID = move.ID
		if l.Currency == "" {
			l.Currency = r.company.Currency
		}
		l.AmountResidual = l.Balance
		if l.Currency == r.company.Currency {
			l.AmountResidualCurrency = l.Balance
		} else {
			l.AmountResidualCurrency = l.AmountCurrency
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO move_lines (
				move_id, account_id, partner_id, currency, amount_currency, balance,
				label, line_date, reconciled, amount_residual, amount_residual_currency,
				exchange_balance, tax_tags
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0, ?)
		`, l.MoveID, l.AccountID, l.PartnerID, l.Currency, l.AmountCurrency, l.Balance,
			l.Label, l.Date, l.AmountResidual, l.AmountResidualCurrency, strings.Join(l.TaxTags, ","))
		if err != nil {
			return err
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func (r *LedgerRepository) PostMove(ctx context.Context, moveID int64) error {
	move, err := r.Move(ctx, moveID)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, l := range move.Lines {
		sum = sum.Add(l.Balance)
	}
	if !money.IsZero(sum, r.currencies.Get(r.company.Currency)) {
		return fmt.Errorf("%w: move %d does not balance to zero", models.ErrPrecondition, moveID)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE moves SET state = ? WHERE id = ?`, models.MovePosted, moveID)
	return err
}

func (r *LedgerRepository) SetMoveToDraft(ctx context.Context, moveID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE moves SET state = ? WHERE id = ?`, models.MoveDraft, moveID)
	return err
}

func (r *LedgerRepository) CancelMove(ctx context.Context, moveID int64, hard bool) error {
	if hard {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM move_lines WHERE move_id = ?`, moveID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM moves WHERE id = ?`, moveID); err != nil {
			return err
		}
		return tx.Commit()
	}
	_, err := r.db.ExecContext(ctx, `UPDATE moves SET state = ? WHERE id = ?`, models.MoveCancel, moveID)
	return err
}

func (r *LedgerRepository) Move(ctx context.Context, id int64) (*models.Move, error) {
	move := &models.Move{}
	err := r.db.GetContext(ctx, move, `SELECT `+moveColumns+` FROM moves WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown move %d", models.ErrData, id)
	}
	if err != nil {
		return nil, err
	}
	var rows []struct {
		models.MoveLine
		TagCSV string `db:"tax_tags"`
	}
	err = r.db.SelectContext(ctx, &rows, `
		SELECT `+moveLineColumns+`, tax_tags FROM move_lines WHERE move_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		l := rows[i].MoveLine
		if rows[i].TagCSV != "" {
			l.TaxTags = strings.Split(rows[i].TagCSV, ",")
		}
		move.Lines = append(move.Lines, &l)
	}
	return move, nil
}

func (r *LedgerRepository) Line(ctx context.Context, id int64) (*models.MoveLine, error) {
	l := &models.MoveLine{}
	err := r.db.GetContext(ctx, l, `SELECT `+moveLineColumns+` FROM move_lines WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, id)
	}
	return l, err
}

func (r *LedgerRepository) UpdateLinePartner(ctx context.Context, lineID, partnerID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE move_lines SET partner_id = ? WHERE id = ?`, partnerID, lineID)
	return err
}

func (r *LedgerRepository) UpdateMovePartner(ctx context.Context, moveID, partnerID int64, clear bool) error {
	if clear {
		_, err := r.db.ExecContext(ctx, `UPDATE moves SET partner_id = NULL WHERE id = ?`, moveID)
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE moves SET partner_id = ? WHERE id = ?`, partnerID, moveID)
	return err
}

// --- Book: open lines ---

const openLineSelect = `
	SELECT ml.id, ml.move_id, m.ref AS move_ref, COALESCE(ml.partner_id, 0) AS partner_id,
	       ml.account_id, ml.currency, ml.amount_currency, ml.balance,
	       ml.amount_residual, ml.amount_residual_currency, ml.exchange_balance,
	       COALESCE(ml.date_maturity, ml.line_date) AS date_maturity
	FROM move_lines ml
	JOIN moves m ON m.id = ml.move_id
	JOIN accounts a ON a.id = ml.account_id
`

func (r *LedgerRepository) OpenLines(ctx context.Context, q ledger.OpenLineQuery) ([]*models.OpenLine, error) {
	query := openLineSelect + `
		WHERE m.state = :posted AND a.reconcile = 1 AND ml.reconciled = 0
		  AND m.statement_line_id IS NULL
	`
	args := map[string]interface{}{
		"posted": models.MovePosted,
	}
	if q.CompanyID != 0 {
		query += ` AND m.company_id = :company_id`
		args["company_id"] = q.CompanyID
	}
	if len(q.PartnerIDs) > 0 {
		query += ` AND ml.partner_id IN (:partner_ids)`
		args["partner_ids"] = q.PartnerIDs
	}
	if q.Currency != "" {
		query += ` AND ml.currency = :currency`
		args["currency"] = q.Currency
	}
	if !q.DateFrom.IsZero() {
		query += ` AND m.move_date >= :date_from`
		args["date_from"] = q.DateFrom
	}
	if !q.DateTo.IsZero() {
		query += ` AND m.move_date <= :date_to`
		args["date_to"] = q.DateTo
	}
	if len(q.ExcludeIDs) > 0 {
		query += ` AND ml.id NOT IN (:exclude_ids)`
		args["exclude_ids"] = q.ExcludeIDs
	}
	query += ` ORDER BY date_maturity, ml.id`

	named, namedArgs, err := sqlx.Named(query, args)
	if err != nil {
		return nil, err
	}
	expanded, expandedArgs, err := sqlx.In(named, namedArgs...)
	if err != nil {
		return nil, err
	}
	var out []*models.OpenLine
	err = r.db.SelectContext(ctx, &out, r.db.Rebind(expanded), expandedArgs...)
	return out, err
}

func (r *LedgerRepository) OpenLine(ctx context.Context, id int64) (*models.OpenLine, error) {
	ol := &models.OpenLine{}
	err := r.db.GetContext(ctx, ol, openLineSelect+` WHERE ml.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, id)
	}
	return ol, err
}

// --- Book: partial reconciliation ---

type lockedLine struct {
	models.MoveLine
	ExchangeBalance decimal.Decimal `db:"exchange_balance"`
}

func (r *LedgerRepository) lockLine(ctx context.Context, tx *sqlx.Tx, id int64) (*lockedLine, error) {
	l := &lockedLine{}
	err := tx.GetContext(ctx, l, `
		SELECT `+moveLineColumns+`, exchange_balance FROM move_lines WHERE id = ? FOR UPDATE NOWAIT
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, id)
	}
	if err != nil && strings.Contains(err.Error(), "3572") {
		return nil, fmt.Errorf("%w: move line %d is locked by another reconciliation", models.ErrConflict, id)
	}
	return l, err
}

func (r *LedgerRepository) companyEquivalent(ctx context.Context, l *lockedLine, amount decimal.Decimal, currency string) decimal.Decimal {
	companyCur := r.currencies.Get(r.company.Currency)
	if currency == r.company.Currency {
		return money.Round(amount, companyCur)
	}
	rate := money.ReconstructRate(l.AmountCurrency, l.Balance, l.ExchangeBalance)
	if v, ok := money.ApplyRate(amount, rate, companyCur); ok {
		return v
	}
	if rt, err := r.Rate(ctx, currency, r.company.ID, l.Date); err == nil && !rt.IsZero() {
		return money.Round(amount.Div(rt), companyCur)
	}
	return money.Round(amount, companyCur)
}

// PartialReconcile runs the same settlement arithmetic as the in-memory
// book inside one transaction, with both lines row-locked up front.
func (r *LedgerRepository) PartialReconcile(ctx context.Context, debitLineID, creditLineID int64, amount decimal.Decimal, currency string) (*models.PartialReconciliation, *models.Move, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	debit, err := r.lockLine(ctx, tx, debitLineID)
	if err != nil {
		return nil, nil, err
	}
	credit, err := r.lockLine(ctx, tx, creditLineID)
	if err != nil {
		return nil, nil, err
	}
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: non-positive partial amount", models.ErrPrecondition)
	}
	if debit.AmountResidual.Sign() <= 0 || credit.AmountResidual.Sign() >= 0 {
		return nil, nil, fmt.Errorf("%w: lines are not opposing open lines", models.ErrPrecondition)
	}

	matched := decimal.Min(
		r.companyEquivalent(ctx, debit, amount, currency),
		r.companyEquivalent(ctx, credit, amount, currency),
	)
	companyCur := r.currencies.Get(r.company.Currency)
	debit.AmountResidual = money.Round(debit.AmountResidual.Sub(matched), companyCur)
	credit.AmountResidual = money.Round(credit.AmountResidual.Add(matched), companyCur)
	if currency != r.company.Currency {
		cur := r.currencies.Get(currency)
		if debit.Currency == currency {
			debit.AmountResidualCurrency = money.Round(debit.AmountResidualCurrency.Sub(amount), cur)
		}
		if credit.Currency == currency {
			credit.AmountResidualCurrency = money.Round(credit.AmountResidualCurrency.Add(amount), cur)
		}
	} else {
		debit.AmountResidualCurrency = debit.AmountResidual
		credit.AmountResidualCurrency = credit.AmountResidual
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO partial_reconciliations (debit_line_id, credit_line_id, amount, amount_company, currency)
		VALUES (?, ?, ?, ?, ?)
	`, debitLineID, creditLineID, amount, matched, currency)
	if err != nil {
		return nil, nil, err
	}
	partial := &models.PartialReconciliation{
		DebitLineID:   debitLineID,
		CreditLineID:  creditLineID,
		Amount:        amount,
		AmountCompany: matched,
		Currency:      currency,
		CreatedAt:     time.Now(),
	}
	if partial.ID, err = res.LastInsertId(); err != nil {
		return nil, nil, err
	}

	var exchangeMove *models.Move
	for _, l := range []*lockedLine{debit, credit} {
		m, err := r.settleExchangeTx(ctx, tx, l, partial)
		if err != nil {
			return nil, nil, err
		}
		if m != nil {
			exchangeMove = m
		}
		if err := r.storeLineTx(ctx, tx, l); err != nil {
			return nil, nil, err
		}
	}
	for _, moveID := range []int64{debit.MoveID, credit.MoveID} {
		if err := r.refreshPaymentStateTx(ctx, tx, moveID); err != nil {
			return nil, nil, err
		}
	}
	return partial, exchangeMove, tx.Commit()
}

func (r *LedgerRepository) storeLineTx(ctx context.Context, tx *sqlx.Tx, l *lockedLine) error {
	companyCur := r.currencies.Get(r.company.Currency)
	cur := r.currencies.Get(l.Currency)
	reconciled := money.IsZero(l.AmountResidual, companyCur) && money.IsZero(l.AmountResidualCurrency, cur)
	l.Reconciled = reconciled
	_, err := tx.ExecContext(ctx, `
		UPDATE move_lines
		SET amount_residual = ?, amount_residual_currency = ?, reconciled = ?, exchange_balance = ?
		WHERE id = ?
	`, l.AmountResidual, l.AmountResidualCurrency, l.Reconciled, l.ExchangeBalance, l.ID)
	return err
}

// settleExchangeTx mints the exchange-difference move for a line whose
// currency residual is exhausted while a company residual remains.
func (r *LedgerRepository) settleExchangeTx(ctx context.Context, tx *sqlx.Tx, l *lockedLine, origin *models.PartialReconciliation) (*models.Move, error) {
	if l.Currency == r.company.Currency {
		return nil, nil
	}
	cur := r.currencies.Get(l.Currency)
	companyCur := r.currencies.Get(r.company.Currency)
	if !money.IsZero(l.AmountResidualCurrency, cur) || money.IsZero(l.AmountResidual, companyCur) {
		return nil, nil
	}
	if r.company.ExchangeJournalID == 0 || r.company.IncomeExchangeAccountID == 0 || r.company.ExpenseExchangeAccountID == 0 {
		return nil, fmt.Errorf("%w: exchange journal or gain/loss accounts not configured", models.ErrConfig)
	}

	rem := l.AmountResidual
	plAccount := r.company.IncomeExchangeAccountID
	if rem.Sign() > 0 {
		plAccount = r.company.ExpenseExchangeAccountID
	}
	move := &models.Move{
		JournalID:    r.company.ExchangeJournalID,
		CompanyID:    r.company.ID,
		Date:         l.Date,
		Ref:          "Currency exchange rate difference",
		State:        models.MovePosted,
		PaymentState: models.PaymentStateNotPaid,
		Lines: []*models.MoveLine{
			{
				AccountID: l.AccountID,
				PartnerID: l.PartnerID,
				Currency:  l.Currency,
				Balance:   rem.Neg(),
				Label:     "Currency exchange rate difference",
				Date:      l.Date,
			},
			{
				AccountID: plAccount,
				PartnerID: l.PartnerID,
				Currency:  l.Currency,
				Balance:   rem,
				Label:     "Currency exchange rate difference",
				Date:      l.Date,
			},
		},
	}
	if err := r.insertMoveTx(ctx, tx, move); err != nil {
		return nil, err
	}
	zeroing := move.Lines[0]
	if _, err := tx.ExecContext(ctx, `
		UPDATE move_lines SET reconciled = 1, amount_residual = 0, amount_residual_currency = 0 WHERE id = ?
	`, zeroing.ID); err != nil {
		return nil, err
	}

	exDebit, exCredit := l.ID, zeroing.ID
	if rem.Sign() < 0 {
		exDebit, exCredit = zeroing.ID, l.ID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO partial_reconciliations (debit_line_id, credit_line_id, amount, amount_company, currency, exchange_move_id)
		VALUES (?, ?, 0, ?, ?, ?)
	`, exDebit, exCredit, rem.Abs(), l.Currency, move.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE partial_reconciliations SET exchange_move_id = ? WHERE id = ?
	`, move.ID, origin.ID); err != nil {
		return nil, err
	}
	origin.ExchangeMoveID = sql.NullInt64{Int64: move.ID, Valid: true}

	l.ExchangeBalance = l.ExchangeBalance.Add(rem.Neg())
	l.AmountResidual = decimal.Zero
	return move, nil
}

func (r *LedgerRepository) refreshPaymentStateTx(ctx context.Context, tx *sqlx.Tx, moveID int64) error {
	var rows []struct {
		Reconciled             bool            `db:"reconciled"`
		Balance                decimal.Decimal `db:"balance"`
		AmountCurrency         decimal.Decimal `db:"amount_currency"`
		AmountResidual         decimal.Decimal `db:"amount_residual"`
		AmountResidualCurrency decimal.Decimal `db:"amount_residual_currency"`
	}
	err := tx.SelectContext(ctx, &rows, `
		SELECT ml.reconciled, ml.balance, ml.amount_currency, ml.amount_residual, ml.amount_residual_currency
		FROM move_lines ml JOIN accounts a ON a.id = ml.account_id
		WHERE ml.move_id = ? AND a.reconcile = 1
	`, moveID)
	if err != nil {
		return err
	}
	var reconciled, touched int
	for _, row := range rows {
		if row.Reconciled {
			reconciled++
		}
		if !row.AmountResidual.Equal(row.Balance) || !row.AmountResidualCurrency.Equal(row.AmountCurrency) {
			touched++
		}
	}
	state := models.PaymentStateNotPaid
	switch {
	case len(rows) == 0:
	case reconciled == len(rows):
		state = models.PaymentStatePaid
	case touched > 0:
		state = models.PaymentStatePartial
	}
	_, err = tx.ExecContext(ctx, `UPDATE moves SET payment_state = ? WHERE id = ?`, state, moveID)
	return err
}

// --- Book: unreconcile ---

func (r *LedgerRepository) Unreconcile(ctx context.Context, partialIDs []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range partialIDs {
		if err := r.unreconcileTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const partialColumns = `id, debit_line_id, credit_line_id, amount, amount_company, currency, exchange_move_id, created_at`

func (r *LedgerRepository) unreconcileTx(ctx context.Context, tx *sqlx.Tx, partialID int64) error {
	p := &models.PartialReconciliation{}
	err := tx.GetContext(ctx, p, `SELECT `+partialColumns+` FROM partial_reconciliations WHERE id = ?`, partialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // already reversed
	}
	if err != nil {
		return err
	}
	companyCur := r.currencies.Get(r.company.Currency)

	// Unwind the exchange move first so the residual restored below is the
	// pre-reconciliation one.
	if p.ExchangeMoveID.Valid {
		var companions []*models.PartialReconciliation
		err := tx.SelectContext(ctx, &companions, `
			SELECT `+partialColumns+` FROM partial_reconciliations
			WHERE exchange_move_id = ? AND id <> ?
		`, p.ExchangeMoveID.Int64, p.ID)
		if err != nil {
			return err
		}
		for _, q := range companions {
			for _, side := range []struct {
				lineID int64
				sign   int
			}{{q.DebitLineID, 1}, {q.CreditLineID, -1}} {
				l, err := r.lockLine(ctx, tx, side.lineID)
				if err != nil {
					if errors.Is(err, models.ErrData) {
						continue // line belongs to the deleted exchange move
					}
					return err
				}
				delta := q.AmountCompany
				if side.sign < 0 {
					delta = delta.Neg()
				}
				l.AmountResidual = money.Round(l.AmountResidual.Add(delta), companyCur)
				l.ExchangeBalance = decimal.Zero
				if err := r.storeLineTx(ctx, tx, l); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM partial_reconciliations WHERE id = ?`, q.ID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM move_lines WHERE move_id = ?`, p.ExchangeMoveID.Int64); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM moves WHERE id = ?`, p.ExchangeMoveID.Int64); err != nil {
			return err
		}
	}

	for _, side := range []struct {
		lineID int64
		sign   int
	}{{p.DebitLineID, 1}, {p.CreditLineID, -1}} {
		l, err := r.lockLine(ctx, tx, side.lineID)
		if err != nil {
			if errors.Is(err, models.ErrData) {
				continue
			}
			return err
		}
		delta := p.AmountCompany
		if side.sign < 0 {
			delta = delta.Neg()
		}
		l.AmountResidual = money.Round(l.AmountResidual.Add(delta), companyCur)
		if p.Currency != r.company.Currency && l.Currency == p.Currency {
			cur := r.currencies.Get(p.Currency)
			amt := p.Amount
			if side.sign < 0 {
				amt = amt.Neg()
			}
			l.AmountResidualCurrency = money.Round(l.AmountResidualCurrency.Add(amt), cur)
		} else {
			l.AmountResidualCurrency = l.AmountResidual
		}
		if err := r.storeLineTx(ctx, tx, l); err != nil {
			return err
		}
		if err := r.refreshPaymentStateTx(ctx, tx, l.MoveID); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM partial_reconciliations WHERE id = ?`, p.ID)
	return err
}

func (r *LedgerRepository) PartialsForLine(ctx context.Context, lineID int64) ([]*models.PartialReconciliation, error) {
	var out []*models.PartialReconciliation
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+partialColumns+` FROM partial_reconciliations
		WHERE debit_line_id = ? OR credit_line_id = ? ORDER BY id
	`, lineID, lineID)
	return out, err
}

func (r *LedgerRepository) PaymentState(ctx context.Context, moveID int64) (string, error) {
	var state string
	err := r.db.GetContext(ctx, &state, `SELECT payment_state FROM moves WHERE id = ?`, moveID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: unknown move %d", models.ErrData, moveID)
	}
	return state, err
}
