package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"reconciliation-engine/internal/models"
)

// StatementRepository persists statements and their lines. The three mutable
// reconciliation columns on a line (is_reconciled, cron_last_check, move_id)
// are only written through the claim methods below, so concurrent validators
// and cron workers never double-process a line.
type StatementRepository interface {
	CreateStatement(ctx context.Context, st *models.Statement) error
	GetStatement(ctx context.Context, id int64) (*models.Statement, error)
	ConfirmStatement(ctx context.Context, id int64) error

	CreateLines(ctx context.Context, lines []*models.StatementLine) error
	GetLine(ctx context.Context, id int64) (*models.StatementLine, error)
	LinesForStatement(ctx context.Context, statementID int64) ([]*models.StatementLine, error)

	// ClaimForValidation takes the exclusive validation claim on an open
	// line, returning a token the caller must present to settle or release
	// it. A reconciled or already claimed line yields ErrConflict.
	ClaimForValidation(ctx context.Context, lineID int64) (string, error)
	ReleaseClaim(ctx context.Context, lineID int64, token string) error
	SetReconciled(ctx context.Context, lineID, moveID int64, token string) error
	SetUnreconciled(ctx context.Context, lineID int64) error

	// ClaimPending selects up to limit unreconciled lines inside the
	// auto-reconcile window and scope, fairest first, stamping
	// cron_last_check under the same transaction so concurrent ticks pick
	// disjoint sets.
	ClaimPending(ctx context.Context, companyID int64, windowFrom time.Time, limit int, scope ClaimScope) ([]*models.StatementLine, error)
	CountPending(ctx context.Context, companyID int64, windowFrom time.Time, scope ClaimScope) (int, error)
}

// ClaimScope narrows the cron claim to the lines some active reconcile model
// could actually take, so lines outside every model's journal and partner
// filters are never claimed or stamped. Unscoped means at least one model
// carries no filters and every line qualifies.
type ClaimScope struct {
	Unscoped   bool
	JournalIDs []int64
	PartnerIDs []int64
}

// Empty reports whether the scope excludes every line.
func (s ClaimScope) Empty() bool {
	return !s.Unscoped && len(s.JournalIDs) == 0 && len(s.PartnerIDs) == 0
}

type statementRepository struct {
	db *sqlx.DB
}

func NewStatementRepository(db *sqlx.DB) StatementRepository {
	return &statementRepository{db: db}
}

func (r *statementRepository) CreateStatement(ctx context.Context, st *models.Statement) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO statements (journal_id, company_id, name, statement_date, balance_start, balance_end, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.JournalID, st.CompanyID, st.Name, st.Date, st.BalanceStart, st.BalanceEnd, st.State)
	if err != nil {
		return err
	}
	st.ID, err = res.LastInsertId()
	return err
}

func (r *statementRepository) GetStatement(ctx context.Context, id int64) (*models.Statement, error) {
	st := &models.Statement{}
	err := r.db.GetContext(ctx, st, `
		SELECT id, journal_id, company_id, name, statement_date, balance_start, balance_end, state, created_at, updated_at
		FROM statements WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown statement %d", models.ErrData, id)
	}
	return st, err
}

func (r *statementRepository) ConfirmStatement(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE statements SET state = ?, updated_at = NOW() WHERE id = ?
	`, models.StatementConfirmed, id)
	return err
}

func (r *statementRepository) CreateLines(ctx context.Context, lines []*models.StatementLine) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, l := range lines {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO statement_lines (
				statement_id, journal_id, company_id, line_date, payer_name, account_number,
				amount, foreign_amount, foreign_currency, partner_id, payment_ref, is_reconciled
			) VALUES (
				:statement_id, :journal_id, :company_id, :line_date, :payer_name, :account_number,
				:amount, :foreign_amount, :foreign_currency, :partner_id, :payment_ref, 0
			)
		`, l)
		if err != nil {
			return err
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const statementLineColumns = `
	id, statement_id, journal_id, company_id, line_date, payer_name, account_number,
	amount, foreign_amount, foreign_currency, partner_id, payment_ref,
	is_reconciled, cron_last_check, move_id, created_at, updated_at
`

func (r *statementRepository) GetLine(ctx context.Context, id int64) (*models.StatementLine, error) {
	l := &models.StatementLine{}
	err := r.db.GetContext(ctx, l, `SELECT `+statementLineColumns+` FROM statement_lines WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown statement line %d", models.ErrData, id)
	}
	return l, err
}

func (r *statementRepository) LinesForStatement(ctx context.Context, statementID int64) ([]*models.StatementLine, error) {
	var out []*models.StatementLine
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+statementLineColumns+` FROM statement_lines
		WHERE statement_id = ? ORDER BY line_date, id
	`, statementID)
	return out, err
}

func (r *statementRepository) ClaimForValidation(ctx context.Context, lineID int64) (string, error) {
	token := uuid.NewString()
	res, err := r.db.ExecContext(ctx, `
		UPDATE statement_lines
		SET validation_token = ?, updated_at = NOW()
		WHERE id = ? AND is_reconciled = 0 AND validation_token IS NULL
	`, token, lineID)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: statement line %d is reconciled or being validated", models.ErrConflict, lineID)
	}
	return token, nil
}

func (r *statementRepository) ReleaseClaim(ctx context.Context, lineID int64, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE statement_lines SET validation_token = NULL, updated_at = NOW()
		WHERE id = ? AND validation_token = ?
	`, lineID, token)
	return err
}

func (r *statementRepository) SetReconciled(ctx context.Context, lineID, moveID int64, token string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE statement_lines
		SET is_reconciled = 1, move_id = ?, validation_token = NULL, updated_at = NOW()
		WHERE id = ? AND validation_token = ?
	`, moveID, lineID, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: validation claim on line %d was lost", models.ErrConflict, lineID)
	}
	return nil
}

func (r *statementRepository) SetUnreconciled(ctx context.Context, lineID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE statement_lines SET is_reconciled = 0, updated_at = NOW() WHERE id = ?
	`, lineID)
	return err
}

// scopeClause expands the claim scope into a SQL predicate on journal_id and
// partner_id. An unscoped claim gets no predicate.
func scopeClause(scope ClaimScope) (string, []interface{}, error) {
	if scope.Unscoped {
		return "", nil, nil
	}
	switch {
	case len(scope.JournalIDs) > 0 && len(scope.PartnerIDs) > 0:
		return sqlx.In(" AND (journal_id IN (?) OR partner_id IN (?))", scope.JournalIDs, scope.PartnerIDs)
	case len(scope.JournalIDs) > 0:
		return sqlx.In(" AND journal_id IN (?)", scope.JournalIDs)
	default:
		return sqlx.In(" AND partner_id IN (?)", scope.PartnerIDs)
	}
}

func (r *statementRepository) ClaimPending(ctx context.Context, companyID int64, windowFrom time.Time, limit int, scope ClaimScope) ([]*models.StatementLine, error) {
	if scope.Empty() {
		return nil, nil
	}
	clause, scopeArgs, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := append([]interface{}{companyID, windowFrom}, scopeArgs...)
	args = append(args, limit)
	var out []*models.StatementLine
	err = tx.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+statementLineColumns+` FROM statement_lines
		WHERE company_id = ? AND is_reconciled = 0 AND line_date >= ?`+clause+`
		ORDER BY cron_last_check IS NULL DESC, cron_last_check ASC, line_date ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`), args...)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, l := range out {
		if _, err := tx.ExecContext(ctx, `
			UPDATE statement_lines SET cron_last_check = ?, updated_at = NOW() WHERE id = ?
		`, now, l.ID); err != nil {
			return nil, err
		}
		l.CronLastCheck = sql.NullTime{Time: now, Valid: true}
	}
	return out, tx.Commit()
}

func (r *statementRepository) CountPending(ctx context.Context, companyID int64, windowFrom time.Time, scope ClaimScope) (int, error) {
	if scope.Empty() {
		return 0, nil
	}
	clause, scopeArgs, err := scopeClause(scope)
	if err != nil {
		return 0, err
	}
	args := append([]interface{}{companyID, windowFrom}, scopeArgs...)
	var n int
	err = r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM statement_lines
		WHERE company_id = ? AND is_reconciled = 0 AND line_date >= ?`+clause+`
	`), args...)
	return n, err
}
