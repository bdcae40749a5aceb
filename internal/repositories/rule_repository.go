package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"reconciliation-engine/internal/models"
)

// RuleRepository loads reconcile models with their filter sets and write-off
// templates.
type RuleRepository interface {
	ListModels(ctx context.Context, companyID int64) ([]*models.ReconcileModel, error)
	ListAutoReconcileModels(ctx context.Context, companyID int64) ([]*models.ReconcileModel, error)
	GetModel(ctx context.Context, id int64) (*models.ReconcileModel, error)
}

type ruleRepository struct {
	db *sqlx.DB
}

func NewRuleRepository(db *sqlx.DB) RuleRepository {
	return &ruleRepository{db: db}
}

const reconcileModelColumns = `
	id, name, sequence, rule_type, auto_reconcile, company_id,
	match_reference, tolerance_type, tolerance_value, writeoff_account_id
`

func (r *ruleRepository) ListModels(ctx context.Context, companyID int64) ([]*models.ReconcileModel, error) {
	var out []*models.ReconcileModel
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+reconcileModelColumns+` FROM reconcile_models
		WHERE company_id = ? ORDER BY sequence, id
	`, companyID)
	if err != nil {
		return nil, err
	}
	return out, r.loadDetails(ctx, out)
}

func (r *ruleRepository) ListAutoReconcileModels(ctx context.Context, companyID int64) ([]*models.ReconcileModel, error) {
	var out []*models.ReconcileModel
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+reconcileModelColumns+` FROM reconcile_models
		WHERE company_id = ? AND auto_reconcile = 1 ORDER BY sequence, id
	`, companyID)
	if err != nil {
		return nil, err
	}
	return out, r.loadDetails(ctx, out)
}

func (r *ruleRepository) GetModel(ctx context.Context, id int64) (*models.ReconcileModel, error) {
	m := &models.ReconcileModel{}
	err := r.db.GetContext(ctx, m, `
		SELECT `+reconcileModelColumns+` FROM reconcile_models WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	set := []*models.ReconcileModel{m}
	return m, r.loadDetails(ctx, set)
}

// loadDetails attaches journal/partner filter sets and template rows with
// their tax sets.
func (r *ruleRepository) loadDetails(ctx context.Context, rules []*models.ReconcileModel) error {
	if len(rules) == 0 {
		return nil
	}
	byID := map[int64]*models.ReconcileModel{}
	ids := make([]int64, 0, len(rules))
	for _, m := range rules {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	query, args, err := sqlx.In(`SELECT model_id, journal_id FROM reconcile_model_journals WHERE model_id IN (?)`, ids)
	if err != nil {
		return err
	}
	var journals []struct {
		ModelID   int64 `db:"model_id"`
		JournalID int64 `db:"journal_id"`
	}
	if err := r.db.SelectContext(ctx, &journals, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range journals {
		m := byID[row.ModelID]
		m.JournalIDs = append(m.JournalIDs, row.JournalID)
	}

	query, args, err = sqlx.In(`SELECT model_id, partner_id FROM reconcile_model_partners WHERE model_id IN (?)`, ids)
	if err != nil {
		return err
	}
	var partners []struct {
		ModelID   int64 `db:"model_id"`
		PartnerID int64 `db:"partner_id"`
	}
	if err := r.db.SelectContext(ctx, &partners, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range partners {
		m := byID[row.ModelID]
		m.PartnerIDs = append(m.PartnerIDs, row.PartnerID)
	}

	query, args, err = sqlx.In(`
		SELECT id, model_id, sequence, account_id, label, amount_type, amount
		FROM reconcile_model_lines WHERE model_id IN (?) ORDER BY sequence, id
	`, ids)
	if err != nil {
		return err
	}
	var lines []*models.ReconcileModelLine
	if err := r.db.SelectContext(ctx, &lines, r.db.Rebind(query), args...); err != nil {
		return err
	}
	lineByID := map[int64]*models.ReconcileModelLine{}
	lineIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		m := byID[l.ModelID]
		m.Lines = append(m.Lines, l)
		lineByID[l.ID] = l
		lineIDs = append(lineIDs, l.ID)
	}
	if len(lineIDs) == 0 {
		return nil
	}

	query, args, err = sqlx.In(`SELECT model_line_id, tax_id FROM reconcile_model_line_taxes WHERE model_line_id IN (?)`, lineIDs)
	if err != nil {
		return err
	}
	var taxes []struct {
		ModelLineID int64 `db:"model_line_id"`
		TaxID       int64 `db:"tax_id"`
	}
	if err := r.db.SelectContext(ctx, &taxes, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range taxes {
		l := lineByID[row.ModelLineID]
		l.TaxIDs = append(l.TaxIDs, row.TaxID)
	}
	return nil
}
