package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
	"reconciliation-engine/internal/repositories"
	"reconciliation-engine/internal/widget"
)

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeStatementRepo is an in-memory StatementRepository with the same claim
// semantics as the MySQL one.
type fakeStatementRepo struct {
	mu         sync.Mutex
	statements map[int64]*models.Statement
	lines      map[int64]*models.StatementLine
	claims     map[int64]string
	nextID     int64
}

func newFakeStatementRepo() *fakeStatementRepo {
	return &fakeStatementRepo{
		statements: map[int64]*models.Statement{},
		lines:      map[int64]*models.StatementLine{},
		claims:     map[int64]string{},
	}
}

func (r *fakeStatementRepo) CreateStatement(_ context.Context, st *models.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	st.ID = r.nextID
	r.statements[st.ID] = st
	return nil
}

func (r *fakeStatementRepo) GetStatement(_ context.Context, id int64) (*models.Statement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statements[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown statement %d", models.ErrData, id)
	}
	return st, nil
}

func (r *fakeStatementRepo) ConfirmStatement(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statements[id]
	if !ok {
		return fmt.Errorf("%w: unknown statement %d", models.ErrData, id)
	}
	st.State = models.StatementConfirmed
	return nil
}

func (r *fakeStatementRepo) CreateLines(_ context.Context, lines []*models.StatementLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		if l.ID == 0 {
			r.nextID++
			l.ID = r.nextID
		}
		r.lines[l.ID] = l
	}
	return nil
}

func (r *fakeStatementRepo) GetLine(_ context.Context, id int64) (*models.StatementLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown statement line %d", models.ErrData, id)
	}
	return l, nil
}

func (r *fakeStatementRepo) LinesForStatement(_ context.Context, statementID int64) ([]*models.StatementLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StatementLine
	for _, l := range r.lines {
		if l.StatementID == statementID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeStatementRepo) ClaimForValidation(_ context.Context, lineID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineID]
	if !ok {
		return "", fmt.Errorf("%w: unknown statement line %d", models.ErrData, lineID)
	}
	if l.IsReconciled {
		return "", fmt.Errorf("%w: statement line %d already reconciled", models.ErrConflict, lineID)
	}
	if _, held := r.claims[lineID]; held {
		return "", fmt.Errorf("%w: statement line %d is being validated", models.ErrConflict, lineID)
	}
	r.nextID++
	token := fmt.Sprintf("token-%d", r.nextID)
	r.claims[lineID] = token
	return token, nil
}

func (r *fakeStatementRepo) ReleaseClaim(_ context.Context, lineID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[lineID] == token {
		delete(r.claims, lineID)
	}
	return nil
}

func (r *fakeStatementRepo) SetReconciled(_ context.Context, lineID, moveID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[lineID] != token {
		return fmt.Errorf("%w: validation claim on line %d was lost", models.ErrConflict, lineID)
	}
	delete(r.claims, lineID)
	l := r.lines[lineID]
	l.IsReconciled = true
	l.MoveID.Int64 = moveID
	l.MoveID.Valid = true
	return nil
}

func (r *fakeStatementRepo) SetUnreconciled(_ context.Context, lineID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineID]
	if !ok {
		return fmt.Errorf("%w: unknown statement line %d", models.ErrData, lineID)
	}
	l.IsReconciled = false
	return nil
}

func inClaimScope(scope repositories.ClaimScope, l *models.StatementLine) bool {
	if scope.Unscoped {
		return true
	}
	for _, id := range scope.JournalIDs {
		if l.JournalID == id {
			return true
		}
	}
	for _, id := range scope.PartnerIDs {
		if l.PartnerID.Valid && l.PartnerID.Int64 == id {
			return true
		}
	}
	return false
}

func (r *fakeStatementRepo) ClaimPending(_ context.Context, companyID int64, windowFrom time.Time, limit int, scope repositories.ClaimScope) ([]*models.StatementLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*models.StatementLine
	for _, l := range r.lines {
		if l.CompanyID != companyID || l.IsReconciled || l.Date.Before(windowFrom) {
			continue
		}
		if !inClaimScope(scope, l) {
			continue
		}
		pending = append(pending, l)
	}
	// Never-checked first, then oldest check, then statement date.
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.CronLastCheck.Valid != b.CronLastCheck.Valid {
			return !a.CronLastCheck.Valid
		}
		if a.CronLastCheck.Valid && !a.CronLastCheck.Time.Equal(b.CronLastCheck.Time) {
			return a.CronLastCheck.Time.Before(b.CronLastCheck.Time)
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	now := time.Now()
	for _, l := range pending {
		l.CronLastCheck.Time = now
		l.CronLastCheck.Valid = true
	}
	return pending, nil
}

func (r *fakeStatementRepo) CountPending(_ context.Context, companyID int64, windowFrom time.Time, scope repositories.ClaimScope) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if l.CompanyID == companyID && !l.IsReconciled && !l.Date.Before(windowFrom) && inClaimScope(scope, l) {
			n++
		}
	}
	return n, nil
}

// fakeRuleRepo serves a static rule set.
type fakeRuleRepo struct {
	rules []*models.ReconcileModel
}

func (r *fakeRuleRepo) ListModels(context.Context, int64) ([]*models.ReconcileModel, error) {
	return r.rules, nil
}

func (r *fakeRuleRepo) ListAutoReconcileModels(context.Context, int64) ([]*models.ReconcileModel, error) {
	var out []*models.ReconcileModel
	for _, m := range r.rules {
		if m.AutoReconcile {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRuleRepo) GetModel(_ context.Context, id int64) (*models.ReconcileModel, error) {
	for _, m := range r.rules {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown reconcile model %d", models.ErrData, id)
}

var svcCurrencies = money.Currencies{
	"EUR": {Code: "EUR", DecimalPlaces: 2, Active: true},
	"USD": {Code: "USD", DecimalPlaces: 2, Active: true},
}

type svcFixture struct {
	env        *widget.Env
	book       *ledger.MemoryBook
	repo       *fakeStatementRepo
	validator  *ValidationService
	matcher    *matching.Matcher
	company    *models.Company
	bank       *models.Account
	suspense   *models.Account
	receivable *models.Account
	writeoff   *models.Account
	journal    *models.Journal
	partner    *models.Partner
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	company := &models.Company{ID: 1, Name: "Acme", Currency: "EUR"}
	book := ledger.NewMemoryBook(company, svcCurrencies)

	f := &svcFixture{book: book, company: company, repo: newFakeStatementRepo()}
	f.bank = book.AddAccount(&models.Account{Code: "570", Name: "Bank", Type: models.AccountTypeLiquidity, CompanyID: 1})
	f.suspense = book.AddAccount(&models.Account{Code: "572", Name: "Suspense", Type: models.AccountTypeSuspense, CompanyID: 1})
	f.receivable = book.AddAccount(&models.Account{Code: "400", Name: "Receivable", Type: models.AccountTypeReceivable, Reconcile: true, CompanyID: 1})
	f.writeoff = book.AddAccount(&models.Account{Code: "658", Name: "Payment differences", Type: models.AccountTypeExpense, CompanyID: 1})
	f.journal = book.AddJournal(&models.Journal{
		Code: "BNK", Name: "Bank", Type: "bank", CompanyID: 1,
		BankAccountID: f.bank.ID, SuspenseAccountID: f.suspense.ID,
	})
	f.partner = book.AddPartner(&models.Partner{Name: "Deco Addict", Active: true, CompanyID: 1})

	incomeEx := book.AddAccount(&models.Account{Code: "766", Name: "FX gain", Type: models.AccountTypeIncome, CompanyID: 1})
	expenseEx := book.AddAccount(&models.Account{Code: "666", Name: "FX loss", Type: models.AccountTypeExpense, CompanyID: 1})
	exJournal := book.AddJournal(&models.Journal{Code: "EXCH", Name: "Exchange", Type: "general", CompanyID: 1})
	company.IncomeExchangeAccountID = incomeEx.ID
	company.ExpenseExchangeAccountID = expenseEx.ID
	company.ExchangeJournalID = exJournal.ID

	companyCur := svcCurrencies.Get("EUR")
	f.env = &widget.Env{
		Company:    company,
		Currencies: svcCurrencies,
		Converter:  &money.Converter{Rates: book, Company: companyCur, Currencies: svcCurrencies},
		Taxes:      ledger.NewStandardTaxComputer(companyCur),
		Directory:  book,
		Book:       book,
	}
	log := zap.NewNop().Sugar()
	f.validator = NewValidationService(book, f.repo, company, svcCurrencies, log)
	f.matcher = &matching.Matcher{Directory: book, Book: book, Currencies: svcCurrencies, Log: log}
	return f
}

// postInvoice books a receivable invoice for the fixture partner and returns
// the id of its open line.
func (f *svcFixture) postInvoice(t *testing.T, ref, ccy, amountCurrency, balance string, date time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	recv := &models.MoveLine{
		AccountID: f.receivable.ID, Currency: ccy,
		AmountCurrency: dec(amountCurrency), Balance: dec(balance),
		PartnerID: nullInt64(f.partner.ID),
		Label:     ref, Date: date,
	}
	move := &models.Move{
		JournalID: f.journal.ID, CompanyID: 1, Date: date, Ref: ref,
		PaymentState: models.PaymentStateNotPaid,
		Lines: []*models.MoveLine{recv, {
			AccountID: f.writeoff.ID, Currency: ccy,
			AmountCurrency: dec(amountCurrency).Neg(), Balance: dec(balance).Neg(),
			Label: ref, Date: date,
		}},
	}
	if err := f.book.CreateMove(ctx, move); err != nil {
		t.Fatal(err)
	}
	if err := f.book.PostMove(ctx, move.ID); err != nil {
		t.Fatal(err)
	}
	return recv.ID
}

func (f *svcFixture) addLine(t *testing.T, l *models.StatementLine) *models.StatementLine {
	t.Helper()
	l.JournalID = f.journal.ID
	l.CompanyID = 1
	if err := f.repo.CreateLines(context.Background(), []*models.StatementLine{l}); err != nil {
		t.Fatal(err)
	}
	return l
}
