package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// MemoryBook is an in-memory implementation of Book, Directory and the rate
// provider. It backs the test suite and local seeding; the production stack
// uses the MySQL repositories instead.
type MemoryBook struct {
	mu sync.Mutex

	company      *models.Company
	currencies   money.Currencies
	accounts     map[int64]*models.Account
	partners     map[int64]*models.Partner
	bankAccounts []*models.PartnerBankAccount
	journals     map[int64]*models.Journal
	taxes        map[int64]*models.Tax
	rates        []*models.Rate

	moves    map[int64]*models.Move
	lines    map[int64]*models.MoveLine
	partials map[int64]*models.PartialReconciliation
	// exchange-difference balances booked against a line, summed
	exchangeByLine map[int64]decimal.Decimal

	nextID int64
}

func NewMemoryBook(company *models.Company, currencies money.Currencies) *MemoryBook {
	return &MemoryBook{
		company:        company,
		currencies:     currencies,
		accounts:       make(map[int64]*models.Account),
		partners:       make(map[int64]*models.Partner),
		journals:       make(map[int64]*models.Journal),
		taxes:          make(map[int64]*models.Tax),
		moves:          make(map[int64]*models.Move),
		lines:          make(map[int64]*models.MoveLine),
		partials:       make(map[int64]*models.PartialReconciliation),
		exchangeByLine: make(map[int64]decimal.Decimal),
	}
}

func (b *MemoryBook) nextIdent() int64 {
	b.nextID++
	return b.nextID
}

// Seeding helpers.

func (b *MemoryBook) AddAccount(a *models.Account) *models.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.ID == 0 {
		a.ID = b.nextIdent()
	}
	b.accounts[a.ID] = a
	return a
}

func (b *MemoryBook) AddPartner(p *models.Partner) *models.Partner {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.ID == 0 {
		p.ID = b.nextIdent()
	}
	b.partners[p.ID] = p
	return p
}

func (b *MemoryBook) AddBankAccount(a *models.PartnerBankAccount) *models.PartnerBankAccount {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.ID == 0 {
		a.ID = b.nextIdent()
	}
	b.bankAccounts = append(b.bankAccounts, a)
	return a
}

func (b *MemoryBook) AddJournal(j *models.Journal) *models.Journal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j.ID == 0 {
		j.ID = b.nextIdent()
	}
	b.journals[j.ID] = j
	return j
}

func (b *MemoryBook) AddTax(t *models.Tax) *models.Tax {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.ID == 0 {
		t.ID = b.nextIdent()
	}
	b.taxes[t.ID] = t
	return t
}

func (b *MemoryBook) AddRate(r *models.Rate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.ID == 0 {
		r.ID = b.nextIdent()
	}
	b.rates = append(b.rates, r)
}

// Rate implements money.RateProvider: most recent rate at or before date.
func (b *MemoryBook) Rate(_ context.Context, currency string, companyID int64, date time.Time) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var best *models.Rate
	for _, r := range b.rates {
		if r.Currency != currency || r.CompanyID != companyID || r.Date.After(date) {
			continue
		}
		if best == nil || r.Date.After(best.Date) {
			best = r
		}
	}
	if best == nil {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", models.ErrConfig, currency)
	}
	return best.Rate, nil
}

// Directory.

func (b *MemoryBook) Company(_ context.Context, id int64) (*models.Company, error) {
	if b.company == nil || b.company.ID != id {
		return nil, fmt.Errorf("%w: unknown company %d", models.ErrData, id)
	}
	return b.company, nil
}

func (b *MemoryBook) Account(_ context.Context, id int64) (*models.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown account %d", models.ErrData, id)
	}
	return a, nil
}

func (b *MemoryBook) Journal(_ context.Context, id int64) (*models.Journal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.journals[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown journal %d", models.ErrData, id)
	}
	return j, nil
}

func (b *MemoryBook) Partner(_ context.Context, id int64) (*models.Partner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.partners[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown partner %d", models.ErrData, id)
	}
	return p, nil
}

func (b *MemoryBook) ActivePartners(_ context.Context, companyID int64) ([]*models.Partner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Partner
	for _, p := range b.partners {
		if p.Active && p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBook) BankAccountsByNumber(_ context.Context, number string) ([]*models.PartnerBankAccount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.PartnerBankAccount
	for _, a := range b.bankAccounts {
		if digits(a.Number) == digits(number) {
			out = append(out, a)
		}
	}
	return out, nil
}

func digits(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (b *MemoryBook) Taxes(_ context.Context, ids []int64) ([]*models.Tax, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Tax
	for _, id := range ids {
		t, ok := b.taxes[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown tax %d", models.ErrData, id)
		}
		out = append(out, t)
	}
	return out, nil
}

// Book.

func (b *MemoryBook) CreateMove(_ context.Context, move *models.Move) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if move.ID == 0 {
		move.ID = b.nextIdent()
	}
	if move.State == "" {
		move.State = models.MoveDraft
	}
	for _, l := range move.Lines {
		if l.ID == 0 {
			l.ID = b.nextIdent()
		}
		l.MoveID = move.ID
		if l.Currency == "" {
			l.Currency = b.company.Currency
		}
		l.AmountResidual = l.Balance
		l.AmountResidualCurrency = l.AmountCurrency
		if l.Currency == b.company.Currency {
			l.AmountResidualCurrency = l.Balance
		}
		b.lines[l.ID] = l
	}
	b.moves[move.ID] = move
	return nil
}

func (b *MemoryBook) PostMove(_ context.Context, moveID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	move, ok := b.moves[moveID]
	if !ok {
		return fmt.Errorf("%w: unknown move %d", models.ErrData, moveID)
	}
	companyCur := b.currencies.Get(b.company.Currency)
	total := decimal.Zero
	for _, l := range move.Lines {
		total = total.Add(l.Balance)
	}
	if !money.IsZero(total, companyCur) {
		return fmt.Errorf("%w: move %d does not balance (%s)", models.ErrPrecondition, moveID, total.String())
	}
	move.State = models.MovePosted
	return nil
}

func (b *MemoryBook) SetMoveToDraft(_ context.Context, moveID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	move, ok := b.moves[moveID]
	if !ok {
		return fmt.Errorf("%w: unknown move %d", models.ErrData, moveID)
	}
	move.State = models.MoveDraft
	return nil
}

func (b *MemoryBook) CancelMove(_ context.Context, moveID int64, hard bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	move, ok := b.moves[moveID]
	if !ok {
		return fmt.Errorf("%w: unknown move %d", models.ErrData, moveID)
	}
	if hard {
		for _, l := range move.Lines {
			delete(b.lines, l.ID)
		}
		delete(b.moves, moveID)
		return nil
	}
	move.State = models.MoveCancel
	return nil
}

func (b *MemoryBook) Move(_ context.Context, id int64) (*models.Move, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	move, ok := b.moves[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown move %d", models.ErrData, id)
	}
	return move, nil
}

// MovesForStatementLine returns every move booked against a statement line,
// ordered by id.
func (b *MemoryBook) MovesForStatementLine(_ context.Context, statementLineID int64) ([]*models.Move, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Move
	for _, m := range b.moves {
		if m.StatementLineID.Valid && m.StatementLineID.Int64 == statementLineID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBook) Line(_ context.Context, id int64) (*models.MoveLine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, id)
	}
	return l, nil
}

func (b *MemoryBook) UpdateLinePartner(_ context.Context, lineID, partnerID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[lineID]
	if !ok {
		return fmt.Errorf("%w: unknown move line %d", models.ErrData, lineID)
	}
	l.PartnerID.Int64 = partnerID
	l.PartnerID.Valid = partnerID != 0
	return nil
}

func (b *MemoryBook) UpdateMovePartner(_ context.Context, moveID, partnerID int64, clear bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	move, ok := b.moves[moveID]
	if !ok {
		return fmt.Errorf("%w: unknown move %d", models.ErrData, moveID)
	}
	if clear {
		move.PartnerID.Valid = false
		move.PartnerID.Int64 = 0
		return nil
	}
	move.PartnerID.Int64 = partnerID
	move.PartnerID.Valid = true
	return nil
}

func (b *MemoryBook) openLineView(l *models.MoveLine) *models.OpenLine {
	move := b.moves[l.MoveID]
	var partnerID int64
	if l.PartnerID.Valid {
		partnerID = l.PartnerID.Int64
	}
	return &models.OpenLine{
		ID:                     l.ID,
		MoveID:                 l.MoveID,
		MoveRef:                move.Ref,
		PartnerID:              partnerID,
		AccountID:              l.AccountID,
		Currency:               l.Currency,
		AmountCurrency:         l.AmountCurrency,
		Balance:                l.Balance,
		AmountResidual:         l.AmountResidual,
		AmountResidualCurrency: l.AmountResidualCurrency,
		ExchangeBalance:        b.exchangeByLine[l.ID],
		DateMaturity:           l.Date,
	}
}

func (b *MemoryBook) OpenLines(_ context.Context, q OpenLineQuery) ([]*models.OpenLine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.OpenLine
	for _, l := range b.lines {
		acc, ok := b.accounts[l.AccountID]
		if !ok || !acc.Reconcile || l.Reconciled {
			continue
		}
		move := b.moves[l.MoveID]
		if move == nil || move.State != models.MovePosted {
			continue
		}
		if q.CompanyID != 0 && move.CompanyID != q.CompanyID {
			continue
		}
		if move.StatementLineID.Valid {
			continue // statement-side postings are not invoice open lines
		}
		if q.Currency != "" && l.Currency != q.Currency {
			continue
		}
		if len(q.PartnerIDs) > 0 {
			found := false
			for _, id := range q.PartnerIDs {
				if l.PartnerID.Valid && l.PartnerID.Int64 == id {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if excluded(q.ExcludeIDs, l.ID) {
			continue
		}
		if !q.DateFrom.IsZero() && l.Date.Before(q.DateFrom) {
			continue
		}
		if !q.DateTo.IsZero() && l.Date.After(q.DateTo) {
			continue
		}
		out = append(out, b.openLineView(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateMaturity.Equal(out[j].DateMaturity) {
			return out[i].DateMaturity.Before(out[j].DateMaturity)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func excluded(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (b *MemoryBook) OpenLine(_ context.Context, id int64) (*models.OpenLine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, id)
	}
	return b.openLineView(l), nil
}

// companyEquivalent converts an amount in currency to the company value the
// line was booked at, using the line's reconstructed effective rate, falling
// back to the rate table when the line carries no usable rate.
func (b *MemoryBook) companyEquivalent(l *models.MoveLine, amount decimal.Decimal, currency string) decimal.Decimal {
	companyCur := b.currencies.Get(b.company.Currency)
	if currency == b.company.Currency {
		return money.Round(amount, companyCur)
	}
	rate := money.ReconstructRate(l.AmountCurrency, l.Balance, b.exchangeByLine[l.ID])
	if v, ok := money.ApplyRate(amount, rate, companyCur); ok {
		return v
	}
	if r, err := b.Rate(context.Background(), currency, b.company.ID, l.Date); err == nil && !r.IsZero() {
		return money.Round(amount.Div(r), companyCur)
	}
	return money.Round(amount, companyCur)
}

// PartialReconcile matches a debit and a credit line for amount units of
// currency. Both company residuals move by the same matched company amount;
// the side whose currency residual reaches zero with a company residual left
// gets an exchange-difference move minted against it.
func (b *MemoryBook) PartialReconcile(ctx context.Context, debitLineID, creditLineID int64, amount decimal.Decimal, currency string) (*models.PartialReconciliation, *models.Move, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	debit, ok := b.lines[debitLineID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, debitLineID)
	}
	credit, ok := b.lines[creditLineID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown move line %d", models.ErrData, creditLineID)
	}
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: non-positive partial amount", models.ErrPrecondition)
	}
	if debit.AmountResidual.Sign() <= 0 || credit.AmountResidual.Sign() >= 0 {
		return nil, nil, fmt.Errorf("%w: lines are not opposing open lines", models.ErrPrecondition)
	}

	debitCompany := b.companyEquivalent(debit, amount, currency)
	creditCompany := b.companyEquivalent(credit, amount, currency)
	matchedCompany := decimal.Min(debitCompany, creditCompany)

	companyCur := b.currencies.Get(b.company.Currency)
	debit.AmountResidual = money.Round(debit.AmountResidual.Sub(matchedCompany), companyCur)
	credit.AmountResidual = money.Round(credit.AmountResidual.Add(matchedCompany), companyCur)
	if currency != b.company.Currency {
		cur := b.currencies.Get(currency)
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

	partial := &models.PartialReconciliation{
		ID:            b.nextIdent(),
		DebitLineID:   debitLineID,
		CreditLineID:  creditLineID,
		Amount:        amount,
		AmountCompany: matchedCompany,
		Currency:      currency,
		CreatedAt:     time.Now(),
	}
	b.partials[partial.ID] = partial

	var exchangeMove *models.Move
	for _, l := range []*models.MoveLine{debit, credit} {
		m, err := b.settleExchangeLocked(l, partial)
		if err != nil {
			return nil, nil, err
		}
		if m != nil {
			exchangeMove = m
		}
		b.refreshReconciledLocked(l)
	}
	b.refreshPaymentStateLocked(debit.MoveID)
	b.refreshPaymentStateLocked(credit.MoveID)
	return partial, exchangeMove, nil
}

// settleExchangeLocked mints the exchange-difference move for a line whose
// currency residual is exhausted while a company residual remains.
func (b *MemoryBook) settleExchangeLocked(l *models.MoveLine, origin *models.PartialReconciliation) (*models.Move, error) {
	if l.Currency == b.company.Currency {
		return nil, nil
	}
	cur := b.currencies.Get(l.Currency)
	companyCur := b.currencies.Get(b.company.Currency)
	if !money.IsZero(l.AmountResidualCurrency, cur) || money.IsZero(l.AmountResidual, companyCur) {
		return nil, nil
	}
	if b.company.ExchangeJournalID == 0 || b.company.IncomeExchangeAccountID == 0 || b.company.ExpenseExchangeAccountID == 0 {
		return nil, fmt.Errorf("%w: exchange journal or gain/loss accounts not configured", models.ErrConfig)
	}

	r := l.AmountResidual
	plAccount := b.company.IncomeExchangeAccountID
	if r.Sign() > 0 {
		plAccount = b.company.ExpenseExchangeAccountID
	}
	move := &models.Move{
		ID:           b.nextIdent(),
		JournalID:    b.company.ExchangeJournalID,
		CompanyID:    b.company.ID,
		Date:         l.Date,
		Ref:          "Currency exchange rate difference",
		State:        models.MovePosted,
		PaymentState: models.PaymentStateNotPaid,
	}
	zeroing := &models.MoveLine{
		ID:        b.nextIdent(),
		MoveID:    move.ID,
		AccountID: l.AccountID,
		PartnerID: l.PartnerID,
		Currency:  l.Currency,
		Balance:   r.Neg(),
		Label:     "Currency exchange rate difference",
		Date:      l.Date,
	}
	pl := &models.MoveLine{
		ID:        b.nextIdent(),
		MoveID:    move.ID,
		AccountID: plAccount,
		PartnerID: l.PartnerID,
		Currency:  l.Currency,
		Balance:   r,
		Label:     "Currency exchange rate difference",
		Date:      l.Date,
	}
	move.Lines = []*models.MoveLine{zeroing, pl}
	b.lines[zeroing.ID] = zeroing
	b.lines[pl.ID] = pl
	b.moves[move.ID] = move
	b.exchangeByLine[l.ID] = b.exchangeByLine[l.ID].Add(r.Neg())

	exPartial := &models.PartialReconciliation{
		ID:            b.nextIdent(),
		Amount:        decimal.Zero,
		AmountCompany: r.Abs(),
		Currency:      l.Currency,
		CreatedAt:     time.Now(),
	}
	if r.Sign() > 0 {
		exPartial.DebitLineID = l.ID
		exPartial.CreditLineID = zeroing.ID
	} else {
		exPartial.DebitLineID = zeroing.ID
		exPartial.CreditLineID = l.ID
	}
	exPartial.ExchangeMoveID.Int64 = move.ID
	exPartial.ExchangeMoveID.Valid = true
	b.partials[exPartial.ID] = exPartial
	origin.ExchangeMoveID.Int64 = move.ID
	origin.ExchangeMoveID.Valid = true

	l.AmountResidual = decimal.Zero
	zeroing.AmountResidual = decimal.Zero
	zeroing.AmountResidualCurrency = decimal.Zero
	zeroing.Reconciled = true
	return move, nil
}

func (b *MemoryBook) refreshReconciledLocked(l *models.MoveLine) {
	companyCur := b.currencies.Get(b.company.Currency)
	cur := b.currencies.Get(l.Currency)
	l.Reconciled = money.IsZero(l.AmountResidual, companyCur) &&
		money.IsZero(l.AmountResidualCurrency, cur)
}

// refreshPaymentStateLocked rederives the payment state of a move from the
// residuals of its reconcilable lines.
func (b *MemoryBook) refreshPaymentStateLocked(moveID int64) {
	move, ok := b.moves[moveID]
	if !ok {
		return
	}
	var open, reconciled, touched int
	for _, l := range move.Lines {
		acc := b.accounts[l.AccountID]
		if acc == nil || !acc.Reconcile {
			continue
		}
		open++
		if l.Reconciled {
			reconciled++
		}
		if !l.AmountResidual.Equal(l.Balance) || !l.AmountResidualCurrency.Equal(l.AmountCurrency) {
			touched++
		}
	}
	switch {
	case open == 0:
		move.PaymentState = models.PaymentStateNotPaid
	case reconciled == open:
		move.PaymentState = models.PaymentStatePaid
	case touched > 0:
		move.PaymentState = models.PaymentStatePartial
	default:
		move.PaymentState = models.PaymentStateNotPaid
	}
}

func (b *MemoryBook) Unreconcile(_ context.Context, partialIDs []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range partialIDs {
		if err := b.unreconcileLocked(id); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBook) unreconcileLocked(partialID int64) error {
	p, ok := b.partials[partialID]
	if !ok {
		return nil // already reversed
	}
	companyCur := b.currencies.Get(b.company.Currency)

	// Reverse any exchange move generated with this partial first, so the
	// residual restored below is the pre-reconciliation one.
	if p.ExchangeMoveID.Valid {
		for id, q := range b.partials {
			if id == partialID || !q.ExchangeMoveID.Valid || q.ExchangeMoveID.Int64 != p.ExchangeMoveID.Int64 {
				continue
			}
			for _, lineID := range []int64{q.DebitLineID, q.CreditLineID} {
				l := b.lines[lineID]
				if l == nil {
					continue
				}
				if lineID == q.DebitLineID {
					l.AmountResidual = money.Round(l.AmountResidual.Add(q.AmountCompany), companyCur)
				} else {
					l.AmountResidual = money.Round(l.AmountResidual.Sub(q.AmountCompany), companyCur)
				}
				b.refreshReconciledLocked(l)
			}
			delete(b.partials, id)
		}
		if move, ok := b.moves[p.ExchangeMoveID.Int64]; ok {
			for _, l := range move.Lines {
				delete(b.lines, l.ID)
				delete(b.exchangeByLine, l.ID)
			}
			delete(b.moves, move.ID)
		}
		for _, lineID := range []int64{p.DebitLineID, p.CreditLineID} {
			if _, ok := b.lines[lineID]; ok {
				delete(b.exchangeByLine, lineID)
			}
		}
	}

	debit := b.lines[p.DebitLineID]
	credit := b.lines[p.CreditLineID]
	if debit != nil {
		debit.AmountResidual = money.Round(debit.AmountResidual.Add(p.AmountCompany), companyCur)
		if p.Currency != b.company.Currency && debit.Currency == p.Currency {
			cur := b.currencies.Get(p.Currency)
			debit.AmountResidualCurrency = money.Round(debit.AmountResidualCurrency.Add(p.Amount), cur)
		} else {
			debit.AmountResidualCurrency = debit.AmountResidual
		}
		b.refreshReconciledLocked(debit)
		b.refreshPaymentStateLocked(debit.MoveID)
	}
	if credit != nil {
		credit.AmountResidual = money.Round(credit.AmountResidual.Sub(p.AmountCompany), companyCur)
		if p.Currency != b.company.Currency && credit.Currency == p.Currency {
			cur := b.currencies.Get(p.Currency)
			credit.AmountResidualCurrency = money.Round(credit.AmountResidualCurrency.Sub(p.Amount), cur)
		} else {
			credit.AmountResidualCurrency = credit.AmountResidual
		}
		b.refreshReconciledLocked(credit)
		b.refreshPaymentStateLocked(credit.MoveID)
	}
	delete(b.partials, partialID)
	return nil
}

func (b *MemoryBook) PartialsForLine(_ context.Context, lineID int64) ([]*models.PartialReconciliation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.PartialReconciliation
	for _, p := range b.partials {
		if p.DebitLineID == lineID || p.CreditLineID == lineID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBook) PaymentState(_ context.Context, moveID int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	move, ok := b.moves[moveID]
	if !ok {
		return "", fmt.Errorf("%w: unknown move %d", models.ErrData, moveID)
	}
	return move.PaymentState, nil
}
