package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
	"reconciliation-engine/internal/repositories"
	"reconciliation-engine/internal/widget"
)

// ValidationService turns a valid widget into a posted move and settles the
// matched invoices, and can reverse the whole operation.
type ValidationService struct {
	book       ledger.Book
	statements repositories.StatementRepository
	company    *models.Company
	currencies money.Currencies
	log        *zap.SugaredLogger
}

func NewValidationService(
	book ledger.Book,
	statements repositories.StatementRepository,
	company *models.Company,
	currencies money.Currencies,
	log *zap.SugaredLogger,
) *ValidationService {
	return &ValidationService{
		book:       book,
		statements: statements,
		company:    company,
		currencies: currencies,
		log:        log,
	}
}

// ValidationResult reports what a validate call posted.
type ValidationResult struct {
	MoveID        int64            `json:"move_id"`
	PostedMoves   []*models.Move   `json:"posted_moves"`
	PaymentStates map[int64]string `json:"payment_states,omitempty"` // invoice move id -> state
}

// Validate posts the widget. Exchange-diff rows fold into their parent's
// posted balance; the separate exchange moves are minted by the ledger during
// partial reconciliation. Calling it on a reconciled widget is a no-op.
func (s *ValidationService) Validate(ctx context.Context, w *widget.Widget) (res *ValidationResult, err error) {
	stmt := w.Statement()
	if w.State() == widget.StateReconciled {
		return &ValidationResult{MoveID: stmt.MoveID.Int64}, nil
	}
	if w.State() != widget.StateValid {
		return nil, fmt.Errorf("%w: widget state is %s", models.ErrPrecondition, w.State())
	}

	token, err := s.statements.ClaimForValidation(ctx, stmt.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if relErr := s.statements.ReleaseClaim(ctx, stmt.ID, token); relErr != nil {
				s.log.Errorw("releasing validation claim", "statement_line", stmt.ID, "error", relErr)
			}
		}
	}()

	// A draft move left behind by a reset is replaced wholesale.
	if stmt.MoveID.Valid {
		if err = s.book.CancelMove(ctx, stmt.MoveID.Int64, true); err != nil {
			return nil, err
		}
	}

	move := &models.Move{
		JournalID:       stmt.JournalID,
		CompanyID:       stmt.CompanyID,
		Date:            stmt.Date,
		Ref:             stmt.PaymentRef,
		StatementLineID: sql.NullInt64{Int64: stmt.ID, Valid: true},
		PartnerID:       s.movePartner(w),
	}
	type posting struct {
		widgetLine *widget.Line
		moveLine   *models.MoveLine
	}
	var postings []posting
	for _, l := range w.Lines() {
		if l.Flag == widget.FlagExchangeDiff {
			continue
		}
		ml := &models.MoveLine{
			AccountID:      l.AccountID,
			Currency:       l.Currency,
			AmountCurrency: l.AmountCurrency,
			Balance:        s.foldedBalance(w, l),
			TaxTags:        l.TaxTags,
			Label:          l.Label,
			Date:           l.Date,
		}
		if l.PartnerID != 0 {
			ml.PartnerID = sql.NullInt64{Int64: l.PartnerID, Valid: true}
		}
		move.Lines = append(move.Lines, ml)
		postings = append(postings, posting{widgetLine: l, moveLine: ml})
	}
	if err = s.book.CreateMove(ctx, move); err != nil {
		return nil, err
	}
	if err = s.book.PostMove(ctx, move.ID); err != nil {
		s.rollbackValidation(ctx, move.ID, nil)
		return nil, err
	}

	res = &ValidationResult{
		MoveID:        move.ID,
		PostedMoves:   []*models.Move{move},
		PaymentStates: map[int64]string{},
	}
	var minted []int64
	for _, p := range postings {
		if p.widgetLine.Flag != widget.FlagNewAml {
			continue
		}
		open := p.widgetLine.Open()
		if open == nil {
			continue
		}
		amount := p.widgetLine.AmountCurrency.Abs()
		currency := p.widgetLine.Currency
		if currency == "" {
			currency = s.company.Currency
		}
		debitID, creditID := open.ID, p.moveLine.ID
		if open.AmountResidual.Sign() < 0 {
			debitID, creditID = p.moveLine.ID, open.ID
		}
		partial, exMove, recErr := s.book.PartialReconcile(ctx, debitID, creditID, amount, currency)
		if recErr != nil {
			s.rollbackValidation(ctx, move.ID, minted)
			err = recErr
			return nil, err
		}
		minted = append(minted, partial.ID)
		if exMove != nil {
			res.PostedMoves = append(res.PostedMoves, exMove)
		}
		state, stErr := s.book.PaymentState(ctx, open.MoveID)
		if stErr != nil {
			s.rollbackValidation(ctx, move.ID, minted)
			err = stErr
			return nil, err
		}
		res.PaymentStates[open.MoveID] = state
	}

	if err = s.statements.SetReconciled(ctx, stmt.ID, move.ID, token); err != nil {
		s.rollbackValidation(ctx, move.ID, minted)
		return nil, err
	}
	w.MarkReconciled(move.ID)
	s.log.Infow("statement line reconciled", "statement_line", stmt.ID, "move", move.ID)
	return res, nil
}

// rollbackValidation unwinds a half-committed validate: partials minted so
// far are reversed and the statement move is cancelled outright, so a failed
// or retried validate never leaves an orphaned posted move in the ledger.
func (s *ValidationService) rollbackValidation(ctx context.Context, moveID int64, partialIDs []int64) {
	if len(partialIDs) > 0 {
		if err := s.book.Unreconcile(ctx, partialIDs); err != nil {
			s.log.Errorw("unwinding partial reconciliations", "move", moveID, "error", err)
		}
	}
	if err := s.book.CancelMove(ctx, moveID, true); err != nil {
		s.log.Errorw("cancelling half-validated move", "move", moveID, "error", err)
	}
}

// foldedBalance adds the exchange-diff children into the posted balance, so
// the statement move carries the statement-date valuation.
func (s *ValidationService) foldedBalance(w *widget.Widget, l *widget.Line) decimal.Decimal {
	balance := l.Balance
	for _, c := range w.Lines() {
		if c.Flag == widget.FlagExchangeDiff && c.ParentIndex == l.Index {
			balance = balance.Add(c.Balance)
		}
	}
	return money.Round(balance, s.currencies.Get(s.company.Currency))
}

// movePartner applies partner propagation: a single partner shared by every
// counterpart flows to the move when the statement has none; conflicting
// partners leave the move partnerless while each line keeps its own.
func (s *ValidationService) movePartner(w *widget.Widget) sql.NullInt64 {
	stmt := w.Statement()
	if stmt.PartnerID.Valid && stmt.PartnerID.Int64 != 0 {
		return stmt.PartnerID
	}
	var found int64
	for _, l := range w.Lines() {
		if !l.IsCounterpart() || l.PartnerID == 0 {
			continue
		}
		if found == 0 {
			found = l.PartnerID
			continue
		}
		if found != l.PartnerID {
			return sql.NullInt64{}
		}
	}
	if found == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: found, Valid: true}
}

// Reset re-opens a committed statement line: partials are reversed, exchange
// moves deleted, the move returns to draft, and the widget reseeds.
func (s *ValidationService) Reset(ctx context.Context, w *widget.Widget) error {
	stmt := w.Statement()
	if !stmt.IsReconciled || !stmt.MoveID.Valid {
		return w.Reset(ctx)
	}
	move, err := s.book.Move(ctx, stmt.MoveID.Int64)
	if err != nil {
		return err
	}
	var partialIDs []int64
	for _, l := range move.Lines {
		partials, err := s.book.PartialsForLine(ctx, l.ID)
		if err != nil {
			return err
		}
		for _, p := range partials {
			partialIDs = append(partialIDs, p.ID)
		}
	}
	if err := s.book.Unreconcile(ctx, partialIDs); err != nil {
		return err
	}
	if err := s.book.SetMoveToDraft(ctx, move.ID); err != nil {
		return err
	}
	if err := s.statements.SetUnreconciled(ctx, stmt.ID); err != nil {
		return err
	}
	s.log.Infow("statement line reset", "statement_line", stmt.ID, "move", move.ID)
	return w.Reset(ctx)
}

// FastCounterpart writes the whole open amount off to one account and
// validates in a single call.
func (s *ValidationService) FastCounterpart(ctx context.Context, w *widget.Widget, accountID int64, label string) (*ValidationResult, error) {
	var auto *widget.Line
	for _, l := range w.Lines() {
		if l.Flag == widget.FlagAutoBalance {
			auto = l
			break
		}
	}
	if auto == nil {
		return nil, fmt.Errorf("%w: widget carries no open amount", models.ErrPrecondition)
	}
	if err := w.SetAccount(ctx, auto.Index, accountID); err != nil {
		return nil, err
	}
	if label != "" {
		if err := w.SetLabel(auto.Index, label); err != nil {
			return nil, err
		}
	}
	return s.Validate(ctx, w)
}

// ConfirmStatement closes a statement once every line is reconciled and the
// declared end balance matches the computed one.
func (s *ValidationService) ConfirmStatement(ctx context.Context, statementID int64) error {
	st, err := s.statements.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	if st.State == models.StatementConfirmed {
		return nil
	}
	lines, err := s.statements.LinesForStatement(ctx, statementID)
	if err != nil {
		return err
	}
	computed := st.BalanceStart
	for _, l := range lines {
		if !l.IsReconciled {
			return fmt.Errorf("%w: statement line %d is not reconciled", models.ErrPrecondition, l.ID)
		}
		computed = computed.Add(l.Amount)
	}
	companyCur := s.currencies.Get(s.company.Currency)
	if money.Cmp(computed, st.BalanceEnd, companyCur) != 0 {
		return fmt.Errorf("%w: computed end balance %s differs from declared %s",
			models.ErrPrecondition, money.Format(computed, companyCur), money.Format(st.BalanceEnd, companyCur))
	}
	return s.statements.ConfirmStatement(ctx, statementID)
}
