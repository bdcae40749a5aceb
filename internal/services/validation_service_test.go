package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/widget"
)

func (f *svcFixture) openWidget(t *testing.T, l *models.StatementLine) *widget.Widget {
	t.Helper()
	w, err := widget.New(context.Background(), f.env, l)
	require.NoError(t, err)
	return w
}

func TestValidatePostsMoveAndSettlesInvoice(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	openID := f.postInvoice(t, "INV/001", "", "1000", "1000", date.AddDate(0, -1, 0))
	invLine, err := f.book.Line(ctx, openID)
	require.NoError(t, err)

	stmt := f.addLine(t, &models.StatementLine{
		Date: date, Amount: dec("1000"), PaymentRef: "INV/001",
		PartnerID: nullInt64(f.partner.ID),
	})
	w := f.openWidget(t, stmt)
	require.NoError(t, w.AddNewAmls(ctx, []int64{openID}))
	require.Equal(t, widget.StateValid, w.State())

	res, err := f.validator.Validate(ctx, w)
	require.NoError(t, err)
	require.NotZero(t, res.MoveID)
	assert.Equal(t, models.PaymentStatePaid, res.PaymentStates[invLine.MoveID])

	assert.True(t, stmt.IsReconciled)
	require.True(t, stmt.MoveID.Valid)
	assert.Equal(t, res.MoveID, stmt.MoveID.Int64)
	assert.Equal(t, widget.StateReconciled, w.State())

	move, err := f.book.Move(ctx, res.MoveID)
	require.NoError(t, err)
	assert.Equal(t, models.MovePosted, move.State)
	require.Len(t, move.Lines, 2)
	sum := decimal.Zero
	for _, ml := range move.Lines {
		sum = sum.Add(ml.Balance)
	}
	assert.True(t, sum.IsZero(), "posted move must balance, got %s", sum)
	require.True(t, move.PartnerID.Valid)
	assert.Equal(t, f.partner.ID, move.PartnerID.Int64)

	open, err := f.book.OpenLine(ctx, openID)
	require.NoError(t, err)
	assert.True(t, open.AmountResidual.IsZero())

	t.Run("second validate is a no-op", func(t *testing.T) {
		again, err := f.validator.Validate(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, res.MoveID, again.MoveID)
		assert.Empty(t, again.PostedMoves)
	})
}

func TestValidateRejectsInvalidWidget(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	// A journal without a suspense account leaves the open amount unbooked.
	bare := f.book.AddJournal(&models.Journal{
		Code: "BNK2", Name: "Bare bank", Type: "bank", CompanyID: 1,
		BankAccountID: f.bank.ID,
	})
	stmt := f.addLine(t, &models.StatementLine{
		Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Amount: dec("75"),
	})
	stmt.JournalID = bare.ID
	w := f.openWidget(t, stmt)
	require.Equal(t, widget.StateInvalid, w.State())

	_, err := f.validator.Validate(ctx, w)
	require.ErrorIs(t, err, models.ErrPrecondition)
	assert.Empty(t, f.repo.claims, "no claim may be taken before the state check")
}

func TestValidateConflictsWithHeldClaim(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	stmt := f.addLine(t, &models.StatementLine{
		Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Amount: dec("75"),
	})
	w := f.openWidget(t, stmt)
	require.Equal(t, widget.StateValid, w.State())

	_, err := f.repo.ClaimForValidation(ctx, stmt.ID)
	require.NoError(t, err)

	_, err = f.validator.Validate(ctx, w)
	require.ErrorIs(t, err, models.ErrConflict)
	assert.False(t, stmt.IsReconciled)
}

func TestValidateReleasesClaimOnLedgerError(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	openID := f.postInvoice(t, "INV/002", "", "400", "400", date.AddDate(0, -1, 0))
	stmt := f.addLine(t, &models.StatementLine{
		Date: date, Amount: dec("400"), PaymentRef: "INV/002",
	})
	w := f.openWidget(t, stmt)
	require.NoError(t, w.AddNewAmls(ctx, []int64{openID}))

	// Settle the invoice behind the widget's back so the reconcile step fails.
	otherID := f.postInvoice(t, "PAY/002", "", "-400", "-400", date)
	_, _, err := f.book.PartialReconcile(ctx, openID, otherID, dec("400"), "EUR")
	require.NoError(t, err)

	_, err = f.validator.Validate(ctx, w)
	require.Error(t, err)
	assert.Empty(t, f.repo.claims, "failed validation must release its claim")
	assert.False(t, stmt.IsReconciled)
	assert.False(t, stmt.MoveID.Valid)

	booked, err := f.book.MovesForStatementLine(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Empty(t, booked, "failed validation must not leave a statement move behind")

	t.Run("retry does not accumulate orphans", func(t *testing.T) {
		_, err := f.validator.Validate(ctx, w)
		require.Error(t, err)
		booked, err := f.book.MovesForStatementLine(ctx, stmt.ID)
		require.NoError(t, err)
		assert.Empty(t, booked)
	})

	t.Run("line stays recoverable", func(t *testing.T) {
		require.NoError(t, w.RemoveNewAmls(ctx, []int64{openID}))
		res, err := f.validator.FastCounterpart(ctx, w, f.writeoff.ID, "manual settlement")
		require.NoError(t, err)
		booked, err := f.book.MovesForStatementLine(ctx, stmt.ID)
		require.NoError(t, err)
		require.Len(t, booked, 1)
		assert.Equal(t, res.MoveID, booked[0].ID)
		assert.Equal(t, models.MovePosted, booked[0].State)
	})
}

func TestValidateFoldsExchangeDifference(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f.book.AddRate(&models.Rate{Currency: "USD", CompanyID: 1, Date: date.AddDate(0, -2, 0), Rate: dec("6")})
	f.book.AddRate(&models.Rate{Currency: "USD", CompanyID: 1, Date: date, Rate: dec("5")})

	// Invoice booked at 6 USD per EUR, collected when the bank saw 5.
	openID := f.postInvoice(t, "INV/US1", "USD", "6000", "1000", date.AddDate(0, -1, 0))
	invLine, err := f.book.Line(ctx, openID)
	require.NoError(t, err)

	stmt := f.addLine(t, &models.StatementLine{
		Date: date, Amount: dec("1200"), PaymentRef: "INV/US1",
		ForeignAmount:   decimal.NewNullDecimal(dec("6000")),
		ForeignCurrency: nullString("USD"),
	})
	w := f.openWidget(t, stmt)
	require.NoError(t, w.AddNewAmls(ctx, []int64{openID}))
	require.Equal(t, widget.StateValid, w.State())

	res, err := f.validator.Validate(ctx, w)
	require.NoError(t, err)

	move, err := f.book.Move(ctx, res.MoveID)
	require.NoError(t, err)
	// Exchange children fold into their parent: the counterpart carries the
	// statement-date valuation, not the invoice's historic one.
	require.Len(t, move.Lines, 2)
	var counterpart *models.MoveLine
	for _, ml := range move.Lines {
		if ml.AccountID == f.receivable.ID {
			counterpart = ml
		}
	}
	require.NotNil(t, counterpart)
	assert.True(t, counterpart.Balance.Equal(dec("-1200")), "got %s", counterpart.Balance)
	assert.True(t, counterpart.AmountCurrency.Equal(dec("-6000")))

	// The ledger minted a separate exchange move for the 200 EUR gap.
	require.Len(t, res.PostedMoves, 2)
	exMove := res.PostedMoves[1]
	require.Len(t, exMove.Lines, 2)
	var gain decimal.Decimal
	for _, ml := range exMove.Lines {
		if ml.AccountID == f.company.IncomeExchangeAccountID {
			gain = ml.Balance
		}
	}
	assert.True(t, gain.Equal(dec("-200")), "got %s", gain)
	assert.Equal(t, models.PaymentStatePaid, res.PaymentStates[invLine.MoveID])
}

func TestResetReopensLineAndRevalidates(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	openID := f.postInvoice(t, "INV/003", "", "1000", "1000", date.AddDate(0, -1, 0))
	invLine, err := f.book.Line(ctx, openID)
	require.NoError(t, err)

	stmt := f.addLine(t, &models.StatementLine{
		Date: date, Amount: dec("1000"), PaymentRef: "INV/003",
	})
	w := f.openWidget(t, stmt)
	require.NoError(t, w.AddNewAmls(ctx, []int64{openID}))
	res, err := f.validator.Validate(ctx, w)
	require.NoError(t, err)
	firstMove := res.MoveID

	require.NoError(t, f.validator.Reset(ctx, w))

	assert.False(t, stmt.IsReconciled)
	open, err := f.book.OpenLine(ctx, openID)
	require.NoError(t, err)
	assert.True(t, open.AmountResidual.Equal(dec("1000")), "residual restored, got %s", open.AmountResidual)
	state, err := f.book.PaymentState(ctx, invLine.MoveID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateNotPaid, state)

	require.Len(t, w.Lines(), 2)
	assert.Equal(t, widget.StateValid, w.State())

	move, err := f.book.Move(ctx, firstMove)
	require.NoError(t, err)
	assert.Equal(t, models.MoveDraft, move.State)

	t.Run("revalidate replaces the stale draft", func(t *testing.T) {
		require.NoError(t, w.AddNewAmls(ctx, []int64{openID}))
		res2, err := f.validator.Validate(ctx, w)
		require.NoError(t, err)
		assert.NotEqual(t, firstMove, res2.MoveID)
		assert.Equal(t, models.PaymentStatePaid, res2.PaymentStates[invLine.MoveID])
		_, err = f.book.Move(ctx, firstMove)
		assert.Error(t, err, "the stale draft is cancelled outright")
	})
}

func TestFastCounterpart(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	stmt := f.addLine(t, &models.StatementLine{
		Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Amount: dec("250"),
	})
	w := f.openWidget(t, stmt)

	res, err := f.validator.FastCounterpart(ctx, w, f.writeoff.ID, "bank fees")
	require.NoError(t, err)
	require.True(t, stmt.IsReconciled)

	move, err := f.book.Move(ctx, res.MoveID)
	require.NoError(t, err)
	require.Len(t, move.Lines, 2)
	var counterpart *models.MoveLine
	for _, ml := range move.Lines {
		if ml.AccountID == f.writeoff.ID {
			counterpart = ml
		}
	}
	require.NotNil(t, counterpart)
	assert.True(t, counterpart.Balance.Equal(dec("-250")))
	assert.Equal(t, "bank fees", counterpart.Label)
}

func TestFastCounterpartNeedsOpenAmount(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	openID := f.postInvoice(t, "INV/004", "", "300", "300", date.AddDate(0, -1, 0))
	stmt := f.addLine(t, &models.StatementLine{Date: date, Amount: dec("300")})
	w := f.openWidget(t, stmt)
	require.NoError(t, w.AddNewAmls(ctx, []int64{openID}))

	_, err := f.validator.FastCounterpart(ctx, w, f.writeoff.ID, "")
	require.ErrorIs(t, err, models.ErrPrecondition)
}

func TestConfirmStatement(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	st := &models.Statement{
		Name: "2026-03", JournalID: f.journal.ID, CompanyID: 1, Date: date,
		BalanceStart: dec("100"), BalanceEnd: dec("1100"), State: models.StatementOpen,
	}
	require.NoError(t, f.repo.CreateStatement(ctx, st))
	line := f.addLine(t, &models.StatementLine{
		StatementID: st.ID, Date: date, Amount: dec("1000"),
	})

	t.Run("unreconciled line blocks the close", func(t *testing.T) {
		err := f.validator.ConfirmStatement(ctx, st.ID)
		require.ErrorIs(t, err, models.ErrPrecondition)
	})

	line.IsReconciled = true

	t.Run("declared balance must match the computed one", func(t *testing.T) {
		st.BalanceEnd = dec("1200")
		err := f.validator.ConfirmStatement(ctx, st.ID)
		require.ErrorIs(t, err, models.ErrPrecondition)
		st.BalanceEnd = dec("1100")
	})

	require.NoError(t, f.validator.ConfirmStatement(ctx, st.ID))
	assert.Equal(t, models.StatementConfirmed, st.State)

	t.Run("confirming twice is a no-op", func(t *testing.T) {
		require.NoError(t, f.validator.ConfirmStatement(ctx, st.ID))
	})
}
