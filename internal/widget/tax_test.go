package widget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
)

func taxFixture(t *testing.T) (*fixture, *models.Tax, *models.Account, *models.Account) {
	t.Helper()
	f := newFixture(t)
	taxAccount := f.book.AddAccount(&models.Account{Code: "477", Name: "VAT collected", Type: models.AccountTypeTax, CompanyID: 1})
	refundAccount := f.book.AddAccount(&models.Account{Code: "472", Name: "VAT refunds", Type: models.AccountTypeTax, CompanyID: 1})
	vat := f.book.AddTax(&models.Tax{
		Name: "VAT 21%", Rate: dec("21"), CompanyID: 1,
		AccountID: taxAccount.ID, RefundAccountID: refundAccount.ID,
		InvoiceBaseTag: "+base", InvoiceTaxTag: "+21",
		RefundBaseTag: "-base", RefundTaxTag: "-21",
	})
	return f, vat, taxAccount, refundAccount
}

func TestSetTaxesSplitsPriceIncluded(t *testing.T) {
	f, vat, taxAccount, _ := taxFixture(t)
	ctx := context.Background()
	w, err := New(ctx, f.env, f.statementLine("1000"))
	require.NoError(t, err)

	// Assigning a tax to the auto-balance row claims it as a write-off and
	// peels the tax out of the -1000 it carried.
	auto := lineByFlag(t, w, FlagAutoBalance)
	require.NoError(t, w.SetTaxes(ctx, auto.Index, []int64{vat.ID}))

	base := lineByFlag(t, w, FlagManual)
	assert.True(t, base.Balance.Equal(dec("-826.45")), base.Balance.String())
	assert.Equal(t, []string{"+base"}, base.TaxTags)

	child := lineByFlag(t, w, FlagTaxLine)
	assert.Equal(t, base.Index, child.ParentIndex)
	assert.Equal(t, taxAccount.ID, child.AccountID)
	assert.Equal(t, vat.ID, child.TaxID)
	assert.True(t, child.Balance.Equal(dec("-173.55")), child.Balance.String())
	assert.Equal(t, []string{"+21"}, child.TaxTags)
	assert.Equal(t, "VAT 21%", child.Label)

	assert.Equal(t, 0, countFlag(w, FlagAutoBalance))
	assert.Equal(t, StateValid, w.State())
}

func TestBalanceEditOnTaxedLineBecomesTheBase(t *testing.T) {
	f, vat, _, refundAccount := taxFixture(t)
	ctx := context.Background()
	w, err := New(ctx, f.env, f.statementLine("1000"))
	require.NoError(t, err)

	auto := lineByFlag(t, w, FlagAutoBalance)
	require.NoError(t, w.SetTaxes(ctx, auto.Index, []int64{vat.ID}))
	base := lineByFlag(t, w, FlagManual)

	// An explicit amount fixes the base; the tax is recomputed on top of it
	// and the positive sign routes the child to the refund repartition.
	require.NoError(t, w.SetBalance(ctx, base.Index, dec("500")))
	assert.True(t, base.Balance.Equal(dec("500")))
	assert.Equal(t, []string{"-base"}, base.TaxTags)

	child := lineByFlag(t, w, FlagTaxLine)
	assert.Equal(t, refundAccount.ID, child.AccountID)
	assert.True(t, child.Balance.Equal(dec("105")), child.Balance.String())
	assert.Equal(t, []string{"-21"}, child.TaxTags)
	assert.Equal(t, 1, countFlag(w, FlagTaxLine))

	// 1000 + 500 + 105 leaves -1605 for the placeholder.
	autoAfter := lineByFlag(t, w, FlagAutoBalance)
	assert.True(t, autoAfter.Balance.Equal(dec("-1605")), autoAfter.Balance.String())
}

func TestClearingTaxesDropsChildren(t *testing.T) {
	f, vat, _, _ := taxFixture(t)
	ctx := context.Background()
	w, err := New(ctx, f.env, f.statementLine("1000"))
	require.NoError(t, err)

	auto := lineByFlag(t, w, FlagAutoBalance)
	require.NoError(t, w.SetTaxes(ctx, auto.Index, []int64{vat.ID}))
	base := lineByFlag(t, w, FlagManual)
	require.NoError(t, w.SetBalance(ctx, base.Index, dec("500")))

	require.NoError(t, w.SetTaxes(ctx, base.Index, nil))
	assert.Equal(t, 0, countFlag(w, FlagTaxLine))
	assert.Empty(t, base.TaxTags)
	assert.True(t, base.Balance.Equal(dec("500")))
	autoAfter := lineByFlag(t, w, FlagAutoBalance)
	assert.True(t, autoAfter.Balance.Equal(dec("-1500")), autoAfter.Balance.String())
}

func TestSetTaxesIsIdempotent(t *testing.T) {
	f, vat, _, _ := taxFixture(t)
	ctx := context.Background()
	w, err := New(ctx, f.env, f.statementLine("1000"))
	require.NoError(t, err)

	auto := lineByFlag(t, w, FlagAutoBalance)
	require.NoError(t, w.SetTaxes(ctx, auto.Index, []int64{vat.ID}))
	base := lineByFlag(t, w, FlagManual)
	child := lineByFlag(t, w, FlagTaxLine)
	childIndex := child.Index

	// Re-assigning the same set reconciles against the existing child by
	// (tax, account) identity; the index is stable and amounts unchanged.
	require.NoError(t, w.SetTaxes(ctx, base.Index, []int64{vat.ID}))
	assert.Equal(t, 1, countFlag(w, FlagTaxLine))
	child = lineByFlag(t, w, FlagTaxLine)
	assert.Equal(t, childIndex, child.Index)
	assert.True(t, child.Balance.Equal(dec("-173.55")))
	assert.True(t, base.Balance.Equal(dec("-826.45")))
}

func TestSetTaxesRejectedOnInvoiceRows(t *testing.T) {
	f, vat, _, _ := taxFixture(t)
	ctx := context.Background()
	w, err := New(ctx, f.env, f.statementLine("1000"))
	require.NoError(t, err)
	liq := lineByFlag(t, w, FlagLiquidity)
	assert.ErrorIs(t, w.SetTaxes(ctx, liq.Index, []int64{vat.ID}), models.ErrPrecondition)
}
