package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testEUR = &models.Currency{Code: "EUR", DecimalPlaces: 2, Active: true}

func TestComputeTaxesPriceIncluded(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	vat := &models.Tax{
		ID: 1, Name: "VAT 21%", Rate: dec("21"),
		AccountID: 40, InvoiceBaseTag: "+base", InvoiceTaxTag: "+21",
	}

	res, err := c.ComputeTaxes(dec("-1000"), []*models.Tax{vat}, models.TaxModePriceIncluded, false)
	require.NoError(t, err)

	assert.True(t, res.Base.Equal(dec("-826.45")), res.Base.String())
	require.Len(t, res.Components, 1)
	assert.True(t, res.Components[0].Amount.Equal(dec("-173.55")), res.Components[0].Amount.String())
	assert.Equal(t, int64(40), res.Components[0].AccountID)
	assert.Equal(t, []string{"+21"}, res.Components[0].Tags)
	assert.Equal(t, []string{"+base"}, res.BaseTags)

	// The peel is exact: base plus tax reassembles the gross amount.
	assert.True(t, res.Base.Add(res.Components[0].Amount).Equal(dec("-1000")))
}

func TestComputeTaxesPriceIncludedBaseAbsorbsRemainder(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	vat := &models.Tax{ID: 1, Name: "VAT 21%", Rate: dec("21"), AccountID: 40}

	// 100.03 * 21 / 121 = 17.3612... -> 17.36; base takes 82.67.
	res, err := c.ComputeTaxes(dec("100.03"), []*models.Tax{vat}, models.TaxModePriceIncluded, false)
	require.NoError(t, err)
	assert.True(t, res.Components[0].Amount.Equal(dec("17.36")))
	assert.True(t, res.Base.Equal(dec("82.67")))
}

func TestComputeTaxesPriceExcluded(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	vat := &models.Tax{ID: 1, Name: "VAT 21%", Rate: dec("21"), AccountID: 40}

	res, err := c.ComputeTaxes(dec("500"), []*models.Tax{vat}, models.TaxModePriceExcluded, false)
	require.NoError(t, err)
	assert.True(t, res.Base.Equal(dec("500")))
	require.Len(t, res.Components, 1)
	assert.True(t, res.Components[0].Amount.Equal(dec("105")))
}

func TestComputeTaxesRefundRepartition(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	vat := &models.Tax{
		ID: 1, Name: "VAT 21%", Rate: dec("21"),
		AccountID: 40, RefundAccountID: 41,
		InvoiceBaseTag: "+base", InvoiceTaxTag: "+21",
		RefundBaseTag: "-base", RefundTaxTag: "-21",
	}

	res, err := c.ComputeTaxes(dec("500"), []*models.Tax{vat}, models.TaxModePriceExcluded, true)
	require.NoError(t, err)
	assert.Equal(t, int64(41), res.Components[0].AccountID)
	assert.Equal(t, []string{"-21"}, res.Components[0].Tags)
	assert.Equal(t, []string{"-base"}, res.BaseTags)
}

func TestComputeTaxesRefundFallsBackToInvoiceSide(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	vat := &models.Tax{
		ID: 1, Name: "VAT 10%", Rate: dec("10"),
		AccountID: 40, InvoiceBaseTag: "+base", InvoiceTaxTag: "+10",
	}

	res, err := c.ComputeTaxes(dec("100"), []*models.Tax{vat}, models.TaxModePriceExcluded, true)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Components[0].AccountID)
	assert.Equal(t, []string{"+10"}, res.Components[0].Tags)
	assert.Equal(t, []string{"+base"}, res.BaseTags)
}

func TestComputeTaxesPartialDeductibility(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	vat := &models.Tax{
		ID: 1, Name: "VAT 20% half deductible", Rate: dec("20"),
		DeductiblePercent: dec("50"), AccountID: 40,
	}

	res, err := c.ComputeTaxes(dec("100"), []*models.Tax{vat}, models.TaxModePriceExcluded, false)
	require.NoError(t, err)
	require.Len(t, res.Components, 2)
	assert.True(t, res.Components[0].Amount.Equal(dec("10")))
	assert.Equal(t, int64(40), res.Components[0].AccountID)
	// Non-deductible half carries no account and folds into the base line.
	assert.True(t, res.Components[1].Amount.Equal(dec("10")))
	assert.Equal(t, int64(0), res.Components[1].AccountID)
}

func TestComputeTaxesMultipleTaxes(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	taxes := []*models.Tax{
		{ID: 1, Name: "VAT 10%", Rate: dec("10"), AccountID: 40},
		{ID: 2, Name: "VAT 5%", Rate: dec("5"), AccountID: 41},
	}

	// 115 gross over a combined 15% peel.
	res, err := c.ComputeTaxes(dec("115"), taxes, models.TaxModePriceIncluded, false)
	require.NoError(t, err)
	assert.True(t, res.Components[0].Amount.Equal(dec("10")))
	assert.True(t, res.Components[1].Amount.Equal(dec("5")))
	assert.True(t, res.Base.Equal(dec("100")))
}

func TestComputeTaxesRejectsBadInput(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)

	_, err := c.ComputeTaxes(dec("100"), []*models.Tax{{Name: "bad", Rate: dec("-1")}}, models.TaxModePriceExcluded, false)
	assert.ErrorIs(t, err, models.ErrConfig)

	_, err = c.ComputeTaxes(dec("100"), []*models.Tax{{Name: "vat", Rate: dec("10")}}, "sideways", false)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestComputeTaxesNoTaxes(t *testing.T) {
	c := NewStandardTaxComputer(testEUR)
	res, err := c.ComputeTaxes(dec("123.456"), nil, models.TaxModePriceIncluded, false)
	require.NoError(t, err)
	assert.True(t, res.Base.Equal(dec("123.46")))
	assert.Empty(t, res.Components)
}
