package matching

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

var inferCurrencies = money.Currencies{
	"EUR": {Code: "EUR", DecimalPlaces: 2, Active: true},
}

func TestInferPartnerExplicitHintWins(t *testing.T) {
	book := ledger.NewMemoryBook(&models.Company{ID: 1, Currency: "EUR"}, inferCurrencies)
	line := &models.StatementLine{
		CompanyID: 1,
		PartnerID: sql.NullInt64{Int64: 42, Valid: true},
		PayerName: "Somebody Else",
	}
	id, err := InferPartner(context.Background(), book, line)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestInferPartnerByBankAccount(t *testing.T) {
	book := ledger.NewMemoryBook(&models.Company{ID: 1, Currency: "EUR"}, inferCurrencies)
	deco := book.AddPartner(&models.Partner{Name: "Deco Addict", Active: true, CompanyID: 1})
	book.AddBankAccount(&models.PartnerBankAccount{PartnerID: deco.ID, Number: "BE48 1234 5678 9012", Active: false, CompanyID: 1})

	// Formatting differences are ignored; archived accounts still match.
	line := &models.StatementLine{CompanyID: 1, AccountNumber: "BE48-1234-5678-9012"}
	id, err := InferPartner(context.Background(), book, line)
	require.NoError(t, err)
	assert.Equal(t, deco.ID, id)
}

func TestInferPartnerAmbiguousBankAccountFallsThrough(t *testing.T) {
	book := ledger.NewMemoryBook(&models.Company{ID: 1, Currency: "EUR"}, inferCurrencies)
	a := book.AddPartner(&models.Partner{Name: "Deco Addict", Active: true, CompanyID: 1})
	b := book.AddPartner(&models.Partner{Name: "Gemini Furniture", Active: true, CompanyID: 1})
	book.AddBankAccount(&models.PartnerBankAccount{PartnerID: a.ID, Number: "12345", Active: true, CompanyID: 1})
	book.AddBankAccount(&models.PartnerBankAccount{PartnerID: b.ID, Number: "12345", Active: true, CompanyID: 2})

	// Two owners of the same number: the number is unusable, the payer name
	// decides instead.
	line := &models.StatementLine{CompanyID: 1, AccountNumber: "12345", PayerName: "Gemini Furniture"}
	id, err := InferPartner(context.Background(), book, line)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func TestInferPartnerExactNameBeatsPrefix(t *testing.T) {
	book := ledger.NewMemoryBook(&models.Company{ID: 1, Currency: "EUR"}, inferCurrencies)
	book.AddPartner(&models.Partner{Name: "Azure Interior Design", Active: true, CompanyID: 1})
	exact := book.AddPartner(&models.Partner{Name: "Azure Interior", Active: true, CompanyID: 1})
	book.AddPartner(&models.Partner{Name: "Azure", Active: true, CompanyID: 1})

	// "Azure" is shorter but "Azure Interior" matches exactly.
	id, err := InferPartner(context.Background(), book, &models.StatementLine{CompanyID: 1, PayerName: "AZURE INTERIOR"})
	require.NoError(t, err)
	assert.Equal(t, exact.ID, id)
}

func TestInferPartnerShorterPrefixWins(t *testing.T) {
	book := ledger.NewMemoryBook(&models.Company{ID: 1, Currency: "EUR"}, inferCurrencies)
	book.AddPartner(&models.Partner{Name: "Azure Interior Design", Active: true, CompanyID: 1})
	short := book.AddPartner(&models.Partner{Name: "Azure Interior", Active: true, CompanyID: 1})
	book.AddPartner(&models.Partner{Name: "Wood Corner", Active: true, CompanyID: 1})

	ctx := context.Background()

	// The payer name extends both candidates; the shorter one wins.
	id, err := InferPartner(ctx, book, &models.StatementLine{CompanyID: 1, PayerName: "Azure Interior Design Gmbh"})
	require.NoError(t, err)
	assert.Equal(t, short.ID, id)

	// A truncated payer name that prefixes a partner name also matches.
	id, err = InferPartner(ctx, book, &models.StatementLine{CompanyID: 1, PayerName: "Azure Inter"})
	require.NoError(t, err)
	assert.Equal(t, short.ID, id)
}

func TestInferPartnerNoSignal(t *testing.T) {
	book := ledger.NewMemoryBook(&models.Company{ID: 1, Currency: "EUR"}, inferCurrencies)
	book.AddPartner(&models.Partner{Name: "Deco Addict", Active: true, CompanyID: 1})

	id, err := InferPartner(context.Background(), book, &models.StatementLine{CompanyID: 1, PayerName: "Unrelated GmbH"})
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = InferPartner(context.Background(), book, &models.StatementLine{CompanyID: 1})
	require.NoError(t, err)
	assert.Zero(t, id)
}
