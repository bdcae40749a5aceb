// Package ledger defines the general-ledger primitives the reconciliation
// engine consumes: posting moves, partial reconciliation, tax computation and
// master-data lookups. The engine never redesigns these; it talks to them
// through the interfaces below. An in-memory implementation lives in this
// package, the MySQL-backed one in internal/repositories.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
)

// OpenLineQuery filters the unreconciled receivable/payable lines offered to
// the widget.
type OpenLineQuery struct {
	CompanyID  int64
	PartnerIDs []int64
	Currency   string
	DateFrom   time.Time
	DateTo     time.Time
	ExcludeIDs []int64
}

// Book is the posted-move storage primitive.
type Book interface {
	// CreateMove stores a draft move with its lines, assigning IDs.
	CreateMove(ctx context.Context, move *models.Move) error
	// PostMove transitions a draft move to posted. The move must balance to
	// zero in company currency.
	PostMove(ctx context.Context, moveID int64) error
	// SetMoveToDraft reopens a posted move.
	SetMoveToDraft(ctx context.Context, moveID int64) error
	// CancelMove cancels a move; hard deletes it outright.
	CancelMove(ctx context.Context, moveID int64, hard bool) error
	Move(ctx context.Context, id int64) (*models.Move, error)
	Line(ctx context.Context, id int64) (*models.MoveLine, error)
	UpdateLinePartner(ctx context.Context, lineID int64, partnerID int64) error
	UpdateMovePartner(ctx context.Context, moveID int64, partnerID int64, clear bool) error

	// OpenLines returns unreconciled receivable/payable lines with their
	// residuals and booked exchange balances.
	OpenLines(ctx context.Context, q OpenLineQuery) ([]*models.OpenLine, error)
	OpenLine(ctx context.Context, id int64) (*models.OpenLine, error)

	// PartialReconcile records a directed partial between a debit and a
	// credit line for an amount expressed in currency. When one side's
	// currency residual reaches zero while its company residual does not,
	// the book mints an exchange-difference move and returns it.
	PartialReconcile(ctx context.Context, debitLineID, creditLineID int64, amount decimal.Decimal, currency string) (*models.PartialReconciliation, *models.Move, error)
	// Unreconcile reverses the given partials, restoring residuals and
	// deleting any exchange-difference moves they generated.
	Unreconcile(ctx context.Context, partialIDs []int64) error
	// PartialsForLine returns the partials a line participates in.
	PartialsForLine(ctx context.Context, lineID int64) ([]*models.PartialReconciliation, error)
	// PaymentState derives the payment state of an invoice move from its
	// open line residuals.
	PaymentState(ctx context.Context, moveID int64) (string, error)
}

// TaxComputer is the external tax primitive: given a base (or tax-included)
// amount and a tax set, it yields the base and the repartition components.
// refund selects the refund repartition variant.
type TaxComputer interface {
	ComputeTaxes(base decimal.Decimal, taxes []*models.Tax, mode models.TaxMode, refund bool) (*models.TaxResult, error)
}

// Directory is the master-data lookup surface: accounts, partners, journals,
// taxes, bank accounts and the company record.
type Directory interface {
	Company(ctx context.Context, id int64) (*models.Company, error)
	Account(ctx context.Context, id int64) (*models.Account, error)
	Journal(ctx context.Context, id int64) (*models.Journal, error)
	Partner(ctx context.Context, id int64) (*models.Partner, error)
	// ActivePartners lists active partners of a company, for name matching.
	ActivePartners(ctx context.Context, companyID int64) ([]*models.Partner, error)
	// BankAccountsByNumber matches by digits, archived accounts and other
	// companies included.
	BankAccountsByNumber(ctx context.Context, number string) ([]*models.PartnerBankAccount, error)
	Taxes(ctx context.Context, ids []int64) ([]*models.Tax, error)
}
