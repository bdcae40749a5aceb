package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/repositories"
)

// IngestionHandler accepts a statement with its lines as one JSON batch.
// Transport of bank files stays outside the service; whatever parses them
// posts the result here.
type IngestionHandler struct {
	statements repositories.StatementRepository
	companyID  int64
	log        *zap.SugaredLogger
}

func NewIngestionHandler(statements repositories.StatementRepository, companyID int64, log *zap.SugaredLogger) *IngestionHandler {
	return &IngestionHandler{statements: statements, companyID: companyID, log: log}
}

type importLine struct {
	Date            string              `json:"date"`
	PayerName       string              `json:"payer_name"`
	AccountNumber   string              `json:"account_number"`
	Amount          decimal.Decimal     `json:"amount"`
	ForeignAmount   decimal.NullDecimal `json:"foreign_amount"`
	ForeignCurrency string              `json:"foreign_currency"`
	PartnerID       int64               `json:"partner_id"`
	PaymentRef      string              `json:"payment_ref"`
}

type importRequest struct {
	JournalID    int64           `json:"journal_id"`
	Name         string          `json:"name"`
	Date         string          `json:"date"`
	BalanceStart decimal.Decimal `json:"balance_start"`
	BalanceEnd   decimal.Decimal `json:"balance_end"`
	Lines        []importLine    `json:"lines"`
}

func (h *IngestionHandler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	var request importRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if request.JournalID == 0 || len(request.Lines) == 0 {
		respondWithError(w, http.StatusBadRequest, "journal_id and at least one line are required")
		return
	}
	stDate, err := time.Parse("2006-01-02", request.Date)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
		return
	}

	st := &models.Statement{
		Name:         request.Name,
		JournalID:    request.JournalID,
		CompanyID:    h.companyID,
		Date:         stDate,
		BalanceStart: request.BalanceStart,
		BalanceEnd:   request.BalanceEnd,
		State:        models.StatementOpen,
	}
	if err := h.statements.CreateStatement(r.Context(), st); err != nil {
		respondWithServiceError(w, err)
		return
	}

	lines := make([]*models.StatementLine, 0, len(request.Lines))
	for _, in := range request.Lines {
		lineDate, err := time.Parse("2006-01-02", in.Date)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid line date format. Use YYYY-MM-DD")
			return
		}
		l := &models.StatementLine{
			StatementID:   st.ID,
			JournalID:     request.JournalID,
			CompanyID:     h.companyID,
			Date:          lineDate,
			PayerName:     in.PayerName,
			AccountNumber: in.AccountNumber,
			Amount:        in.Amount,
			ForeignAmount: in.ForeignAmount,
			PaymentRef:    in.PaymentRef,
		}
		if in.ForeignCurrency != "" {
			l.ForeignCurrency = sql.NullString{String: in.ForeignCurrency, Valid: true}
		}
		if in.PartnerID != 0 {
			l.PartnerID = sql.NullInt64{Int64: in.PartnerID, Valid: true}
		}
		lines = append(lines, l)
	}
	if err := h.statements.CreateLines(r.Context(), lines); err != nil {
		respondWithServiceError(w, err)
		return
	}

	h.log.Infow("statement imported", "statement", st.ID, "lines", len(lines))
	respondWithJSON(w, http.StatusCreated, SuccessResponse{
		Message: "statement imported",
		Data:    map[string]interface{}{"statement_id": st.ID, "lines": len(lines)},
	})
}
