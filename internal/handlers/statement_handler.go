package handlers

import (
	"net/http"

	"reconciliation-engine/internal/services"
)

// StatementHandler exposes the statement-level operations: the per-line
// reconciliation overview, the close check, and a manual cron tick.
type StatementHandler struct {
	widgets       *services.WidgetService
	validation    *services.ValidationService
	autoReconcile *services.AutoReconcileService
}

func NewStatementHandler(
	widgets *services.WidgetService,
	validation *services.ValidationService,
	autoReconcile *services.AutoReconcileService,
) *StatementHandler {
	return &StatementHandler{
		widgets:       widgets,
		validation:    validation,
		autoReconcile: autoReconcile,
	}
}

func (h *StatementHandler) Overview(w http.ResponseWriter, r *http.Request) {
	statementID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement id")
		return
	}
	snapshots, err := h.widgets.Overview(r.Context(), statementID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshots)
}

func (h *StatementHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	statementID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement id")
		return
	}
	if err := h.validation.ConfirmStatement(r.Context(), statementID); err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "statement confirmed"})
}

func (h *StatementHandler) Tick(w http.ResponseWriter, r *http.Request) {
	stats, err := h.autoReconcile.Tick(r.Context())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
