package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/services"
)

// WidgetHandler exposes the interactive widget surface; every operation
// responds with the new snapshot.
type WidgetHandler struct {
	widgets *services.WidgetService
}

func NewWidgetHandler(widgets *services.WidgetService) *WidgetHandler {
	return &WidgetHandler{widgets: widgets}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func (h *WidgetHandler) Open(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	snap, err := h.widgets.Open(r.Context(), lineID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) Close(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	h.widgets.Close(lineID)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "session closed"})
}

func (h *WidgetHandler) SetField(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid line index")
		return
	}
	var request struct {
		Field string              `json:"field"`
		Value services.FieldValue `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	snap, err := h.widgets.SetField(r.Context(), lineID, index, request.Field, request.Value)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) MountLineInEdit(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid line index")
		return
	}
	snap, err := h.widgets.MountLineInEdit(r.Context(), lineID, index)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) ApplySuggestion(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid line index")
		return
	}
	snap, err := h.widgets.ApplyLineSuggestion(r.Context(), lineID, index)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) AddNewAmls(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	var request struct {
		OpenLineIDs []int64 `json:"open_line_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	snap, err := h.widgets.AddNewAmls(r.Context(), lineID, request.OpenLineIDs)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) RemoveNewAmls(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	var request struct {
		OpenLineIDs []int64 `json:"open_line_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	snap, err := h.widgets.RemoveNewAmls(r.Context(), lineID, request.OpenLineIDs)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) SelectReconcileModel(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	var request struct {
		ModelID int64 `json:"model_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	snap, err := h.widgets.SelectReconcileModel(r.Context(), lineID, request.ModelID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) EarlyPaymentDiscount(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	var request struct {
		AccountID int64           `json:"account_id"`
		Percent   decimal.Decimal `json:"percent"`
		TaxIDs    []int64         `json:"tax_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	snap, err := h.widgets.ApplyEarlyPaymentDiscount(r.Context(), lineID, request.AccountID, request.Percent, request.TaxIDs)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) TriggerMatching(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	snap, err := h.widgets.TriggerMatching(r.Context(), lineID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) Validate(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	snap, res, err := h.widgets.Validate(r.Context(), lineID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snap,
		"result":   res,
	})
}

func (h *WidgetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	snap, err := h.widgets.Reset(r.Context(), lineID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *WidgetHandler) FastCounterpart(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement line id")
		return
	}
	var request struct {
		AccountID int64  `json:"account_id"`
		Label     string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	snap, res, err := h.widgets.FastCounterpart(r.Context(), lineID, request.AccountID, request.Label)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snap,
		"result":   res,
	})
}
