package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/services"
)

func SetupRouter(
	widgets *services.WidgetService,
	validation *services.ValidationService,
	autoReconcile *services.AutoReconcileService,
	ingestion *IngestionHandler,
	log *zap.SugaredLogger,
) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware(log))
	api.Use(jsonContentTypeMiddleware)

	wh := NewWidgetHandler(widgets)
	api.HandleFunc("/statement-lines/{id}/widget", wh.Open).Methods(http.MethodGet)
	api.HandleFunc("/statement-lines/{id}/widget", wh.Close).Methods(http.MethodDelete)
	api.HandleFunc("/statement-lines/{id}/widget/lines/{index}", wh.SetField).Methods(http.MethodPatch)
	api.HandleFunc("/statement-lines/{id}/widget/lines/{index}/mount", wh.MountLineInEdit).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/lines/{index}/apply-suggestion", wh.ApplySuggestion).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/new-amls", wh.AddNewAmls).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/new-amls", wh.RemoveNewAmls).Methods(http.MethodDelete)
	api.HandleFunc("/statement-lines/{id}/widget/reconcile-model", wh.SelectReconcileModel).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/early-payment-discount", wh.EarlyPaymentDiscount).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/trigger-matching", wh.TriggerMatching).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/validate", wh.Validate).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/widget/reset", wh.Reset).Methods(http.MethodPost)
	api.HandleFunc("/statement-lines/{id}/fast-counterpart", wh.FastCounterpart).Methods(http.MethodPost)

	sh := NewStatementHandler(widgets, validation, autoReconcile)
	api.HandleFunc("/statements", ingestion.ImportStatement).Methods(http.MethodPost)
	api.HandleFunc("/statements/{id}/reconciliation", sh.Overview).Methods(http.MethodGet)
	api.HandleFunc("/statements/{id}/confirm", sh.Confirm).Methods(http.MethodPost)
	api.HandleFunc("/auto-reconcile/tick", sh.Tick).Methods(http.MethodPost)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(log *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debugw("request", "remote", r.RemoteAddr, "method", r.Method, "url", r.URL.String())
			next.ServeHTTP(w, r)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondWithServiceError maps the engine's error kinds onto HTTP statuses.
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrPrecondition):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrRuleNoMatch):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrData):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrConfig):
		respondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
