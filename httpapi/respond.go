package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"orderflow/apperr"
	"orderflow/auth"
	"orderflow/metrics"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	State   string `json:"state,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Error("encode response", zap.Error(err))
		}
	}
}

// operationOf labels a rejection with its route template for the error
// counter, falling back to the raw path outside the router.
func operationOf(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if current := mux.CurrentRoute(r); current != nil {
		if tpl, err := current.GetPathTemplate(); err == nil {
			return r.Method + " " + tpl
		}
	}
	return r.Method + " " + r.URL.Path
}

// respondError maps domain errors onto HTTP statuses. Anything that is not a
// classified application error is logged and reported as a 500 without
// leaking internals.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	op := operationOf(r)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			metrics.OperationErrorsTotal.WithLabelValues(op, "unauthorized").Inc()
			respondJSON(w, http.StatusUnauthorized, errorBody{Kind: "unauthorized", Message: "invalid credentials"})
			return
		case errors.Is(err, auth.ErrDuplicateEmail):
			metrics.OperationErrorsTotal.WithLabelValues(op, string(apperr.KindConflict)).Inc()
			respondJSON(w, http.StatusConflict, errorBody{Kind: "conflict", Message: "email already registered"})
			return
		case errors.Is(err, auth.ErrWeakPassword):
			metrics.OperationErrorsTotal.WithLabelValues(op, string(apperr.KindValidation)).Inc()
			respondJSON(w, http.StatusBadRequest, errorBody{Kind: "validation", Message: auth.ErrWeakPassword.Error(), Field: "password"})
			return
		case errors.Is(err, auth.ErrUserNotFound):
			metrics.OperationErrorsTotal.WithLabelValues(op, string(apperr.KindNotFound)).Inc()
			respondJSON(w, http.StatusNotFound, errorBody{Kind: "not_found", Message: "user not found"})
			return
		}
		zap.L().Error("unhandled error", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues(op, string(apperr.KindInternal)).Inc()
		respondJSON(w, http.StatusInternalServerError, errorBody{Kind: "internal", Message: "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindInvalidState, apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindPayment:
		status = http.StatusPaymentRequired
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInternal:
		zap.L().Error("internal error", zap.Error(err))
	}

	metrics.OperationErrorsTotal.WithLabelValues(op, string(appErr.Kind)).Inc()
	respondJSON(w, status, errorBody{
		Kind:    string(appErr.Kind),
		Message: appErr.Msg,
		Field:   appErr.Field,
		State:   appErr.State,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("body", "invalid request body")
	}
	return nil
}
