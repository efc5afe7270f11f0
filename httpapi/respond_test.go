package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"orderflow/apperr"
	"orderflow/auth"
	"orderflow/metrics"
)

func testRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/orders", nil)
}

func TestRespondError_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", apperr.Validation("price", "price must be positive"), http.StatusBadRequest, "validation"},
		{"invalid state", apperr.InvalidState("COMPLETED", "order is terminal"), http.StatusConflict, "invalid_state"},
		{"conflict", apperr.Conflict("already accepted"), http.StatusConflict, "conflict"},
		{"authorization", apperr.Authorization("not your order"), http.StatusForbidden, "authorization"},
		{"payment", apperr.Payment("hold failed", nil), http.StatusPaymentRequired, "payment"},
		{"not found", apperr.NotFound("order not found"), http.StatusNotFound, "not_found"},
		{"internal", apperr.Internal("boom", errors.New("cause")), http.StatusInternalServerError, "internal"},
		{"unclassified", errors.New("raw failure"), http.StatusInternalServerError, "internal"},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{"duplicate email", auth.ErrDuplicateEmail, http.StatusConflict, "conflict"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondError(rec, testRequest(), tc.err)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}

			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, body.Kind)
			}
		})
	}
}

func TestRespondError_ValidationCarriesField(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, testRequest(), apperr.Validation("window_end", "window end must be after window start"))

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Field != "window_end" {
		t.Fatalf("expected field window_end, got %q", body.Field)
	}
}

func TestRespondError_InvalidStateCarriesState(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, testRequest(), apperr.InvalidState("DISPUTED", "order is under dispute"))

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.State != "DISPUTED" {
		t.Fatalf("expected state DISPUTED, got %q", body.State)
	}
}

func TestRespondError_CountsRejections(t *testing.T) {
	counter := metrics.OperationErrorsTotal.WithLabelValues("POST /orders", "authorization")
	before := testutil.ToFloat64(counter)

	respondError(httptest.NewRecorder(), testRequest(), apperr.Authorization("not your order"))

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected counter to advance by 1, got %v -> %v", before, got)
	}
}

func TestRespondError_InternalHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, testRequest(), apperr.Internal("disputed order has no escrow hold", errors.New("secret detail")))

	if rec.Body.String() == "" {
		t.Fatal("expected a body")
	}
	if got := rec.Body.String(); strings.Contains(got, "secret detail") {
		t.Fatalf("internal cause leaked: %s", got)
	}
}
