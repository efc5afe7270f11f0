package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/dispute"
)

type initiateDisputeRequest struct {
	Argument string `json:"argument"`
}

func (s *Server) handleInitiateDispute(w http.ResponseWriter, r *http.Request) {
	var req initiateDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	d, ord, err := s.disputes.Initiate(r.Context(), mux.Vars(r)["id"], callerID(r), req.Argument)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"dispute": toDisputeResponse(d),
		"order":   toOrderResponse(ord),
	})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Get(r.Context(), mux.Vars(r)["id"], callerID(r), callerRole(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

type respondDisputeRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleRespondDispute(w http.ResponseWriter, r *http.Request) {
	var req respondDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	d, err := s.disputes.Respond(r.Context(), mux.Vars(r)["id"], callerID(r), callerRole(r), req.Message)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

type resolveDisputeRequest struct {
	Decision           string `json:"decision"`
	AmountToClient     string `json:"amount_to_client"`
	AmountToTechnician string `json:"amount_to_technician"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	toClient, err := parseAmount(req.AmountToClient, "amount_to_client")
	if err != nil {
		respondError(w, r, err)
		return
	}
	toTechnician, err := parseAmount(req.AmountToTechnician, "amount_to_technician")
	if err != nil {
		respondError(w, r, err)
		return
	}

	d, ord, err := s.disputes.Resolve(r.Context(), mux.Vars(r)["id"], callerID(r), callerRole(r),
		dispute.Decision(req.Decision), toClient, toTechnician)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"dispute": toDisputeResponse(d),
		"order":   toOrderResponse(ord),
	})
}

func (s *Server) handleCloseDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Close(r.Context(), mux.Vars(r)["id"], callerID(r), callerRole(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

// parseAmount reads a decimal-string money field, treating absence as zero so
// full-refund and full-payout rulings can omit the other side.
func parseAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, apperr.Validation(field, "amount must be a decimal string")
	}
	return amount, nil
}
