package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/order"
)

type createOrderRequest struct {
	ServiceID     string `json:"service_id"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	ScheduledDate string `json:"scheduled_date"`
	WindowStart   string `json:"window_start"`
	WindowEnd     string `json:"window_end"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ord, err := s.orders.Create(r.Context(), callerID(r), order.ServiceSpec{
		ServiceID:     req.ServiceID,
		Description:   req.Description,
		Location:      req.Location,
		ScheduledDate: req.ScheduledDate,
		WindowStart:   req.WindowStart,
		WindowEnd:     req.WindowEnd,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toOrderResponse(ord))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.ListMine(r.Context(), callerID(r), callerRole(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.orders.GetHistory(r.Context(), mux.Vars(r)["id"], callerID(r), callerRole(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEventResponses(events))
}

type submitOfferRequest struct {
	Price       string `json:"price"`
	Description string `json:"description"`
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req submitOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		respondError(w, r, apperr.Validation("price", "price must be a decimal string"))
		return
	}

	off, err := s.orders.SubmitOffer(r.Context(), mux.Vars(r)["id"], callerID(r), price, req.Description)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toOfferResponse(off))
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.orders.ListOffers(r.Context(), mux.Vars(r)["id"], callerID(r), callerRole(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]offerResponse, 0, len(offers))
	for _, off := range offers {
		out = append(out, toOfferResponse(off))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ord, err := s.orders.AcceptOffer(r.Context(), vars["id"], vars["offerId"], callerID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleConfirmEscrow(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.ConfirmEscrowFunding(r.Context(), mux.Vars(r)["id"], callerID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleStartWork(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.StartWork(r.Context(), mux.Vars(r)["id"], callerID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleMarkAwaitingRelease(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.MarkAwaitingRelease(r.Context(), mux.Vars(r)["id"], callerID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleReleaseFunds(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.ReleaseFunds(r.Context(), mux.Vars(r)["id"], callerID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ord, err := s.orders.Cancel(r.Context(), mux.Vars(r)["id"], callerID(r), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(ord))
}
