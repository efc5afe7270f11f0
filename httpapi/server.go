// Package httpapi exposes the order engine over HTTP/JSON. Money travels as
// decimal strings and timestamps as RFC 3339 UTC; domain errors map onto
// statuses through respondError.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/db"
	"orderflow/dispute"
	"orderflow/order"
	"orderflow/review"
)

type Server struct {
	auth     *auth.Service
	orders   *order.Service
	disputes *dispute.Service
	reviews  *review.Service
	pinger   db.Pinger
	log      *zap.Logger

	server *http.Server
}

func NewServer(authSvc *auth.Service, orders *order.Service, disputes *dispute.Service, reviews *review.Service, pinger db.Pinger, log *zap.Logger) *Server {
	return &Server{
		auth:     authSvc,
		orders:   orders,
		disputes: disputes,
		reviews:  reviews,
		pinger:   pinger,
		log:      log,
	}
}

// Run serves until ListenAndServe returns; shut down via Shutdown.
func (s *Server) Run(port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("http server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/history", s.handleOrderHistory).Methods(http.MethodGet)

	api.HandleFunc("/orders/{id}/offers", s.handleSubmitOffer).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/offers", s.handleListOffers).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/accept-offer/{offerId}", s.handleAcceptOffer).Methods(http.MethodPost)

	api.HandleFunc("/orders/{id}/confirm-escrow", s.handleConfirmEscrow).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/start-work", s.handleStartWork).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/mark-awaiting-release", s.handleMarkAwaitingRelease).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/release-funds", s.handleReleaseFunds).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods(http.MethodPost)

	api.HandleFunc("/orders/{id}/initiate-dispute", s.handleInitiateDispute).Methods(http.MethodPost)
	api.HandleFunc("/disputes/{id}", s.handleGetDispute).Methods(http.MethodGet)
	api.HandleFunc("/disputes/{id}/respond", s.handleRespondDispute).Methods(http.MethodPatch)
	api.HandleFunc("/disputes/{id}/resolve", s.handleResolveDispute).Methods(http.MethodPost)
	api.HandleFunc("/disputes/{id}/close", s.handleCloseDispute).Methods(http.MethodPost)

	api.HandleFunc("/orders/{id}/review", s.handleCreateReview).Methods(http.MethodPost)
	api.HandleFunc("/technicians/{id}/reviews", s.handleListReviews).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
