// Package order implements the service-order state machine. It exclusively
// owns orders.status: every transition goes through the validated table in
// status.go, runs under the order row lock, and appends its history event
// and outbox message in the same transaction.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderflow/apperr"
	"orderflow/auth"
	"orderflow/db"
	"orderflow/escrow"
	"orderflow/metrics"
	"orderflow/offer"
	"orderflow/outbox"
)

// Pool is the database handle required by the service: direct reads plus
// transactions for state-mutating operations.
type Pool interface {
	db.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OfferRegistry is the slice of the offer registry the state machine drives.
type OfferRegistry interface {
	CreateTx(ctx context.Context, tx pgx.Tx, params offer.CreateParams) (offer.Offer, error)
	AcceptTx(ctx context.Context, tx pgx.Tx, orderID, offerID string) (offer.Offer, error)
	List(ctx context.Context, orderID string) ([]offer.Offer, error)
	ListByTechnician(ctx context.Context, orderID, technicianID string) ([]offer.Offer, error)
}

// Ledger is the slice of the escrow ledger the state machine drives. Both
// calls run inside the order's transaction while the order row lock is held.
type Ledger interface {
	HoldTx(ctx context.Context, tx pgx.Tx, orderID string, amount decimal.Decimal) (escrow.Hold, error)
	ReleaseTx(ctx context.Context, tx pgx.Tx, orderID string) (escrow.Hold, error)
}

// Service exposes the order lifecycle operations.
type Service struct {
	pool   Pool
	offers OfferRegistry
	ledger Ledger
	log    *zap.Logger
}

func NewService(pool Pool, offers OfferRegistry, ledger Ledger, log *zap.Logger) *Service {
	return &Service{
		pool:   pool,
		offers: offers,
		ledger: ledger,
		log:    log,
	}
}

// Create validates the service spec and opens a new order.
func (s *Service) Create(ctx context.Context, clientID string, spec ServiceSpec) (Order, error) {
	scheduled, err := validateSpec(spec)
	if err != nil {
		return Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO orders (client_id, service_id, description, location,
		                    scheduled_date, window_start, window_end, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'OPEN')
		RETURNING ` + orderColumns

	ord, err := scanOrder(tx.QueryRow(ctx, insertSQL,
		clientID, spec.ServiceID, spec.Description, spec.Location,
		scheduled, spec.WindowStart, spec.WindowEnd))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}

	if err := AppendEventTx(ctx, tx, ord.ID, "ORDER_CREATED", clientID, map[string]any{
		"service_id": spec.ServiceID,
		"location":   spec.Location,
	}); err != nil {
		return Order{}, err
	}
	if err := outbox.EnqueueTx(ctx, tx, "order.created", map[string]any{
		"order_id":  ord.ID,
		"client_id": clientID,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}

	metrics.OrdersCreatedTotal.Inc()
	s.log.Info("order created", zap.String("order_id", ord.ID), zap.String("client_id", clientID))
	return ord, nil
}

// SubmitOffer records a technician bid. The first bid moves the order from
// OPEN to PENDING. Once acceptance has begun the order row lock makes this
// fail with an invalid-state error rather than racing the acceptance.
func (s *Service) SubmitOffer(ctx context.Context, orderID, technicianID string, price decimal.Decimal, description string) (offer.Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return offer.Offer{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := LockTx(ctx, tx, orderID)
	if err != nil {
		return offer.Offer{}, err
	}
	if ord.ClientID == technicianID {
		return offer.Offer{}, apperr.Authorization("cannot submit an offer on your own order")
	}
	if !statusIn(ord.Status, StatusOpen, StatusPending) {
		return offer.Offer{}, apperr.InvalidState(string(ord.Status), "order is not accepting offers")
	}

	ofr, err := s.offers.CreateTx(ctx, tx, offer.CreateParams{
		OrderID:      orderID,
		TechnicianID: technicianID,
		Price:        price,
		Description:  description,
	})
	if err != nil {
		return offer.Offer{}, err
	}

	if ord.Status == StatusOpen {
		if _, err := UpdateStatusTx(ctx, tx, ord, StatusPending, technicianID, map[string]any{
			"offer_id": ofr.ID,
		}); err != nil {
			return offer.Offer{}, err
		}
	}

	if err := AppendEventTx(ctx, tx, orderID, "OFFER_SUBMITTED", technicianID, map[string]any{
		"offer_id": ofr.ID,
		"price":    ofr.Price.String(),
	}); err != nil {
		return offer.Offer{}, err
	}
	if err := outbox.EnqueueTx(ctx, tx, "offer.submitted", map[string]any{
		"order_id":      orderID,
		"offer_id":      ofr.ID,
		"technician_id": technicianID,
		"price":         ofr.Price.String(),
	}); err != nil {
		return offer.Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return offer.Offer{}, fmt.Errorf("order: commit submit offer: %w", err)
	}
	return ofr, nil
}

// ListOffers returns offers visible to the viewer: the order's client and
// arbitrators see all of them, technicians only their own.
func (s *Service) ListOffers(ctx context.Context, orderID, viewerID string, viewerRole auth.Role) ([]offer.Offer, error) {
	ord, err := GetByID(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case viewerID == ord.ClientID || viewerRole == auth.RoleArbitrator:
		return s.offers.List(ctx, orderID)
	case viewerRole == auth.RoleTechnician:
		return s.offers.ListByTechnician(ctx, orderID, viewerID)
	default:
		return nil, apperr.Authorization("offers are visible only to the order's client and bidding technicians")
	}
}

// AcceptOffer marks the named offer accepted, rejects every sibling, fixes
// the final price, and moves the order to escrow confirmation. The whole
// acceptance is one transaction; concurrent acceptances serialize on the
// order row lock, and losers see the order already past OPEN/PENDING.
func (s *Service) AcceptOffer(ctx context.Context, orderID, offerID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := LockTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.ClientID != callerID {
		return Order{}, apperr.Authorization("only the order's client can accept an offer")
	}
	if !statusIn(ord.Status, StatusOpen, StatusPending) {
		if ord.AcceptedOfferID != nil {
			return Order{}, apperr.Conflict("another offer was already accepted for this order")
		}
		return Order{}, apperr.InvalidState(string(ord.Status), "order is not open for acceptance")
	}

	accepted, err := s.offers.AcceptTx(ctx, tx, orderID, offerID)
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			return Order{}, apperr.NotFound("offer not found for this order")
		}
		return Order{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET accepted_offer_id = $1,
		    technician_id = $2,
		    final_price = $3::numeric,
		    updated_at = now()
		WHERE id = $4
	`, accepted.ID, accepted.TechnicianID, accepted.Price.String(), orderID); err != nil {
		return Order{}, fmt.Errorf("order: record acceptance: %w", err)
	}

	ord, err = UpdateStatusTx(ctx, tx, ord, StatusAwaitingEscrow, callerID, map[string]any{
		"offer_id":    accepted.ID,
		"final_price": accepted.Price.String(),
	})
	if err != nil {
		return Order{}, err
	}

	if err := outbox.EnqueueTx(ctx, tx, "offer.accepted", map[string]any{
		"order_id":      orderID,
		"offer_id":      accepted.ID,
		"technician_id": accepted.TechnicianID,
		"final_price":   accepted.Price.String(),
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit accept offer: %w", err)
	}

	metrics.OffersAcceptedTotal.Inc()

	ord.AcceptedOfferID = &accepted.ID
	ord.TechnicianID = &accepted.TechnicianID
	price := accepted.Price
	ord.FinalPrice = &price
	return ord, nil
}

// ConfirmEscrowFunding asks the ledger to hold the final price. On provider
// failure the transaction rolls back and the order stays in
// AWAITING_CLIENT_ESCROW_CONFIRMATION, safely retryable: the hold uses an
// order-scoped idempotency key. A repeat call after success is a no-op.
func (s *Service) ConfirmEscrowFunding(ctx context.Context, orderID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := LockTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.ClientID != callerID {
		return Order{}, apperr.Authorization("only the order's client can confirm escrow funding")
	}
	if ord.Status == StatusAccepted {
		return ord, nil
	}
	if ord.Status != StatusAwaitingEscrow {
		return Order{}, apperr.InvalidState(string(ord.Status), "order is not awaiting escrow confirmation")
	}
	if ord.FinalPrice == nil {
		return Order{}, apperr.Internal("order has no final price", nil)
	}

	hold, err := s.ledger.HoldTx(ctx, tx, ord.ID, *ord.FinalPrice)
	if err != nil {
		return Order{}, err
	}

	ord, err = UpdateStatusTx(ctx, tx, ord, StatusAccepted, callerID, map[string]any{
		"amount": hold.Amount.String(),
	})
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit escrow confirmation: %w", err)
	}

	s.log.Info("escrow funded",
		zap.String("order_id", ord.ID),
		zap.String("amount", hold.Amount.String()))
	return ord, nil
}

// StartWork moves an accepted order into execution.
func (s *Service) StartWork(ctx context.Context, orderID, callerID string) (Order, error) {
	return s.technicianTransition(ctx, orderID, callerID, StatusInProgress)
}

// MarkAwaitingRelease records that the technician considers the work done.
func (s *Service) MarkAwaitingRelease(ctx context.Context, orderID, callerID string) (Order, error) {
	return s.technicianTransition(ctx, orderID, callerID, StatusAwaitingRelease)
}

func (s *Service) technicianTransition(ctx context.Context, orderID, callerID string, next Status) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := LockTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.TechnicianID == nil || *ord.TechnicianID != callerID {
		return Order{}, apperr.Authorization("only the accepted technician can perform this operation")
	}

	ord, err = UpdateStatusTx(ctx, tx, ord, next, callerID, nil)
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit transition: %w", err)
	}
	return ord, nil
}

// ReleaseFunds pays the full hold to the technician and completes the
// order. Irreversible; a second call after success returns the completed
// order without a second disbursement.
func (s *Service) ReleaseFunds(ctx context.Context, orderID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := LockTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.ClientID != callerID {
		return Order{}, apperr.Authorization("only the order's client can release funds")
	}
	if ord.Status == StatusCompleted {
		return ord, nil
	}
	if ord.Status != StatusAwaitingRelease {
		return Order{}, apperr.InvalidState(string(ord.Status), "order is not awaiting release")
	}

	hold, err := s.ledger.ReleaseTx(ctx, tx, ord.ID)
	if err != nil {
		return Order{}, err
	}

	ord, err = UpdateStatusTx(ctx, tx, ord, StatusCompleted, callerID, map[string]any{
		"amount": hold.Amount.String(),
	})
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit release: %w", err)
	}

	s.log.Info("funds released",
		zap.String("order_id", ord.ID),
		zap.String("amount", hold.Amount.String()))
	return ord, nil
}

// Cancel cancels a pre-funding order. No ledger effect: holds cannot exist
// in OPEN or PENDING. Any post-funding termination goes through dispute
// arbitration instead.
func (s *Service) Cancel(ctx context.Context, orderID, callerID, reason string) (Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, apperr.Validation("reason", "cancellation reason is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := LockTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.ClientID != callerID {
		return Order{}, apperr.Authorization("only the order's client can cancel")
	}
	if !statusIn(ord.Status, StatusOpen, StatusPending) {
		return Order{}, apperr.InvalidState(string(ord.Status), "order can no longer be cancelled")
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET cancel_reason = $1, updated_at = now() WHERE id = $2`, reason, orderID); err != nil {
		return Order{}, fmt.Errorf("order: record cancel reason: %w", err)
	}

	ord, err = UpdateStatusTx(ctx, tx, ord, StatusCancelled, callerID, map[string]any{
		"reason": reason,
	})
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit cancel: %w", err)
	}

	ord.CancelReason = &reason
	return ord, nil
}

// Get returns the order. Any authenticated user may view an order; that is
// how technicians find work to bid on.
func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	return GetByID(ctx, s.pool, orderID)
}

// GetHistory returns the order's event log to involved parties and
// arbitrators.
func (s *Service) GetHistory(ctx context.Context, orderID, viewerID string, viewerRole auth.Role) ([]Event, error) {
	ord, err := GetByID(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}

	involved := viewerID == ord.ClientID ||
		(ord.TechnicianID != nil && *ord.TechnicianID == viewerID) ||
		viewerRole == auth.RoleArbitrator
	if !involved {
		return nil, apperr.Authorization("order history is visible only to involved parties")
	}

	return History(ctx, s.pool, orderID)
}

// ListMine returns the orders the user participates in.
func (s *Service) ListMine(ctx context.Context, userID string, role auth.Role) ([]Order, error) {
	if role == auth.RoleTechnician {
		return ListByTechnician(ctx, s.pool, userID)
	}
	return ListByClient(ctx, s.pool, userID)
}

func validateSpec(spec ServiceSpec) (time.Time, error) {
	if strings.TrimSpace(spec.ServiceID) == "" {
		return time.Time{}, apperr.Validation("service_id", "service is required")
	}
	if strings.TrimSpace(spec.Location) == "" {
		return time.Time{}, apperr.Validation("location", "location is required")
	}

	scheduled, err := time.Parse("2006-01-02", spec.ScheduledDate)
	if err != nil {
		return time.Time{}, apperr.Validation("scheduled_date", "scheduled date must be YYYY-MM-DD")
	}

	start, err := time.Parse("15:04", spec.WindowStart)
	if err != nil {
		return time.Time{}, apperr.Validation("window_start", "window start must be HH:MM")
	}
	end, err := time.Parse("15:04", spec.WindowEnd)
	if err != nil {
		return time.Time{}, apperr.Validation("window_end", "window end must be HH:MM")
	}
	if !end.After(start) {
		return time.Time{}, apperr.Validation("window_end", "window end must be after window start")
	}

	return scheduled, nil
}
