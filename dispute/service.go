// Package dispute implements the arbitration workflow triggered from
// AWAITING_RELEASE: argument collection, the ordered response exchange, and
// the arbitrator's settlement of the escrow ledger. It exclusively owns
// Dispute.status and Dispute.resolution; every order transition it causes
// still goes through the order package's validated transition table.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderflow/apperr"
	"orderflow/auth"
	"orderflow/db"
	"orderflow/escrow"
	"orderflow/metrics"
	"orderflow/order"
	"orderflow/outbox"
)

// Pool is the database handle required by the service.
type Pool interface {
	db.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger is the slice of the escrow ledger arbitration drives. All calls
// run inside the dispute's transaction while the order row lock is held.
type Ledger interface {
	GetTx(ctx context.Context, tx pgx.Tx, orderID string) (escrow.Hold, error)
	ReleaseTx(ctx context.Context, tx pgx.Tx, orderID string) (escrow.Hold, error)
	RefundTx(ctx context.Context, tx pgx.Tx, orderID string) (escrow.Hold, error)
	SplitTx(ctx context.Context, tx pgx.Tx, orderID string, toClient, toTechnician decimal.Decimal) (escrow.Hold, error)
}

// Service exposes the dispute lifecycle operations.
type Service struct {
	pool   Pool
	ledger Ledger
	log    *zap.Logger
}

func NewService(pool Pool, ledger Ledger, log *zap.Logger) *Service {
	return &Service{
		pool:   pool,
		ledger: ledger,
		log:    log,
	}
}

// Initiate opens a dispute on an order awaiting release and moves the order
// to DISPUTED in the same transaction. Only the order's client or its
// accepted technician may initiate; one dispute per order.
func (s *Service) Initiate(ctx context.Context, orderID, initiatorID, argument string) (Dispute, order.Order, error) {
	argument = strings.TrimSpace(argument)
	if argument == "" {
		return Dispute{}, order.Order{}, apperr.Validation("argument", "dispute argument is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := order.LockTx(ctx, tx, orderID)
	if err != nil {
		return Dispute{}, order.Order{}, err
	}

	isClient := initiatorID == ord.ClientID
	isTechnician := ord.TechnicianID != nil && *ord.TechnicianID == initiatorID
	if !isClient && !isTechnician {
		return Dispute{}, order.Order{}, apperr.Authorization("only the order's client or accepted technician can open a dispute")
	}
	if ord.Status != order.StatusAwaitingRelease {
		return Dispute{}, order.Order{}, apperr.InvalidState(string(ord.Status), "disputes can only be opened while the order awaits release")
	}

	clientArg, techArg := anyArg(argument, isClient)

	const insertSQL = `
		INSERT INTO disputes (order_id, initiator_id, client_argument, technician_argument, status)
		VALUES ($1, $2, $3, $4, 'OPEN')
		RETURNING ` + disputeColumns

	d, err := scanDispute(tx.QueryRow(ctx, insertSQL, orderID, initiatorID, clientArg, techArg))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, order.Order{}, apperr.Conflict("a dispute already exists for this order")
		}
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: insert: %w", err)
	}

	ord, err = order.UpdateStatusTx(ctx, tx, ord, order.StatusDisputed, initiatorID, map[string]any{
		"dispute_id": d.ID,
	})
	if err != nil {
		return Dispute{}, order.Order{}, err
	}

	if err := outbox.EnqueueTx(ctx, tx, "dispute.opened", map[string]any{
		"dispute_id":   d.ID,
		"order_id":     orderID,
		"initiator_id": initiatorID,
	}); err != nil {
		return Dispute{}, order.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: commit initiate: %w", err)
	}

	s.log.Info("dispute opened",
		zap.String("dispute_id", d.ID),
		zap.String("order_id", orderID),
		zap.String("initiator_id", initiatorID))
	return d, ord, nil
}

// Respond appends a message to the dispute's ordered exchange. Allowed for
// either party and the arbitrator while the dispute is OPEN or IN_REVIEW;
// the first arbitrator message moves the dispute into review, and a party's
// first message backfills its argument if it was missing.
func (s *Service) Respond(ctx context.Context, disputeID, senderID string, senderRole auth.Role, message string) (Dispute, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Dispute{}, apperr.Validation("message", "response message is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID, err := orderIDOf(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	ord, err := order.LockTx(ctx, tx, orderID)
	if err != nil {
		return Dispute{}, err
	}
	d, err := lockTx(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}

	isClient := senderID == ord.ClientID
	isTechnician := ord.TechnicianID != nil && *ord.TechnicianID == senderID
	isArbitrator := senderRole == auth.RoleArbitrator
	if !isClient && !isTechnician && !isArbitrator {
		return Dispute{}, apperr.Authorization("only dispute parties and arbitrators can respond")
	}
	if d.Status != StatusOpen && d.Status != StatusInReview {
		return Dispute{}, apperr.InvalidState(string(d.Status), "dispute is no longer accepting responses")
	}

	if _, err := insertResponseTx(ctx, tx, disputeID, senderID, message); err != nil {
		return Dispute{}, err
	}

	if isClient && d.ClientArgument == nil {
		if _, err := tx.Exec(ctx, `UPDATE disputes SET client_argument = $1, updated_at = now() WHERE id = $2`, message, disputeID); err != nil {
			return Dispute{}, fmt.Errorf("dispute: set client argument: %w", err)
		}
	}
	if isTechnician && d.TechnicianArgument == nil {
		if _, err := tx.Exec(ctx, `UPDATE disputes SET technician_argument = $1, updated_at = now() WHERE id = $2`, message, disputeID); err != nil {
			return Dispute{}, fmt.Errorf("dispute: set technician argument: %w", err)
		}
	}

	if isArbitrator && d.Status == StatusOpen {
		if _, err := tx.Exec(ctx, `UPDATE disputes SET status = 'IN_REVIEW', updated_at = now() WHERE id = $1`, disputeID); err != nil {
			return Dispute{}, fmt.Errorf("dispute: move to review: %w", err)
		}
	}

	if err := outbox.EnqueueTx(ctx, tx, "dispute.response_added", map[string]any{
		"dispute_id": disputeID,
		"order_id":   orderID,
		"sender_id":  senderID,
	}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit respond: %w", err)
	}

	return s.load(ctx, disputeID)
}

// Resolve applies the arbitrator's ruling: it validates the amounts against
// the escrow hold before any money moves, settles the ledger, and lands the
// order on the terminal status for the decision: REFUND_CLIENT ends in
// REFUNDED, PAY_TECHNICIAN in COMPLETED, SPLIT_PAYMENT in SETTLED.
// Irreversible.
func (s *Service) Resolve(ctx context.Context, disputeID, arbitratorID string, arbitratorRole auth.Role, decision Decision, toClient, toTechnician decimal.Decimal) (Dispute, order.Order, error) {
	if arbitratorRole != auth.RoleArbitrator {
		return Dispute{}, order.Order{}, apperr.Authorization("only an arbitrator can resolve a dispute")
	}
	if err := validateDecision(decision, toClient, toTechnician); err != nil {
		return Dispute{}, order.Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID, err := orderIDOf(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, order.Order{}, err
	}
	ord, err := order.LockTx(ctx, tx, orderID)
	if err != nil {
		return Dispute{}, order.Order{}, err
	}
	d, err := lockTx(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, order.Order{}, err
	}

	if d.Status == StatusResolved || d.Status == StatusClosed {
		return Dispute{}, order.Order{}, apperr.Conflict("dispute was already resolved")
	}

	hold, err := s.ledger.GetTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, escrow.ErrNoHold) {
			return Dispute{}, order.Order{}, apperr.Internal("disputed order has no escrow hold", err)
		}
		return Dispute{}, order.Order{}, err
	}

	// Fail fast on amount mismatch: nothing has touched the provider yet.
	if !toClient.Add(toTechnician).Equal(hold.Amount) {
		return Dispute{}, order.Order{}, apperr.Validation("amount", fmt.Sprintf(
			"resolution amounts %s + %s do not sum to held amount %s",
			toClient.String(), toTechnician.String(), hold.Amount.String()))
	}

	var terminal order.Status
	switch decision {
	case DecisionRefundClient:
		if _, err := s.ledger.RefundTx(ctx, tx, orderID); err != nil {
			return Dispute{}, order.Order{}, err
		}
		terminal = order.StatusRefunded
	case DecisionPayTechnician:
		if _, err := s.ledger.ReleaseTx(ctx, tx, orderID); err != nil {
			return Dispute{}, order.Order{}, err
		}
		terminal = order.StatusCompleted
	case DecisionSplitPayment:
		if _, err := s.ledger.SplitTx(ctx, tx, orderID, toClient, toTechnician); err != nil {
			return Dispute{}, order.Order{}, err
		}
		terminal = order.StatusSettled
	}

	const resolveSQL = `
		UPDATE disputes
		SET status = 'RESOLVED',
		    decision = $2,
		    amount_to_client = $3::numeric,
		    amount_to_technician = $4::numeric,
		    resolver_id = $5,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	d, err = scanDispute(tx.QueryRow(ctx, resolveSQL, disputeID, string(decision), toClient.String(), toTechnician.String(), arbitratorID))
	if err != nil {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: record resolution: %w", err)
	}

	ord, err = order.UpdateStatusTx(ctx, tx, ord, terminal, arbitratorID, map[string]any{
		"dispute_id":           disputeID,
		"decision":             string(decision),
		"amount_to_client":     toClient.String(),
		"amount_to_technician": toTechnician.String(),
	})
	if err != nil {
		return Dispute{}, order.Order{}, err
	}

	if err := outbox.EnqueueTx(ctx, tx, "dispute.resolved", map[string]any{
		"dispute_id":           disputeID,
		"order_id":             orderID,
		"decision":             string(decision),
		"amount_to_client":     toClient.String(),
		"amount_to_technician": toTechnician.String(),
	}); err != nil {
		return Dispute{}, order.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(decision)).Inc()
	s.log.Info("dispute resolved",
		zap.String("dispute_id", disputeID),
		zap.String("order_id", orderID),
		zap.String("decision", string(decision)))

	d.Responses, err = listResponses(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, order.Order{}, err
	}
	return d, ord, nil
}

// Close archives a resolved dispute (arbitrator) or withdraws an open one
// (initiator). Withdrawal puts the order back on the release path.
func (s *Service) Close(ctx context.Context, disputeID, callerID string, callerRole auth.Role) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID, err := orderIDOf(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	ord, err := order.LockTx(ctx, tx, orderID)
	if err != nil {
		return Dispute{}, err
	}
	d, err := lockTx(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}

	switch d.Status {
	case StatusResolved:
		if callerRole != auth.RoleArbitrator {
			return Dispute{}, apperr.Authorization("only an arbitrator can archive a resolved dispute")
		}
	case StatusOpen:
		if callerID != d.InitiatorID {
			return Dispute{}, apperr.Authorization("only the initiator can withdraw an open dispute")
		}
		if _, err := order.UpdateStatusTx(ctx, tx, ord, order.StatusAwaitingRelease, callerID, map[string]any{
			"dispute_id": disputeID,
			"withdrawn":  true,
		}); err != nil {
			return Dispute{}, err
		}
	default:
		return Dispute{}, apperr.InvalidState(string(d.Status), "dispute cannot be closed from its current status")
	}

	const closeSQL = `
		UPDATE disputes SET status = 'CLOSED', updated_at = now() WHERE id = $1
		RETURNING ` + disputeColumns

	d, err = scanDispute(tx.QueryRow(ctx, closeSQL, disputeID))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: close: %w", err)
	}

	if err := outbox.EnqueueTx(ctx, tx, "dispute.closed", map[string]any{
		"dispute_id": disputeID,
		"order_id":   orderID,
	}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit close: %w", err)
	}

	d.Responses, err = listResponses(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// Get returns the dispute with its responses, visible to the parties and
// arbitrators.
func (s *Service) Get(ctx context.Context, disputeID, viewerID string, viewerRole auth.Role) (Dispute, error) {
	d, err := getByID(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, err
	}

	ord, err := order.GetByID(ctx, s.pool, d.OrderID)
	if err != nil {
		return Dispute{}, err
	}

	allowed := viewerID == ord.ClientID ||
		(ord.TechnicianID != nil && *ord.TechnicianID == viewerID) ||
		viewerRole == auth.RoleArbitrator
	if !allowed {
		return Dispute{}, apperr.Authorization("dispute is visible only to its parties and arbitrators")
	}

	d.Responses, err = listResponses(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// GetByOrder returns the dispute attached to an order, with the same
// visibility rules as Get.
func (s *Service) GetByOrder(ctx context.Context, orderID, viewerID string, viewerRole auth.Role) (Dispute, error) {
	d, err := getByOrderID(ctx, s.pool, orderID)
	if err != nil {
		return Dispute{}, err
	}
	return s.Get(ctx, d.ID, viewerID, viewerRole)
}

func (s *Service) load(ctx context.Context, disputeID string) (Dispute, error) {
	d, err := getByID(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	d.Responses, err = listResponses(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}

func anyArg(argument string, isClient bool) (clientArg, techArg any) {
	if isClient {
		return argument, nil
	}
	return nil, argument
}

func validateDecision(decision Decision, toClient, toTechnician decimal.Decimal) error {
	switch decision {
	case DecisionRefundClient:
		if !toTechnician.IsZero() {
			return apperr.Validation("amount_to_technician", "a full refund pays the technician nothing")
		}
	case DecisionPayTechnician:
		if !toClient.IsZero() {
			return apperr.Validation("amount_to_client", "a full payout refunds the client nothing")
		}
	case DecisionSplitPayment:
		// any non-negative split is allowed as long as it sums to the hold
	default:
		return apperr.Validation("decision", fmt.Sprintf("unknown decision %q", decision))
	}

	if toClient.IsNegative() || toTechnician.IsNegative() {
		return apperr.Validation("amount", "resolution amounts must not be negative")
	}
	return nil
}
