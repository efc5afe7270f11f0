// Package escrow owns the funds held against orders: hold, release, split
// and refund. All state changes run inside the caller's transaction while
// the caller holds the order row lock, so ledger operations on a single
// order are serialized without blocking unrelated orders.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/db"
	"orderflow/metrics"
	"orderflow/outbox"
)

// ErrNoHold signals that no funds were ever held for the order.
var ErrNoHold = errors.New("escrow: no hold for order")

// Ledger coordinates the escrow_holds table with the payment provider.
type Ledger struct {
	provider PaymentProvider
}

func NewLedger(provider PaymentProvider) *Ledger {
	return &Ledger{provider: provider}
}

// HoldTx places a hold of amount for the order, charging the client through
// the payment provider. Idempotent per order: an existing hold is returned
// unchanged. The provider call uses an order-scoped idempotency key, so a
// retry after a timeout never double-charges.
func (l *Ledger) HoldTx(ctx context.Context, tx pgx.Tx, orderID string, amount decimal.Decimal) (Hold, error) {
	existing, err := l.getTx(ctx, tx, orderID, true)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrNoHold):
		return Hold{}, err
	}

	if amount.IsNegative() || amount.IsZero() {
		return Hold{}, apperr.Validation("amount", "hold amount must be positive")
	}

	req := ProviderRequest{
		IdempotencyKey: "escrow-hold:" + orderID,
		OrderID:        orderID,
		Amount:         amount,
	}
	if err := l.provider.Hold(ctx, req); err != nil {
		metrics.PaymentProviderErrorsTotal.WithLabelValues("hold").Inc()
		if errors.Is(err, ErrInsufficientFunds) {
			return Hold{}, apperr.Payment("insufficient funds to place escrow hold", err)
		}
		return Hold{}, apperr.Payment("escrow hold was not placed", err)
	}

	const insertSQL = `
		INSERT INTO escrow_holds (order_id, amount, state)
		VALUES ($1, $2::numeric, 'held')
		RETURNING order_id, amount::text, state, amount_to_client::text, amount_to_technician::text,
		          held_at, released_at, split_at, refunded_at
	`
	hold, err := scanHold(tx.QueryRow(ctx, insertSQL, orderID, amount.String()))
	if err != nil {
		return Hold{}, fmt.Errorf("escrow: insert hold: %w", err)
	}

	if err := outbox.EnqueueTx(ctx, tx, "escrow.held", map[string]any{
		"order_id": orderID,
		"amount":   amount.String(),
	}); err != nil {
		return Hold{}, err
	}

	metrics.EscrowHoldsTotal.Inc()
	return hold, nil
}

// ReleaseTx moves the full held amount to the technician. Idempotent: a
// second call after success returns the released hold without a second
// disbursement.
func (l *Ledger) ReleaseTx(ctx context.Context, tx pgx.Tx, orderID string) (Hold, error) {
	hold, err := l.getTx(ctx, tx, orderID, true)
	if err != nil {
		if errors.Is(err, ErrNoHold) {
			return Hold{}, apperr.InvalidState("", "no active escrow hold to release")
		}
		return Hold{}, err
	}

	if hold.State == StateReleased {
		return hold, nil
	}
	if hold.State != StateHeld {
		return Hold{}, apperr.InvalidState(string(hold.State), "escrow hold is not active")
	}

	req := ProviderRequest{
		IdempotencyKey: "escrow-release:" + orderID,
		OrderID:        orderID,
		Amount:         hold.Amount,
	}
	if err := l.provider.Release(ctx, req); err != nil {
		metrics.PaymentProviderErrorsTotal.WithLabelValues("release").Inc()
		return Hold{}, apperr.Payment("escrow release was not applied", err)
	}

	return l.settle(ctx, tx, orderID, StateReleased, nil, nil)
}

// RefundTx returns the full held amount to the client.
func (l *Ledger) RefundTx(ctx context.Context, tx pgx.Tx, orderID string) (Hold, error) {
	hold, err := l.getTx(ctx, tx, orderID, true)
	if err != nil {
		if errors.Is(err, ErrNoHold) {
			return Hold{}, apperr.InvalidState("", "no active escrow hold to refund")
		}
		return Hold{}, err
	}

	if hold.State == StateRefunded {
		return hold, nil
	}
	if hold.State != StateHeld {
		return Hold{}, apperr.InvalidState(string(hold.State), "escrow hold is not active")
	}

	req := ProviderRequest{
		IdempotencyKey: "escrow-refund:" + orderID,
		OrderID:        orderID,
		Amount:         hold.Amount,
	}
	if err := l.provider.Refund(ctx, req); err != nil {
		metrics.PaymentProviderErrorsTotal.WithLabelValues("refund").Inc()
		return Hold{}, apperr.Payment("escrow refund was not applied", err)
	}

	return l.settle(ctx, tx, orderID, StateRefunded, nil, nil)
}

// SplitTx divides the held amount between client and technician. The two
// amounts must sum exactly to the held amount; this is validated before any
// provider call so a mismatch never moves money.
func (l *Ledger) SplitTx(ctx context.Context, tx pgx.Tx, orderID string, toClient, toTechnician decimal.Decimal) (Hold, error) {
	hold, err := l.getTx(ctx, tx, orderID, true)
	if err != nil {
		if errors.Is(err, ErrNoHold) {
			return Hold{}, apperr.InvalidState("", "no active escrow hold to split")
		}
		return Hold{}, err
	}

	if hold.State == StateSplit {
		return hold, nil
	}
	if hold.State != StateHeld {
		return Hold{}, apperr.InvalidState(string(hold.State), "escrow hold is not active")
	}

	if toClient.IsNegative() || toTechnician.IsNegative() {
		return Hold{}, apperr.Validation("amount", "split amounts must not be negative")
	}
	if !toClient.Add(toTechnician).Equal(hold.Amount) {
		return Hold{}, apperr.Validation("amount", fmt.Sprintf(
			"split amounts %s + %s do not sum to held amount %s",
			toClient.String(), toTechnician.String(), hold.Amount.String()))
	}

	req := ProviderRequest{
		IdempotencyKey:     "escrow-split:" + orderID,
		OrderID:            orderID,
		Amount:             hold.Amount,
		AmountToClient:     toClient,
		AmountToTechnician: toTechnician,
	}
	if err := l.provider.Split(ctx, req); err != nil {
		metrics.PaymentProviderErrorsTotal.WithLabelValues("split").Inc()
		return Hold{}, apperr.Payment("escrow split was not applied", err)
	}

	return l.settle(ctx, tx, orderID, StateSplit, &toClient, &toTechnician)
}

// Get returns the hold for the order without locking.
func (l *Ledger) Get(ctx context.Context, q db.Querier, orderID string) (Hold, error) {
	return getHold(ctx, q, orderID, false)
}

// GetTx returns the hold locked within the caller's transaction.
func (l *Ledger) GetTx(ctx context.Context, tx pgx.Tx, orderID string) (Hold, error) {
	return l.getTx(ctx, tx, orderID, true)
}

func (l *Ledger) getTx(ctx context.Context, tx pgx.Tx, orderID string, forUpdate bool) (Hold, error) {
	return getHold(ctx, tx, orderID, forUpdate)
}

func getHold(ctx context.Context, q db.Querier, orderID string, forUpdate bool) (Hold, error) {
	query := `
		SELECT order_id, amount::text, state, amount_to_client::text, amount_to_technician::text,
		       held_at, released_at, split_at, refunded_at
		FROM escrow_holds
		WHERE order_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	hold, err := scanHold(q.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrNoHold
		}
		return Hold{}, fmt.Errorf("escrow: get hold: %w", err)
	}
	return hold, nil
}

func (l *Ledger) settle(ctx context.Context, tx pgx.Tx, orderID string, state State, toClient, toTechnician *decimal.Decimal) (Hold, error) {
	var clientArg, techArg any
	if toClient != nil {
		clientArg = toClient.String()
	}
	if toTechnician != nil {
		techArg = toTechnician.String()
	}

	const updateSQL = `
		UPDATE escrow_holds
		SET state = $2,
		    amount_to_client = $3::numeric,
		    amount_to_technician = $4::numeric,
		    released_at = CASE WHEN $2 = 'released' THEN now() ELSE released_at END,
		    split_at    = CASE WHEN $2 = 'split'    THEN now() ELSE split_at END,
		    refunded_at = CASE WHEN $2 = 'refunded' THEN now() ELSE refunded_at END
		WHERE order_id = $1 AND state = 'held'
		RETURNING order_id, amount::text, state, amount_to_client::text, amount_to_technician::text,
		          held_at, released_at, split_at, refunded_at
	`
	hold, err := scanHold(tx.QueryRow(ctx, updateSQL, orderID, string(state), clientArg, techArg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, apperr.Conflict("escrow hold settled concurrently")
		}
		return Hold{}, fmt.Errorf("escrow: settle hold: %w", err)
	}

	payload := map[string]any{
		"order_id": orderID,
		"amount":   hold.Amount.String(),
	}
	if toClient != nil {
		payload["amount_to_client"] = toClient.String()
	}
	if toTechnician != nil {
		payload["amount_to_technician"] = toTechnician.String()
	}
	if err := outbox.EnqueueTx(ctx, tx, "escrow."+string(state), payload); err != nil {
		return Hold{}, err
	}

	return hold, nil
}

func scanHold(row pgx.Row) (Hold, error) {
	var (
		hold     Hold
		amount   string
		toClient *string
		toTech   *string
	)
	err := row.Scan(
		&hold.OrderID,
		&amount,
		&hold.State,
		&toClient,
		&toTech,
		&hold.HeldAt,
		&hold.ReleasedAt,
		&hold.SplitAt,
		&hold.RefundedAt,
	)
	if err != nil {
		return Hold{}, err
	}

	hold.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Hold{}, fmt.Errorf("escrow: parse amount %q: %w", amount, err)
	}
	if toClient != nil {
		d, err := decimal.NewFromString(*toClient)
		if err != nil {
			return Hold{}, fmt.Errorf("escrow: parse client amount %q: %w", *toClient, err)
		}
		hold.AmountToClient = &d
	}
	if toTech != nil {
		d, err := decimal.NewFromString(*toTech)
		if err != nil {
			return Hold{}, fmt.Errorf("escrow: parse technician amount %q: %w", *toTech, err)
		}
		hold.AmountToTechnician = &d
	}
	return hold, nil
}
