package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/db"
	"orderflow/outbox"
)

const orderColumns = `id, client_id, service_id, description, location,
	scheduled_date, window_start, window_end, status, accepted_offer_id,
	technician_id, final_price::text, cancel_reason, created_at, updated_at`

// GetByID returns the order without locking.
func GetByID(ctx context.Context, q db.Querier, id string) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	ord, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, apperr.NotFound("order not found")
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return ord, nil
}

// LockTx loads the order under FOR UPDATE, serializing every status-mutating
// operation on this order (and its offers, hold and dispute) for the
// lifetime of the transaction. Unrelated orders are unaffected.
func LockTx(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	ord, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, apperr.NotFound("order not found")
		}
		return Order{}, fmt.Errorf("order: lock: %w", err)
	}
	return ord, nil
}

// UpdateStatusTx performs one validated status transition inside the
// caller's transaction, appending the history event and outbox message in
// the same transaction. The caller must hold the order row lock.
func UpdateStatusTx(ctx context.Context, tx pgx.Tx, ord Order, next Status, actorID string, payload map[string]any) (Order, error) {
	if !IsValid(next) {
		return Order{}, fmt.Errorf("order: unknown status %q", next)
	}
	if !CanTransition(ord.Status, next) {
		return Order{}, apperr.InvalidState(string(ord.Status),
			fmt.Sprintf("transition %s -> %s is not allowed", ord.Status, next))
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`, next, ord.ID); err != nil {
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}

	eventPayload := map[string]any{
		"previous_status": string(ord.Status),
		"next_status":     string(next),
	}
	for k, v := range payload {
		eventPayload[k] = v
	}
	if err := AppendEventTx(ctx, tx, ord.ID, "ORDER_STATUS_CHANGED", actorID, eventPayload); err != nil {
		return Order{}, err
	}

	if err := outbox.EnqueueTx(ctx, tx, "order.status_changed", map[string]any{
		"order_id": ord.ID,
		"previous": string(ord.Status),
		"next":     string(next),
	}); err != nil {
		return Order{}, err
	}

	ord.Status = next
	return ord, nil
}

// AppendEventTx appends an immutable history event for the order.
func AppendEventTx(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal event payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const q = `
		INSERT INTO order_events (order_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4)
	`
	if _, err := tx.Exec(ctx, q, orderID, eventType, body, actor); err != nil {
		return fmt.Errorf("order: insert event: %w", err)
	}
	return nil
}

// History returns the order's event log, oldest first.
func History(ctx context.Context, q db.Querier, orderID string) ([]Event, error) {
	const query = `
		SELECT id, order_id, type, actor_id, payload, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY id ASC
	`
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: history: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 16)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("order: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate events: %w", err)
	}
	return out, nil
}

// ListByClient returns the client's orders, newest first.
func ListByClient(ctx context.Context, q db.Querier, clientID string) ([]Order, error) {
	return listOrders(ctx, q, `WHERE client_id = $1`, clientID)
}

// ListByTechnician returns orders on which the technician is the accepted
// technician, newest first.
func ListByTechnician(ctx context.Context, q db.Querier, technicianID string) ([]Order, error) {
	return listOrders(ctx, q, `WHERE technician_id = $1`, technicianID)
}

func listOrders(ctx context.Context, q db.Querier, where string, args ...any) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 8)
	for rows.Next() {
		ord, err := scanOrderFrom(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	return scanOrderFrom(row.Scan)
}

func scanOrderFrom(scan func(dest ...any) error) (Order, error) {
	var (
		ord        Order
		finalPrice *string
	)
	err := scan(
		&ord.ID,
		&ord.ClientID,
		&ord.ServiceID,
		&ord.Description,
		&ord.Location,
		&ord.ScheduledDate,
		&ord.WindowStart,
		&ord.WindowEnd,
		&ord.Status,
		&ord.AcceptedOfferID,
		&ord.TechnicianID,
		&finalPrice,
		&ord.CancelReason,
		&ord.CreatedAt,
		&ord.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}

	if finalPrice != nil {
		d, err := decimal.NewFromString(*finalPrice)
		if err != nil {
			return Order{}, fmt.Errorf("order: parse final price %q: %w", *finalPrice, err)
		}
		ord.FinalPrice = &d
	}
	return ord, nil
}
