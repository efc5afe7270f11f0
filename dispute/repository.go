package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/db"
)

const disputeColumns = `id, order_id, initiator_id, client_argument, technician_argument,
	status, decision, amount_to_client::text, amount_to_technician::text,
	resolver_id, resolved_at, created_at, updated_at`

func getByID(ctx context.Context, q db.Querier, id string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	d, err := scanDispute(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, apperr.NotFound("dispute not found")
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func lockTx(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	d, err := scanDispute(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, apperr.NotFound("dispute not found")
		}
		return Dispute{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return d, nil
}

func getByOrderID(ctx context.Context, q db.Querier, orderID string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1`
	d, err := scanDispute(q.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, apperr.NotFound("no dispute for this order")
		}
		return Dispute{}, fmt.Errorf("dispute: get by order: %w", err)
	}
	return d, nil
}

// orderIDOf resolves the dispute's order without locking, so callers can
// take the order row lock before the dispute row lock. Every transaction in
// this package acquires locks in that fixed order.
func orderIDOf(ctx context.Context, q db.Querier, disputeID string) (string, error) {
	var orderID string
	err := q.QueryRow(ctx, `SELECT order_id FROM disputes WHERE id = $1`, disputeID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound("dispute not found")
		}
		return "", fmt.Errorf("dispute: resolve order id: %w", err)
	}
	return orderID, nil
}

func insertResponseTx(ctx context.Context, tx pgx.Tx, disputeID, senderID, message string) (Response, error) {
	const q = `
		INSERT INTO dispute_responses (dispute_id, sender_id, message)
		VALUES ($1, $2, $3)
		RETURNING id, dispute_id, sender_id, message, created_at
	`
	var resp Response
	err := tx.QueryRow(ctx, q, disputeID, senderID, message).
		Scan(&resp.ID, &resp.DisputeID, &resp.SenderID, &resp.Message, &resp.CreatedAt)
	if err != nil {
		return Response{}, fmt.Errorf("dispute: insert response: %w", err)
	}
	return resp, nil
}

func listResponses(ctx context.Context, q db.Querier, disputeID string) ([]Response, error) {
	const query = `
		SELECT id, dispute_id, sender_id, message, created_at
		FROM dispute_responses
		WHERE dispute_id = $1
		ORDER BY id ASC
	`
	rows, err := q.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list responses: %w", err)
	}
	defer rows.Close()

	out := make([]Response, 0, 8)
	for rows.Next() {
		var resp Response
		if err := rows.Scan(&resp.ID, &resp.DisputeID, &resp.SenderID, &resp.Message, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan response: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate responses: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d          Dispute
		decision   *string
		toClient   *string
		toTech     *string
		resolverID *string
		resolvedAt *time.Time
	)
	err := row.Scan(
		&d.ID,
		&d.OrderID,
		&d.InitiatorID,
		&d.ClientArgument,
		&d.TechnicianArgument,
		&d.Status,
		&decision,
		&toClient,
		&toTech,
		&resolverID,
		&resolvedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return Dispute{}, err
	}

	if decision != nil {
		res := Resolution{Decision: Decision(*decision)}
		if toClient != nil {
			v, err := decimal.NewFromString(*toClient)
			if err != nil {
				return Dispute{}, fmt.Errorf("dispute: parse client amount %q: %w", *toClient, err)
			}
			res.AmountToClient = v
		}
		if toTech != nil {
			v, err := decimal.NewFromString(*toTech)
			if err != nil {
				return Dispute{}, fmt.Errorf("dispute: parse technician amount %q: %w", *toTech, err)
			}
			res.AmountToTechnician = v
		}
		if resolverID != nil {
			res.ResolverID = *resolverID
		}
		if resolvedAt != nil {
			res.ResolvedAt = *resolvedAt
		}
		d.Resolution = &res
	}
	return d, nil
}
