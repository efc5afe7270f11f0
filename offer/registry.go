// Package offer tracks competing technician bids against an open order.
// Status-changing writes run inside the order state machine's transaction;
// the registry never transitions orders itself.
package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/db"
)

// ErrNotFound signals the offer does not exist.
var ErrNotFound = errors.New("offer: not found")

// Registry is the data access layer for offers.
type Registry struct {
	pool *pgxpool.Pool
}

func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

const offerColumns = `id, order_id, technician_id, price::text, description, status, created_at`

// CreateTx inserts a pending offer inside the caller's transaction. The
// caller must hold the order row lock and have verified the order accepts
// offers.
func (r *Registry) CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Offer, error) {
	if params.TechnicianID == "" {
		return Offer{}, apperr.Validation("technician_id", "technician id is required")
	}
	if !params.Price.IsPositive() {
		return Offer{}, apperr.Validation("price", "offer price must be positive")
	}

	const insertSQL = `
		INSERT INTO offers (order_id, technician_id, price, description, status)
		VALUES ($1, $2, $3::numeric, $4, 'pending')
		RETURNING ` + offerColumns

	ofr, err := scanOffer(tx.QueryRow(ctx, insertSQL, params.OrderID, params.TechnicianID, params.Price.String(), params.Description))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Offer{}, apperr.Conflict("technician already has an active offer on this order")
		}
		return Offer{}, fmt.Errorf("offer: create: %w", err)
	}
	return ofr, nil
}

// AcceptTx marks the named offer accepted and rejects every pending sibling
// in the same transaction. Invoked only by the order state machine during
// acceptance; never callable through the API directly.
func (r *Registry) AcceptTx(ctx context.Context, tx pgx.Tx, orderID, offerID string) (Offer, error) {
	const acceptSQL = `
		UPDATE offers
		SET status = 'accepted'
		WHERE id = $1 AND order_id = $2 AND status = 'pending'
		RETURNING ` + offerColumns

	accepted, err := scanOffer(tx.QueryRow(ctx, acceptSQL, offerID, orderID))
	if err == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE offers
			SET status = 'rejected'
			WHERE order_id = $1 AND id <> $2 AND status = 'pending'
		`, orderID, offerID); err != nil {
			return Offer{}, fmt.Errorf("offer: reject siblings: %w", err)
		}
		return accepted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, fmt.Errorf("offer: accept: %w", err)
	}

	// Conditional update matched nothing: distinguish a missing offer from
	// one that already left the pending state.
	var status Status
	checkErr := tx.QueryRow(ctx, `SELECT status FROM offers WHERE id = $1 AND order_id = $2`, offerID, orderID).Scan(&status)
	if checkErr != nil {
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: accept check: %w", checkErr)
	}
	return Offer{}, apperr.Conflict(fmt.Sprintf("offer is %s and can no longer be accepted", status))
}

// List returns every offer for the order, oldest submission first.
func (r *Registry) List(ctx context.Context, orderID string) ([]Offer, error) {
	return r.list(ctx, r.pool, `WHERE order_id = $1`, orderID)
}

// ListByTechnician returns the technician's own offers for the order,
// oldest first.
func (r *Registry) ListByTechnician(ctx context.Context, orderID, technicianID string) ([]Offer, error) {
	return r.list(ctx, r.pool, `WHERE order_id = $1 AND technician_id = $2`, orderID, technicianID)
}

// GetByID returns a single offer.
func (r *Registry) GetByID(ctx context.Context, offerID string) (Offer, error) {
	const q = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	ofr, err := scanOffer(r.pool.QueryRow(ctx, q, offerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get: %w", err)
	}
	return ofr, nil
}

func (r *Registry) list(ctx context.Context, q db.Querier, where string, args ...any) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers ` + where + ` ORDER BY created_at ASC`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("offer: list: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		ofr, err := scanOfferRows(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		out = append(out, ofr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return out, nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	return scanOfferFrom(row.Scan)
}

func scanOfferRows(rows pgx.Rows) (Offer, error) {
	return scanOfferFrom(rows.Scan)
}

func scanOfferFrom(scan func(dest ...any) error) (Offer, error) {
	var (
		ofr   Offer
		price string
	)
	if err := scan(&ofr.ID, &ofr.OrderID, &ofr.TechnicianID, &price, &ofr.Description, &ofr.Status, &ofr.CreatedAt); err != nil {
		return Offer{}, err
	}

	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: parse price %q: %w", price, err)
	}
	ofr.Price = parsed
	return ofr, nil
}
