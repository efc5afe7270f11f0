// Package review records client ratings of completed orders and keeps each
// technician's average rating up to date.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"orderflow/apperr"
	"orderflow/db"
	"orderflow/order"
	"orderflow/outbox"
)

// Review is a client's rating of the technician on one completed order.
type Review struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	ClientID     string    `json:"client_id"`
	TechnicianID string    `json:"technician_id"`
	Rating       int       `json:"rating"`
	Comment      *string   `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Pool is the database handle required by the service.
type Pool interface {
	db.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	pool Pool
	log  *zap.Logger
}

func NewService(pool Pool, log *zap.Logger) *Service {
	return &Service{pool: pool, log: log}
}

const reviewColumns = `id, order_id, client_id, technician_id, rating, comment, created_at`

// Create records a review for a completed order. Only the order's client may
// review, ratings run 1 through 5, and each order takes exactly one review.
// The technician's stored average rating is recalculated in the same
// transaction.
func (s *Service) Create(ctx context.Context, orderID, clientID string, rating int, comment string) (Review, error) {
	if rating < 1 || rating > 5 {
		return Review{}, apperr.Validation("rating", "rating must be between 1 and 5")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Review{}, fmt.Errorf("review: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := order.LockTx(ctx, tx, orderID)
	if err != nil {
		return Review{}, err
	}
	if ord.ClientID != clientID {
		return Review{}, apperr.Authorization("only the order's client can leave a review")
	}
	if ord.Status != order.StatusCompleted {
		return Review{}, apperr.InvalidState(string(ord.Status), "only completed orders can be reviewed")
	}
	if ord.TechnicianID == nil {
		return Review{}, apperr.Internal("completed order has no technician", nil)
	}

	var commentArg any
	if c := strings.TrimSpace(comment); c != "" {
		commentArg = c
	}

	const insertSQL = `
		INSERT INTO reviews (order_id, client_id, technician_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + reviewColumns

	rev, err := scanReview(tx.QueryRow(ctx, insertSQL, orderID, clientID, *ord.TechnicianID, rating, commentArg))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Review{}, apperr.Conflict("order has already been reviewed")
		}
		return Review{}, fmt.Errorf("review: insert: %w", err)
	}

	const ratingSQL = `
		UPDATE users
		SET rating = (SELECT avg(rating)::float8 FROM reviews WHERE technician_id = $1)
		WHERE id = $1`
	if _, err := tx.Exec(ctx, ratingSQL, *ord.TechnicianID); err != nil {
		return Review{}, fmt.Errorf("review: update technician rating: %w", err)
	}

	if err := outbox.EnqueueTx(ctx, tx, "review.created", map[string]any{
		"review_id":     rev.ID,
		"order_id":      orderID,
		"technician_id": *ord.TechnicianID,
		"rating":        rating,
	}); err != nil {
		return Review{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Review{}, fmt.Errorf("review: commit: %w", err)
	}

	s.log.Info("review created",
		zap.String("review_id", rev.ID),
		zap.String("order_id", orderID),
		zap.Int("rating", rating))
	return rev, nil
}

// ListByTechnician returns a technician's reviews, newest first.
func (s *Service) ListByTechnician(ctx context.Context, technicianID string) ([]Review, error) {
	const listSQL = `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE technician_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, listSQL, technicianID)
	if err != nil {
		return nil, fmt.Errorf("review: list by technician: %w", err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("review: list by technician: %w", err)
	}
	return reviews, nil
}

func scanReview(row pgx.Row) (Review, error) {
	var rev Review
	err := row.Scan(&rev.ID, &rev.OrderID, &rev.ClientID, &rev.TechnicianID, &rev.Rating, &rev.Comment, &rev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Review{}, apperr.NotFound("review not found")
		}
		return Review{}, fmt.Errorf("review: scan: %w", err)
	}
	return rev, nil
}
