// Package actors contains the concurrent workload for stress runs. Every
// actor hammers the real services; domain rejections (conflicts, invalid
// states, authorization denials) are the expected noise of contention and
// only infrastructure errors abort the run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"orderflow/apperr"
	"orderflow/auth"
	"orderflow/dispute"
	"orderflow/order"
)

// Market is the shared state actors contend over.
type Market struct {
	Pool         *pgxpool.Pool
	Orders       *order.Service
	Disputes     *dispute.Service
	OrderIDs     []string
	ClientID     string
	ArbitratorID string
}

func (m *Market) randomOrder() string {
	return m.OrderIDs[rand.Intn(len(m.OrderIDs))]
}

// tolerable reports whether the error is an expected domain rejection under
// contention rather than a real failure.
func tolerable(err error) bool {
	if err == nil {
		return true
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindConflict, apperr.KindInvalidState, apperr.KindAuthorization,
			apperr.KindNotFound, apperr.KindValidation:
			return true
		}
	}
	return false
}

func pause() {
	time.Sleep(time.Duration(5+rand.Intn(25)) * time.Millisecond)
}

// Bidder submits offers with random prices on random orders.
func Bidder(ctx context.Context, m *Market, technicianID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		price := decimal.NewFromInt(int64(50 + rand.Intn(200)))
		_, err := m.Orders.SubmitOffer(ctx, m.randomOrder(), technicianID, price, "stress bid")
		if !tolerable(err) {
			return fmt.Errorf("bidder: %w", err)
		}
		pause()
	}
}

// Accepter races to accept a pending offer on a random order. Concurrent
// acceptances must leave exactly one accepted offer.
func Accepter(ctx context.Context, m *Market, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		orderID := m.randomOrder()
		var offerID string
		err := m.Pool.QueryRow(ctx,
			`SELECT id FROM offers WHERE order_id = $1 AND status = 'pending' ORDER BY random() LIMIT 1`,
			orderID).Scan(&offerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				pause()
				continue
			}
			return fmt.Errorf("accepter: pick offer: %w", err)
		}

		if _, err := m.Orders.AcceptOffer(ctx, orderID, offerID, m.ClientID); !tolerable(err) {
			return fmt.Errorf("accepter: %w", err)
		}
		pause()
	}
}

// Funder calls escrow confirmation repeatedly, including replays after
// success, exercising hold idempotency.
func Funder(ctx context.Context, m *Market, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := m.Orders.ConfirmEscrowFunding(ctx, m.randomOrder(), m.ClientID); !tolerable(err) {
			return fmt.Errorf("funder: %w", err)
		}
		pause()
	}
}

// Worker advances accepted orders through the technician's side of the
// lifecycle as whichever technician won the acceptance.
func Worker(ctx context.Context, m *Market, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		orderID := m.randomOrder()
		var technicianID *string
		err := m.Pool.QueryRow(ctx, `SELECT technician_id FROM orders WHERE id = $1`, orderID).Scan(&technicianID)
		if err != nil {
			return fmt.Errorf("worker: read technician: %w", err)
		}
		if technicianID == nil {
			pause()
			continue
		}

		if _, err := m.Orders.StartWork(ctx, orderID, *technicianID); !tolerable(err) {
			return fmt.Errorf("worker: start: %w", err)
		}
		if _, err := m.Orders.MarkAwaitingRelease(ctx, orderID, *technicianID); !tolerable(err) {
			return fmt.Errorf("worker: mark: %w", err)
		}
		pause()
	}
}

// Releaser releases funds on random orders, racing Disputer on orders that
// reach AWAITING_RELEASE.
func Releaser(ctx context.Context, m *Market, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := m.Orders.ReleaseFunds(ctx, m.randomOrder(), m.ClientID); !tolerable(err) {
			return fmt.Errorf("releaser: %w", err)
		}
		pause()
	}
}

// Disputer opens disputes on random orders, racing Releaser for the
// AWAITING_RELEASE window.
func Disputer(ctx context.Context, m *Market, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, _, err := m.Disputes.Initiate(ctx, m.randomOrder(), m.ClientID, "work not finished"); !tolerable(err) {
			return fmt.Errorf("disputer: %w", err)
		}
		pause()
	}
}

// Arbitrator resolves open disputes with random rulings whose amounts always
// sum to the escrow hold.
func Arbitrator(ctx context.Context, m *Market, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var disputeID, orderID string
		err := m.Pool.QueryRow(ctx,
			`SELECT id, order_id FROM disputes WHERE status IN ('OPEN', 'IN_REVIEW') ORDER BY random() LIMIT 1`).
			Scan(&disputeID, &orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				pause()
				continue
			}
			return fmt.Errorf("arbitrator: pick dispute: %w", err)
		}

		var amountText string
		if err := m.Pool.QueryRow(ctx,
			`SELECT amount::text FROM escrow_holds WHERE order_id = $1`, orderID).Scan(&amountText); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				pause()
				continue
			}
			return fmt.Errorf("arbitrator: read hold: %w", err)
		}
		amount, err := decimal.NewFromString(amountText)
		if err != nil {
			return fmt.Errorf("arbitrator: parse hold amount: %w", err)
		}

		decision, toClient, toTechnician := randomRuling(amount)
		_, _, err = m.Disputes.Resolve(ctx, disputeID, m.ArbitratorID, auth.RoleArbitrator,
			decision, toClient, toTechnician)
		if !tolerable(err) {
			return fmt.Errorf("arbitrator: resolve: %w", err)
		}
		pause()
	}
}

func randomRuling(amount decimal.Decimal) (dispute.Decision, decimal.Decimal, decimal.Decimal) {
	switch rand.Intn(3) {
	case 0:
		return dispute.DecisionRefundClient, amount, decimal.Zero
	case 1:
		return dispute.DecisionPayTechnician, decimal.Zero, amount
	default:
		half := amount.Div(decimal.NewFromInt(2)).Round(2)
		return dispute.DecisionSplitPayment, half, amount.Sub(half)
	}
}
