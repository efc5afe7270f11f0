package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/apperr"
	"orderflow/auth"
	"orderflow/dispute"
	"orderflow/escrow"
	"orderflow/offer"
	"orderflow/order"
	"orderflow/review"
	"orderflow/test/infra"
)

type env struct {
	pool     *pgxpool.Pool
	provider *infra.FakeProvider
	ledger   *escrow.Ledger
	orders   *order.Service
	disputes *dispute.Service
	reviews  *review.Service

	clientID     string
	technicianID string
	arbitratorID string
}

func newEnv(t *testing.T, ctx context.Context) *env {
	t.Helper()

	if !dockerAvailable(ctx) && os.Getenv("ORDERFLOW_TEST_PG_DSN") == "" {
		t.Skip("docker unavailable and no DSN provided")
	}

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() { pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, os.Getenv("ORDERFLOW_TEST_PG_DSN") != "")
	require.NoError(t, err, "apply migrations")
	t.Cleanup(pool.Close)
	t.Cleanup(func() { teardown(context.Background()) })

	provider := infra.NewFakeProvider()
	t.Cleanup(provider.Close)

	ledger := escrow.NewLedger(escrow.NewHTTPProvider(provider.URL(), 5*time.Second))
	orders := order.NewService(pool, offer.NewRegistry(pool), ledger, zap.NewNop())

	e := &env{
		pool:     pool,
		provider: provider,
		ledger:   ledger,
		orders:   orders,
		disputes: dispute.NewService(pool, ledger, zap.NewNop()),
		reviews:  review.NewService(pool, zap.NewNop()),
	}
	e.clientID = seedUser(t, ctx, pool, "client@example.com", "client")
	e.technicianID = seedUser(t, ctx, pool, "tech@example.com", "technician")
	e.arbitratorID = seedUser(t, ctx, pool, "arbitrator@example.com", "arbitrator")
	return e
}

// createFundedOrder drives an order to ACCEPTED with a hold in place.
func (e *env) createFundedOrder(t *testing.T, ctx context.Context, price int64) order.Order {
	t.Helper()

	ord, err := e.orders.Create(ctx, e.clientID, order.ServiceSpec{
		ServiceID:     "plumbing",
		Description:   "leaking kitchen sink",
		Location:      "12 Oak Street",
		ScheduledDate: "2026-09-15",
		WindowStart:   "09:00",
		WindowEnd:     "12:00",
	})
	require.NoError(t, err)
	require.Equal(t, order.StatusOpen, ord.Status)

	ofr, err := e.orders.SubmitOffer(ctx, ord.ID, e.technicianID, decimal.NewFromInt(price), "with parts")
	require.NoError(t, err)

	ord, err = e.orders.AcceptOffer(ctx, ord.ID, ofr.ID, e.clientID)
	require.NoError(t, err)
	require.Equal(t, order.StatusAwaitingEscrow, ord.Status)

	ord, err = e.orders.ConfirmEscrowFunding(ctx, ord.ID, e.clientID)
	require.NoError(t, err)
	require.Equal(t, order.StatusAccepted, ord.Status)
	require.True(t, e.provider.Applied("escrow-hold:"+ord.ID))
	return ord
}

func (e *env) toAwaitingRelease(t *testing.T, ctx context.Context, orderID string) {
	t.Helper()
	_, err := e.orders.StartWork(ctx, orderID, e.technicianID)
	require.NoError(t, err)
	_, err = e.orders.MarkAwaitingRelease(ctx, orderID, e.technicianID)
	require.NoError(t, err)
}

func TestLifecycle_HappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := newEnv(t, ctx)

	ord := e.createFundedOrder(t, ctx, 150)
	e.toAwaitingRelease(t, ctx, ord.ID)

	done, err := e.orders.ReleaseFunds(ctx, ord.ID, e.clientID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, done.Status)
	require.True(t, e.provider.Applied("escrow-release:"+ord.ID))

	hold, err := e.ledger.Get(ctx, e.pool, ord.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StateReleased, hold.State)

	// release replays return the completed order without a second movement
	again, err := e.orders.ReleaseFunds(ctx, ord.ID, e.clientID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, again.Status)
	require.Empty(t, e.provider.DoubleSettledOrders())

	rev, err := e.reviews.Create(ctx, ord.ID, e.clientID, 5, "fast and tidy")
	require.NoError(t, err)
	require.Equal(t, 5, rev.Rating)

	// one review per order
	_, err = e.reviews.Create(ctx, ord.ID, e.clientID, 4, "second thoughts")
	require.True(t, apperr.Is(err, apperr.KindConflict), "expected conflict, got %v", err)

	events, err := e.orders.GetHistory(ctx, ord.ID, e.clientID, auth.RoleClient)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, "ORDER_CREATED")
	require.Contains(t, types, "OFFER_SUBMITTED")
	require.Contains(t, types, "ORDER_STATUS_CHANGED")
}

func TestLifecycle_DisputeSplit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := newEnv(t, ctx)

	ord := e.createFundedOrder(t, ctx, 150)
	e.toAwaitingRelease(t, ctx, ord.ID)

	d, disputed, err := e.disputes.Initiate(ctx, ord.ID, e.clientID, "only half the job was done")
	require.NoError(t, err)
	require.Equal(t, order.StatusDisputed, disputed.Status)
	require.Equal(t, dispute.StatusOpen, d.Status)

	// release is blocked while disputed
	_, err = e.orders.ReleaseFunds(ctx, ord.ID, e.clientID)
	require.True(t, apperr.Is(err, apperr.KindInvalidState), "expected invalid state, got %v", err)

	// arbitrator's first response moves the dispute into review
	d, err = e.disputes.Respond(ctx, d.ID, e.arbitratorID, auth.RoleArbitrator, "reviewing the evidence")
	require.NoError(t, err)
	require.Equal(t, dispute.StatusInReview, d.Status)

	// amounts must sum to the hold
	_, _, err = e.disputes.Resolve(ctx, d.ID, e.arbitratorID, auth.RoleArbitrator,
		dispute.DecisionSplitPayment, decimal.NewFromInt(100), decimal.NewFromInt(100))
	require.True(t, apperr.Is(err, apperr.KindValidation), "expected validation, got %v", err)

	d, settled, err := e.disputes.Resolve(ctx, d.ID, e.arbitratorID, auth.RoleArbitrator,
		dispute.DecisionSplitPayment, decimal.NewFromInt(90), decimal.NewFromInt(60))
	require.NoError(t, err)
	require.Equal(t, order.StatusSettled, settled.Status)
	require.Equal(t, dispute.StatusResolved, d.Status)
	require.NotNil(t, d.Resolution)
	require.True(t, d.Resolution.AmountToClient.Equal(decimal.NewFromInt(90)))
	require.True(t, e.provider.Applied("escrow-split:"+ord.ID))

	hold, err := e.ledger.Get(ctx, e.pool, ord.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StateSplit, hold.State)
	require.NotNil(t, hold.AmountToClient)
	require.True(t, hold.AmountToClient.Add(*hold.AmountToTechnician).Equal(hold.Amount))

	// a second ruling is rejected
	_, _, err = e.disputes.Resolve(ctx, d.ID, e.arbitratorID, auth.RoleArbitrator,
		dispute.DecisionRefundClient, decimal.NewFromInt(150), decimal.Zero)
	require.True(t, apperr.Is(err, apperr.KindConflict), "expected conflict, got %v", err)

	// archive
	d, err = e.disputes.Close(ctx, d.ID, e.arbitratorID, auth.RoleArbitrator)
	require.NoError(t, err)
	require.Equal(t, dispute.StatusClosed, d.Status)
}

func TestLifecycle_DisputeWithdrawal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := newEnv(t, ctx)

	ord := e.createFundedOrder(t, ctx, 120)
	e.toAwaitingRelease(t, ctx, ord.ID)

	d, _, err := e.disputes.Initiate(ctx, ord.ID, e.technicianID, "client refuses to release")
	require.NoError(t, err)

	// only the initiator may withdraw
	_, err = e.disputes.Close(ctx, d.ID, e.clientID, auth.RoleClient)
	require.True(t, apperr.Is(err, apperr.KindAuthorization), "expected authorization, got %v", err)

	d, err = e.disputes.Close(ctx, d.ID, e.technicianID, auth.RoleTechnician)
	require.NoError(t, err)
	require.Equal(t, dispute.StatusClosed, d.Status)

	// order is back on the release path
	done, err := e.orders.ReleaseFunds(ctx, ord.ID, e.clientID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, done.Status)
}

func TestLifecycle_InsufficientFunds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := newEnv(t, ctx)

	ord, err := e.orders.Create(ctx, e.clientID, order.ServiceSpec{
		ServiceID:     "electrical",
		Location:      "3 Birch Lane",
		ScheduledDate: "2026-10-01",
		WindowStart:   "10:00",
		WindowEnd:     "13:00",
	})
	require.NoError(t, err)

	ofr, err := e.orders.SubmitOffer(ctx, ord.ID, e.technicianID, decimal.NewFromInt(300), "")
	require.NoError(t, err)
	_, err = e.orders.AcceptOffer(ctx, ord.ID, ofr.ID, e.clientID)
	require.NoError(t, err)

	e.provider.FailHolds = true
	_, err = e.orders.ConfirmEscrowFunding(ctx, ord.ID, e.clientID)
	require.True(t, apperr.Is(err, apperr.KindPayment), "expected payment error, got %v", err)

	// order stays retryable, and the retry succeeds once funds clear
	got, err := e.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusAwaitingEscrow, got.Status)

	e.provider.FailHolds = false
	got, err = e.orders.ConfirmEscrowFunding(ctx, ord.ID, e.clientID)
	require.NoError(t, err)
	require.Equal(t, order.StatusAccepted, got.Status)
}

func TestLifecycle_CancellationWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := newEnv(t, ctx)

	ord, err := e.orders.Create(ctx, e.clientID, order.ServiceSpec{
		ServiceID:     "cleaning",
		Location:      "7 Elm Court",
		ScheduledDate: "2026-09-20",
		WindowStart:   "08:00",
		WindowEnd:     "11:00",
	})
	require.NoError(t, err)

	cancelled, err := e.orders.Cancel(ctx, ord.ID, e.clientID, "found another provider")
	require.NoError(t, err)
	require.Equal(t, order.StatusCancelled, cancelled.Status)

	// offers are rejected on a cancelled order
	_, err = e.orders.SubmitOffer(ctx, ord.ID, e.technicianID, decimal.NewFromInt(80), "")
	require.True(t, apperr.Is(err, apperr.KindInvalidState), "expected invalid state, got %v", err)
}
