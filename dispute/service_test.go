package dispute

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderflow/apperr"
	"orderflow/auth"
)

func TestValidateDecision(t *testing.T) {
	cases := []struct {
		name         string
		decision     Decision
		toClient     string
		toTechnician string
		wantErr      bool
	}{
		{"refund with zero payout", DecisionRefundClient, "150", "0", false},
		{"refund paying technician", DecisionRefundClient, "100", "50", true},
		{"payout with zero refund", DecisionPayTechnician, "0", "150", false},
		{"payout refunding client", DecisionPayTechnician, "50", "100", true},
		{"even split", DecisionSplitPayment, "75", "75", false},
		{"uneven split", DecisionSplitPayment, "100.50", "49.50", false},
		{"negative split", DecisionSplitPayment, "-10", "160", true},
		{"unknown decision", Decision("COIN_FLIP"), "75", "75", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateDecision(tc.decision,
				decimal.RequireFromString(tc.toClient),
				decimal.RequireFromString(tc.toTechnician))
			if tc.wantErr && !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestResolve_ArbitratorOnly(t *testing.T) {
	svc := NewService(nil, nil, zap.NewNop())

	_, _, err := svc.Resolve(context.Background(), "dispute-1", "client-1", auth.RoleClient,
		DecisionSplitPayment, decimal.NewFromInt(75), decimal.NewFromInt(75))
	if !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestInitiate_RequiresArgument(t *testing.T) {
	svc := NewService(nil, nil, zap.NewNop())

	_, _, err := svc.Initiate(context.Background(), "order-1", "client-1", "   ")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRespond_RequiresMessage(t *testing.T) {
	svc := NewService(nil, nil, zap.NewNop())

	_, err := svc.Respond(context.Background(), "dispute-1", "client-1", auth.RoleClient, "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAnyArg(t *testing.T) {
	clientArg, techArg := anyArg("sloppy work", true)
	if clientArg != "sloppy work" || techArg != nil {
		t.Fatalf("expected client argument set, got %v / %v", clientArg, techArg)
	}

	clientArg, techArg = anyArg("client never paid attention", false)
	if clientArg != nil || techArg != "client never paid attention" {
		t.Fatalf("expected technician argument set, got %v / %v", clientArg, techArg)
	}
}
