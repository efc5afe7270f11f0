package dispute

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusInReview Status = "IN_REVIEW"
	StatusResolved Status = "RESOLVED"
	StatusClosed   Status = "CLOSED"
)

// Decision is the arbitrator's ruling over the escrowed funds.
type Decision string

const (
	DecisionRefundClient  Decision = "REFUND_CLIENT"
	DecisionPayTechnician Decision = "PAY_TECHNICIAN"
	DecisionSplitPayment  Decision = "SPLIT_PAYMENT"
)

// Response is one message in a dispute's ordered exchange. Timestamps are
// assigned server-side at insert.
type Response struct {
	ID        int64
	DisputeID string
	SenderID  string
	Message   string
	CreatedAt time.Time
}

// Resolution captures the arbitrator's ruling. The two amounts always sum
// to the escrow hold amount for the dispute's order.
type Resolution struct {
	Decision           Decision
	AmountToClient     decimal.Decimal
	AmountToTechnician decimal.Decimal
	ResolverID         string
	ResolvedAt         time.Time
}

// Dispute mirrors the disputes table. One dispute per order, enforced by a
// unique index.
type Dispute struct {
	ID                 string
	OrderID            string
	InitiatorID        string
	ClientArgument     *string
	TechnicianArgument *string
	Status             Status
	Responses          []Response
	Resolution         *Resolution
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
