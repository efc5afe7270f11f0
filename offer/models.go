package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Offer mirrors the offers table. A technician may have at most one offer in
// pending or accepted state per order, enforced by a partial unique index.
type Offer struct {
	ID           string
	OrderID      string
	TechnicianID string
	Price        decimal.Decimal
	Description  string
	Status       Status
	CreatedAt    time.Time
}

// CreateParams contains write parameters for submitting an offer.
type CreateParams struct {
	OrderID      string
	TechnicianID string
	Price        decimal.Decimal
	Description  string
}
