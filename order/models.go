package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order mirrors the orders table columns touched by the engine.
type Order struct {
	ID              string
	ClientID        string
	ServiceID       string
	Description     string
	Location        string
	ScheduledDate   time.Time
	WindowStart     string // "15:04"
	WindowEnd       string
	Status          Status
	AcceptedOfferID *string
	TechnicianID    *string // accepted technician, set with AcceptedOfferID
	FinalPrice      *decimal.Decimal
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ServiceSpec is the client-supplied description of the requested work.
type ServiceSpec struct {
	ServiceID     string
	Description   string
	Location      string
	ScheduledDate string // "2006-01-02"
	WindowStart   string // "15:04"
	WindowEnd     string
}

// Event is an immutable entry in the per-order history log, appended in the
// same transaction as the write it records.
type Event struct {
	ID        int64
	OrderID   string
	Type      string
	ActorID   *string
	Payload   []byte
	CreatedAt time.Time
}
