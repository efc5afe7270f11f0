package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle of the funds held against an order. There is no
// stored "none" state: absence of a row means no hold was ever placed.
// released, split and refunded are terminal and sticky.
type State string

const (
	StateHeld     State = "held"
	StateReleased State = "released"
	StateSplit    State = "split"
	StateRefunded State = "refunded"
)

// Hold mirrors the escrow_holds table.
type Hold struct {
	OrderID            string
	Amount             decimal.Decimal
	State              State
	AmountToClient     *decimal.Decimal
	AmountToTechnician *decimal.Decimal
	HeldAt             time.Time
	ReleasedAt         *time.Time
	SplitAt            *time.Time
	RefundedAt         *time.Time
}
