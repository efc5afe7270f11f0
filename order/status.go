package order

// Status enumerates the order lifecycle. The transition table below is the
// single source of truth: nothing mutates orders.status except through it.
type Status string

const (
	StatusOpen                Status = "OPEN"
	StatusPending             Status = "PENDING"
	StatusAwaitingEscrow      Status = "AWAITING_CLIENT_ESCROW_CONFIRMATION"
	StatusAccepted            Status = "ACCEPTED"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusAwaitingRelease     Status = "AWAITING_RELEASE"
	StatusCompleted           Status = "COMPLETED"
	StatusDisputed            Status = "DISPUTED"
	StatusCancelled           Status = "CANCELLED"
	StatusRefunded            Status = "REFUNDED"
	StatusSettled             Status = "SETTLED"
)

// transitions lists every legal status edge. DISPUTED -> AWAITING_RELEASE
// covers dispute withdrawal, which puts the order back on the release path.
var transitions = map[Status][]Status{
	StatusOpen:            {StatusPending, StatusAwaitingEscrow, StatusCancelled},
	StatusPending:         {StatusAwaitingEscrow, StatusCancelled},
	StatusAwaitingEscrow:  {StatusAccepted},
	StatusAccepted:        {StatusInProgress},
	StatusInProgress:      {StatusAwaitingRelease},
	StatusAwaitingRelease: {StatusCompleted, StatusDisputed},
	StatusDisputed:        {StatusCompleted, StatusRefunded, StatusSettled, StatusAwaitingRelease},
	StatusCompleted:       nil,
	StatusCancelled:       nil,
	StatusRefunded:        nil,
	StatusSettled:         nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// IsValid reports whether s is a known status.
func IsValid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

func statusIn(s Status, set ...Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
