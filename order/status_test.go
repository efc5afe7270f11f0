package order

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	path := []Status{
		StatusOpen, StatusPending, StatusAwaitingEscrow, StatusAccepted,
		StatusInProgress, StatusAwaitingRelease, StatusCompleted,
	}

	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_Branches(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusCancelled, true},
		{StatusPending, StatusCancelled, true},
		{StatusAwaitingEscrow, StatusCancelled, false},
		{StatusAccepted, StatusCancelled, false},
		{StatusAwaitingRelease, StatusDisputed, true},
		{StatusDisputed, StatusCompleted, true},
		{StatusDisputed, StatusRefunded, true},
		{StatusDisputed, StatusSettled, true},
		{StatusDisputed, StatusAwaitingRelease, true},
		{StatusDisputed, StatusCancelled, false},
		{StatusCompleted, StatusDisputed, false},
		{StatusOpen, StatusAccepted, false},
		{StatusInProgress, StatusCompleted, false},
		{StatusRefunded, StatusOpen, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusRefunded, StatusSettled}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []Status{
		StatusOpen, StatusPending, StatusAwaitingEscrow, StatusAccepted,
		StatusInProgress, StatusAwaitingRelease, StatusDisputed,
	}
	for _, s := range active {
		if IsTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid(StatusDisputed) {
		t.Error("expected DISPUTED to be a known status")
	}
	if IsValid(Status("PAUSED")) {
		t.Error("expected PAUSED to be unknown")
	}
}
