package review

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from string
		to   string
		want bool
	}{
		{StatusPending, StatusFlagged, true},
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusReviewed, false},
		{StatusPending, StatusApproved, false},
		{StatusFlagged, StatusQueued, true},
		{StatusFlagged, StatusReviewed, true},
		{StatusFlagged, StatusApproved, false},
		{StatusQueued, StatusReviewed, true},
		{StatusQueued, StatusApproved, false},
		{StatusReviewed, StatusApproved, true},
		{StatusReviewed, StatusCorrected, true},
		{StatusReviewed, StatusQueued, false},
		{StatusCorrected, StatusQueued, true},
		{StatusCorrected, StatusApproved, false},
		{StatusApproved, StatusQueued, false},
		{StatusApproved, StatusReviewed, false},
		{"BOGUS", StatusQueued, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsStatus(t *testing.T) {
	for _, s := range []string{StatusPending, StatusFlagged, StatusQueued, StatusReviewed, StatusApproved, StatusCorrected} {
		if !IsStatus(s) {
			t.Errorf("IsStatus(%s) = false, want true", s)
		}
	}
	if IsStatus("pending") {
		t.Error("IsStatus(pending) = true, want false (statuses are uppercase)")
	}
	if IsStatus("") {
		t.Error("IsStatus(\"\") = true, want false")
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(StatusApproved) {
		t.Error("Terminal(APPROVED) = false, want true")
	}
	for _, s := range []string{StatusPending, StatusFlagged, StatusQueued, StatusReviewed, StatusCorrected} {
		if Terminal(s) {
			t.Errorf("Terminal(%s) = true, want false", s)
		}
	}
	if Terminal("BOGUS") {
		t.Error("Terminal(BOGUS) = true, want false")
	}
}
