package domain

import (
	"errors"
	"testing"
)

func TestCanTransitionMatchesTable(t *testing.T) {
	want := map[ConversationStatus][]ConversationStatus{
		StatusPending:       {StatusProgress, StatusAgentClosed, StatusSupportClosed, StatusUserClosed, StatusExpired, StatusFailed},
		StatusProgress:      {StatusIdleTimeout, StatusAgentClosed, StatusSupportClosed, StatusUserClosed, StatusExpired, StatusFailed},
		StatusIdleTimeout:   {StatusProgress, StatusAgentClosed, StatusSupportClosed, StatusUserClosed, StatusExpired, StatusFailed},
		StatusAgentClosed:   nil,
		StatusSupportClosed: nil,
		StatusUserClosed:    nil,
		StatusExpired:       nil,
		StatusFailed:        nil,
	}

	for _, from := range AllStatuses() {
		allowed := make(map[ConversationStatus]bool)
		for _, to := range want[from] {
			allowed[to] = true
		}
		for _, to := range AllStatuses() {
			if got := CanTransition(from, to); got != allowed[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestTerminalStatusesHaveNoDestinations(t *testing.T) {
	for _, s := range ClosedStatuses() {
		if got := AllowedTransitions(s); len(got) != 0 {
			t.Errorf("expected no destinations for %s, got %v", s, got)
		}
	}
}

func TestCanTransitionRejectsUnknownStatuses(t *testing.T) {
	if CanTransition("archived", StatusProgress) {
		t.Error("expected unknown source to be rejected")
	}
	if CanTransition(StatusPending, "archived") {
		t.Error("expected unknown destination to be rejected")
	}
}

func TestStatusClassification(t *testing.T) {
	for _, s := range AllStatuses() {
		if s.IsActive() == s.IsClosed() {
			t.Errorf("%s must be exactly one of active or closed", s)
		}
	}
	if len(ActiveStatuses()) != 3 {
		t.Errorf("expected 3 active statuses, got %v", ActiveStatuses())
	}
	if len(ClosedStatuses()) != 5 {
		t.Errorf("expected 5 closed statuses, got %v", ClosedStatuses())
	}
	if ConversationStatus("archived").IsActive() || ConversationStatus("archived").IsClosed() {
		t.Error("unknown status must be neither active nor closed")
	}
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus("  User_Closed ")
	if err != nil || got != StatusUserClosed {
		t.Fatalf("ParseStatus = %q, %v", got, err)
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}
