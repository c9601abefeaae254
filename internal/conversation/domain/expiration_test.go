package domain

import (
	"testing"
	"time"
)

func TestComputeExpiryPendingOutlastsProgress(t *testing.T) {
	policy := DefaultExpirationPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := policy.ComputeExpiry(StatusPending, now)
	progress := policy.ComputeExpiry(StatusProgress, now)
	if !pending.After(progress) {
		t.Fatalf("expected pending expiry %v after progress expiry %v", pending, progress)
	}
	if !progress.After(now) {
		t.Fatalf("expected progress expiry in the future, got %v", progress)
	}
}

func TestComputeExpiryTerminalIsZero(t *testing.T) {
	policy := DefaultExpirationPolicy()
	now := time.Now()
	for _, s := range ClosedStatuses() {
		if got := policy.ComputeExpiry(s, now); !got.IsZero() {
			t.Errorf("expected zero expiry for %s, got %v", s, got)
		}
		if policy.ExpiryFor(s, now) != nil {
			t.Errorf("expected nil expiry pointer for %s", s)
		}
	}
}

func TestIsIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-5 * time.Minute)

	tests := []struct {
		name    string
		status  ConversationStatus
		updated time.Time
		want    bool
	}{
		{"stale progress", StatusProgress, stale, true},
		{"fresh progress", StatusProgress, fresh, false},
		{"stale pending", StatusPending, stale, false},
		{"stale idle", StatusIdleTimeout, stale, false},
		{"stale closed", StatusUserClosed, stale, false},
	}
	for _, tc := range tests {
		c := Conversation{Status: tc.status, UpdatedAt: tc.updated}
		if got := IsIdle(c, now, 15*time.Minute); got != tc.want {
			t.Errorf("%s: IsIdle = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if !IsExpired(Conversation{Status: StatusPending, ExpiresAt: &past}, now) {
		t.Error("expected pending past deadline to be expired")
	}
	if IsExpired(Conversation{Status: StatusProgress, ExpiresAt: &future}, now) {
		t.Error("expected future deadline to be live")
	}
	if IsExpired(Conversation{Status: StatusAgentClosed, ExpiresAt: &past}, now) {
		t.Error("closed conversations never expire")
	}
	if IsExpired(Conversation{Status: StatusProgress}, now) {
		t.Error("missing deadline never expires")
	}
}

func TestExtendExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(30 * time.Minute)
	earlier := now.Add(-30 * time.Minute)

	if got := ExtendExpiry(&later, now, 60); !got.Equal(later.Add(time.Hour)) {
		t.Errorf("expected extension from current deadline, got %v", got)
	}
	if got := ExtendExpiry(&earlier, now, 60); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("expected extension from now for lapsed deadline, got %v", got)
	}
	if got := ExtendExpiry(nil, now, 10); !got.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("expected extension from now without deadline, got %v", got)
	}
}
