package domain

import "time"

const (
	DefaultPendingExpiry  = 24 * time.Hour
	DefaultProgressExpiry = 2 * time.Hour
	DefaultIdleTimeout    = 15 * time.Minute
)

// ExpirationPolicy computes expiry deadlines and idle detection.
type ExpirationPolicy struct {
	PendingTTL    time.Duration
	ProgressTTL   time.Duration
	IdleThreshold time.Duration
}

// DefaultExpirationPolicy returns the documented defaults.
func DefaultExpirationPolicy() ExpirationPolicy {
	return ExpirationPolicy{
		PendingTTL:    DefaultPendingExpiry,
		ProgressTTL:   DefaultProgressExpiry,
		IdleThreshold: DefaultIdleTimeout,
	}
}

// ComputeExpiry returns the deadline for a conversation entering status at
// now. Terminal statuses never expire and yield the zero time.
func (p ExpirationPolicy) ComputeExpiry(status ConversationStatus, now time.Time) time.Time {
	switch status {
	case StatusPending:
		return now.Add(p.PendingTTL)
	case StatusProgress, StatusIdleTimeout:
		return now.Add(p.ProgressTTL)
	default:
		return time.Time{}
	}
}

// ExpiryFor is ComputeExpiry returning nil for "no expiry".
func (p ExpirationPolicy) ExpiryFor(status ConversationStatus, now time.Time) *time.Time {
	t := p.ComputeExpiry(status, now)
	if t.IsZero() {
		return nil
	}
	return &t
}

// IsIdle reports whether the policy's threshold marks c idle at now.
func (p ExpirationPolicy) IsIdle(c Conversation, now time.Time) bool {
	return IsIdle(c, now, p.IdleThreshold)
}

// IsIdle is true only for progress conversations untouched for longer than
// threshold. Pending conversations are governed by expiry instead.
func IsIdle(c Conversation, now time.Time, threshold time.Duration) bool {
	if c.Status != StatusProgress {
		return false
	}
	return c.UpdatedAt.Before(now.Add(-threshold))
}

// IsExpired reports whether an active conversation has passed its deadline.
func IsExpired(c Conversation, now time.Time) bool {
	if !c.Status.IsActive() || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now)
}

// ExtendExpiry pushes a deadline out by minutes, counting from the later of
// the current deadline and now.
func ExtendExpiry(current *time.Time, now time.Time, minutes int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(time.Duration(minutes) * time.Minute)
}
