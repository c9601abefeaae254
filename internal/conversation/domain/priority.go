package domain

import (
	"fmt"
	"strings"
)

// Reasons attached to a Decision.
const (
	ReasonTransitionAllowed = "transition_allowed"
	ReasonPriorityOverride  = "priority_override"
	ReasonSameStatus        = "already_in_status"
	ReasonLowerAuthority    = "insufficient_authority"
	ReasonTerminalNoReopen  = "terminal_cannot_reopen"
	ReasonInvalidTransition = "invalid_transition"
	ReasonUnknownStatus     = "unknown_status"
)

// defaultRanks orders closers by authority. Lower wins.
var defaultRanks = map[ConversationStatus]int{
	StatusFailed:        1,
	StatusUserClosed:    2,
	StatusAgentClosed:   3,
	StatusSupportClosed: 3,
	StatusIdleTimeout:   4,
	StatusExpired:       5,
}

// PriorityPolicy resolves competing close requests using authority ranks.
type PriorityPolicy struct {
	ranks map[ConversationStatus]int
}

// Decision is the outcome of PriorityPolicy.Resolve.
type Decision struct {
	Apply    bool
	Override bool
	Reason   string
}

// DefaultPriorityPolicy returns the built-in rank table.
func DefaultPriorityPolicy() PriorityPolicy {
	ranks := make(map[ConversationStatus]int, len(defaultRanks))
	for s, r := range defaultRanks {
		ranks[s] = r
	}
	return PriorityPolicy{ranks: ranks}
}

// NewPriorityPolicy layers overrides on top of the default table. Keys must
// be rankable statuses and ranks must be positive. The resulting table must
// keep failed and user_closed strictly ahead of expired.
func NewPriorityPolicy(overrides map[string]int) (PriorityPolicy, error) {
	policy := DefaultPriorityPolicy()
	for raw, rank := range overrides {
		status, err := ParseStatus(raw)
		if err != nil {
			return PriorityPolicy{}, err
		}
		if _, rankable := defaultRanks[status]; !rankable {
			return PriorityPolicy{}, fmt.Errorf("status %q has no closure rank", status)
		}
		if rank < 1 {
			return PriorityPolicy{}, fmt.Errorf("rank for %q must be positive, got %d", status, rank)
		}
		policy.ranks[status] = rank
	}

	var violations []string
	if policy.ranks[StatusFailed] >= policy.ranks[StatusExpired] {
		violations = append(violations, "failed must outrank expired")
	}
	if policy.ranks[StatusUserClosed] >= policy.ranks[StatusExpired] {
		violations = append(violations, "user_closed must outrank expired")
	}
	if len(violations) > 0 {
		return PriorityPolicy{}, fmt.Errorf("invalid closure priority ranks: %s", strings.Join(violations, "; "))
	}
	return policy, nil
}

// Rank returns the authority rank of s and whether s is ranked at all.
func (p PriorityPolicy) Rank(s ConversationStatus) (int, bool) {
	r, ok := p.ranks[s]
	return r, ok
}

// Resolve decides whether a request to move current -> requested applies.
//
// Active conversations follow the state machine. Terminal conversations only
// move to a terminal status with a strictly lower rank, and never reopen.
func (p PriorityPolicy) Resolve(current, requested ConversationStatus) Decision {
	if !requested.IsValid() || !current.IsValid() {
		return Decision{Reason: ReasonUnknownStatus}
	}
	if current == requested {
		return Decision{Reason: ReasonSameStatus}
	}
	if current.IsActive() {
		if CanTransition(current, requested) {
			return Decision{Apply: true, Reason: ReasonTransitionAllowed}
		}
		return Decision{Reason: ReasonInvalidTransition}
	}
	if !requested.IsClosed() {
		return Decision{Reason: ReasonTerminalNoReopen}
	}

	currentRank, currentOK := p.Rank(current)
	requestedRank, requestedOK := p.Rank(requested)
	if currentOK && requestedOK && requestedRank < currentRank {
		return Decision{Apply: true, Override: true, Reason: ReasonPriorityOverride}
	}
	return Decision{Reason: ReasonLowerAuthority}
}
