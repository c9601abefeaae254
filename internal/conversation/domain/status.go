// Package domain holds the pure rules of the conversation lifecycle: the
// status state machine, closure priority, session keys, expiry and closure
// intent scoring. Nothing here performs I/O.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusPending       ConversationStatus = "pending"
	StatusProgress      ConversationStatus = "progress"
	StatusIdleTimeout   ConversationStatus = "idle_timeout"
	StatusAgentClosed   ConversationStatus = "agent_closed"
	StatusSupportClosed ConversationStatus = "support_closed"
	StatusUserClosed    ConversationStatus = "user_closed"
	StatusExpired       ConversationStatus = "expired"
	StatusFailed        ConversationStatus = "failed"
)

// ErrUnknownStatus is returned by ParseStatus for values outside the enum.
var ErrUnknownStatus = errors.New("unknown conversation status")

type statusClass int

const (
	classActive statusClass = iota + 1
	classClosed
)

// allStatuses is the canonical ordering used for listings and tests.
var allStatuses = []ConversationStatus{
	StatusPending,
	StatusProgress,
	StatusIdleTimeout,
	StatusAgentClosed,
	StatusSupportClosed,
	StatusUserClosed,
	StatusExpired,
	StatusFailed,
}

var statusClasses = map[ConversationStatus]statusClass{
	StatusPending:       classActive,
	StatusProgress:      classActive,
	StatusIdleTimeout:   classActive,
	StatusAgentClosed:   classClosed,
	StatusSupportClosed: classClosed,
	StatusUserClosed:    classClosed,
	StatusExpired:       classClosed,
	StatusFailed:        classClosed,
}

func closers() map[ConversationStatus]struct{} {
	return map[ConversationStatus]struct{}{
		StatusAgentClosed:   {},
		StatusSupportClosed: {},
		StatusUserClosed:    {},
		StatusExpired:       {},
		StatusFailed:        {},
	}
}

func with(set map[ConversationStatus]struct{}, extra ConversationStatus) map[ConversationStatus]struct{} {
	set[extra] = struct{}{}
	return set
}

// allowedTransitions maps each status to its permitted destinations.
// Terminal statuses map to the empty set; overriding a terminal status goes
// through PriorityPolicy.Resolve instead.
var allowedTransitions = map[ConversationStatus]map[ConversationStatus]struct{}{
	StatusPending:       with(closers(), StatusProgress),
	StatusProgress:      with(closers(), StatusIdleTimeout),
	StatusIdleTimeout:   with(closers(), StatusProgress),
	StatusAgentClosed:   {},
	StatusSupportClosed: {},
	StatusUserClosed:    {},
	StatusExpired:       {},
	StatusFailed:        {},
}

// ParseStatus converts raw input into a ConversationStatus.
func ParseStatus(raw string) (ConversationStatus, error) {
	s := ConversationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

func (s ConversationStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known statuses.
func (s ConversationStatus) IsValid() bool {
	_, ok := statusClasses[s]
	return ok
}

// IsActive reports whether s belongs to the active set.
func (s ConversationStatus) IsActive() bool {
	return statusClasses[s] == classActive
}

// IsClosed reports whether s is terminal.
func (s ConversationStatus) IsClosed() bool {
	return statusClasses[s] == classClosed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ConversationStatus) bool {
	dests, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = dests[to]
	return ok
}

// AllowedTransitions lists the destinations reachable from s in canonical order.
func AllowedTransitions(s ConversationStatus) []ConversationStatus {
	out := make([]ConversationStatus, 0, len(allowedTransitions[s]))
	for _, candidate := range allStatuses {
		if CanTransition(s, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// AllStatuses returns every status in canonical order.
func AllStatuses() []ConversationStatus {
	return append([]ConversationStatus(nil), allStatuses...)
}

// ActiveStatuses returns the active set in canonical order.
func ActiveStatuses() []ConversationStatus {
	return filterStatuses(classActive)
}

// ClosedStatuses returns the terminal set in canonical order.
func ClosedStatuses() []ConversationStatus {
	return filterStatuses(classClosed)
}

// StatusStrings converts statuses for use as SQL array parameters.
func StatusStrings(statuses []ConversationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func filterStatuses(class statusClass) []ConversationStatus {
	out := make([]ConversationStatus, 0, len(allStatuses))
	for _, s := range allStatuses {
		if statusClasses[s] == class {
			out = append(out, s)
		}
	}
	return out
}
