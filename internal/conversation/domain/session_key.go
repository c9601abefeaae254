package domain

import (
	"strings"

	"conversation_backend/platform/phone"
)

// SessionKey identifies the pair of addresses a conversation runs between.
// Format: "<external>:<owned>", both canonicalized.
type SessionKey string

const sessionKeySeparator = ":"

// ResolveSessionKey builds the key for a message between from and to.
// The external party always comes first: for inbound traffic that is the
// sender, for outbound traffic the recipient. Both directions of the same
// pair therefore map to the same key.
func ResolveSessionKey(from, to string, direction Direction) SessionKey {
	external, owned := from, to
	if direction == DirectionOutbound {
		external, owned = to, from
	}
	return SessionKey(phone.CanonicalAddress(external) + sessionKeySeparator + phone.CanonicalAddress(owned))
}

// Parts splits the key into its external and owned addresses.
func (k SessionKey) Parts() (external, owned string) {
	external, owned, _ = strings.Cut(string(k), sessionKeySeparator)
	return external, owned
}

func (k SessionKey) String() string { return string(k) }
