// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number is written without a country code.
const DefaultRegion = "US"

// jidSuffixes are WhatsApp account suffixes that wrap a bare number.
var jidSuffixes = []string{"@s.whatsapp.net", "@c.us", "@g.us"}

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	return NormalizeE164Region(input, DefaultRegion)
}

// NormalizeE164Region is NormalizeE164 with an explicit fallback region.
func NormalizeE164Region(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// StripChannelPrefix removes a transport scheme ("whatsapp:", "tel:") and any
// WhatsApp JID suffix from an address, leaving the bare number.
func StripChannelPrefix(address string) string {
	addr := strings.TrimSpace(address)
	if idx := strings.Index(addr, ":"); idx >= 0 {
		scheme := addr[:idx]
		if isScheme(scheme) {
			addr = strings.TrimSpace(addr[idx+1:])
		}
	}
	for _, suffix := range jidSuffixes {
		if strings.HasSuffix(strings.ToLower(addr), suffix) {
			addr = addr[:len(addr)-len(suffix)]
			if !strings.HasPrefix(addr, "+") {
				addr = "+" + addr
			}
			break
		}
	}
	return addr
}

// CanonicalAddress strips the channel prefix and normalizes what remains.
// Non-numeric addresses (usernames, emails) are lower-cased instead.
func CanonicalAddress(address string) string {
	bare := StripChannelPrefix(address)
	if !looksNumeric(bare) {
		return strings.ToLower(bare)
	}
	normalized := NormalizeE164(bare)
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	return "+" + digitsOnly(normalized)
}

func isScheme(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func looksNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits > 0
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
