package domain

import "testing"

func TestResolveSessionKeyIsDirectionStable(t *testing.T) {
	inbound := ResolveSessionKey("whatsapp:+15550001", "whatsapp:+15550002", DirectionInbound)
	outbound := ResolveSessionKey("+15550002", "15550001@s.whatsapp.net", DirectionOutbound)

	if inbound != outbound {
		t.Fatalf("expected identical keys, got %q and %q", inbound, outbound)
	}
	if inbound != "+15550001:+15550002" {
		t.Fatalf("unexpected key %q", inbound)
	}

	external, owned := inbound.Parts()
	if external != "+15550001" || owned != "+15550002" {
		t.Fatalf("unexpected parts %q %q", external, owned)
	}
}

func TestResolveSessionKeyNormalizesFormatting(t *testing.T) {
	a := ResolveSessionKey("tel:(650) 253-0000", "+1 650 253 0001", DirectionInbound)
	b := ResolveSessionKey("+16502530000", "+16502530001", DirectionInbound)
	if a != b {
		t.Fatalf("expected formatting to be normalized, got %q and %q", a, b)
	}
}

func TestResolveSessionKeyIsOrderDependentWithinDirection(t *testing.T) {
	a := ResolveSessionKey("+15550001", "+15550002", DirectionInbound)
	b := ResolveSessionKey("+15550002", "+15550001", DirectionInbound)
	if a == b {
		t.Fatal("swapping sender and recipient of an inbound message must change the key")
	}
}
