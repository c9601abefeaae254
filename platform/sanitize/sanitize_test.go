package sanitize

import (
	"strings"
	"testing"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain reason", "plain reason"},
		{"<b>agent</b> closed", "agent closed"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;done", "alert(1)done"},
		{"  spaced  ", "spaced"},
	}
	for _, tc := range tests {
		if got := StripHTML(tc.in); got != tc.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReasonTruncates(t *testing.T) {
	long := strings.Repeat("é", MaxReasonLength+20)
	got := Reason(long)
	if n := len([]rune(got)); n != MaxReasonLength {
		t.Fatalf("expected %d runes, got %d", MaxReasonLength, n)
	}
}

func TestTextPtr(t *testing.T) {
	if TextPtr(nil) != nil {
		t.Fatal("expected nil")
	}
	in := "<i>note</i>"
	if got := TextPtr(&in); got == nil || *got != "note" {
		t.Fatalf("unexpected result %v", got)
	}
}
