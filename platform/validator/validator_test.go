package validator

import "testing"

type closeRequest struct {
	Status string `validate:"required,closure_status"`
	Reason string `validate:"max=10"`
}

func TestRegisterOneOf(t *testing.T) {
	v := New()
	if err := v.RegisterOneOf("closure_status", []string{"user_closed", "expired"}); err != nil {
		t.Fatalf("RegisterOneOf: %v", err)
	}

	if err := v.Struct(closeRequest{Status: "expired"}); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if err := v.Struct(closeRequest{Status: "progress"}); err == nil {
		t.Fatal("expected error for status outside the allowed set")
	}
}

func TestFieldErrors(t *testing.T) {
	v := New()
	if err := v.RegisterOneOf("closure_status", []string{"user_closed"}); err != nil {
		t.Fatalf("RegisterOneOf: %v", err)
	}

	err := v.Struct(closeRequest{Status: "user_closed", Reason: "far too long reason"})
	fields := FieldErrors(err)
	if fields["reason"] != "max=10" {
		t.Fatalf("expected reason max=10, got %#v", fields)
	}
	if FieldErrors(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
