package triage

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureKinds(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name       string
		err        error
		validation bool
		transient  bool
		permanent  bool
	}{
		{"validation", Validation(base), true, false, false},
		{"transient", Transient(base), false, true, false},
		{"permanent", Permanent(base), false, false, true},
		{"wrapped transient", fmt.Errorf("outer: %w", Transient(base)), false, true, false},
		{"untagged defaults transient", base, false, true, false},
		{"nil", nil, false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidation(tc.err); got != tc.validation {
				t.Fatalf("IsValidation = %v, want %v", got, tc.validation)
			}
			if got := IsTransient(tc.err); got != tc.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := IsPermanent(tc.err); got != tc.permanent {
				t.Fatalf("IsPermanent = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestFailureUnwrap(t *testing.T) {
	base := errors.New("boom")
	if !errors.Is(Permanent(base), base) {
		t.Fatal("wrapped cause not reachable")
	}
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash("summary", "description")
	b := ContentHash("summary", "description")
	if a != b {
		t.Fatal("hash not deterministic")
	}
	if a == ContentHash("summary", "other") {
		t.Fatal("different inputs collide")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected hash length %d", len(a))
	}
}
