package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindMatching(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", NotFoundf("session %s not found", "ABC123"), ErrNotFound},
		{"invalid input", InvalidInputf("bad name"), ErrInvalidInput},
		{"unauthorized", Unauthorizedf("not the teacher"), ErrUnauthorized},
		{"resource exhausted", ResourceExhaustedf("no codes left"), ErrResourceExhausted},
		{"conflict", Conflictf("already exists"), ErrConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.kind) {
				t.Errorf("expected %v to match kind %v", tc.err, tc.kind)
			}
			for _, other := range []error{ErrNotFound, ErrInvalidInput, ErrUnauthorized, ErrResourceExhausted, ErrConflict} {
				if other != tc.kind && errors.Is(tc.err, other) {
					t.Errorf("error %v unexpectedly matches kind %v", tc.err, other)
				}
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFoundf("task %d not found", 42)
	if err.Error() != "task 42 not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestErrorWrapsThroughFmt(t *testing.T) {
	err := fmt.Errorf("handling request: %w", NotFoundf("gone"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("wrapped error lost its kind")
	}
}
