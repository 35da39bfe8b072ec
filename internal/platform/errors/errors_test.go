package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeInvalidCaller, "caller is not the admin")
	if !stderrors.Is(err, New(CodeInvalidCaller, "different message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeInvalidArgument, "caller is not the admin")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeInternal, "save snapshot", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be found in chain")
	}
	if err.Error() != "save snapshot" {
		t.Fatalf("message = %q, want %q", err.Error(), "save snapshot")
	}
}

func TestFromErrorUnwrapsChain(t *testing.T) {
	inner := New(CodeNotFound, "no such code ref")
	outer := fmt.Errorf("activate module: %w", inner)

	found, ok := FromError(outer)
	if !ok {
		t.Fatal("expected domain error in chain")
	}
	if found.Code != CodeNotFound {
		t.Fatalf("code = %q, want %q", found.Code, CodeNotFound)
	}
	if CodeOf(outer) != CodeNotFound {
		t.Fatalf("CodeOf = %q, want %q", CodeOf(outer), CodeNotFound)
	}
	if CodeOf(stderrors.New("plain")) != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want %q", CodeOf(stderrors.New("plain")), CodeUnknown)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidCaller, http.StatusForbidden},
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeMalformedInput, http.StatusBadRequest},
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeFailedPrecondition, http.StatusConflict},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("%s status = %d, want %d", tt.code, got, tt.want)
		}
	}
}
