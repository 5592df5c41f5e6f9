package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeValidation, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeUpstream, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.code, "msg").HTTPStatus(); got != tc.want {
			t.Errorf("code %s: got %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestFromPreservesAppError(t *testing.T) {
	orig := NotFound("no failed record")
	wrapped := fmt.Errorf("retry: %w", orig)

	got := From(wrapped)
	if got.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", got.Code)
	}
}

func TestFromWrapsUnknownErrors(t *testing.T) {
	got := From(errors.New("connection reset"))
	if got.Code != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %s", got.Code)
	}
	if got.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got.HTTPStatus())
	}
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("duplicate key")
	err := Wrap(CodeConflict, "duplicate success record", sentinel)
	if !errors.Is(err, sentinel) {
		t.Fatal("expected wrapped sentinel to be reachable via errors.Is")
	}
}
