package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesChain(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "query grants")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsFindsTypedErrorThroughWrapping(t *testing.T) {
	inner := New(CodeNotFound, "offer not found")
	wrapped := fmt.Errorf("loading offer: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeNotFound {
		t.Fatalf("expected not found code, got %s", typed.Code())
	}
}

func TestAsNilAndUntyped(t *testing.T) {
	if As(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("expected nil for untyped error")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeStateConflict, "already active")
	if !IsCode(err, CodeStateConflict) {
		t.Fatal("expected code match")
	}
	if IsCode(err, CodeValidation) {
		t.Fatal("expected code mismatch")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "bad paper ids").WithDetails(map[string]any{"count": 3})
	if err.Details() == nil {
		t.Fatal("expected details")
	}
}

func TestMetadataForKnownCodes(t *testing.T) {
	cases := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeConflict, http.StatusConflict, true},
		{CodeStateConflict, http.StatusConflict, false},
		{CodeDependency, http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, meta.HTTPStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Fatalf("%s: expected retryable %t", tc.code, tc.retryable)
		}
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}
