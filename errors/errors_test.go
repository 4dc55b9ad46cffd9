package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestTabsError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeSessionNotFound, "session not found")
	if err.Code != ErrCodeSessionNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeSessionNotFound, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeInternal, "store failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	// Test Is function
	if !Is(wrapped, ErrCodeInternal) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeSessionNotFound) {
		t.Error("Is should return false for non-matching code")
	}

	// Is and GetCode see through fmt wrapping
	outer := fmt.Errorf("handler: %w", wrapped)
	if GetCode(outer) != ErrCodeInternal {
		t.Errorf("GetCode through wrapping = %s", GetCode(outer))
	}

	// Test WithDetail
	detailed := err.WithDetail("session", "s1").WithDetail("uid", 1000)
	if detailed.Details["session"] != "s1" {
		t.Error("WithDetail should add details")
	}
}

func TestErrorConstructors(t *testing.T) {
	err := SessionNotFound("s1")
	if err.Code != ErrCodeSessionNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeSessionNotFound, err.Code)
	}
	if err.Details["session"] != "s1" {
		t.Error("SessionNotFound should include session detail")
	}

	err = IdentityMismatch("s1", 1001)
	if err.Code != ErrCodeIdentityMismatch {
		t.Errorf("expected code %s, got %s", ErrCodeIdentityMismatch, err.Code)
	}
	if err.Details["uid"] != uint32(1001) {
		t.Error("IdentityMismatch should include uid detail")
	}

	err = PolicyDenied("metered_network")
	if err.Details["reason"] != "metered_network" {
		t.Error("PolicyDenied should include reason detail")
	}

	err = Banned(1001)
	if err.Code != ErrCodeBanned {
		t.Errorf("expected code %s, got %s", ErrCodeBanned, err.Code)
	}
	if !Is(err, ErrCodeBanned) || Is(err, ErrCodeRateLimited) {
		t.Error("a ban is not reported as rate limiting")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidSession, http.StatusBadRequest},
		{ErrCodeSessionNotFound, http.StatusNotFound},
		{ErrCodeIdentityMismatch, http.StatusForbidden},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeBanned, http.StatusForbidden},
		{ErrCodePolicyDenied, http.StatusConflict},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	if err := Recover("ok", func() error { return nil }); err != nil {
		t.Fatalf("Recover returned %v for a clean callback", err)
	}

	err := Recover("boom", func() error { panic("client bug") })
	if !Is(err, ErrCodeCallbackFailed) {
		t.Fatalf("expected CALLBACK_FAILED, got %v", err)
	}

	err = Recover("failing", func() error { return fmt.Errorf("closed pipe") })
	if !Is(err, ErrCodeCallbackFailed) {
		t.Fatalf("expected CALLBACK_FAILED, got %v", err)
	}
}
