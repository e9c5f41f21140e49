package imap

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAuthErrorDetectsWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("%w: %v", ErrAuthenticationFailed, "bad credentials")
	if !IsAuthError(err) {
		t.Error("IsAuthError did not detect a wrapped ErrAuthenticationFailed")
	}
	if IsAuthError(errors.New("connection reset")) {
		t.Error("IsAuthError matched an unrelated error")
	}
}

func TestIsConnectionErrorExcludesAuthFailures(t *testing.T) {
	// Same wrapping Client.loginPassword uses, with network-flavored text in
	// the detail — IsConnectionError must still treat this as terminal, not
	// retryable, since reconnecting can't fix a rejected login.
	authErr := fmt.Errorf("%w: %v", ErrAuthenticationFailed, "connection reset by peer during AUTHENTICATE")
	if IsConnectionError(authErr) {
		t.Error("IsConnectionError must not treat an authentication failure as retryable")
	}
}

func TestIsConnectionErrorDetectsTransportErrors(t *testing.T) {
	if !IsConnectionError(errors.New("read tcp: connection reset by peer")) {
		t.Error("IsConnectionError should match a connection reset")
	}
	if IsConnectionError(nil) {
		t.Error("IsConnectionError(nil) should be false")
	}
}
