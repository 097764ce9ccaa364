package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("channel %q: %w", "general", ErrNotFound), "not-found"},
		{fmt.Errorf("request from a: %w", ErrConflict), "conflict"},
		{ErrNotConnected, "not-connected"},
		{fmt.Errorf("tracker: %w", ErrUnavailable), "unavailable"},
		{ErrInvalid, "invalid"},
		{errors.New("boom"), "internal"},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %q; want %q", c.err, got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("dial: %w", ErrUnavailable)) {
		t.Error("wrapped ErrUnavailable should be retryable")
	}
	if Retryable(ErrConflict) {
		t.Error("ErrConflict should not be retryable")
	}
}
