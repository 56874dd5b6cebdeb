package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"coded", New(CodeAlreadyAssigned, "taken"), KindConflict},
		{"wrapped", fmt.Errorf("claim: %w", New(CodeNotReady, "cooking")), KindInvalidTransition},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTransient},
		{"net", timeoutErr{}, KindTransient},
		{"plain", errors.New("boom"), KindUnknown},
		{"validation", New(CodeReasonRequired, "reason"), KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestSentinelsCompareByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "order not found")
	err := fmt.Errorf("load: %w", New(CodeNotFound, "gone"))
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match on kind and code")
	}
	if errors.Is(err, New(CodeConflict, "x")) {
		t.Fatal("different code must not match")
	}
}

func TestRetryableOnlyForTransient(t *testing.T) {
	if !Retryable(Wrap(KindTransient, CodeUnavailable, errors.New("503"))) {
		t.Fatal("transient must be retryable")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Fatal("deadline must be retryable")
	}
	if Retryable(New(CodeAlreadyAssigned, "taken")) {
		t.Fatal("conflict must not be retryable")
	}
}

func TestStatusMapping(t *testing.T) {
	if got := KindForStatus(http.StatusBadGateway); got != KindTransient {
		t.Fatalf("expected transient got %s", got)
	}
	if got := StatusFor(KindConflict); got != http.StatusConflict {
		t.Fatalf("expected 409 got %d", got)
	}
	if got := StatusFor(KindForCode(CodeCannotCancel)); got != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", got)
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(New(CodeAlreadyAssigned, "")); got != codeMessages[CodeAlreadyAssigned] {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(context.DeadlineExceeded); got != "Network problem. Please try again." {
		t.Fatalf("unexpected message %q", got)
	}
}
