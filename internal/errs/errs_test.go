package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := E(KindExchange, "exchange.PlaceMarketOrder", errors.New("timeout"))
	wrapped := fmt.Errorf("execute: %w", base)

	if got := KindOf(wrapped); got != KindExchange {
		t.Errorf("Expected %s, got %s", KindExchange, got)
	}
	if !Retryable(wrapped) {
		t.Error("Expected exchange error to be retryable")
	}
	if Retryable(New(KindRiskLimitExceeded, "gate", "max positions")) {
		t.Error("Expected risk error to be non-retryable")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("Expected empty kind for plain error")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Newf(KindValidation, "execution.size", "quantity %.3f <= 0", 0.0)
	want := "execution.size: ValidationFailure: quantity 0.000 <= 0"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
