package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLLMSelect)
	if Reason(err) != ReasonLLMSelect {
		t.Fatalf("expected reason %s, got %s", ReasonLLMSelect, Reason(err))
	}
	if !HasReason(err, ReasonLLMSelect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonToolArgs)
	second := Wrap(first, ReasonLLMFinalize)
	if Reason(second) != ReasonToolArgs {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonToolExec) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
