package errorsx

import (
	"errors"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonSessionSend)
	if Reason(err) != ReasonSessionSend {
		t.Fatalf("expected reason %s, got %s", ReasonSessionSend, Reason(err))
	}
	if !HasReason(err, ReasonSessionSend) {
		t.Fatalf("expected HasReason true")
	}
	if err.Error() != "session_send: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.As(err, &assertErr{}) {
		t.Fatalf("wrapped cause not reachable")
	}
}

func TestFatalErr(t *testing.T) {
	if !FatalErr(Wrap(assertErr{}, ReasonDeviceRender)) {
		t.Fatalf("device render must be fatal")
	}
	if FatalErr(Wrap(assertErr{}, ReasonSessionRecv)) {
		t.Fatalf("transport receive must be retryable")
	}
	if FatalErr(nil) {
		t.Fatalf("nil error cannot be fatal")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonDeviceCapture)
	second := Wrap(first, ReasonSessionSend)
	if Reason(second) != ReasonDeviceCapture {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonSessionSend) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

func TestFatalReasons(t *testing.T) {
	if !Fatal(ReasonDeviceCapture) || !Fatal(ReasonDeviceRender) {
		t.Fatalf("device reasons must be fatal")
	}
	if Fatal(ReasonSessionConnect) || Fatal(ReasonSessionSend) {
		t.Fatalf("transport reasons must be retryable")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
