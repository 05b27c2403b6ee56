package periodic

import (
	"testing"
	"time"
)

func TestGateFiresOnceThenThrottles(t *testing.T) {
	g := New(50 * time.Millisecond)

	if !g.Poll() {
		t.Fatalf("expected first poll to fire")
	}
	if g.Poll() {
		t.Fatalf("expected immediate second poll to be throttled")
	}

	time.Sleep(60 * time.Millisecond)
	if !g.Poll() {
		t.Fatalf("expected poll to fire again after interval elapses")
	}
}

func TestGateResetFiresImmediately(t *testing.T) {
	g := New(time.Hour)
	g.Poll()
	g.Reset()
	if !g.Poll() {
		t.Fatalf("expected poll to fire immediately after reset")
	}
}
