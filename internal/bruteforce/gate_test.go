package bruteforce

import (
	"testing"
	"time"
)

func TestGateClampsInterval(t *testing.T) {
	g := New(time.Millisecond)
	if g.Interval() != MinInterval {
		t.Errorf("interval = %v, want %v", g.Interval(), MinInterval)
	}
	g2 := New(time.Hour)
	if g2.Interval() != MaxInterval {
		t.Errorf("interval = %v, want %v", g2.Interval(), MaxInterval)
	}
}

func TestGateSecondAttachWithinWindowRejected(t *testing.T) {
	g := New(5 * time.Second)
	now := time.Now()

	if !g.Allow(42, now) {
		t.Fatal("first attach should be allowed")
	}
	if g.Allow(42, now.Add(time.Second)) {
		t.Error("second attach within interval must be rejected")
	}
	if !g.Allow(42, now.Add(6*time.Second)) {
		t.Error("attach after interval should be allowed")
	}
}

func TestGateRejectionDoesNotResetClock(t *testing.T) {
	g := New(5 * time.Second)
	now := time.Now()

	g.Allow(1, now)
	g.Allow(1, now.Add(time.Second)) // rejected, must not update last
	if !g.Allow(1, now.Add(5*time.Second)) {
		t.Error("accept window should be measured from the last accepted attempt")
	}
}

func TestGateDistinctSendersIndependent(t *testing.T) {
	g := New(5 * time.Second)
	now := time.Now()
	if !g.Allow(1, now) || !g.Allow(2, now) {
		t.Error("distinct senders must not interfere with each other")
	}
}
