package pool

import (
	"sync"
	"testing"
	"time"
)

func TestSafeDispatchRecoversPanic(t *testing.T) {
	p, err := NewAntsPool(4)
	if err != nil {
		t.Fatalf("NewAntsPool: %v", err)
	}
	defer p.Release()

	done := make(chan struct{})
	if err := SafeDispatch(p, nil, func() {
		defer close(done)
		panic("boom")
	}); err != nil {
		t.Fatalf("SafeDispatch: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestSafeDispatchRunsNormally(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	if err := SafeDispatch(p, nil, func() {
		defer wg.Done()
		ran = true
	}); err != nil {
		t.Fatalf("SafeDispatch: %v", err)
	}
	wg.Wait()
	if !ran {
		t.Error("callback did not run")
	}
}
