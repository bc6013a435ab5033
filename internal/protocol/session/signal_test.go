package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/stompws/internal/testutil/testlog"
)

func TestSignalWaiterArmedBeforeNotify(t *testing.T) {
	testlog.Start(t)
	abort := make(chan struct{})
	sig := NewSignal(SignalMessageArrived, abort)

	w := sig.Arm()
	sig.Notify()
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("armed waiter: %v", err)
	}
	if sig.Count() != 1 {
		t.Fatalf("count got=%d want=1", sig.Count())
	}
}

func TestSignalIgnoresEarlierNotifications(t *testing.T) {
	testlog.Start(t)
	sig := NewSignal(SignalReceiptArrived, make(chan struct{}))
	sig.Notify()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sig.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestSignalWakesEveryWaiter(t *testing.T) {
	testlog.Start(t)
	sig := NewSignal(SignalWriteComplete, make(chan struct{}))
	done := make(chan error, 3)
	waiters := []Waiter{sig.Arm(), sig.Arm(), sig.Arm()}
	for _, w := range waiters {
		go func(w Waiter) { done <- w.Wait(context.Background()) }(w)
	}
	sig.Notify()
	for range waiters {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("waiter: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter not released")
		}
	}
}

func TestSignalAbortReleasesWaiters(t *testing.T) {
	testlog.Start(t)
	abort := make(chan struct{})
	sig := NewSignal(SignalConnectionReady, abort)
	w := sig.Arm()
	close(abort)

	err := w.Wait(context.Background())
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	fired := sig.Arm()
	sig.Notify()
	if err := fired.Wait(context.Background()); err != nil {
		t.Fatalf("notified waiter should win over abort: %v", err)
	}
}
