package session

import (
	"testing"

	"github.com/danmuck/stompws/internal/testutil/testlog"
)

func TestReceiptTrackerLifecycle(t *testing.T) {
	testlog.Start(t)
	r := NewReceiptTracker()
	r.Track("9", "DISCONNECT")
	r.Track(" 10 ", "SEND")
	r.Track("", "SEND")

	pending := r.Pending()
	if len(pending) != 2 || pending[0].ReceiptID != "10" || pending[1].ReceiptID != "9" {
		t.Fatalf("unexpected pending receipts: %+v", pending)
	}

	item, ok := r.Resolve("9")
	if !ok || item.Command != "DISCONNECT" {
		t.Fatalf("resolve got=%+v ok=%v", item, ok)
	}
	if _, ok := r.Resolve("9"); ok {
		t.Fatalf("receipt should resolve once")
	}
	if _, ok := r.Resolve("unknown"); ok {
		t.Fatalf("unknown receipt should not resolve")
	}

	r.Clear()
	if len(r.Pending()) != 0 {
		t.Fatalf("expected no pending receipts after clear")
	}
}
