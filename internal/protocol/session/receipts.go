package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingReceipt tracks one request sent with a receipt header.
type PendingReceipt struct {
	ReceiptID string
	Command   string
	QueuedAt  time.Time
}

// ReceiptTracker stores outstanding receipts by receipt id.
type ReceiptTracker struct {
	mu    sync.RWMutex
	items map[string]PendingReceipt
}

func NewReceiptTracker() *ReceiptTracker {
	return &ReceiptTracker{
		items: make(map[string]PendingReceipt),
	}
}

func (r *ReceiptTracker) Track(receiptID, command string) {
	key := strings.TrimSpace(receiptID)
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = PendingReceipt{
		ReceiptID: key,
		Command:   command,
		QueuedAt:  time.Now(),
	}
}

// Resolve removes and returns the pending entry for receiptID.
func (r *ReceiptTracker) Resolve(receiptID string) (PendingReceipt, bool) {
	key := strings.TrimSpace(receiptID)
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[key]
	if ok {
		delete(r.items, key)
	}
	return item, ok
}

func (r *ReceiptTracker) Pending() []PendingReceipt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PendingReceipt, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceiptID < out[j].ReceiptID
	})
	return out
}

func (r *ReceiptTracker) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
}
