package service

import (
	"context"
	"sync"
	"time"

	"github.com/mirado/sms-dispatch/internal/domain"
)

// ConfirmationHub lets a dispatch path wait briefly for the asynchronous
// delivery confirmation of a ledger entry. Notifications with no waiter
// are dropped; the ledger already holds the durable state.
type ConfirmationHub struct {
	mu      sync.Mutex
	waiters map[string]chan domain.LogStatus
}

func NewConfirmationHub() *ConfirmationHub {
	return &ConfirmationHub{
		waiters: make(map[string]chan domain.LogStatus),
	}
}

// Notify delivers a confirmed status to the waiter for a ledger entry, if
// any. Never blocks.
func (h *ConfirmationHub) Notify(smsLogID string, status domain.LogStatus) {
	if h == nil {
		return
	}

	h.mu.Lock()
	ch, ok := h.waiters[smsLogID]
	h.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- status:
	default:
	}
}

// Await blocks until a confirmation arrives for the entry, the timeout
// elapses, or the context is cancelled. The second return reports whether
// a confirmation was received.
func (h *ConfirmationHub) Await(ctx context.Context, smsLogID string, timeout time.Duration) (domain.LogStatus, bool) {
	if h == nil || timeout <= 0 {
		return "", false
	}

	ch := h.register(smsLogID)
	defer h.release(smsLogID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-ch:
		return status, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (h *ConfirmationHub) register(smsLogID string) chan domain.LogStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.waiters[smsLogID]
	if !ok {
		ch = make(chan domain.LogStatus, 1)
		h.waiters[smsLogID] = ch
	}
	return ch
}

func (h *ConfirmationHub) release(smsLogID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, smsLogID)
}
