package gateway

import (
	"context"

	"github.com/mirado/sms-dispatch/internal/domain"
)

// PhoneResult is the normalized outcome for one phone in a bulk call.
type PhoneResult struct {
	Phone      string
	Success    bool
	ExternalID string
	Status     domain.LogStatus
	Error      string
}

// BatchResult is the normalized outcome of one bulk gateway call. It is
// always fully populated: one PhoneResult per requested phone, re-associated
// by normalized phone number rather than by response order.
type BatchResult struct {
	OverallSuccess bool
	Message        string
	PerPhone       []PhoneResult
}

// BatchSender is the outbound bulk dispatch port.
type BatchSender interface {
	SendBatch(ctx context.Context, phones []string, message string) BatchResult
}

// Sender is the narrow single-message port consumed by the ledger service
// for retries, so the ledger never depends on the concrete client.
type Sender interface {
	Send(ctx context.Context, phone string, message string) PhoneResult
}
