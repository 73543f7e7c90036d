package broadcast

import (
	"context"
	"time"
)

const (
	// ChannelStatusUpdate carries per-message delivery updates.
	ChannelStatusUpdate = "sms-status-update"
	// ChannelBulkStatusUpdate carries updates produced by bulk operations.
	ChannelBulkStatusUpdate = "sms-bulk-status-update"
)

// StatusUpdate is the payload published to subscribers whenever a ledger
// entry changes state.
type StatusUpdate struct {
	SmsLogID     string    `json:"smsLogId"`
	MessageID    string    `json:"messageId,omitempty"`
	Status       string    `json:"status"`
	Phone        string    `json:"phone"`
	Content      string    `json:"content,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
}

// Broadcaster publishes status updates to interested subscribers. Publish
// failures must never fail the state change that produced them.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, update StatusUpdate) error
}

// NopBroadcaster discards every update. Used when no pub/sub backend is
// configured and in tests.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(context.Context, string, StatusUpdate) error { return nil }
