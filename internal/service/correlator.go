package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirado/sms-dispatch/internal/broadcast"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/observability"
	"github.com/mirado/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

const defaultCorrelationWindow = 15 * time.Minute

// StatusEvent is an asynchronous delivery report from the gateway, arriving
// over the webhook or the socket feed.
type StatusEvent struct {
	SmsLogID     string
	MessageID    string
	Status       string
	Phone        string
	Content      string
	ErrorMessage *string
	UpdatedAt    *time.Time
}

// Correlator matches incoming status events to ledger entries and applies
// the resulting transitions. An event that matches nothing is logged and
// counted, never turned into a new entry.
type Correlator struct {
	logs        repository.SmsLogRepository
	broadcaster broadcast.Broadcaster
	hub         *ConfirmationHub
	logger      *zap.Logger
	metrics     *observability.Metrics
	window      time.Duration
	now         func() time.Time
}

func NewCorrelator(
	logs repository.SmsLogRepository,
	broadcaster broadcast.Broadcaster,
	hub *ConfirmationHub,
	window time.Duration,
	logger *zap.Logger,
) (*Correlator, error) {
	if logs == nil {
		return nil, fmt.Errorf("sms log repository is required")
	}
	if broadcaster == nil {
		broadcaster = broadcast.NopBroadcaster{}
	}
	if window <= 0 {
		window = defaultCorrelationWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Correlator{
		logs:        logs,
		broadcaster: broadcaster,
		hub:         hub,
		logger:      logger,
		window:      window,
		now:         time.Now,
	}, nil
}

func (c *Correlator) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

// HandleStatusEvent resolves the event to a ledger entry and applies the
// mapped status. Resolution precedence: our own log id first, then the
// gateway message id, then the most recent pending entry for the phone.
// Stale and unresolved events are absorbed, not errors.
func (c *Correlator) HandleStatusEvent(ctx context.Context, source string, event StatusEvent) error {
	entry, err := c.resolve(ctx, event)
	if err != nil {
		return err
	}
	logger := observability.WithContextLogger(c.logger, ctx)

	if entry == nil {
		c.metrics.IncCorrelation(source, "unresolved")
		logger.Warn("status event matched no ledger entry",
			zap.String("source", source),
			zap.String("messageId", event.MessageID),
			zap.String("phone", event.Phone),
			zap.String("status", event.Status),
		)
		return nil
	}

	mapped := domain.MapGatewayStatus(event.Status)
	if mapped == entry.Status {
		c.metrics.IncCorrelation(source, "stale")
		return nil
	}

	detail := repository.TransitionDetail{
		ErrorMessage: event.ErrorMessage,
	}
	if id := strings.TrimSpace(event.MessageID); id != "" {
		detail.ExternalID = &id
	}
	if event.UpdatedAt != nil {
		detail.At = *event.UpdatedAt
	}

	updated, err := c.logs.Transition(ctx, entry.ID, mapped, detail)
	if errors.Is(err, domain.ErrStaleTransition) {
		c.metrics.IncCorrelation(source, "stale")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply status event: %w", err)
	}

	c.metrics.IncCorrelation(source, "matched")
	if updated.Status == domain.LogStatusFailed {
		c.metrics.IncSmsFailed("gateway_report")
	}

	c.publish(ctx, updated, event)
	c.hub.Notify(updated.ID, updated.Status)

	return nil
}

func (c *Correlator) resolve(ctx context.Context, event StatusEvent) (*domain.SmsLog, error) {
	if id := strings.TrimSpace(event.SmsLogID); id != "" {
		entry, err := c.logs.GetByID(ctx, id)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if id := strings.TrimSpace(event.MessageID); id != "" {
		entry, err := c.logs.FindByExternalID(ctx, id)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	phone := domain.NormalizePhone(event.Phone)
	if phone == "" {
		return nil, nil
	}
	entry, err := c.logs.FindRecentPendingByPhone(ctx, phone, c.window)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Correlator) publish(ctx context.Context, entry *domain.SmsLog, event StatusEvent) {
	update := broadcast.StatusUpdate{
		SmsLogID:     entry.ID,
		Status:       entry.Status.String(),
		Phone:        entry.PhoneNumber,
		Content:      event.Content,
		UpdatedAt:    c.now().UTC(),
		ErrorMessage: entry.ErrorMessage,
	}
	if entry.ExternalID != nil {
		update.MessageID = *entry.ExternalID
	}

	// Best effort: the transition is already durable.
	if err := c.broadcaster.Publish(ctx, broadcast.ChannelStatusUpdate, update); err != nil {
		c.logger.Warn("failed to broadcast status update",
			zap.String("smsLogId", entry.ID),
			zap.Error(err),
		)
	}
}
