package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mirado/sms-dispatch/internal/broadcast"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/observability"
	"github.com/mirado/sms-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultScanInterval    = time.Minute
	defaultScanLimit       = 50
	defaultDispatchWorkers = 4
)

// DispatchStats counts the outcome of one dispatched notification.
type DispatchStats struct {
	Total  int
	Sent   int
	Failed int
	LogIDs []string
}

// DispatchSummary is returned to callers who trigger a dispatch directly.
type DispatchSummary struct {
	Success bool
	Message string
	Stats   DispatchStats
}

// Dispatcher owns the notification send pipeline: it scans for due drafts,
// resolves their recipients, writes the ledger rows, drives the gateway
// and folds the counters back before retiring the intent.
type Dispatcher struct {
	notifications repository.NotificationRepository
	logs          repository.SmsLogRepository
	resolver      *Resolver
	sender        MessageSender
	broadcaster   broadcast.Broadcaster
	hub           *ConfirmationHub
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	scanLimit     int
	concurrency   int
	confirmWait   time.Duration
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	logs repository.SmsLogRepository,
	resolver *Resolver,
	sender MessageSender,
	broadcaster broadcast.Broadcaster,
	hub *ConfirmationHub,
	interval time.Duration,
	concurrency int,
	confirmWait time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil || logs == nil {
		return nil, fmt.Errorf("notification and sms log repositories are required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("message sender is required")
	}
	if broadcaster == nil {
		broadcaster = broadcast.NopBroadcaster{}
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if concurrency < 1 {
		concurrency = defaultDispatchWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		logs:          logs,
		resolver:      resolver,
		sender:        sender,
		broadcaster:   broadcaster,
		hub:           hub,
		logger:        logger,
		interval:      interval,
		scanLimit:     defaultScanLimit,
		concurrency:   concurrency,
		confirmWait:   confirmWait,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// Start scans for due drafts until context cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := d.scanDue(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("dispatcher initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("dispatcher scan failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) scanDue(ctx context.Context) error {
	due, err := d.notifications.GetDueDrafts(ctx, d.now(), d.scanLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch due notifications: %w", err)
	}

	for i := range due {
		if _, err := d.Dispatch(ctx, due[i].ID); err != nil {
			d.logger.Error("failed to dispatch due notification",
				zap.String("notificationId", due[i].ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// Dispatch claims a draft and runs the send pipeline. A draft already
// claimed by another worker yields ErrConflict.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) (*DispatchSummary, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := d.notifications.ClaimForSending(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if notification == nil {
		return nil, fmt.Errorf("%w: notification is not in draft state", domain.ErrConflict)
	}

	return d.run(ctx, notification)
}

// SendImmediate creates an intent from the payload and dispatches it in
// the same call, bypassing the scheduler.
func (d *Dispatcher) SendImmediate(ctx context.Context, notification *domain.Notification) (*DispatchSummary, error) {
	if err := prepareNotificationForCreate(notification); err != nil {
		return nil, err
	}
	notification.Status = domain.NotificationStatusSending
	notification.ScheduledAt = nil

	if err := d.notifications.Create(ctx, notification); err != nil {
		return nil, err
	}

	return d.run(ctx, notification)
}

func (d *Dispatcher) run(ctx context.Context, notification *domain.Notification) (*DispatchSummary, error) {
	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	start := d.now()
	logFields := []zap.Field{
		zap.String("notificationId", notification.ID),
		zap.String("type", notification.Type.String()),
		zap.String("targetKind", notification.Target.Kind.String()),
	}

	recipients, skipped, err := d.resolver.Resolve(ctx, notification.Target)
	if err != nil {
		if markErr := d.notifications.MarkFailed(ctx, notification.ID); markErr != nil {
			d.logger.Error("failed to mark notification as failed", append(logFields, zap.Error(markErr))...)
		}
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	if len(recipients) == 0 {
		d.logger.Warn("notification resolved to no recipients",
			append(logFields, zap.Int("unreachable", skipped))...)
		stats := DispatchStats{Total: skipped, Failed: skipped}
		if err := d.retire(ctx, notification.ID, stats); err != nil {
			return nil, err
		}
		return &DispatchSummary{Message: "no recipients resolved", Stats: stats}, nil
	}

	entries, err := d.writeLedger(ctx, notification, recipients)
	if err != nil {
		if markErr := d.notifications.MarkFailed(ctx, notification.ID); markErr != nil {
			d.logger.Error("failed to mark notification as failed", append(logFields, zap.Error(markErr))...)
		}
		return nil, err
	}

	stats := d.sendGroups(ctx, entries)

	// Students dropped during resolution count against the intent: they
	// were part of the audience even though no message could be written.
	stats.Total += skipped
	stats.Failed += skipped

	if err := d.retire(ctx, notification.ID, stats); err != nil {
		return nil, err
	}

	d.logger.Info("notification dispatched", append(logFields,
		zap.Int("total", stats.Total),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", d.now().Sub(start)),
	)...)

	summary := &DispatchSummary{
		Success: stats.Failed == 0 && stats.Sent > 0,
		Message: fmt.Sprintf("%d/%d messages accepted", stats.Sent, stats.Total),
		Stats:   stats,
	}
	return summary, nil
}

// writeLedger renders the message per recipient and records one PENDING
// entry each before anything reaches the gateway.
func (d *Dispatcher) writeLedger(
	ctx context.Context,
	notification *domain.Notification,
	recipients []domain.Recipient,
) ([]*domain.SmsLog, error) {
	entries := make([]*domain.SmsLog, 0, len(recipients))
	for i := range recipients {
		recipient := recipients[i]
		studentID := recipient.StudentID

		entries = append(entries, &domain.SmsLog{
			ID:                uuid.NewString(),
			NotificationID:    &notification.ID,
			NotificationTitle: notification.Title,
			NotificationType:  notification.Type.String(),
			ParentID:          recipient.ParentID,
			StudentID:         &studentID,
			PhoneNumber:       recipient.Phone,
			Message:           RenderMessage(notification.Message, recipient.Fields),
			Status:            domain.LogStatusPending,
		})
	}

	if err := d.logs.CreateBatch(ctx, entries); err != nil {
		return nil, fmt.Errorf("failed to write ledger entries: %w", err)
	}
	return entries, nil
}

// sendGroups batches entries that share an identical rendered message into
// a single gateway call and applies the per-phone results.
func (d *Dispatcher) sendGroups(ctx context.Context, entries []*domain.SmsLog) DispatchStats {
	groups := make(map[string][]*domain.SmsLog)
	for _, entry := range entries {
		groups[entry.Message] = append(groups[entry.Message], entry)
	}

	var (
		mu    sync.Mutex
		stats DispatchStats
	)
	stats.Total = len(entries)
	for _, entry := range entries {
		stats.LogIDs = append(stats.LogIDs, entry.ID)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for message, group := range groups {
		g.Go(func() error {
			// Siblings sharing a parent phone collapse into one outbound
			// phone; the gateway result fans out to every entry behind it.
			phones := make([]string, 0, len(group))
			byPhone := make(map[string][]*domain.SmsLog, len(group))
			for _, entry := range group {
				key := domain.NormalizePhone(entry.PhoneNumber)
				if _, seen := byPhone[key]; !seen {
					phones = append(phones, entry.PhoneNumber)
				}
				byPhone[key] = append(byPhone[key], entry)
			}

			batch := d.sender.SendBatch(groupCtx, phones, message)
			for _, pr := range batch.PerPhone {
				for _, entry := range byPhone[pr.Phone] {
					updated, err := applyGatewayResult(groupCtx, d.logs, entry.ID, pr)
					if err != nil {
						d.logger.Error("failed to apply gateway result",
							zap.String("smsLogId", entry.ID),
							zap.Error(err),
						)
						continue
					}

					updated = d.awaitConfirmation(groupCtx, updated)

					mu.Lock()
					switch updated.Status {
					case domain.LogStatusSent, domain.LogStatusDelivered:
						stats.Sent++
					case domain.LogStatusFailed:
						stats.Failed++
					}
					mu.Unlock()

					switch updated.Status {
					case domain.LogStatusSent, domain.LogStatusDelivered:
						d.metrics.IncSmsSent()
					case domain.LogStatusFailed:
						d.metrics.IncSmsFailed("gateway_error")
					}

					d.publish(groupCtx, updated)
				}
			}
			return nil
		})
	}

	// Workers never return errors; failures are recorded per entry.
	_ = g.Wait()

	return stats
}

// awaitConfirmation optionally holds the dispatch path open for a short
// window so an async delivery report can land before counters are taken.
func (d *Dispatcher) awaitConfirmation(ctx context.Context, entry *domain.SmsLog) *domain.SmsLog {
	if d.confirmWait <= 0 || entry.Status != domain.LogStatusPending {
		return entry
	}

	if _, ok := d.hub.Await(ctx, entry.ID, d.confirmWait); !ok {
		return entry
	}

	refreshed, err := d.logs.GetByID(ctx, entry.ID)
	if err != nil {
		return entry
	}
	return refreshed
}

// retire folds the counters into the intent, then deletes it. The ledger
// rows are the permanent record.
func (d *Dispatcher) retire(ctx context.Context, notificationID string, stats DispatchStats) error {
	counters := repository.DispatchCounters{
		TotalRecipients: stats.Total,
		SuccessCount:    stats.Sent,
		FailureCount:    stats.Failed,
	}
	if err := d.notifications.FinalizeSent(ctx, notificationID, counters, d.now().UTC()); err != nil {
		return fmt.Errorf("failed to finalize notification: %w", err)
	}
	if err := d.notifications.Delete(ctx, notificationID); err != nil {
		return fmt.Errorf("failed to retire notification: %w", err)
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, entry *domain.SmsLog) {
	update := broadcast.StatusUpdate{
		SmsLogID:     entry.ID,
		Status:       entry.Status.String(),
		Phone:        entry.PhoneNumber,
		Content:      entry.Message,
		UpdatedAt:    d.now().UTC(),
		ErrorMessage: entry.ErrorMessage,
	}
	if entry.ExternalID != nil {
		update.MessageID = *entry.ExternalID
	}

	if err := d.broadcaster.Publish(ctx, broadcast.ChannelBulkStatusUpdate, update); err != nil {
		d.logger.Warn("failed to broadcast dispatch update",
			zap.String("smsLogId", entry.ID),
			zap.Error(err),
		)
	}
}
