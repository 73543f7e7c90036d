package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirado/sms-dispatch/internal/broadcast"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/gateway"
	"github.com/mirado/sms-dispatch/internal/observability"
	"github.com/mirado/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

const defaultRetryLimit = 3

// MessageSender is the slice of the gateway client the ledger operations
// need.
type MessageSender interface {
	gateway.Sender
	gateway.BatchSender
}

// RetrySummary reports the outcome of a bulk retry.
type RetrySummary struct {
	Attempted int
	Retried   int
	Skipped   int
}

// SmsLogService exposes the ledger operations: history, retries, cancels
// and ignores. Every mutation goes through the repository's guarded
// updates so concurrent webhook traffic cannot corrupt the state graph.
type SmsLogService struct {
	logs        repository.SmsLogRepository
	sender      MessageSender
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
	metrics     *observability.Metrics
	retryLimit  int
	now         func() time.Time
}

func NewSmsLogService(
	logs repository.SmsLogRepository,
	sender MessageSender,
	broadcaster broadcast.Broadcaster,
	retryLimit int,
	logger *zap.Logger,
) (*SmsLogService, error) {
	if logs == nil {
		return nil, fmt.Errorf("sms log repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("message sender is required")
	}
	if broadcaster == nil {
		broadcaster = broadcast.NopBroadcaster{}
	}
	if retryLimit <= 0 {
		retryLimit = defaultRetryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SmsLogService{
		logs:        logs,
		sender:      sender,
		broadcaster: broadcaster,
		logger:      logger,
		retryLimit:  retryLimit,
		now:         time.Now,
	}, nil
}

func (s *SmsLogService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *SmsLogService) GetByID(ctx context.Context, id string) (*domain.SmsLog, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: sms log id is required", domain.ErrValidation)
	}
	return s.logs.GetByID(ctx, strings.TrimSpace(id))
}

func (s *SmsLogService) List(ctx context.Context, params repository.ListParams) ([]domain.SmsLog, int64, error) {
	return s.logs.List(ctx, params)
}

func (s *SmsLogService) StatusSummary(ctx context.Context, notificationID *string) ([]repository.StatusSummary, error) {
	return s.logs.GetStatusSummary(ctx, notificationID)
}

// Retry re-sends one failed entry. With force the configured retry limit
// is bypassed; the retry counter still advances.
func (s *SmsLogService) Retry(ctx context.Context, id string, force bool) (*domain.SmsLog, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: sms log id is required", domain.ErrValidation)
	}

	limit := s.retryLimit
	if force {
		limit = 0
	}

	entry, err := s.logs.Retry(ctx, strings.TrimSpace(id), limit)
	if err != nil {
		return nil, err
	}
	s.metrics.IncRetry()

	result := s.sender.Send(ctx, entry.PhoneNumber, entry.Message)
	updated, err := applyGatewayResult(ctx, s.logs, entry.ID, result)
	if err != nil {
		return nil, err
	}
	if updated.Status == domain.LogStatusSent {
		s.metrics.IncSmsSent()
	}

	s.publish(ctx, broadcast.ChannelStatusUpdate, updated)
	return updated, nil
}

// RetryAllFailed re-sends every failed entry that is not ignored. Entries
// over the retry limit are skipped, grouped sends keep gateway calls to
// one per distinct message. Retried counts entries re-entered into PENDING
// and handed back to the gateway; delivery confirmation arrives
// asynchronously.
func (s *SmsLogService) RetryAllFailed(ctx context.Context) (RetrySummary, error) {
	failed, err := s.logs.ListFailed(ctx)
	if err != nil {
		return RetrySummary{}, err
	}

	summary := RetrySummary{Attempted: len(failed)}

	// message -> ledger entries re-entered into PENDING
	groups := make(map[string][]*domain.SmsLog)
	for i := range failed {
		entry, err := s.logs.Retry(ctx, failed[i].ID, s.retryLimit)
		if errors.Is(err, domain.ErrRetryNotAllowed) {
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, err
		}
		s.metrics.IncRetry()
		summary.Retried++
		groups[entry.Message] = append(groups[entry.Message], entry)
	}

	for message, entries := range groups {
		phones := make([]string, 0, len(entries))
		byPhone := make(map[string][]*domain.SmsLog, len(entries))
		for _, entry := range entries {
			key := domain.NormalizePhone(entry.PhoneNumber)
			if _, seen := byPhone[key]; !seen {
				phones = append(phones, entry.PhoneNumber)
			}
			byPhone[key] = append(byPhone[key], entry)
		}

		batch := s.sender.SendBatch(ctx, phones, message)
		for _, pr := range batch.PerPhone {
			for _, entry := range byPhone[pr.Phone] {
				updated, err := applyGatewayResult(ctx, s.logs, entry.ID, pr)
				if err != nil {
					s.logger.Error("failed to apply retry result",
						zap.String("smsLogId", entry.ID),
						zap.Error(err),
					)
					continue
				}
				if updated.Status == domain.LogStatusSent {
					s.metrics.IncSmsSent()
				}
				s.publish(ctx, broadcast.ChannelBulkStatusUpdate, updated)
			}
		}
	}

	return summary, nil
}

// Cancel withdraws one still-pending entry: it becomes FAILED with a user
// cancellation note and is excluded from future bulk operations.
func (s *SmsLogService) Cancel(ctx context.Context, id string) (*domain.SmsLog, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: sms log id is required", domain.ErrValidation)
	}

	if err := s.logs.Cancel(ctx, strings.TrimSpace(id)); err != nil {
		return nil, err
	}

	entry, err := s.logs.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	s.publish(ctx, broadcast.ChannelStatusUpdate, entry)
	return entry, nil
}

func (s *SmsLogService) CancelAllPending(ctx context.Context) (int64, error) {
	count, err := s.logs.CancelAllPending(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("cancelled pending messages", zap.Int64("count", count))
	}
	return count, nil
}

// Ignore excludes an entry from bulk retries. Direct operations on the
// entry keep working.
func (s *SmsLogService) Ignore(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: sms log id is required", domain.ErrValidation)
	}
	return s.logs.Ignore(ctx, strings.TrimSpace(id))
}

func (s *SmsLogService) IgnoreAllFailed(ctx context.Context) (int64, error) {
	return s.logs.IgnoreAllFailed(ctx)
}

func (s *SmsLogService) publish(ctx context.Context, channel string, entry *domain.SmsLog) {
	update := broadcast.StatusUpdate{
		SmsLogID:     entry.ID,
		Status:       entry.Status.String(),
		Phone:        entry.PhoneNumber,
		Content:      entry.Message,
		UpdatedAt:    s.now().UTC(),
		ErrorMessage: entry.ErrorMessage,
	}
	if entry.ExternalID != nil {
		update.MessageID = *entry.ExternalID
	}

	if err := s.broadcaster.Publish(ctx, channel, update); err != nil {
		s.logger.Warn("failed to broadcast status update",
			zap.String("smsLogId", entry.ID),
			zap.Error(err),
		)
	}
}

// applyGatewayResult folds a per-phone gateway result back into the
// ledger. A result that arrives after an async report already moved the
// entry is treated as stale and the current entry returned unchanged.
func applyGatewayResult(
	ctx context.Context,
	logs repository.SmsLogRepository,
	entryID string,
	result gateway.PhoneResult,
) (*domain.SmsLog, error) {
	if result.Status == domain.LogStatusPending {
		if result.ExternalID != "" {
			if err := logs.SetExternalID(ctx, entryID, result.ExternalID); err != nil {
				return nil, err
			}
		}
		return logs.GetByID(ctx, entryID)
	}

	detail := repository.TransitionDetail{}
	if result.ExternalID != "" {
		id := result.ExternalID
		detail.ExternalID = &id
	}
	if result.Error != "" {
		msg := result.Error
		detail.ErrorMessage = &msg
	}

	updated, err := logs.Transition(ctx, entryID, result.Status, detail)
	if errors.Is(err, domain.ErrStaleTransition) {
		return logs.GetByID(ctx, entryID)
	}
	return updated, err
}
