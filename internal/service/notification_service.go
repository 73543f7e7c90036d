package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

// NotificationService manages notification intents before they reach the
// dispatcher: drafts, scheduling and withdrawal.
type NotificationService struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		logger:        logger,
	}, nil
}

// Create stores a draft. The scheduler picks it up once its scheduled
// time passes; a draft without a schedule is due immediately.
func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareNotificationForCreate(notification); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, err
	}

	s.logger.Info("notification draft created",
		zap.String("notificationId", notification.ID),
		zap.String("type", notification.Type.String()),
		zap.String("targetKind", notification.Target.Kind.String()),
	)
	return notification, nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) List(ctx context.Context) ([]domain.Notification, error) {
	return s.notifications.List(ctx)
}

// Cancel withdraws a draft before the scheduler claims it.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.Cancel(ctx, strings.TrimSpace(id))
}

func prepareNotificationForCreate(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.Status = domain.NotificationStatusDraft
	n.SentAt = nil
	n.TotalRecipients = 0
	n.SuccessCount = 0
	n.FailureCount = 0

	return n.Validate()
}
