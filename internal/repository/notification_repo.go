package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mirado/sms-dispatch/internal/domain"
	"gorm.io/gorm"
)

// DispatchCounters is folded into the intent after the gateway run, before
// the intent row is deleted.
type DispatchCounters struct {
	TotalRecipients int
	SuccessCount    int
	FailureCount    int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context) ([]domain.Notification, error)
	GetDueDrafts(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	ClaimForSending(ctx context.Context, id string) (*domain.Notification, error)
	FinalizeSent(ctx context.Context, id string, counters DispatchCounters, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

// GetDueDrafts returns drafts whose scheduled time has passed, plus drafts
// with no schedule at all, which are due immediately.
func (r *GormNotificationRepo) GetDueDrafts(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", domain.NotificationStatusDraft, now).
		Order("scheduled_at ASC NULLS FIRST").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

// ClaimForSending atomically moves a DRAFT to SENDING. A nil notification
// with nil error means another worker claimed it first.
func (r *GormNotificationRepo) ClaimForSending(ctx context.Context, id string) (*domain.Notification, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.NotificationStatusDraft).
		Update("status", domain.NotificationStatusSending)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

func (r *GormNotificationRepo) FinalizeSent(ctx context.Context, id string, counters DispatchCounters, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           domain.NotificationStatusSent,
			"total_recipients": counters.TotalRecipients,
			"success_count":    counters.SuccessCount,
			"failure_count":    counters.FailureCount,
			"sent_at":          sentAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("status", domain.NotificationStatusFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Cancel withdraws a notification that has not started dispatching.
func (r *GormNotificationRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.NotificationStatusDraft).
		Update("status", domain.NotificationStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&NotificationModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
