package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mirado/sms-dispatch/internal/domain"
	"gorm.io/gorm"
)

const cancelledByUserMessage = "cancelled by user"

// ListParams filters the ledger history listing.
type ListParams struct {
	Status         *domain.LogStatus
	NotificationID *string
	Phone          *string
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

// StatusSummary is one row of the per-status aggregate.
type StatusSummary struct {
	Status domain.LogStatus `gorm:"column:status"`
	Count  int              `gorm:"column:count"`
}

// TransitionDetail carries the optional fields stamped alongside a status
// transition.
type TransitionDetail struct {
	ExternalID   *string
	ErrorMessage *string
	At           time.Time
}

type SmsLogRepository interface {
	Create(ctx context.Context, l *domain.SmsLog) error
	CreateBatch(ctx context.Context, logs []*domain.SmsLog) error
	GetByID(ctx context.Context, id string) (*domain.SmsLog, error)
	FindByExternalID(ctx context.Context, externalID string) (*domain.SmsLog, error)
	FindRecentPendingByPhone(ctx context.Context, phone string, window time.Duration) (*domain.SmsLog, error)
	Transition(ctx context.Context, id string, to domain.LogStatus, detail TransitionDetail) (*domain.SmsLog, error)
	SetExternalID(ctx context.Context, id string, externalID string) error
	Retry(ctx context.Context, id string, maxRetries int) (*domain.SmsLog, error)
	Cancel(ctx context.Context, id string) error
	CancelAllPending(ctx context.Context) (int64, error)
	Ignore(ctx context.Context, id string) error
	IgnoreAllFailed(ctx context.Context) (int64, error)
	ListFailed(ctx context.Context) ([]domain.SmsLog, error)
	List(ctx context.Context, params ListParams) ([]domain.SmsLog, int64, error)
	GetStatusSummary(ctx context.Context, notificationID *string) ([]StatusSummary, error)
}

type GormSmsLogRepo struct {
	db *gorm.DB
}

func NewGormSmsLogRepo(db *gorm.DB) *GormSmsLogRepo {
	return &GormSmsLogRepo{db: db}
}

func (r *GormSmsLogRepo) Create(ctx context.Context, l *domain.SmsLog) error {
	model := smsLogModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *smsLogModelToDomain(model)
	}
	return nil
}

func (r *GormSmsLogRepo) CreateBatch(ctx context.Context, logs []*domain.SmsLog) error {
	models := make([]SmsLogModel, 0, len(logs))
	modelIndexes := make([]int, 0, len(logs))
	for i, l := range logs {
		model := smsLogModelFromDomain(l)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(logs) && logs[idx] != nil {
			*logs[idx] = *smsLogModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormSmsLogRepo) GetByID(ctx context.Context, id string) (*domain.SmsLog, error) {
	var model SmsLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return smsLogModelToDomain(&model), nil
}

func (r *GormSmsLogRepo) FindByExternalID(ctx context.Context, externalID string) (*domain.SmsLog, error) {
	var model SmsLogModel
	err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return smsLogModelToDomain(&model), nil
}

// FindRecentPendingByPhone is the last correlation fallback: the most
// recent PENDING entry for a phone created inside the window.
func (r *GormSmsLogRepo) FindRecentPendingByPhone(ctx context.Context, phone string, window time.Duration) (*domain.SmsLog, error) {
	var model SmsLogModel
	err := r.db.WithContext(ctx).
		Where("phone_number = ? AND status = ? AND created_at >= ?",
			phone, domain.LogStatusPending, time.Now().Add(-window)).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return smsLogModelToDomain(&model), nil
}

// Transition moves an entry along the delivery state graph with a single
// guarded update. A row that exists but is not in a valid source state
// yields ErrStaleTransition, which callers treat as a no-op replay.
func (r *GormSmsLogRepo) Transition(ctx context.Context, id string, to domain.LogStatus, detail TransitionDetail) (*domain.SmsLog, error) {
	sources := domain.TransitionSources(to)
	if len(sources) == 0 {
		return nil, domain.ErrStaleTransition
	}

	at := detail.At
	if at.IsZero() {
		at = time.Now()
	}

	updates := map[string]any{"status": to}
	if detail.ExternalID != nil {
		updates["external_id"] = *detail.ExternalID
	}
	if detail.ErrorMessage != nil {
		updates["error_message"] = *detail.ErrorMessage
	}
	switch to {
	case domain.LogStatusSent:
		updates["sent_at"] = at
	case domain.LogStatusDelivered:
		updates["delivered_at"] = at
	}

	result := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrStaleTransition
	}

	return r.GetByID(ctx, id)
}

// SetExternalID attaches the gateway message id to an entry that stayed
// PENDING after dispatch, so later reports can correlate by id.
func (r *GormSmsLogRepo) SetExternalID(ctx context.Context, id string, externalID string) error {
	return r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("id = ?", id).
		Update("external_id", externalID).Error
}

// Retry re-enters PENDING from FAILED and bumps the retry counter. A
// maxRetries of zero or less disables the bound (operator override).
func (r *GormSmsLogRepo) Retry(ctx context.Context, id string, maxRetries int) (*domain.SmsLog, error) {
	query := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("id = ? AND status = ?", id, domain.LogStatusFailed)
	if maxRetries > 0 {
		query = query.Where("retry_count < ?", maxRetries)
	}

	result := query.Updates(map[string]any{
		"status":        domain.LogStatusPending,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"error_message": nil,
	})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrRetryNotAllowed
	}

	return r.GetByID(ctx, id)
}

// Cancel fails a still-PENDING entry on user request and marks it ignored
// so bulk retries skip it.
func (r *GormSmsLogRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("id = ? AND status = ?", id, domain.LogStatusPending).
		Updates(map[string]any{
			"status":        domain.LogStatusFailed,
			"error_message": cancelledByUserMessage,
			"ignored":       true,
		})
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

func (r *GormSmsLogRepo) CancelAllPending(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("status = ? AND ignored = ?", domain.LogStatusPending, false).
		Updates(map[string]any{
			"status":        domain.LogStatusFailed,
			"error_message": cancelledByUserMessage,
			"ignored":       true,
		})
	return result.RowsAffected, result.Error
}

func (r *GormSmsLogRepo) Ignore(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("id = ?", id).
		Update("ignored", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSmsLogRepo) IgnoreAllFailed(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Where("status = ? AND ignored = ?", domain.LogStatusFailed, false).
		Update("ignored", true)
	return result.RowsAffected, result.Error
}

// ListFailed returns the failed entries eligible for a bulk retry, so
// ignored rows are excluded.
func (r *GormSmsLogRepo) ListFailed(ctx context.Context) ([]domain.SmsLog, error) {
	var models []SmsLogModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND ignored = ?", domain.LogStatusFailed, false).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.SmsLog, 0, len(models))
	for i := range models {
		logs = append(logs, *smsLogModelToDomain(&models[i]))
	}
	return logs, nil
}

func (r *GormSmsLogRepo) List(ctx context.Context, params ListParams) ([]domain.SmsLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&SmsLogModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.NotificationID != nil {
		query = query.Where("notification_id = ?", *params.NotificationID)
	}
	if params.Phone != nil {
		query = query.Where("phone_number = ?", *params.Phone)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []SmsLogModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	logs := make([]domain.SmsLog, 0, len(models))
	for i := range models {
		logs = append(logs, *smsLogModelToDomain(&models[i]))
	}

	return logs, total, nil
}

// GetStatusSummary aggregates ledger counts by status, either globally or
// scoped to one notification.
func (r *GormSmsLogRepo) GetStatusSummary(ctx context.Context, notificationID *string) ([]StatusSummary, error) {
	query := r.db.WithContext(ctx).
		Model(&SmsLogModel{}).
		Select("status, COUNT(*) as count")
	if notificationID != nil {
		query = query.Where("notification_id = ?", *notificationID)
	}

	var summaries []StatusSummary
	if err := query.Group("status").Scan(&summaries).Error; err != nil {
		return nil, err
	}
	return summaries, nil
}
