package repository

import (
	"context"

	"github.com/mirado/sms-dispatch/internal/domain"
	"gorm.io/gorm"
)

// DirectoryRepository reads the school directory to resolve notification
// targets into students and their parents.
type DirectoryRepository interface {
	FindActive(ctx context.Context) ([]domain.Student, error)
	FindByClasses(ctx context.Context, classes []string) ([]domain.Student, error)
	FindByLevels(ctx context.Context, levels []string) ([]domain.Student, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.Student, error)
}

type GormDirectoryRepo struct {
	db *gorm.DB
}

func NewGormDirectoryRepo(db *gorm.DB) *GormDirectoryRepo {
	return &GormDirectoryRepo{db: db}
}

func (r *GormDirectoryRepo) FindActive(ctx context.Context) ([]domain.Student, error) {
	return r.find(ctx, r.db.WithContext(ctx).Where("active = ?", true))
}

func (r *GormDirectoryRepo) FindByClasses(ctx context.Context, classes []string) ([]domain.Student, error) {
	if len(classes) == 0 {
		return nil, nil
	}
	return r.find(ctx, r.db.WithContext(ctx).Where("active = ? AND classe IN ?", true, classes))
}

func (r *GormDirectoryRepo) FindByLevels(ctx context.Context, levels []string) ([]domain.Student, error) {
	if len(levels) == 0 {
		return nil, nil
	}
	return r.find(ctx, r.db.WithContext(ctx).Where("active = ? AND niveau IN ?", true, levels))
}

// FindByIDs does not filter on active: an explicitly targeted student is
// honored even when deactivated.
func (r *GormDirectoryRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, r.db.WithContext(ctx).Where("id IN ?", ids))
}

func (r *GormDirectoryRepo) find(ctx context.Context, query *gorm.DB) ([]domain.Student, error) {
	var models []StudentModel
	err := query.
		Preload("Parent").
		Order("last_name ASC, first_name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	students := make([]domain.Student, 0, len(models))
	for i := range models {
		students = append(students, *studentModelToDomain(&models[i]))
	}
	return students, nil
}
