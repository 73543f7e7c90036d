package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/mirado/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			return tx.Exec(
				`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (scheduled_at) WHERE status = 'DRAFT'`,
			).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
