package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/mirado/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSmsLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_sms_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SmsLogModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_external_id ON sms_logs (external_id) WHERE external_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_phone_created ON sms_logs (phone_number, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_status ON sms_logs (status) WHERE status IN ('PENDING', 'FAILED')`,
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_notification_id ON sms_logs (notification_id) WHERE notification_id IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SmsLogModel{})
		},
	}
}
