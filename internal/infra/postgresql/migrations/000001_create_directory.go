package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/mirado/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDirectoryTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_directory",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ParentModel{}, &repository.StudentModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_students_classe ON students (classe) WHERE active`,
				`CREATE INDEX IF NOT EXISTS idx_students_niveau ON students (niveau) WHERE active`,
				`CREATE INDEX IF NOT EXISTS idx_students_parent_id ON students (parent_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.StudentModel{}, &repository.ParentModel{})
		},
	}
}
