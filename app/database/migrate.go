package database

import (
	"task-miner/app/model"

	"gorm.io/gorm"
)

func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ProcessingRun{},
		&model.AuditEvent{},
	)
}
