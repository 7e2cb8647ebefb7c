package database

import (
	"halog/internal/database/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.LogSource{},
		&models.Session{},
		&models.IPLocation{},
	)
}
