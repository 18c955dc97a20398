package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for the given models.
func Migrate(db *gorm.DB, models ...interface{}) error {
	log.Info().Msg("Applying schema migrations...")

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	log.Info().Int("models", len(models)).Msg("Schema migrations applied")
	return nil
}

// HasTable reports whether the model's backing table exists.
func HasTable(db *gorm.DB, model interface{}) bool {
	return db.Migrator().HasTable(model)
}
