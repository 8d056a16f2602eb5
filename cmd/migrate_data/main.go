package main

import (
	"fmt"

	"whatsapp-automations/internal/config"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

func main() {
	cfg := config.LoadConfig()
	log := logger.NewLogger(cfg.LogLevel)

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to SQLite: " + err.Error())
	}
	log.WithField("path", cfg.DBPath).Info("Connected to SQLite")

	// 2. Connect to PostgreSQL (Destination); Open migrates the schema
	pgCfg := *cfg
	pgCfg.DBDriver = "postgres"
	pgDB, err := database.Open(&pgCfg)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL: " + err.Error())
	}

	log.Info("Starting data migration...")

	// Referenced rows first so a later foreign key never points at nothing.
	steps := []struct {
		table string
		copy  func(src, dst *gorm.DB) (int, error)
	}{
		{"connections", copyTable[models.Connection]},
		{"devices", copyTable[models.Device]},
		{"message_templates", copyTable[models.MessageTemplate]},
		{"automations", copyTable[models.Automation]},
		{"runs", copyTable[models.Run]},
		{"otps", copyTable[models.OTP]},
		{"otp_verification_events", copyTable[models.OTPVerificationEvent]},
		{"queue_jobs", copyTable[models.QueueJob]},
	}

	failed := 0
	for _, step := range steps {
		n, err := step.copy(sqliteDB, pgDB)
		if err != nil {
			failed++
			log.WithFields(map[string]interface{}{"table": step.table, "error": err.Error()}).Error("Error migrating table")
			continue
		}
		log.WithFields(map[string]interface{}{"table": step.table, "rows": n}).Info("Successfully migrated table")
	}

	if failed > 0 {
		log.Fatal(fmt.Sprintf("Migration finished with %d failed tables", failed))
	}
	log.Info("Migration completed!")
}

// copyTable moves every row of T in batches. Rows already present in the
// destination are skipped, so the tool can be re-run after a partial copy.
func copyTable[T any](src, dst *gorm.DB) (int, error) {
	var rows []T
	total := 0
	err := src.FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
		err := dst.Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		})
		if err != nil {
			return err
		}
		total += len(rows)
		return nil
	}).Error
	return total, err
}
