// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opengrants/grants-backend/internal/config"
	"github.com/opengrants/grants-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.Account{},
		&models.Workspace{},
		&models.WorkspaceMember{},
		&models.Grant{},
		&models.ReviewerAssignmentCount{},
		&models.Application{},
		&models.Milestone{},
		&models.Review{},
		&models.ReviewCounter{},
		&models.ReviewPayout{},
		&models.Event{},
		&models.LedgerState{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if err := seedLedgerStates(db); err != nil {
		return fmt.Errorf("failed to seed ledger states: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Workspace indexes
		"CREATE INDEX IF NOT EXISTS idx_workspace_members_address_active ON workspace_members(address, is_active)",
		"CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner)",

		// Grant indexes
		"CREATE INDEX IF NOT EXISTS idx_grants_workspace_active ON grants(workspace_id, is_active)",

		// Application indexes
		"CREATE INDEX IF NOT EXISTS idx_applications_grant_state ON applications(grant_id, state)",
		"CREATE INDEX IF NOT EXISTS idx_applications_applicant_grant ON applications(applicant, grant_id)",

		// Review indexes
		"CREATE INDEX IF NOT EXISTS idx_reviews_reviewer_active ON reviews(reviewer, is_active)",
		"CREATE INDEX IF NOT EXISTS idx_reviews_application ON reviews(application_id, is_active)",
		"CREATE INDEX IF NOT EXISTS idx_reviews_review_id ON reviews(review_id)",

		// Event indexes
		"CREATE INDEX IF NOT EXISTS idx_events_name_created ON events(name, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_events_workspace ON events(workspace_id, created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// seedLedgerStates makes sure each ledger has its pause-flag row.
func seedLedgerStates(db *gorm.DB) error {
	names := []string{
		models.LedgerWorkspaces,
		models.LedgerGrants,
		models.LedgerApplications,
		models.LedgerReviews,
	}

	for _, name := range names {
		var count int64
		db.Model(&models.LedgerState{}).Where("name = ?", name).Count(&count)
		if count == 0 {
			if err := db.Create(&models.LedgerState{Name: name}).Error; err != nil {
				return err
			}
		}
	}

	var counter int64
	db.Model(&models.ReviewCounter{}).Count(&counter)
	if counter == 0 {
		if err := db.Create(&models.ReviewCounter{Next: 0}).Error; err != nil {
			return err
		}
	}

	return nil
}

// WithTransaction runs fn in one all-or-nothing transaction. Every
// mutating ledger operation goes through here.
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
