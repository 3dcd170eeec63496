// internal/services/migration_service.go
package services

import (
	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/database"
	"github.com/opengrants/grants-backend/internal/models"
	"github.com/opengrants/grants-backend/internal/utils"
)

// The migrators are the per-ledger halves of a wallet migration. Each
// runs inside the migration transaction; any failure aborts the whole
// migration, so an address never ends up migrated in one ledger and
// not another.
type RoleMigrator interface {
	MigrateRolesTx(tx *gorm.DB, oldAddress, newAddress string) ([]uint64, error)
}

type ReviewMigrator interface {
	MigratePoolsTx(tx *gorm.DB, oldAddress, newAddress string) error
	MigrateReviewsTx(tx *gorm.DB, oldAddress, newAddress string) error
}

type ApplicantMigrator interface {
	MigrateApplicantTx(tx *gorm.DB, oldAddress, newAddress string) ([]uint64, error)
}

// AccountRebinder moves the platform login bound to the old address,
// so tokens issued after the migration carry the new identity.
type AccountRebinder interface {
	RebindAddressTx(tx *gorm.DB, oldAddress, newAddress string) error
}

// MigrationService moves every record keyed by a wallet address to a
// new address in one atomic operation.
type MigrationService struct {
	db            *gorm.DB
	notifications *NotificationService
	roles         RoleMigrator
	reviews       ReviewMigrator
	applications  ApplicantMigrator
	accounts      AccountRebinder
}

func NewMigrationService(db *gorm.DB, notifications *NotificationService, roles RoleMigrator, reviews ReviewMigrator, applications ApplicantMigrator, accounts AccountRebinder) *MigrationService {
	return &MigrationService{
		db:            db,
		notifications: notifications,
		roles:         roles,
		reviews:       reviews,
		applications:  applications,
		accounts:      accounts,
	}
}

type MigrateWalletRequest struct {
	OldAddress string `json:"old_address" validate:"required,ledger_address"`
	NewAddress string `json:"new_address" validate:"required,ledger_address"`
}

// MigrateWallet rekeys roles, reviewer pools, assignment counters,
// reviews, applications and the platform login from the old address to
// the new one. Only the holder of the old address may trigger it.
func (s *MigrationService) MigrateWallet(caller string, req *MigrateWalletRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if caller != req.OldAddress {
		return apperrors.Authorization("MigrateWallet: caller is not the wallet owner")
	}
	if req.OldAddress == req.NewAddress {
		return apperrors.Parameter("MigrateWallet: addresses are identical")
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerWorkspaces); err != nil {
			return err
		}
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}

		workspaceIDs, err := s.roles.MigrateRolesTx(tx, req.OldAddress, req.NewAddress)
		if err != nil {
			return err
		}
		if err := s.reviews.MigratePoolsTx(tx, req.OldAddress, req.NewAddress); err != nil {
			return err
		}
		if err := s.reviews.MigrateReviewsTx(tx, req.OldAddress, req.NewAddress); err != nil {
			return err
		}
		applicationIDs, err := s.applications.MigrateApplicantTx(tx, req.OldAddress, req.NewAddress)
		if err != nil {
			return err
		}
		if err := s.accounts.RebindAddressTx(tx, req.OldAddress, req.NewAddress); err != nil {
			return err
		}

		return s.notifications.Emit(tx, EventParams{
			Name:  models.EventWalletMigrated,
			Actor: caller,
			Payload: models.JSONB{
				"old_address":     req.OldAddress,
				"new_address":     req.NewAddress,
				"workspace_ids":   workspaceIDs,
				"application_ids": applicationIDs,
			},
		})
	})
}
