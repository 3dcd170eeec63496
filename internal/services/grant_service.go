// internal/services/grant_service.go
package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/database"
	"github.com/opengrants/grants-backend/internal/models"
	"github.com/opengrants/grants-backend/internal/utils"
)

// ReviewConfigurer is the trusted-caller capability GrantService uses
// to set rubrics and enable auto-assignment during grant creation,
// inside the creation transaction.
type ReviewConfigurer interface {
	ConfigureAtCreation(tx *gorm.DB, caller string, req *AutoAssignmentRequest) error
}

// GrantService creates grants on behalf of workspaces and manages
// their funds and accessibility. It doubles as the grant registry the
// application ledger consults on submission.
type GrantService struct {
	db            *gorm.DB
	permissions   PermissionOracle
	notifications *NotificationService
	tokens        TokenTransferrer
	reviews       ReviewConfigurer
}

func NewGrantService(db *gorm.DB, permissions PermissionOracle, notifications *NotificationService, tokens TokenTransferrer, reviews ReviewConfigurer) *GrantService {
	return &GrantService{
		db:            db,
		permissions:   permissions,
		notifications: notifications,
		tokens:        tokens,
		reviews:       reviews,
	}
}

type CreateGrantRequest struct {
	WorkspaceID       uint64   `json:"workspace_id" validate:"required"`
	MetadataRef       string   `json:"metadata_ref" validate:"required,content_ref"`
	RubricsRef        string   `json:"rubrics_ref,omitempty" validate:"omitempty,content_ref"`
	ReviewerPool      []string `json:"reviewer_pool,omitempty" validate:"omitempty,dive,ledger_address"`
	NumPerApplication uint32   `json:"num_per_application,omitempty"`
}

type UpdateGrantRequest struct {
	GrantID     uint64 `json:"grant_id" validate:"required"`
	WorkspaceID uint64 `json:"workspace_id" validate:"required"`
	MetadataRef string `json:"metadata_ref" validate:"required,content_ref"`
}

type DepositFundsRequest struct {
	GrantID     uint64 `json:"grant_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,min=1"`
	Currency    string `json:"currency,omitempty"`
	TransferRef string `json:"transfer_ref,omitempty"`
}

type DisburseRewardRequest struct {
	GrantID        uint64 `json:"grant_id" validate:"required"`
	WorkspaceID    uint64 `json:"workspace_id" validate:"required"`
	ApplicationID  uint64 `json:"application_id" validate:"required"`
	MilestoneIndex uint32 `json:"milestone_index"`
	Amount         int64  `json:"amount" validate:"required,min=1"`
	Currency       string `json:"currency,omitempty"`
}

// CreateGrant creates a grant under a workspace. When rubrics or a
// reviewer pool are supplied, the review ledger is configured within
// the same transaction through the trusted-caller path, so a grant
// never appears half-configured.
func (s *GrantService) CreateGrant(caller string, req *CreateGrantRequest) (*models.Grant, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	var grant *models.Grant
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerGrants); err != nil {
			return err
		}

		var workspace models.Workspace
		if err := tx.First(&workspace, req.WorkspaceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound(fmt.Sprintf("workspace %d", req.WorkspaceID))
			}
			return apperrors.Internal(err)
		}
		if !workspace.IsActive {
			return apperrors.State("CreateGrant: workspace is not active")
		}

		ok, err := s.permissions.IsAdminTx(tx, req.WorkspaceID, caller)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Authorization("Unauthorised: not an admin")
		}

		grant = &models.Grant{
			WorkspaceID: req.WorkspaceID,
			MetadataRef: req.MetadataRef,
			IsActive:    true,
		}
		if err := tx.Create(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		if req.RubricsRef != "" || len(req.ReviewerPool) > 0 {
			if err := s.reviews.ConfigureAtCreation(tx, caller, &AutoAssignmentRequest{
				WorkspaceID:       req.WorkspaceID,
				GrantID:           grant.ID,
				ReviewerPool:      req.ReviewerPool,
				NumPerApplication: req.NumPerApplication,
				RubricsRef:        req.RubricsRef,
			}); err != nil {
				return err
			}
			if err := tx.First(grant, grant.ID).Error; err != nil {
				return apperrors.Internal(err)
			}
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventGrantCreated,
			Actor:       caller,
			WorkspaceID: ptr(req.WorkspaceID),
			GrantID:     ptr(grant.ID),
			Payload: models.JSONB{
				"metadata_ref": req.MetadataRef,
				"rubrics_ref":  req.RubricsRef,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// UpdateGrant rewrites the grant metadata. Locked once the first
// application has been accepted so applicants never race a moving
// target.
func (s *GrantService) UpdateGrant(caller string, req *UpdateGrantRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerGrants); err != nil {
			return err
		}

		grant, err := s.loadGrant(tx, req.GrantID)
		if err != nil {
			return err
		}
		if grant.WorkspaceID != req.WorkspaceID {
			return apperrors.Consistency("UpdateGrant: workspace mismatch")
		}
		if err := s.requireAdmin(tx, grant.WorkspaceID, caller); err != nil {
			return err
		}
		if grant.NumApplicants > 0 {
			return apperrors.State("UpdateGrant: grant locked after first application")
		}

		grant.MetadataRef = req.MetadataRef
		if err := tx.Save(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventGrantUpdated,
			Actor:       caller,
			WorkspaceID: ptr(grant.WorkspaceID),
			GrantID:     ptr(grant.ID),
			Payload:     models.JSONB{"metadata_ref": req.MetadataRef},
		})
	})
}

// UpdateGrantAccessibility opens or closes the grant for new
// applications. Existing applications proceed either way.
func (s *GrantService) UpdateGrantAccessibility(caller string, grantID uint64, active bool) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerGrants); err != nil {
			return err
		}

		grant, err := s.loadGrant(tx, grantID)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(tx, grant.WorkspaceID, caller); err != nil {
			return err
		}
		if grant.IsActive == active {
			return apperrors.State("UpdateGrantAccessibility: already in requested state")
		}

		grant.IsActive = active
		if err := tx.Save(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventGrantAccessibilityUpdated,
			Actor:       caller,
			WorkspaceID: ptr(grant.WorkspaceID),
			GrantID:     ptr(grant.ID),
			Payload:     models.JSONB{"is_active": active},
		})
	})
}

// DepositFunds records an inbound transfer against the grant balance.
// The transfer itself happens out-of-band; the reference ties the
// ledger entry to it.
func (s *GrantService) DepositFunds(caller string, req *DepositFundsRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerGrants); err != nil {
			return err
		}

		grant, err := s.loadGrant(tx, req.GrantID)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(tx, grant.WorkspaceID, caller); err != nil {
			return err
		}

		if err := tx.Model(grant).
			Update("balance", gorm.Expr("balance + ?", req.Amount)).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventFundsDeposited,
			Actor:       caller,
			WorkspaceID: ptr(grant.WorkspaceID),
			GrantID:     ptr(grant.ID),
			Payload: models.JSONB{
				"amount":       req.Amount,
				"currency":     req.Currency,
				"transfer_ref": req.TransferRef,
			},
		})
	})
}

// DisburseReward transfers grant funds to an applicant, usually
// against an approved milestone. The balance decrement and the
// external transfer ride the same transaction; a failed transfer
// restores the balance.
func (s *GrantService) DisburseReward(caller string, req *DisburseRewardRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerGrants); err != nil {
			return err
		}

		grant, err := s.loadGrant(tx, req.GrantID)
		if err != nil {
			return err
		}
		if grant.WorkspaceID != req.WorkspaceID {
			return apperrors.Consistency("DisburseReward: workspace mismatch")
		}
		if err := s.requireAdmin(tx, grant.WorkspaceID, caller); err != nil {
			return err
		}

		var app models.Application
		if err := tx.First(&app, req.ApplicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound(fmt.Sprintf("application %d", req.ApplicationID))
			}
			return apperrors.Internal(err)
		}
		if app.GrantID != grant.ID {
			return apperrors.Consistency("DisburseReward: application does not belong to grant")
		}

		if grant.Balance < req.Amount {
			return apperrors.State("DisburseReward: insufficient grant balance")
		}
		grant.Balance -= req.Amount
		if err := tx.Save(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		transferRef, err := s.tokens.Transfer(app.Applicant, req.Amount, req.Currency)
		if err != nil {
			return err
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventDisburseReward,
			Actor:       caller,
			WorkspaceID: ptr(grant.WorkspaceID),
			GrantID:     ptr(grant.ID),
			Payload: models.JSONB{
				"application_id":  app.ID,
				"applicant":       app.Applicant,
				"milestone_index": req.MilestoneIndex,
				"amount":          req.Amount,
				"currency":        req.Currency,
				"transfer_ref":    transferRef,
			},
		})
	})
}

// GrantForSubmissionTx is the registry check the application ledger
// makes when accepting a submission: the grant must exist and be open.
func (s *GrantService) GrantForSubmissionTx(tx *gorm.DB, grantID uint64) (*models.Grant, error) {
	grant, err := s.loadGrant(tx, grantID)
	if err != nil {
		return nil, err
	}
	if !grant.IsActive {
		return nil, apperrors.State("SubmitApplication: grant is not accepting applications")
	}
	return grant, nil
}

// IncrementApplicantsTx bumps the applicant counter inside the
// submission transaction.
func (s *GrantService) IncrementApplicantsTx(tx *gorm.DB, grantID uint64) error {
	if err := tx.Model(&models.Grant{}).
		Where("id = ?", grantID).
		Update("num_applicants", gorm.Expr("num_applicants + 1")).Error; err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// Read API

func (s *GrantService) GetGrant(id uint64) (*models.Grant, error) {
	return s.loadGrant(s.db, id)
}

func (s *GrantService) ListGrants(workspaceID uint64, params utils.PaginationParams) ([]models.Grant, int64, error) {
	query := s.db.Model(&models.Grant{})
	if workspaceID != 0 {
		query = query.Where("workspace_id = ?", workspaceID)
	} else {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	query = utils.ApplySort(query, params, []string{"id", "created_at", "num_applicants"})
	query = utils.ApplyPagination(query, params)

	var grants []models.Grant
	if err := query.Find(&grants).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return grants, total, nil
}

func (s *GrantService) requireAdmin(tx *gorm.DB, workspaceID uint64, caller string) error {
	ok, err := s.permissions.IsAdminTx(tx, workspaceID, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Authorization("Unauthorised: not an admin")
	}
	return nil
}

func (s *GrantService) loadGrant(tx *gorm.DB, id uint64) (*models.Grant, error) {
	var grant models.Grant
	if err := tx.First(&grant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("grant %d", id))
		}
		return nil, apperrors.Internal(err)
	}
	return &grant, nil
}
