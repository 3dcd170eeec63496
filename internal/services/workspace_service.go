// internal/services/workspace_service.go
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

// WorkspaceService owns workspace records and membership roles. Its
// role predicates are the single authorization gate; no other service
// duplicates role logic.
type WorkspaceService struct {
	db            *gorm.DB
	notifications *NotificationService
}

func NewWorkspaceService(db *gorm.DB, notifications *NotificationService) *WorkspaceService {
	return &WorkspaceService{
		db:            db,
		notifications: notifications,
	}
}

type CreateWorkspaceRequest struct {
	Title       string `json:"title" validate:"max=255"`
	MetadataRef string `json:"metadata_ref" validate:"required,content_ref"`
	CustodyRef  string `json:"custody_ref,omitempty" validate:"omitempty,content_ref"`
}

type UpdateMembersRequest struct {
	Addresses    []string `json:"addresses" validate:"required,min=1,dive,ledger_address"`
	Roles        []string `json:"roles" validate:"required"`
	Actives      []bool   `json:"actives" validate:"required"`
	MetadataRefs []string `json:"metadata_refs" validate:"required"`
}

type UpdateWorkspaceRequest struct {
	Title       string `json:"title,omitempty" validate:"omitempty,max=255"`
	MetadataRef string `json:"metadata_ref,omitempty" validate:"omitempty,content_ref"`
	IsVisible   *bool  `json:"is_visible,omitempty"`
}

func (s *WorkspaceService) CreateWorkspace(caller string, req *CreateWorkspaceRequest) (*models.Workspace, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if !utils.IsValidAddress(caller) {
		return nil, apperrors.Parameter("caller is not a valid ledger address")
	}

	var workspace *models.Workspace
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerWorkspaces); err != nil {
			return err
		}

		workspace = &models.Workspace{
			Title:       req.Title,
			MetadataRef: req.MetadataRef,
			CustodyRef:  req.CustodyRef,
			Owner:       caller,
			IsActive:    true,
			IsVisible:   true,
		}
		if err := tx.Create(workspace).Error; err != nil {
			return apperrors.Internal(err)
		}

		// The creator is the first admin; the owner flag protects this
		// entry from demotion by anyone else.
		member := &models.WorkspaceMember{
			WorkspaceID: workspace.ID,
			Address:     caller,
			Role:        models.MemberRoleAdmin,
			IsActive:    true,
		}
		if err := tx.Create(member).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventWorkspaceCreated,
			Actor:       caller,
			WorkspaceID: ptr(workspace.ID),
			Payload:     models.JSONB{"metadata_ref": req.MetadataRef},
		})
	})
	if err != nil {
		return nil, err
	}

	return workspace, nil
}

func (s *WorkspaceService) UpdateWorkspace(caller string, workspaceID uint64, req *UpdateWorkspaceRequest) (*models.Workspace, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	var workspace models.Workspace
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerWorkspaces); err != nil {
			return err
		}
		if err := s.loadWorkspace(tx, workspaceID, &workspace); err != nil {
			return err
		}
		if err := s.requireAdmin(tx, workspaceID, caller); err != nil {
			return err
		}

		if req.Title != "" {
			workspace.Title = req.Title
		}
		if req.MetadataRef != "" {
			workspace.MetadataRef = req.MetadataRef
		}
		if req.IsVisible != nil {
			workspace.IsVisible = *req.IsVisible
		}
		if err := tx.Save(&workspace).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventWorkspaceUpdated,
			Actor:       caller,
			WorkspaceID: ptr(workspaceID),
			Payload:     models.JSONB{"metadata_ref": workspace.MetadataRef},
		})
	})
	if err != nil {
		return nil, err
	}
	return &workspace, nil
}

// UpdateMembers applies a bulk role mutation. The caller must be an
// admin, or a reviewer touching only the metadata of their own entry.
// The owner's admin entry can only be demoted by the owner, and no
// update may leave the workspace without an active admin.
func (s *WorkspaceService) UpdateMembers(caller string, workspaceID uint64, req *UpdateMembersRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	n := len(req.Addresses)
	if len(req.Roles) != n || len(req.Actives) != n || len(req.MetadataRefs) != n {
		return apperrors.Parameter("UpdateMembers: parameters length mismatch")
	}

	roles := make([]models.MemberRole, n)
	for i, r := range req.Roles {
		switch models.MemberRole(r) {
		case models.MemberRoleAdmin, models.MemberRoleReviewer:
			roles[i] = models.MemberRole(r)
		default:
			return apperrors.Newf(apperrors.KindParameter, "unknown role %q", r)
		}
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerWorkspaces); err != nil {
			return err
		}

		var workspace models.Workspace
		if err := s.loadWorkspace(tx, workspaceID, &workspace); err != nil {
			return err
		}

		callerIsAdmin, err := s.isAdminTx(tx, workspaceID, caller)
		if err != nil {
			return err
		}

		if !callerIsAdmin {
			// Reviewer self-service path: exactly one entry, their own,
			// metadata only. All auth checks run before any write.
			selfOnly := n == 1 && req.Addresses[0] == caller
			if !selfOnly {
				return apperrors.Authorization("UpdateMembers: not an admin")
			}
			var self models.WorkspaceMember
			if err := tx.Where("workspace_id = ? AND address = ?", workspaceID, caller).
				First(&self).Error; err != nil {
				return apperrors.Authorization("UpdateMembers: not a member")
			}
			if !self.HoldsRole(models.MemberRoleReviewer) {
				return apperrors.Authorization("UpdateMembers: not an admin")
			}
			if roles[0] != self.Role || req.Actives[0] != self.IsActive {
				return apperrors.Authorization("UpdateMembers: reviewers may update only their own metadata")
			}
		}

		for i := 0; i < n; i++ {
			// Only the owner may drop their own admin entry.
			if req.Addresses[i] == workspace.Owner && caller != workspace.Owner {
				if roles[i] != models.MemberRoleAdmin || !req.Actives[i] {
					return apperrors.Authorization("UpdateMembers: cannot demote workspace owner")
				}
			}

			var member models.WorkspaceMember
			err := tx.Where("workspace_id = ? AND address = ?", workspaceID, req.Addresses[i]).
				First(&member).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				member = models.WorkspaceMember{
					WorkspaceID: workspaceID,
					Address:     req.Addresses[i],
				}
			case err != nil:
				return apperrors.Internal(err)
			}

			member.Role = roles[i]
			member.IsActive = req.Actives[i]
			member.MetadataRef = req.MetadataRefs[i]
			if err := tx.Save(&member).Error; err != nil {
				return apperrors.Internal(err)
			}
		}

		// Role invariant: the update must not leave the workspace
		// without an active admin.
		var adminCount int64
		if err := tx.Model(&models.WorkspaceMember{}).
			Where("workspace_id = ? AND role = ? AND is_active = ?",
				workspaceID, models.MemberRoleAdmin, true).
			Count(&adminCount).Error; err != nil {
			return apperrors.Internal(err)
		}
		if adminCount == 0 {
			return apperrors.State("UpdateMembers: workspace must retain at least one active admin")
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventWorkspaceMembersUpdated,
			Actor:       caller,
			WorkspaceID: ptr(workspaceID),
			Payload: models.JSONB{
				"addresses": req.Addresses,
				"roles":     req.Roles,
				"actives":   req.Actives,
			},
		})
	})
}

// IsAdmin is the pure permission predicate other ledgers call.
func (s *WorkspaceService) IsAdmin(workspaceID uint64, address string) (bool, error) {
	return s.isAdminTx(s.db, workspaceID, address)
}

func (s *WorkspaceService) IsAdminOrReviewer(workspaceID uint64, address string) (bool, error) {
	return s.isAdminOrReviewerTx(s.db, workspaceID, address)
}

// IsAdminTx and IsAdminOrReviewerTx are the transaction-scoped forms
// used by cross-registry calls so nested checks see in-flight writes.
func (s *WorkspaceService) IsAdminTx(tx *gorm.DB, workspaceID uint64, address string) (bool, error) {
	return s.isAdminTx(tx, workspaceID, address)
}

func (s *WorkspaceService) IsAdminOrReviewerTx(tx *gorm.DB, workspaceID uint64, address string) (bool, error) {
	return s.isAdminOrReviewerTx(tx, workspaceID, address)
}

func (s *WorkspaceService) isAdminTx(tx *gorm.DB, workspaceID uint64, address string) (bool, error) {
	var count int64
	err := tx.Model(&models.WorkspaceMember{}).
		Where("workspace_id = ? AND address = ? AND role = ? AND is_active = ?",
			workspaceID, address, models.MemberRoleAdmin, true).
		Count(&count).Error
	if err != nil {
		return false, apperrors.Internal(err)
	}
	return count > 0, nil
}

func (s *WorkspaceService) isAdminOrReviewerTx(tx *gorm.DB, workspaceID uint64, address string) (bool, error) {
	var count int64
	err := tx.Model(&models.WorkspaceMember{}).
		Where("workspace_id = ? AND address = ? AND is_active = ?", workspaceID, address, true).
		Count(&count).Error
	if err != nil {
		return false, apperrors.Internal(err)
	}
	return count > 0, nil
}

func (s *WorkspaceService) requireAdmin(tx *gorm.DB, workspaceID uint64, caller string) error {
	ok, err := s.isAdminTx(tx, workspaceID, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Authorization("Unauthorised: not an admin")
	}
	return nil
}

// MigrateRolesTx copies every role entry held by oldAddress to
// newAddress and deactivates the old entry, emitting one event per
// affected workspace. Part of the wallet-migration transaction.
func (s *WorkspaceService) MigrateRolesTx(tx *gorm.DB, oldAddress, newAddress string) ([]uint64, error) {
	var members []models.WorkspaceMember
	if err := tx.Where("address = ? AND is_active = ?", oldAddress, true).
		Order("workspace_id ASC").
		Find(&members).Error; err != nil {
		return nil, apperrors.Internal(err)
	}

	affected := make([]uint64, 0, len(members))
	for i := range members {
		old := &members[i]

		var existing models.WorkspaceMember
		err := tx.Where("workspace_id = ? AND address = ?", old.WorkspaceID, newAddress).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			copied := models.WorkspaceMember{
				WorkspaceID: old.WorkspaceID,
				Address:     newAddress,
				Role:        old.Role,
				IsActive:    true,
				MetadataRef: old.MetadataRef,
			}
			if err := tx.Create(&copied).Error; err != nil {
				return nil, apperrors.Internal(err)
			}
		case err != nil:
			return nil, apperrors.Internal(err)
		default:
			// Merge: keep the stronger role, reactivate.
			if existing.Role != models.MemberRoleAdmin {
				existing.Role = old.Role
			}
			existing.IsActive = true
			if err := tx.Save(&existing).Error; err != nil {
				return nil, apperrors.Internal(err)
			}
		}

		old.IsActive = false
		if err := tx.Save(old).Error; err != nil {
			return nil, apperrors.Internal(err)
		}

		// Workspace ownership follows the identity.
		if err := tx.Model(&models.Workspace{}).
			Where("id = ? AND owner = ?", old.WorkspaceID, oldAddress).
			Update("owner", newAddress).Error; err != nil {
			return nil, apperrors.Internal(err)
		}

		if err := s.notifications.Emit(tx, EventParams{
			Name:        models.EventWorkspaceMemberMigrate,
			Actor:       oldAddress,
			WorkspaceID: ptr(old.WorkspaceID),
			Payload: models.JSONB{
				"old_address": oldAddress,
				"new_address": newAddress,
				"role":        string(old.Role),
			},
		}); err != nil {
			return nil, err
		}

		affected = append(affected, old.WorkspaceID)
	}

	return affected, nil
}

func (s *WorkspaceService) GetWorkspace(id uint64) (*models.Workspace, error) {
	var workspace models.Workspace
	if err := s.db.Preload("Members").First(&workspace, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("workspace")
		}
		return nil, apperrors.Internal(err)
	}
	return &workspace, nil
}

func (s *WorkspaceService) ListWorkspaces(params utils.PaginationParams) ([]models.Workspace, int64, error) {
	query := s.db.Model(&models.Workspace{}).Where("is_visible = ?", true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	query = utils.ApplySort(query, params, []string{"id", "created_at", "title"})
	query = utils.ApplyPagination(query, params)

	var workspaces []models.Workspace
	if err := query.Find(&workspaces).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return workspaces, total, nil
}

// SetPaused toggles a ledger's pause flag. Operator gated upstream.
func (s *WorkspaceService) SetPaused(caller, ledger string, paused bool) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		return SetLedgerPaused(tx, s.notifications, caller, ledger, paused)
	})
}

func (s *WorkspaceService) loadWorkspace(tx *gorm.DB, id uint64, out *models.Workspace) error {
	if err := tx.First(out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound(fmt.Sprintf("workspace %d", id))
		}
		return apperrors.Internal(err)
	}
	return nil
}
