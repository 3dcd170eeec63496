// internal/services/application_service.go
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

const maxMilestoneCount = 50

// GrantGateway is what the application ledger needs from the grant
// registry at submission time.
type GrantGateway interface {
	GrantForSubmissionTx(tx *gorm.DB, grantID uint64) (*models.Grant, error)
	IncrementApplicantsTx(tx *gorm.DB, grantID uint64) error
}

// ReviewerAssigner is the synchronous hook into the review ledger. It
// runs inside the submission transaction, so an assignment failure
// rejects the submission as a whole.
type ReviewerAssigner interface {
	OnApplicationSubmittedTx(tx *gorm.DB, app *models.Application) error
}

// ApplicationService owns application and milestone state machines.
type ApplicationService struct {
	db            *gorm.DB
	permissions   PermissionOracle
	notifications *NotificationService
	grants        GrantGateway
	assigner      ReviewerAssigner
}

func NewApplicationService(db *gorm.DB, permissions PermissionOracle, notifications *NotificationService, grants GrantGateway, assigner ReviewerAssigner) *ApplicationService {
	return &ApplicationService{
		db:            db,
		permissions:   permissions,
		notifications: notifications,
		grants:        grants,
		assigner:      assigner,
	}
}

type SubmitApplicationRequest struct {
	GrantID        uint64 `json:"grant_id" validate:"required"`
	WorkspaceID    uint64 `json:"workspace_id" validate:"required"`
	MetadataRef    string `json:"metadata_ref" validate:"required,content_ref"`
	MilestoneCount uint32 `json:"milestone_count" validate:"required,min=1"`
}

type UpdateApplicationStateRequest struct {
	ApplicationID uint64                  `json:"application_id" validate:"required"`
	WorkspaceID   uint64                  `json:"workspace_id" validate:"required"`
	State         models.ApplicationState `json:"state" validate:"required"`
	ReasonRef     string                  `json:"reason_ref,omitempty" validate:"omitempty,content_ref"`
}

type ResubmitApplicationRequest struct {
	ApplicationID  uint64 `json:"application_id" validate:"required"`
	MetadataRef    string `json:"metadata_ref" validate:"required,content_ref"`
	MilestoneCount uint32 `json:"milestone_count,omitempty"`
}

type MilestoneRequest struct {
	ApplicationID  uint64 `json:"application_id" validate:"required"`
	MilestoneIndex uint32 `json:"milestone_index"`
	MetadataRef    string `json:"metadata_ref,omitempty" validate:"omitempty,content_ref"`
}

// SubmitApplication accepts a new application against an open grant.
// One open application per applicant per grant; auto-assignment, when
// the grant has it enabled, happens before the submission commits.
func (s *ApplicationService) SubmitApplication(caller string, req *SubmitApplicationRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if req.MilestoneCount > maxMilestoneCount {
		return nil, apperrors.Newf(apperrors.KindParameter,
			"SubmitApplication: milestone count exceeds %d", maxMilestoneCount)
	}
	if !utils.IsValidAddress(caller) {
		return nil, apperrors.Parameter("SubmitApplication: invalid applicant address")
	}

	var app *models.Application
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerApplications); err != nil {
			return err
		}

		grant, err := s.grants.GrantForSubmissionTx(tx, req.GrantID)
		if err != nil {
			return err
		}
		if grant.WorkspaceID != req.WorkspaceID {
			return apperrors.Consistency("SubmitApplication: workspace mismatch")
		}

		var open int64
		if err := tx.Model(&models.Application{}).
			Where("grant_id = ? AND applicant = ? AND state NOT IN ?", grant.ID, caller,
				[]models.ApplicationState{models.ApplicationStateRejected, models.ApplicationStateCompleted}).
			Count(&open).Error; err != nil {
			return apperrors.Internal(err)
		}
		if open > 0 {
			return apperrors.State("SubmitApplication: applicant already has an open application")
		}

		app = &models.Application{
			GrantID:        grant.ID,
			WorkspaceID:    grant.WorkspaceID,
			Applicant:      caller,
			MetadataRef:    req.MetadataRef,
			State:          models.ApplicationStateSubmitted,
			MilestoneCount: req.MilestoneCount,
		}
		if err := tx.Create(app).Error; err != nil {
			return apperrors.Internal(err)
		}

		if err := s.grants.IncrementApplicantsTx(tx, grant.ID); err != nil {
			return err
		}
		if err := s.assigner.OnApplicationSubmittedTx(tx, app); err != nil {
			return err
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventApplicationSubmitted,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id":  app.ID,
				"metadata_ref":    req.MetadataRef,
				"milestone_count": req.MilestoneCount,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// UpdateApplicationState moves an application along its state machine.
// Admin-only; applicants resubmit through ResubmitApplication instead.
func (s *ApplicationService) UpdateApplicationState(caller string, req *UpdateApplicationStateRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if !req.State.Valid() {
		return apperrors.Newf(apperrors.KindParameter, "unknown application state %q", req.State)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerApplications); err != nil {
			return err
		}

		app, err := s.loadApplication(tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if app.WorkspaceID != req.WorkspaceID {
			return apperrors.Consistency("UpdateApplicationState: workspace mismatch")
		}
		if err := s.requireAdmin(tx, app.WorkspaceID, caller); err != nil {
			return err
		}
		if !app.CanTransition(req.State) {
			return apperrors.Newf(apperrors.KindState,
				"UpdateApplicationState: cannot move from %s to %s", app.State, req.State)
		}

		from := app.State
		app.State = req.State
		if err := tx.Save(app).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventApplicationUpdated,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id": app.ID,
				"from":           from,
				"to":             req.State,
				"reason_ref":     req.ReasonRef,
			},
		})
	})
}

// ResubmitApplication lets the applicant rework an application that
// was sent back or rejected. The state returns to submitted; assigned
// reviewers stay assigned.
func (s *ApplicationService) ResubmitApplication(caller string, req *ResubmitApplicationRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if req.MilestoneCount > maxMilestoneCount {
		return apperrors.Newf(apperrors.KindParameter,
			"ResubmitApplication: milestone count exceeds %d", maxMilestoneCount)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerApplications); err != nil {
			return err
		}

		app, err := s.loadApplication(tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if app.Applicant != caller {
			return apperrors.Authorization("Unauthorised: not the applicant")
		}
		if !app.CanResubmit() {
			return apperrors.Newf(apperrors.KindState,
				"ResubmitApplication: cannot resubmit from %s", app.State)
		}

		app.MetadataRef = req.MetadataRef
		if req.MilestoneCount > 0 {
			app.MilestoneCount = req.MilestoneCount
		}
		app.State = models.ApplicationStateSubmitted
		if err := tx.Save(app).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventApplicationUpdated,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id": app.ID,
				"to":             models.ApplicationStateSubmitted,
				"metadata_ref":   req.MetadataRef,
				"resubmission":   true,
			},
		})
	})
}

// RequestMilestoneApproval is the applicant's claim that a milestone
// is done. Only meaningful once the application itself is approved.
func (s *ApplicationService) RequestMilestoneApproval(caller string, req *MilestoneRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerApplications); err != nil {
			return err
		}

		app, err := s.loadApplication(tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if app.Applicant != caller {
			return apperrors.Authorization("Unauthorised: not the applicant")
		}
		if app.State != models.ApplicationStateApproved {
			return apperrors.State("RequestMilestoneApproval: application is not approved")
		}

		milestone, err := s.loadOrCreateMilestone(tx, app, req.MilestoneIndex)
		if err != nil {
			return err
		}
		if milestone.State != models.MilestoneStatePending {
			return apperrors.Newf(apperrors.KindState,
				"RequestMilestoneApproval: milestone %d is %s", req.MilestoneIndex, milestone.State)
		}

		milestone.State = models.MilestoneStateRequested
		milestone.MetadataRef = req.MetadataRef
		if err := tx.Save(milestone).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventMilestoneUpdated,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id":  app.ID,
				"milestone_index": req.MilestoneIndex,
				"state":           models.MilestoneStateRequested,
				"metadata_ref":    req.MetadataRef,
			},
		})
	})
}

// ApproveMilestone marks a milestone complete. Admins may approve
// directly, skipping the applicant's request.
func (s *ApplicationService) ApproveMilestone(caller string, req *MilestoneRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerApplications); err != nil {
			return err
		}

		app, err := s.loadApplication(tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(tx, app.WorkspaceID, caller); err != nil {
			return err
		}
		if app.State != models.ApplicationStateApproved {
			return apperrors.State("ApproveMilestone: application is not approved")
		}

		milestone, err := s.loadOrCreateMilestone(tx, app, req.MilestoneIndex)
		if err != nil {
			return err
		}
		if milestone.State == models.MilestoneStateApproved {
			return apperrors.Newf(apperrors.KindState,
				"ApproveMilestone: milestone %d already approved", req.MilestoneIndex)
		}

		milestone.State = models.MilestoneStateApproved
		if req.MetadataRef != "" {
			milestone.MetadataRef = req.MetadataRef
		}
		if err := tx.Save(milestone).Error; err != nil {
			return apperrors.Internal(err)
		}

		app.MilestonesDone++
		if err := tx.Save(app).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventMilestoneUpdated,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id":  app.ID,
				"milestone_index": req.MilestoneIndex,
				"state":           models.MilestoneStateApproved,
			},
		})
	})
}

// CompleteApplication closes out an approved application once every
// milestone is done.
func (s *ApplicationService) CompleteApplication(caller string, applicationID, workspaceID uint64) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerApplications); err != nil {
			return err
		}

		app, err := s.loadApplication(tx, applicationID)
		if err != nil {
			return err
		}
		if app.WorkspaceID != workspaceID {
			return apperrors.Consistency("CompleteApplication: workspace mismatch")
		}
		if err := s.requireAdmin(tx, app.WorkspaceID, caller); err != nil {
			return err
		}
		if !app.CanTransition(models.ApplicationStateCompleted) {
			return apperrors.Newf(apperrors.KindState,
				"CompleteApplication: cannot complete from %s", app.State)
		}
		if app.MilestonesDone < app.MilestoneCount {
			return apperrors.Newf(apperrors.KindState,
				"CompleteApplication: milestones incomplete (%d of %d)",
				app.MilestonesDone, app.MilestoneCount)
		}

		app.State = models.ApplicationStateCompleted
		if err := tx.Save(app).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventApplicationUpdated,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id": app.ID,
				"to":             models.ApplicationStateCompleted,
			},
		})
	})
}

// MigrateApplicantTx rewrites the applicant on every application held
// by oldAddress, inside the wallet-migration transaction.
func (s *ApplicationService) MigrateApplicantTx(tx *gorm.DB, oldAddress, newAddress string) ([]uint64, error) {
	var apps []models.Application
	if err := tx.Where("applicant = ?", oldAddress).Order("id ASC").Find(&apps).Error; err != nil {
		return nil, apperrors.Internal(err)
	}

	migrated := make([]uint64, 0, len(apps))
	for i := range apps {
		apps[i].Applicant = newAddress
		if err := tx.Save(&apps[i]).Error; err != nil {
			return nil, apperrors.Internal(err)
		}
		migrated = append(migrated, apps[i].ID)

		if err := s.notifications.Emit(tx, EventParams{
			Name:        models.EventApplicationMigrate,
			Actor:       oldAddress,
			WorkspaceID: ptr(apps[i].WorkspaceID),
			GrantID:     ptr(apps[i].GrantID),
			Payload: models.JSONB{
				"application_id":        apps[i].ID,
				"old_applicant_address": oldAddress,
				"new_applicant_address": newAddress,
			},
		}); err != nil {
			return nil, err
		}
	}
	return migrated, nil
}

// Read API

func (s *ApplicationService) GetApplication(id uint64) (*models.Application, error) {
	var app models.Application
	err := s.db.Preload("Milestones").First(&app, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("application %d", id))
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &app, nil
}

func (s *ApplicationService) ListApplications(grantID uint64, applicant string, params utils.PaginationParams) ([]models.Application, int64, error) {
	query := s.db.Model(&models.Application{})
	if grantID != 0 {
		query = query.Where("grant_id = ?", grantID)
	}
	if applicant != "" {
		query = query.Where("applicant = ?", applicant)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	query = utils.ApplySort(query, params, []string{"id", "created_at", "state"})
	query = utils.ApplyPagination(query, params)

	var apps []models.Application
	if err := query.Find(&apps).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return apps, total, nil
}

// Internal helpers

// loadOrCreateMilestone materializes the milestone row on first touch.
// A missing row means the milestone is still pending.
func (s *ApplicationService) loadOrCreateMilestone(tx *gorm.DB, app *models.Application, index uint32) (*models.Milestone, error) {
	if index >= app.MilestoneCount {
		return nil, apperrors.Newf(apperrors.KindParameter,
			"milestone index %d out of range (count %d)", index, app.MilestoneCount)
	}

	var milestone models.Milestone
	err := tx.Where("application_id = ? AND index = ?", app.ID, index).First(&milestone).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		milestone = models.Milestone{
			ApplicationID: app.ID,
			Index:         index,
			State:         models.MilestoneStatePending,
		}
		if err := tx.Create(&milestone).Error; err != nil {
			return nil, apperrors.Internal(err)
		}
	case err != nil:
		return nil, apperrors.Internal(err)
	}
	return &milestone, nil
}

func (s *ApplicationService) requireAdmin(tx *gorm.DB, workspaceID uint64, caller string) error {
	ok, err := s.permissions.IsAdminTx(tx, workspaceID, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Authorization("Unauthorised: not an admin")
	}
	return nil
}

func (s *ApplicationService) loadApplication(tx *gorm.DB, id uint64) (*models.Application, error) {
	var app models.Application
	if err := tx.First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("application %d", id))
		}
		return nil, apperrors.Internal(err)
	}
	return &app, nil
}
