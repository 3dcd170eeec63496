// internal/services/review_service.go
package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/database"
	"github.com/opengrants/grants-backend/internal/models"
	"github.com/opengrants/grants-backend/internal/utils"
)

// PermissionOracle is the narrow capability other ledgers use for
// authorization. WorkspaceService implements it; tests substitute it.
// The transaction handle keeps nested checks inside the caller's
// atomic operation.
type PermissionOracle interface {
	IsAdminTx(tx *gorm.DB, workspaceID uint64, address string) (bool, error)
	IsAdminOrReviewerTx(tx *gorm.DB, workspaceID uint64, address string) (bool, error)
}

// ReviewService owns review assignments, rubric configuration, the
// auto-assignment engine state and payment-status flags per review.
type ReviewService struct {
	db            *gorm.DB
	permissions   PermissionOracle
	notifications *NotificationService
	tokens        TokenTransferrer
}

func NewReviewService(db *gorm.DB, permissions PermissionOracle, notifications *NotificationService, tokens TokenTransferrer) *ReviewService {
	return &ReviewService{
		db:            db,
		permissions:   permissions,
		notifications: notifications,
		tokens:        tokens,
	}
}

type AssignReviewersRequest struct {
	WorkspaceID   uint64   `json:"workspace_id" validate:"required"`
	ApplicationID uint64   `json:"application_id"`
	GrantID       uint64   `json:"grant_id" validate:"required"`
	Reviewers     []string `json:"reviewers" validate:"required,min=1,dive,ledger_address"`
	Actives       []bool   `json:"actives" validate:"required"`
}

type SubmitReviewRequest struct {
	ApplicationID uint64 `json:"application_id"`
	WorkspaceID   uint64 `json:"workspace_id" validate:"required"`
	GrantID       uint64 `json:"grant_id" validate:"required"`
	FeedbackRef   string `json:"feedback_ref" validate:"required,content_ref"`
}

type AutoAssignmentRequest struct {
	WorkspaceID       uint64   `json:"workspace_id" validate:"required"`
	GrantID           uint64   `json:"grant_id" validate:"required"`
	ReviewerPool      []string `json:"reviewer_pool" validate:"required,min=1,dive,ledger_address"`
	NumPerApplication uint32   `json:"num_per_application" validate:"required,min=1"`
	RubricsRef        string   `json:"rubrics_ref,omitempty" validate:"omitempty,content_ref"`
	DryRun            bool     `json:"dry_run,omitempty"`
}

type ReviewPaymentRequest struct {
	WorkspaceID    uint64   `json:"workspace_id" validate:"required"`
	ApplicationIDs []uint64 `json:"application_ids" validate:"required,min=1"`
	Reviewer       string   `json:"reviewer" validate:"required,ledger_address"`
	ReviewIDs      []uint64 `json:"review_ids" validate:"required,min=1"`
	Currency       string   `json:"currency,omitempty"`
	Amount         int64    `json:"amount" validate:"required,min=1"`
	TransferRef    string   `json:"transfer_ref,omitempty"`
}

// AssignReviewers toggles manual review assignments. Activating a new
// pair allocates the next sequential review id; deactivating is
// blocked once the reviewer has submitted feedback.
func (s *ReviewService) AssignReviewers(caller string, req *AssignReviewersRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if len(req.Reviewers) != len(req.Actives) {
		return apperrors.Parameter("AssignReviewers: parameters length mismatch")
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}

		app, err := s.loadApplication(tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if app.WorkspaceID != req.WorkspaceID || app.GrantID != req.GrantID {
			return apperrors.Consistency("AssignReviewers: workspace or grant mismatch")
		}
		if err := s.requireAdmin(tx, app.WorkspaceID, caller); err != nil {
			return err
		}

		for i, reviewer := range req.Reviewers {
			if req.Actives[i] {
				if _, err := s.activateReview(tx, app, reviewer); err != nil {
					return err
				}
			} else {
				if err := s.deactivateReview(tx, app, reviewer); err != nil {
					return err
				}
			}
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventReviewersAssigned,
			Actor:       caller,
			WorkspaceID: ptr(app.WorkspaceID),
			GrantID:     ptr(app.GrantID),
			Payload: models.JSONB{
				"application_id": app.ID,
				"reviewers":      req.Reviewers,
				"actives":        req.Actives,
			},
		})
	})
}

// SubmitReview records or rewrites a reviewer's feedback. A rewrite is
// allowed and never double-counts: the per-grant submitted counter
// moves only on the first submission of each assignment.
func (s *ReviewService) SubmitReview(caller string, req *SubmitReviewRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}

		ok, err := s.permissions.IsAdminOrReviewerTx(tx, req.WorkspaceID, caller)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Authorization("Unauthorised: neither an admin nor a reviewer")
		}

		var review models.Review
		err = tx.Where("reviewer = ? AND application_id = ?", caller, req.ApplicationID).
			First(&review).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Authorization("SubmitReview: not assigned to this application")
		}
		if err != nil {
			return apperrors.Internal(err)
		}

		if review.WorkspaceID != req.WorkspaceID || review.GrantID != req.GrantID {
			return apperrors.Consistency("SubmitReview: workspace or grant mismatch")
		}
		if !review.IsActive {
			return apperrors.State("SubmitReview: revoked access")
		}

		firstSubmission := !review.Submitted()
		review.FeedbackRef = req.FeedbackRef
		if err := tx.Save(&review).Error; err != nil {
			return apperrors.Internal(err)
		}

		if firstSubmission {
			if err := tx.Model(&models.Grant{}).
				Where("id = ?", review.GrantID).
				Update("submitted_review_count", gorm.Expr("submitted_review_count + 1")).Error; err != nil {
				return apperrors.Internal(err)
			}
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventReviewSubmitted,
			Actor:       caller,
			WorkspaceID: ptr(review.WorkspaceID),
			GrantID:     ptr(review.GrantID),
			Payload: models.JSONB{
				"application_id": review.ApplicationID,
				"review_id":      review.ReviewID,
				"feedback_ref":   req.FeedbackRef,
				"resubmission":   !firstSubmission,
			},
		})
	})
}

// SetRubrics stores the grant's rubric reference. Allowed for the
// workspace admin, or for the grant factory at creation time via the
// trusted-caller path. Locked once any review has been submitted.
func (s *ReviewService) SetRubrics(caller string, workspaceID, grantID uint64, rubricsRef string) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		return s.setRubricsTx(tx, caller, false, workspaceID, grantID, rubricsRef)
	})
}

func (s *ReviewService) setRubricsTx(tx *gorm.DB, caller string, viaFactory bool, workspaceID, grantID uint64, rubricsRef string) error {
	if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
		return err
	}

	grant, err := s.loadGrant(tx, grantID)
	if err != nil {
		return err
	}
	if grant.WorkspaceID != workspaceID {
		return apperrors.Consistency("SetRubrics: workspace mismatch")
	}
	if !viaFactory {
		ok, err := s.permissions.IsAdminTx(tx, workspaceID, caller)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Authorization("Unauthorised: not an admin nor grant factory")
		}
	}
	if grant.SubmittedReviewCount > 0 {
		return apperrors.State("SetRubrics: reviews non-zero")
	}

	grant.RubricsRef = rubricsRef
	if err := tx.Save(grant).Error; err != nil {
		return apperrors.Internal(err)
	}

	return s.notifications.Emit(tx, EventParams{
		Name:        models.EventRubricsSet,
		Actor:       caller,
		WorkspaceID: ptr(workspaceID),
		GrantID:     ptr(grantID),
		Payload:     models.JSONB{"rubrics_ref": rubricsRef},
	})
}

// EnableAutoAssignment installs the reviewer pool and backfills every
// application already waiting on the grant, in application-id order,
// with the cursor continuing across applications.
func (s *ReviewService) EnableAutoAssignment(caller string, req *AutoAssignmentRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		return s.enableAutoAssignmentTx(tx, caller, false, req)
	})
}

// SetRubricsAndEnableAutoAssign is the combined form used both by
// admins and, through ConfigureAtCreation, by the grant factory.
func (s *ReviewService) SetRubricsAndEnableAutoAssign(caller string, req *AutoAssignmentRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if req.RubricsRef != "" {
			if err := s.setRubricsTx(tx, caller, false, req.WorkspaceID, req.GrantID, req.RubricsRef); err != nil {
				return err
			}
		}
		return s.enableAutoAssignmentTx(tx, caller, false, req)
	})
}

// ConfigureAtCreation is the trusted-factory path: the grant factory
// configures rubrics and auto-assignment at grant creation without
// holding a workspace role. Only GrantService receives this handle;
// it is never routed from HTTP directly.
func (s *ReviewService) ConfigureAtCreation(tx *gorm.DB, caller string, req *AutoAssignmentRequest) error {
	if req.RubricsRef != "" {
		if err := s.setRubricsTx(tx, caller, true, req.WorkspaceID, req.GrantID, req.RubricsRef); err != nil {
			return err
		}
	}
	if len(req.ReviewerPool) == 0 && req.NumPerApplication == 0 {
		return nil
	}
	return s.enableAutoAssignmentTx(tx, caller, true, req)
}

func (s *ReviewService) enableAutoAssignmentTx(tx *gorm.DB, caller string, viaFactory bool, req *AutoAssignmentRequest) error {
	if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
		return err
	}

	grant, err := s.loadGrant(tx, req.GrantID)
	if err != nil {
		return err
	}
	if grant.WorkspaceID != req.WorkspaceID {
		return apperrors.Consistency("EnableAutoAssignment: workspace mismatch")
	}
	if !viaFactory {
		ok, err := s.permissions.IsAdminTx(tx, req.WorkspaceID, caller)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Authorization("Unauthorised: not an admin nor grant factory")
		}
	}
	if grant.AutoAssignEnabled {
		return apperrors.State("EnableAutoAssignment: already enabled")
	}
	// Initial enablement requires a pool large enough for one full pass.
	// A later pool replacement may shrink below numPerApplication, in
	// which case a pass wraps around the pool.
	if uint32(len(req.ReviewerPool)) < req.NumPerApplication {
		return apperrors.Parameter("auto assignment: pool smaller than reviewers per application")
	}
	if err := s.validatePool(tx, grant.WorkspaceID, req.ReviewerPool, req.NumPerApplication); err != nil {
		return err
	}

	grant.ReviewerPool = pq.StringArray(req.ReviewerPool)
	grant.NumPerApplication = req.NumPerApplication
	grant.AutoAssignEnabled = true
	grant.LastAssignedIndex = 0
	if err := tx.Save(grant).Error; err != nil {
		return apperrors.Internal(err)
	}

	// Backfill: applications already submitted and still waiting on
	// review, in id order. The cursor carries over between them.
	var pending []models.Application
	if err := tx.Where("grant_id = ? AND state IN ?", grant.ID,
		[]models.ApplicationState{models.ApplicationStateSubmitted, models.ApplicationStateResubmit}).
		Order("id ASC").
		Find(&pending).Error; err != nil {
		return apperrors.Internal(err)
	}

	for i := range pending {
		if err := s.assignPassTx(tx, grant, &pending[i]); err != nil {
			return err
		}
	}

	return s.notifications.Emit(tx, EventParams{
		Name:        models.EventAutoAssignmentUpdated,
		Actor:       caller,
		WorkspaceID: ptr(grant.WorkspaceID),
		GrantID:     ptr(grant.ID),
		Payload: models.JSONB{
			"enabled":             true,
			"reviewer_pool":       req.ReviewerPool,
			"num_per_application": req.NumPerApplication,
			"backfilled":          len(pending),
		},
	})
}

// UpdateAutoAssignment replaces the pool and per-application count.
// Existing reviews are never reassigned; only later submissions use
// the new pool. The cursor resets with the pool, the per-reviewer
// counters carry over. With DryRun set, parameters are validated and
// nothing changes.
func (s *ReviewService) UpdateAutoAssignment(caller string, req *AutoAssignmentRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}

		grant, err := s.loadGrant(tx, req.GrantID)
		if err != nil {
			return err
		}
		if grant.WorkspaceID != req.WorkspaceID {
			return apperrors.Consistency("UpdateAutoAssignment: workspace mismatch")
		}
		if err := s.requireAdmin(tx, req.WorkspaceID, caller); err != nil {
			return err
		}
		if !grant.AutoAssignEnabled {
			return apperrors.State("UpdateAutoAssignment: not enabled")
		}
		if err := s.validatePool(tx, grant.WorkspaceID, req.ReviewerPool, req.NumPerApplication); err != nil {
			return err
		}

		if req.DryRun {
			return nil
		}

		grant.ReviewerPool = pq.StringArray(req.ReviewerPool)
		grant.NumPerApplication = req.NumPerApplication
		grant.LastAssignedIndex = 0
		if err := tx.Save(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventAutoAssignmentUpdated,
			Actor:       caller,
			WorkspaceID: ptr(grant.WorkspaceID),
			GrantID:     ptr(grant.ID),
			Payload: models.JSONB{
				"enabled":             true,
				"reviewer_pool":       req.ReviewerPool,
				"num_per_application": req.NumPerApplication,
			},
		})
	})
}

// DisableAutoAssignment clears the flag. Historical counters and
// reviews stay untouched.
func (s *ReviewService) DisableAutoAssignment(caller string, workspaceID, grantID uint64) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}

		grant, err := s.loadGrant(tx, grantID)
		if err != nil {
			return err
		}
		if grant.WorkspaceID != workspaceID {
			return apperrors.Consistency("DisableAutoAssignment: workspace mismatch")
		}
		if err := s.requireAdmin(tx, workspaceID, caller); err != nil {
			return err
		}
		if !grant.AutoAssignEnabled {
			return apperrors.State("DisableAutoAssignment: not enabled")
		}

		grant.AutoAssignEnabled = false
		if err := tx.Save(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventAutoAssignmentUpdated,
			Actor:       caller,
			WorkspaceID: ptr(workspaceID),
			GrantID:     ptr(grantID),
			Payload:     models.JSONB{"enabled": false},
		})
	})
}

// OnApplicationSubmittedTx runs one assignment pass for a freshly
// accepted application, inside the submission's transaction. Any
// failure, including an ineligible pool member, aborts the whole
// submission.
func (s *ReviewService) OnApplicationSubmittedTx(tx *gorm.DB, app *models.Application) error {
	grant, err := s.loadGrant(tx, app.GrantID)
	if err != nil {
		return err
	}
	if !grant.AutoAssignEnabled {
		return nil
	}
	if err := s.assignPassTx(tx, grant, app); err != nil {
		return err
	}
	return tx.Save(grant).Error
}

// assignPassTx consumes numPerApplication round-robin slots for one
// application and advances the grant's cursor. When the count exceeds
// the pool size the pass wraps and a reviewer may serve several slots;
// the counters still move once per slot so the balance invariant holds.
func (s *ReviewService) assignPassTx(tx *gorm.DB, grant *models.Grant, app *models.Application) error {
	poolSize := uint32(len(grant.ReviewerPool))
	if poolSize == 0 {
		return apperrors.State("auto assignment: empty reviewer pool")
	}

	assigned := make([]string, 0, grant.NumPerApplication)
	for k := uint32(0); k < grant.NumPerApplication; k++ {
		reviewer := grant.ReviewerPool[slotIndex(grant.LastAssignedIndex, k, poolSize)]

		ok, err := s.permissions.IsAdminOrReviewerTx(tx, grant.WorkspaceID, reviewer)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.KindState,
				"auto assignment: reviewer %s no longer eligible", reviewer)
		}

		if _, err := s.activateReview(tx, app, reviewer); err != nil {
			return err
		}

		if err := tx.Exec(`
			INSERT INTO reviewer_assignment_counts (grant_id, address, count, created_at, updated_at)
			VALUES (?, ?, 1, NOW(), NOW())
			ON CONFLICT (grant_id, address)
			DO UPDATE SET count = reviewer_assignment_counts.count + 1, updated_at = NOW()`,
			grant.ID, reviewer).Error; err != nil {
			return apperrors.Internal(err)
		}

		assigned = append(assigned, reviewer)
	}

	grant.LastAssignedIndex = advanceCursor(grant.LastAssignedIndex, grant.NumPerApplication, poolSize)
	if err := tx.Save(grant).Error; err != nil {
		return apperrors.Internal(err)
	}

	return s.notifications.Emit(tx, EventParams{
		Name:        models.EventReviewersAssigned,
		Actor:       app.Applicant,
		WorkspaceID: ptr(grant.WorkspaceID),
		GrantID:     ptr(grant.ID),
		Payload: models.JSONB{
			"application_id": app.ID,
			"reviewers":      assigned,
			"auto":           true,
		},
	})
}

// MarkPaymentDone flags reviews as paid out-of-band, recording the
// external transfer reference for reconciliation.
func (s *ReviewService) MarkPaymentDone(caller string, req *ReviewPaymentRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if len(req.ApplicationIDs) != len(req.ReviewIDs) {
		return apperrors.Parameter("ChangePaymentStatus: parameters length mismatch")
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}
		if _, err := s.markPaymentsTx(tx, caller, req, req.TransferRef); err != nil {
			return err
		}
		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventReviewPaymentMarked,
			Actor:       caller,
			WorkspaceID: ptr(req.WorkspaceID),
			Payload: models.JSONB{
				"reviewer":     req.Reviewer,
				"review_ids":   req.ReviewIDs,
				"amount":       req.Amount,
				"transfer_ref": req.TransferRef,
			},
		})
	})
}

// FulfillPayment performs the token transfer and flags the reviews in
// one atomic operation: a failed transfer rolls everything back.
func (s *ReviewService) FulfillPayment(caller string, req *ReviewPaymentRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}
	if len(req.ApplicationIDs) != len(req.ReviewIDs) {
		return apperrors.Parameter("ChangePaymentStatus: parameters length mismatch")
	}

	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := ensureNotPaused(tx, models.LedgerReviews); err != nil {
			return err
		}

		// State writes first, the external transfer as the final step
		// before commit, so a transfer failure aborts cleanly.
		payout, err := s.markPaymentsTx(tx, caller, req, "")
		if err != nil {
			return err
		}

		transferRef, err := s.tokens.Transfer(req.Reviewer, req.Amount, req.Currency)
		if err != nil {
			return err
		}

		// Stamp only the payout row created above; older unstamped rows
		// recorded by MarkPaymentDone stay untouched.
		if err := tx.Model(payout).Update("transfer_ref", transferRef).Error; err != nil {
			return apperrors.Internal(err)
		}

		return s.notifications.Emit(tx, EventParams{
			Name:        models.EventReviewPaymentFulfilled,
			Actor:       caller,
			WorkspaceID: ptr(req.WorkspaceID),
			Payload: models.JSONB{
				"reviewer":     req.Reviewer,
				"review_ids":   req.ReviewIDs,
				"amount":       req.Amount,
				"transfer_ref": transferRef,
			},
		})
	})
}

func (s *ReviewService) markPaymentsTx(tx *gorm.DB, caller string, req *ReviewPaymentRequest, transferRef string) (*models.ReviewPayout, error) {
	reviewIDs := make([]interface{}, len(req.ReviewIDs))

	for i, reviewID := range req.ReviewIDs {
		var review models.Review
		err := tx.Where("reviewer = ? AND review_id = ? AND application_id = ?",
			req.Reviewer, reviewID, req.ApplicationIDs[i]).
			First(&review).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("review %d", reviewID))
		}
		if err != nil {
			return nil, apperrors.Internal(err)
		}

		// Authorization runs against the review's stored workspace, so
		// a forged workspace id in the request cannot smuggle another
		// workspace's admin through.
		if review.WorkspaceID != req.WorkspaceID {
			return nil, apperrors.Consistency("ChangePaymentStatus: workspace mismatch")
		}
		if err := s.requireAdmin(tx, review.WorkspaceID, caller); err != nil {
			return nil, err
		}

		review.PaymentDone = true
		if err := tx.Save(&review).Error; err != nil {
			return nil, apperrors.Internal(err)
		}
		reviewIDs[i] = reviewID
	}

	payout := &models.ReviewPayout{
		WorkspaceID: req.WorkspaceID,
		Reviewer:    req.Reviewer,
		ReviewIDs:   models.JSONB{"review_ids": reviewIDs},
		Currency:    req.Currency,
		Amount:      req.Amount,
		TransferRef: transferRef,
	}
	if err := tx.Create(payout).Error; err != nil {
		return nil, apperrors.Internal(err)
	}
	return payout, nil
}

// MigratePoolsTx rewrites oldAddress in every grant's reviewer pool in
// place, preserving pool order and therefore the cursor's meaning, and
// merges the per-reviewer counter additively. A pool that already
// contains newAddress drops the old slot instead, so no pool ends up
// with a duplicate member.
func (s *ReviewService) MigratePoolsTx(tx *gorm.DB, oldAddress, newAddress string) error {
	var grants []models.Grant
	if err := tx.Where("? = ANY(reviewer_pool)", oldAddress).Find(&grants).Error; err != nil {
		return apperrors.Internal(err)
	}

	for i := range grants {
		grant := &grants[i]

		hasNew := false
		for _, addr := range grant.ReviewerPool {
			if addr == newAddress {
				hasNew = true
			}
		}

		rewritten := grant.ReviewerPool[:0]
		for _, addr := range grant.ReviewerPool {
			if addr == oldAddress {
				if hasNew {
					continue
				}
				addr = newAddress
				hasNew = true
			}
			rewritten = append(rewritten, addr)
		}
		grant.ReviewerPool = rewritten

		if err := tx.Save(grant).Error; err != nil {
			return apperrors.Internal(err)
		}

		var oldCount models.ReviewerAssignmentCount
		err := tx.Where("grant_id = ? AND address = ?", grant.ID, oldAddress).First(&oldCount).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return apperrors.Internal(err)
		}

		if err := tx.Exec(`
			INSERT INTO reviewer_assignment_counts (grant_id, address, count, created_at, updated_at)
			VALUES (?, ?, ?, NOW(), NOW())
			ON CONFLICT (grant_id, address)
			DO UPDATE SET count = reviewer_assignment_counts.count + EXCLUDED.count, updated_at = NOW()`,
			grant.ID, newAddress, oldCount.Count).Error; err != nil {
			return apperrors.Internal(err)
		}

		oldCount.Count = 0
		if err := tx.Save(&oldCount).Error; err != nil {
			return apperrors.Internal(err)
		}
	}

	return nil
}

// MigrateReviewsTx rekeys every review held by oldAddress: an
// equivalent record is created under newAddress and the old record is
// deactivated. Nothing is deleted, so review ids keep meaning for
// payment and audit. A live review already held by newAddress for the
// same application fails the migration instead of clobbering either.
func (s *ReviewService) MigrateReviewsTx(tx *gorm.DB, oldAddress, newAddress string) error {
	var reviews []models.Review
	if err := tx.Where("reviewer = ?", oldAddress).Order("id ASC").Find(&reviews).Error; err != nil {
		return apperrors.Internal(err)
	}

	for i := range reviews {
		old := &reviews[i]

		var existing models.Review
		err := tx.Where("reviewer = ? AND application_id = ?", newAddress, old.ApplicationID).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive || old.IsActive {
				return apperrors.Newf(apperrors.KindConsistency,
					"MigrateReviews: %s already holds a review for application %d",
					newAddress, old.ApplicationID)
			}
			// Both inactive: keep the existing historical record.
		case errors.Is(err, gorm.ErrRecordNotFound):
			rekeyed := models.Review{
				ReviewID:      old.ReviewID,
				ApplicationID: old.ApplicationID,
				WorkspaceID:   old.WorkspaceID,
				GrantID:       old.GrantID,
				Reviewer:      newAddress,
				FeedbackRef:   old.FeedbackRef,
				IsActive:      old.IsActive,
				PaymentDone:   old.PaymentDone,
			}
			if err := tx.Create(&rekeyed).Error; err != nil {
				if isUniqueViolation(err) {
					return apperrors.Newf(apperrors.KindConsistency,
						"MigrateReviews: duplicate review for application %d", old.ApplicationID)
				}
				return apperrors.Internal(err)
			}
		default:
			return apperrors.Internal(err)
		}

		wasActive := old.IsActive
		old.IsActive = false
		if err := tx.Save(old).Error; err != nil {
			return apperrors.Internal(err)
		}

		if err := s.notifications.Emit(tx, EventParams{
			Name:        models.EventReviewMigrate,
			Actor:       oldAddress,
			WorkspaceID: ptr(old.WorkspaceID),
			GrantID:     ptr(old.GrantID),
			Payload: models.JSONB{
				"application_id":       old.ApplicationID,
				"review_id":            old.ReviewID,
				"old_reviewer_address": oldAddress,
				"new_reviewer_address": newAddress,
				"was_active":           wasActive,
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

// Read API

func (s *ReviewService) GetReview(reviewer string, applicationID uint64) (*models.Review, error) {
	var review models.Review
	err := s.db.Where("reviewer = ? AND application_id = ?", reviewer, applicationID).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("review")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &review, nil
}

func (s *ReviewService) ListReviews(applicationID uint64, params utils.PaginationParams) ([]models.Review, int64, error) {
	query := s.db.Model(&models.Review{}).Where("application_id = ?", applicationID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	query = utils.ApplySort(query, params, []string{"id", "review_id", "created_at"})
	query = utils.ApplyPagination(query, params)

	var reviews []models.Review
	if err := query.Find(&reviews).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return reviews, total, nil
}

func (s *ReviewService) AssignmentCounts(grantID uint64) (map[string]uint64, error) {
	var counts []models.ReviewerAssignmentCount
	if err := s.db.Where("grant_id = ?", grantID).Find(&counts).Error; err != nil {
		return nil, apperrors.Internal(err)
	}

	result := make(map[string]uint64, len(counts))
	for _, c := range counts {
		result[c.Address] = c.Count
	}
	return result, nil
}

// Internal helpers

func (s *ReviewService) activateReview(tx *gorm.DB, app *models.Application, reviewer string) (*models.Review, error) {
	var review models.Review
	err := tx.Where("reviewer = ? AND application_id = ?", reviewer, app.ID).First(&review).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		reviewID, err := s.nextReviewID(tx)
		if err != nil {
			return nil, err
		}
		review = models.Review{
			ReviewID:      reviewID,
			ApplicationID: app.ID,
			WorkspaceID:   app.WorkspaceID,
			GrantID:       app.GrantID,
			Reviewer:      reviewer,
			IsActive:      true,
		}
		if err := tx.Create(&review).Error; err != nil {
			return nil, apperrors.Internal(err)
		}
	case err != nil:
		return nil, apperrors.Internal(err)
	default:
		if !review.IsActive {
			review.IsActive = true
			if err := tx.Save(&review).Error; err != nil {
				return nil, apperrors.Internal(err)
			}
		}
	}
	return &review, nil
}

func (s *ReviewService) deactivateReview(tx *gorm.DB, app *models.Application, reviewer string) error {
	var review models.Review
	err := tx.Where("reviewer = ? AND application_id = ?", reviewer, app.ID).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("review")
	}
	if err != nil {
		return apperrors.Internal(err)
	}

	if review.Submitted() {
		return apperrors.State("AssignReviewers: review already submitted")
	}

	review.IsActive = false
	if err := tx.Save(&review).Error; err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// nextReviewID allocates from the global sequential counter. The
// surrounding serialized transaction is the only writer.
func (s *ReviewService) nextReviewID(tx *gorm.DB) (uint64, error) {
	var counter models.ReviewCounter
	if err := tx.First(&counter).Error; err != nil {
		return 0, apperrors.Internal(err)
	}

	id := counter.Next
	counter.Next++
	if err := tx.Save(&counter).Error; err != nil {
		return 0, apperrors.Internal(err)
	}
	return id, nil
}

func (s *ReviewService) requireAdmin(tx *gorm.DB, workspaceID uint64, caller string) error {
	ok, err := s.permissions.IsAdminTx(tx, workspaceID, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Authorization("Unauthorised: not an admin")
	}
	return nil
}

func (s *ReviewService) validatePool(tx *gorm.DB, workspaceID uint64, pool []string, numPerApplication uint32) error {
	if numPerApplication == 0 {
		return apperrors.Parameter("auto assignment: reviewers per application must be positive")
	}
	if len(pool) == 0 {
		return apperrors.Parameter("auto assignment: empty reviewer pool")
	}

	seen := make(map[string]bool, len(pool))
	for _, addr := range pool {
		if seen[addr] {
			return apperrors.Newf(apperrors.KindParameter, "auto assignment: duplicate pool member %s", addr)
		}
		seen[addr] = true

		ok, err := s.permissions.IsAdminOrReviewerTx(tx, workspaceID, addr)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.KindParameter,
				"auto assignment: %s does not hold a reviewer role", addr)
		}
	}
	return nil
}

func (s *ReviewService) loadGrant(tx *gorm.DB, id uint64) (*models.Grant, error) {
	var grant models.Grant
	if err := tx.First(&grant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("grant %d", id))
		}
		return nil, apperrors.Internal(err)
	}
	return &grant, nil
}

func (s *ReviewService) loadApplication(tx *gorm.DB, id uint64) (*models.Application, error) {
	var app models.Application
	if err := tx.First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("application %d", id))
		}
		return nil, apperrors.Internal(err)
	}
	return &app, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
