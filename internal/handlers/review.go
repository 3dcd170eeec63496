// internal/handlers/review.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opengrants/grants-backend/internal/i18n"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

type ReviewHandler struct {
	reviewService *services.ReviewService
}

func NewReviewHandler(reviewService *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
	}
}

// POST /reviews/assign
func (h *ReviewHandler) AssignReviewers(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.AssignReviewersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.reviewService.AssignReviewers(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyReviewersAssigned),
	})
}

// POST /reviews
func (h *ReviewHandler) SubmitReview(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.reviewService.SubmitReview(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyReviewSubmitted),
	})
}

// PUT /grants/:id/rubrics
func (h *ReviewHandler) SetRubrics(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	grantID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		WorkspaceID uint64 `json:"workspace_id" binding:"required"`
		RubricsRef  string `json:"rubrics_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.reviewService.SetRubrics(address, req.WorkspaceID, grantID, req.RubricsRef); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyRubricsSet),
	})
}

// POST /grants/:id/auto-assignment
func (h *ReviewHandler) EnableAutoAssignment(c *gin.Context) {
	h.autoAssignAction(c, func(address string, req *services.AutoAssignmentRequest) error {
		if req.RubricsRef != "" {
			return h.reviewService.SetRubricsAndEnableAutoAssign(address, req)
		}
		return h.reviewService.EnableAutoAssignment(address, req)
	})
}

// PUT /grants/:id/auto-assignment
func (h *ReviewHandler) UpdateAutoAssignment(c *gin.Context) {
	h.autoAssignAction(c, h.reviewService.UpdateAutoAssignment)
}

func (h *ReviewHandler) autoAssignAction(c *gin.Context, action func(string, *services.AutoAssignmentRequest) error) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	grantID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.AutoAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.GrantID = grantID

	if err := action(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAutoAssignUpdated),
		"dry_run": req.DryRun,
	})
}

// DELETE /grants/:id/auto-assignment
func (h *ReviewHandler) DisableAutoAssignment(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	grantID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		WorkspaceID uint64 `json:"workspace_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.reviewService.DisableAutoAssignment(address, req.WorkspaceID, grantID); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAutoAssignUpdated),
	})
}

// POST /reviews/payments/mark
func (h *ReviewHandler) MarkPaymentDone(c *gin.Context) {
	h.paymentAction(c, h.reviewService.MarkPaymentDone, i18n.KeyPaymentMarked)
}

// POST /reviews/payments/fulfill
func (h *ReviewHandler) FulfillPayment(c *gin.Context) {
	h.paymentAction(c, h.reviewService.FulfillPayment, i18n.KeyPaymentFulfilled)
}

func (h *ReviewHandler) paymentAction(c *gin.Context, action func(string, *services.ReviewPaymentRequest) error, messageKey string) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.ReviewPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := action(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, messageKey),
	})
}

// GET /applications/:id/reviews
func (h *ReviewHandler) ListReviews(c *gin.Context) {
	applicationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	reviews, total, err := h.reviewService.ListReviews(applicationID, params)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(reviews, total, params))
}

// GET /grants/:id/assignment-counts
func (h *ReviewHandler) AssignmentCounts(c *gin.Context) {
	grantID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	counts, err := h.reviewService.AssignmentCounts(grantID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"counts": counts,
	})
}
