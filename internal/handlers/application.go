// internal/handlers/application.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opengrants/grants-backend/internal/i18n"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

type ApplicationHandler struct {
	applicationService *services.ApplicationService
}

func NewApplicationHandler(applicationService *services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{
		applicationService: applicationService,
	}
}

// POST /applications
func (h *ApplicationHandler) SubmitApplication(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	app, err := h.applicationService.SubmitApplication(address, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyApplicationCreated),
		"application": app,
	})
}

// PUT /applications/:id/state
func (h *ApplicationHandler) UpdateState(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	applicationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateApplicationStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.ApplicationID = applicationID

	if err := h.applicationService.UpdateApplicationState(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyApplicationUpdated),
	})
}

// PUT /applications/:id/resubmit
func (h *ApplicationHandler) Resubmit(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	applicationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.ResubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.ApplicationID = applicationID

	if err := h.applicationService.ResubmitApplication(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyApplicationUpdated),
	})
}

// POST /applications/:id/milestones/request
func (h *ApplicationHandler) RequestMilestoneApproval(c *gin.Context) {
	h.milestoneAction(c, h.applicationService.RequestMilestoneApproval)
}

// POST /applications/:id/milestones/approve
func (h *ApplicationHandler) ApproveMilestone(c *gin.Context) {
	h.milestoneAction(c, h.applicationService.ApproveMilestone)
}

func (h *ApplicationHandler) milestoneAction(c *gin.Context, action func(string, *services.MilestoneRequest) error) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	applicationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.MilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.ApplicationID = applicationID

	if err := action(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyMilestoneUpdated),
	})
}

// POST /applications/:id/complete
func (h *ApplicationHandler) Complete(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	applicationID, ok := parseIDParam(c, "id")
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

	if err := h.applicationService.CompleteApplication(address, applicationID, req.WorkspaceID); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyApplicationUpdated),
	})
}

// GET /applications/:id
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	applicationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	app, err := h.applicationService.GetApplication(applicationID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"application": app,
	})
}

// GET /applications?grant_id=&applicant=
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	var grantID uint64
	if raw := c.Query("grant_id"); raw != "" {
		parsed, ok := parseQueryID(c, raw, "grant_id")
		if !ok {
			return
		}
		grantID = parsed
	}
	applicant := c.Query("applicant")

	apps, total, err := h.applicationService.ListApplications(grantID, applicant, params)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(apps, total, params))
}
