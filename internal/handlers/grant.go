// internal/handlers/grant.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opengrants/grants-backend/internal/i18n"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

type GrantHandler struct {
	grantService *services.GrantService
}

func NewGrantHandler(grantService *services.GrantService) *GrantHandler {
	return &GrantHandler{
		grantService: grantService,
	}
}

// POST /grants
func (h *GrantHandler) CreateGrant(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	grant, err := h.grantService.CreateGrant(address, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyGrantCreated),
		"grant":   grant,
	})
}

// PATCH /grants/:id
func (h *GrantHandler) UpdateGrant(c *gin.Context) {
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

	var req services.UpdateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.GrantID = grantID

	if err := h.grantService.UpdateGrant(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyGrantUpdated),
	})
}

// PUT /grants/:id/accessibility
func (h *GrantHandler) UpdateAccessibility(c *gin.Context) {
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
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.grantService.UpdateGrantAccessibility(address, grantID, *req.IsActive); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyGrantUpdated),
	})
}

// POST /grants/:id/deposit
func (h *GrantHandler) DepositFunds(c *gin.Context) {
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

	var req services.DepositFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.GrantID = grantID

	if err := h.grantService.DepositFunds(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyGrantUpdated),
	})
}

// POST /grants/:id/disburse
func (h *GrantHandler) DisburseReward(c *gin.Context) {
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

	var req services.DisburseRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.GrantID = grantID

	if err := h.grantService.DisburseReward(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyGrantUpdated),
	})
}

// GET /grants/:id
func (h *GrantHandler) GetGrant(c *gin.Context) {
	grantID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	grant, err := h.grantService.GetGrant(grantID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"grant": grant,
	})
}

// GET /grants?workspace_id=
func (h *GrantHandler) ListGrants(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	var workspaceID uint64
	if raw := c.Query("workspace_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid workspace_id parameter", nil)
			return
		}
		workspaceID = parsed
	}

	grants, total, err := h.grantService.ListGrants(workspaceID, params)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(grants, total, params))
}
