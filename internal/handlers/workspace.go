// internal/handlers/workspace.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opengrants/grants-backend/internal/i18n"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

type WorkspaceHandler struct {
	workspaceService *services.WorkspaceService
	migrationService *services.MigrationService
}

func NewWorkspaceHandler(workspaceService *services.WorkspaceService, migrationService *services.MigrationService) *WorkspaceHandler {
	return &WorkspaceHandler{
		workspaceService: workspaceService,
		migrationService: migrationService,
	}
}

// POST /workspaces
func (h *WorkspaceHandler) CreateWorkspace(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	workspace, err := h.workspaceService.CreateWorkspace(address, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyWorkspaceCreated),
		"workspace": workspace,
	})
}

// PATCH /workspaces/:id
func (h *WorkspaceHandler) UpdateWorkspace(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	workspaceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	workspace, err := h.workspaceService.UpdateWorkspace(address, workspaceID, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyWorkspaceUpdated),
		"workspace": workspace,
	})
}

// PUT /workspaces/:id/members
func (h *WorkspaceHandler) UpdateMembers(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	workspaceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.workspaceService.UpdateMembers(address, workspaceID, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyMembersUpdated),
	})
}

// GET /workspaces/:id
func (h *WorkspaceHandler) GetWorkspace(c *gin.Context) {
	workspaceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	workspace, err := h.workspaceService.GetWorkspace(workspaceID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"workspace": workspace,
	})
}

// GET /workspaces
func (h *WorkspaceHandler) ListWorkspaces(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	workspaces, total, err := h.workspaceService.ListWorkspaces(params)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(workspaces, total, params))
}

// POST /migrations/wallet
func (h *WorkspaceHandler) MigrateWallet(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.MigrateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.migrationService.MigrateWallet(address, &req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyWalletMigrated),
		"new_address": req.NewAddress,
	})
}

func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name+" parameter", nil)
		return 0, false
	}
	return id, true
}

func parseQueryID(c *gin.Context, raw, name string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name+" parameter", nil)
		return 0, false
	}
	return id, true
}
