// internal/handlers/operator.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opengrants/grants-backend/internal/i18n"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

// OperatorHandler covers the operator surface: per-ledger pause flags
// and the event stream.
type OperatorHandler struct {
	workspaceService    *services.WorkspaceService
	notificationService *services.NotificationService
}

func NewOperatorHandler(workspaceService *services.WorkspaceService, notificationService *services.NotificationService) *OperatorHandler {
	return &OperatorHandler{
		workspaceService:    workspaceService,
		notificationService: notificationService,
	}
}

// PUT /operator/ledgers/:name/pause
func (h *OperatorHandler) SetPause(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	address, exists := utils.GetAddressFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	ledger := c.Param("name")

	var req struct {
		Paused *bool `json:"paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if err := h.workspaceService.SetPaused(address, ledger, *req.Paused); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPauseUpdated),
		"ledger":  ledger,
		"paused":  *req.Paused,
	})
}

// GET /operator/events?workspace_id=&limit=
func (h *OperatorHandler) ListEvents(c *gin.Context) {
	var workspaceID *uint64
	if raw := c.Query("workspace_id"); raw != "" {
		parsed, ok := parseQueryID(c, raw, "workspace_id")
		if !ok {
			return
		}
		workspaceID = &parsed
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, ok := parseQueryID(c, raw, "limit")
		if !ok {
			return
		}
		limit = int(parsed)
	}

	events, err := h.notificationService.ListEvents(workspaceID, limit)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"events": events,
	})
}
