// internal/handlers/metadata.go
package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/opengrants/grants-backend/internal/i18n"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

type MetadataHandler struct {
	storageService *services.StorageService
}

func NewMetadataHandler(storageService *services.StorageService) *MetadataHandler {
	return &MetadataHandler{
		storageService: storageService,
	}
}

// POST /metadata
// The body is the metadata document itself; the response carries its
// content ref to use in ledger calls.
func (h *MetadataHandler) Upload(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "body"), nil)
		return
	}

	stored, err := h.storageService.PutMetadata(data, c.ContentType())
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyMetadataUploaded),
		"metadata": stored,
	})
}

// GET /metadata/:ref
func (h *MetadataHandler) Get(c *gin.Context) {
	ref := c.Param("ref")

	data, err := h.storageService.GetMetadata(ref)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	c.Data(200, "application/json", data)
}
