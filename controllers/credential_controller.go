package controller

import (
	"errors"
	"log"

	"leadpixel/models"
	"leadpixel/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// CredentialController lets an owner provision or rotate the enrichment API
// key the background worker uses on their behalf.
type CredentialController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCredentialController(db *gorm.DB, logger *log.Logger) *CredentialController {
	return &CredentialController{
		DB:     db,
		Logger: logger,
	}
}

type credentialInput struct {
	APIKey string `json:"api_key" validate:"required,min=8"`
}

// PutEnrichmentCredential stores the owner's enrichment API key. The key is
// sealed before it touches the database and reactivated if it was disabled.
func (cc *CredentialController) PutEnrichmentCredential(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input credentialInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sealed, err := utils.Encrypt(input.APIKey)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store credential", err)
	}

	var credential models.APICredential
	err = cc.DB.Where("owner_id = ? AND provider = ?", user.ID, "enrichment").First(&credential).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		credential = models.APICredential{
			OwnerID:  user.ID,
			Provider: "enrichment",
			APIKey:   sealed,
			IsActive: true,
		}
		if err := cc.DB.Create(&credential).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store credential", err)
		}
	case err != nil:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store credential", err)
	default:
		if err := cc.DB.Model(&credential).Updates(map[string]interface{}{
			"api_key":   sealed,
			"is_active": true,
		}).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store credential", err)
		}
	}

	return c.JSON(fiber.Map{"success": true})
}
