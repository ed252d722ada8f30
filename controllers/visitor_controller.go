package controller

import (
	"log"

	"leadpixel/models"
	"leadpixel/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// VisitorController is the owner-scoped read surface over the Visitor
// aggregate. Enrichment runs in the background, so its outcome is only
// observable through these reads.
type VisitorController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewVisitorController(db *gorm.DB, logger *log.Logger) *VisitorController {
	return &VisitorController{
		DB:     db,
		Logger: logger,
	}
}

// GetVisitors lists the visitors of one owned pixel, most recently seen
// first.
func (vc *VisitorController) GetVisitors(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var pixel models.Pixel
	if err := vc.DB.Where("id = ? AND owner_id = ?", utils.ParseUint(c.Params("id")), user.ID).First(&pixel).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Pixel not found", nil)
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var total int64
	if err := vc.DB.Model(&models.Visitor{}).Where("pixel_id = ?", pixel.ID).Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count visitors", err)
	}

	var visitors []models.Visitor
	if err := vc.DB.Where("pixel_id = ?", pixel.ID).
		Order("last_seen_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&visitors).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch visitors", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  visitors,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetVisitor returns one visitor aggregate row by its client identifier.
func (vc *VisitorController) GetVisitor(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var pixel models.Pixel
	if err := vc.DB.Where("id = ? AND owner_id = ?", utils.ParseUint(c.Params("id")), user.ID).First(&pixel).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Pixel not found", nil)
	}

	var visitor models.Visitor
	if err := vc.DB.Where("pixel_id = ? AND visitor_id = ?", pixel.ID, c.Params("visitorID")).First(&visitor).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Visitor not found", nil)
	}

	return c.JSON(utils.SuccessResponse(visitor))
}
