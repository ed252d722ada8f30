package controller

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"leadpixel/agent"
	"leadpixel/models"
	"leadpixel/scoring"
	"leadpixel/store"
	"leadpixel/utils"
	"leadpixel/worker"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// TrackController is the direct pixel ingestion path: capture-agent events
// arrive here, get appended to the event log and merged into the Visitor
// aggregate.
type TrackController struct {
	DB       *gorm.DB
	Store    *store.VisitorStore
	Enricher *worker.EnrichmentWorker
	Logger   *log.Logger
}

func NewTrackController(db *gorm.DB, visitorStore *store.VisitorStore, enricher *worker.EnrichmentWorker, logger *log.Logger) *TrackController {
	return &TrackController{
		DB:       db,
		Store:    visitorStore,
		Enricher: enricher,
		Logger:   logger,
	}
}

type trackInput struct {
	PixelIDs  []string               `json:"pixelIds" validate:"required,min=1,dive,required"`
	VisitorID string                 `json:"visitorId" validate:"required,max=64"`
	SessionID string                 `json:"sessionId" validate:"omitempty,max=64"`
	EventType string                 `json:"eventType" validate:"required"`
	EventData map[string]interface{} `json:"eventData"`
	Page      struct {
		URL      string `json:"url"`
		Path     string `json:"path"`
		Title    string `json:"title"`
		Referrer string `json:"referrer"`
		Host     string `json:"host"`
	} `json:"page"`
	Fingerprint agent.Fingerprint `json:"fingerprint"`
	Timestamp   string            `json:"timestamp"`
	Version     string            `json:"version"`
}

// HandleTrack processes one capture-agent event for a batch of pixel codes.
// Unknown codes are skipped silently so one misconfigured id never blocks
// the other pixels in the same script tag.
func (tc *TrackController) HandleTrack(c *fiber.Ctx) error {
	input, err := parseTrackInput(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event payload", err)
	}
	if err := utils.ValidateStruct(*input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if !models.KnownEventType(input.EventType) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown event type", nil)
	}

	tc.processEvent(c, input)

	return c.JSON(fiber.Map{"success": true})
}

// HandlePixelGif is the image-beacon fallback transport: the payload rides
// base64-encoded in a query parameter and the response is always the 1x1
// transparent GIF, whatever happens during processing.
func (tc *TrackController) HandlePixelGif(c *fiber.Ctx) error {
	if encoded := c.Query("d"); encoded != "" {
		if raw, err := decodeBeaconPayload(encoded); err == nil {
			var input trackInput
			if json.Unmarshal(raw, &input) == nil &&
				utils.ValidateStruct(input) == nil &&
				models.KnownEventType(input.EventType) {
				tc.processEvent(c, &input)
			}
		}
	}
	return c.Type("gif").Send(transparentPixel())
}

// decodeBeaconPayload decodes the image-beacon payload. A '+' in standard
// base64 arrives as a space after query-string decoding, and some callers use
// the URL-safe alphabet, so all four variants are tried.
func decodeBeaconPayload(encoded string) ([]byte, error) {
	if strings.ContainsRune(encoded, ' ') {
		encoded = strings.ReplaceAll(encoded, " ", "+")
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if raw, err := enc.DecodeString(encoded); err == nil {
			return raw, nil
		}
	}
	return nil, errors.New("undecodable beacon payload")
}

func (tc *TrackController) processEvent(c *fiber.Ctx, input *trackInput) {
	now := time.Now()
	evt := tc.buildEvent(c, input, now)

	eventData, _ := json.Marshal(input.EventData)

	for _, code := range input.PixelIDs {
		pixel, err := resolvePixel(tc.DB, code, now)
		if err != nil {
			// Unknown or disabled pixel codes are skipped, not failed:
			// a script tag may carry several ids and the healthy ones
			// must keep flowing.
			continue
		}

		event := models.PixelEvent{
			PixelID:         pixel.ID,
			VisitorID:       input.VisitorID,
			SessionID:       input.SessionID,
			EventType:       input.EventType,
			URL:             input.Page.URL,
			Referrer:        input.Page.Referrer,
			IPAddress:       evt.IPAddress,
			UserAgent:       evt.UserAgent,
			FingerprintHash: evt.FingerprintHash,
			EventData:       string(eventData),
			CreatedAt:       now,
		}
		if err := tc.DB.Create(&event).Error; err != nil {
			utils.LogError("pixel_event_insert_failed", err, map[string]interface{}{
				"pixel_code": code,
			})
			continue
		}

		visitor, err := tc.Store.ApplyEvent(pixel, input.VisitorID, evt, now, scoring.Options{})
		if err != nil {
			utils.LogError("visitor_merge_failed", err, map[string]interface{}{
				"pixel_code": code,
				"visitor_id": input.VisitorID,
			})
			continue
		}

		if !visitor.IsEnriched && usableIP(evt.IPAddress) {
			tc.Enricher.Enqueue(worker.EnrichmentJob{
				VisitorPK: visitor.ID,
				OwnerID:   pixel.OwnerID,
				IPAddress: evt.IPAddress,
				UserAgent: evt.UserAgent,
			})
		}
	}
}

func (tc *TrackController) buildEvent(c *fiber.Ctx, input *trackInput, now time.Time) store.Event {
	evt := store.Event{
		Type:            input.EventType,
		SessionID:       input.SessionID,
		URL:             input.Page.URL,
		Referrer:        input.Page.Referrer,
		ScrollDepth:     intFromData(input.EventData, "depth", "scrollDepth"),
		TimeOnPage:      intFromData(input.EventData, "timeOnPage", "timeOnSite"),
		IPAddress:       c.IP(),
		UserAgent:       c.Get("User-Agent"),
		FingerprintHash: input.Fingerprint.Hash(),
		Timestamp:       now,
	}
	if ts, err := time.Parse(time.RFC3339, input.Timestamp); err == nil {
		evt.Timestamp = ts
	}
	if input.EventType == models.EventIdentify {
		if email, ok := input.EventData["email"].(string); ok {
			email = strings.ToLower(strings.TrimSpace(email))
			// Identification is one-way; a garbage address must never
			// flip is_identified.
			if checkmail.ValidateFormat(email) == nil {
				evt.Email = email
			}
		}
	}
	return evt
}

// parseTrackInput accepts a JSON body regardless of content type: sendBeacon
// delivers the payload as text/plain.
func parseTrackInput(c *fiber.Ctx) (*trackInput, error) {
	var input trackInput
	if err := c.BodyParser(&input); err != nil {
		if err := json.Unmarshal(c.Body(), &input); err != nil {
			return nil, err
		}
	}
	return &input, nil
}

// resolvePixel finds an ingestable pixel by its public code and flips a
// pending pixel to active on first traffic.
func resolvePixel(db *gorm.DB, code string, now time.Time) (*models.Pixel, error) {
	var pixel models.Pixel
	if err := db.Where("code = ?", code).First(&pixel).Error; err != nil {
		return nil, err
	}
	if pixel.Status == models.PixelStatusDisabled {
		return nil, gorm.ErrRecordNotFound
	}
	if pixel.Status == models.PixelStatusPending {
		if err := db.Model(&pixel).Updates(map[string]interface{}{
			"status":       models.PixelStatusActive,
			"activated_at": now,
		}).Error; err != nil {
			return nil, err
		}
		pixel.Status = models.PixelStatusActive
	}
	return &pixel, nil
}

// intFromData reads the first numeric value found under the given keys.
// JSON numbers arrive as float64.
func intFromData(data map[string]interface{}, keys ...string) int {
	for _, k := range keys {
		switch v := data[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

// usableIP filters out addresses the enrichment API cannot resolve.
func usableIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !parsed.IsLoopback() && !parsed.IsPrivate() && !parsed.IsUnspecified()
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
