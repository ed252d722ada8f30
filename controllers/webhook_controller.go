package controller

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"leadpixel/models"
	"leadpixel/scoring"
	"leadpixel/store"
	"leadpixel/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// webhookScoring: the identity-resolution path applies both bonuses, the
// direct pixel path applies neither. Intentional asymmetry, not a bug.
var webhookScoring = scoring.Options{IdentifiedBonus: true, EnrichedBonus: true}

// WebhookController receives push-style identity-resolution batches from the
// third-party provider. It merges into the same Visitor aggregate as the
// pixel path, matching email-first then provider visitor id.
type WebhookController struct {
	DB     *gorm.DB
	Store  *store.VisitorStore
	Logger *log.Logger
}

func NewWebhookController(db *gorm.DB, visitorStore *store.VisitorStore, logger *log.Logger) *WebhookController {
	return &WebhookController{
		DB:     db,
		Store:  visitorStore,
		Logger: logger,
	}
}

type webhookEvent struct {
	PixelID        string                 `json:"pixel_id"`
	HemSHA256      string                 `json:"hem_sha256"`
	EventTimestamp string                 `json:"event_timestamp"`
	EventType      string                 `json:"event_type"`
	IPAddress      string                 `json:"ip_address"`
	ReferrerURL    string                 `json:"referrer_url"`
	EventData      map[string]interface{} `json:"event_data"`
	Resolution     map[string]interface{} `json:"resolution"`
}

type webhookInput struct {
	Events []webhookEvent `json:"events" validate:"required,min=1"`
}

type webhookResult struct {
	PixelID   string `json:"pixel_id"`
	VisitorID string `json:"visitor_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// HandleIdentityWebhook processes an authenticated resolution batch. Each
// event's failure is isolated into its result entry; the batch never aborts.
func (wc *WebhookController) HandleIdentityWebhook(c *fiber.Ctx) error {
	var input webhookInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	results := make([]webhookResult, 0, len(input.Events))
	succeeded := 0
	for _, evt := range input.Events {
		visitorID, err := wc.processEvent(evt)
		result := webhookResult{
			PixelID:   evt.PixelID,
			VisitorID: visitorID,
			Success:   err == nil,
		}
		if err != nil {
			result.Error = err.Error()
			utils.LogError("identity_webhook_event_failed", err, map[string]interface{}{
				"pixel_code": evt.PixelID,
			})
		} else {
			succeeded++
		}
		results = append(results, result)
	}

	return c.JSON(fiber.Map{
		"success":   succeeded == len(input.Events),
		"processed": len(input.Events),
		"succeeded": succeeded,
		"failed":    len(input.Events) - succeeded,
		"results":   results,
	})
}

func (wc *WebhookController) processEvent(evt webhookEvent) (visitorID string, err error) {
	// A panic in one event must not take down its siblings.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing event: %v", r)
		}
	}()

	now := time.Now()

	pixel, perr := resolvePixel(wc.DB, evt.PixelID, now)
	if perr != nil {
		return "", fmt.Errorf("pixel not found: %s", evt.PixelID)
	}

	attrs := extractResolution(evt.Resolution)
	providerVisitorID := providerVisitorID(evt)

	// Email first, then provider visitor id. Once either key matches, this
	// is plausibly the same person: never create a second row.
	visitor, ferr := wc.Store.FindByEmail(pixel.ID, attrs.Email)
	if ferr != nil {
		visitor, ferr = wc.Store.FindByVisitorID(pixel.ID, providerVisitorID)
	}
	if ferr != nil && providerVisitorID == "" {
		providerVisitorID = uuid.NewString()
	}

	sevt := wc.buildEvent(evt, now)
	wc.appendEvent(pixel, providerVisitorID, visitor, sevt, evt)

	if ferr != nil {
		visitor, err = wc.Store.ApplyEvent(pixel, providerVisitorID, sevt, now, webhookScoring)
	} else {
		visitor, err = wc.Store.ApplyToVisitor(visitor, sevt, now, webhookScoring)
	}
	if err != nil {
		return "", err
	}

	if err := wc.Store.MergeIdentity(visitor, attrs, now); err != nil {
		return visitor.VisitorID, err
	}

	if len(evt.Resolution) > 0 {
		raw, _ := json.Marshal(evt.Resolution)
		if err := wc.Store.MarkEnriched(visitor.ID, "identity_webhook", string(raw), now); err != nil {
			return visitor.VisitorID, err
		}
	}

	if _, err := wc.Store.RecomputeScore(visitor.ID, webhookScoring); err != nil {
		return visitor.VisitorID, err
	}

	return visitor.VisitorID, nil
}

// buildEvent maps a webhook event onto the shared merge input. An event
// carrying a page URL counts as one pageview-like touch; without a URL only
// identity merges.
func (wc *WebhookController) buildEvent(evt webhookEvent, now time.Time) store.Event {
	url := eventURL(evt)
	sevt := store.Event{
		Type:      models.EventIdentify,
		URL:       url,
		Referrer:  evt.ReferrerURL,
		IPAddress: evt.IPAddress,
		Timestamp: now,
	}
	if url != "" {
		sevt.Type = models.EventPageview
	}
	if ts, err := time.Parse(time.RFC3339, evt.EventTimestamp); err == nil {
		sevt.Timestamp = ts
	}
	return sevt
}

func (wc *WebhookController) appendEvent(pixel *models.Pixel, providerVisitorID string, matched *models.Visitor, sevt store.Event, evt webhookEvent) {
	visitorID := providerVisitorID
	if matched != nil {
		visitorID = matched.VisitorID
	}
	data, _ := json.Marshal(evt.EventData)
	record := models.PixelEvent{
		PixelID:   pixel.ID,
		VisitorID: visitorID,
		EventType: sevt.Type,
		URL:       sevt.URL,
		Referrer:  sevt.Referrer,
		IPAddress: evt.IPAddress,
		EventData: string(data),
		CreatedAt: sevt.Timestamp,
	}
	if err := wc.DB.Create(&record).Error; err != nil {
		utils.LogError("webhook_event_insert_failed", err, map[string]interface{}{
			"pixel_code": evt.PixelID,
		})
	}
}

func providerVisitorID(evt webhookEvent) string {
	if id := lookupString(evt.Resolution, "UUID", "uuid", "VISITOR_ID", "visitor_id"); id != "" {
		return id
	}
	return evt.HemSHA256
}

func eventURL(evt webhookEvent) string {
	if evt.EventData == nil {
		return ""
	}
	return lookupString(evt.EventData, "url", "URL", "page_url")
}

// extractResolution pulls the identity attribute set out of the provider's
// nested resolution object. The provider has shipped several field-name
// spellings over time, so every attribute does a defensive multi-key lookup.
func extractResolution(resolution map[string]interface{}) store.IdentityAttrs {
	if len(resolution) == 0 {
		return store.IdentityAttrs{}
	}

	attrs := store.IdentityAttrs{
		FirstName: lookupString(resolution, "FIRST_NAME", "first_name", "firstName"),
		LastName:  lookupString(resolution, "LAST_NAME", "last_name", "lastName"),
		Company:   lookupString(resolution, "COMPANY_NAME", "company_name", "COMPANY", "company"),
		JobTitle:  lookupString(resolution, "JOB_TITLE", "job_title", "TITLE", "title"),
		Phone:     lookupString(resolution, "PHONE", "phone", "MOBILE_PHONE", "mobile_phone", "PHONE_NUMBER"),
		City:      lookupString(resolution, "CITY", "city", "PERSONAL_CITY"),
		Region:    lookupString(resolution, "STATE", "state", "REGION", "region", "PERSONAL_STATE"),
		Country:   lookupString(resolution, "COUNTRY", "country", "COUNTRY_CODE"),
	}

	// Personal emails win over the business address; the first listed
	// address of a comma-separated list is the one stored.
	email := firstEmail(lookupString(resolution, "PERSONAL_EMAILS", "personal_emails"))
	if email == "" {
		email = firstEmail(lookupString(resolution, "BUSINESS_EMAIL", "business_email", "EMAIL", "email"))
	}
	if email != "" && checkmail.ValidateFormat(email) == nil {
		attrs.Email = email
	}

	return attrs
}

// lookupString returns the first non-empty string value under any of the
// given keys. List values collapse to their first element.
func lookupString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []interface{}:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

func firstEmail(raw string) string {
	if raw == "" {
		return ""
	}
	first := raw
	if idx := strings.IndexByte(raw, ','); idx >= 0 {
		first = raw[:idx]
	}
	return strings.ToLower(strings.TrimSpace(first))
}
