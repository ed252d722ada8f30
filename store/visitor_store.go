package store

import (
	"errors"
	"log"
	"strings"
	"time"

	"leadpixel/models"
	"leadpixel/scoring"

	"gorm.io/gorm"
)

// SessionTimeout is the inactivity gap after which a returning event counts as
// a new session.
const SessionTimeout = 30 * time.Minute

// Event is the normalized behavioral event both ingestion paths feed into the
// visitor merge. Controllers build it from their own wire formats.
type Event struct {
	Type            string
	SessionID       string
	URL             string
	Referrer        string
	ScrollDepth     int // percent, scroll events
	TimeOnPage      int // seconds, cumulative per page (heartbeat/exit)
	Email           string
	IPAddress       string
	UserAgent       string
	FingerprintHash string
	Timestamp       time.Time
}

// eventDeltas are the counter changes a single event contributes. Additive
// fields are summed server-side; ScrollDepth and TimeOnSite are floors merged
// with GREATEST so overlapping heartbeats never double count.
type eventDeltas struct {
	Pageviews   int
	Clicks      int
	FormSubmits int
	ScrollDepth int
	TimeOnSite  int
}

func deltasForEvent(evt Event) eventDeltas {
	var d eventDeltas
	switch evt.Type {
	case models.EventPageview:
		d.Pageviews = 1
	case models.EventClick:
		d.Clicks = 1
	case models.EventFormSubmit:
		d.FormSubmits = 1
	case models.EventScroll:
		d.ScrollDepth = clampPercent(evt.ScrollDepth)
	case models.EventHeartbeat, models.EventExit:
		if evt.TimeOnPage > 0 {
			d.TimeOnSite = evt.TimeOnPage
		}
		d.ScrollDepth = clampPercent(evt.ScrollDepth)
	}
	return d
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// IdentityAttrs is the attribute-wise identity merge input. Empty fields are
// never assigned over existing values (last-non-empty-wins).
type IdentityAttrs struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	JobTitle  string
	Phone     string
	City      string
	Region    string
	Country   string
}

// VisitorStore owns all reads and writes of the Visitor aggregate. The
// composite unique index on (pixel_id, visitor_id) plus single-statement
// server-side arithmetic are the only concurrency control; no in-process
// locking exists.
type VisitorStore struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewVisitorStore(db *gorm.DB, logger *log.Logger) *VisitorStore {
	return &VisitorStore{
		DB:     db,
		Logger: logger,
	}
}

// ApplyEvent merges one event into the visitor row for (pixel, visitorID),
// creating the row if it does not exist. Counter updates run as a single
// atomic UPDATE with server-computed deltas, so concurrent events for the
// same visitor never lose increments to a stale read.
func (vs *VisitorStore) ApplyEvent(pixel *models.Pixel, visitorID string, evt Event, now time.Time, opts scoring.Options) (*models.Visitor, error) {
	var visitor models.Visitor
	err := vs.DB.Where("pixel_id = ? AND visitor_id = ?", pixel.ID, visitorID).First(&visitor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created, cerr := vs.createFromEvent(pixel.ID, visitorID, evt, now)
		if cerr == nil {
			return created, nil
		}
		// A concurrent request created the row first; the unique index
		// rejected our insert. Fall through to the atomic update path.
		if !isDuplicateKey(cerr) {
			return nil, cerr
		}
		if err := vs.DB.Where("pixel_id = ? AND visitor_id = ?", pixel.ID, visitorID).First(&visitor).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return vs.applyToExisting(&visitor, evt, now, opts)
}

// ApplyToVisitor merges an event into an already-matched visitor row. The
// webhook path uses this after email-first matching so a provider visitor id
// that differs from the stored one never spawns a second row.
func (vs *VisitorStore) ApplyToVisitor(visitor *models.Visitor, evt Event, now time.Time, opts scoring.Options) (*models.Visitor, error) {
	return vs.applyToExisting(visitor, evt, now, opts)
}

func (vs *VisitorStore) createFromEvent(pixelID uint, visitorID string, evt Event, now time.Time) (*models.Visitor, error) {
	d := deltasForEvent(evt)
	visitor := models.Visitor{
		PixelID:         pixelID,
		VisitorID:       visitorID,
		TotalPageviews:  d.Pageviews,
		TotalSessions:   1,
		TotalTimeOnSite: d.TimeOnSite,
		MaxScrollDepth:  d.ScrollDepth,
		TotalClicks:     d.Clicks,
		FormSubmitCount: d.FormSubmits,
		LeadScore:       scoring.BaseScore,
		FirstSeenAt:     &now,
		LastSeenAt:      &now,
		LastIPAddress:   evt.IPAddress,
		LastUserAgent:   evt.UserAgent,
	}
	if err := vs.DB.Create(&visitor).Error; err != nil {
		return nil, err
	}
	if evt.Type == models.EventIdentify && evt.Email != "" {
		if err := vs.Identify(&visitor, evt.Email, now); err != nil {
			return nil, err
		}
	}
	return &visitor, nil
}

func (vs *VisitorStore) applyToExisting(visitor *models.Visitor, evt Event, now time.Time, opts scoring.Options) (*models.Visitor, error) {
	d := deltasForEvent(evt)

	updates := map[string]interface{}{
		"last_seen_at": now,
		"updated_at":   now,
		// Session increments only when the inactivity gap exceeds the
		// timeout, computed against the stored row inside the statement.
		"total_sessions": gorm.Expr(
			"total_sessions + CASE WHEN last_seen_at IS NULL OR last_seen_at < ? THEN 1 ELSE 0 END",
			now.Add(-SessionTimeout)),
	}
	if d.Pageviews > 0 {
		updates["total_pageviews"] = gorm.Expr("total_pageviews + ?", d.Pageviews)
	}
	if d.Clicks > 0 {
		updates["total_clicks"] = gorm.Expr("total_clicks + ?", d.Clicks)
	}
	if d.FormSubmits > 0 {
		updates["form_submit_count"] = gorm.Expr("form_submit_count + ?", d.FormSubmits)
	}
	if d.ScrollDepth > 0 {
		updates["max_scroll_depth"] = gorm.Expr("GREATEST(max_scroll_depth, ?)", d.ScrollDepth)
	}
	if d.TimeOnSite > 0 {
		updates["total_time_on_site"] = gorm.Expr("GREATEST(total_time_on_site, ?)", d.TimeOnSite)
	}
	if evt.IPAddress != "" {
		updates["last_ip_address"] = evt.IPAddress
	}
	if evt.UserAgent != "" {
		updates["last_user_agent"] = evt.UserAgent
	}

	if err := vs.DB.Model(&models.Visitor{}).Where("id = ?", visitor.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	if evt.Type == models.EventIdentify && evt.Email != "" {
		if err := vs.Identify(visitor, evt.Email, now); err != nil {
			return nil, err
		}
	}

	return vs.RecomputeScore(visitor.ID, opts)
}

// Identify records a non-empty email and flips is_identified. The transition
// is one-way: identified_at is only set the first time.
func (vs *VisitorStore) Identify(visitor *models.Visitor, email string, now time.Time) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	return vs.DB.Model(&models.Visitor{}).Where("id = ?", visitor.ID).Updates(map[string]interface{}{
		"email":         email,
		"is_identified": true,
		"identified_at": gorm.Expr("COALESCE(identified_at, ?)", now),
	}).Error
}

// MergeIdentity applies attribute-wise last-non-empty-wins assignment: a
// field already holding a value is never cleared by an empty incoming value.
func (vs *VisitorStore) MergeIdentity(visitor *models.Visitor, attrs IdentityAttrs, now time.Time) error {
	updates := identityUpdates(attrs)
	if len(updates) == 0 {
		return nil
	}
	if attrs.Email != "" {
		updates["is_identified"] = true
		updates["identified_at"] = gorm.Expr("COALESCE(identified_at, ?)", now)
	}
	updates["updated_at"] = now
	return vs.DB.Model(&models.Visitor{}).Where("id = ?", visitor.ID).Updates(updates).Error
}

func identityUpdates(attrs IdentityAttrs) map[string]interface{} {
	updates := map[string]interface{}{}
	set := func(column, value string) {
		if value != "" {
			updates[column] = value
		}
	}
	set("email", strings.ToLower(strings.TrimSpace(attrs.Email)))
	set("first_name", attrs.FirstName)
	set("last_name", attrs.LastName)
	set("company", attrs.Company)
	set("job_title", attrs.JobTitle)
	set("phone", attrs.Phone)
	set("city", attrs.City)
	set("region", attrs.Region)
	set("country", attrs.Country)
	return updates
}

// MarkEnriched stamps first-time enrichment state. Repeat calls are no-ops,
// which keeps re-delivered resolution payloads idempotent.
func (vs *VisitorStore) MarkEnriched(visitorPK uint, source, rawPayload string, now time.Time) error {
	return vs.DB.Model(&models.Visitor{}).
		Where("id = ? AND is_enriched = ?", visitorPK, false).
		Updates(map[string]interface{}{
			"is_enriched":       true,
			"enriched_at":       now,
			"enrichment_source": source,
			"enrichment_data":   rawPayload,
			"updated_at":        now,
		}).Error
}

// RecomputeScore derives lead_score from the freshest counter snapshot. Score
// is a pure function of the row, so concurrent writers converge on the value
// computed from the final counter state.
func (vs *VisitorStore) RecomputeScore(visitorPK uint, opts scoring.Options) (*models.Visitor, error) {
	var visitor models.Visitor
	if err := vs.DB.First(&visitor, visitorPK).Error; err != nil {
		return nil, err
	}
	score := scoring.CalculateLeadScore(visitor.Counters(), visitor.IsIdentified, visitor.IsEnriched, opts)
	if score != visitor.LeadScore {
		if err := vs.DB.Model(&models.Visitor{}).Where("id = ?", visitor.ID).Update("lead_score", score).Error; err != nil {
			return nil, err
		}
		visitor.LeadScore = score
	}
	return &visitor, nil
}

// FindByEmail resolves the email-first webhook match.
func (vs *VisitorStore) FindByEmail(pixelID uint, email string) (*models.Visitor, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var visitor models.Visitor
	if err := vs.DB.Where("pixel_id = ? AND email = ?", pixelID, email).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}

// FindByVisitorID resolves the fallback webhook match.
func (vs *VisitorStore) FindByVisitorID(pixelID uint, visitorID string) (*models.Visitor, error) {
	if visitorID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var visitor models.Visitor
	if err := vs.DB.Where("pixel_id = ? AND visitor_id = ?", pixelID, visitorID).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx surfaces unique violations as SQLSTATE 23505
	return err != nil && strings.Contains(err.Error(), "23505")
}
