package models

import (
	"time"

	"gorm.io/gorm"
)

// Visitor is the canonical aggregate record for one browser/person on one pixel.
// Exactly one row exists per (pixel_id, visitor_id) pair; the composite unique
// index is the only concurrency control between the two ingestion paths.
type Visitor struct {
	gorm.Model
	PixelID   uint   `gorm:"not null;uniqueIndex:idx_visitors_pixel_visitor" json:"pixel_id"`
	VisitorID string `gorm:"not null;uniqueIndex:idx_visitors_pixel_visitor;size:64" json:"visitor_id"`

	// Identity fields (last-non-empty-wins merge)
	Email     string `gorm:"index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	JobTitle  string `json:"job_title"`
	Phone     string `json:"phone"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Country   string `json:"country"`

	// Engagement counters (monotonic, only ever increase)
	TotalPageviews  int `gorm:"default:0" json:"total_pageviews"`
	TotalSessions   int `gorm:"default:0" json:"total_sessions"`
	TotalTimeOnSite int `gorm:"default:0" json:"total_time_on_site"` // seconds
	MaxScrollDepth  int `gorm:"default:0" json:"max_scroll_depth"`   // 0-100
	TotalClicks     int `gorm:"default:0" json:"total_clicks"`
	FormSubmitCount int `gorm:"default:0" json:"form_submit_count"`

	// Derived state
	LeadScore    int  `gorm:"default:0" json:"lead_score"`
	IsIdentified bool `gorm:"default:false" json:"is_identified"`
	IsEnriched   bool `gorm:"default:false" json:"is_enriched"`

	FirstSeenAt  *time.Time `json:"first_seen_at"`
	LastSeenAt   *time.Time `gorm:"index" json:"last_seen_at"`
	IdentifiedAt *time.Time `json:"identified_at"`
	EnrichedAt   *time.Time `json:"enriched_at"`

	// Provenance
	EnrichmentSource string `json:"enrichment_source"`
	EnrichmentData   string `gorm:"type:text" json:"-"`

	// Last known client context, used for async enrichment lookups
	LastIPAddress string `json:"-"`
	LastUserAgent string `json:"-"`

	Pixel Pixel `json:"-"`
}

// Counters returns the engagement counter snapshot used by lead scoring.
func (v *Visitor) Counters() VisitorCounters {
	return VisitorCounters{
		Pageviews:   v.TotalPageviews,
		Sessions:    v.TotalSessions,
		TimeOnSite:  v.TotalTimeOnSite,
		ScrollDepth: v.MaxScrollDepth,
		Clicks:      v.TotalClicks,
		FormSubmits: v.FormSubmitCount,
	}
}

// VisitorCounters is the scoring input snapshot.
type VisitorCounters struct {
	Pageviews   int
	Sessions    int
	TimeOnSite  int
	ScrollDepth int
	Clicks      int
	FormSubmits int
}
