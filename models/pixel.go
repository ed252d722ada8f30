package models

import (
	"time"

	"gorm.io/gorm"
)

// Pixel statuses. A pixel is created "pending" and flips to "active" the first
// time either ingestion path sees traffic for it.
const (
	PixelStatusPending  = "pending"
	PixelStatusActive   = "active"
	PixelStatusDisabled = "disabled"
)

// Pixel is a per-website tracking configuration, identified publicly by Code.
type Pixel struct {
	gorm.Model
	OwnerID uint   `gorm:"not null;index" json:"owner_id"`
	Name    string `gorm:"not null" json:"name"`
	Code    string `gorm:"not null;uniqueIndex;size:32" json:"code"`
	Domain  string `json:"domain"`
	Status  string `gorm:"default:pending;index" json:"status"`

	ActivatedAt *time.Time `json:"activated_at"`

	Owner    User      `json:"-"`
	Visitors []Visitor `gorm:"foreignKey:PixelID" json:"-"`
}

// PixelEvent is the append-only behavioral event log. Rows are never updated
// or deleted outside of bulk visitor deletion.
type PixelEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	PixelID   uint   `gorm:"not null;index" json:"pixel_id"`
	VisitorID string `gorm:"not null;index;size:64" json:"visitor_id"`
	SessionID string `gorm:"size:64" json:"session_id"`

	EventType string `gorm:"not null;index" json:"event_type"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`

	IPAddress       string `json:"ip_address"`
	UserAgent       string `json:"user_agent"`
	FingerprintHash string `gorm:"size:128" json:"fingerprint_hash"`

	// Event-specific payload, stored as raw JSON
	EventData string `gorm:"type:text" json:"event_data"`
}

// Event types accepted by the ingestion endpoint.
const (
	EventPageview   = "pageview"
	EventScroll     = "scroll"
	EventClick      = "click"
	EventFormSubmit = "form_submit"
	EventHeartbeat  = "heartbeat"
	EventExit       = "exit"
	EventIdentify   = "identify"
)

// KnownEventType reports whether t is one of the accepted event types.
func KnownEventType(t string) bool {
	switch t {
	case EventPageview, EventScroll, EventClick, EventFormSubmit,
		EventHeartbeat, EventExit, EventIdentify:
		return true
	}
	return false
}
