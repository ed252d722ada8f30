package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the pixel owner. Account management lives in a separate service;
// this model only carries what pixel ownership and the read API need.
type User struct {
	gorm.Model
	Email        string `gorm:"not null;index" json:"email"`
	Name         string `json:"name"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	Pixels      []Pixel         `gorm:"foreignKey:OwnerID" json:"-"`
	Credentials []APICredential `gorm:"foreignKey:OwnerID" json:"-"`
}

// APICredential holds an owner-scoped key for the third-party enrichment API.
type APICredential struct {
	gorm.Model
	OwnerID  uint   `gorm:"not null;index" json:"owner_id"`
	Provider string `gorm:"not null;default:enrichment" json:"provider"`
	APIKey   string `gorm:"not null" json:"-"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	LastUsedAt *time.Time `json:"last_used_at"`
}
