package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string         `gorm:"size:128;not null;default:''" json:"display_name"`
	AvatarURL   string         `gorm:"size:512" json:"avatar_url"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Presence *UserPresence `gorm:"foreignKey:UserID" json:"presence,omitempty"`
}
