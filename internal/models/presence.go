package models

import (
	"time"
)

type UserPresence struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	Status       string    `gorm:"size:16;not null;index" json:"status"` // online | offline
	IsOnline     bool      `gorm:"default:false;index" json:"is_online"`
	LastActiveAt time.Time `gorm:"not null;index" json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (UserPresence) TableName() string {
	return "user_presence"
}
