package repository

import (
	"time"

	"zotalk/internal/domain"
	"zotalk/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceRepository persists user online/offline status. Writes are
// upserts keyed by user_id so SetOnline/SetOffline are idempotent.
type PresenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

func (r *PresenceRepository) SetOnline(userID string, at time.Time) error {
	return r.upsert(&models.UserPresence{
		UserID:       userID,
		Status:       domain.PresenceOnline,
		IsOnline:     true,
		LastActiveAt: at,
	})
}

func (r *PresenceRepository) SetOffline(userID string, lastActive time.Time) error {
	return r.upsert(&models.UserPresence{
		UserID:       userID,
		Status:       domain.PresenceOffline,
		IsOnline:     false,
		LastActiveAt: lastActive,
	})
}

func (r *PresenceRepository) upsert(p *models.UserPresence) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "is_online", "last_active_at", "updated_at"}),
	}).Create(p).Error
}

func (r *PresenceRepository) GetByUserID(userID string) (*models.UserPresence, error) {
	var p models.UserPresence
	err := r.db.Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
