package handler

import (
	"net/http"
	"time"

	"zotalk/config"
	"zotalk/internal/domain"
	"zotalk/internal/presence"
	"zotalk/internal/repository"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	tracker      *presence.Tracker
	presenceRepo *repository.PresenceRepository
	userRepo     *repository.UserRepository
}

func NewPresenceHandler(tracker *presence.Tracker, presenceRepo *repository.PresenceRepository, userRepo *repository.UserRepository) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, presenceRepo: presenceRepo, userRepo: userRepo}
}

// GetUserPresence reports live tracker state for a user, falling back
// to the last persisted record for the last-active timestamp.
func (h *PresenceHandler) GetUserPresence(c *gin.Context) {
	userID := c.Param("id")
	u, err := h.userRepo.GetByID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if lastSeen, ok := h.tracker.LastSeen(userID); ok {
		c.JSON(http.StatusOK, gin.H{
			"user_id":     userID,
			"status":      domain.PresenceOnline,
			"last_active": lastSeen,
		})
		return
	}
	var lastActive time.Time
	if p, err := h.presenceRepo.GetByUserID(userID); err == nil && p != nil {
		lastActive = p.LastActiveAt
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"status":      domain.PresenceOffline,
		"last_active": lastActive,
	})
}

// GetICEServers returns the configured STUN/TURN descriptors; the same
// list is pushed over the socket at connect time.
func GetICEServers(cfg *config.ICEConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ice_servers": cfg.Servers})
	}
}
