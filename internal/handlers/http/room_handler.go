// Package http exposes the read-only management API next to the signaling
// socket: room lookups and live stats for dashboards and health probes.
package http

import (
	"net/http"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	sessions ports.SessionService
	presence ports.PresenceRepository
}

func NewRoomHandler(sessions ports.SessionService, presence ports.PresenceRepository) *RoomHandler {
	return &RoomHandler{
		sessions: sessions,
		presence: presence,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.GET("/stats", h.Stats)
	}
}

func (h *RoomHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.presence.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	snapshot, err := h.sessions.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": snapshot})
}

func (h *RoomHandler) Stats(c *gin.Context) {
	stats := h.sessions.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"rooms": stats})
}
