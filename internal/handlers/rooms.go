package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/signaling"
)

// GetPresence reports who is connected to a room right now (requires authentication)
func GetPresence(coord *signaling.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		users := coord.RoomMembers(roomID)
		c.JSON(http.StatusOK, models.PresenceResponse{
			RoomID: roomID,
			Users:  users,
			Count:  len(users),
		})
	}
}
