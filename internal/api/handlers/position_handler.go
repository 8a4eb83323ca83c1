package handlers

import (
	"net/http"

	"campusrun/internal/api/middleware"
	"campusrun/internal/domain/entities"
	"campusrun/internal/positioning"

	"github.com/gin-gonic/gin"
)

// PositionHandler receives the performer device's position stream.
type PositionHandler struct {
	hub *positioning.Hub
}

func NewPositionHandler(hub *positioning.Hub) *PositionHandler {
	return &PositionHandler{hub: hub}
}

type PositionRequest struct {
	entities.Location
	Provider string `json:"provider"`
}

// Push handles POST /positions. Positions are attributed to the caller.
func (h *PositionHandler) Push(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider := positioning.ProviderGPS
	switch req.Provider {
	case "", string(positioning.ProviderGPS):
	case string(positioning.ProviderNetwork):
		provider = positioning.ProviderNetwork
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider must be gps or network"})
		return
	}

	if err := h.hub.Push(middleware.GetUserID(c), req.Location, provider); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type PositionErrorRequest struct {
	Kind    string `json:"kind" binding:"required"`
	Message string `json:"message"`
}

// ReportError handles POST /positions/errors. kind is "permission_denied"
// or "position_unavailable".
func (h *PositionHandler) ReportError(c *gin.Context) {
	var req PositionErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch req.Kind {
	case "permission_denied":
		err = entities.ErrPermissionDenied
	case "position_unavailable":
		err = entities.ErrPositionUnavailable
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be permission_denied or position_unavailable"})
		return
	}

	h.hub.ReportError(middleware.GetUserID(c), err)
	c.Status(http.StatusAccepted)
}
