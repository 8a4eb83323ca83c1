package handlers

import (
	"net/http"
	"strconv"

	"campusrun/internal/domain/entities"
	"campusrun/internal/services"

	"github.com/gin-gonic/gin"
)

type BundleHandler struct {
	bundling *services.BundlingService
	tasks    *services.TaskService
}

func NewBundleHandler(bundling *services.BundlingService, tasks *services.TaskService) *BundleHandler {
	return &BundleHandler{bundling: bundling, tasks: tasks}
}

type BundleRequest struct {
	Tasks             []entities.TaskSummary `json:"tasks"`
	RequesterLocation *entities.Location     `json:"requester_location"`
}

// Bundle handles POST /bundles over a caller-supplied candidate list.
func (h *BundleHandler) Bundle(c *gin.Context) {
	var req BundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bundles": h.bundling.BundleTasks(req.Tasks, req.RequesterLocation)})
}

// Nearby handles GET /bundles/nearby?lat=&lng=[&radius_km=] over the open
// tasks around the caller.
func (h *BundleHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng query parameters are required"})
		return
	}
	var radius float64
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be a positive number"})
			return
		}
		radius = r
	}

	bundles, err := h.tasks.NearbyBundles(c.Request.Context(), entities.NewLocation(lat, lng), radius)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": bundles})
}
