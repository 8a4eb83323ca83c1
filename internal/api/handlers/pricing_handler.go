package handlers

import (
	"net/http"

	"campusrun/internal/domain/entities"
	"campusrun/internal/services"

	"github.com/gin-gonic/gin"
)

type PricingHandler struct {
	pricing *services.PricingService
}

func NewPricingHandler(pricing *services.PricingService) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

type QuoteRequest struct {
	TaskLocation      *entities.Location `json:"task_location" binding:"required"`
	RequesterLocation *entities.Location `json:"requester_location"`
	Urgency           string             `json:"urgency" binding:"required"`
	IsFree            bool               `json:"is_free"`
}

// Quote handles POST /pricing/quote. A quote that cannot be priced, for
// example without a requester location, is the zero breakdown.
func (h *PricingHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	urgency, err := entities.ParseUrgency(req.Urgency)
	if err != nil {
		respondError(c, err)
		return
	}

	breakdown := h.pricing.PriceTask(req.TaskLocation, req.RequesterLocation, urgency, req.IsFree)
	c.JSON(http.StatusOK, breakdown)
}
