package handlers

import (
	"errors"
	"net/http"

	"campusrun/internal/domain/entities"
	"campusrun/internal/services"

	"github.com/gin-gonic/gin"
)

// respondError maps service and domain errors onto HTTP statuses. Anything
// unrecognized is a 500 and is attached to the context for the request log.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotTaskPerformer),
		errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrCannotAcceptOwnTask):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTrackingOwnedElsewhere),
		errors.Is(err, services.ErrTaskNotTrackable),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrTaskBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrInvalidLocation),
		errors.Is(err, entities.ErrUnknownUrgency),
		errors.Is(err, services.ErrTitleRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
