package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carguard-backend/internal/mw"
	"carguard-backend/internal/store"
)

// GetLatestTelemetry handles GET /api/telemetry/latest: the stored snapshot
// of the owner's active vehicle.
func (h *Handler) GetLatestTelemetry(c *gin.Context) {
	ownerID := mw.DashboardOwnerID(c)

	vehicle, err := h.store.ActiveVehicle(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "No active vehicle found for this owner"})
		return
	}

	snapshot, err := h.store.LatestTelemetry(c.Request.Context(), vehicle.VehicleUUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "No telemetry recorded yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
