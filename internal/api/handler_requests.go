package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"carguard-backend/internal/mqtt"
	"carguard-backend/internal/mw"
)

// safeAlcoholThreshold guards ask-to-start: below it no approval is needed
// and no request is created.
const safeAlcoholThreshold = 30

type createRequestBody struct {
	AlcoholLevel int `json:"alcoholLevel" binding:"required"`
}

// CreateRequest handles POST /api/requests: the owner (or a family member on
// their dashboard) asks permission to start the active vehicle.
func (h *Handler) CreateRequest(c *gin.Context) {
	var req createRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.AlcoholLevel <= safeAlcoholThreshold {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Alcohol level safe. Request not required."})
		return
	}

	ownerID := mw.DashboardOwnerID(c)

	vehicle, err := h.store.ActiveVehicle(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No active vehicle found for this owner"})
		return
	}

	request, err := h.ledger.Create(c.Request.Context(), ownerID, vehicle.VehicleUUID, req.AlcoholLevel)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"message": err.Error()})
		return
	}

	// Best-effort: the vehicle learns about its own pending request, but a
	// broker hiccup must not fail the creation.
	if h.commands != nil {
		if err := h.commands.PublishByVehicle(c.Request.Context(), ownerID, request.VehicleUUID, mqtt.RequestCreatedCommand(request)); err != nil {
			log.Printf("Failed to publish request command for vehicle %s: %v", request.VehicleUUID, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Request sent to family members",
		"requestId":   request.ID,
		"requestedAt": request.CreatedAt,
		"expiresAt":   request.ExpiresAt,
		"vehicleId":   request.VehicleUUID,
	})
}

// GetActiveRequest handles GET /api/requests/active. Responds with JSON null
// when the owner has no live request.
func (h *Handler) GetActiveRequest(c *gin.Context) {
	ownerID := mw.DashboardOwnerID(c)

	request, err := h.ledger.ActiveFor(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if request == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requestId": request.ID,
		"status":    request.Status,
		"vehicleId": request.VehicleUUID,
	})
}

// GetRequestApprovals handles GET /api/requests/:id/approvals: the full
// request snapshot with the per-approver decision list.
func (h *Handler) GetRequestApprovals(c *gin.Context) {
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	ownerID := mw.DashboardOwnerID(c)

	snapshot, err := h.ledger.Snapshot(c.Request.Context(), ownerID, requestID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
