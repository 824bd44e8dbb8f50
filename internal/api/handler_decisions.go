package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"carguard-backend/internal/model"
	"carguard-backend/internal/mqtt"
	"carguard-backend/internal/mw"
)

type submitDecisionBody struct {
	RequestID int64  `json:"requestId" binding:"required"`
	MemberID  int64  `json:"memberId" binding:"required"`
	Decision  string `json:"decision" binding:"required"`
}

// SubmitDecision handles POST /api/decisions: the authenticated decision
// channel. The caller must themselves hold the ACTIVE FAMILY membership the
// decision is attributed to.
func (h *Handler) SubmitDecision(c *gin.Context) {
	var req submitDecisionBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ownerID := mw.DashboardOwnerID(c)
	userID := mw.CurrentUserID(c)

	member, err := h.store.FamilyMembership(c.Request.Context(), ownerID, req.MemberID, userID)
	if err != nil || member == nil {
		c.JSON(http.StatusForbidden, gin.H{"message": "Not allowed"})
		return
	}

	result, err := h.ledger.SubmitDecision(c.Request.Context(), ownerID, req.RequestID, req.MemberID, req.Decision)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"message": err.Error()})
		return
	}

	if result.Status != model.DecisionPending {
		h.publishApprovalResult(c, ownerID, req.RequestID, req.MemberID, result.Status)
	}

	c.JSON(http.StatusOK, result)
}

// publishApprovalResult pushes the settled decision to the vehicle. Failures
// are swallowed: the ledger state is durable, the command stream is not the
// source of truth.
func (h *Handler) publishApprovalResult(c *gin.Context, ownerID, requestID, memberID int64, status string) {
	if h.commands == nil {
		return
	}

	var request model.StartRequest
	err := h.store.DB().WithContext(c.Request.Context()).
		Where("id = ? AND owner_id = ?", requestID, ownerID).
		First(&request).Error
	if err != nil || request.VehicleUUID == "" {
		return
	}

	var name, phone string
	if user, err := h.store.UserByID(c.Request.Context(), mw.CurrentUserID(c)); err == nil {
		name, phone = user.Name, user.Phone
	}

	command := mqtt.ApprovalResultCommand(status, memberID, name, phone)
	if err := h.commands.PublishByVehicle(c.Request.Context(), ownerID, request.VehicleUUID, command); err != nil {
		log.Printf("Failed to publish approval result for vehicle %s: %v", request.VehicleUUID, err)
	}
}
