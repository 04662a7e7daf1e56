package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/engine"
)

type bookSlotRequest struct {
	EstimatedDuration int `json:"estimated_duration"`
}

// BookSlot handles the POST /api/slots/{slot_id}/book request.
func (h *Handler) BookSlot(c *gin.Context) {
	slotID, err := strconv.ParseInt(c.Param("slot_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid slot ID"})
		return
	}

	var req bookSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slot, err := h.engine.Book(c.Request.Context(), slotID, req.EstimatedDuration)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSlotResponse(*slot))
}

// ReleaseSlot handles the POST /api/slots/{slot_id}/release request.
func (h *Handler) ReleaseSlot(c *gin.Context) {
	slotID, err := strconv.ParseInt(c.Param("slot_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid slot ID"})
		return
	}

	slot, err := h.engine.Release(c.Request.Context(), slotID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSlotResponse(*slot))
}

type bulkUpdateRequest struct {
	Updates []struct {
		SlotID                  int64 `json:"slot_id" binding:"required"`
		IsOccupied              bool  `json:"is_occupied"`
		PredictedVacancySeconds int   `json:"predicted_vacancy_seconds"`
	} `json:"updates" binding:"required"`
}

// BulkUpdateSlots handles the POST /api/lots/{lot_id}/slots/bulk request.
// The whole batch is applied in one transaction; a failing update rolls
// back every other update in the request.
func (h *Handler) BulkUpdateSlots(c *gin.Context) {
	if _, err := strconv.ParseInt(c.Param("lot_id"), 10, 64); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid lot ID"})
		return
	}

	var req bulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Updates) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "updates must not be empty"})
		return
	}

	updates := make([]engine.SlotUpdate, len(req.Updates))
	for i, u := range req.Updates {
		updates[i] = engine.SlotUpdate{
			SlotID:                  u.SlotID,
			IsOccupied:              u.IsOccupied,
			PredictedVacancySeconds: u.PredictedVacancySeconds,
		}
	}

	slots, err := h.engine.ApplyBatch(c.Request.Context(), updates)
	if err != nil {
		abortWithError(c, err)
		return
	}

	responses := make([]slotResponse, len(slots))
	for i, s := range slots {
		responses[i] = toSlotResponse(s)
	}
	c.JSON(http.StatusOK, responses)
}
