package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/model"
)

// LotResponse represents the API response for a single lot.
type LotResponse struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	TotalSlots    int64   `json:"totalSlots"`
	OccupiedSlots int64   `json:"occupiedSlots"`
	OccupancyRate float64 `json:"occupancyRate"`
}

// GetLots handles the GET /api/lots request.
func (h *Handler) GetLots(c *gin.Context) {
	ctx := c.Request.Context()

	lots, err := h.store.ListLots(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	responses := make([]LotResponse, 0, len(lots))
	for _, lot := range lots {
		total, occupied, err := h.store.LotOccupancy(ctx, lot.ID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		var rate float64
		if total > 0 {
			rate = float64(occupied) / float64(total) * 100
		}
		responses = append(responses, LotResponse{
			ID:            lot.ID,
			Name:          lot.Name,
			TotalSlots:    total,
			OccupiedSlots: occupied,
			OccupancyRate: rate,
		})
	}
	c.JSON(http.StatusOK, responses)
}

// slotResponse is the flattened structure for slot status responses.
type slotResponse struct {
	ID                      int64      `json:"id"`
	LotID                   int64      `json:"lotId"`
	SlotNumber              int        `json:"slotNumber"`
	IsOccupied              bool       `json:"isOccupied"`
	CurrentDuration         int        `json:"currentDuration"`
	PredictedVacancySeconds int        `json:"predictedVacancySeconds"`
	ExpectedVacancyAt       *time.Time `json:"expectedVacancyAt"`
	LastStatusChange        time.Time  `json:"lastStatusChange"`
}

func toSlotResponse(s model.Slot) slotResponse {
	resp := slotResponse{
		ID:                      s.ID,
		LotID:                   s.LotID,
		SlotNumber:              s.SlotNumber,
		IsOccupied:              s.IsOccupied,
		CurrentDuration:         s.CurrentDuration,
		PredictedVacancySeconds: s.PredictedVacancySeconds,
		LastStatusChange:        s.LastStatusChange,
	}
	if s.IsOccupied && s.PredictedVacancySeconds > 0 {
		at := time.Now().UTC().Add(time.Duration(s.PredictedVacancySeconds) * time.Second)
		resp.ExpectedVacancyAt = &at
	}
	return resp
}

// GetLotSlots handles the GET /api/lots/{lot_id}/slots request.
func (h *Handler) GetLotSlots(c *gin.Context) {
	lotID, err := strconv.ParseInt(c.Param("lot_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid lot ID"})
		return
	}

	slots, err := h.store.ListSlotsByLot(c.Request.Context(), lotID)
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
