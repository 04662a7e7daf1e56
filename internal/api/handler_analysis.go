package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type enqueueAnalysisRequest struct {
	VideoPath string `json:"video_path" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
}

// EnqueueAnalysis handles the POST /api/lots/{lot_id}/analysis request.
func (h *Handler) EnqueueAnalysis(c *gin.Context) {
	lotID, err := strconv.ParseInt(c.Param("lot_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid lot ID"})
		return
	}

	var req enqueueAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.queue.Enqueue(c.Request.Context(), lotID, req.VideoPath, req.Kind)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetAnalysisJob handles the GET /api/analysis/{job_id} request.
func (h *Handler) GetAnalysisJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelAnalysisJob handles the DELETE /api/analysis/{job_id} request.
// Only pending jobs can be cancelled; a processing job runs to completion.
func (h *Handler) CancelAnalysisJob(c *gin.Context) {
	if err := h.queue.Cancel(c.Request.Context(), c.Param("job_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetQueueStatus handles the GET /api/analysis request.
func (h *Handler) GetQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Status())
}
