package handlers

import (
	"net/http"

	"tola_ledger/internal/domain"

	"github.com/gin-gonic/gin"
)

type EventRequest struct {
	UserID    int64          `json:"user_id" binding:"required"`
	EventType string         `json:"event_type" binding:"required"`
	Context   map[string]any `json:"context"`
}

// FireEvent ingests a qualifying event from a trusted upstream service.
// Redelivered events answer 200 with duplicate set.
func (h *Handler) FireEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := h.Incentives.FireEvent(c.Request.Context(), req.UserID, req.EventType, req.Context)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"result": res})
	case domain.IsBenign(err):
		c.JSON(http.StatusOK, gin.H{"result": res})
	default:
		h.respondError(c, err)
	}
}

// ListDistributions returns the caller's newest incentive distributions.
func (h *Handler) ListDistributions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	dists, err := h.Incentives.ListRecentDistributions(ctx, userID, queryInt(c.Query("limit"), 20))
	if err != nil {
		h.respondError(c, err)
		return
	}
	remaining, err := h.Incentives.RemainingToday(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if dists == nil {
		dists = []domain.IncentiveDistribution{}
	}

	c.JSON(http.StatusOK, gin.H{
		"distributions":   dists,
		"daily_remaining": remaining,
	})
}

// ListRules exposes the configured incentive rules.
func (h *Handler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.Incentives.Rules()})
}
