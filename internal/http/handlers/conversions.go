package handlers

import (
	"errors"
	"net/http"

	"tola_ledger/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversionRequest struct {
	Amount int64 `json:"amount" binding:"required"`
	// Destination defaults to the wallet's bound external address.
	Destination string `json:"destination"`
}

// RequestConversion converts TOLA from the caller's wallet to the
// settlement currency.
func (h *Handler) RequestConversion(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	conv, err := h.Conversions.RequestConversion(c.Request.Context(), userID, req.Amount, req.Destination)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementFailed) && conv != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      "settlement failed, amount returned to wallet",
				"code":       "settlement_failed",
				"conversion": conv,
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversion": conv})
}

// QuoteConversion previews fee and payout for an amount.
func (h *Handler) QuoteConversion(c *gin.Context) {
	amount := int64(queryInt(c.Query("amount"), 0))
	if amount <= 0 {
		h.respondError(c, domain.ErrInvalidAmount)
		return
	}
	c.JSON(http.StatusOK, h.Conversions.Quote(amount))
}

// ConversionStatus reports whether the caller can convert right now.
func (h *Handler) ConversionStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	view, err := h.Conversions.Status(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ConversionHistory pages through the caller's requests, newest first.
func (h *Handler) ConversionHistory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page, err := h.Conversions.History(c.Request.Context(), userID,
		queryInt(c.Query("page"), 1), queryInt(c.Query("per_page"), 20))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetConversion returns one of the caller's requests.
func (h *Handler) GetConversion(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversion id"})
		return
	}

	conv, err := h.Conversions.GetConversion(c.Request.Context(), userID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversion": conv})
}
