package handlers

import (
	"errors"
	"net/http"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrInvalidUser, http.StatusBadRequest, "invalid_user"},
	{domain.ErrInvalidDestination, http.StatusBadRequest, "invalid_destination"},
	{domain.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},
	{domain.ErrAboveMaximum, http.StatusBadRequest, "above_maximum"},
	{domain.ErrUnknownEventType, http.StatusBadRequest, "unknown_event_type"},
	{domain.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{domain.ErrInsufficientCredit, http.StatusUnprocessableEntity, "insufficient_credit"},
	{domain.ErrConversionDisabled, http.StatusForbidden, "conversion_disabled"},
	{domain.ErrWalletInactive, http.StatusForbidden, "wallet_inactive"},
	{domain.ErrDailyLimitReached, http.StatusTooManyRequests, "daily_limit_reached"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrSettlementFailed, http.StatusBadGateway, "settlement_failed"},
	{domain.ErrDuplicateCorrelation, http.StatusConflict, "duplicate"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
}

// statusFor maps a service error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes err as JSON. Internal errors are logged and hidden.
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
