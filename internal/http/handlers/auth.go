package handlers

import (
	"net/http"

	"tola_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthRequest struct {
	InitData string `json:"init_data" binding:"required"`
}

// Auth exchanges Telegram WebApp init data for a user token.
func (h *Handler) Auth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if len(req.InitData) > 4096 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "init_data too long"})
		return
	}

	userID, err := service.TelegramUserID(req.InitData, h.opts.BotToken, h.opts.InitDataMaxAge, h.now())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or stale telegram data"})
		return
	}

	ctx := c.Request.Context()
	wallet, err := h.Ledger.GetWallet(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.Tokens.Generate(userID, service.RoleUser)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"wallet": wallet,
	})
}
