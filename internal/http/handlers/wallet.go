package handlers

import (
	"net/http"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/ton"

	"github.com/gin-gonic/gin"
)

// GetWallet returns the caller's wallet, creating it on first access.
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	wallet, err := h.Ledger.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

// WalletEntries lists the caller's ledger entries.
func (h *Handler) WalletEntries(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entries, err := h.Ledger.History(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ConnectWalletRequest is the TON Connect payload. Proof is optional unless
// proof checking is configured.
type ConnectWalletRequest struct {
	Account ton.WalletAccount `json:"account" binding:"required"`
	Proof   *ton.ConnectProof `json:"proof"`
}

// ConnectWallet binds the caller's external payout address.
func (h *Handler) ConnectWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req ConnectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if !ton.ValidateAddress(req.Account.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address", "code": "invalid_destination"})
		return
	}

	if h.opts.ProofDomain != "" {
		if req.Proof == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "proof required"})
			return
		}
		if err := ton.VerifyProof(req.Account, *req.Proof, h.opts.ProofDomain, h.now()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "proof verification failed: " + err.Error()})
			return
		}
	}

	wallet, err := h.Ledger.ConnectExternalWallet(c.Request.Context(), userID, req.Account.Address)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

type TransferRequest struct {
	ToUserID int64 `json:"to_user_id" binding:"required"`
	Amount   int64 `json:"amount" binding:"required"`
	// TransferID makes retries idempotent when the client supplies one.
	TransferID string `json:"transfer_id"`
}

// Transfer moves free balance from the caller to another user.
func (h *Handler) Transfer(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if len(req.TransferID) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfer_id too long"})
		return
	}

	entries, err := h.Ledger.Transfer(c.Request.Context(), userID, req.ToUserID, req.Amount, req.TransferID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	balance, err := h.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"balance": balance,
	})
}
