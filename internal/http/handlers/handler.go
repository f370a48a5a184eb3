package handlers

import (
	"strconv"
	"time"

	"tola_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// Services the HTTP surface adapts.
type Services struct {
	Ledger      *service.LedgerService
	Incentives  *service.IncentiveService
	Milestone   *service.MilestoneService
	Conversions *service.ConversionService
	Accounting  *service.AccountingService
	Tokens      *service.TokenIssuer
}

// Options tune request validation.
type Options struct {
	BotToken string
	// InitDataMaxAge bounds how old Telegram init data may be.
	InitDataMaxAge time.Duration
	// ProofDomain enables TON Connect proof checks on wallet binding.
	ProofDomain string
}

type Handler struct {
	Services
	opts Options
	now  func() time.Time
}

func NewHandler(svc Services, opts Options) *Handler {
	if opts.InitDataMaxAge <= 0 {
		opts.InitDataMaxAge = 24 * time.Hour
	}
	return &Handler{
		Services: svc,
		opts:     opts,
		now:      time.Now,
	}
}

// getUserID извлекает user_id из контекста Gin
func getUserID(c *gin.Context) (int64, bool) {
	uidVal, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	switch v := uidVal.(type) {
	case int64:
		return v, v > 0
	case float64:
		return int64(v), v > 0
	default:
		return 0, false
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
