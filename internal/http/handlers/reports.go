package handlers

import (
	"net/http"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

type GenerateReportRequest struct {
	Type   domain.ReportType `json:"type" binding:"required"`
	Period string            `json:"period"`
}

// GenerateReport aggregates a period. Without a period the last complete
// one is used.
func (h *Handler) GenerateReport(c *gin.Context) {
	var req GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Period == "" {
		req.Period = service.PreviousPeriod(req.Type, h.now().UTC())
	}

	report, err := h.Accounting.GenerateReport(c.Request.Context(), req.Type, req.Period)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": report})
}

// GetReport returns a stored report.
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.Accounting.GetReport(c.Request.Context(), domain.ReportType(c.Param("type")), c.Param("period"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// ListReports returns the newest reports of one type.
func (h *Handler) ListReports(c *gin.Context) {
	typ := domain.ReportType(c.Param("type"))
	if typ != domain.ReportDaily && typ != domain.ReportMonthly {
		h.respondError(c, domain.ErrInvalidPeriod)
		return
	}

	reports, err := h.Accounting.ListReports(c.Request.Context(), typ, queryInt(c.Query("limit"), 30))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// MilestoneStatus exposes the conversion gate state.
func (h *Handler) MilestoneStatus(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.Milestone.State(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	participants, err := h.Milestone.ParticipantCount(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":      st.Enabled(),
		"threshold":    st.Threshold,
		"participants": participants,
		"enabled_at":   st.EnabledAt,
	})
}
