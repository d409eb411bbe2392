package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/internal/service"
	"github.com/noah-isme/kindergarten-admission-api/pkg/response"
)

// QuotaHandler exposes the quota ledger.
type QuotaHandler struct {
	quotas *service.QuotaService
}

// NewQuotaHandler constructs QuotaHandler.
func NewQuotaHandler(quotas *service.QuotaService) *QuotaHandler {
	return &QuotaHandler{quotas: quotas}
}

// List godoc
// @Summary List ledger rows
// @Tags Quotas
// @Produce json
// @Param kindergartenId query string false "Filter by kindergarten"
// @Param planId query string false "Filter by plan"
// @Param academicYear query string false "Filter by academic year"
// @Param semester query string false "Filter by semester"
// @Param quotaType query string false "Filter by quota type"
// @Param active query bool false "Only active rows"
// @Param hasAvailable query bool false "Only rows with free seats"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /quotas [get]
func (h *QuotaHandler) List(c *gin.Context) {
	var filter models.QuotaFilter
	filter.KindergartenID = c.Query("kindergartenId")
	filter.PlanID = c.Query("planId")
	filter.AcademicYear = c.Query("academicYear")
	filter.Semester = models.Semester(c.Query("semester"))
	filter.QuotaType = models.QuotaType(c.Query("quotaType"))
	filter.IsActive = boolQuery(c, "active")
	filter.HasAvailable = boolQuery(c, "hasAvailable")
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	quotas, pagination, err := h.quotas.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotas, pagination)
}

// Get godoc
// @Summary Get ledger row
// @Tags Quotas
// @Produce json
// @Param id path string true "Quota ID"
// @Success 200 {object} response.Envelope
// @Router /quotas/{id} [get]
func (h *QuotaHandler) Get(c *gin.Context) {
	quota, err := h.quotas.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quota)
}

// Availability godoc
// @Summary Counter snapshot of a ledger row
// @Tags Quotas
// @Produce json
// @Param id path string true "Quota ID"
// @Success 200 {object} response.Envelope
// @Router /quotas/{id}/availability [get]
func (h *QuotaHandler) Availability(c *gin.Context) {
	snapshot, err := h.quotas.AvailabilityByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snapshot)
}

// Statistics godoc
// @Summary Ledger statistics for a kindergarten year
// @Tags Quotas
// @Produce json
// @Param kindergartenId query string true "Kindergarten"
// @Param academicYear query string true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /quotas/statistics [get]
func (h *QuotaHandler) Statistics(c *gin.Context) {
	stats, err := h.quotas.Statistics(c.Request.Context(), c.Query("kindergartenId"), c.Query("academicYear"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Create godoc
// @Summary Create ledger row
// @Tags Quotas
// @Accept json
// @Produce json
// @Param payload body dto.CreateQuotaRequest true "Quota payload"
// @Success 201 {object} response.Envelope
// @Router /quotas [post]
func (h *QuotaHandler) Create(c *gin.Context) {
	var req dto.CreateQuotaRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	quota, err := h.quotas.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, quota)
}

type ledgerOp func(ctx context.Context, key models.QuotaKey, amount int) (int, error)

// mutate applies op to the row addressed by the path id and answers with the
// row's fresh counters.
func (h *QuotaHandler) mutate(c *gin.Context, op ledgerOp, result string) {
	var req dto.LedgerAmountRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	quota, err := h.quotas.Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	value, err := op(ctx, quota.Key(), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	snapshot, err := h.quotas.AvailabilityByID(ctx, quota.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snapshot, map[string]interface{}{result: value})
}

// Reserve godoc
// @Summary Reserve seats
// @Tags Quotas
// @Accept json
// @Produce json
// @Param id path string true "Quota ID"
// @Param payload body dto.LedgerAmountRequest true "Seat count"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotas/{id}/reserve [post]
func (h *QuotaHandler) Reserve(c *gin.Context) {
	h.mutate(c, h.quotas.Reserve, "available")
}

// Release godoc
// @Summary Release reserved seats
// @Tags Quotas
// @Accept json
// @Produce json
// @Param id path string true "Quota ID"
// @Param payload body dto.LedgerAmountRequest true "Seat count"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotas/{id}/release [post]
func (h *QuotaHandler) Release(c *gin.Context) {
	h.mutate(c, h.quotas.Release, "available")
}

// Consume godoc
// @Summary Convert reserved seats into used seats
// @Tags Quotas
// @Accept json
// @Produce json
// @Param id path string true "Quota ID"
// @Param payload body dto.LedgerAmountRequest true "Seat count"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotas/{id}/consume [post]
func (h *QuotaHandler) Consume(c *gin.Context) {
	h.mutate(c, h.quotas.Consume, "used")
}

// Adjust godoc
// @Summary Resize ledger row
// @Tags Quotas
// @Accept json
// @Produce json
// @Param id path string true "Quota ID"
// @Param payload body dto.AdjustQuotaRequest true "New total"
// @Success 200 {object} response.Envelope
// @Router /quotas/{id}/adjust [patch]
func (h *QuotaHandler) Adjust(c *gin.Context) {
	var req dto.AdjustQuotaRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	quota, err := h.quotas.AdjustQuota(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quota)
}

// BatchAdjust godoc
// @Summary Resize several ledger rows atomically
// @Tags Quotas
// @Accept json
// @Produce json
// @Param payload body dto.BatchAdjustQuotaRequest true "Adjustments"
// @Success 200 {object} response.Envelope
// @Router /quotas/batch-adjust [post]
func (h *QuotaHandler) BatchAdjust(c *gin.Context) {
	var req dto.BatchAdjustQuotaRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	quotas, err := h.quotas.BatchAdjust(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quotas)
}

// Delete godoc
// @Summary Delete ledger row without held seats
// @Tags Quotas
// @Param id path string true "Quota ID"
// @Success 204
// @Router /quotas/{id} [delete]
func (h *QuotaHandler) Delete(c *gin.Context) {
	if err := h.quotas.Delete(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
