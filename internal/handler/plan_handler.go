package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/internal/service"
	"github.com/noah-isme/kindergarten-admission-api/pkg/response"
)

// PlanHandler exposes admission plan endpoints.
type PlanHandler struct {
	plans    *service.PlanService
	waitlist *service.WaitlistService
	exports  *service.ExportService
}

// NewPlanHandler constructs PlanHandler.
func NewPlanHandler(plans *service.PlanService, waitlist *service.WaitlistService, exports *service.ExportService) *PlanHandler {
	return &PlanHandler{plans: plans, waitlist: waitlist, exports: exports}
}

// List godoc
// @Summary List admission plans
// @Tags Plans
// @Produce json
// @Param kindergartenId query string false "Filter by kindergarten"
// @Param academicYear query string false "Filter by academic year"
// @Param status query string false "Filter by status"
// @Param phase query string false "Filter by phase"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	var filter models.PlanFilter
	filter.KindergartenID = c.Query("kindergartenId")
	filter.AcademicYear = c.Query("academicYear")
	filter.Status = models.PlanStatus(c.Query("status"))
	filter.Phase = models.PlanPhase(c.Query("phase"))
	filter.IsPublic = boolQuery(c, "public")
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	plans, pagination, err := h.plans.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, pagination)
}

// Get godoc
// @Summary Get admission plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Create godoc
// @Summary Create admission plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body dto.CreatePlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Router /plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req dto.CreatePlanRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	plan, err := h.plans.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// Update godoc
// @Summary Update draft plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.UpdatePlanRequest true "Plan patch"
// @Success 200 {object} response.Envelope
// @Router /plans/{id} [put]
func (h *PlanHandler) Update(c *gin.Context) {
	var req dto.UpdatePlanRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	plan, err := h.plans.Update(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Delete godoc
// @Summary Delete plan without applications
// @Tags Plans
// @Param id path string true "Plan ID"
// @Success 204
// @Router /plans/{id} [delete]
func (h *PlanHandler) Delete(c *gin.Context) {
	if err := h.plans.Delete(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func respondPlan(c *gin.Context, plan *models.EnrollmentPlan, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Activate godoc
// @Summary Activate draft plan and open registration
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/activate [post]
func (h *PlanHandler) Activate(c *gin.Context) {
	plan, err := h.plans.Activate(c.Request.Context(), c.Param("id"), actorID(c))
	respondPlan(c, plan, err)
}

// AdvancePhase godoc
// @Summary Advance plan to its next phase
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/advance-phase [post]
func (h *PlanHandler) AdvancePhase(c *gin.Context) {
	plan, err := h.plans.AdvancePhase(c.Request.Context(), c.Param("id"), actorID(c))
	respondPlan(c, plan, err)
}

// Suspend godoc
// @Summary Suspend active plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/suspend [post]
func (h *PlanHandler) Suspend(c *gin.Context) {
	plan, err := h.plans.Suspend(c.Request.Context(), c.Param("id"), actorID(c))
	respondPlan(c, plan, err)
}

// Resume godoc
// @Summary Resume suspended plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/resume [post]
func (h *PlanHandler) Resume(c *gin.Context) {
	plan, err := h.plans.Resume(c.Request.Context(), c.Param("id"), actorID(c))
	respondPlan(c, plan, err)
}

// Close godoc
// @Summary Close plan and cancel its waitlist
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/close [post]
func (h *PlanHandler) Close(c *gin.Context) {
	plan, err := h.plans.Close(c.Request.Context(), c.Param("id"), actorID(c))
	respondPlan(c, plan, err)
}

// Availability godoc
// @Summary Seat availability of a plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/availability [get]
func (h *PlanHandler) Availability(c *gin.Context) {
	view, err := h.plans.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// CanRegister godoc
// @Summary Whether a plan currently accepts applications
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/can-register [get]
func (h *PlanHandler) CanRegister(c *gin.Context) {
	open, err := h.plans.CanRegister(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"plan_id": c.Param("id"), "can_register": open})
}

// Statistics godoc
// @Summary Plan demand and occupancy statistics
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/statistics [get]
func (h *PlanHandler) Statistics(c *gin.Context) {
	stats, err := h.plans.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Waitlist godoc
// @Summary Ranked waitlist of a plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/waitlist [get]
func (h *PlanHandler) Waitlist(c *gin.Context) {
	entries, err := h.waitlist.Ranked(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries, map[string]interface{}{"count": len(entries)})
}

// Roster godoc
// @Summary Download plan roster
// @Tags Plans
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Plan ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /plans/{id}/roster [get]
func (h *PlanHandler) Roster(c *gin.Context) {
	result, err := h.exports.Roster(c.Request.Context(), c.Param("id"), service.RosterFormat(c.DefaultQuery("format", "csv")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Data)
}
