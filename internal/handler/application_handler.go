package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/internal/service"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
	"github.com/noah-isme/kindergarten-admission-api/pkg/response"
)

// ApplicationHandler exposes the application lifecycle.
type ApplicationHandler struct {
	applications *service.ApplicationService
	waitlist     *service.WaitlistService
}

// NewApplicationHandler constructs ApplicationHandler.
func NewApplicationHandler(applications *service.ApplicationService, waitlist *service.WaitlistService) *ApplicationHandler {
	return &ApplicationHandler{applications: applications, waitlist: waitlist}
}

// owned rejects parents touching someone else's application. Staff roles
// pass unchecked.
func (h *ApplicationHandler) owned(c *gin.Context) bool {
	if !isParent(c) {
		return true
	}
	app, err := h.applications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return false
	}
	if app.ParentID != actorID(c) {
		// answer as if absent so ids of other families are not probeable
		response.Error(c, appErrors.ErrNotFound)
		return false
	}
	return true
}

func respondApplication(c *gin.Context, app *models.EnrollmentApplication, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, app)
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param planId query string false "Filter by plan"
// @Param kindergartenId query string false "Filter by kindergarten"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Comma separated statuses"
// @Param priority query string false "Filter by priority"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	var filter models.ApplicationFilter
	filter.PlanID = c.Query("planId")
	filter.KindergartenID = c.Query("kindergartenId")
	filter.StudentID = c.Query("studentId")
	filter.ParentID = c.Query("parentId")
	for _, s := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, models.ApplicationStatus(s))
	}
	filter.Priority = models.ApplicationPriority(c.Query("priority"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	if isParent(c) {
		filter.ParentID = actorID(c)
	}

	apps, pagination, err := h.applications.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination)
}

// Get godoc
// @Summary Get application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	app, err := h.applications.Get(c.Request.Context(), c.Param("id"))
	respondApplication(c, app, err)
}

// Create godoc
// @Summary Open draft application
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.CreateApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Create(c *gin.Context) {
	var req dto.CreateApplicationRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if isParent(c) {
		req.ParentID = actorID(c)
	}
	app, err := h.applications.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// Update godoc
// @Summary Edit draft application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.UpdateApplicationRequest true "Application patch"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [put]
func (h *ApplicationHandler) Update(c *gin.Context) {
	var req dto.UpdateApplicationRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if !h.owned(c) {
		return
	}
	app, err := h.applications.Update(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// Submit godoc
// @Summary Submit application
// @Description Reserves a seat, or joins the waitlist when the plan is full. A waitlisted submission answers 200 with meta.waitlisted=true.
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/submit [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	result, err := h.applications.Submit(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"waitlisted": result.Waitlisted}
	if result.Waitlisted && result.Application.WaitlistPosition != nil {
		meta["waitlist_position"] = *result.Application.WaitlistPosition
	}
	response.OK(c, result.Application, meta)
}

// Cancel godoc
// @Summary Cancel application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.CancelApplicationRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/cancel [post]
func (h *ApplicationHandler) Cancel(c *gin.Context) {
	var req dto.CancelApplicationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if !h.owned(c) {
		return
	}
	app, err := h.applications.Cancel(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// StartReview godoc
// @Summary Move application under review
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.StartReviewRequest false "Reviewer"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/review [post]
func (h *ApplicationHandler) StartReview(c *gin.Context) {
	var req dto.StartReviewRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if req.ReviewerID == "" {
		req.ReviewerID = actorID(c)
	}
	app, err := h.applications.StartReview(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// Approve godoc
// @Summary Approve application
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.ApproveApplicationRequest false "Score and notes"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/approve [post]
func (h *ApplicationHandler) Approve(c *gin.Context) {
	var req dto.ApproveApplicationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Approve(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// Reject godoc
// @Summary Reject application
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RejectApplicationRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/reject [post]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	var req dto.RejectApplicationRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Reject(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// Waitlist godoc
// @Summary Move reviewed application to the waitlist
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.WaitlistApplicationRequest false "Notes"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/waitlist [post]
func (h *ApplicationHandler) Waitlist(c *gin.Context) {
	var req dto.WaitlistApplicationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Waitlist(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// Enroll godoc
// @Summary Confirm enrollment
// @Tags Review
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/enroll [post]
func (h *ApplicationHandler) Enroll(c *gin.Context) {
	app, err := h.applications.Enroll(c.Request.Context(), c.Param("id"), actorID(c))
	respondApplication(c, app, err)
}

// Withdraw godoc
// @Summary Withdraw enrolled child and free the seat
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.CancelApplicationRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/withdraw [post]
func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	var req dto.CancelApplicationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Withdraw(c.Request.Context(), c.Param("id"), req, actorID(c))
	respondApplication(c, app, err)
}

// Completeness godoc
// @Summary Required field and document completeness
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/completeness [get]
func (h *ApplicationHandler) Completeness(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	completeness, err := h.applications.Completeness(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, completeness)
}

// ProcessingTime godoc
// @Summary Time from submission to decision
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/processing-time [get]
func (h *ApplicationHandler) ProcessingTime(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	elapsed, err := h.applications.ProcessingTime(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, elapsed)
}

// WaitlistPosition godoc
// @Summary Rank of a waitlisted application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/waitlist-position [get]
func (h *ApplicationHandler) WaitlistPosition(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	entry, err := h.waitlist.Position(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}
