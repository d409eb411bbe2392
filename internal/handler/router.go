package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kindergarten-admission-api/internal/middleware"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

// Routes bundles what RegisterRoutes mounts.
type Routes struct {
	Auth         middleware.TokenValidator
	SubmitLimit  gin.HandlerFunc
	Plans        *PlanHandler
	Quotas       *QuotaHandler
	Applications *ApplicationHandler
	Metrics      *MetricsHandler
}

// RegisterRoutes mounts the admission API on api. Every route requires a
// valid token.
func RegisterRoutes(api gin.IRouter, r Routes) {
	admin := middleware.RequireRoles(models.RoleAdmin)
	reviewer := middleware.RequireRoles(models.RoleReviewer, models.RoleAdmin)
	applicant := middleware.RequireRoles(models.RoleParent, models.RoleAdmin)
	limit := r.SubmitLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	secured := api.Group("", middleware.JWT(r.Auth))

	plans := secured.Group("/plans")
	plans.GET("", r.Plans.List)
	plans.GET("/:id", r.Plans.Get)
	plans.GET("/:id/availability", r.Plans.Availability)
	plans.GET("/:id/statistics", r.Plans.Statistics)
	plans.GET("/:id/can-register", r.Plans.CanRegister)
	plans.GET("/:id/waitlist", r.Plans.Waitlist)
	plans.GET("/:id/roster", r.Plans.Roster)
	plans.POST("", admin, r.Plans.Create)
	plans.PUT("/:id", admin, r.Plans.Update)
	plans.DELETE("/:id", admin, r.Plans.Delete)
	plans.POST("/:id/activate", admin, r.Plans.Activate)
	plans.POST("/:id/advance-phase", admin, r.Plans.AdvancePhase)
	plans.POST("/:id/suspend", admin, r.Plans.Suspend)
	plans.POST("/:id/resume", admin, r.Plans.Resume)
	plans.POST("/:id/close", admin, r.Plans.Close)

	quotas := secured.Group("/quotas")
	quotas.GET("", r.Quotas.List)
	quotas.GET("/statistics", r.Quotas.Statistics)
	quotas.GET("/:id", r.Quotas.Get)
	quotas.GET("/:id/availability", r.Quotas.Availability)
	quotas.POST("", admin, r.Quotas.Create)
	quotas.POST("/batch-adjust", admin, r.Quotas.BatchAdjust)
	quotas.POST("/:id/reserve", admin, r.Quotas.Reserve)
	quotas.POST("/:id/release", admin, r.Quotas.Release)
	quotas.POST("/:id/consume", admin, r.Quotas.Consume)
	quotas.PATCH("/:id/adjust", admin, r.Quotas.Adjust)
	quotas.DELETE("/:id", admin, r.Quotas.Delete)

	apps := secured.Group("/applications")
	apps.GET("", r.Applications.List)
	apps.GET("/:id", r.Applications.Get)
	apps.GET("/:id/completeness", r.Applications.Completeness)
	apps.GET("/:id/processing-time", r.Applications.ProcessingTime)
	apps.GET("/:id/waitlist-position", r.Applications.WaitlistPosition)
	apps.POST("", applicant, r.Applications.Create)
	apps.PUT("/:id", applicant, r.Applications.Update)
	apps.POST("/:id/submit", limit, applicant, r.Applications.Submit)
	apps.POST("/:id/cancel", applicant, r.Applications.Cancel)
	apps.POST("/:id/review", reviewer, r.Applications.StartReview)
	apps.POST("/:id/approve", reviewer, r.Applications.Approve)
	apps.POST("/:id/reject", reviewer, r.Applications.Reject)
	apps.POST("/:id/waitlist", reviewer, r.Applications.Waitlist)
	apps.POST("/:id/enroll", reviewer, r.Applications.Enroll)
	apps.POST("/:id/withdraw", reviewer, r.Applications.Withdraw)

	if r.Metrics != nil {
		secured.GET("/metrics/summary", admin, r.Metrics.Summary)
	}
}
