package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// PlanServiceConfig carries plan defaults.
type PlanServiceConfig struct {
	DefaultAllowWaitlist bool
}

// PlanAvailability is the cached availability view of a plan.
type PlanAvailability struct {
	PlanID         string                     `json:"plan_id"`
	Status         models.PlanStatus          `json:"status"`
	CurrentPhase   models.PlanPhase           `json:"current_phase"`
	TotalQuota     int                        `json:"total_quota"`
	AvailableQuota int                        `json:"available_quota"`
	CanRegister    bool                       `json:"can_register"`
	AllowWaitlist  bool                       `json:"allow_waitlist"`
	Quotas         []models.QuotaAvailability `json:"quotas"`
}

// PlanService manages admission plans and their phase progression.
type PlanService struct {
	plans        planRepository
	quotas       quotaRepository
	applications applicationRepository
	audit        auditRepository
	ledger       *Ledger
	uow          *UnitOfWork
	cache        *CacheService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          PlanServiceConfig
	now          func() time.Time
}

// NewPlanService constructs PlanService.
func NewPlanService(plans planRepository, quotas quotaRepository, applications applicationRepository, audit auditRepository, ledger *Ledger, uow *UnitOfWork, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cfg PlanServiceConfig) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	registerAdmissionValidators(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{
		plans:        plans,
		quotas:       quotas,
		applications: applications,
		audit:        audit,
		ledger:       ledger,
		uow:          uow,
		cache:        cache,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Get returns one plan.
func (s *PlanService) Get(ctx context.Context, id string) (*models.EnrollmentPlan, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "plan", "load plan")
	}
	return plan, nil
}

// List returns plans with pagination metadata.
func (s *PlanService) List(ctx context.Context, filter models.PlanFilter) ([]models.EnrollmentPlan, *models.Pagination, error) {
	if filter.Phase != "" && !filter.Phase.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid phase")
	}
	plans, total, err := s.plans.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "plan", "list plans")
	}
	return plans, paginate(filter.Page, filter.PageSize, total), nil
}

// Create stores a draft plan.
func (s *PlanService) Create(ctx context.Context, req dto.CreatePlanRequest, actorID string) (*models.EnrollmentPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	plan := &models.EnrollmentPlan{
		Name:                  req.Name,
		Description:           req.Description,
		KindergartenID:        req.KindergartenID,
		AcademicYear:          req.AcademicYear,
		Status:                models.PlanStatusDraft,
		CurrentPhase:          models.PhasePreRegistration,
		TotalQuota:            req.TotalQuota,
		QuotaByAgeGroup:       req.QuotaByAgeGroup,
		RegistrationStartDate: req.RegistrationStartDate,
		RegistrationEndDate:   req.RegistrationEndDate,
		ReviewStartDate:       req.ReviewStartDate,
		ReviewEndDate:         req.ReviewEndDate,
		AdmissionDate:         req.AdmissionDate,
		SchoolStartDate:       req.SchoolStartDate,
		AllowWaitlist:         s.cfg.DefaultAllowWaitlist,
		Requirements:          req.Requirements,
		Documents:             req.Documents,
		Fees:                  req.Fees,
		ContactInfo:           req.ContactInfo,
		IsPublic:              true,
		IsActive:              true,
	}
	if req.AllowWaitlist != nil {
		plan.AllowWaitlist = *req.AllowWaitlist
	}
	if req.IsPublic != nil {
		plan.IsPublic = *req.IsPublic
	}
	if actorID != "" {
		plan.CreatedBy = strPtr(actorID)
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		if err := s.plans.Create(ctx, plan); err != nil {
			return storeError(err, "plan", "create plan")
		}
		return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanCreate, models.AuditResourcePlan, plan.ID, nil, plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// validatePlan checks the cross-field rules struct tags cannot express.
func validatePlan(plan *models.EnrollmentPlan) error {
	if sum := plan.QuotaByAgeGroup.Sum(); sum > plan.TotalQuota {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("age group allocation %d exceeds total quota %d", sum, plan.TotalQuota)),
			"allocated", sum)
	}
	if !plan.RegistrationEndDate.After(plan.RegistrationStartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "registration_end_date must follow registration_start_date")
	}
	ordered := []struct {
		name string
		at   *time.Time
	}{
		{"registration_end_date", &plan.RegistrationEndDate},
		{"review_start_date", plan.ReviewStartDate},
		{"review_end_date", plan.ReviewEndDate},
		{"admission_date", plan.AdmissionDate},
		{"school_start_date", plan.SchoolStartDate},
	}
	var last *time.Time
	lastName := ""
	for _, d := range ordered {
		if d.at == nil {
			continue
		}
		if last != nil && d.at.Before(*last) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must not precede %s", d.name, lastName))
		}
		last, lastName = d.at, d.name
	}
	if r := plan.Requirements.AgeRange; r != nil && (r.Min < 0 || r.Max < r.Min) {
		return appErrors.Clone(appErrors.ErrValidation, "invalid age range")
	}
	return nil
}

// Update patches a draft plan.
func (s *PlanService) Update(ctx context.Context, id string, req dto.UpdatePlanRequest, actorID string) (*models.EnrollmentPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	var result *models.EnrollmentPlan
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		plan, err := s.plans.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		if plan.Status != models.PlanStatusDraft {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, "only draft plans can be edited"),
				"status", plan.Status)
		}
		before := *plan
		applyPlanPatch(plan, req)
		if err := validatePlan(plan); err != nil {
			return err
		}
		if err := s.plans.Update(ctx, plan); err != nil {
			return storeError(err, "plan", "update plan")
		}
		fx.touchPlan(plan.ID)
		result = plan
		return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanUpdate, models.AuditResourcePlan, plan.ID, before, plan)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyPlanPatch(plan *models.EnrollmentPlan, req dto.UpdatePlanRequest) {
	if req.Name != nil {
		plan.Name = *req.Name
	}
	if req.Description != nil {
		plan.Description = req.Description
	}
	if req.TotalQuota != nil {
		plan.TotalQuota = *req.TotalQuota
	}
	if req.QuotaByAgeGroup != nil {
		plan.QuotaByAgeGroup = req.QuotaByAgeGroup
	}
	if req.RegistrationStartDate != nil {
		plan.RegistrationStartDate = *req.RegistrationStartDate
	}
	if req.RegistrationEndDate != nil {
		plan.RegistrationEndDate = *req.RegistrationEndDate
	}
	if req.ReviewStartDate != nil {
		plan.ReviewStartDate = req.ReviewStartDate
	}
	if req.ReviewEndDate != nil {
		plan.ReviewEndDate = req.ReviewEndDate
	}
	if req.AdmissionDate != nil {
		plan.AdmissionDate = req.AdmissionDate
	}
	if req.SchoolStartDate != nil {
		plan.SchoolStartDate = req.SchoolStartDate
	}
	if req.AllowWaitlist != nil {
		plan.AllowWaitlist = *req.AllowWaitlist
	}
	if req.Requirements != nil {
		plan.Requirements = *req.Requirements
	}
	if req.Documents != nil {
		plan.Documents = req.Documents
	}
	if req.Fees != nil {
		plan.Fees = req.Fees
	}
	if req.ContactInfo != nil {
		plan.ContactInfo = req.ContactInfo
	}
	if req.IsPublic != nil {
		plan.IsPublic = *req.IsPublic
	}
}

// Activate opens a draft plan for registration and creates its ledger rows:
// one per age group, or one for the whole quota without a breakdown.
func (s *PlanService) Activate(ctx context.Context, id, actorID string) (*models.EnrollmentPlan, error) {
	var result *models.EnrollmentPlan
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		plan, err := s.plans.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		if plan.Status != models.PlanStatusDraft {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, "only draft plans can be activated"),
				"status", plan.Status)
		}
		if err := validatePlan(plan); err != nil {
			return err
		}

		for _, row := range ledgerRowsFor(plan) {
			row := row
			if err := s.quotas.Create(ctx, &row); err != nil {
				return storeError(err, "quota", "create plan quota")
			}
		}

		before := plan.Status
		plan.Status = models.PlanStatusActive
		plan.CurrentPhase = models.PhaseRegistration
		plan.IsActive = true
		if err := s.plans.Update(ctx, plan); err != nil {
			return storeError(err, "plan", "activate plan")
		}
		available, err := s.plans.RefreshAvailability(ctx, plan.ID)
		if err != nil {
			return storeError(err, "plan", "refresh plan availability")
		}
		plan.AvailableQuota = available
		fx.touchPlan(plan.ID)
		result = plan
		s.logger.Info("plan activated", zap.String("plan_id", plan.ID), zap.Int("total_quota", plan.TotalQuota))
		return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanStatus, models.AuditResourcePlan, plan.ID,
			map[string]interface{}{"status": before},
			map[string]interface{}{"status": plan.Status, "current_phase": plan.CurrentPhase})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ledgerRowsFor builds the ledger rows of plan. Age group rows are scoped to
// a class cohort named after the group so their ledger keys stay distinct.
func ledgerRowsFor(plan *models.EnrollmentPlan) []models.EnrollmentQuota {
	base := models.EnrollmentQuota{
		PlanID:         strPtr(plan.ID),
		KindergartenID: plan.KindergartenID,
		AcademicYear:   plan.AcademicYear,
		Semester:       models.SemesterFullYear,
		QuotaType:      models.QuotaTypeRegular,
		IsActive:       true,
	}
	if len(plan.QuotaByAgeGroup) == 0 {
		row := base
		row.TotalQuota = plan.TotalQuota
		return []models.EnrollmentQuota{row}
	}

	groups := make([]string, 0, len(plan.QuotaByAgeGroup))
	for group := range plan.QuotaByAgeGroup {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	rows := make([]models.EnrollmentQuota, 0, len(groups))
	for _, group := range groups {
		if plan.QuotaByAgeGroup[group] < 1 {
			continue
		}
		row := base
		row.ClassID = strPtr(group)
		row.AgeGroup = group
		row.TotalQuota = plan.QuotaByAgeGroup[group]
		rows = append(rows, row)
	}
	return rows
}

// AdvancePhase moves the plan one phase forward once the current window has
// elapsed. Phases never move backwards.
func (s *PlanService) AdvancePhase(ctx context.Context, id, actorID string) (*models.EnrollmentPlan, error) {
	var result *models.EnrollmentPlan
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		plan, err := s.plans.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		if plan.Status != models.PlanStatusActive {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, "only active plans advance phases"),
				"status", plan.Status)
		}
		if err := s.advance(ctx, fx, plan, actorID); err != nil {
			return err
		}
		result = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PlanService) advance(ctx context.Context, fx *effects, plan *models.EnrollmentPlan, actorID string) error {
	next, ok := plan.NextPhase()
	if !ok {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "plan has completed every phase"),
			"current_phase", plan.CurrentPhase)
	}
	if !plan.CanAdvanceToNextPhase(s.now().UTC()) {
		err := appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("phase %s has not ended yet", plan.CurrentPhase))
		if end := plan.PhaseWindowEnd(); end != nil {
			err = appErrors.WithDetails(err, "window_end", end.UTC().Format(time.RFC3339))
		}
		return err
	}
	before := plan.CurrentPhase
	plan.CurrentPhase = next
	if err := s.plans.Update(ctx, plan); err != nil {
		return storeError(err, "plan", "advance plan phase")
	}
	fx.touchPlan(plan.ID)
	s.logger.Info("plan phase advanced", zap.String("plan_id", plan.ID), zap.String("from", string(before)), zap.String("to", string(next)))
	return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanPhase, models.AuditResourcePlan, plan.ID,
		map[string]interface{}{"current_phase": before},
		map[string]interface{}{"current_phase": next})
}

// Suspend pauses an active plan that has no application in flight.
func (s *PlanService) Suspend(ctx context.Context, id, actorID string) (*models.EnrollmentPlan, error) {
	return s.setStatus(ctx, id, actorID, models.PlanStatusActive, models.PlanStatusSuspended,
		[]models.ApplicationStatus{models.StatusSubmitted, models.StatusUnderReview})
}

// Resume reopens a suspended plan.
func (s *PlanService) Resume(ctx context.Context, id, actorID string) (*models.EnrollmentPlan, error) {
	return s.setStatus(ctx, id, actorID, models.PlanStatusSuspended, models.PlanStatusActive, nil)
}

func (s *PlanService) setStatus(ctx context.Context, id, actorID string, from, to models.PlanStatus, blocking []models.ApplicationStatus) (*models.EnrollmentPlan, error) {
	var result *models.EnrollmentPlan
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		plan, err := s.plans.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		if plan.Status != from {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("plan in status %s cannot become %s", plan.Status, to)),
				"status", plan.Status)
		}
		if err := s.ensureNoApplications(ctx, plan.ID, blocking); err != nil {
			return err
		}
		plan.Status = to
		if err := s.plans.Update(ctx, plan); err != nil {
			return storeError(err, "plan", "update plan status")
		}
		fx.touchPlan(plan.ID)
		result = plan
		return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanStatus, models.AuditResourcePlan, plan.ID,
			map[string]interface{}{"status": from},
			map[string]interface{}{"status": to})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PlanService) ensureNoApplications(ctx context.Context, planID string, blocking []models.ApplicationStatus) error {
	if len(blocking) == 0 {
		return nil
	}
	counts, err := s.applications.CountByStatus(ctx, planID)
	if err != nil {
		return storeError(err, "application", "count applications")
	}
	active := map[string]int{}
	for _, status := range blocking {
		if n := counts[status]; n > 0 {
			active[string(status)] = n
		}
	}
	if len(active) > 0 {
		return appErrors.WithDetails(appErrors.ErrPlanHasActiveApplications, "applications", active)
	}
	return nil
}

// Close ends a plan. Remaining waitlisted applications are cancelled and the
// ledger rows retired.
func (s *PlanService) Close(ctx context.Context, id, actorID string) (*models.EnrollmentPlan, error) {
	var result *models.EnrollmentPlan
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		plan, err := s.plans.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		if err := s.close(ctx, fx, plan, actorID, "plan closed"); err != nil {
			return err
		}
		result = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PlanService) close(ctx context.Context, fx *effects, plan *models.EnrollmentPlan, actorID, reason string) error {
	if plan.Status != models.PlanStatusActive && plan.Status != models.PlanStatusSuspended {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("plan in status %s cannot be closed", plan.Status)),
			"status", plan.Status)
	}
	if err := s.ensureNoApplications(ctx, plan.ID, []models.ApplicationStatus{
		models.StatusSubmitted, models.StatusUnderReview, models.StatusApproved,
	}); err != nil {
		return err
	}

	waiting, err := s.applications.ListWaitlisted(ctx, plan.ID, true)
	if err != nil {
		return storeError(err, "application", "lock waitlist")
	}
	now := s.now().UTC()
	for i := range waiting {
		app := &waiting[i]
		rule, err := models.Transition(app.Status, models.EventCancel)
		if err != nil {
			return err
		}
		app.Status = rule.To
		app.WaitlistPosition = nil
		app.CancelledAt = &now
		app.CancellationReason = strPtr(reason)
		if err := s.applications.Update(ctx, app); err != nil {
			return storeError(err, "application", "cancel waitlisted application")
		}
		fx.transitions = append(fx.transitions, rule)
		fx.emit(models.EventApplicationCancelled, app, models.Metadata{"from": string(models.StatusWaitlisted), "reason": reason})
	}

	rows, err := s.quotas.ListByPlan(ctx, plan.ID, true)
	if err != nil {
		return storeError(err, "quota", "lock plan quotas")
	}
	if err := s.quotas.SoftDeleteByPlan(ctx, plan.ID, now); err != nil {
		return storeError(err, "quota", "retire plan quotas")
	}
	for i := range rows {
		fx.touchQuota(&rows[i])
	}

	before := plan.Status
	plan.Status = models.PlanStatusClosed
	plan.IsActive = false
	if err := s.plans.Update(ctx, plan); err != nil {
		return storeError(err, "plan", "close plan")
	}
	available, err := s.plans.RefreshAvailability(ctx, plan.ID)
	if err != nil {
		return storeError(err, "plan", "refresh plan availability")
	}
	plan.AvailableQuota = available
	fx.touchPlan(plan.ID)
	s.logger.Info("plan closed", zap.String("plan_id", plan.ID), zap.Int("waitlist_cancelled", len(waiting)))
	return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanStatus, models.AuditResourcePlan, plan.ID,
		map[string]interface{}{"status": before},
		map[string]interface{}{"status": plan.Status, "waitlist_cancelled": len(waiting)})
}

// Delete soft-deletes a plan no application references.
func (s *PlanService) Delete(ctx context.Context, id, actorID string) error {
	return s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		plan, err := s.plans.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		count, err := s.applications.CountByPlan(ctx, plan.ID)
		if err != nil {
			return storeError(err, "application", "count applications")
		}
		if count > 0 {
			return appErrors.WithDetails(appErrors.ErrPlanHasActiveApplications, "applications", count)
		}
		now := s.now().UTC()
		if err := s.quotas.SoftDeleteByPlan(ctx, plan.ID, now); err != nil {
			return storeError(err, "quota", "retire plan quotas")
		}
		if err := s.plans.SoftDelete(ctx, plan.ID, now); err != nil {
			return storeError(err, "plan", "delete plan")
		}
		fx.touchPlan(plan.ID)
		return writeAudit(ctx, s.audit, actorID, models.AuditActionPlanDelete, models.AuditResourcePlan, plan.ID, plan, nil)
	})
}

// CanRegister reports whether the plan currently takes new applications.
func (s *PlanService) CanRegister(ctx context.Context, id string) (bool, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return false, storeError(err, "plan", "load plan")
	}
	rows, err := s.quotas.ListByPlan(ctx, id, false)
	if err != nil {
		return false, storeError(err, "quota", "list plan quotas")
	}
	return plan.CanRegister(s.now().UTC(), rows), nil
}

// Availability returns the plan's seat view, served from cache when warm.
func (s *PlanService) Availability(ctx context.Context, id string) (*PlanAvailability, error) {
	var cached PlanAvailability
	if hit, _ := s.cache.Get(ctx, planCacheKey(id), &cached); hit {
		return &cached, nil
	}
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "plan", "load plan")
	}
	rows, err := s.quotas.ListByPlan(ctx, id, false)
	if err != nil {
		return nil, storeError(err, "quota", "list plan quotas")
	}
	view := &PlanAvailability{
		PlanID:         plan.ID,
		Status:         plan.Status,
		CurrentPhase:   plan.CurrentPhase,
		TotalQuota:     plan.TotalQuota,
		AvailableQuota: plan.AvailableQuota,
		CanRegister:    plan.CanRegister(s.now().UTC(), rows),
		AllowWaitlist:  plan.AllowWaitlist,
		Quotas:         make([]models.QuotaAvailability, 0, len(rows)),
	}
	for i := range rows {
		view.Quotas = append(view.Quotas, rows[i].Snapshot())
	}
	_ = s.cache.Set(ctx, planCacheKey(id), view, 0)
	return view, nil
}

// Statistics summarises demand and occupancy of a plan.
func (s *PlanService) Statistics(ctx context.Context, id string) (*models.PlanStatistics, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "plan", "load plan")
	}
	counts, err := s.applications.CountByStatus(ctx, id)
	if err != nil {
		return nil, storeError(err, "application", "count applications")
	}
	byGroup, err := s.applications.CountByAgeGroup(ctx, id)
	if err != nil {
		return nil, storeError(err, "application", "count applications by age group")
	}

	stats := &models.PlanStatistics{
		PlanID:           plan.ID,
		TotalQuota:       plan.TotalQuota,
		AvailableQuota:   plan.AvailableQuota,
		OccupancyRate:    plan.OccupancyRate(),
		ApplicationStats: map[models.ApplicationStatus]int{},
		Timeline:         plan.Timeline(),
		TotalFees:        plan.TotalFees(),
	}
	for status, n := range counts {
		stats.ApplicationStats[status] = n
		if status != models.StatusDraft {
			stats.TotalApplied += n
		}
	}
	if stats.TotalApplied > 0 {
		accepted := counts[models.StatusApproved] + counts[models.StatusEnrolled]
		stats.ApprovalRate = float64(accepted*10000/stats.TotalApplied) / 100
	}
	if len(plan.QuotaByAgeGroup) > 0 {
		stats.AgeGroups = plan.QuotaByAgeGroupSummary(byGroup)
	}
	return stats, nil
}
