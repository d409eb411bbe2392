package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// maxApplicationSequence is the largest sequence the eight digit suffix of an
// application number holds.
const maxApplicationSequence = 99_999_999

// ApplicationServiceConfig tunes application numbering.
type ApplicationServiceConfig struct {
	NumberPrefix string
}

// SubmitResult reports the outcome of a submission. Waitlisted is true when
// no seat was free and the application joined the waitlist instead.
type SubmitResult struct {
	Application *models.EnrollmentApplication
	Waitlisted  bool
}

// transitionStep validates guards and fills status-specific fields before the
// ledger effect of a transition runs.
type transitionStep func(ctx context.Context, fx *effects, app *models.EnrollmentApplication, plan *models.EnrollmentPlan) error

// ApplicationService drives applications through the admission state machine.
type ApplicationService struct {
	applications applicationRepository
	plans        planRepository
	quotas       quotaRepository
	audit        auditRepository
	ledger       *Ledger
	waitlist     *WaitlistService
	uow          *UnitOfWork
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          ApplicationServiceConfig
	now          func() time.Time
}

// NewApplicationService constructs ApplicationService.
func NewApplicationService(applications applicationRepository, plans planRepository, quotas quotaRepository, audit auditRepository, ledger *Ledger, waitlist *WaitlistService, uow *UnitOfWork, validate *validator.Validate, logger *zap.Logger, cfg ApplicationServiceConfig) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	registerAdmissionValidators(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "APP"
	}
	return &ApplicationService{
		applications: applications,
		plans:        plans,
		quotas:       quotas,
		audit:        audit,
		ledger:       ledger,
		waitlist:     waitlist,
		uow:          uow,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Get returns one application.
func (s *ApplicationService) Get(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	app, err := s.applications.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "application", "load application")
	}
	return app, nil
}

// List returns applications with pagination metadata.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.EnrollmentApplication, *models.Pagination, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid priority")
	}
	apps, total, err := s.applications.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "application", "list applications")
	}
	return apps, paginate(filter.Page, filter.PageSize, total), nil
}

// Create opens a draft application and assigns its number.
func (s *ApplicationService) Create(ctx context.Context, req dto.CreateApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	app := &models.EnrollmentApplication{
		StudentID:          req.StudentID,
		ParentID:           req.ParentID,
		KindergartenID:     req.KindergartenID,
		PlanID:             req.PlanID,
		ApplicationType:    req.ApplicationType,
		Status:             models.StatusDraft,
		Priority:           req.Priority,
		PreferredStartDate: req.PreferredStartDate,
		PreferredClass:     req.PreferredClass,
		SpecialNeeds:       req.SpecialNeeds,
		MedicalInfo:        req.MedicalInfo,
		EmergencyContacts:  req.EmergencyContacts,
		Notes:              req.Notes,
	}
	if app.ApplicationType == "" {
		app.ApplicationType = models.ApplicationTypeNewEnrollment
	}
	if app.Priority == "" {
		app.Priority = models.PriorityMedium
	}
	if app.EmergencyContacts == nil {
		app.EmergencyContacts = models.EmergencyContacts{}
	}
	app.Documents = models.ApplicationDocuments{}
	now := s.now().UTC()
	for _, doc := range req.Documents {
		if doc.UploadedAt.IsZero() {
			doc.UploadedAt = now
		}
		app.AddDocument(doc)
	}
	if actorID != "" {
		app.CreatedBy = strPtr(actorID)
	}

	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		if app.PlanID != nil {
			if err := s.checkPlanBinding(ctx, app, *app.PlanID); err != nil {
				return err
			}
		}
		seq, err := s.applications.NextSequence(ctx)
		if err != nil {
			return storeError(err, "application", "allocate application number")
		}
		if seq > maxApplicationSequence {
			return appErrors.Clone(appErrors.ErrInternal, "application number sequence exhausted")
		}
		app.ApplicationNumber = fmt.Sprintf("%s%d%08d", s.cfg.NumberPrefix, now.Year(), seq)
		if err := s.applications.Create(ctx, app); err != nil {
			return storeError(err, "application", "create application")
		}
		return writeAudit(ctx, s.audit, actorID, models.AuditActionApplicationCreate, models.AuditResourceApplication, app.ID, nil, app)
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// checkPlanBinding verifies that app may reference planID.
func (s *ApplicationService) checkPlanBinding(ctx context.Context, app *models.EnrollmentApplication, planID string) error {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return storeError(err, "plan", "load plan")
	}
	if plan.KindergartenID != app.KindergartenID {
		return appErrors.Clone(appErrors.ErrValidation, "plan belongs to a different kindergarten")
	}
	exists, err := s.applications.ExistsActive(ctx, app.StudentID, planID, app.ID)
	if err != nil {
		return storeError(err, "application", "check duplicate application")
	}
	if exists {
		return appErrors.WithDetails(appErrors.ErrDuplicateApplication, "plan_id", planID)
	}
	return nil
}

// Update patches a draft application.
func (s *ApplicationService) Update(ctx context.Context, id string, req dto.UpdateApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	var result *models.EnrollmentApplication
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		app, err := s.applications.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "application", "lock application")
		}
		if !app.CanEdit() {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("application in status %s can no longer be edited", app.Status)),
				"status", app.Status)
		}
		before := *app

		if req.PlanID != nil && (app.PlanID == nil || *app.PlanID != *req.PlanID) {
			if err := s.checkPlanBinding(ctx, app, *req.PlanID); err != nil {
				return err
			}
			app.PlanID = req.PlanID
		}
		if req.Priority != nil {
			app.Priority = *req.Priority
		}
		if req.PreferredStartDate != nil {
			app.PreferredStartDate = req.PreferredStartDate
		}
		if req.PreferredClass != nil {
			app.PreferredClass = req.PreferredClass
		}
		if req.SpecialNeeds != nil {
			app.SpecialNeeds = req.SpecialNeeds
		}
		if req.MedicalInfo != nil {
			app.MedicalInfo = *req.MedicalInfo
		}
		if req.EmergencyContacts != nil {
			app.EmergencyContacts = req.EmergencyContacts
		}
		if req.Notes != nil {
			app.Notes = req.Notes
		}
		for _, docType := range req.RemoveDocumentType {
			app.RemoveDocument(strings.TrimSpace(docType))
		}
		now := s.now().UTC()
		for _, doc := range req.AddDocuments {
			if doc.UploadedAt.IsZero() {
				doc.UploadedAt = now
			}
			app.AddDocument(doc)
		}

		if err := s.applications.Update(ctx, app); err != nil {
			return storeError(err, "application", "update application")
		}
		result = app
		return writeAudit(ctx, s.audit, actorID, models.AuditActionApplicationUpdate, models.AuditResourceApplication, app.ID, before, app)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Submit moves a draft into the pipeline. A free seat is reserved; without
// one the application is waitlisted when the plan allows it. Resubmitting a
// submitted or waitlisted application returns it unchanged.
func (s *ApplicationService) Submit(ctx context.Context, id, actorID string) (*SubmitResult, error) {
	var result *SubmitResult
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		app, err := s.applications.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "application", "lock application")
		}
		switch app.Status {
		case models.StatusSubmitted:
			result = &SubmitResult{Application: app}
			return nil
		case models.StatusWaitlisted:
			result = &SubmitResult{Application: app, Waitlisted: true}
			return nil
		}
		if _, err := models.Transition(app.Status, models.EventSubmit); err != nil {
			return err
		}
		if missing := app.MissingRequiredFields(); len(missing) > 0 {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, "application is missing required fields"),
				"missing_fields", missing)
		}

		// the plan lock serializes waitlist tail assignment
		plan, err := s.plans.LockByID(ctx, *app.PlanID)
		if err != nil {
			return storeError(err, "plan", "lock plan")
		}
		now := s.now().UTC()
		if !plan.AcceptsSubmissions(now) {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrPlanNotAcceptingApplications, "plan is not open for registration"),
				"phase", plan.CurrentPhase)
		}
		if err := s.checkPlanBinding(ctx, app, plan.ID); err != nil {
			return err
		}

		reserved, err := s.reserveSeat(ctx, fx, app, plan.ID, now)
		if err != nil && !appErrors.IsRecoverable(err) {
			return err
		}

		before := app.Status
		app.SubmittedAt = &now
		var rule models.TransitionRule
		if reserved {
			if rule, err = models.Transition(app.Status, models.EventSubmit); err != nil {
				return err
			}
			app.Status = rule.To
		} else {
			if !plan.AllowWaitlist {
				return appErrors.Clone(appErrors.ErrPlanNotAcceptingApplications, "no seats available and the plan keeps no waitlist")
			}
			if rule, err = models.Transition(app.Status, models.EventSubmitWaitlist); err != nil {
				return err
			}
			if err := s.enqueue(ctx, app, plan.ID, now); err != nil {
				return err
			}
			app.Status = rule.To
		}

		if err := s.applications.Update(ctx, app); err != nil {
			return storeError(err, "application", "submit application")
		}
		s.recordTransition(fx, app, before, rule)
		result = &SubmitResult{Application: app, Waitlisted: !reserved}
		return s.auditTransition(ctx, actorID, app, before, rule)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reserveSeat holds one seat for app and stamps the reservation on it. It
// reports false with an InsufficientQuota error when no row has capacity.
func (s *ApplicationService) reserveSeat(ctx context.Context, fx *effects, app *models.EnrollmentApplication, planID string, now time.Time) (bool, error) {
	seat, err := pickSeat(ctx, s.quotas, planID, app, now)
	if err != nil {
		return false, err
	}
	if seat == nil {
		return false, appErrors.Clone(appErrors.ErrInsufficientQuota, "no seat available for this application")
	}
	if _, err := s.ledger.applyByID(ctx, fx, seat.ID, LedgerOpReserve, 1); err != nil {
		return false, err
	}
	app.QuotaID = strPtr(seat.ID)
	app.ReservationToken = strPtr(uuid.NewString())
	return true, nil
}

// enqueue appends app to the tail of the plan's waitlist.
func (s *ApplicationService) enqueue(ctx context.Context, app *models.EnrollmentApplication, planID string, now time.Time) error {
	tail, err := s.applications.MaxWaitlistPosition(ctx, planID)
	if err != nil {
		return storeError(err, "application", "read waitlist tail")
	}
	position := tail + 1
	app.WaitlistPosition = &position
	app.WaitlistedAt = &now
	return nil
}

// StartReview assigns a reviewer to a submitted application.
func (s *ApplicationService) StartReview(ctx context.Context, id string, req dto.StartReviewRequest, actorID string) (*models.EnrollmentApplication, error) {
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		reviewer = actorID
	}
	return s.advance(ctx, id, models.EventStartReview, actorID, func(_ context.Context, _ *effects, app *models.EnrollmentApplication, _ *models.EnrollmentPlan) error {
		if reviewer == "" {
			return appErrors.Clone(appErrors.ErrValidation, "reviewer is required")
		}
		app.ReviewerID = strPtr(reviewer)
		return nil
	})
}

// Approve records a positive review. Without an explicit score the computed
// application score is stored.
func (s *ApplicationService) Approve(ctx context.Context, id string, req dto.ApproveApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	if req.Score != nil && (req.Score.IsNegative() || req.Score.GreaterThan(decimal.NewFromInt(100))) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score must be between 0 and 100")
	}
	return s.advance(ctx, id, models.EventApprove, actorID, func(_ context.Context, _ *effects, app *models.EnrollmentApplication, plan *models.EnrollmentPlan) error {
		if app.Status == models.StatusUnderReview && app.ReviewerID == nil {
			return appErrors.Clone(appErrors.ErrValidation, "review has not been started")
		}
		score := req.Score
		if score == nil {
			var deadline *time.Time
			if plan != nil {
				deadline = &plan.RegistrationEndDate
			}
			total := app.CalculateScore(deadline).Total
			score = &total
		}
		now := s.now().UTC()
		app.Score = score
		if req.Notes != nil {
			app.ReviewNotes = req.Notes
		}
		app.ReviewedAt = &now
		app.ApprovedAt = &now
		return nil
	})
}

// Reject closes an application under review and frees its seat.
func (s *ApplicationService) Reject(ctx context.Context, id string, req dto.RejectApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection reason is required")
	}
	return s.advance(ctx, id, models.EventReject, actorID, func(_ context.Context, _ *effects, app *models.EnrollmentApplication, _ *models.EnrollmentPlan) error {
		now := s.now().UTC()
		app.RejectionReason = strPtr(req.Reason)
		app.ReviewedAt = &now
		return nil
	})
}

// Waitlist moves an application under review to the tail of the waitlist and
// offers its seat to the applicants already waiting. It is refused while the
// plan still has a free seat for the applicant besides the one it holds.
func (s *ApplicationService) Waitlist(ctx context.Context, id string, req dto.WaitlistApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waitlist payload")
	}
	return s.advance(ctx, id, models.EventWaitlist, actorID, func(ctx context.Context, _ *effects, app *models.EnrollmentApplication, plan *models.EnrollmentPlan) error {
		if plan == nil || !plan.AllowWaitlist {
			return appErrors.Clone(appErrors.ErrValidation, "plan keeps no waitlist")
		}
		now := s.now().UTC()
		seat, err := pickSeat(ctx, s.quotas, plan.ID, app, now)
		if err != nil {
			return err
		}
		if seat != nil {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrConflict, "plan still has free seats, approve or reject instead"),
				"available", seat.AvailableQuota)
		}
		if req.Notes != nil {
			app.ReviewNotes = req.Notes
		}
		app.ReviewedAt = &now
		return s.enqueue(ctx, app, plan.ID, now)
	})
}

// Enroll confirms the seat of an approved or waitlisted application.
func (s *ApplicationService) Enroll(ctx context.Context, id, actorID string) (*models.EnrollmentApplication, error) {
	return s.advance(ctx, id, models.EventEnroll, actorID, func(_ context.Context, _ *effects, app *models.EnrollmentApplication, plan *models.EnrollmentPlan) error {
		now := s.now().UTC()
		if plan == nil || !plan.InAdmissionWindow(now) {
			return appErrors.Clone(appErrors.ErrValidation, "enrollment is only possible within the admission window")
		}
		app.EnrolledAt = &now
		return nil
	})
}

// Cancel ends a non-terminal application and frees any seat it holds.
func (s *ApplicationService) Cancel(ctx context.Context, id string, req dto.CancelApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	return s.end(ctx, id, models.EventCancel, req, actorID)
}

// Withdraw cancels an enrollment and returns the confirmed seat to the pool.
func (s *ApplicationService) Withdraw(ctx context.Context, id string, req dto.CancelApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	return s.end(ctx, id, models.EventWithdraw, req, actorID)
}

func (s *ApplicationService) end(ctx context.Context, id string, event models.ApplicationEvent, req dto.CancelApplicationRequest, actorID string) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	return s.advance(ctx, id, event, actorID, func(_ context.Context, _ *effects, app *models.EnrollmentApplication, _ *models.EnrollmentPlan) error {
		now := s.now().UTC()
		if req.Reason != "" {
			app.CancellationReason = strPtr(req.Reason)
		}
		app.CancelledAt = &now
		return nil
	})
}

// Completeness reports how much of the application is filled in.
func (s *ApplicationService) Completeness(ctx context.Context, id string) (*models.Completeness, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c := app.Completeness()
	return &c, nil
}

// ProcessingTime returns the submission to review delay, nil while either
// timestamp is missing.
func (s *ApplicationService) ProcessingTime(ctx context.Context, id string) (*models.ProcessingTime, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return app.ProcessingTime(), nil
}

// advance applies one table-driven transition: guard, ledger effect, status
// write, waitlist bookkeeping, events and audit, then offers freed seats to
// the waitlist, all in one unit of work.
func (s *ApplicationService) advance(ctx context.Context, id string, event models.ApplicationEvent, actorID string, step transitionStep) (*models.EnrollmentApplication, error) {
	var result *models.EnrollmentApplication
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		app, err := s.applications.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "application", "lock application")
		}
		rule, err := models.Transition(app.Status, event)
		if err != nil {
			return err
		}
		var plan *models.EnrollmentPlan
		if app.PlanID != nil {
			if plan, err = s.plans.FindByID(ctx, *app.PlanID); err != nil {
				return storeError(err, "plan", "load plan")
			}
		}

		before := app.Status
		var leftPosition int
		if before == models.StatusWaitlisted && app.WaitlistPosition != nil {
			leftPosition = *app.WaitlistPosition
		}
		if step != nil {
			if err := step(ctx, fx, app, plan); err != nil {
				return err
			}
		}
		freed, err := s.applyEffect(ctx, fx, app, plan, rule)
		if err != nil {
			return err
		}

		app.Status = rule.To
		if rule.To != models.StatusWaitlisted {
			app.WaitlistPosition = nil
		}
		if err := s.applications.Update(ctx, app); err != nil {
			return storeError(err, "application", "update application status")
		}
		if leftPosition > 0 && rule.To != models.StatusWaitlisted {
			if err := s.applications.CompactWaitlist(ctx, *app.PlanID, leftPosition); err != nil {
				return storeError(err, "application", "compact waitlist")
			}
		}
		s.recordTransition(fx, app, before, rule)
		if err := s.auditTransition(ctx, actorID, app, before, rule); err != nil {
			return err
		}

		if freed > 0 && plan != nil && s.waitlist != nil {
			var exclude []string
			if rule.To == models.StatusWaitlisted {
				exclude = append(exclude, app.ID)
			}
			if _, err := s.waitlist.promote(ctx, fx, plan.ID, freed, exclude...); err != nil {
				return err
			}
		}
		result = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyEffect performs the ledger side of rule and returns the number of
// seats it freed.
func (s *ApplicationService) applyEffect(ctx context.Context, fx *effects, app *models.EnrollmentApplication, plan *models.EnrollmentPlan, rule models.TransitionRule) (int, error) {
	now := s.now().UTC()
	switch rule.Effect {
	case models.LedgerNone:
		return 0, nil
	case models.LedgerReserve:
		if plan == nil {
			return 0, appErrors.Clone(appErrors.ErrValidation, "application has no plan")
		}
		_, err := s.reserveSeat(ctx, fx, app, plan.ID, now)
		return 0, err
	case models.LedgerReserveConsume:
		if plan == nil {
			return 0, appErrors.Clone(appErrors.ErrValidation, "application has no plan")
		}
		if _, err := s.reserveSeat(ctx, fx, app, plan.ID, now); err != nil {
			return 0, err
		}
		if _, err := s.ledger.applyByID(ctx, fx, *app.QuotaID, LedgerOpConsume, 1); err != nil {
			return 0, err
		}
		app.ReservationToken = nil
		return 0, nil
	case models.LedgerConsume:
		if app.QuotaID == nil {
			return 0, s.missingHold(app, rule)
		}
		if _, err := s.ledger.applyByID(ctx, fx, *app.QuotaID, LedgerOpConsume, 1); err != nil {
			return 0, err
		}
		app.ReservationToken = nil
		return 0, nil
	case models.LedgerRelease:
		if !app.HoldsReservation() {
			return 0, s.missingHold(app, rule)
		}
		return s.release(ctx, fx, app)
	case models.LedgerReleaseIfHeld:
		if !app.HoldsReservation() {
			return 0, nil
		}
		return s.release(ctx, fx, app)
	case models.LedgerVacate:
		if app.QuotaID == nil {
			return 0, nil
		}
		if _, err := s.ledger.applyByID(ctx, fx, *app.QuotaID, LedgerOpVacate, 1); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, fmt.Errorf("unknown ledger effect %q", rule.Effect)
}

func (s *ApplicationService) release(ctx context.Context, fx *effects, app *models.EnrollmentApplication) (int, error) {
	if _, err := s.ledger.applyByID(ctx, fx, *app.QuotaID, LedgerOpRelease, 1); err != nil {
		return 0, err
	}
	app.QuotaID = nil
	app.ReservationToken = nil
	return 1, nil
}

func (s *ApplicationService) missingHold(app *models.EnrollmentApplication, rule models.TransitionRule) error {
	s.logger.Error("ledger invariant breach",
		zap.String("application_id", app.ID),
		zap.String("status", string(app.Status)),
		zap.String("event", string(rule.Event)),
		zap.String("reason", "application holds no reservation"))
	if rule.Effect == models.LedgerConsume {
		return appErrors.Clone(appErrors.ErrInsufficientReservation, "application holds no reservation to consume")
	}
	return appErrors.Clone(appErrors.ErrInvalidRelease, "application holds no reservation to release")
}

func (s *ApplicationService) recordTransition(fx *effects, app *models.EnrollmentApplication, before models.ApplicationStatus, rule models.TransitionRule) {
	fx.transitions = append(fx.transitions, rule)
	if eventType, ok := models.EventForStatus(app.Status); ok {
		meta := models.Metadata{"from": string(before), "event": string(rule.Event)}
		if app.WaitlistPosition != nil {
			meta["waitlist_position"] = *app.WaitlistPosition
		}
		fx.emit(eventType, app, meta)
	}
	s.logger.Info("application transition",
		zap.String("application_id", app.ID),
		zap.String("from", string(before)),
		zap.String("to", string(app.Status)),
		zap.String("event", string(rule.Event)))
}

func (s *ApplicationService) auditTransition(ctx context.Context, actorID string, app *models.EnrollmentApplication, before models.ApplicationStatus, rule models.TransitionRule) error {
	return writeAudit(ctx, s.audit, actorID, models.AuditActionApplicationTransition, models.AuditResourceApplication, app.ID,
		map[string]interface{}{"status": before},
		map[string]interface{}{"status": app.Status, "event": rule.Event, "quota_id": app.QuotaID, "waitlist_position": app.WaitlistPosition})
}
