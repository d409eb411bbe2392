package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// WaitlistService ranks waitlisted applications and promotes them into freed seats.
type WaitlistService struct {
	applications applicationRepository
	plans        planRepository
	quotas       quotaRepository
	audit        auditRepository
	ledger       *Ledger
	uow          *UnitOfWork
	logger       *zap.Logger
	now          func() time.Time
}

// NewWaitlistService constructs WaitlistService.
func NewWaitlistService(applications applicationRepository, plans planRepository, quotas quotaRepository, audit auditRepository, ledger *Ledger, uow *UnitOfWork, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{
		applications: applications,
		plans:        plans,
		quotas:       quotas,
		audit:        audit,
		ledger:       ledger,
		uow:          uow,
		logger:       logger,
		now:          time.Now,
	}
}

// Ranked returns the ordered waitlist of a plan.
func (s *WaitlistService) Ranked(ctx context.Context, planID string) ([]models.WaitlistEntry, error) {
	if _, err := s.plans.FindByID(ctx, planID); err != nil {
		return nil, storeError(err, "plan", "load plan")
	}
	apps, err := s.applications.ListWaitlisted(ctx, planID, false)
	if err != nil {
		return nil, storeError(err, "application", "list waitlist")
	}
	entries := make([]models.WaitlistEntry, 0, len(apps))
	for i := range apps {
		entries = append(entries, waitlistEntry(i+1, &apps[i]))
	}
	return entries, nil
}

// Position returns the ranked entry of a waitlisted application.
func (s *WaitlistService) Position(ctx context.Context, applicationID string) (*models.WaitlistEntry, error) {
	app, err := s.applications.FindByID(ctx, applicationID)
	if err != nil {
		return nil, storeError(err, "application", "load application")
	}
	if app.Status != models.StatusWaitlisted || app.PlanID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "application is not waitlisted")
	}
	apps, err := s.applications.ListWaitlisted(ctx, *app.PlanID, false)
	if err != nil {
		return nil, storeError(err, "application", "list waitlist")
	}
	for i := range apps {
		if apps[i].ID == applicationID {
			entry := waitlistEntry(i+1, &apps[i])
			return &entry, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found on waitlist")
}

// PromoteNext offers up to slots seats to the head of the plan's waitlist and
// returns the promoted applications.
func (s *WaitlistService) PromoteNext(ctx context.Context, planID string, slots int) ([]models.EnrollmentApplication, error) {
	if slots < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slots must be at least 1")
	}
	var promoted []models.EnrollmentApplication
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		var err error
		promoted, err = s.promote(ctx, fx, planID, slots)
		return err
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// promote runs inside the caller's unit of work. Entries failing their
// guards are skipped and keep their position.
func (s *WaitlistService) promote(ctx context.Context, fx *effects, planID string, slots int, exclude ...string) ([]models.EnrollmentApplication, error) {
	if slots < 1 {
		return nil, nil
	}
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		err = storeError(err, "plan", "load plan")
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if plan.Status != models.PlanStatusActive || !plan.IsActive {
		s.logger.Debug("waitlist promotion skipped, plan inactive", zap.String("plan_id", planID))
		return nil, nil
	}

	candidates, err := s.applications.ListWaitlisted(ctx, planID, true)
	if err != nil {
		return nil, storeError(err, "application", "lock waitlist")
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	now := s.now().UTC()
	var promoted []models.EnrollmentApplication
	for i := range candidates {
		if len(promoted) == slots {
			break
		}
		candidate := candidates[i]
		if _, excluded := skip[candidate.ID]; excluded {
			continue
		}
		if startExpired(candidate.PreferredStartDate, now) {
			s.logger.Info("waitlist entry skipped, preferred start date passed",
				zap.String("application_id", candidate.ID), zap.String("plan_id", planID))
			continue
		}

		// positions shift as earlier entries leave, so reload before promoting
		app, err := s.applications.LockByID(ctx, candidate.ID)
		if err != nil {
			return nil, storeError(err, "application", "lock application")
		}
		seat, err := pickSeat(ctx, s.quotas, planID, app, now)
		if err != nil {
			return nil, err
		}
		if seat == nil {
			continue
		}
		if err := s.promoteOne(ctx, fx, app, seat, now); err != nil {
			if appErrors.IsRecoverable(err) {
				continue
			}
			return nil, err
		}
		promoted = append(promoted, *app)
	}
	return promoted, nil
}

func (s *WaitlistService) promoteOne(ctx context.Context, fx *effects, app *models.EnrollmentApplication, seat *models.EnrollmentQuota, now time.Time) error {
	rule, err := models.Transition(app.Status, models.EventPromote)
	if err != nil {
		return err
	}
	if _, err := s.ledger.applyByID(ctx, fx, seat.ID, LedgerOpReserve, 1); err != nil {
		return err
	}

	before := app.Status
	position := 0
	if app.WaitlistPosition != nil {
		position = *app.WaitlistPosition
	}
	app.Status = rule.To
	app.QuotaID = strPtr(seat.ID)
	app.ReservationToken = strPtr(uuid.NewString())
	app.WaitlistPosition = nil
	app.ApprovedAt = &now
	if err := s.applications.Update(ctx, app); err != nil {
		return storeError(err, "application", "promote application")
	}
	if position > 0 {
		if err := s.applications.CompactWaitlist(ctx, *app.PlanID, position); err != nil {
			return storeError(err, "application", "compact waitlist")
		}
	}

	fx.transitions = append(fx.transitions, rule)
	fx.promotions++
	fx.emit(models.EventSlotPromoted, app, models.Metadata{"from_position": position, "quota_id": seat.ID})
	fx.emit(models.EventApplicationApproved, app, models.Metadata{"promoted": true})

	s.logger.Info("waitlist entry promoted",
		zap.String("application_id", app.ID),
		zap.String("quota_id", seat.ID),
		zap.Int("from_position", position))

	return writeAudit(ctx, s.audit, "", models.AuditActionApplicationTransition, models.AuditResourceApplication, app.ID,
		map[string]interface{}{"status": before, "waitlist_position": position},
		map[string]interface{}{"status": app.Status, "event": rule.Event, "quota_id": seat.ID})
}

// pickSeat returns the highest-priority active row of the plan with a free
// seat for app, locked for update, or nil when none has capacity. A row of
// the applicant's preferred class wins over the others. Applicants whose pool
// has no row on the plan draw from the regular pool.
func pickSeat(ctx context.Context, quotas quotaRepository, planID string, app *models.EnrollmentApplication, now time.Time) (*models.EnrollmentQuota, error) {
	rows, err := quotas.ListByPlan(ctx, planID, true)
	if err != nil {
		return nil, storeError(err, "quota", "lock plan quotas")
	}
	quotaType := seatPool(rows, app.ApplicationType.QuotaType())
	var fallback *models.EnrollmentQuota
	for i := range rows {
		if rows[i].QuotaType != quotaType || !rows[i].IsAvailable(now) {
			continue
		}
		if app.PreferredClass == nil || (rows[i].ClassID != nil && *rows[i].ClassID == *app.PreferredClass) {
			return &rows[i], nil
		}
		if fallback == nil {
			fallback = &rows[i]
		}
	}
	return fallback, nil
}

// seatPool returns want when the plan carries a row of that type and the
// regular pool otherwise.
func seatPool(rows []models.EnrollmentQuota, want models.QuotaType) models.QuotaType {
	for i := range rows {
		if rows[i].QuotaType == want {
			return want
		}
	}
	return models.QuotaTypeRegular
}

func startExpired(start *time.Time, now time.Time) bool {
	if start == nil {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start.UTC().Before(today)
}

func waitlistEntry(rank int, app *models.EnrollmentApplication) models.WaitlistEntry {
	entry := models.WaitlistEntry{
		Rank:              rank,
		ApplicationID:     app.ID,
		ApplicationNumber: app.ApplicationNumber,
		StudentID:         app.StudentID,
		Priority:          app.Priority,
		WaitlistedAt:      app.WaitlistedAt,
	}
	if app.WaitlistPosition != nil {
		entry.WaitlistPosition = *app.WaitlistPosition
	}
	return entry
}
