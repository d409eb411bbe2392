package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	PlansChecked    int       `json:"plans_checked"`
	InvariantBreaks int       `json:"invariant_breaks"`
	MirrorsFixed    int       `json:"mirrors_fixed"`
	PhasesAdvanced  int       `json:"phases_advanced"`
	PlansClosed     int       `json:"plans_closed"`
	Promoted        int       `json:"promoted"`
	StartedAt       time.Time `json:"started_at"`
	Duration        string    `json:"duration"`
}

// ReconciliationService periodically re-checks ledger invariants, elapsed
// plan phases and unfilled seats with a waiting queue.
type ReconciliationService struct {
	plans    planRepository
	quotas   quotaRepository
	planSvc  *PlanService
	waitlist *WaitlistService
	uow      *UnitOfWork
	logger   *zap.Logger
	now      func() time.Time

	cron *cron.Cron
}

// NewReconciliationService constructs ReconciliationService.
func NewReconciliationService(plans planRepository, quotas quotaRepository, planSvc *PlanService, waitlist *WaitlistService, uow *UnitOfWork, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		plans:    plans,
		quotas:   quotas,
		planSvc:  planSvc,
		waitlist: waitlist,
		uow:      uow,
		logger:   logger,
		now:      time.Now,
	}
}

// Start schedules RunOnce on spec, e.g. "@every 15m". Overlapping runs are skipped.
func (s *ReconciliationService) Start(spec string) error {
	if spec == "" {
		spec = "@every 15m"
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})))
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("reconciliation scheduled", zap.String("schedule", spec))
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (s *ReconciliationService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs one reconciliation pass over every active plan.
func (s *ReconciliationService) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: s.now().UTC()}
	plans, err := s.plans.ListActive(ctx)
	if err != nil {
		return nil, storeError(err, "plan", "list active plans")
	}
	for i := range plans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		plan := &plans[i]
		report.PlansChecked++
		if err := s.checkLedger(ctx, plan, report); err != nil {
			return report, err
		}
		if err := s.progress(ctx, plan, report); err != nil {
			return report, err
		}
		if err := s.fillSeats(ctx, plan, report); err != nil {
			return report, err
		}
	}
	report.Duration = time.Since(report.StartedAt).String()
	s.logger.Info("reconciliation finished",
		zap.Int("plans", report.PlansChecked),
		zap.Int("invariant_breaks", report.InvariantBreaks),
		zap.Int("mirrors_fixed", report.MirrorsFixed),
		zap.Int("phases_advanced", report.PhasesAdvanced),
		zap.Int("plans_closed", report.PlansClosed),
		zap.Int("promoted", report.Promoted))
	return report, nil
}

func (s *ReconciliationService) checkLedger(ctx context.Context, plan *models.EnrollmentPlan, report *ReconcileReport) error {
	rows, err := s.quotas.ListByPlan(ctx, plan.ID, false)
	if err != nil {
		return storeError(err, "quota", "list plan quotas")
	}
	sum := 0
	for i := range rows {
		if err := rows[i].CheckInvariant(); err != nil {
			report.InvariantBreaks++
			s.logger.Error("ledger invariant breach",
				zap.String("quota_id", rows[i].ID),
				zap.String("plan_id", plan.ID),
				zap.Int("total", rows[i].TotalQuota),
				zap.Int("used", rows[i].UsedQuota),
				zap.Int("reserved", rows[i].ReservedQuota),
				zap.Int("available", rows[i].AvailableQuota),
				zap.Error(err))
		}
		if rows[i].IsActive {
			sum += rows[i].AvailableQuota
		}
	}
	if sum == plan.AvailableQuota {
		return nil
	}
	err = s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		available, err := s.plans.RefreshAvailability(ctx, plan.ID)
		if err != nil {
			return storeError(err, "plan", "refresh plan availability")
		}
		plan.AvailableQuota = available
		fx.touchPlan(plan.ID)
		return nil
	})
	if err != nil {
		return err
	}
	report.MirrorsFixed++
	s.logger.Warn("plan availability mirror corrected", zap.String("plan_id", plan.ID), zap.Int("available", plan.AvailableQuota))
	return nil
}

// progress advances a plan whose phase window has elapsed and closes plans
// that reached the completed phase.
func (s *ReconciliationService) progress(ctx context.Context, plan *models.EnrollmentPlan, report *ReconcileReport) error {
	now := s.now().UTC()
	if plan.CanAdvanceToNextPhase(now) {
		advanced, err := s.planSvc.AdvancePhase(ctx, plan.ID, "")
		switch {
		case err == nil:
			*plan = *advanced
			report.PhasesAdvanced++
		case isBusinessRefusal(err):
			s.logger.Debug("phase advance skipped", zap.String("plan_id", plan.ID), zap.Error(err))
		default:
			return err
		}
	}
	if plan.CurrentPhase != models.PhaseCompleted {
		return nil
	}
	closed, err := s.planSvc.Close(ctx, plan.ID, "")
	switch {
	case err == nil:
		*plan = *closed
		report.PlansClosed++
	case isBusinessRefusal(err):
		s.logger.Warn("completed plan left open", zap.String("plan_id", plan.ID), zap.Error(err))
	default:
		return err
	}
	return nil
}

// fillSeats promotes waiting applicants into seats that remained free.
func (s *ReconciliationService) fillSeats(ctx context.Context, plan *models.EnrollmentPlan, report *ReconcileReport) error {
	if plan.Status != models.PlanStatusActive || plan.AvailableQuota < 1 || s.waitlist == nil {
		return nil
	}
	promoted, err := s.waitlist.PromoteNext(ctx, plan.ID, plan.AvailableQuota)
	if err != nil {
		return err
	}
	if len(promoted) > 0 {
		report.Promoted += len(promoted)
		s.logger.Info("reconciliation promoted waitlisted applications", zap.String("plan_id", plan.ID), zap.Int("count", len(promoted)))
	}
	return nil
}

func isBusinessRefusal(err error) bool {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Status < 500
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
