package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// slotPromoter offers freed seats of a plan to its waitlist.
type slotPromoter interface {
	promote(ctx context.Context, fx *effects, planID string, slots int, exclude ...string) ([]models.EnrollmentApplication, error)
}

// QuotaService is the public contract of the quota ledger.
type QuotaService struct {
	quotas    quotaRepository
	audit     auditRepository
	ledger    *Ledger
	waitlist  slotPromoter
	uow       *UnitOfWork
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewQuotaService constructs QuotaService. waitlist may be nil, in which case
// capacity growth promotes nobody.
func NewQuotaService(quotas quotaRepository, audit auditRepository, ledger *Ledger, waitlist *WaitlistService, uow *UnitOfWork, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *QuotaService {
	if validate == nil {
		validate = validator.New()
	}
	registerAdmissionValidators(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &QuotaService{quotas: quotas, audit: audit, ledger: ledger, uow: uow, cache: cache, validator: validate, logger: logger, now: time.Now}
	if waitlist != nil {
		svc.waitlist = waitlist
	}
	return svc
}

// Reserve holds amount seats on the row identified by key and returns the new
// available count.
func (s *QuotaService) Reserve(ctx context.Context, key models.QuotaKey, amount int) (int, error) {
	quota, err := s.mutate(ctx, key, LedgerOpReserve, amount)
	if err != nil {
		return 0, err
	}
	return quota.AvailableQuota, nil
}

// Release returns amount held seats and returns the new available count.
func (s *QuotaService) Release(ctx context.Context, key models.QuotaKey, amount int) (int, error) {
	quota, err := s.mutate(ctx, key, LedgerOpRelease, amount)
	if err != nil {
		return 0, err
	}
	return quota.AvailableQuota, nil
}

// Consume converts amount held seats into used seats and returns the new used count.
func (s *QuotaService) Consume(ctx context.Context, key models.QuotaKey, amount int) (int, error) {
	quota, err := s.mutate(ctx, key, LedgerOpConsume, amount)
	if err != nil {
		return 0, err
	}
	return quota.UsedQuota, nil
}

// Vacate frees amount used seats and returns the new available count.
func (s *QuotaService) Vacate(ctx context.Context, key models.QuotaKey, amount int) (int, error) {
	quota, err := s.mutate(ctx, key, LedgerOpVacate, amount)
	if err != nil {
		return 0, err
	}
	return quota.AvailableQuota, nil
}

func (s *QuotaService) mutate(ctx context.Context, key models.QuotaKey, op LedgerOp, amount int) (*models.EnrollmentQuota, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if amount < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be at least 1")
	}
	var result *models.EnrollmentQuota
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		quota, err := s.ledger.applyByKey(ctx, fx, key, op, amount)
		if err != nil {
			return err
		}
		if frees(op) && quota.PlanID != nil && s.waitlist != nil {
			promoted, err := s.waitlist.promote(ctx, fx, *quota.PlanID, amount)
			if err != nil {
				return err
			}
			if len(promoted) > 0 {
				if quota, err = s.quotas.FindByID(ctx, quota.ID); err != nil {
					return storeError(err, "quota", "reload quota")
				}
			}
		}
		result = quota
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// frees reports whether op returns seats to the available pool.
func frees(op LedgerOp) bool {
	return op == LedgerOpRelease || op == LedgerOpVacate
}

func validateKey(key models.QuotaKey) error {
	switch {
	case key.KindergartenID == "":
		return appErrors.Clone(appErrors.ErrValidation, "kindergarten_id is required")
	case !validAcademicYear(key.AcademicYear):
		return appErrors.Clone(appErrors.ErrValidation, "academic_year must look like 2025-2026")
	case !key.Semester.Valid():
		return appErrors.Clone(appErrors.ErrValidation, "invalid semester")
	case !key.QuotaType.Valid():
		return appErrors.Clone(appErrors.ErrValidation, "invalid quota type")
	}
	return nil
}

// GetAvailability returns a read-only snapshot of the row identified by key.
func (s *QuotaService) GetAvailability(ctx context.Context, key models.QuotaKey) (*models.QuotaAvailability, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	cacheKey := quotaKeyCacheKey(key)
	var cached models.QuotaAvailability
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	quota, err := s.quotas.FindByKey(ctx, key)
	if err != nil {
		return nil, storeError(err, "quota", "load quota")
	}
	snapshot := quota.Snapshot()
	_ = s.cache.Set(ctx, cacheKey, snapshot, 0)
	return &snapshot, nil
}

// AvailabilityByID returns the snapshot of a row addressed by id.
func (s *QuotaService) AvailabilityByID(ctx context.Context, id string) (*models.QuotaAvailability, error) {
	cacheKey := quotaCacheKey(id)
	var cached models.QuotaAvailability
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}
	quota, err := s.quotas.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "quota", "load quota")
	}
	snapshot := quota.Snapshot()
	_ = s.cache.Set(ctx, cacheKey, snapshot, 0)
	return &snapshot, nil
}

// Get returns one ledger row.
func (s *QuotaService) Get(ctx context.Context, id string) (*models.EnrollmentQuota, error) {
	quota, err := s.quotas.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "quota", "load quota")
	}
	return quota, nil
}

// List returns ledger rows with pagination metadata.
func (s *QuotaService) List(ctx context.Context, filter models.QuotaFilter) ([]models.EnrollmentQuota, *models.Pagination, error) {
	quotas, total, err := s.quotas.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "quota", "list quotas")
	}
	return quotas, paginate(filter.Page, filter.PageSize, total), nil
}

// Create opens a new ledger row with no seats held.
func (s *QuotaService) Create(ctx context.Context, req dto.CreateQuotaRequest, actorID string) (*models.EnrollmentQuota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota payload")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not precede start_date")
	}
	if req.ClassID != nil && strings.TrimSpace(*req.ClassID) == "" {
		req.ClassID = nil
	}

	quota := &models.EnrollmentQuota{
		PlanID:         req.PlanID,
		KindergartenID: req.KindergartenID,
		ClassID:        req.ClassID,
		AcademicYear:   req.AcademicYear,
		Semester:       req.Semester,
		QuotaType:      req.QuotaType,
		AgeGroup:       req.AgeGroup,
		TotalQuota:     req.TotalQuota,
		Priority:       req.Priority,
		IsActive:       true,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Notes:          req.Notes,
	}
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		if err := s.quotas.Create(ctx, quota); err != nil {
			return storeError(err, "quota", "create quota")
		}
		if quota.PlanID != nil {
			if err := s.ledger.refreshPlan(ctx, fx, *quota.PlanID); err != nil {
				return err
			}
		}
		fx.touchQuota(quota)
		return s.writeAudit(ctx, actorID, models.AuditActionQuotaCreate, quota.ID, nil, quota)
	})
	if err != nil {
		return nil, err
	}
	return quota, nil
}

// AdjustQuota resizes one row. Growth is offered to the plan's waitlist.
func (s *QuotaService) AdjustQuota(ctx context.Context, id string, req dto.AdjustQuotaRequest, actorID string) (*models.EnrollmentQuota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota adjustment")
	}
	var result *models.EnrollmentQuota
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		quota, err := s.adjust(ctx, fx, models.QuotaAdjustment{QuotaID: id, NewTotal: req.NewTotal, Reason: req.Reason}, actorID)
		if err != nil {
			return err
		}
		result = quota
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BatchAdjust applies every adjustment in one transaction or none of them.
func (s *QuotaService) BatchAdjust(ctx context.Context, req dto.BatchAdjustQuotaRequest, actorID string) ([]models.EnrollmentQuota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch adjustment")
	}
	seen := map[string]struct{}{}
	for _, adj := range req.Adjustments {
		if _, dup := seen[adj.QuotaID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("quota %s adjusted twice", adj.QuotaID))
		}
		seen[adj.QuotaID] = struct{}{}
	}

	var results []models.EnrollmentQuota
	err := s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		for _, adj := range req.Adjustments {
			quota, err := s.adjust(ctx, fx, adj, actorID)
			if err != nil {
				return appErrors.WithDetails(appErrors.FromError(err), "quota_id", adj.QuotaID)
			}
			results = append(results, *quota)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *QuotaService) adjust(ctx context.Context, fx *effects, adj models.QuotaAdjustment, actorID string) (*models.EnrollmentQuota, error) {
	quota, err := s.quotas.LockByID(ctx, adj.QuotaID)
	if err != nil {
		return nil, storeError(err, "quota", "lock quota")
	}
	before := quota.Snapshot()
	if err := quota.Resize(adj.NewTotal); err != nil {
		return nil, err
	}
	if err := s.quotas.UpdateCounters(ctx, quota); err != nil {
		return nil, storeError(err, "quota", "update quota counters")
	}
	if quota.PlanID != nil {
		if err := s.ledger.refreshPlan(ctx, fx, *quota.PlanID); err != nil {
			return nil, err
		}
	}
	fx.touchQuota(quota)

	changes := map[string]interface{}{"before": before, "after": quota.Snapshot(), "reason": adj.Reason}
	if err := s.writeAudit(ctx, actorID, models.AuditActionQuotaAdjust, quota.ID, nil, changes); err != nil {
		return nil, err
	}

	if grown := quota.AvailableQuota - before.Available; grown > 0 && quota.PlanID != nil && s.waitlist != nil {
		if _, err := s.waitlist.promote(ctx, fx, *quota.PlanID, grown); err != nil {
			return nil, err
		}
		if quota, err = s.quotas.FindByID(ctx, quota.ID); err != nil {
			return nil, storeError(err, "quota", "reload quota")
		}
	}
	return quota, nil
}

// Delete retires a row that holds no reservations.
func (s *QuotaService) Delete(ctx context.Context, id, actorID string) error {
	return s.uow.run(ctx, func(ctx context.Context, fx *effects) error {
		quota, err := s.quotas.LockByID(ctx, id)
		if err != nil {
			return storeError(err, "quota", "lock quota")
		}
		if quota.ReservedQuota > 0 {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrQuotaHasReservations, fmt.Sprintf("quota holds %d reserved seats", quota.ReservedQuota)),
				"reserved", quota.ReservedQuota)
		}
		if err := s.quotas.SoftDelete(ctx, id, s.now().UTC()); err != nil {
			return storeError(err, "quota", "delete quota")
		}
		if quota.PlanID != nil {
			if err := s.ledger.refreshPlan(ctx, fx, *quota.PlanID); err != nil {
				return err
			}
		}
		fx.touchQuota(quota)
		return s.writeAudit(ctx, actorID, models.AuditActionQuotaDelete, id, quota, nil)
	})
}

// Statistics sums the rows of a kindergarten year.
func (s *QuotaService) Statistics(ctx context.Context, kindergartenID, academicYear string) (*models.QuotaStatistics, error) {
	if kindergartenID == "" || academicYear == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "kindergarten_id and academic_year are required")
	}
	stats := &models.QuotaStatistics{
		KindergartenID: kindergartenID,
		AcademicYear:   academicYear,
		ByType:         map[models.QuotaType]models.QuotaTotals{},
	}
	for pageNum := 1; ; pageNum++ {
		quotas, total, err := s.quotas.List(ctx, models.QuotaFilter{KindergartenID: kindergartenID, AcademicYear: academicYear, Page: pageNum, PageSize: 100})
		if err != nil {
			return nil, storeError(err, "quota", "list quotas")
		}
		for _, q := range quotas {
			stats.TotalQuota += q.TotalQuota
			stats.UsedQuota += q.UsedQuota
			stats.ReservedQuota += q.ReservedQuota
			stats.AvailableQuota += q.ComputeAvailable()
			t := stats.ByType[q.QuotaType]
			t.Total += q.TotalQuota
			t.Used += q.UsedQuota
			t.Reserved += q.ReservedQuota
			t.Available += q.ComputeAvailable()
			stats.ByType[q.QuotaType] = t
		}
		if pageNum*100 >= total {
			break
		}
	}
	if stats.TotalQuota > 0 {
		stats.UtilizationRate = math.Round(float64(stats.UsedQuota)/float64(stats.TotalQuota)*10000) / 100
	}
	return stats, nil
}

func (s *QuotaService) writeAudit(ctx context.Context, actorID, action, resourceID string, oldValue, newValue interface{}) error {
	return writeAudit(ctx, s.audit, actorID, action, models.AuditResourceQuota, resourceID, oldValue, newValue)
}

func writeAudit(ctx context.Context, repo auditRepository, actorID, action, resource, resourceID string, oldValue, newValue interface{}) error {
	if repo == nil {
		return nil
	}
	log := &models.AuditLog{Action: action, Resource: resource, ResourceID: strPtr(resourceID)}
	if actorID != "" {
		log.UserID = strPtr(actorID)
	}
	if oldValue != nil {
		raw, err := json.Marshal(oldValue)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audit payload")
		}
		log.OldValues = raw
	}
	if newValue != nil {
		raw, err := json.Marshal(newValue)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audit payload")
		}
		log.NewValues = raw
	}
	if err := repo.Create(ctx, log); err != nil {
		return storeError(err, "audit log", "write audit log")
	}
	return nil
}
