package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// LedgerOp names a seat counter mutation.
type LedgerOp string

const (
	LedgerOpReserve LedgerOp = "reserve"
	LedgerOpRelease LedgerOp = "release"
	LedgerOpConsume LedgerOp = "consume"
	LedgerOpVacate  LedgerOp = "vacate"
)

// Ledger applies seat counter mutations to locked ledger rows. Every method
// must run inside a unit of work; the paired application write shares its
// transaction.
type Ledger struct {
	quotas  quotaRepository
	plans   planRepository
	metrics *MetricsService
	logger  *zap.Logger
}

// NewLedger constructs the ledger primitive.
func NewLedger(quotas quotaRepository, plans planRepository, metrics *MetricsService, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{quotas: quotas, plans: plans, metrics: metrics, logger: logger}
}

// applyByID locks the row and applies op.
func (l *Ledger) applyByID(ctx context.Context, fx *effects, quotaID string, op LedgerOp, amount int) (*models.EnrollmentQuota, error) {
	quota, err := l.quotas.LockByID(ctx, quotaID)
	if err != nil {
		return nil, storeError(err, "quota", "lock quota")
	}
	if err := l.apply(ctx, fx, quota, op, amount); err != nil {
		return nil, err
	}
	return quota, nil
}

// applyByKey locks the row holding key and applies op.
func (l *Ledger) applyByKey(ctx context.Context, fx *effects, key models.QuotaKey, op LedgerOp, amount int) (*models.EnrollmentQuota, error) {
	quota, err := l.quotas.LockByKey(ctx, key)
	if err != nil {
		return nil, storeError(err, "quota", "lock quota")
	}
	if err := l.apply(ctx, fx, quota, op, amount); err != nil {
		return nil, err
	}
	return quota, nil
}

func (l *Ledger) apply(ctx context.Context, fx *effects, quota *models.EnrollmentQuota, op LedgerOp, amount int) error {
	var err error
	switch op {
	case LedgerOpReserve:
		err = quota.Reserve(amount)
	case LedgerOpRelease:
		err = quota.Release(amount)
	case LedgerOpConsume:
		err = quota.Consume(amount)
	case LedgerOpVacate:
		err = quota.Vacate(amount)
	default:
		err = fmt.Errorf("unknown ledger operation %q", op)
	}
	if err == nil {
		if drift := quota.CheckInvariant(); drift != nil {
			l.logger.Error("ledger row drifted", zap.String("quota_id", quota.ID), zap.String("op", string(op)), zap.Error(drift))
			err = appErrors.Wrap(drift, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "ledger counters are inconsistent")
		}
	}
	if err != nil {
		l.fail(quota, op, amount, err)
		return err
	}

	if err := l.quotas.UpdateCounters(ctx, quota); err != nil {
		return storeError(err, "quota", "update quota counters")
	}
	if quota.PlanID != nil {
		if _, err := l.plans.RefreshAvailability(ctx, *quota.PlanID); err != nil {
			return storeError(err, "plan", "refresh plan availability")
		}
	}
	fx.touchQuota(quota)
	fx.ledgerOps = append(fx.ledgerOps, ledgerRecord{op: op, amount: amount})
	return nil
}

func (l *Ledger) fail(quota *models.EnrollmentQuota, op LedgerOp, amount int, err error) {
	outcome := "error"
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		outcome = appErr.Code
	}
	l.metrics.RecordLedgerOperation(string(op), outcome)

	if errors.Is(err, appErrors.ErrInvalidRelease) || errors.Is(err, appErrors.ErrInsufficientReservation) {
		l.logger.Error("ledger invariant breach",
			zap.String("quota_id", quota.ID),
			zap.String("op", string(op)),
			zap.Int("amount", amount),
			zap.Int("total", quota.TotalQuota),
			zap.Int("used", quota.UsedQuota),
			zap.Int("reserved", quota.ReservedQuota),
			zap.Error(err))
	}
}

// refreshPlan recomputes the plan availability mirror.
func (l *Ledger) refreshPlan(ctx context.Context, fx *effects, planID string) error {
	if _, err := l.plans.RefreshAvailability(ctx, planID); err != nil {
		return storeError(err, "plan", "refresh plan availability")
	}
	fx.touchPlan(planID)
	return nil
}
