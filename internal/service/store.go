package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/pkg/database"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// Transactor runs fn atomically. Repositories called with the context passed
// to fn join the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type quotaRepository interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentQuota, error)
	LockByID(ctx context.Context, id string) (*models.EnrollmentQuota, error)
	FindByKey(ctx context.Context, key models.QuotaKey) (*models.EnrollmentQuota, error)
	LockByKey(ctx context.Context, key models.QuotaKey) (*models.EnrollmentQuota, error)
	ListByPlan(ctx context.Context, planID string, forUpdate bool) ([]models.EnrollmentQuota, error)
	List(ctx context.Context, filter models.QuotaFilter) ([]models.EnrollmentQuota, int, error)
	Create(ctx context.Context, quota *models.EnrollmentQuota) error
	UpdateCounters(ctx context.Context, quota *models.EnrollmentQuota) error
	Update(ctx context.Context, quota *models.EnrollmentQuota) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	SoftDeleteByPlan(ctx context.Context, planID string, at time.Time) error
}

type planRepository interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentPlan, error)
	LockByID(ctx context.Context, id string) (*models.EnrollmentPlan, error)
	List(ctx context.Context, filter models.PlanFilter) ([]models.EnrollmentPlan, int, error)
	ListActive(ctx context.Context) ([]models.EnrollmentPlan, error)
	Create(ctx context.Context, plan *models.EnrollmentPlan) error
	Update(ctx context.Context, plan *models.EnrollmentPlan) error
	RefreshAvailability(ctx context.Context, planID string) (int, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

type applicationRepository interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentApplication, error)
	LockByID(ctx context.Context, id string) (*models.EnrollmentApplication, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.EnrollmentApplication, int, error)
	ExistsActive(ctx context.Context, studentID, planID, excludeID string) (bool, error)
	CountByStatus(ctx context.Context, planID string) (map[models.ApplicationStatus]int, error)
	CountByAgeGroup(ctx context.Context, planID string) (map[string]int, error)
	ListWaitlisted(ctx context.Context, planID string, forUpdate bool) ([]models.EnrollmentApplication, error)
	MaxWaitlistPosition(ctx context.Context, planID string) (int, error)
	CompactWaitlist(ctx context.Context, planID string, removed int) error
	NextSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, app *models.EnrollmentApplication) error
	Update(ctx context.Context, app *models.EnrollmentApplication) error
	CountByPlan(ctx context.Context, planID string) (int, error)
}

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// Repositories bundles one storage backend. The postgres and memory stores
// both satisfy it.
type Repositories struct {
	Tx           Transactor
	Plans        planRepository
	Quotas       quotaRepository
	Applications applicationRepository
	Audit        auditRepository
}

// storeError maps a repository failure onto the typed error taxonomy.
func storeError(err error, resource, action string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, resource+" not found")
	}
	if database.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, resource+" already exists")
	}
	if database.IsCheckViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, resource+" violates a constraint")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+action)
}

func strPtr(s string) *string {
	return &s
}

func paginate(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
