package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

const quotaColumns = `id, plan_id, kindergarten_id, class_id, academic_year, semester, quota_type, age_group,
total_quota, used_quota, reserved_quota, available_quota, priority, is_active, start_date, end_date, notes,
created_at, updated_at, deleted_at`

// QuotaRepository persists enrollment quota ledger rows.
type QuotaRepository struct {
	db *sqlx.DB
}

// NewQuotaRepository constructs the repository.
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// FindByID returns a live ledger row.
func (r *QuotaRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentQuota, error) {
	return r.getByID(ctx, id, false)
}

// LockByID returns a live ledger row locked until the surrounding
// transaction ends.
func (r *QuotaRepository) LockByID(ctx context.Context, id string) (*models.EnrollmentQuota, error) {
	return r.getByID(ctx, id, true)
}

func (r *QuotaRepository) getByID(ctx context.Context, id string, forUpdate bool) (*models.EnrollmentQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM enrollment_quotas WHERE id = $1 AND deleted_at IS NULL` + lockClause(ctx, forUpdate)
	var quota models.EnrollmentQuota
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &quota, query, id); err != nil {
		return nil, err
	}
	return &quota, nil
}

// FindByKey returns the live ledger row for a composite key.
func (r *QuotaRepository) FindByKey(ctx context.Context, key models.QuotaKey) (*models.EnrollmentQuota, error) {
	return r.getByKey(ctx, key, false)
}

// LockByKey returns the live ledger row for a composite key, locked.
func (r *QuotaRepository) LockByKey(ctx context.Context, key models.QuotaKey) (*models.EnrollmentQuota, error) {
	return r.getByKey(ctx, key, true)
}

func (r *QuotaRepository) getByKey(ctx context.Context, key models.QuotaKey, forUpdate bool) (*models.EnrollmentQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM enrollment_quotas
WHERE kindergarten_id = $1 AND COALESCE(class_id, '') = $2 AND academic_year = $3 AND semester = $4 AND quota_type = $5
AND deleted_at IS NULL` + lockClause(ctx, forUpdate)
	var quota models.EnrollmentQuota
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &quota, query,
		key.KindergartenID, key.ClassID, key.AcademicYear, key.Semester, key.QuotaType); err != nil {
		return nil, err
	}
	return &quota, nil
}

// ListByPlan returns the live ledger rows of a plan ordered by priority.
func (r *QuotaRepository) ListByPlan(ctx context.Context, planID string, forUpdate bool) ([]models.EnrollmentQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM enrollment_quotas WHERE plan_id = $1 AND deleted_at IS NULL
ORDER BY priority DESC, created_at ASC, id ASC` + lockClause(ctx, forUpdate)
	var quotas []models.EnrollmentQuota
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &quotas, query, planID); err != nil {
		return nil, fmt.Errorf("list plan quotas: %w", err)
	}
	return quotas, nil
}

// List returns ledger rows matching filter with the total match count.
func (r *QuotaRepository) List(ctx context.Context, filter models.QuotaFilter) ([]models.EnrollmentQuota, int, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	if filter.KindergartenID != "" {
		args = append(args, filter.KindergartenID)
		conditions = append(conditions, fmt.Sprintf("kindergarten_id = $%d", len(args)))
	}
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		conditions = append(conditions, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if filter.AcademicYear != "" {
		args = append(args, filter.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if filter.Semester != "" {
		args = append(args, filter.Semester)
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)))
	}
	if filter.QuotaType != "" {
		args = append(args, filter.QuotaType)
		conditions = append(conditions, fmt.Sprintf("quota_type = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.HasAvailable != nil {
		if *filter.HasAvailable {
			conditions = append(conditions, "available_quota > 0")
		} else {
			conditions = append(conditions, "available_quota = 0")
		}
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"priority":        "priority",
		"academic_year":   "academic_year",
		"available_quota": "available_quota",
		"created_at":      "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "priority"
	}
	order := sortOrder(filter.SortOrder, "DESC")
	size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM enrollment_quotas%s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d`,
		quotaColumns, clause, orderBy, order, size, offset)
	var quotas []models.EnrollmentQuota
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &quotas, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list quotas: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total, "SELECT COUNT(*) FROM enrollment_quotas"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count quotas: %w", err)
	}
	return quotas, total, nil
}

// Create inserts a ledger row.
func (r *QuotaRepository) Create(ctx context.Context, quota *models.EnrollmentQuota) error {
	if quota.ID == "" {
		quota.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if quota.CreatedAt.IsZero() {
		quota.CreatedAt = now
	}
	quota.UpdatedAt = now
	quota.AvailableQuota = quota.ComputeAvailable()

	const query = `INSERT INTO enrollment_quotas (id, plan_id, kindergarten_id, class_id, academic_year, semester, quota_type, age_group,
total_quota, used_quota, reserved_quota, available_quota, priority, is_active, start_date, end_date, notes, created_at, updated_at)
VALUES (:id, :plan_id, :kindergarten_id, :class_id, :academic_year, :semester, :quota_type, :age_group,
:total_quota, :used_quota, :reserved_quota, :available_quota, :priority, :is_active, :start_date, :end_date, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, quota); err != nil {
		return fmt.Errorf("create quota: %w", err)
	}
	return nil
}

// UpdateCounters writes the seat counters of a locked row.
func (r *QuotaRepository) UpdateCounters(ctx context.Context, quota *models.EnrollmentQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollment_quotas
SET total_quota = $2, used_quota = $3, reserved_quota = $4, available_quota = $5, updated_at = $6
WHERE id = $1 AND deleted_at IS NULL`
	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		quota.ID, quota.TotalQuota, quota.UsedQuota, quota.ReservedQuota, quota.AvailableQuota, quota.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update quota counters: %w", err)
	}
	return expectAffected(res)
}

// Update writes the descriptive attributes of a row. Counters are left to
// UpdateCounters.
func (r *QuotaRepository) Update(ctx context.Context, quota *models.EnrollmentQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollment_quotas
SET age_group = $2, priority = $3, is_active = $4, start_date = $5, end_date = $6, notes = $7, updated_at = $8
WHERE id = $1 AND deleted_at IS NULL`
	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		quota.ID, quota.AgeGroup, quota.Priority, quota.IsActive, quota.StartDate, quota.EndDate, quota.Notes, quota.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update quota: %w", err)
	}
	return expectAffected(res)
}

// SoftDelete marks one row deleted and inactive.
func (r *QuotaRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE enrollment_quotas SET is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := executor(ctx, r.db).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	return expectAffected(res)
}

// SoftDeleteByPlan retires every live row of a plan.
func (r *QuotaRepository) SoftDeleteByPlan(ctx context.Context, planID string, at time.Time) error {
	const query = `UPDATE enrollment_quotas SET is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE plan_id = $1 AND deleted_at IS NULL`
	if _, err := executor(ctx, r.db).ExecContext(ctx, query, planID, at); err != nil {
		return fmt.Errorf("delete plan quotas: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
