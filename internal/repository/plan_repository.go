package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

const planColumns = `id, name, description, kindergarten_id, academic_year, status, current_phase, total_quota, available_quota,
quota_by_age_group, registration_start_date, registration_end_date, review_start_date, review_end_date, admission_date,
school_start_date, allow_waitlist, requirements, documents, fees, contact_info, is_public, is_active, created_by,
created_at, updated_at, deleted_at`

// PlanRepository persists enrollment plans.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindByID returns a live plan.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentPlan, error) {
	return r.get(ctx, id, false)
}

// LockByID returns a live plan locked for the surrounding transaction.
func (r *PlanRepository) LockByID(ctx context.Context, id string) (*models.EnrollmentPlan, error) {
	return r.get(ctx, id, true)
}

func (r *PlanRepository) get(ctx context.Context, id string, forUpdate bool) (*models.EnrollmentPlan, error) {
	query := `SELECT ` + planColumns + ` FROM enrollment_plans WHERE id = $1 AND deleted_at IS NULL` + lockClause(ctx, forUpdate)
	var plan models.EnrollmentPlan
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// List returns plans matching filter with the total match count.
func (r *PlanRepository) List(ctx context.Context, filter models.PlanFilter) ([]models.EnrollmentPlan, int, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	if filter.KindergartenID != "" {
		args = append(args, filter.KindergartenID)
		conditions = append(conditions, fmt.Sprintf("kindergarten_id = $%d", len(args)))
	}
	if filter.AcademicYear != "" {
		args = append(args, filter.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Phase != "" {
		args = append(args, filter.Phase)
		conditions = append(conditions, fmt.Sprintf("current_phase = $%d", len(args)))
	}
	if filter.IsPublic != nil {
		args = append(args, *filter.IsPublic)
		conditions = append(conditions, fmt.Sprintf("is_public = $%d", len(args)))
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"name":                    "name",
		"academic_year":           "academic_year",
		"registration_start_date": "registration_start_date",
		"created_at":              "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := sortOrder(filter.SortOrder, "DESC")
	size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM enrollment_plans%s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d`,
		planColumns, clause, orderBy, order, size, offset)
	var plans []models.EnrollmentPlan
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &plans, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total, "SELECT COUNT(*) FROM enrollment_plans"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}
	return plans, total, nil
}

// ListActive returns every live plan in active status.
func (r *PlanRepository) ListActive(ctx context.Context) ([]models.EnrollmentPlan, error) {
	query := `SELECT ` + planColumns + ` FROM enrollment_plans WHERE status = $1 AND deleted_at IS NULL ORDER BY id`
	var plans []models.EnrollmentPlan
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &plans, query, models.PlanStatusActive); err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	return plans, nil
}

// Create inserts a plan.
func (r *PlanRepository) Create(ctx context.Context, plan *models.EnrollmentPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	const query = `INSERT INTO enrollment_plans (id, name, description, kindergarten_id, academic_year, status, current_phase,
total_quota, available_quota, quota_by_age_group, registration_start_date, registration_end_date, review_start_date,
review_end_date, admission_date, school_start_date, allow_waitlist, requirements, documents, fees, contact_info,
is_public, is_active, created_by, created_at, updated_at)
VALUES (:id, :name, :description, :kindergarten_id, :academic_year, :status, :current_phase,
:total_quota, :available_quota, :quota_by_age_group, :registration_start_date, :registration_end_date, :review_start_date,
:review_end_date, :admission_date, :school_start_date, :allow_waitlist, :requirements, :documents, :fees, :contact_info,
:is_public, :is_active, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// Update writes every mutable column of a plan.
func (r *PlanRepository) Update(ctx context.Context, plan *models.EnrollmentPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollment_plans SET name = :name, description = :description, status = :status,
current_phase = :current_phase, total_quota = :total_quota, quota_by_age_group = :quota_by_age_group,
registration_start_date = :registration_start_date, registration_end_date = :registration_end_date,
review_start_date = :review_start_date, review_end_date = :review_end_date, admission_date = :admission_date,
school_start_date = :school_start_date, allow_waitlist = :allow_waitlist, requirements = :requirements,
documents = :documents, fees = :fees, contact_info = :contact_info, is_public = :is_public, is_active = :is_active,
updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
	res, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, plan)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return expectAffected(res)
}

// RefreshAvailability recomputes the plan's available_quota mirror from its
// live ledger rows and returns the new value.
func (r *PlanRepository) RefreshAvailability(ctx context.Context, planID string) (int, error) {
	const query = `UPDATE enrollment_plans p
SET available_quota = COALESCE((
	SELECT SUM(q.available_quota) FROM enrollment_quotas q
	WHERE q.plan_id = p.id AND q.deleted_at IS NULL AND q.is_active
), 0), updated_at = $2
WHERE p.id = $1
RETURNING p.available_quota`
	var available int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &available, query, planID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("refresh plan availability: %w", err)
	}
	return available, nil
}

// SoftDelete marks a plan deleted.
func (r *PlanRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE enrollment_plans SET is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := executor(ctx, r.db).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return expectAffected(res)
}
