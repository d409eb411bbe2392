package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

const applicationColumns = `id, application_number, student_id, parent_id, kindergarten_id, plan_id, quota_id, application_type,
status, priority, preferred_start_date, preferred_class, special_needs, medical_info, emergency_contacts, documents, notes,
review_notes, score, waitlist_position, reservation_token, reviewer_id, submitted_at, reviewed_at, approved_at, enrolled_at,
waitlisted_at, cancelled_at, rejection_reason, cancellation_reason, created_by, created_at, updated_at, deleted_at`

const priorityRankSQL = `CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END`

// ApplicationRepository persists enrollment applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// FindByID returns a live application.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	return r.get(ctx, id, false)
}

// LockByID returns a live application locked for the surrounding transaction.
func (r *ApplicationRepository) LockByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	return r.get(ctx, id, true)
}

func (r *ApplicationRepository) get(ctx context.Context, id string, forUpdate bool) (*models.EnrollmentApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM enrollment_applications WHERE id = $1 AND deleted_at IS NULL` + lockClause(ctx, forUpdate)
	var app models.EnrollmentApplication
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns applications matching filter with the total match count.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.EnrollmentApplication, int, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		conditions = append(conditions, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if filter.KindergartenID != "" {
		args = append(args, filter.KindergartenID)
		conditions = append(conditions, fmt.Sprintf("kindergarten_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.ParentID != "" {
		args = append(args, filter.ParentID)
		conditions = append(conditions, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"created_at":         "created_at",
		"submitted_at":       "submitted_at",
		"application_number": "application_number",
		"priority":           priorityRankSQL,
		"waitlist_position":  "waitlist_position",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := sortOrder(filter.SortOrder, "DESC")
	size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM enrollment_applications%s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d`,
		applicationColumns, clause, orderBy, order, size, offset)
	var apps []models.EnrollmentApplication
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total, "SELECT COUNT(*) FROM enrollment_applications"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// ExistsActive reports whether the student has a non-cancelled, non-rejected
// application on the plan other than excludeID.
func (r *ApplicationRepository) ExistsActive(ctx context.Context, studentID, planID, excludeID string) (bool, error) {
	query := `SELECT 1 FROM enrollment_applications
WHERE student_id = $1 AND plan_id = $2 AND status NOT IN ('cancelled', 'rejected') AND deleted_at IS NULL`
	args := []interface{}{studentID, planID}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	query += " LIMIT 1"
	var exists int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active application: %w", err)
	}
	return true, nil
}

// CountByStatus returns application counts per status for a plan.
func (r *ApplicationRepository) CountByStatus(ctx context.Context, planID string) (map[models.ApplicationStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM enrollment_applications
WHERE plan_id = $1 AND deleted_at IS NULL GROUP BY status`
	var rows []struct {
		Status models.ApplicationStatus `db:"status"`
		Total  int                      `db:"total"`
	}
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &rows, query, planID); err != nil {
		return nil, fmt.Errorf("count applications by status: %w", err)
	}
	counts := make(map[models.ApplicationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// CountByAgeGroup counts active applications per ledger age group.
func (r *ApplicationRepository) CountByAgeGroup(ctx context.Context, planID string) (map[string]int, error) {
	const query = `SELECT q.age_group, COUNT(*) AS total FROM enrollment_applications a
JOIN enrollment_quotas q ON q.id = a.quota_id
WHERE a.plan_id = $1 AND a.deleted_at IS NULL AND a.status NOT IN ('cancelled', 'rejected')
GROUP BY q.age_group`
	var rows []struct {
		AgeGroup string `db:"age_group"`
		Total    int    `db:"total"`
	}
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &rows, query, planID); err != nil {
		return nil, fmt.Errorf("count applications by age group: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.AgeGroup] = row.Total
	}
	return counts, nil
}

// ListWaitlisted returns the waitlisted applications of a plan ordered by
// priority then position.
func (r *ApplicationRepository) ListWaitlisted(ctx context.Context, planID string, forUpdate bool) ([]models.EnrollmentApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM enrollment_applications
WHERE plan_id = $1 AND status = 'waitlisted' AND deleted_at IS NULL
ORDER BY ` + priorityRankSQL + ` DESC, waitlist_position ASC, id ASC` + lockClause(ctx, forUpdate)
	var apps []models.EnrollmentApplication
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &apps, query, planID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return apps, nil
}

// MaxWaitlistPosition returns the tail position of a plan's waitlist, 0 when empty.
func (r *ApplicationRepository) MaxWaitlistPosition(ctx context.Context, planID string) (int, error) {
	const query = `SELECT COALESCE(MAX(waitlist_position), 0) FROM enrollment_applications
WHERE plan_id = $1 AND status = 'waitlisted' AND deleted_at IS NULL`
	var tail int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &tail, query, planID); err != nil {
		return 0, fmt.Errorf("waitlist tail: %w", err)
	}
	return tail, nil
}

// CompactWaitlist shifts every waitlisted entry behind removed up by one.
func (r *ApplicationRepository) CompactWaitlist(ctx context.Context, planID string, removed int) error {
	const query = `UPDATE enrollment_applications SET waitlist_position = waitlist_position - 1, updated_at = $3
WHERE plan_id = $1 AND status = 'waitlisted' AND waitlist_position > $2 AND deleted_at IS NULL`
	if _, err := executor(ctx, r.db).ExecContext(ctx, query, planID, removed, time.Now().UTC()); err != nil {
		return fmt.Errorf("compact waitlist: %w", err)
	}
	return nil
}

// NextSequence draws the next application number sequence value.
func (r *ApplicationRepository) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &seq, `SELECT nextval('enrollment_application_number_seq')`); err != nil {
		return 0, fmt.Errorf("next application sequence: %w", err)
	}
	return seq, nil
}

// Create inserts an application.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.EnrollmentApplication) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now

	const query = `INSERT INTO enrollment_applications (id, application_number, student_id, parent_id, kindergarten_id, plan_id,
quota_id, application_type, status, priority, preferred_start_date, preferred_class, special_needs, medical_info,
emergency_contacts, documents, notes, created_by, created_at, updated_at)
VALUES (:id, :application_number, :student_id, :parent_id, :kindergarten_id, :plan_id,
:quota_id, :application_type, :status, :priority, :preferred_start_date, :preferred_class, :special_needs, :medical_info,
:emergency_contacts, :documents, :notes, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// Update writes every mutable column of an application.
func (r *ApplicationRepository) Update(ctx context.Context, app *models.EnrollmentApplication) error {
	app.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollment_applications SET plan_id = :plan_id, quota_id = :quota_id, status = :status,
priority = :priority, preferred_start_date = :preferred_start_date, preferred_class = :preferred_class,
special_needs = :special_needs, medical_info = :medical_info, emergency_contacts = :emergency_contacts,
documents = :documents, notes = :notes, review_notes = :review_notes, score = :score,
waitlist_position = :waitlist_position, reservation_token = :reservation_token, reviewer_id = :reviewer_id,
submitted_at = :submitted_at, reviewed_at = :reviewed_at, approved_at = :approved_at, enrolled_at = :enrolled_at,
waitlisted_at = :waitlisted_at, cancelled_at = :cancelled_at, rejection_reason = :rejection_reason,
cancellation_reason = :cancellation_reason, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
	res, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, app)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return expectAffected(res)
}

// CountByPlan counts every live application referencing a plan.
func (r *ApplicationRepository) CountByPlan(ctx context.Context, planID string) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total,
		`SELECT COUNT(*) FROM enrollment_applications WHERE plan_id = $1 AND deleted_at IS NULL`, planID); err != nil {
		return 0, fmt.Errorf("count plan applications: %w", err)
	}
	return total, nil
}
