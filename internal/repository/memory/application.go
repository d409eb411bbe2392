package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// ApplicationRepository is the in-memory application table.
type ApplicationRepository struct {
	store *Store
}

func onPlan(a models.EnrollmentApplication, planID string) bool {
	return a.PlanID != nil && *a.PlanID == planID
}

func position(a models.EnrollmentApplication) int {
	if a.WaitlistPosition == nil {
		return 0
	}
	return *a.WaitlistPosition
}

// FindByID returns a live application.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	var out *models.EnrollmentApplication
	err := r.store.read(ctx, func(st *state) error {
		a, ok := st.applications[id]
		if !ok || a.DeletedAt != nil {
			return sql.ErrNoRows
		}
		a = cloneApplication(a)
		out = &a
		return nil
	})
	return out, err
}

// LockByID behaves like FindByID.
func (r *ApplicationRepository) LockByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	return r.FindByID(ctx, id)
}

// List returns applications matching filter with the total match count.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.EnrollmentApplication, int, error) {
	statuses := map[models.ApplicationStatus]bool{}
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	var matched []models.EnrollmentApplication
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt != nil {
				continue
			}
			if filter.PlanID != "" && !onPlan(a, filter.PlanID) {
				continue
			}
			if filter.KindergartenID != "" && a.KindergartenID != filter.KindergartenID {
				continue
			}
			if filter.StudentID != "" && a.StudentID != filter.StudentID {
				continue
			}
			if filter.ParentID != "" && a.ParentID != filter.ParentID {
				continue
			}
			if len(statuses) > 0 && !statuses[a.Status] {
				continue
			}
			if filter.Priority != "" && a.Priority != filter.Priority {
				continue
			}
			matched = append(matched, cloneApplication(a))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	asc := strings.EqualFold(filter.SortOrder, "asc")
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch filter.SortBy {
		case "application_number":
			less, equal = a.ApplicationNumber < b.ApplicationNumber, a.ApplicationNumber == b.ApplicationNumber
		case "priority":
			less, equal = a.Priority.Rank() < b.Priority.Rank(), a.Priority == b.Priority
		case "waitlist_position":
			less, equal = position(a) < position(b), position(a) == position(b)
		case "submitted_at":
			at, bt := timeOrZero(a.SubmittedAt), timeOrZero(b.SubmittedAt)
			less, equal = at.Before(bt), at.Equal(bt)
		default:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			return a.ID < b.ID
		}
		return less == asc
	})

	start, end := page(len(matched), filter.Page, filter.PageSize)
	return matched[start:end], len(matched), nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ExistsActive reports whether the student has another active application on the plan.
func (r *ApplicationRepository) ExistsActive(ctx context.Context, studentID, planID, excludeID string) (bool, error) {
	exists := false
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt == nil && a.ID != excludeID && a.StudentID == studentID && onPlan(a, planID) && a.IsActive() {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

// CountByStatus returns application counts per status for a plan.
func (r *ApplicationRepository) CountByStatus(ctx context.Context, planID string) (map[models.ApplicationStatus]int, error) {
	counts := map[models.ApplicationStatus]int{}
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt == nil && onPlan(a, planID) {
				counts[a.Status]++
			}
		}
		return nil
	})
	return counts, err
}

// CountByAgeGroup counts active applications per ledger age group.
func (r *ApplicationRepository) CountByAgeGroup(ctx context.Context, planID string) (map[string]int, error) {
	counts := map[string]int{}
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt != nil || !onPlan(a, planID) || !a.IsActive() || a.QuotaID == nil {
				continue
			}
			if q, ok := st.quotas[*a.QuotaID]; ok {
				counts[q.AgeGroup]++
			}
		}
		return nil
	})
	return counts, err
}

// ListWaitlisted returns the waitlisted applications of a plan ordered by
// priority then position.
func (r *ApplicationRepository) ListWaitlisted(ctx context.Context, planID string, _ bool) ([]models.EnrollmentApplication, error) {
	var out []models.EnrollmentApplication
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt == nil && a.Status == models.StatusWaitlisted && onPlan(a, planID) {
				out = append(out, cloneApplication(a))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		if pi, pj := position(out[i]), position(out[j]); pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// MaxWaitlistPosition returns the tail position of a plan's waitlist.
func (r *ApplicationRepository) MaxWaitlistPosition(ctx context.Context, planID string) (int, error) {
	tail := 0
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt == nil && a.Status == models.StatusWaitlisted && onPlan(a, planID) && position(a) > tail {
				tail = position(a)
			}
		}
		return nil
	})
	return tail, err
}

// CompactWaitlist shifts every waitlisted entry behind removed up by one.
func (r *ApplicationRepository) CompactWaitlist(ctx context.Context, planID string, removed int) error {
	now := time.Now().UTC()
	return r.store.write(ctx, func(st *state) error {
		for id, a := range st.applications {
			if a.DeletedAt != nil || a.Status != models.StatusWaitlisted || !onPlan(a, planID) || position(a) <= removed {
				continue
			}
			next := position(a) - 1
			a.WaitlistPosition = &next
			a.UpdatedAt = now
			st.applications[id] = a
		}
		return nil
	})
}

// NextSequence draws the next application number sequence value.
func (r *ApplicationRepository) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.store.write(ctx, func(st *state) error {
		st.sequence++
		seq = st.sequence
		return nil
	})
	return seq, err
}

// Create inserts an application, enforcing a unique application number.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.EnrollmentApplication) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	return r.store.write(ctx, func(st *state) error {
		for _, existing := range st.applications {
			if existing.ApplicationNumber == app.ApplicationNumber {
				return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("application number %s already exists", app.ApplicationNumber))
			}
		}
		st.applications[app.ID] = cloneApplication(*app)
		return nil
	})
}

// Update writes every mutable field of an application.
func (r *ApplicationRepository) Update(ctx context.Context, app *models.EnrollmentApplication) error {
	app.UpdatedAt = time.Now().UTC()
	return r.store.write(ctx, func(st *state) error {
		existing, ok := st.applications[app.ID]
		if !ok || existing.DeletedAt != nil {
			return sql.ErrNoRows
		}
		updated := cloneApplication(*app)
		updated.ApplicationNumber = existing.ApplicationNumber
		updated.CreatedAt = existing.CreatedAt
		st.applications[app.ID] = updated
		return nil
	})
}

// CountByPlan counts every live application referencing a plan.
func (r *ApplicationRepository) CountByPlan(ctx context.Context, planID string) (int, error) {
	total := 0
	err := r.store.read(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.DeletedAt == nil && onPlan(a, planID) {
				total++
			}
		}
		return nil
	})
	return total, err
}

// AuditRepository is the in-memory audit trail.
type AuditRepository struct {
	store *Store
}

// Create appends an audit entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return r.store.write(ctx, func(st *state) error {
		st.audit = append(st.audit, *log)
		return nil
	})
}

// ListByResource returns the audit trail of one resource, newest first.
func (r *AuditRepository) ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	var out []models.AuditLog
	err := r.store.read(ctx, func(st *state) error {
		for _, log := range st.audit {
			if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
				out = append(out, log)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}
