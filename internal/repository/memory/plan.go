package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

// PlanRepository is the in-memory plan table.
type PlanRepository struct {
	store *Store
}

// FindByID returns a live plan.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentPlan, error) {
	var out *models.EnrollmentPlan
	err := r.store.read(ctx, func(st *state) error {
		p, ok := st.plans[id]
		if !ok || p.DeletedAt != nil {
			return sql.ErrNoRows
		}
		p = clonePlan(p)
		out = &p
		return nil
	})
	return out, err
}

// LockByID behaves like FindByID.
func (r *PlanRepository) LockByID(ctx context.Context, id string) (*models.EnrollmentPlan, error) {
	return r.FindByID(ctx, id)
}

// List returns plans matching filter with the total match count.
func (r *PlanRepository) List(ctx context.Context, filter models.PlanFilter) ([]models.EnrollmentPlan, int, error) {
	var matched []models.EnrollmentPlan
	err := r.store.read(ctx, func(st *state) error {
		for _, p := range st.plans {
			if p.DeletedAt != nil {
				continue
			}
			if filter.KindergartenID != "" && p.KindergartenID != filter.KindergartenID {
				continue
			}
			if filter.AcademicYear != "" && p.AcademicYear != filter.AcademicYear {
				continue
			}
			if filter.Status != "" && p.Status != filter.Status {
				continue
			}
			if filter.Phase != "" && p.CurrentPhase != filter.Phase {
				continue
			}
			if filter.IsPublic != nil && p.IsPublic != *filter.IsPublic {
				continue
			}
			matched = append(matched, clonePlan(p))
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
		case "name":
			less, equal = a.Name < b.Name, a.Name == b.Name
		case "academic_year":
			less, equal = a.AcademicYear < b.AcademicYear, a.AcademicYear == b.AcademicYear
		case "registration_start_date":
			less, equal = a.RegistrationStartDate.Before(b.RegistrationStartDate), a.RegistrationStartDate.Equal(b.RegistrationStartDate)
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

// ListActive returns every live plan in active status.
func (r *PlanRepository) ListActive(ctx context.Context) ([]models.EnrollmentPlan, error) {
	var out []models.EnrollmentPlan
	err := r.store.read(ctx, func(st *state) error {
		for _, p := range st.plans {
			if p.DeletedAt == nil && p.Status == models.PlanStatusActive {
				out = append(out, clonePlan(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
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
	return r.store.write(ctx, func(st *state) error {
		st.plans[plan.ID] = clonePlan(*plan)
		return nil
	})
}

// Update writes every mutable column of a plan.
func (r *PlanRepository) Update(ctx context.Context, plan *models.EnrollmentPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	return r.store.write(ctx, func(st *state) error {
		existing, ok := st.plans[plan.ID]
		if !ok || existing.DeletedAt != nil {
			return sql.ErrNoRows
		}
		updated := clonePlan(*plan)
		updated.AvailableQuota = existing.AvailableQuota
		updated.CreatedAt = existing.CreatedAt
		st.plans[plan.ID] = updated
		return nil
	})
}

// RefreshAvailability recomputes the available mirror from live active rows.
func (r *PlanRepository) RefreshAvailability(ctx context.Context, planID string) (int, error) {
	available := 0
	err := r.store.write(ctx, func(st *state) error {
		p, ok := st.plans[planID]
		if !ok {
			return sql.ErrNoRows
		}
		for _, q := range st.quotas {
			if q.DeletedAt == nil && q.IsActive && q.PlanID != nil && *q.PlanID == planID {
				available += q.AvailableQuota
			}
		}
		p.AvailableQuota = available
		p.UpdatedAt = time.Now().UTC()
		st.plans[planID] = p
		return nil
	})
	return available, err
}

// SoftDelete marks a plan deleted.
func (r *PlanRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.store.write(ctx, func(st *state) error {
		p, ok := st.plans[id]
		if !ok || p.DeletedAt != nil {
			return sql.ErrNoRows
		}
		p.IsActive = false
		p.DeletedAt = &at
		p.UpdatedAt = at
		st.plans[id] = p
		return nil
	})
}
