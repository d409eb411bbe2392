package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// QuotaRepository is the in-memory ledger.
type QuotaRepository struct {
	store *Store
}

// FindByID returns a live ledger row.
func (r *QuotaRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentQuota, error) {
	var out *models.EnrollmentQuota
	err := r.store.read(ctx, func(st *state) error {
		q, ok := st.quotas[id]
		if !ok || q.DeletedAt != nil {
			return sql.ErrNoRows
		}
		out = &q
		return nil
	})
	return out, err
}

// LockByID behaves like FindByID; the transaction mutex already serializes writers.
func (r *QuotaRepository) LockByID(ctx context.Context, id string) (*models.EnrollmentQuota, error) {
	return r.FindByID(ctx, id)
}

// FindByKey returns the live row holding key.
func (r *QuotaRepository) FindByKey(ctx context.Context, key models.QuotaKey) (*models.EnrollmentQuota, error) {
	var out *models.EnrollmentQuota
	err := r.store.read(ctx, func(st *state) error {
		for _, q := range st.quotas {
			if q.DeletedAt == nil && q.Key() == key {
				q := q
				out = &q
				return nil
			}
		}
		return sql.ErrNoRows
	})
	return out, err
}

// LockByKey behaves like FindByKey.
func (r *QuotaRepository) LockByKey(ctx context.Context, key models.QuotaKey) (*models.EnrollmentQuota, error) {
	return r.FindByKey(ctx, key)
}

// ListByPlan returns the live rows of a plan ordered by priority.
func (r *QuotaRepository) ListByPlan(ctx context.Context, planID string, _ bool) ([]models.EnrollmentQuota, error) {
	var out []models.EnrollmentQuota
	err := r.store.read(ctx, func(st *state) error {
		for _, q := range st.quotas {
			if q.DeletedAt == nil && q.PlanID != nil && *q.PlanID == planID {
				out = append(out, q)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// List returns rows matching filter with the total match count.
func (r *QuotaRepository) List(ctx context.Context, filter models.QuotaFilter) ([]models.EnrollmentQuota, int, error) {
	var matched []models.EnrollmentQuota
	err := r.store.read(ctx, func(st *state) error {
		for _, q := range st.quotas {
			if q.DeletedAt != nil {
				continue
			}
			if filter.KindergartenID != "" && q.KindergartenID != filter.KindergartenID {
				continue
			}
			if filter.PlanID != "" && (q.PlanID == nil || *q.PlanID != filter.PlanID) {
				continue
			}
			if filter.AcademicYear != "" && q.AcademicYear != filter.AcademicYear {
				continue
			}
			if filter.Semester != "" && q.Semester != filter.Semester {
				continue
			}
			if filter.QuotaType != "" && q.QuotaType != filter.QuotaType {
				continue
			}
			if filter.IsActive != nil && q.IsActive != *filter.IsActive {
				continue
			}
			if filter.HasAvailable != nil && (q.AvailableQuota > 0) != *filter.HasAvailable {
				continue
			}
			matched = append(matched, q)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	asc := filter.SortOrder == "asc" || filter.SortOrder == "ASC"
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch filter.SortBy {
		case "academic_year":
			less, equal = a.AcademicYear < b.AcademicYear, a.AcademicYear == b.AcademicYear
		case "available_quota":
			less, equal = a.AvailableQuota < b.AvailableQuota, a.AvailableQuota == b.AvailableQuota
		case "created_at":
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		default:
			less, equal = a.Priority < b.Priority, a.Priority == b.Priority
		}
		if equal {
			return a.ID < b.ID
		}
		return less == asc
	})

	start, end := page(len(matched), filter.Page, filter.PageSize)
	return matched[start:end], len(matched), nil
}

// Create inserts a ledger row, enforcing key uniqueness among live rows.
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

	return r.store.write(ctx, func(st *state) error {
		key := quota.Key()
		for _, existing := range st.quotas {
			if existing.DeletedAt == nil && existing.Key() == key {
				return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("quota %s already exists", key))
			}
		}
		if err := quota.CheckInvariant(); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota counters")
		}
		st.quotas[quota.ID] = *quota
		return nil
	})
}

// UpdateCounters writes the seat counters of a row.
func (r *QuotaRepository) UpdateCounters(ctx context.Context, quota *models.EnrollmentQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	return r.store.write(ctx, func(st *state) error {
		existing, ok := st.quotas[quota.ID]
		if !ok || existing.DeletedAt != nil {
			return sql.ErrNoRows
		}
		if err := quota.CheckInvariant(); err != nil {
			return fmt.Errorf("update quota counters: %w", err)
		}
		existing.TotalQuota = quota.TotalQuota
		existing.UsedQuota = quota.UsedQuota
		existing.ReservedQuota = quota.ReservedQuota
		existing.AvailableQuota = quota.AvailableQuota
		existing.UpdatedAt = quota.UpdatedAt
		st.quotas[quota.ID] = existing
		return nil
	})
}

// Update writes the descriptive attributes of a row.
func (r *QuotaRepository) Update(ctx context.Context, quota *models.EnrollmentQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	return r.store.write(ctx, func(st *state) error {
		existing, ok := st.quotas[quota.ID]
		if !ok || existing.DeletedAt != nil {
			return sql.ErrNoRows
		}
		existing.AgeGroup = quota.AgeGroup
		existing.Priority = quota.Priority
		existing.IsActive = quota.IsActive
		existing.StartDate = quota.StartDate
		existing.EndDate = quota.EndDate
		existing.Notes = quota.Notes
		existing.UpdatedAt = quota.UpdatedAt
		st.quotas[quota.ID] = existing
		return nil
	})
}

// SoftDelete marks one row deleted and inactive.
func (r *QuotaRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.store.write(ctx, func(st *state) error {
		q, ok := st.quotas[id]
		if !ok || q.DeletedAt != nil {
			return sql.ErrNoRows
		}
		q.IsActive = false
		q.DeletedAt = &at
		q.UpdatedAt = at
		st.quotas[id] = q
		return nil
	})
}

// SoftDeleteByPlan retires every live row of a plan.
func (r *QuotaRepository) SoftDeleteByPlan(ctx context.Context, planID string, at time.Time) error {
	return r.store.write(ctx, func(st *state) error {
		for id, q := range st.quotas {
			if q.DeletedAt == nil && q.PlanID != nil && *q.PlanID == planID {
				q.IsActive = false
				q.DeletedAt = &at
				q.UpdatedAt = at
				st.quotas[id] = q
			}
		}
		return nil
	})
}
