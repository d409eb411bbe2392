package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// growRow adds seats behind the services' back so the waitlist is left
// untouched until promotion is requested explicitly.
func growRow(t *testing.T, f *admissionFixture, planID string, by int) {
	t.Helper()
	require.NoError(t, f.store.WithinTx(f.ctx, func(ctx context.Context) error {
		rows, err := f.store.Quotas().ListByPlan(ctx, planID, true)
		if err != nil {
			return err
		}
		row := rows[0]
		if err := row.Resize(row.TotalQuota + by); err != nil {
			return err
		}
		if err := f.store.Quotas().UpdateCounters(ctx, &row); err != nil {
			return err
		}
		_, err = f.store.Plans().RefreshAvailability(ctx, planID)
		return err
	}))
}

func fullPlanWithQueue(t *testing.T, f *admissionFixture, priorities ...models.ApplicationPriority) (*models.EnrollmentPlan, []string) {
	t.Helper()
	plan := f.activePlan(1, true)
	f.submitted(plan.ID, "holder", models.PriorityMedium)
	ids := make([]string, 0, len(priorities))
	for i, p := range priorities {
		res := f.submitted(plan.ID, "queued-"+string(rune('a'+i)), p)
		require.True(t, res.Waitlisted)
		ids = append(ids, res.Application.ID)
	}
	return plan, ids
}

func TestWaitlistRankedOrdersByPriorityThenPosition(t *testing.T) {
	f := newAdmissionFixture(t)
	plan, ids := fullPlanWithQueue(t, f, models.PriorityLow, models.PriorityMedium, models.PriorityUrgent)

	entries, err := f.waitlist.Ranked(f.ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ApplicationID)
	assert.Equal(t, ids[1], entries[1].ApplicationID)
	assert.Equal(t, ids[0], entries[2].ApplicationID)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, 3, entries[0].WaitlistPosition)

	entry, err := f.waitlist.Position(f.ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Rank)
	assert.Equal(t, 1, entry.WaitlistPosition)
}

func TestWaitlistPositionRejectsNonWaitlisted(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(2, true)
	res := f.submitted(plan.ID, "student-1", models.PriorityMedium)

	_, err := f.waitlist.Position(f.ctx, res.Application.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.waitlist.Ranked(f.ctx, "missing-plan")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestWaitlistPromoteNextCompactsPositions(t *testing.T) {
	f := newAdmissionFixture(t)
	plan, ids := fullPlanWithQueue(t, f, models.PriorityMedium, models.PriorityMedium, models.PriorityMedium)
	growRow(t, f, plan.ID, 1)

	promoted, err := f.waitlist.PromoteNext(f.ctx, plan.ID, 1)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, ids[0], promoted[0].ID)
	assert.Equal(t, models.StatusApproved, promoted[0].Status)
	assert.True(t, promoted[0].HoldsReservation())

	assert.Equal(t, map[string]int{ids[1]: 1, ids[2]: 2}, f.positions(plan.ID))
	row := f.planRow(plan.ID)
	assert.Equal(t, 2, row.ReservedQuota)
	assert.Equal(t, 0, row.AvailableQuota)
}

func TestWaitlistPromoteNextStopsWhenSeatsRunOut(t *testing.T) {
	f := newAdmissionFixture(t)
	plan, ids := fullPlanWithQueue(t, f, models.PriorityMedium, models.PriorityMedium, models.PriorityMedium)
	growRow(t, f, plan.ID, 1)

	promoted, err := f.waitlist.PromoteNext(f.ctx, plan.ID, 3)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, map[string]int{ids[1]: 1, ids[2]: 2}, f.positions(plan.ID))
}

func TestWaitlistPromoteNextValidatesAndSkipsInactivePlans(t *testing.T) {
	f := newAdmissionFixture(t)
	plan, ids := fullPlanWithQueue(t, f, models.PriorityMedium)
	growRow(t, f, plan.ID, 1)

	_, err := f.waitlist.PromoteNext(f.ctx, plan.ID, 0)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.plans.Suspend(f.ctx, plan.ID, "admin-1")
	require.ErrorIs(t, err, appErrors.ErrPlanHasActiveApplications)

	require.NoError(t, f.store.WithinTx(f.ctx, func(ctx context.Context) error {
		p, err := f.store.Plans().LockByID(ctx, plan.ID)
		if err != nil {
			return err
		}
		p.Status = models.PlanStatusSuspended
		return f.store.Plans().Update(ctx, p)
	}))
	promoted, err := f.waitlist.PromoteNext(f.ctx, plan.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, promoted)
	assert.Equal(t, models.StatusWaitlisted, f.app(ids[0]).Status)

	promoted, err = f.waitlist.PromoteNext(f.ctx, "missing-plan", 1)
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

func TestSubmitPrefersPreferredClassRow(t *testing.T) {
	f := newAdmissionFixture(t)
	req := planRequest(2, true)
	req.QuotaByAgeGroup = models.AgeGroupQuota{"TK-A": 1, "TK-B": 1}
	plan, err := f.plans.Create(f.ctx, req, "admin-1")
	require.NoError(t, err)
	_, err = f.plans.Activate(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)

	app := f.draft(plan.ID, "student-1", models.PriorityMedium)
	class := "TK-B"
	require.NoError(t, f.store.WithinTx(f.ctx, func(ctx context.Context) error {
		stored, err := f.store.Applications().LockByID(ctx, app.ID)
		if err != nil {
			return err
		}
		stored.PreferredClass = &class
		return f.store.Applications().Update(ctx, stored)
	}))

	res, err := f.apps.Submit(f.ctx, app.ID, "parent-student-1")
	require.NoError(t, err)
	require.False(t, res.Waitlisted)

	seat, err := f.quotas.Get(f.ctx, *res.Application.QuotaID)
	require.NoError(t, err)
	assert.Equal(t, "TK-B", seat.AgeGroup)
	assert.Equal(t, 1, seat.ReservedQuota)
}
