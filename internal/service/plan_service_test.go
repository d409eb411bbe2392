package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

func TestPlanCreateValidatesAllocation(t *testing.T) {
	f := newAdmissionFixture(t)

	req := planRequest(3, true)
	req.QuotaByAgeGroup = models.AgeGroupQuota{"TK-A": 2, "TK-B": 3}
	_, err := f.plans.Create(f.ctx, req, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, 5, appErr.Details["allocated"])

	req = planRequest(3, true)
	req.RegistrationEndDate = req.RegistrationStartDate.Add(-time.Hour)
	_, err = f.plans.Create(f.ctx, req, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	req = planRequest(3, true)
	early := registrationOpen.Add(24 * time.Hour)
	req.AdmissionDate = &early
	_, err = f.plans.Create(f.ctx, req, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	req = planRequest(3, true)
	req.AcademicYear = "2025/26"
	_, err = f.plans.Create(f.ctx, req, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPlanCreateStartsAsDraft(t *testing.T) {
	f := newAdmissionFixture(t)
	plan, err := f.plans.Create(f.ctx, planRequest(4, false), "admin-1")
	require.NoError(t, err)

	assert.Equal(t, models.PlanStatusDraft, plan.Status)
	assert.Equal(t, models.PhasePreRegistration, plan.CurrentPhase)
	assert.False(t, plan.AllowWaitlist)
	assert.True(t, plan.IsPublic)
	assert.Equal(t, "admin-1", *plan.CreatedBy)

	rows, err := f.store.Quotas().ListByPlan(f.ctx, plan.ID, false)
	require.NoError(t, err)
	assert.Empty(t, rows)

	open, err := f.plans.CanRegister(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestPlanActivateCreatesLedgerRows(t *testing.T) {
	f := newAdmissionFixture(t)

	single := f.activePlan(6, true)
	assert.Equal(t, models.PlanStatusActive, single.Status)
	assert.Equal(t, models.PhaseRegistration, single.CurrentPhase)
	assert.Equal(t, 6, single.AvailableQuota)
	row := f.planRow(single.ID)
	assert.Equal(t, 6, row.TotalQuota)
	assert.Nil(t, row.ClassID)
	assert.Equal(t, models.QuotaTypeRegular, row.QuotaType)

	req := planRequest(6, true)
	req.Name = "Grouped intake"
	req.KindergartenID = "kg-2"
	req.QuotaByAgeGroup = models.AgeGroupQuota{"TK-B": 2, "TK-A": 3}
	grouped, err := f.plans.Create(f.ctx, req, "admin-1")
	require.NoError(t, err)
	grouped, err = f.plans.Activate(f.ctx, grouped.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 5, grouped.AvailableQuota)

	rows, err := f.store.Quotas().ListByPlan(f.ctx, grouped.ID, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byGroup := map[string]models.EnrollmentQuota{}
	for _, r := range rows {
		require.NotNil(t, r.ClassID)
		assert.Equal(t, r.AgeGroup, *r.ClassID)
		byGroup[r.AgeGroup] = r
	}
	assert.Equal(t, 3, byGroup["TK-A"].TotalQuota)
	assert.Equal(t, 2, byGroup["TK-B"].TotalQuota)

	_, err = f.plans.Activate(f.ctx, grouped.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPlanAdvancePhaseIsMonotonic(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(3, true)

	_, err := f.plans.AdvancePhase(f.ctx, plan.ID, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, registrationClose.Format(time.RFC3339), appErr.Details["window_end"])

	steps := []struct {
		at   time.Time
		want models.PlanPhase
	}{
		{registrationClose.Add(time.Minute), models.PhaseReview},
		{reviewClose.Add(time.Minute), models.PhaseAdmission},
		{schoolStart.Add(time.Minute), models.PhaseCompleted},
	}
	for _, step := range steps {
		f.setNow(step.at)
		advanced, err := f.plans.AdvancePhase(f.ctx, plan.ID, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, step.want, advanced.CurrentPhase)
	}

	_, err = f.plans.AdvancePhase(f.ctx, plan.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	stored, err := f.plans.Get(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, stored.CurrentPhase)
}

func TestPlanAdvancedPastRegistrationRefusesSubmissions(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(3, true)
	app := f.draft(plan.ID, "student-1", models.PriorityMedium)

	f.setNow(registrationClose.Add(time.Minute))
	_, err := f.plans.AdvancePhase(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)

	// even a reopened window does not bring the phase back
	f.setNow(registrationOpen.Add(time.Hour))
	_, err = f.apps.Submit(f.ctx, app.ID, "parent-student-1")
	assert.ErrorIs(t, err, appErrors.ErrPlanNotAcceptingApplications)
}

func TestPlanSuspendAndResume(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(3, true)
	res := f.submitted(plan.ID, "student-1", models.PriorityMedium)

	_, err := f.plans.Suspend(f.ctx, plan.ID, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPlanHasActiveApplications.Code, appErr.Code)
	assert.Equal(t, map[string]int{"submitted": 1}, appErr.Details["applications"])

	_, err = f.apps.Cancel(f.ctx, res.Application.ID, dto.CancelApplicationRequest{}, "parent-student-1")
	require.NoError(t, err)

	suspended, err := f.plans.Suspend(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusSuspended, suspended.Status)

	app := f.draft(plan.ID, "student-2", models.PriorityMedium)
	_, err = f.apps.Submit(f.ctx, app.ID, "parent-student-2")
	assert.ErrorIs(t, err, appErrors.ErrPlanNotAcceptingApplications)

	_, err = f.plans.Suspend(f.ctx, plan.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	resumed, err := f.plans.Resume(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusActive, resumed.Status)
	_, err = f.apps.Submit(f.ctx, app.ID, "parent-student-2")
	require.NoError(t, err)
}

func TestPlanCloseCancelsWaitlistAndRetiresRows(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	holder := f.approved(plan.ID, "student-1")
	waiting := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	require.True(t, waiting.Waitlisted)

	_, err := f.plans.Close(f.ctx, plan.ID, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPlanHasActiveApplications.Code, appErr.Code)
	assert.Equal(t, map[string]int{"approved": 1}, appErr.Details["applications"])

	// no promotion runs while suspended, so the queue survives the cancellation
	_, err = f.plans.Suspend(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.apps.Cancel(f.ctx, holder.ID, dto.CancelApplicationRequest{}, "parent-student-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusWaitlisted, f.app(waiting.Application.ID).Status)
	f.resetEvents()

	closed, err := f.plans.Close(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusClosed, closed.Status)
	assert.False(t, closed.IsActive)
	assert.Equal(t, 0, closed.AvailableQuota)

	cancelled := f.app(waiting.Application.ID)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.WaitlistPosition)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "plan closed", *cancelled.CancellationReason)
	assert.Equal(t, []models.DomainEventType{models.EventApplicationCancelled}, f.eventTypes())

	rows, err := f.store.Quotas().ListByPlan(f.ctx, plan.ID, false)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = f.plans.Close(f.ctx, plan.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPlanDeleteRequiresNoApplications(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(2, true)
	f.draft(plan.ID, "student-1", models.PriorityMedium)

	err := f.plans.Delete(f.ctx, plan.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrPlanHasActiveApplications)

	empty, err := f.plans.Create(f.ctx, planRequest(2, true), "admin-1")
	require.NoError(t, err)
	require.NoError(t, f.plans.Delete(f.ctx, empty.ID, "admin-1"))
	_, err = f.plans.Get(f.ctx, empty.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestPlanUpdateOnlyWhileDraft(t *testing.T) {
	f := newAdmissionFixture(t)
	plan, err := f.plans.Create(f.ctx, planRequest(2, true), "admin-1")
	require.NoError(t, err)

	total := 8
	updated, err := f.plans.Update(f.ctx, plan.ID, dto.UpdatePlanRequest{
		TotalQuota: &total,
		Fees:       models.PlanFees{"registration": decimal.NewFromInt(250000), "uniform": decimal.NewFromInt(150000)},
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 8, updated.TotalQuota)
	assert.True(t, decimal.NewFromInt(400000).Equal(updated.TotalFees()))

	over := models.AgeGroupQuota{"TK-A": 9}
	_, err = f.plans.Update(f.ctx, plan.ID, dto.UpdatePlanRequest{QuotaByAgeGroup: over}, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.plans.Activate(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.plans.Update(f.ctx, plan.ID, dto.UpdatePlanRequest{TotalQuota: &total}, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPlanAvailabilityAndStatistics(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(3, false)
	f.submitted(plan.ID, "student-1", models.PriorityMedium)
	f.approved(plan.ID, "student-2")
	f.draft(plan.ID, "student-3", models.PriorityMedium)

	view, err := f.plans.Availability(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalQuota)
	assert.Equal(t, 1, view.AvailableQuota)
	assert.True(t, view.CanRegister)
	require.Len(t, view.Quotas, 1)
	assert.Equal(t, 2, view.Quotas[0].Reserved)

	stats, err := f.plans.Statistics(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalApplied)
	assert.Equal(t, 50.0, stats.ApprovalRate)
	assert.Equal(t, 66.67, stats.OccupancyRate)
	assert.Equal(t, 1, stats.ApplicationStats[models.StatusDraft])
	assert.Len(t, stats.Timeline, 5)

	f.submitted(plan.ID, "student-4", models.PriorityMedium)
	open, err := f.plans.CanRegister(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestPlanListValidatesPhase(t *testing.T) {
	f := newAdmissionFixture(t)
	f.activePlan(2, true)

	_, _, err := f.plans.List(f.ctx, models.PlanFilter{Phase: "summer"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	plans, page, err := f.plans.List(f.ctx, models.PlanFilter{Phase: models.PhaseRegistration})
	require.NoError(t, err)
	assert.Len(t, plans, 1)
	assert.Equal(t, 1, page.TotalCount)
}
