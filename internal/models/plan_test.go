package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var planNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func activePlan() *EnrollmentPlan {
	reviewEnd := planNow.AddDate(0, 2, 0)
	admission := planNow.AddDate(0, 2, 1)
	schoolStart := planNow.AddDate(0, 4, 0)
	return &EnrollmentPlan{
		ID:                    "plan-1",
		Name:                  "PPDB 2025",
		KindergartenID:        "kg-1",
		AcademicYear:          "2025-2026",
		Status:                PlanStatusActive,
		CurrentPhase:          PhaseRegistration,
		TotalQuota:            20,
		AvailableQuota:        15,
		RegistrationStartDate: planNow.AddDate(0, -1, 0),
		RegistrationEndDate:   planNow.AddDate(0, 1, 0),
		ReviewEndDate:         &reviewEnd,
		AdmissionDate:         &admission,
		SchoolStartDate:       &schoolStart,
		IsActive:              true,
	}
}

func TestCanRegister(t *testing.T) {
	open := []EnrollmentQuota{*newQuota(5, 2, 1)}
	full := []EnrollmentQuota{*newQuota(2, 1, 1)}

	plan := activePlan()
	assert.True(t, plan.CanRegister(planNow, open))
	assert.False(t, plan.CanRegister(planNow, full))

	plan.AllowWaitlist = true
	assert.True(t, plan.CanRegister(planNow, full))

	plan.Status = PlanStatusSuspended
	assert.False(t, plan.CanRegister(planNow, open))

	plan = activePlan()
	plan.CurrentPhase = PhaseReview
	assert.False(t, plan.CanRegister(planNow, open))
}

func TestCanRegisterAfterRegistrationEnd(t *testing.T) {
	plan := activePlan()
	plan.AllowWaitlist = true
	plan.RegistrationEndDate = planNow.Add(-time.Minute)

	assert.False(t, plan.CanRegister(planNow, []EnrollmentQuota{*newQuota(5, 0, 0)}))
	assert.False(t, plan.AcceptsSubmissions(planNow))
}

func TestCanAdvanceToNextPhase(t *testing.T) {
	plan := activePlan()
	assert.False(t, plan.CanAdvanceToNextPhase(planNow))
	assert.True(t, plan.CanAdvanceToNextPhase(plan.RegistrationEndDate.Add(time.Second)))

	plan.CurrentPhase = PhasePreRegistration
	assert.True(t, plan.CanAdvanceToNextPhase(planNow))

	plan.CurrentPhase = PhaseReview
	plan.ReviewEndDate = nil
	assert.True(t, plan.CanAdvanceToNextPhase(planNow))

	plan.CurrentPhase = PhaseCompleted
	assert.False(t, plan.CanAdvanceToNextPhase(planNow.AddDate(5, 0, 0)))
}

func TestPhaseOrdering(t *testing.T) {
	next, ok := PhaseRegistration.Next()
	assert.True(t, ok)
	assert.Equal(t, PhaseReview, next)

	_, ok = PhaseCompleted.Next()
	assert.False(t, ok)
	assert.Less(t, PhaseReview.Index(), PhaseAdmission.Index())
	assert.False(t, PlanPhase("closing").Valid())
}

func TestInAdmissionWindow(t *testing.T) {
	plan := activePlan()
	assert.False(t, plan.InAdmissionWindow(planNow))
	assert.True(t, plan.InAdmissionWindow(plan.AdmissionDate.Add(time.Hour)))
	assert.False(t, plan.InAdmissionWindow(plan.SchoolStartDate.Add(time.Hour)))

	plan.AdmissionDate = nil
	plan.CurrentPhase = PhaseAdmission
	assert.True(t, plan.InAdmissionWindow(planNow))
}

func TestPlanDerivedHelpers(t *testing.T) {
	plan := activePlan()
	plan.Fees = PlanFees{
		"registration": decimal.RequireFromString("150000.50"),
		"uniform":      decimal.RequireFromString("349999.50"),
	}
	plan.Requirements = PlanRequirements{AgeRange: &AgeRange{Min: 36, Max: 72}}
	plan.Documents = PlanDocuments{{Name: "birth_certificate", Required: true}, {Name: "photo"}}
	plan.QuotaByAgeGroup = AgeGroupQuota{"4-5": 10, "3-4": 10}

	assert.True(t, decimal.NewFromInt(500000).Equal(plan.TotalFees()))
	assert.Equal(t, 25.0, plan.OccupancyRate())
	assert.True(t, plan.IsAgeEligible(48))
	assert.False(t, plan.IsAgeEligible(30))
	assert.Equal(t, []string{"birth_certificate"}, plan.RequiredDocuments())
	assert.Equal(t, 20, plan.QuotaByAgeGroup.Sum())

	summary := plan.QuotaByAgeGroupSummary(map[string]int{"3-4": 12, "4-5": 4})
	assert.Equal(t, []AgeGroupSummary{
		{AgeGroup: "3-4", Total: 10, Applied: 12, Available: 0},
		{AgeGroup: "4-5", Total: 10, Applied: 4, Available: 6},
	}, summary)
	assert.Len(t, plan.Timeline(), 5)
}
