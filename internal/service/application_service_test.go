package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

var admissionDay = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)

func TestApplicationCreateAssignsNumberAndDefaults(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)

	first := f.draft(plan.ID, "student-1", "")
	second := f.draft(plan.ID, "student-2", models.PriorityHigh)

	assert.Equal(t, models.StatusDraft, first.Status)
	assert.Equal(t, models.PriorityMedium, first.Priority)
	assert.Equal(t, models.ApplicationTypeNewEnrollment, first.ApplicationType)
	assert.Equal(t, "APP202500000001", first.ApplicationNumber)
	assert.Equal(t, "APP202500000002", second.ApplicationNumber)
}

func TestApplicationCreateRejectsDuplicateForPlan(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	f.draft(plan.ID, "student-1", models.PriorityMedium)

	start := preferredStart
	_, err := f.apps.Create(f.ctx, dto.CreateApplicationRequest{
		StudentID:          "student-1",
		ParentID:           "parent-student-1",
		KindergartenID:     "kg-1",
		PlanID:             &plan.ID,
		PreferredStartDate: &start,
	}, "parent-student-1")
	assert.ErrorIs(t, err, appErrors.ErrDuplicateApplication)

	_, err = f.apps.Create(f.ctx, dto.CreateApplicationRequest{
		StudentID:      "student-9",
		ParentID:       "parent-9",
		KindergartenID: "kg-other",
		PlanID:         &plan.ID,
	}, "parent-9")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

// Scenario A and the happy path: a seat is reserved at submission and
// consumed at enrollment.
func TestApplicationHappyPathReservesThenConsumes(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(10, true)

	res := f.submitted(plan.ID, "student-1", models.PriorityMedium)
	require.False(t, res.Waitlisted)
	app := res.Application
	assert.Equal(t, models.StatusSubmitted, app.Status)
	require.NotNil(t, app.QuotaID)
	require.NotNil(t, app.ReservationToken)
	require.NotNil(t, app.SubmittedAt)

	row := f.planRow(plan.ID)
	assert.Equal(t, 1, row.ReservedQuota)
	assert.Equal(t, 9, row.AvailableQuota)

	reviewed, err := f.apps.StartReview(f.ctx, app.ID, dto.StartReviewRequest{}, "reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, reviewed.Status)
	assert.Equal(t, "reviewer-7", *reviewed.ReviewerID)

	approved, err := f.apps.Approve(f.ctx, app.ID, dto.ApproveApplicationRequest{}, "reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	f.setNow(admissionDay)
	enrolled, err := f.apps.Enroll(f.ctx, app.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnrolled, enrolled.Status)
	assert.Nil(t, enrolled.ReservationToken)
	assert.Equal(t, row.ID, *enrolled.QuotaID)

	row = f.planRow(plan.ID)
	assert.Equal(t, 0, row.ReservedQuota)
	assert.Equal(t, 1, row.UsedQuota)
	assert.Equal(t, 9, row.AvailableQuota)

	stored, err := f.store.Plans().FindByID(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, stored.AvailableQuota)

	assert.Equal(t, []models.DomainEventType{
		models.EventApplicationSubmitted,
		models.EventApplicationUnderReview,
		models.EventApplicationApproved,
		models.EventApplicationEnrolled,
	}, f.eventTypes())
	assert.Equal(t, uint64(4), f.metrics.Snapshot().Transitions)
}

// Scenario B: no free seat sends the submission to the waitlist.
func TestApplicationSubmitWaitlistsWhenFull(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	f.submitted(plan.ID, "student-1", models.PriorityMedium)
	f.resetEvents()

	res := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	require.True(t, res.Waitlisted)
	app := res.Application
	assert.Equal(t, models.StatusWaitlisted, app.Status)
	require.NotNil(t, app.WaitlistPosition)
	assert.Equal(t, 1, *app.WaitlistPosition)
	assert.Nil(t, app.ReservationToken)
	assert.Nil(t, app.QuotaID)
	assert.NotNil(t, app.WaitlistedAt)

	third := f.submitted(plan.ID, "student-3", models.PriorityMedium)
	require.True(t, third.Waitlisted)
	assert.Equal(t, 2, *third.Application.WaitlistPosition)

	row := f.planRow(plan.ID)
	assert.Equal(t, 1, row.ReservedQuota)
	assert.Equal(t, []models.DomainEventType{models.EventApplicationWaitlisted, models.EventApplicationWaitlisted}, f.eventTypes())
}

func TestApplicationSubmitWithoutWaitlistIsRefused(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, false)
	f.submitted(plan.ID, "student-1", models.PriorityMedium)

	app := f.draft(plan.ID, "student-2", models.PriorityMedium)
	_, err := f.apps.Submit(f.ctx, app.ID, "parent-student-2")
	assert.ErrorIs(t, err, appErrors.ErrPlanNotAcceptingApplications)
	assert.Equal(t, models.StatusDraft, f.app(app.ID).Status)
}

// Scenario C: a withdrawal frees a seat that goes to the head of the waitlist.
func TestApplicationWithdrawalPromotesWaitlistHead(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	enrolledApp := f.approved(plan.ID, "student-1")
	waiting := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	require.True(t, waiting.Waitlisted)

	f.setNow(admissionDay)
	_, err := f.apps.Enroll(f.ctx, enrolledApp.ID, "admin-1")
	require.NoError(t, err)
	f.resetEvents()

	withdrawn, err := f.apps.Withdraw(f.ctx, enrolledApp.ID, dto.CancelApplicationRequest{Reason: "family relocated"}, "parent-student-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, withdrawn.Status)
	assert.Equal(t, "family relocated", *withdrawn.CancellationReason)

	promoted := f.app(waiting.Application.ID)
	assert.Equal(t, models.StatusApproved, promoted.Status)
	assert.Nil(t, promoted.WaitlistPosition)
	require.NotNil(t, promoted.ReservationToken)
	require.NotNil(t, promoted.QuotaID)
	assert.True(t, promoted.HoldsReservation())

	row := f.planRow(plan.ID)
	assert.Equal(t, 0, row.UsedQuota)
	assert.Equal(t, 1, row.ReservedQuota)
	assert.Equal(t, 0, row.AvailableQuota)

	assert.Equal(t, []models.DomainEventType{
		models.EventApplicationCancelled,
		models.EventSlotPromoted,
		models.EventApplicationApproved,
	}, f.eventTypes())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Promotions)
}

// Scenario E: an elapsed registration window refuses new submissions.
func TestApplicationSubmitAfterRegistrationWindow(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	app := f.draft(plan.ID, "student-1", models.PriorityMedium)

	f.setNow(registrationClose.Add(time.Hour))
	open, err := f.plans.CanRegister(f.ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = f.apps.Submit(f.ctx, app.ID, "parent-student-1")
	assert.ErrorIs(t, err, appErrors.ErrPlanNotAcceptingApplications)
	assert.Equal(t, 0, f.planRow(plan.ID).ReservedQuota)
}

func TestApplicationResubmitDoesNotReserveTwice(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	res := f.submitted(plan.ID, "student-1", models.PriorityMedium)

	again, err := f.apps.Submit(f.ctx, res.Application.ID, "parent-student-1")
	require.NoError(t, err)
	assert.False(t, again.Waitlisted)
	assert.Equal(t, *res.Application.ReservationToken, *again.Application.ReservationToken)
	assert.Equal(t, 1, f.planRow(plan.ID).ReservedQuota)
}

func TestApplicationCancelReleasesHeldSeat(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(3, true)
	res := f.submitted(plan.ID, "student-1", models.PriorityMedium)
	before := f.planRow(plan.ID).AvailableQuota

	cancelled, err := f.apps.Cancel(f.ctx, res.Application.ID, dto.CancelApplicationRequest{}, "parent-student-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.QuotaID)
	assert.Nil(t, cancelled.ReservationToken)
	assert.NotNil(t, cancelled.CancelledAt)

	row := f.planRow(plan.ID)
	assert.Equal(t, 0, row.ReservedQuota)
	assert.Equal(t, before+1, row.AvailableQuota)
}

func TestApplicationRejectFreesSeatForWaitlist(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	first := f.submitted(plan.ID, "student-1", models.PriorityMedium)
	waiting := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	require.True(t, waiting.Waitlisted)

	_, err := f.apps.StartReview(f.ctx, first.Application.ID, dto.StartReviewRequest{ReviewerID: "reviewer-1"}, "reviewer-1")
	require.NoError(t, err)

	_, err = f.apps.Reject(f.ctx, first.Application.ID, dto.RejectApplicationRequest{}, "reviewer-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	rejected, err := f.apps.Reject(f.ctx, first.Application.ID, dto.RejectApplicationRequest{Reason: "age requirement"}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "age requirement", *rejected.RejectionReason)
	assert.NotNil(t, rejected.ReviewedAt)

	assert.Equal(t, models.StatusApproved, f.app(waiting.Application.ID).Status)
	assert.Equal(t, 1, f.planRow(plan.ID).ReservedQuota)
}

func TestApplicationWaitlistFromReviewGivesSeatToQueue(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	first := f.submitted(plan.ID, "student-1", models.PriorityMedium)
	waiting := f.submitted(plan.ID, "student-2", models.PriorityMedium)

	_, err := f.apps.StartReview(f.ctx, first.Application.ID, dto.StartReviewRequest{ReviewerID: "reviewer-1"}, "reviewer-1")
	require.NoError(t, err)

	moved, err := f.apps.Waitlist(f.ctx, first.Application.ID, dto.WaitlistApplicationRequest{}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, moved.Status)
	assert.Nil(t, moved.ReservationToken)

	promoted := f.app(waiting.Application.ID)
	assert.Equal(t, models.StatusApproved, promoted.Status)

	stored := f.app(first.Application.ID)
	require.NotNil(t, stored.WaitlistPosition)
	assert.Equal(t, 1, *stored.WaitlistPosition)
	assert.Equal(t, map[string]int{first.Application.ID: 1}, f.positions(plan.ID))
}

func TestApplicationInvalidTransitionListsAllowed(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	app := f.draft(plan.ID, "student-1", models.PriorityMedium)

	_, err := f.apps.Approve(f.ctx, app.ID, dto.ApproveApplicationRequest{}, "reviewer-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.ElementsMatch(t, []models.ApplicationStatus{models.StatusCancelled, models.StatusSubmitted, models.StatusWaitlisted}, appErr.Details["allowed"])
	assert.Equal(t, models.StatusDraft, f.app(app.ID).Status)
}

func TestApplicationSubmitRequiresFields(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	app, err := f.apps.Create(f.ctx, dto.CreateApplicationRequest{
		StudentID:      "student-1",
		ParentID:       "parent-1",
		KindergartenID: "kg-1",
		PlanID:         &plan.ID,
	}, "parent-1")
	require.NoError(t, err)

	_, err = f.apps.Submit(f.ctx, app.ID, "parent-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, []string{"emergency_contacts", "preferred_start_date"}, appErr.Details["missing_fields"])
	assert.Equal(t, 0, f.planRow(plan.ID).ReservedQuota)
}

func TestApplicationUpdateOnlyWhileDraft(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	app := f.draft(plan.ID, "student-1", models.PriorityMedium)

	class := "TK-B"
	updated, err := f.apps.Update(f.ctx, app.ID, dto.UpdateApplicationRequest{
		PreferredClass: &class,
		AddDocuments: models.ApplicationDocuments{
			{Type: "birth_certificate", URL: "https://files.example.org/bc.pdf"},
		},
	}, "parent-student-1")
	require.NoError(t, err)
	assert.Equal(t, "TK-B", *updated.PreferredClass)
	require.Len(t, updated.Documents, 1)
	assert.False(t, updated.Documents[0].UploadedAt.IsZero())

	updated, err = f.apps.Update(f.ctx, app.ID, dto.UpdateApplicationRequest{RemoveDocumentType: []string{"birth_certificate"}}, "parent-student-1")
	require.NoError(t, err)
	assert.Empty(t, updated.Documents)

	_, err = f.apps.Submit(f.ctx, app.ID, "parent-student-1")
	require.NoError(t, err)
	_, err = f.apps.Update(f.ctx, app.ID, dto.UpdateApplicationRequest{PreferredClass: &class}, "parent-student-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestApplicationApproveValidatesScore(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	res := f.submitted(plan.ID, "student-1", models.PriorityHigh)
	_, err := f.apps.StartReview(f.ctx, res.Application.ID, dto.StartReviewRequest{ReviewerID: "reviewer-1"}, "reviewer-1")
	require.NoError(t, err)

	tooHigh := decimal.NewFromInt(101)
	_, err = f.apps.Approve(f.ctx, res.Application.ID, dto.ApproveApplicationRequest{Score: &tooHigh}, "reviewer-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	approved, err := f.apps.Approve(f.ctx, res.Application.ID, dto.ApproveApplicationRequest{}, "reviewer-1")
	require.NoError(t, err)
	require.NotNil(t, approved.Score)
	deadline := registrationClose
	expected := approved.CalculateScore(&deadline).Total
	assert.True(t, expected.Equal(*approved.Score), "score %s, expected %s", approved.Score, expected)
}

func TestApplicationEnrollOutsideAdmissionWindow(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	app := f.approved(plan.ID, "student-1")

	_, err := f.apps.Enroll(f.ctx, app.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, models.StatusApproved, f.app(app.ID).Status)
	assert.Equal(t, 1, f.planRow(plan.ID).ReservedQuota)
}

func TestApplicationEnrollFromWaitlistNeedsFreeSeat(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(2, true)
	f.submitted(plan.ID, "student-1", models.PriorityMedium)
	holder := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	waiting := f.submitted(plan.ID, "student-3", models.PriorityMedium)
	require.True(t, waiting.Waitlisted)

	_, err := f.apps.Cancel(f.ctx, holder.Application.ID, dto.CancelApplicationRequest{}, "parent-student-2")
	require.NoError(t, err)
	// the freed seat went to the queue straight away
	require.Equal(t, models.StatusApproved, f.app(waiting.Application.ID).Status)

	late := f.submitted(plan.ID, "student-4", models.PriorityMedium)
	require.True(t, late.Waitlisted)

	// with no free seat a direct enrollment from the waitlist is refused
	f.setNow(admissionDay)
	_, err = f.apps.Enroll(f.ctx, late.Application.ID, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrInsufficientQuota)
	assert.Equal(t, models.StatusWaitlisted, f.app(late.Application.ID).Status)

	_, err = f.quotas.AdjustQuota(f.ctx, f.planRow(plan.ID).ID, dto.AdjustQuotaRequest{NewTotal: 3}, "admin-1")
	require.NoError(t, err)
	// the new seat was promoted to the waiting applicant
	assert.Equal(t, models.StatusApproved, f.app(late.Application.ID).Status)
}

func TestApplicationDirectEnrollFromWaitlist(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	holder := f.approved(plan.ID, "student-1")
	waiting := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	require.True(t, waiting.Waitlisted)

	// seats freed while the plan is suspended stay free
	_, err := f.plans.Suspend(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.apps.Cancel(f.ctx, holder.ID, dto.CancelApplicationRequest{}, "parent-student-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, f.app(waiting.Application.ID).Status)
	assert.Equal(t, 1, f.planRow(plan.ID).AvailableQuota)

	_, err = f.plans.Resume(f.ctx, plan.ID, "admin-1")
	require.NoError(t, err)
	f.setNow(admissionDay)
	enrolled, err := f.apps.Enroll(f.ctx, waiting.Application.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnrolled, enrolled.Status)
	assert.Nil(t, enrolled.WaitlistPosition)
	assert.Nil(t, enrolled.ReservationToken)

	row := f.planRow(plan.ID)
	assert.Equal(t, 1, row.UsedQuota)
	assert.Equal(t, 0, row.ReservedQuota)
	assert.Empty(t, f.positions(plan.ID))
}

func TestApplicationSkipsEntryWithPastStartDate(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	holder := f.submitted(plan.ID, "student-1", models.PriorityMedium)
	stale := f.submitted(plan.ID, "student-2", models.PriorityMedium)
	fresh := f.submitted(plan.ID, "student-3", models.PriorityMedium)

	past := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.WithinTx(f.ctx, func(ctx context.Context) error {
		app, err := f.store.Applications().LockByID(ctx, stale.Application.ID)
		if err != nil {
			return err
		}
		app.PreferredStartDate = &past
		return f.store.Applications().Update(ctx, app)
	}))

	_, err := f.apps.Cancel(f.ctx, holder.Application.ID, dto.CancelApplicationRequest{}, "parent-student-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaitlisted, f.app(stale.Application.ID).Status)
	assert.Equal(t, models.StatusApproved, f.app(fresh.Application.ID).Status)
	assert.Equal(t, map[string]int{stale.Application.ID: 1}, f.positions(plan.ID))
}

func TestApplicationConcurrentSubmitsForLastSeat(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(1, true)
	a := f.draft(plan.ID, "student-1", models.PriorityMedium)
	b := f.draft(plan.ID, "student-2", models.PriorityMedium)

	results := make([]*SubmitResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = f.apps.Submit(f.ctx, id, "parent")
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	waitlisted := 0
	for _, r := range results {
		if r.Waitlisted {
			waitlisted++
		}
	}
	assert.Equal(t, 1, waitlisted)
	row := f.planRow(plan.ID)
	assert.Equal(t, 1, row.ReservedQuota)
	assert.Equal(t, 0, row.AvailableQuota)
}

type failingApplicationUpdates struct {
	applicationRepository
}

func (failingApplicationUpdates) Update(context.Context, *models.EnrollmentApplication) error {
	return errors.New("disk full")
}

func TestApplicationSubmitRollsBackLedgerOnWriteFailure(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(2, true)
	app := f.draft(plan.ID, "student-1", models.PriorityMedium)

	broken := NewApplicationService(failingApplicationUpdates{f.store.Applications()}, f.store.Plans(), f.store.Quotas(), f.store.Audit(), f.ledger, f.waitlist, f.uow, nil, nil, ApplicationServiceConfig{})
	broken.now = f.now
	f.resetEvents()

	_, err := broken.Submit(f.ctx, app.ID, "parent-student-1")
	assert.ErrorIs(t, err, appErrors.ErrInternal)

	row := f.planRow(plan.ID)
	assert.Equal(t, 0, row.ReservedQuota)
	assert.Equal(t, 2, row.AvailableQuota)
	assert.Equal(t, models.StatusDraft, f.app(app.ID).Status)
	assert.Empty(t, f.eventTypes())
}

func TestApplicationSubmitHonoursCancelledContext(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(2, true)
	app := f.draft(plan.ID, "student-1", models.PriorityMedium)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.apps.Submit(ctx, app.ID, "parent-student-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.planRow(plan.ID).ReservedQuota)
}

func TestApplicationCompletenessAndProcessingTime(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	res := f.submitted(plan.ID, "student-1", models.PriorityMedium)

	pt, err := f.apps.ProcessingTime(f.ctx, res.Application.ID)
	require.NoError(t, err)
	assert.Nil(t, pt)

	_, err = f.apps.StartReview(f.ctx, res.Application.ID, dto.StartReviewRequest{ReviewerID: "reviewer-1"}, "reviewer-1")
	require.NoError(t, err)
	f.setNow(f.now().Add(26 * time.Hour))
	_, err = f.apps.Approve(f.ctx, res.Application.ID, dto.ApproveApplicationRequest{}, "reviewer-1")
	require.NoError(t, err)

	pt, err = f.apps.ProcessingTime(f.ctx, res.Application.ID)
	require.NoError(t, err)
	require.NotNil(t, pt)
	assert.Equal(t, 1, pt.Days)
	assert.Equal(t, 2, pt.Hours)

	c, err := f.apps.Completeness(f.ctx, res.Application.ID)
	require.NoError(t, err)
	assert.Greater(t, c.Percentage, 0)
}

func TestApplicationListValidatesFilter(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	f.submitted(plan.ID, "student-1", models.PriorityMedium)
	f.draft(plan.ID, "student-2", models.PriorityMedium)

	_, _, err := f.apps.List(f.ctx, models.ApplicationFilter{Statuses: []models.ApplicationStatus{"pending"}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	apps, page, err := f.apps.List(f.ctx, models.ApplicationFilter{PlanID: plan.ID, Statuses: []models.ApplicationStatus{models.StatusSubmitted}})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, 1, page.TotalCount)
}

func (f *admissionFixture) transferDraft(planID, studentID string) *models.EnrollmentApplication {
	f.t.Helper()
	start := preferredStart
	app, err := f.apps.Create(f.ctx, dto.CreateApplicationRequest{
		StudentID:          studentID,
		ParentID:           "parent-" + studentID,
		KindergartenID:     "kg-1",
		PlanID:             &planID,
		ApplicationType:    models.ApplicationTypeTransfer,
		PreferredStartDate: &start,
		EmergencyContacts: models.EmergencyContacts{
			{Name: "Grandma", Relationship: "grandparent", Phone: "+62-811-000"},
		},
	}, "parent-"+studentID)
	require.NoError(f.t, err)
	return app
}

func TestApplicationTransferDrawsFromRegularPool(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, false)
	app := f.transferDraft(plan.ID, "student-1")

	ok, err := f.plans.CanRegister(f.ctx, plan.ID)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.apps.Submit(f.ctx, app.ID, "parent-student-1")
	require.NoError(t, err)
	assert.False(t, res.Waitlisted)
	assert.Equal(t, models.StatusSubmitted, res.Application.Status)

	row := f.planRow(plan.ID)
	require.NotNil(t, res.Application.QuotaID)
	assert.Equal(t, row.ID, *res.Application.QuotaID)
	assert.Equal(t, 1, row.ReservedQuota)
	assert.Equal(t, 4, row.AvailableQuota)
}

func TestApplicationTransferUsesOwnPoolWhenPlanHasOne(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(5, true)
	class := "transfer-intake"
	transferRow, err := f.quotas.Create(f.ctx, dto.CreateQuotaRequest{
		PlanID:         &plan.ID,
		KindergartenID: "kg-1",
		ClassID:        &class,
		AcademicYear:   "2025-2026",
		Semester:       models.SemesterFullYear,
		QuotaType:      models.QuotaTypeTransfer,
		TotalQuota:     1,
	}, "admin-1")
	require.NoError(t, err)

	first, err := f.apps.Submit(f.ctx, f.transferDraft(plan.ID, "student-1").ID, "parent-student-1")
	require.NoError(t, err)
	require.False(t, first.Waitlisted)
	assert.Equal(t, transferRow.ID, *first.Application.QuotaID)

	// the transfer pool is full, regular seats stay with regular intake
	second, err := f.apps.Submit(f.ctx, f.transferDraft(plan.ID, "student-2").ID, "parent-student-2")
	require.NoError(t, err)
	assert.True(t, second.Waitlisted)

	regular := f.submitted(plan.ID, "student-3", models.PriorityMedium)
	require.False(t, regular.Waitlisted)
	assert.NotEqual(t, transferRow.ID, *regular.Application.QuotaID)
}

func TestApplicationWaitlistRefusedWhileSeatsFree(t *testing.T) {
	f := newAdmissionFixture(t)
	plan := f.activePlan(2, true)
	first := f.submitted(plan.ID, "student-1", models.PriorityMedium)
	_, err := f.apps.StartReview(f.ctx, first.Application.ID, dto.StartReviewRequest{ReviewerID: "reviewer-1"}, "reviewer-1")
	require.NoError(t, err)

	_, err = f.apps.Waitlist(f.ctx, first.Application.ID, dto.WaitlistApplicationRequest{}, "reviewer-1")
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	stored := f.app(first.Application.ID)
	assert.Equal(t, models.StatusUnderReview, stored.Status)
	assert.Nil(t, stored.WaitlistPosition)
	assert.Equal(t, 1, f.planRow(plan.ID).ReservedQuota)
}

// exhaustedSequence hands out a sequence past the eight digit suffix.
type exhaustedSequence struct {
	applicationRepository
}

func (exhaustedSequence) NextSequence(context.Context) (int64, error) {
	return maxApplicationSequence + 1, nil
}

func TestApplicationCreateRefusesExhaustedNumberSequence(t *testing.T) {
	f := newAdmissionFixture(t)
	apps := NewApplicationService(exhaustedSequence{f.store.Applications()}, f.store.Plans(), f.store.Quotas(), f.store.Audit(), f.ledger, f.waitlist, f.uow, nil, nil, ApplicationServiceConfig{})

	_, err := apps.Create(f.ctx, dto.CreateApplicationRequest{
		StudentID:      "student-1",
		ParentID:       "parent-student-1",
		KindergartenID: "kg-1",
	}, "parent-student-1")
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
