package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/dto"
	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/internal/repository/memory"
	"github.com/noah-isme/kindergarten-admission-api/pkg/jobs"
)

var (
	registrationOpen  = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	registrationClose = time.Date(2025, 4, 30, 23, 59, 0, 0, time.UTC)
	reviewClose       = time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	admissionOpen     = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	schoolStart       = time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	preferredStart    = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
)

type admissionFixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	metrics  *MetricsService
	events   *EventDispatcher
	ledger   *Ledger
	uow      *UnitOfWork
	quotas   *QuotaService
	plans    *PlanService
	apps     *ApplicationService
	waitlist *WaitlistService

	mu       sync.Mutex
	clock    time.Time
	received []models.DomainEvent
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	f := &admissionFixture{
		t:       t,
		ctx:     context.Background(),
		store:   memory.NewStore(),
		metrics: NewMetricsService(),
		clock:   time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	// the dispatcher is never started, so events are delivered inline
	f.events = NewEventDispatcher(nil, "", jobs.QueueConfig{}, f.metrics, nil)
	f.events.Subscribe("", func(_ context.Context, event models.DomainEvent) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.received = append(f.received, event)
		return nil
	})

	f.uow = NewUnitOfWork(f.store, nil, f.events, f.metrics, nil)
	f.ledger = NewLedger(f.store.Quotas(), f.store.Plans(), f.metrics, nil)
	f.waitlist = NewWaitlistService(f.store.Applications(), f.store.Plans(), f.store.Quotas(), f.store.Audit(), f.ledger, f.uow, nil)
	f.quotas = NewQuotaService(f.store.Quotas(), f.store.Audit(), f.ledger, f.waitlist, f.uow, nil, nil, nil)
	f.plans = NewPlanService(f.store.Plans(), f.store.Quotas(), f.store.Applications(), f.store.Audit(), f.ledger, f.uow, nil, nil, nil, PlanServiceConfig{})
	f.apps = NewApplicationService(f.store.Applications(), f.store.Plans(), f.store.Quotas(), f.store.Audit(), f.ledger, f.waitlist, f.uow, nil, nil, ApplicationServiceConfig{})

	now := f.now
	f.waitlist.now = now
	f.quotas.now = now
	f.plans.now = now
	f.apps.now = now
	return f
}

func (f *admissionFixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *admissionFixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = t
}

func (f *admissionFixture) eventTypes() []models.DomainEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DomainEventType, 0, len(f.received))
	for _, e := range f.received {
		out = append(out, e.Type)
	}
	return out
}

func (f *admissionFixture) resetEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = nil
}

func planRequest(total int, allowWaitlist bool) dto.CreatePlanRequest {
	review := reviewClose
	admission := admissionOpen
	school := schoolStart
	return dto.CreatePlanRequest{
		Name:                  "Spring intake",
		KindergartenID:        "kg-1",
		AcademicYear:          "2025-2026",
		TotalQuota:            total,
		RegistrationStartDate: registrationOpen,
		RegistrationEndDate:   registrationClose,
		ReviewEndDate:         &review,
		AdmissionDate:         &admission,
		SchoolStartDate:       &school,
		AllowWaitlist:         &allowWaitlist,
	}
}

// activePlan creates and activates a plan with one ledger row of total seats.
func (f *admissionFixture) activePlan(total int, allowWaitlist bool) *models.EnrollmentPlan {
	f.t.Helper()
	plan, err := f.plans.Create(f.ctx, planRequest(total, allowWaitlist), "admin-1")
	require.NoError(f.t, err)
	plan, err = f.plans.Activate(f.ctx, plan.ID, "admin-1")
	require.NoError(f.t, err)
	return plan
}

func (f *admissionFixture) draft(planID, studentID string, priority models.ApplicationPriority) *models.EnrollmentApplication {
	f.t.Helper()
	start := preferredStart
	app, err := f.apps.Create(f.ctx, dto.CreateApplicationRequest{
		StudentID:          studentID,
		ParentID:           "parent-" + studentID,
		KindergartenID:     "kg-1",
		PlanID:             &planID,
		Priority:           priority,
		PreferredStartDate: &start,
		EmergencyContacts: models.EmergencyContacts{
			{Name: "Grandma", Relationship: "grandparent", Phone: "+62-811-000"},
		},
	}, "parent-"+studentID)
	require.NoError(f.t, err)
	return app
}

func (f *admissionFixture) submitted(planID, studentID string, priority models.ApplicationPriority) *SubmitResult {
	f.t.Helper()
	app := f.draft(planID, studentID, priority)
	res, err := f.apps.Submit(f.ctx, app.ID, "parent-"+studentID)
	require.NoError(f.t, err)
	return res
}

// approved walks a fresh application through review to approval.
func (f *admissionFixture) approved(planID, studentID string) *models.EnrollmentApplication {
	f.t.Helper()
	res := f.submitted(planID, studentID, models.PriorityMedium)
	require.False(f.t, res.Waitlisted)
	_, err := f.apps.StartReview(f.ctx, res.Application.ID, dto.StartReviewRequest{ReviewerID: "reviewer-1"}, "reviewer-1")
	require.NoError(f.t, err)
	app, err := f.apps.Approve(f.ctx, res.Application.ID, dto.ApproveApplicationRequest{}, "reviewer-1")
	require.NoError(f.t, err)
	return app
}

func (f *admissionFixture) planRow(planID string) models.EnrollmentQuota {
	f.t.Helper()
	rows, err := f.store.Quotas().ListByPlan(f.ctx, planID, false)
	require.NoError(f.t, err)
	require.Len(f.t, rows, 1)
	return rows[0]
}

func (f *admissionFixture) app(id string) *models.EnrollmentApplication {
	f.t.Helper()
	app, err := f.store.Applications().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return app
}

func (f *admissionFixture) positions(planID string) map[string]int {
	f.t.Helper()
	apps, err := f.store.Applications().ListWaitlisted(f.ctx, planID, false)
	require.NoError(f.t, err)
	out := make(map[string]int, len(apps))
	for _, a := range apps {
		out[a.ID] = *a.WaitlistPosition
	}
	return out
}
