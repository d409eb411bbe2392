package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

func seedQuota(t *testing.T, store *Store, total int) *models.EnrollmentQuota {
	t.Helper()
	planID := "plan-1"
	quota := &models.EnrollmentQuota{
		PlanID:         &planID,
		KindergartenID: "kg-1",
		AcademicYear:   "2025-2026",
		Semester:       models.SemesterFullYear,
		QuotaType:      models.QuotaTypeRegular,
		TotalQuota:     total,
		IsActive:       true,
	}
	require.NoError(t, store.Quotas().Create(context.Background(), quota))
	return quota
}

func reserveOne(ctx context.Context, store *Store, id string) error {
	return store.WithinTx(ctx, func(ctx context.Context) error {
		quota, err := store.Quotas().LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := quota.Reserve(1); err != nil {
			return err
		}
		return store.Quotas().UpdateCounters(ctx, quota)
	})
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	quota := seedQuota(t, store, 5)
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		locked, err := store.Quotas().LockByID(ctx, quota.ID)
		require.NoError(t, err)
		require.NoError(t, locked.Reserve(2))
		require.NoError(t, store.Quotas().UpdateCounters(ctx, locked))

		inTx, err := store.Quotas().FindByID(ctx, quota.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, inTx.AvailableQuota)
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := store.Quotas().FindByID(context.Background(), quota.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.AvailableQuota)
	assert.Zero(t, after.ReservedQuota)
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	store := NewStore()
	quota := seedQuota(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := store.Quotas().LockByID(ctx, quota.ID)
		require.NoError(t, err)
		require.NoError(t, locked.Reserve(1))
		require.NoError(t, store.Quotas().UpdateCounters(ctx, locked))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	after, err := store.Quotas().FindByID(context.Background(), quota.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.AvailableQuota)
}

func TestConcurrentReserveOfLastSeat(t *testing.T) {
	store := NewStore()
	quota := seedQuota(t, store, 1)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reserveOne(context.Background(), store, quota.ID)
		}()
	}
	wg.Wait()
	close(results)

	successes, shortages := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, appErrors.ErrInsufficientQuota):
			shortages++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, shortages)

	after, err := store.Quotas().FindByID(context.Background(), quota.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.ReservedQuota)
	assert.Zero(t, after.AvailableQuota)
	require.NoError(t, after.CheckInvariant())
}

func TestQuotaCreateRejectsDuplicateKey(t *testing.T) {
	store := NewStore()
	seedQuota(t, store, 3)

	dup := &models.EnrollmentQuota{
		KindergartenID: "kg-1",
		AcademicYear:   "2025-2026",
		Semester:       models.SemesterFullYear,
		QuotaType:      models.QuotaTypeRegular,
		TotalQuota:     2,
		IsActive:       true,
	}
	err := store.Quotas().Create(context.Background(), dup)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestWaitlistOrderingAndCompaction(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	planID := "plan-1"
	apps := store.Applications()

	add := func(id string, priority models.ApplicationPriority, pos int) {
		p := pos
		require.NoError(t, apps.Create(ctx, &models.EnrollmentApplication{
			ID:                id,
			ApplicationNumber: "APP-" + id,
			StudentID:         "stu-" + id,
			PlanID:            &planID,
			Status:            models.StatusWaitlisted,
			Priority:          priority,
			WaitlistPosition:  &p,
		}))
	}
	add("a", models.PriorityLow, 1)
	add("b", models.PriorityUrgent, 2)
	add("c", models.PriorityLow, 3)

	ranked, err := apps.ListWaitlisted(ctx, planID, false)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})

	removed, err := apps.FindByID(ctx, "a")
	require.NoError(t, err)
	removed.Status = models.StatusApproved
	removed.WaitlistPosition = nil
	require.NoError(t, apps.Update(ctx, removed))
	require.NoError(t, apps.CompactWaitlist(ctx, planID, 1))

	tail, err := apps.MaxWaitlistPosition(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, 2, tail)

	c, err := apps.FindByID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, *c.WaitlistPosition)
}

func TestFindMissingReturnsNoRows(t *testing.T) {
	store := NewStore()
	_, err := store.Plans().FindByID(context.Background(), "nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
