package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

var applicationRowColumns = []string{"id", "application_number", "student_id", "parent_id", "kindergarten_id", "plan_id", "quota_id",
	"application_type", "status", "priority", "preferred_start_date", "preferred_class", "special_needs", "medical_info",
	"emergency_contacts", "documents", "notes", "review_notes", "score", "waitlist_position", "reservation_token", "reviewer_id",
	"submitted_at", "reviewed_at", "approved_at", "enrolled_at", "waitlisted_at", "cancelled_at", "rejection_reason",
	"cancellation_reason", "created_by", "created_at", "updated_at", "deleted_at"}

func applicationRow(rows *sqlmock.Rows, id string, status models.ApplicationStatus, priority models.ApplicationPriority, position interface{}) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, "APP202500000001", "stu-"+id, "par-1", "kg-1", "plan-1", nil,
		"new_enrollment", string(status), string(priority), now, nil, nil, []byte(`{"allergies":["peanut"]}`),
		[]byte(`[{"name":"Siti","relationship":"aunt","phone":"0812"}]`), []byte(`[]`), nil, nil, "87.50", position, nil, nil,
		nil, nil, nil, nil, nil, nil, nil,
		nil, nil, now, now, nil)
}

func TestApplicationRepositoryFindByIDDecodesJSONB(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM enrollment_applications WHERE id = $1 AND deleted_at IS NULL`)).
		WithArgs("app-1").
		WillReturnRows(applicationRow(sqlmock.NewRows(applicationRowColumns), "app-1", models.StatusDraft, models.PriorityHigh, nil))

	app, err := repo.FindByID(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, app.Status)
	assert.Equal(t, []string{"peanut"}, app.MedicalInfo.Allergies)
	require.Len(t, app.EmergencyContacts, 1)
	assert.Equal(t, "Siti", app.EmergencyContacts[0].Name)
	require.NotNil(t, app.Score)
	assert.Equal(t, "87.5", app.Score.String())
	assert.Nil(t, app.WaitlistPosition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListWaitlistedLocksRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)
	txm := NewTxManager(db)

	rows := sqlmock.NewRows(applicationRowColumns)
	applicationRow(rows, "app-2", models.StatusWaitlisted, models.PriorityUrgent, 2)
	applicationRow(rows, "app-1", models.StatusWaitlisted, models.PriorityLow, 1)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE plan_id = $1 AND status = 'waitlisted' AND deleted_at IS NULL
ORDER BY CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, waitlist_position ASC, id ASC FOR UPDATE`)).
		WithArgs("plan-1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	var apps []models.EnrollmentApplication
	err := txm.WithinTx(context.Background(), func(ctx context.Context) error {
		var err error
		apps, err = repo.ListWaitlisted(ctx, "plan-1", true)
		return err
	})
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, 2, *apps[0].WaitlistPosition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryExistsActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`status NOT IN ('cancelled', 'rejected') AND deleted_at IS NULL AND id <> $3 LIMIT 1`)).
		WithArgs("stu-1", "plan-1", "app-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`status NOT IN ('cancelled', 'rejected') AND deleted_at IS NULL LIMIT 1`)).
		WithArgs("stu-1", "plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	exists, err := repo.ExistsActive(context.Background(), "stu-1", "plan-1", "app-1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.ExistsActive(context.Background(), "stu-1", "plan-1", "")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCompactWaitlist(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`SET waitlist_position = waitlist_position - 1`)).
		WithArgs("plan-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.CompactWaitlist(context.Background(), "plan-1", 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListFiltersStatuses(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	statuses := pq.Array([]string{"submitted", "under_review"})
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE deleted_at IS NULL AND plan_id = $1 AND status = ANY($2) ORDER BY submitted_at ASC, id ASC LIMIT 10 OFFSET 10`)).
		WithArgs("plan-1", statuses).
		WillReturnRows(sqlmock.NewRows(applicationRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM enrollment_applications WHERE deleted_at IS NULL AND plan_id = $1 AND status = ANY($2)`)).
		WithArgs("plan-1", statuses).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	apps, total, err := repo.List(context.Background(), models.ApplicationFilter{
		PlanID:    "plan-1",
		Statuses:  []models.ApplicationStatus{models.StatusSubmitted, models.StatusUnderReview},
		Page:      2,
		PageSize:  10,
		SortBy:    "submitted_at",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Empty(t, apps)
	assert.Equal(t, 12, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY status`)).
		WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).AddRow("submitted", 3).AddRow("waitlisted", 2))

	counts, err := repo.CountByStatus(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, map[models.ApplicationStatus]int{models.StatusSubmitted: 3, models.StatusWaitlisted: 2}, counts)
}
