package models

import (
	"fmt"
	"math"
	"time"

	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// Semester scopes a quota pool within an academic year.
type Semester string

const (
	SemesterSpring   Semester = "spring"
	SemesterFall     Semester = "fall"
	SemesterFullYear Semester = "full_year"
)

// Valid reports whether the semester is known.
func (s Semester) Valid() bool {
	switch s {
	case SemesterSpring, SemesterFall, SemesterFullYear:
		return true
	}
	return false
}

// QuotaType distinguishes seat pools reserved for different intakes.
type QuotaType string

const (
	QuotaTypeRegular  QuotaType = "regular"
	QuotaTypeSpecial  QuotaType = "special"
	QuotaTypePriority QuotaType = "priority"
	QuotaTypeTransfer QuotaType = "transfer"
)

// Valid reports whether the quota type is known.
func (t QuotaType) Valid() bool {
	switch t {
	case QuotaTypeRegular, QuotaTypeSpecial, QuotaTypePriority, QuotaTypeTransfer:
		return true
	}
	return false
}

// QuotaKey is the composite identity of a ledger row. An empty ClassID
// denotes a pool covering the whole kindergarten.
type QuotaKey struct {
	KindergartenID string    `json:"kindergarten_id" form:"kindergarten_id"`
	ClassID        string    `json:"class_id,omitempty" form:"class_id"`
	AcademicYear   string    `json:"academic_year" form:"academic_year"`
	Semester       Semester  `json:"semester" form:"semester"`
	QuotaType      QuotaType `json:"quota_type" form:"quota_type"`
}

// String renders the key for logs and cache keys.
func (k QuotaKey) String() string {
	class := k.ClassID
	if class == "" {
		class = "*"
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.KindergartenID, class, k.AcademicYear, k.Semester, k.QuotaType)
}

// EnrollmentQuota is one seat pool of the quota ledger.
type EnrollmentQuota struct {
	ID             string     `db:"id" json:"id"`
	PlanID         *string    `db:"plan_id" json:"plan_id,omitempty"`
	KindergartenID string     `db:"kindergarten_id" json:"kindergarten_id"`
	ClassID        *string    `db:"class_id" json:"class_id,omitempty"`
	AcademicYear   string     `db:"academic_year" json:"academic_year"`
	Semester       Semester   `db:"semester" json:"semester"`
	QuotaType      QuotaType  `db:"quota_type" json:"quota_type"`
	AgeGroup       string     `db:"age_group" json:"age_group,omitempty"`
	TotalQuota     int        `db:"total_quota" json:"total_quota"`
	UsedQuota      int        `db:"used_quota" json:"used_quota"`
	ReservedQuota  int        `db:"reserved_quota" json:"reserved_quota"`
	AvailableQuota int        `db:"available_quota" json:"available_quota"`
	Priority       int        `db:"priority" json:"priority"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	StartDate      *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate        *time.Time `db:"end_date" json:"end_date,omitempty"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}

// Key returns the composite ledger key of the row.
func (q *EnrollmentQuota) Key() QuotaKey {
	key := QuotaKey{
		KindergartenID: q.KindergartenID,
		AcademicYear:   q.AcademicYear,
		Semester:       q.Semester,
		QuotaType:      q.QuotaType,
	}
	if q.ClassID != nil {
		key.ClassID = *q.ClassID
	}
	return key
}

// ComputeAvailable derives the free seat count from the counters.
func (q *EnrollmentQuota) ComputeAvailable() int {
	available := q.TotalQuota - q.UsedQuota - q.ReservedQuota
	if available < 0 {
		return 0
	}
	return available
}

// CheckInvariant verifies the counters and the stored available mirror.
func (q *EnrollmentQuota) CheckInvariant() error {
	if q.TotalQuota < 1 || q.UsedQuota < 0 || q.ReservedQuota < 0 {
		return fmt.Errorf("quota %s: negative or empty counters total=%d used=%d reserved=%d", q.ID, q.TotalQuota, q.UsedQuota, q.ReservedQuota)
	}
	if q.UsedQuota+q.ReservedQuota > q.TotalQuota {
		return fmt.Errorf("quota %s: used %d + reserved %d exceeds total %d", q.ID, q.UsedQuota, q.ReservedQuota, q.TotalQuota)
	}
	if q.AvailableQuota != q.ComputeAvailable() {
		return fmt.Errorf("quota %s: available %d does not match derived %d", q.ID, q.AvailableQuota, q.ComputeAvailable())
	}
	return nil
}

// Reserve places a hold on amount seats. It never reserves partially.
func (q *EnrollmentQuota) Reserve(amount int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if available := q.ComputeAvailable(); amount > available {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInsufficientQuota, fmt.Sprintf("requested %d seats, %d available", amount, available)),
			"available", available)
	}
	q.ReservedQuota += amount
	q.AvailableQuota = q.ComputeAvailable()
	return nil
}

// Release returns amount held seats to the pool.
func (q *EnrollmentQuota) Release(amount int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount > q.ReservedQuota {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidRelease, fmt.Sprintf("release of %d exceeds %d reserved", amount, q.ReservedQuota)),
			"reserved", q.ReservedQuota)
	}
	q.ReservedQuota -= amount
	q.AvailableQuota = q.ComputeAvailable()
	return nil
}

// Consume converts amount held seats into confirmed seats.
func (q *EnrollmentQuota) Consume(amount int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount > q.ReservedQuota {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInsufficientReservation, fmt.Sprintf("consume of %d exceeds %d reserved", amount, q.ReservedQuota)),
			"reserved", q.ReservedQuota)
	}
	q.ReservedQuota -= amount
	q.UsedQuota += amount
	q.AvailableQuota = q.ComputeAvailable()
	return nil
}

// Vacate frees amount confirmed seats after a withdrawal.
func (q *EnrollmentQuota) Vacate(amount int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount > q.UsedQuota {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidRelease, fmt.Sprintf("vacate of %d exceeds %d used", amount, q.UsedQuota)),
			"used", q.UsedQuota)
	}
	q.UsedQuota -= amount
	q.AvailableQuota = q.ComputeAvailable()
	return nil
}

// Resize changes the total capacity. The new total must still cover the
// seats already held or used.
func (q *EnrollmentQuota) Resize(total int) error {
	if total < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "total quota must be at least 1")
	}
	if committed := q.UsedQuota + q.ReservedQuota; total < committed {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("total quota %d below %d used or reserved seats", total, committed)),
			"committed", committed)
	}
	q.TotalQuota = total
	q.AvailableQuota = q.ComputeAvailable()
	return nil
}

// IsAvailable reports whether the row is active, inside its validity window
// and has a free seat.
func (q *EnrollmentQuota) IsAvailable(now time.Time) bool {
	if !q.IsActive || q.DeletedAt != nil {
		return false
	}
	if q.StartDate != nil && now.Before(*q.StartDate) {
		return false
	}
	if q.EndDate != nil && now.After(*q.EndDate) {
		return false
	}
	return q.ComputeAvailable() > 0
}

// IsFull reports whether every seat is used or held.
func (q *EnrollmentQuota) IsFull() bool {
	return q.ComputeAvailable() == 0
}

// UsageRate returns the used share of the total as a percentage.
func (q *EnrollmentQuota) UsageRate() float64 {
	if q.TotalQuota == 0 {
		return 0
	}
	return math.Round(float64(q.UsedQuota)/float64(q.TotalQuota)*10000) / 100
}

// Snapshot returns a read-only view of the counters.
func (q *EnrollmentQuota) Snapshot() QuotaAvailability {
	return QuotaAvailability{
		QuotaID:   q.ID,
		Key:       q.Key(),
		Total:     q.TotalQuota,
		Used:      q.UsedQuota,
		Reserved:  q.ReservedQuota,
		Available: q.ComputeAvailable(),
	}
}

func checkAmount(amount int) error {
	if amount < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "amount must be at least 1")
	}
	return nil
}

// QuotaAvailability is the getAvailability snapshot of a ledger row.
type QuotaAvailability struct {
	QuotaID   string   `json:"quota_id"`
	Key       QuotaKey `json:"key"`
	Total     int      `json:"total"`
	Used      int      `json:"used"`
	Reserved  int      `json:"reserved"`
	Available int      `json:"available"`
}

// QuotaFilter narrows quota listings.
type QuotaFilter struct {
	KindergartenID string
	PlanID         string
	AcademicYear   string
	Semester       Semester
	QuotaType      QuotaType
	IsActive       *bool
	HasAvailable   *bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// QuotaAdjustment resizes one ledger row.
type QuotaAdjustment struct {
	QuotaID  string `json:"quota_id" validate:"required"`
	NewTotal int    `json:"new_total" validate:"required,min=1"`
	Reason   string `json:"reason" validate:"omitempty,max=255"`
}

// QuotaStatistics aggregates ledger rows of a kindergarten year.
type QuotaStatistics struct {
	KindergartenID  string                    `json:"kindergarten_id"`
	AcademicYear    string                    `json:"academic_year"`
	TotalQuota      int                       `json:"total_quota"`
	UsedQuota       int                       `json:"used_quota"`
	ReservedQuota   int                       `json:"reserved_quota"`
	AvailableQuota  int                       `json:"available_quota"`
	UtilizationRate float64                   `json:"utilization_rate"`
	ByType          map[QuotaType]QuotaTotals `json:"by_type"`
}

// QuotaTotals holds summed counters.
type QuotaTotals struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}
