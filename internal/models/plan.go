package models

import (
	"database/sql/driver"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus is the administrative state of an admission plan.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusClosed    PlanStatus = "closed"
	PlanStatusSuspended PlanStatus = "suspended"
)

// PlanPhase is the plan-wide stage of the admission cycle.
type PlanPhase string

const (
	PhasePreRegistration PlanPhase = "pre_registration"
	PhaseRegistration    PlanPhase = "registration"
	PhaseReview          PlanPhase = "review"
	PhaseAdmission       PlanPhase = "admission"
	PhaseCompleted       PlanPhase = "completed"
)

var phaseOrder = []PlanPhase{
	PhasePreRegistration,
	PhaseRegistration,
	PhaseReview,
	PhaseAdmission,
	PhaseCompleted,
}

// Phases lists the phases of the admission cycle in order.
func Phases() []PlanPhase {
	return append([]PlanPhase(nil), phaseOrder...)
}

// Index returns the position of the phase in the cycle, or -1.
func (p PlanPhase) Index() int {
	for i, phase := range phaseOrder {
		if phase == p {
			return i
		}
	}
	return -1
}

// Valid reports whether the phase is known.
func (p PlanPhase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the following phase. Completed has none.
func (p PlanPhase) Next() (PlanPhase, bool) {
	idx := p.Index()
	if idx < 0 || idx == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[idx+1], true
}

// AgeRange bounds eligible child age in months.
type AgeRange struct {
	Min int `json:"min" validate:"gte=0"`
	Max int `json:"max" validate:"gtefield=Min"`
}

// PlanRequirements captures eligibility rules.
type PlanRequirements struct {
	AgeRange *AgeRange             `json:"age_range,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// Value implements driver.Valuer.
func (r PlanRequirements) Value() (driver.Value, error) { return jsonValue(r) }

// Scan implements sql.Scanner.
func (r *PlanRequirements) Scan(src interface{}) error {
	out := PlanRequirements{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*r = out
	return nil
}

// PlanDocument lists a document applicants are asked for.
type PlanDocument struct {
	Name     string `json:"name" validate:"required,max=100"`
	Required bool   `json:"required"`
}

// PlanDocuments is stored as a JSONB array.
type PlanDocuments []PlanDocument

// Value implements driver.Valuer.
func (d PlanDocuments) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return jsonValue([]PlanDocument(d))
}

// Scan implements sql.Scanner.
func (d *PlanDocuments) Scan(src interface{}) error {
	out := PlanDocuments{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

// PlanFees maps a fee name to its amount.
type PlanFees map[string]decimal.Decimal

// Value implements driver.Valuer.
func (f PlanFees) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return jsonValue(map[string]decimal.Decimal(f))
}

// Scan implements sql.Scanner.
func (f *PlanFees) Scan(src interface{}) error {
	out := PlanFees{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*f = out
	return nil
}

// AgeGroupQuota maps an age group to its seat allocation.
type AgeGroupQuota map[string]int

// Value implements driver.Valuer.
func (q AgeGroupQuota) Value() (driver.Value, error) {
	if q == nil {
		return []byte("{}"), nil
	}
	return jsonValue(map[string]int(q))
}

// Scan implements sql.Scanner.
func (q *AgeGroupQuota) Scan(src interface{}) error {
	out := AgeGroupQuota{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*q = out
	return nil
}

// Sum adds every age group allocation.
func (q AgeGroupQuota) Sum() int {
	total := 0
	for _, seats := range q {
		total += seats
	}
	return total
}

// EnrollmentPlan is one admission cycle of a kindergarten.
type EnrollmentPlan struct {
	ID                    string           `db:"id" json:"id"`
	Name                  string           `db:"name" json:"name"`
	Description           *string          `db:"description" json:"description,omitempty"`
	KindergartenID        string           `db:"kindergarten_id" json:"kindergarten_id"`
	AcademicYear          string           `db:"academic_year" json:"academic_year"`
	Status                PlanStatus       `db:"status" json:"status"`
	CurrentPhase          PlanPhase        `db:"current_phase" json:"current_phase"`
	TotalQuota            int              `db:"total_quota" json:"total_quota"`
	AvailableQuota        int              `db:"available_quota" json:"available_quota"`
	QuotaByAgeGroup       AgeGroupQuota    `db:"quota_by_age_group" json:"quota_by_age_group"`
	RegistrationStartDate time.Time        `db:"registration_start_date" json:"registration_start_date"`
	RegistrationEndDate   time.Time        `db:"registration_end_date" json:"registration_end_date"`
	ReviewStartDate       *time.Time       `db:"review_start_date" json:"review_start_date,omitempty"`
	ReviewEndDate         *time.Time       `db:"review_end_date" json:"review_end_date,omitempty"`
	AdmissionDate         *time.Time       `db:"admission_date" json:"admission_date,omitempty"`
	SchoolStartDate       *time.Time       `db:"school_start_date" json:"school_start_date,omitempty"`
	AllowWaitlist         bool             `db:"allow_waitlist" json:"allow_waitlist"`
	Requirements          PlanRequirements `db:"requirements" json:"requirements"`
	Documents             PlanDocuments    `db:"documents" json:"documents"`
	Fees                  PlanFees         `db:"fees" json:"fees"`
	ContactInfo           Metadata         `db:"contact_info" json:"contact_info,omitempty"`
	IsPublic              bool             `db:"is_public" json:"is_public"`
	IsActive              bool             `db:"is_active" json:"is_active"`
	CreatedBy             *string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
	DeletedAt             *time.Time       `db:"deleted_at" json:"-"`
}

// IsRegistrationPeriod reports whether now lies inside the registration window.
func (p *EnrollmentPlan) IsRegistrationPeriod(now time.Time) bool {
	return !now.Before(p.RegistrationStartDate) && !now.After(p.RegistrationEndDate)
}

// AcceptsSubmissions checks the status, phase and registration window.
func (p *EnrollmentPlan) AcceptsSubmissions(now time.Time) bool {
	return p.Status == PlanStatusActive &&
		p.IsActive &&
		p.DeletedAt == nil &&
		p.CurrentPhase == PhaseRegistration &&
		p.IsRegistrationPeriod(now)
}

// CanRegister reports whether a new application may be registered: the plan
// accepts submissions and either a ledger row has a free seat or the plan
// accepts waitlist entries.
func (p *EnrollmentPlan) CanRegister(now time.Time, quotas []EnrollmentQuota) bool {
	if !p.AcceptsSubmissions(now) {
		return false
	}
	if p.AllowWaitlist {
		return true
	}
	for i := range quotas {
		if quotas[i].IsAvailable(now) {
			return true
		}
	}
	return false
}

// PhaseWindowEnd returns the instant the current phase's window closes. A
// nil result means the window never blocks advancing.
func (p *EnrollmentPlan) PhaseWindowEnd() *time.Time {
	switch p.CurrentPhase {
	case PhasePreRegistration:
		t := p.RegistrationStartDate
		return &t
	case PhaseRegistration:
		t := p.RegistrationEndDate
		return &t
	case PhaseReview:
		return p.ReviewEndDate
	case PhaseAdmission:
		return p.SchoolStartDate
	}
	return nil
}

// NextPhase returns the phase following the current one.
func (p *EnrollmentPlan) NextPhase() (PlanPhase, bool) {
	return p.CurrentPhase.Next()
}

// CanAdvanceToNextPhase is true once the current phase's window has elapsed.
func (p *EnrollmentPlan) CanAdvanceToNextPhase(now time.Time) bool {
	if _, ok := p.NextPhase(); !ok {
		return false
	}
	end := p.PhaseWindowEnd()
	if end == nil {
		return true
	}
	if p.CurrentPhase == PhasePreRegistration {
		return !now.Before(*end)
	}
	return now.After(*end)
}

// InAdmissionWindow reports whether enrollment may be confirmed at now.
func (p *EnrollmentPlan) InAdmissionWindow(now time.Time) bool {
	if p.AdmissionDate == nil {
		return p.CurrentPhase == PhaseAdmission
	}
	if now.Before(*p.AdmissionDate) {
		return false
	}
	if p.SchoolStartDate != nil && now.After(*p.SchoolStartDate) {
		return false
	}
	return true
}

// OccupancyRate returns the committed share of total seats as a percentage.
func (p *EnrollmentPlan) OccupancyRate() float64 {
	if p.TotalQuota == 0 {
		return 0
	}
	return math.Round(float64(p.TotalQuota-p.AvailableQuota)/float64(p.TotalQuota)*10000) / 100
}

// TotalFees sums every fee of the plan.
func (p *EnrollmentPlan) TotalFees() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range p.Fees {
		total = total.Add(amount)
	}
	return total
}

// IsAgeEligible checks a child's age in months against the plan's range.
func (p *EnrollmentPlan) IsAgeEligible(ageMonths int) bool {
	r := p.Requirements.AgeRange
	if r == nil {
		return true
	}
	return ageMonths >= r.Min && ageMonths <= r.Max
}

// RequiredDocuments lists the names of mandatory documents.
func (p *EnrollmentPlan) RequiredDocuments() []string {
	names := []string{}
	for _, doc := range p.Documents {
		if doc.Required {
			names = append(names, doc.Name)
		}
	}
	return names
}

// AgeGroupSummary reports allocation and demand for one age group.
type AgeGroupSummary struct {
	AgeGroup  string `json:"age_group"`
	Total     int    `json:"total"`
	Applied   int    `json:"applied"`
	Available int    `json:"available"`
}

// QuotaByAgeGroupSummary combines the breakdown with applied counts.
func (p *EnrollmentPlan) QuotaByAgeGroupSummary(applied map[string]int) []AgeGroupSummary {
	groups := make([]string, 0, len(p.QuotaByAgeGroup))
	for group := range p.QuotaByAgeGroup {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	summary := make([]AgeGroupSummary, 0, len(groups))
	for _, group := range groups {
		total := p.QuotaByAgeGroup[group]
		available := total - applied[group]
		if available < 0 {
			available = 0
		}
		summary = append(summary, AgeGroupSummary{AgeGroup: group, Total: total, Applied: applied[group], Available: available})
	}
	return summary
}

// TimelineEntry is one dated milestone of a plan.
type TimelineEntry struct {
	Phase PlanPhase  `json:"phase"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Timeline lists the dated windows of the cycle.
func (p *EnrollmentPlan) Timeline() []TimelineEntry {
	regStart, regEnd := p.RegistrationStartDate, p.RegistrationEndDate
	return []TimelineEntry{
		{Phase: PhasePreRegistration, End: &regStart},
		{Phase: PhaseRegistration, Start: &regStart, End: &regEnd},
		{Phase: PhaseReview, Start: p.ReviewStartDate, End: p.ReviewEndDate},
		{Phase: PhaseAdmission, Start: p.AdmissionDate, End: p.SchoolStartDate},
		{Phase: PhaseCompleted, Start: p.SchoolStartDate},
	}
}

// PlanStatistics summarises demand and occupancy of a plan.
type PlanStatistics struct {
	PlanID           string                    `json:"plan_id"`
	TotalQuota       int                       `json:"total_quota"`
	AvailableQuota   int                       `json:"available_quota"`
	OccupancyRate    float64                   `json:"occupancy_rate"`
	ApplicationStats map[ApplicationStatus]int `json:"application_stats"`
	TotalApplied     int                       `json:"total_applied"`
	ApprovalRate     float64                   `json:"approval_rate"`
	AgeGroups        []AgeGroupSummary         `json:"age_groups,omitempty"`
	Timeline         []TimelineEntry           `json:"timeline"`
	TotalFees        decimal.Decimal           `json:"total_fees"`
}

// PlanFilter narrows plan listings.
type PlanFilter struct {
	KindergartenID string
	AcademicYear   string
	Status         PlanStatus
	Phase          PlanPhase
	IsPublic       *bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
