package models

import (
	"database/sql/driver"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationType classifies the intake route of an application.
type ApplicationType string

const (
	ApplicationTypeNewEnrollment ApplicationType = "new_enrollment"
	ApplicationTypeTransfer      ApplicationType = "transfer"
	ApplicationTypeReEnrollment  ApplicationType = "re_enrollment"
)

// Valid reports whether the application type is known.
func (t ApplicationType) Valid() bool {
	switch t {
	case ApplicationTypeNewEnrollment, ApplicationTypeTransfer, ApplicationTypeReEnrollment:
		return true
	}
	return false
}

// QuotaType maps the intake route onto the seat pool it draws from.
func (t ApplicationType) QuotaType() QuotaType {
	if t == ApplicationTypeTransfer {
		return QuotaTypeTransfer
	}
	return QuotaTypeRegular
}

// ApplicationPriority orders the waitlist.
type ApplicationPriority string

const (
	PriorityLow    ApplicationPriority = "low"
	PriorityMedium ApplicationPriority = "medium"
	PriorityHigh   ApplicationPriority = "high"
	PriorityUrgent ApplicationPriority = "urgent"
)

// Valid reports whether the priority is known.
func (p ApplicationPriority) Valid() bool {
	return p.Rank() > 0
}

// Rank returns a sortable weight, higher first.
func (p ApplicationPriority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// EmergencyContact is a person reachable on behalf of the child.
type EmergencyContact struct {
	Name         string `json:"name" validate:"required,max=100"`
	Relationship string `json:"relationship" validate:"required,max=50"`
	Phone        string `json:"phone" validate:"required,max=30"`
	Address      string `json:"address,omitempty" validate:"omitempty,max=255"`
}

// EmergencyContacts is stored as a JSONB array.
type EmergencyContacts []EmergencyContact

// Value implements driver.Valuer.
func (c EmergencyContacts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return jsonValue([]EmergencyContact(c))
}

// Scan implements sql.Scanner.
func (c *EmergencyContacts) Scan(src interface{}) error {
	out := EmergencyContacts{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*c = out
	return nil
}

// ApplicationDocument references an uploaded supporting file.
type ApplicationDocument struct {
	Type       string    `json:"type" validate:"required,max=50"`
	Name       string    `json:"name,omitempty" validate:"omitempty,max=255"`
	URL        string    `json:"url" validate:"required,url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ApplicationDocuments is stored as a JSONB array.
type ApplicationDocuments []ApplicationDocument

// Value implements driver.Valuer.
func (d ApplicationDocuments) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return jsonValue([]ApplicationDocument(d))
}

// Scan implements sql.Scanner.
func (d *ApplicationDocuments) Scan(src interface{}) error {
	out := ApplicationDocuments{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

// MedicalInfo captures health notes relevant to care staff.
type MedicalInfo struct {
	Allergies   []string               `json:"allergies,omitempty"`
	Medications []string               `json:"medications,omitempty"`
	Conditions  []string               `json:"conditions,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// Value implements driver.Valuer.
func (m MedicalInfo) Value() (driver.Value, error) {
	return jsonValue(m)
}

// Scan implements sql.Scanner.
func (m *MedicalInfo) Scan(src interface{}) error {
	out := MedicalInfo{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// EnrollmentApplication is one applicant's admission request.
type EnrollmentApplication struct {
	ID                 string               `db:"id" json:"id"`
	ApplicationNumber  string               `db:"application_number" json:"application_number"`
	StudentID          string               `db:"student_id" json:"student_id"`
	ParentID           string               `db:"parent_id" json:"parent_id"`
	KindergartenID     string               `db:"kindergarten_id" json:"kindergarten_id"`
	PlanID             *string              `db:"plan_id" json:"plan_id,omitempty"`
	QuotaID            *string              `db:"quota_id" json:"quota_id,omitempty"`
	ApplicationType    ApplicationType      `db:"application_type" json:"application_type"`
	Status             ApplicationStatus    `db:"status" json:"status"`
	Priority           ApplicationPriority  `db:"priority" json:"priority"`
	PreferredStartDate *time.Time           `db:"preferred_start_date" json:"preferred_start_date,omitempty"`
	PreferredClass     *string              `db:"preferred_class" json:"preferred_class,omitempty"`
	SpecialNeeds       *string              `db:"special_needs" json:"special_needs,omitempty"`
	MedicalInfo        MedicalInfo          `db:"medical_info" json:"medical_info"`
	EmergencyContacts  EmergencyContacts    `db:"emergency_contacts" json:"emergency_contacts"`
	Documents          ApplicationDocuments `db:"documents" json:"documents"`
	Notes              *string              `db:"notes" json:"notes,omitempty"`
	ReviewNotes        *string              `db:"review_notes" json:"review_notes,omitempty"`
	Score              *decimal.Decimal     `db:"score" json:"score,omitempty"`
	WaitlistPosition   *int                 `db:"waitlist_position" json:"waitlist_position,omitempty"`
	ReservationToken   *string              `db:"reservation_token" json:"-"`
	ReviewerID         *string              `db:"reviewer_id" json:"reviewer_id,omitempty"`
	SubmittedAt        *time.Time           `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt         *time.Time           `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ApprovedAt         *time.Time           `db:"approved_at" json:"approved_at,omitempty"`
	EnrolledAt         *time.Time           `db:"enrolled_at" json:"enrolled_at,omitempty"`
	WaitlistedAt       *time.Time           `db:"waitlisted_at" json:"waitlisted_at,omitempty"`
	CancelledAt        *time.Time           `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RejectionReason    *string              `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancellationReason *string              `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedBy          *string              `db:"created_by" json:"created_by,omitempty"`
	CreatedAt          time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time            `db:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time           `db:"deleted_at" json:"-"`
}

// HoldsReservation reports whether the application currently holds a
// reserved, unconsumed seat.
func (a *EnrollmentApplication) HoldsReservation() bool {
	if a.ReservationToken == nil || a.QuotaID == nil {
		return false
	}
	switch a.Status {
	case StatusSubmitted, StatusUnderReview, StatusApproved:
		return true
	}
	return false
}

// HoldsSeat reports whether the application occupies a consumed seat.
func (a *EnrollmentApplication) HoldsSeat() bool {
	return a.Status == StatusEnrolled && a.QuotaID != nil
}

// CanEdit is true only while the application is a draft.
func (a *EnrollmentApplication) CanEdit() bool {
	return a.Status == StatusDraft
}

// CanCancel is true for every non-terminal status.
func (a *EnrollmentApplication) CanCancel() bool {
	return !a.Status.Terminal()
}

// IsActive reports whether the application counts towards the one active
// application per student and plan rule.
func (a *EnrollmentApplication) IsActive() bool {
	return a.Status != StatusCancelled && a.Status != StatusRejected
}

// MissingRequiredFields lists the submission prerequisites still absent.
func (a *EnrollmentApplication) MissingRequiredFields() []string {
	var missing []string
	if len(a.EmergencyContacts) == 0 {
		missing = append(missing, "emergency_contacts")
	}
	if a.PreferredStartDate == nil {
		missing = append(missing, "preferred_start_date")
	}
	if a.PlanID == nil || *a.PlanID == "" {
		missing = append(missing, "plan_id")
	}
	return missing
}

// ProcessingTime is the delay between submission and review.
type ProcessingTime struct {
	Days       int     `json:"days"`
	Hours      int     `json:"hours"`
	Minutes    int     `json:"minutes"`
	TotalHours float64 `json:"total_hours"`
}

// ProcessingTime returns nil until the application has been both submitted
// and reviewed.
func (a *EnrollmentApplication) ProcessingTime() *ProcessingTime {
	if a.SubmittedAt == nil || a.ReviewedAt == nil {
		return nil
	}
	d := a.ReviewedAt.Sub(*a.SubmittedAt)
	if d < 0 {
		d = 0
	}
	return &ProcessingTime{
		Days:       int(d / (24 * time.Hour)),
		Hours:      int(d/time.Hour) % 24,
		Minutes:    int(d/time.Minute) % 60,
		TotalHours: math.Round(d.Hours()*100) / 100,
	}
}

// Completeness reports how much of the application has been filled in.
type Completeness struct {
	Percentage      int      `json:"percentage"`
	MissingFields   []string `json:"missing_fields"`
	CompletedFields []string `json:"completed_fields"`
}

// Completeness checks the required sections used by the pre-submission UI.
func (a *EnrollmentApplication) Completeness() Completeness {
	sections := []struct {
		name string
		ok   bool
	}{
		{"student_id", a.StudentID != ""},
		{"parent_id", a.ParentID != ""},
		{"kindergarten_id", a.KindergartenID != ""},
		{"preferred_start_date", a.PreferredStartDate != nil},
		{"emergency_contacts", len(a.EmergencyContacts) > 0},
		{"documents", len(a.Documents) > 0},
	}

	result := Completeness{MissingFields: []string{}, CompletedFields: []string{}}
	for _, s := range sections {
		if s.ok {
			result.CompletedFields = append(result.CompletedFields, s.name)
		} else {
			result.MissingFields = append(result.MissingFields, s.name)
		}
	}
	result.Percentage = int(math.Round(float64(len(result.CompletedFields)) / float64(len(sections)) * 100))
	return result
}

// AddDocument attaches a document, replacing an existing one of the same type.
func (a *EnrollmentApplication) AddDocument(doc ApplicationDocument) {
	for i := range a.Documents {
		if strings.EqualFold(a.Documents[i].Type, doc.Type) {
			a.Documents[i] = doc
			return
		}
	}
	a.Documents = append(a.Documents, doc)
}

// RemoveDocument drops every document of the given type and reports whether
// anything was removed.
func (a *EnrollmentApplication) RemoveDocument(docType string) bool {
	kept := a.Documents[:0]
	removed := false
	for _, doc := range a.Documents {
		if strings.EqualFold(doc.Type, docType) {
			removed = true
			continue
		}
		kept = append(kept, doc)
	}
	a.Documents = kept
	return removed
}

// ScoreBreakdown explains a computed application score.
type ScoreBreakdown struct {
	Completeness  decimal.Decimal `json:"completeness"`
	Timeliness    decimal.Decimal `json:"timeliness"`
	Documentation decimal.Decimal `json:"documentation"`
	Priority      decimal.Decimal `json:"priority"`
	Total         decimal.Decimal `json:"total"`
}

// CalculateScore derives a 0-100 score from completeness (40), timeliness
// relative to the registration deadline (20), documentation (20) and
// priority (20).
func (a *EnrollmentApplication) CalculateScore(registrationEnd *time.Time) ScoreBreakdown {
	completeness := decimal.NewFromInt(int64(a.Completeness().Percentage)).Mul(decimal.NewFromFloat(0.4))

	timeliness := decimal.NewFromInt(10)
	if a.SubmittedAt != nil && registrationEnd != nil {
		daysEarly := registrationEnd.Sub(*a.SubmittedAt).Hours() / 24
		switch {
		case daysEarly >= 30:
			timeliness = decimal.NewFromInt(20)
		case daysEarly >= 7:
			timeliness = decimal.NewFromInt(15)
		case daysEarly < 0:
			timeliness = decimal.Zero
		}
	}

	docs := len(a.Documents)
	if docs > 4 {
		docs = 4
	}
	documentation := decimal.NewFromInt(int64(docs * 5))

	priority := decimal.NewFromInt(int64(a.Priority.Rank() * 5))

	total := completeness.Add(timeliness).Add(documentation).Add(priority)
	if total.GreaterThan(decimal.NewFromInt(100)) {
		total = decimal.NewFromInt(100)
	}
	return ScoreBreakdown{
		Completeness:  completeness.Round(2),
		Timeliness:    timeliness,
		Documentation: documentation,
		Priority:      priority,
		Total:         total.Round(2),
	}
}

// ApplicationFilter narrows application listings.
type ApplicationFilter struct {
	PlanID         string
	KindergartenID string
	StudentID      string
	ParentID       string
	Statuses       []ApplicationStatus
	Priority       ApplicationPriority
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// WaitlistEntry is one row of the ranked waitlist view.
type WaitlistEntry struct {
	Rank              int                 `json:"rank"`
	ApplicationID     string              `json:"application_id"`
	ApplicationNumber string              `json:"application_number"`
	StudentID         string              `json:"student_id"`
	Priority          ApplicationPriority `json:"priority"`
	WaitlistPosition  int                 `json:"waitlist_position"`
	WaitlistedAt      *time.Time          `json:"waitlisted_at,omitempty"`
}
