package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

// CreatePlanRequest describes a new admission plan.
type CreatePlanRequest struct {
	Name                  string                  `json:"name" validate:"required,min=2,max=100"`
	Description           *string                 `json:"description" validate:"omitempty,max=2000"`
	KindergartenID        string                  `json:"kindergarten_id" validate:"required"`
	AcademicYear          string                  `json:"academic_year" validate:"required,academic_year"`
	TotalQuota            int                     `json:"total_quota" validate:"required,min=1,max=1000"`
	QuotaByAgeGroup       models.AgeGroupQuota    `json:"quota_by_age_group" validate:"omitempty,dive,keys,required,max=20,endkeys,min=1"`
	RegistrationStartDate time.Time               `json:"registration_start_date" validate:"required"`
	RegistrationEndDate   time.Time               `json:"registration_end_date" validate:"required,gtfield=RegistrationStartDate"`
	ReviewStartDate       *time.Time              `json:"review_start_date"`
	ReviewEndDate         *time.Time              `json:"review_end_date"`
	AdmissionDate         *time.Time              `json:"admission_date"`
	SchoolStartDate       *time.Time              `json:"school_start_date"`
	AllowWaitlist         *bool                   `json:"allow_waitlist"`
	Requirements          models.PlanRequirements `json:"requirements"`
	Documents             models.PlanDocuments    `json:"documents" validate:"omitempty,dive"`
	Fees                  models.PlanFees         `json:"fees"`
	ContactInfo           models.Metadata         `json:"contact_info"`
	IsPublic              *bool                   `json:"is_public"`
}

// UpdatePlanRequest patches a draft plan. Nil fields are left unchanged.
type UpdatePlanRequest struct {
	Name                  *string                  `json:"name" validate:"omitempty,min=2,max=100"`
	Description           *string                  `json:"description" validate:"omitempty,max=2000"`
	TotalQuota            *int                     `json:"total_quota" validate:"omitempty,min=1,max=1000"`
	QuotaByAgeGroup       models.AgeGroupQuota     `json:"quota_by_age_group" validate:"omitempty,dive,keys,required,max=20,endkeys,min=1"`
	RegistrationStartDate *time.Time               `json:"registration_start_date"`
	RegistrationEndDate   *time.Time               `json:"registration_end_date"`
	ReviewStartDate       *time.Time               `json:"review_start_date"`
	ReviewEndDate         *time.Time               `json:"review_end_date"`
	AdmissionDate         *time.Time               `json:"admission_date"`
	SchoolStartDate       *time.Time               `json:"school_start_date"`
	AllowWaitlist         *bool                    `json:"allow_waitlist"`
	Requirements          *models.PlanRequirements `json:"requirements"`
	Documents             models.PlanDocuments     `json:"documents" validate:"omitempty,dive"`
	Fees                  models.PlanFees          `json:"fees"`
	ContactInfo           models.Metadata          `json:"contact_info"`
	IsPublic              *bool                    `json:"is_public"`
}

// CreateQuotaRequest describes a stand-alone ledger row.
type CreateQuotaRequest struct {
	PlanID         *string          `json:"plan_id"`
	KindergartenID string           `json:"kindergarten_id" validate:"required"`
	ClassID        *string          `json:"class_id" validate:"omitempty,max=50"`
	AcademicYear   string           `json:"academic_year" validate:"required,academic_year"`
	Semester       models.Semester  `json:"semester" validate:"required,oneof=spring fall full_year"`
	QuotaType      models.QuotaType `json:"quota_type" validate:"required,oneof=regular special priority transfer"`
	AgeGroup       string           `json:"age_group" validate:"omitempty,max=20"`
	TotalQuota     int              `json:"total_quota" validate:"required,min=1"`
	Priority       int              `json:"priority" validate:"gte=0"`
	StartDate      *time.Time       `json:"start_date"`
	EndDate        *time.Time       `json:"end_date"`
	Notes          *string          `json:"notes" validate:"omitempty,max=500"`
}

// LedgerAmountRequest carries the seat count of a reserve, release or consume call.
type LedgerAmountRequest struct {
	Amount int `json:"amount" validate:"required,min=1"`
}

// AdjustQuotaRequest resizes one ledger row.
type AdjustQuotaRequest struct {
	NewTotal int    `json:"new_total" validate:"required,min=1"`
	Reason   string `json:"reason" validate:"omitempty,max=255"`
}

// BatchAdjustQuotaRequest resizes several ledger rows atomically.
type BatchAdjustQuotaRequest struct {
	Adjustments []models.QuotaAdjustment `json:"adjustments" validate:"required,min=1,dive"`
}

// CreateApplicationRequest opens a draft application.
type CreateApplicationRequest struct {
	StudentID          string                      `json:"student_id" validate:"required"`
	ParentID           string                      `json:"parent_id" validate:"required"`
	KindergartenID     string                      `json:"kindergarten_id" validate:"required"`
	PlanID             *string                     `json:"plan_id"`
	ApplicationType    models.ApplicationType      `json:"application_type" validate:"omitempty,oneof=new_enrollment transfer re_enrollment"`
	Priority           models.ApplicationPriority  `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	PreferredStartDate *time.Time                  `json:"preferred_start_date"`
	PreferredClass     *string                     `json:"preferred_class" validate:"omitempty,min=1,max=50"`
	SpecialNeeds       *string                     `json:"special_needs" validate:"omitempty,max=2000"`
	MedicalInfo        models.MedicalInfo          `json:"medical_info"`
	EmergencyContacts  models.EmergencyContacts    `json:"emergency_contacts" validate:"omitempty,dive"`
	Documents          models.ApplicationDocuments `json:"documents" validate:"omitempty,dive"`
	Notes              *string                     `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateApplicationRequest patches a draft application. Nil fields are left unchanged.
type UpdateApplicationRequest struct {
	PlanID             *string                     `json:"plan_id"`
	Priority           *models.ApplicationPriority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	PreferredStartDate *time.Time                  `json:"preferred_start_date"`
	PreferredClass     *string                     `json:"preferred_class" validate:"omitempty,min=1,max=50"`
	SpecialNeeds       *string                     `json:"special_needs" validate:"omitempty,max=2000"`
	MedicalInfo        *models.MedicalInfo         `json:"medical_info"`
	EmergencyContacts  models.EmergencyContacts    `json:"emergency_contacts" validate:"omitempty,dive"`
	AddDocuments       models.ApplicationDocuments `json:"add_documents" validate:"omitempty,dive"`
	RemoveDocumentType []string                    `json:"remove_document_types"`
	Notes              *string                     `json:"notes" validate:"omitempty,max=2000"`
}

// StartReviewRequest assigns a reviewer. An empty id falls back to the caller.
type StartReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// ApproveApplicationRequest records the review outcome. A nil score is
// replaced by the computed application score.
type ApproveApplicationRequest struct {
	Score *decimal.Decimal `json:"score"`
	Notes *string          `json:"notes" validate:"omitempty,max=2000"`
}

// RejectApplicationRequest carries the rejection reason.
type RejectApplicationRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// WaitlistApplicationRequest carries optional reviewer notes.
type WaitlistApplicationRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// CancelApplicationRequest carries the cancellation or withdrawal reason.
type CancelApplicationRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=1000"`
}
