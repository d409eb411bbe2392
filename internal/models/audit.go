package models

import "time"

// Audit actions recorded by the admission workflow.
const (
	AuditActionApplicationCreate     = "APPLICATION_CREATE"
	AuditActionApplicationUpdate     = "APPLICATION_UPDATE"
	AuditActionApplicationTransition = "APPLICATION_TRANSITION"
	AuditActionQuotaCreate           = "QUOTA_CREATE"
	AuditActionQuotaAdjust           = "QUOTA_ADJUST"
	AuditActionQuotaDelete           = "QUOTA_DELETE"
	AuditActionPlanCreate            = "PLAN_CREATE"
	AuditActionPlanUpdate            = "PLAN_UPDATE"
	AuditActionPlanStatus            = "PLAN_STATUS"
	AuditActionPlanPhase             = "PLAN_PHASE"
	AuditActionPlanDelete            = "PLAN_DELETE"
)

// Audit resources.
const (
	AuditResourceApplication = "enrollment_application"
	AuditResourceQuota       = "enrollment_quota"
	AuditResourcePlan        = "enrollment_plan"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
