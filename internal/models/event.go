package models

import "time"

// DomainEventType names an admission event published to subscribers.
type DomainEventType string

const (
	EventApplicationSubmitted   DomainEventType = "ApplicationSubmitted"
	EventApplicationUnderReview DomainEventType = "ApplicationUnderReview"
	EventApplicationApproved    DomainEventType = "ApplicationApproved"
	EventApplicationWaitlisted  DomainEventType = "ApplicationWaitlisted"
	EventApplicationRejected    DomainEventType = "ApplicationRejected"
	EventApplicationEnrolled    DomainEventType = "ApplicationEnrolled"
	EventApplicationCancelled   DomainEventType = "ApplicationCancelled"
	EventSlotPromoted           DomainEventType = "SlotPromoted"
)

// DomainEvent is the payload handed to the notification dispatcher.
type DomainEvent struct {
	ID            string            `json:"id"`
	Type          DomainEventType   `json:"type"`
	ApplicationID string            `json:"application_id"`
	StudentID     string            `json:"student_id"`
	ParentID      string            `json:"parent_id"`
	PlanID        string            `json:"plan_id,omitempty"`
	NewStatus     ApplicationStatus `json:"new_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      Metadata          `json:"metadata,omitempty"`
}

// EventForStatus maps the status an application entered onto its event.
func EventForStatus(status ApplicationStatus) (DomainEventType, bool) {
	switch status {
	case StatusSubmitted:
		return EventApplicationSubmitted, true
	case StatusUnderReview:
		return EventApplicationUnderReview, true
	case StatusApproved:
		return EventApplicationApproved, true
	case StatusWaitlisted:
		return EventApplicationWaitlisted, true
	case StatusRejected:
		return EventApplicationRejected, true
	case StatusEnrolled:
		return EventApplicationEnrolled, true
	case StatusCancelled:
		return EventApplicationCancelled, true
	}
	return "", false
}
