package models

import (
	"fmt"
	"sort"

	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// ApplicationStatus is the lifecycle state of an application.
type ApplicationStatus string

const (
	StatusDraft       ApplicationStatus = "draft"
	StatusSubmitted   ApplicationStatus = "submitted"
	StatusUnderReview ApplicationStatus = "under_review"
	StatusApproved    ApplicationStatus = "approved"
	StatusRejected    ApplicationStatus = "rejected"
	StatusWaitlisted  ApplicationStatus = "waitlisted"
	StatusEnrolled    ApplicationStatus = "enrolled"
	StatusCancelled   ApplicationStatus = "cancelled"
)

// Valid reports whether the status is known.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved,
		StatusRejected, StatusWaitlisted, StatusEnrolled, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no regular transition leaves the status.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusEnrolled || s == StatusRejected || s == StatusCancelled
}

// ApplicationEvent drives a status transition.
type ApplicationEvent string

const (
	EventSubmit         ApplicationEvent = "submit"
	EventSubmitWaitlist ApplicationEvent = "submit_waitlist"
	EventStartReview    ApplicationEvent = "start_review"
	EventApprove        ApplicationEvent = "approve"
	EventReject         ApplicationEvent = "reject"
	EventWaitlist       ApplicationEvent = "waitlist"
	EventEnroll         ApplicationEvent = "enroll"
	EventPromote        ApplicationEvent = "promote"
	EventCancel         ApplicationEvent = "cancel"
	EventWithdraw       ApplicationEvent = "withdraw"
)

// LedgerEffect names the quota operation paired with a transition.
type LedgerEffect string

const (
	LedgerNone           LedgerEffect = ""
	LedgerReserve        LedgerEffect = "reserve"
	LedgerRelease        LedgerEffect = "release"
	LedgerConsume        LedgerEffect = "consume"
	LedgerReserveConsume LedgerEffect = "reserve_consume"
	LedgerReleaseIfHeld  LedgerEffect = "release_if_held"
	LedgerVacate         LedgerEffect = "vacate"
)

// TransitionRule describes one edge of the application state machine.
type TransitionRule struct {
	From   ApplicationStatus
	Event  ApplicationEvent
	To     ApplicationStatus
	Effect LedgerEffect
}

type transitionKey struct {
	from  ApplicationStatus
	event ApplicationEvent
}

var transitionTable = buildTransitionTable([]TransitionRule{
	{From: StatusDraft, Event: EventSubmit, To: StatusSubmitted, Effect: LedgerReserve},
	{From: StatusDraft, Event: EventSubmitWaitlist, To: StatusWaitlisted},
	{From: StatusSubmitted, Event: EventStartReview, To: StatusUnderReview},
	{From: StatusUnderReview, Event: EventApprove, To: StatusApproved},
	{From: StatusUnderReview, Event: EventReject, To: StatusRejected, Effect: LedgerRelease},
	{From: StatusUnderReview, Event: EventWaitlist, To: StatusWaitlisted, Effect: LedgerRelease},
	{From: StatusApproved, Event: EventEnroll, To: StatusEnrolled, Effect: LedgerConsume},
	{From: StatusWaitlisted, Event: EventPromote, To: StatusApproved, Effect: LedgerReserve},
	{From: StatusWaitlisted, Event: EventApprove, To: StatusApproved, Effect: LedgerReserve},
	{From: StatusWaitlisted, Event: EventEnroll, To: StatusEnrolled, Effect: LedgerReserveConsume},
	{From: StatusDraft, Event: EventCancel, To: StatusCancelled},
	{From: StatusSubmitted, Event: EventCancel, To: StatusCancelled, Effect: LedgerReleaseIfHeld},
	{From: StatusUnderReview, Event: EventCancel, To: StatusCancelled, Effect: LedgerReleaseIfHeld},
	{From: StatusApproved, Event: EventCancel, To: StatusCancelled, Effect: LedgerReleaseIfHeld},
	{From: StatusWaitlisted, Event: EventCancel, To: StatusCancelled},
	{From: StatusEnrolled, Event: EventWithdraw, To: StatusCancelled, Effect: LedgerVacate},
})

func buildTransitionTable(rules []TransitionRule) map[transitionKey]TransitionRule {
	table := make(map[transitionKey]TransitionRule, len(rules))
	for _, rule := range rules {
		key := transitionKey{from: rule.From, event: rule.Event}
		if _, dup := table[key]; dup {
			panic(fmt.Sprintf("duplicate transition %s --%s-->", rule.From, rule.Event))
		}
		table[key] = rule
	}
	return table
}

// Transition resolves the next status for event, or an InvalidTransition
// error listing the statuses reachable from current.
func Transition(current ApplicationStatus, event ApplicationEvent) (TransitionRule, error) {
	if rule, ok := transitionTable[transitionKey{from: current, event: event}]; ok {
		return rule, nil
	}
	allowed := AllowedNextStatuses(current)
	err := appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s an application in status %s", event, current))
	return TransitionRule{}, appErrors.WithDetails(err, "allowed", allowed)
}

// AllowedNextStatuses lists the distinct statuses reachable from current.
func AllowedNextStatuses(current ApplicationStatus) []ApplicationStatus {
	seen := map[ApplicationStatus]struct{}{}
	allowed := []ApplicationStatus{}
	for key, rule := range transitionTable {
		if key.from != current {
			continue
		}
		if _, ok := seen[rule.To]; ok {
			continue
		}
		seen[rule.To] = struct{}{}
		allowed = append(allowed, rule.To)
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}

// Transitions returns a copy of the full table, ordered for display.
func Transitions() []TransitionRule {
	rules := make([]TransitionRule, 0, len(transitionTable))
	for _, rule := range transitionTable {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].From != rules[j].From {
			return rules[i].From < rules[j].From
		}
		return rules[i].Event < rules[j].Event
	})
	return rules
}
