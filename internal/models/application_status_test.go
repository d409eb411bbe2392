package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from   ApplicationStatus
		event  ApplicationEvent
		to     ApplicationStatus
		effect LedgerEffect
	}{
		{StatusDraft, EventSubmit, StatusSubmitted, LedgerReserve},
		{StatusDraft, EventSubmitWaitlist, StatusWaitlisted, LedgerNone},
		{StatusSubmitted, EventStartReview, StatusUnderReview, LedgerNone},
		{StatusUnderReview, EventApprove, StatusApproved, LedgerNone},
		{StatusUnderReview, EventReject, StatusRejected, LedgerRelease},
		{StatusUnderReview, EventWaitlist, StatusWaitlisted, LedgerRelease},
		{StatusApproved, EventEnroll, StatusEnrolled, LedgerConsume},
		{StatusWaitlisted, EventPromote, StatusApproved, LedgerReserve},
		{StatusWaitlisted, EventEnroll, StatusEnrolled, LedgerReserveConsume},
		{StatusApproved, EventCancel, StatusCancelled, LedgerReleaseIfHeld},
		{StatusWaitlisted, EventCancel, StatusCancelled, LedgerNone},
		{StatusEnrolled, EventWithdraw, StatusCancelled, LedgerVacate},
	}
	for _, tc := range cases {
		rule, err := Transition(tc.from, tc.event)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.event)
		assert.Equal(t, tc.to, rule.To)
		assert.Equal(t, tc.effect, rule.Effect)
	}
}

func TestTransitionRejectsUnknownEdges(t *testing.T) {
	cases := []struct {
		from  ApplicationStatus
		event ApplicationEvent
	}{
		{StatusDraft, EventApprove},
		{StatusSubmitted, EventApprove},
		{StatusRejected, EventCancel},
		{StatusCancelled, EventSubmit},
		{StatusEnrolled, EventCancel},
		{StatusApproved, EventReject},
	}
	for _, tc := range cases {
		_, err := Transition(tc.from, tc.event)
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	}
}

func TestInvalidTransitionListsAllowedStatuses(t *testing.T) {
	_, err := Transition(StatusSubmitted, EventEnroll)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, []ApplicationStatus{StatusCancelled, StatusUnderReview}, appErr.Details["allowed"])
}

func TestEveryNonTerminalStatusCanCancel(t *testing.T) {
	for _, status := range []ApplicationStatus{StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved, StatusWaitlisted} {
		rule, err := Transition(status, EventCancel)
		require.NoError(t, err, status)
		assert.Equal(t, StatusCancelled, rule.To)
		assert.False(t, status.Terminal())
	}
	for _, status := range []ApplicationStatus{StatusEnrolled, StatusRejected, StatusCancelled} {
		assert.True(t, status.Terminal())
		_, err := Transition(status, EventCancel)
		assert.Error(t, err)
	}
}

func TestTransitionsAreSortedCopy(t *testing.T) {
	rules := Transitions()
	require.NotEmpty(t, rules)
	for i := 1; i < len(rules); i++ {
		assert.LessOrEqual(t, string(rules[i-1].From), string(rules[i].From))
	}
}
