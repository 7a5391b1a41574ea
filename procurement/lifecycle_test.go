package procurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RequisitionStatus
		want     bool
	}{
		{StatusDraft, StatusPendingApproval, true},
		{StatusPendingApproval, StatusPreApproved, true},
		{StatusPendingApproval, StatusRejected, true},
		{StatusPreApproved, StatusAcceptingQuotes, true},
		{StatusAcceptingQuotes, StatusScoringInProgress, true},
		{StatusScoringInProgress, StatusScoringComplete, true},
		{StatusScoringComplete, StatusPendingManagerial, true},
		{StatusScoringComplete, StatusPostApproved, true},
		{StatusPendingCommitteeB, StatusPendingManagerial, true},
		{StatusPendingDirector, StatusPostApproved, true},
		{StatusPendingDirector, StatusScoringComplete, true},
		{StatusPostApproved, StatusAwarded, true},
		{StatusAwarded, StatusAwardDeclined, true},
		{StatusAwarded, StatusPreApproved, true},
		{StatusAwardDeclined, StatusPendingManagerial, true},
		{StatusPartiallyPOCreated, StatusPOCreated, true},
		{StatusPOCreated, StatusDelivered, true},
		{StatusDelivered, StatusPaid, true},
		{StatusPaid, StatusClosed, true},

		{StatusDraft, StatusAwarded, false},
		{StatusAcceptingQuotes, StatusScoringComplete, false},
		{StatusScoringInProgress, StatusPendingManagerial, false},
		{StatusScoringComplete, StatusAwarded, false},
		{StatusPOCreated, StatusPreApproved, false},
		{StatusPartiallyPOCreated, StatusCancelled, false},
		{StatusClosed, StatusPaid, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition(t *testing.T) {
	t.Run("legal move", func(t *testing.T) {
		r := &Requisition{ID: "r", Status: StatusDraft}
		require.NoError(t, r.Transition(StatusPendingApproval))
		assert.Equal(t, StatusPendingApproval, r.Status)
	})
	t.Run("same status is a no-op", func(t *testing.T) {
		r := &Requisition{ID: "r", Status: StatusAwarded}
		assert.NoError(t, r.Transition(StatusAwarded))
	})
	t.Run("illegal move names both statuses", func(t *testing.T) {
		r := &Requisition{ID: "r", Status: StatusAcceptingQuotes}
		err := r.Transition(StatusAwarded)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Contains(t, err.Error(), "Accepting_Quotes → Awarded")
		assert.Equal(t, StatusAcceptingQuotes, r.Status)
	})
	t.Run("terminal requisitions never move", func(t *testing.T) {
		for _, s := range []RequisitionStatus{StatusClosed, StatusFulfilled, StatusRejected, StatusCancelled} {
			r := &Requisition{ID: "r", Status: s}
			assert.ErrorIs(t, r.Transition(StatusDraft), ErrInvalidState, "from %s", s)
		}
	})
}

func TestRequisitionStatus_Predicates(t *testing.T) {
	assert.True(t, StatusClosed.IsClosed())
	assert.True(t, StatusFulfilled.IsClosed())
	assert.False(t, StatusCancelled.IsClosed())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, IsApprovalStatus(StatusPendingVP))
	assert.False(t, IsApprovalStatus(StatusPostApproved))
}
