/*
lifecycle.go - Requisition Lifecycle State Machine

PURPOSE:
  Enforces the legal status transitions of a requisition. Every status
  change in the service goes through Transition, so an out-of-order call
  (e.g. awarding before scoring is complete) fails with InvalidStateError
  instead of being silently corrected.

FLOW:
  Draft → Pending_Approval → PreApproved → Accepting_Quotes
        → Scoring_In_Progress → Scoring_Complete
        → Pending_<Role>_Approval (one or more) → PostApproved → Awarded
        → Partially_PO_Created / PO_Created → Delivered → Paid → Closed

  Side branches:
    Pending_Approval → Rejected              (terminal)
    Awarded → Award_Declined → Pending_* / PostApproved   (standby promoted)
    Awarded / Award_Declined → PreApproved   (all standbys exhausted)
    any RFQ-stage status → PreApproved       (operator restarts the RFQ)
    any pre-PO status → Cancelled            (terminal)

SEE ALSO:
  - service*.go: the only callers of Transition
*/
package procurement

import (
	"fmt"
	"slices"
)

var approvalStatuses = []RequisitionStatus{
	StatusPendingCommitteeB,
	StatusPendingCommitteeA,
	StatusPendingManagerial,
	StatusPendingDirector,
	StatusPendingVP,
	StatusPendingPresident,
}

// IsApprovalStatus reports whether status means "waiting for an award approver".
func IsApprovalStatus(s RequisitionStatus) bool { return slices.Contains(approvalStatuses, s) }

// IsTerminal reports whether the requisition can no longer change.
func (s RequisitionStatus) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusFulfilled, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsClosed is the race guard used by vendor responses.
func (s RequisitionStatus) IsClosed() bool { return s == StatusClosed || s == StatusFulfilled }

// routedStatuses are the targets of the approval resolver.
var routedStatuses = append(slices.Clone(approvalStatuses), StatusPostApproved)

var transitions = map[RequisitionStatus][]RequisitionStatus{
	StatusDraft:              {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval:    {StatusPreApproved, StatusRejected, StatusDraft, StatusCancelled},
	StatusPreApproved:        {StatusAcceptingQuotes, StatusCancelled},
	StatusAcceptingQuotes:    {StatusScoringInProgress, StatusPreApproved, StatusCancelled},
	StatusScoringInProgress:  {StatusScoringComplete, StatusPreApproved, StatusCancelled},
	StatusScoringComplete:    append(slices.Clone(routedStatuses), StatusPreApproved, StatusCancelled),
	StatusPostApproved:       {StatusAwarded, StatusScoringComplete, StatusPreApproved, StatusCancelled},
	StatusAwarded:            {StatusAwardDeclined, StatusPartiallyPOCreated, StatusPOCreated, StatusPreApproved},
	StatusAwardDeclined:      append(slices.Clone(routedStatuses), StatusAwarded, StatusPreApproved, StatusPartiallyPOCreated, StatusPOCreated),
	StatusPartiallyPOCreated: {StatusPOCreated, StatusAwardDeclined},
	StatusPOCreated:          {StatusDelivered, StatusClosed},
	StatusDelivered:          {StatusPaid, StatusClosed, StatusFulfilled},
	StatusPaid:               {StatusClosed, StatusFulfilled},
}

func init() {
	// An approver may pass the award on to any later step, or send it back.
	for _, s := range approvalStatuses {
		transitions[s] = append(slices.Clone(routedStatuses), StatusScoringComplete, StatusPreApproved, StatusCancelled)
	}
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to RequisitionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Transition moves the requisition to a new status or explains why it cannot.
func (r *Requisition) Transition(to RequisitionStatus) error {
	if r.Status == to {
		return nil
	}
	if r.Status.IsTerminal() {
		return invalidRequisitionState(r, fmt.Sprintf("cannot move a %s requisition to %s", r.Status, to))
	}
	if !CanTransition(r.Status, to) {
		return invalidRequisitionState(r, fmt.Sprintf("transition %s → %s is not allowed", r.Status, to))
	}
	r.Status = to
	return nil
}

// requireStatus fails unless the requisition is in one of the allowed statuses.
func requireStatus(r *Requisition, reason string, allowed ...RequisitionStatus) error {
	if slices.Contains(allowed, r.Status) {
		return nil
	}
	return invalidRequisitionState(r, reason)
}
