package procurement

import "github.com/shopspring/decimal"

// resettableStatuses are the statuses an operator may restart the RFQ from.
// Once a PO exists the cycle can only finish or fail item by item.
var resettableStatuses = []RequisitionStatus{
	StatusAcceptingQuotes,
	StatusScoringInProgress,
	StatusScoringComplete,
	StatusPendingCommitteeB,
	StatusPendingCommitteeA,
	StatusPendingManagerial,
	StatusPendingDirector,
	StatusPendingVP,
	StatusPendingPresident,
	StatusPostApproved,
	StatusAwarded,
	StatusAwardDeclined,
}

// CanResetForNewRFQ reports whether the RFQ may be restarted. Accepted or
// invoiced awards pin the cycle.
func (a *Aggregate) CanResetForNewRFQ() error {
	req := a.Requisition
	if req.Status.IsClosed() {
		return &AlreadyClosedError{RequisitionID: req.ID, Status: req.Status}
	}
	if err := requireStatus(req, "RFQ can only be restarted between sending it and issuing a PO", resettableStatuses...); err != nil {
		return err
	}
	for _, s := range a.slots() {
		if s.status == AwardAccepted || s.status == AwardInvoiceSubmitted {
			return invalidRequisitionState(req, "cannot restart the RFQ after an award was accepted")
		}
	}
	return nil
}

// ResetForNewRFQ returns the requisition to PreApproved and every quotation
// to Submitted, clearing deadlines, committee assignments and award data.
// Score sets live outside the aggregate; the service deletes them in the
// same transaction (Tx.DeleteScoreSets).
func (a *Aggregate) ResetForNewRFQ() error {
	req := a.Requisition
	if err := req.Transition(StatusPreApproved); err != nil {
		return err
	}

	req.RFQ.QuoteDeadline = nil
	req.ScoringDeadline = nil
	req.AwardResponseDeadline = nil
	req.FinancialCommittee = nil
	req.TechnicalCommittee = nil
	req.CommitteeName = ""
	req.CommitteePurpose = ""
	req.AwardStrategy = ""
	req.AwardedQuoteItemIDs = nil
	req.TotalPrice = decimal.Zero
	req.CurrentApproverID = nil
	for i := range req.Items {
		req.Items[i].AwardDetails = nil
	}

	for _, q := range a.Quotations {
		q.Rank = nil
		q.FinalAverageScore = decimal.Zero
		setQuoteStatus(q, AwardSubmitted)
	}
	return nil
}
