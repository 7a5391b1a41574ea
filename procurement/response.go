/*
response.go - Vendor Response Handler

PURPOSE:
  Applies a vendor's accept or decline to the award slots of a loaded
  Aggregate, and the operator follow-ups (promote a standby, restart
  failed items). Functions here only mutate the aggregate; persistence,
  POs, audits and notifications are the service's job.

ACCEPT:
  1. requisition Closed/Fulfilled  → AlreadyClosedError
  2. caller must own the quotation → UnauthorizedError
  3. every targeted slot must be Pending_Award/Awarded → InvalidStateError
  4. targeted slots → Accepted; the accepted quote items are returned so
     the service can issue one PO scoped to exactly those lines

DECLINE:
  1. same guards as accept
  2. targeted slots → Declined
  3. declined vendors = every vendor with a Declined/Failed_to_Award slot
  4. per group, next Standby by rank excluding declined vendors
  5. standby found → requisition Award_Declined, operator promotes
     none found     → whole-RFQ reset (see reset.go), except under the
                      per-item strategy once some item was accepted: the
                      group is marked Failed_to_Award instead

REQUISITION STATUS (settle):
  any group without a live claim but with a decline  → Award_Declined
  else any group still outstanding                   → Awarded, or
                                                       Partially_PO_Created
                                                       once anything was accepted
  else                                               → PO_Created

SEE ALSO:
  - slots.go: awardSlot, the shared view over both strategies
  - reset.go: ResetForNewRFQ
  - service_award.go: transactional wrappers
*/
package procurement

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Response is a vendor's answer to an award.
type Response struct {
	QuotationID QuotationID
	// ItemIDs narrows a per-item award to some requisition items. Empty
	// means every outstanding item of the quotation. Ignored under "all".
	ItemIDs []ItemID
	Reason  string
}

// DeclineOutcome tells the service what the decline led to.
type DeclineOutcome struct {
	// ReadyForPromotion lists the standby quotations an operator can promote.
	ReadyForPromotion []QuotationID
	// FailedItems are per-item groups with no standby left.
	FailedItems []ItemID
	// ResetRequired means no standby is left anywhere and nothing was
	// accepted: the whole RFQ must be reset in the same transaction.
	ResetRequired bool
}

// Promotion is one standby moved up to Pending_Award.
type Promotion struct {
	Item        ItemID // empty under "all"
	QuotationID QuotationID
	VendorID    VendorID
	Value       decimal.Decimal
}

func (a *Aggregate) guardResponse(actor Actor, resp Response) (*Quotation, error) {
	req := a.Requisition
	if req.Status.IsClosed() {
		return nil, &AlreadyClosedError{RequisitionID: req.ID, Status: req.Status}
	}
	if req.Status != StatusAwarded && req.Status != StatusAwardDeclined && req.Status != StatusPartiallyPOCreated &&
		!slices.Contains(routedStatuses, req.Status) {
		return nil, invalidRequisitionState(req, "award has not been released to vendors")
	}
	q := a.Quotation(resp.QuotationID)
	if q == nil {
		return nil, notFound("quotation", resp.QuotationID)
	}
	if actor.VendorID != q.VendorID && !actor.HasRole(RoleAdmin) {
		return nil, unauthorized(actor, fmt.Sprintf("quotation %s belongs to another vendor", q.ID))
	}
	return q, nil
}

// targets picks the quotation's slots the response applies to.
func (a *Aggregate) targets(q *Quotation, itemIDs []ItemID) ([]*awardSlot, error) {
	var own []*awardSlot
	for _, s := range a.slots() {
		if s.quotationID == q.ID {
			own = append(own, s)
		}
	}
	if a.Requisition.AwardStrategy != StrategyItem {
		return own, nil
	}

	if len(itemIDs) == 0 {
		var out []*awardSlot
		for _, s := range own {
			if s.status.IsOutstanding() {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, &InvalidStateError{Entity: "quotation", ID: string(q.ID), Status: string(q.Status),
				Reason: "quotation has no award pending acceptance"}
		}
		return out, nil
	}

	var out []*awardSlot
	for _, id := range itemIDs {
		i := slices.IndexFunc(own, func(s *awardSlot) bool { return s.group == id })
		if i < 0 {
			return nil, &InvalidStateError{Entity: "quotation", ID: string(q.ID), Status: string(q.Status),
				Reason: fmt.Sprintf("item %s is not awarded to this quotation", id)}
		}
		out = append(out, own[i])
	}
	return out, nil
}

// requireOutstanding checks every slot still waits for an answer. While a
// promoted standby is in approval only awards already released may respond.
func (a *Aggregate) requireOutstanding(q *Quotation, slots []*awardSlot) error {
	inApproval := slices.Contains(routedStatuses, a.Requisition.Status)
	for _, s := range slots {
		if !s.status.IsOutstanding() {
			return &InvalidStateError{Entity: "quotation", ID: string(q.ID), Status: string(s.status),
				Reason: "award is not pending acceptance"}
		}
		if inApproval && s.status != AwardAwarded {
			return &InvalidStateError{Entity: "quotation", ID: string(q.ID), Status: string(s.status),
				Reason: "award is still pending approval"}
		}
	}
	return nil
}

// Accept marks the targeted awards Accepted and returns the accepted quote items.
func (a *Aggregate) Accept(actor Actor, resp Response) (*Quotation, []QuoteItem, error) {
	q, err := a.guardResponse(actor, resp)
	if err != nil {
		return nil, nil, err
	}
	targets, err := a.targets(q, resp.ItemIDs)
	if err != nil {
		return nil, nil, err
	}
	if err := a.requireOutstanding(q, targets); err != nil {
		return nil, nil, err
	}

	var lines []QuoteItem
	for _, s := range targets {
		s.set(AwardAccepted)
		for _, id := range s.quoteItems {
			if qi := q.Item(id); qi != nil {
				lines = append(lines, *qi)
			}
		}
	}
	return q, lines, nil
}

// Decline marks the targeted awards Declined and looks for standbys.
func (a *Aggregate) Decline(actor Actor, resp Response) (DeclineOutcome, error) {
	q, err := a.guardResponse(actor, resp)
	if err != nil {
		return DeclineOutcome{}, err
	}
	targets, err := a.targets(q, resp.ItemIDs)
	if err != nil {
		return DeclineOutcome{}, err
	}
	if err := a.requireOutstanding(q, targets); err != nil {
		return DeclineOutcome{}, err
	}
	for _, s := range targets {
		s.set(AwardDeclined)
		s.rerank(0)
	}

	slots := a.slots()
	declined := declinedVendors(slots)
	_, byGroup := groups(slots)

	var out DeclineOutcome
	var exhausted []*awardSlot
	for _, t := range targets {
		if standby := nextStandby(byGroup[t.group], declined); standby != nil {
			if !slices.Contains(out.ReadyForPromotion, standby.quotationID) {
				out.ReadyForPromotion = append(out.ReadyForPromotion, standby.quotationID)
			}
			continue
		}
		exhausted = append(exhausted, t)
	}
	if len(exhausted) == 0 {
		return out, nil
	}

	accepted := slices.ContainsFunc(slots, func(s *awardSlot) bool {
		return s.status == AwardAccepted || s.status == AwardInvoiceSubmitted
	})
	if a.Requisition.AwardStrategy != StrategyItem || (!accepted && len(out.ReadyForPromotion) == 0) {
		out.ResetRequired = true
		return out, nil
	}
	for _, s := range exhausted {
		s.set(AwardFailedToAward)
		out.FailedItems = append(out.FailedItems, s.group)
	}
	return out, nil
}

// SettledStatus is the requisition status implied by the award slots after
// a vendor response. ok is false when the slots don't imply a change.
func (a *Aggregate) SettledStatus() (RequisitionStatus, bool) {
	order, byGroup := groups(a.slots())
	var outstanding, accepted, needsOperator bool
	for _, g := range order {
		group := byGroup[g]
		for _, s := range group {
			switch {
			case s.status.IsOutstanding():
				outstanding = true
			case s.status == AwardAccepted || s.status == AwardInvoiceSubmitted:
				accepted = true
			}
		}
		if !groupSettled(group) && slices.ContainsFunc(group, func(s *awardSlot) bool {
			return s.status == AwardDeclined || s.status == AwardFailedToAward
		}) {
			needsOperator = true
		}
	}
	switch {
	case needsOperator:
		return StatusAwardDeclined, true
	case outstanding && accepted:
		return StatusPartiallyPOCreated, true
	case outstanding:
		return StatusAwarded, true
	case accepted:
		return StatusPOCreated, true
	}
	return "", false
}

// PromoteStandby moves the next eligible standby of every group without a
// live claim to Pending_Award at rank 1. Declined vendors are never promoted.
func (a *Aggregate) PromoteStandby() ([]Promotion, error) {
	req := a.Requisition
	slots := a.slots()
	declined := declinedVendors(slots)
	order, byGroup := groups(slots)

	var promoted []Promotion
	for _, g := range order {
		group := byGroup[g]
		if groupSettled(group) {
			continue
		}
		standby := nextStandby(group, declined)
		if standby == nil {
			continue
		}
		for _, s := range group {
			if s.rank == 1 {
				s.rerank(0)
			}
		}
		standby.set(AwardPending)
		standby.rerank(1)
		promoted = append(promoted, Promotion{Item: g, QuotationID: standby.quotationID, VendorID: standby.vendorID, Value: standby.value})
	}
	if len(promoted) == 0 {
		return nil, invalidRequisitionState(req, "no eligible standby to promote")
	}
	a.refreshAwardedItems()
	return promoted, nil
}

// AwardValue is the value of every live or accepted award.
func (a *Aggregate) AwardValue() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.slots() {
		if s.status.IsOutstanding() || s.status == AwardAccepted || s.status == AwardInvoiceSubmitted {
			total = total.Add(s.value)
		}
	}
	return total
}

// RestartItems marks Failed_to_Award items as Restarted so they no longer
// block closure. Items with an accepted award are never restarted.
func (a *Aggregate) RestartItems(itemIDs []ItemID) ([]ItemID, error) {
	req := a.Requisition
	if req.AwardStrategy != StrategyItem {
		return nil, invalidRequisitionState(req, "only per-item awards can restart individual items")
	}
	order, byGroup := groups(a.slots())
	var restarted []ItemID
	for _, g := range order {
		if len(itemIDs) > 0 && !slices.Contains(itemIDs, g) {
			continue
		}
		group := byGroup[g]
		if !slices.ContainsFunc(group, func(s *awardSlot) bool { return s.status == AwardFailedToAward }) {
			continue
		}
		for _, s := range group {
			if s.status == AwardFailedToAward || s.status == AwardStandby {
				s.set(AwardRestarted)
			}
		}
		restarted = append(restarted, g)
	}
	for _, id := range itemIDs {
		if !slices.Contains(restarted, id) {
			return nil, &InvalidStateError{Entity: "requisition item", ID: string(id),
				Reason: fmt.Sprintf("item %s has no failed award to restart", id)}
		}
	}
	if len(restarted) == 0 {
		return nil, invalidRequisitionState(req, "no failed items to restart")
	}
	a.refreshAwardedItems()
	return restarted, nil
}

// refreshAwardedItems rebuilds awardedQuoteItemIds from the live claims.
func (a *Aggregate) refreshAwardedItems() {
	var ids []QuoteItemID
	for _, s := range a.slots() {
		if s.status.IsOutstanding() || s.status == AwardAccepted || s.status == AwardInvoiceSubmitted {
			ids = append(ids, s.quoteItems...)
		}
	}
	a.Requisition.AwardedQuoteItemIDs = ids
}
