package procurement

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

type FinalizeInput struct {
	Strategy      AwardStrategy
	Justification string
}

// FinalizeAward runs the award strategy over the scored quotations, routes
// the award value through the approval matrix and records the decision.
// It touches every quotation and item, so it runs under FinalizeTimeout.
func (s *Service) FinalizeAward(ctx context.Context, actor Actor, id RequisitionID, in FinalizeInput) (*Requisition, error) {
	if err := requireRole(actor, "finalizing an award", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	if !in.Strategy.Valid() {
		return nil, &ValidationError{Field: "strategy", Reason: fmt.Sprintf("must be %q or %q", StrategyAll, StrategyItem)}
	}

	var out *Requisition
	err := s.withTx(ctx, s.Config.FinalizeTimeout, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if err := requireStatus(req, "award can only be finalized once scoring is complete", StatusScoringComplete); err != nil {
			return err
		}
		sets, err := t.ListScoreSets(ctx, req.ID)
		if err != nil {
			return err
		}

		// 1. Rank and assign
		result, err := ApplyAward(req, a.Quotations, ItemAverages(sets), in.Strategy)
		if err != nil {
			return err
		}

		// 2. Route the value
		routing, err := s.Matrix.Resolve(ctx, t, result.Value)
		if err != nil {
			return err
		}
		if err := s.route(t, req, routing); err != nil {
			return err
		}

		// 3. Persist, minute, audit
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}
		decision := fmt.Sprintf("award finalized (%s strategy), value %s, routed to %s", result.Strategy, result.Value.StringFixed(2), routing.Status)
		if err := t.minute(ctx, req.ID, decision, in.Justification); err != nil {
			return err
		}
		out = req
		return t.audit(ctx, req.ID, AuditFinalizeAward, "requisition", string(req.ID),
			fmt.Sprintf("%s; winners %v; tier %q", decision, result.Winners, routing.TierName))
	})
	return out, err
}

// route applies a resolver decision to the requisition and queues the
// approver notification.
func (s *Service) route(t *txn, req *Requisition, routing Routing) error {
	if err := req.Transition(routing.Status); err != nil {
		return err
	}
	req.CurrentApproverID = routing.ApproverID
	if routing.Approved() {
		return nil
	}
	n := Notification{
		Kind:          NotifyApprovalRequired,
		RequisitionID: req.ID,
		Subject:       fmt.Sprintf("Award for %q awaits %s", req.Title, routing.Role),
	}
	if routing.ApproverID != nil {
		n.UserIDs = []UserID{*routing.ApproverID}
	}
	t.notify(n)
	return nil
}

// authorizeApprover checks the actor may act on the current approval step:
// the named approver, or any holder of the step's committee role.
func (s *Service) authorizeApprover(actor Actor, req *Requisition) error {
	if !IsApprovalStatus(req.Status) {
		return invalidRequisitionState(req, "award is not awaiting approval")
	}
	if req.CurrentApproverID != nil {
		if actor.ID != *req.CurrentApproverID {
			return unauthorized(actor, "only the assigned approver can act on this step")
		}
		return nil
	}
	role, err := s.Matrix.CurrentRole(req.TotalPrice, req.Status)
	if err != nil {
		return err
	}
	if !actor.HasRole(role) {
		return unauthorized(actor, fmt.Sprintf("step requires role %s", role))
	}
	return nil
}

// ApproveAward signs off the current approval step and moves the award to
// the next step, or to PostApproved after the last one.
func (s *Service) ApproveAward(ctx context.Context, actor Actor, id RequisitionID, comment string) (*Requisition, error) {
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := s.authorizeApprover(actor, req); err != nil {
			return err
		}
		from := req.Status
		routing, err := s.Matrix.Advance(ctx, t, req.TotalPrice, from)
		if err != nil {
			return err
		}
		if err := s.route(t, req, routing); err != nil {
			return err
		}
		decision := fmt.Sprintf("%s approved, next %s", from, routing.Status)
		if err := t.minute(ctx, req.ID, decision, comment); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditApproveAward, "requisition", string(req.ID), decision)
	})
}

// RejectAward sends a fresh award back to Scoring_Complete so it can be
// finalized again. A vendor that declined any line keeps its whole
// quotation Declined, so re-finalizing never awards it again.
func (s *Service) RejectAward(ctx context.Context, actor Actor, id RequisitionID, reason string) (*Requisition, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "a rejection reason is required"}
	}
	var out *Requisition
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if err := s.authorizeApprover(actor, req); err != nil {
			return err
		}
		if slices.ContainsFunc(a.slots(), func(sl *awardSlot) bool {
			return sl.status == AwardAccepted || sl.status == AwardInvoiceSubmitted
		}) {
			return invalidRequisitionState(req, "award has accepted lines and cannot be sent back to scoring")
		}

		declined := declinedVendors(a.slots())

		from := req.Status
		if err := req.Transition(StatusScoringComplete); err != nil {
			return err
		}
		req.AwardedQuoteItemIDs = nil
		req.TotalPrice = decimal.Zero
		req.CurrentApproverID = nil
		req.AwardStrategy = ""
		for i := range req.Items {
			req.Items[i].AwardDetails = nil
		}
		for _, q := range a.Quotations {
			q.Rank = nil
			if declined[q.VendorID] || q.Status == AwardDeclined {
				setQuoteStatus(q, AwardDeclined)
				continue
			}
			setQuoteStatus(q, AwardSubmitted)
		}
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}
		if err := t.minute(ctx, req.ID, fmt.Sprintf("%s rejected the award", from), reason); err != nil {
			return err
		}
		out = req
		return t.audit(ctx, req.ID, AuditRejectAward, "requisition", string(req.ID), reason)
	})
	return out, err
}

// NotifyVendors releases an approved award to the winning vendors.
func (s *Service) NotifyVendors(ctx context.Context, actor Actor, id RequisitionID) (*Requisition, error) {
	if err := requireRole(actor, "notifying vendors", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	var out *Requisition
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if err := requireStatus(req, "award must be fully approved before vendors are notified", StatusPostApproved); err != nil {
			return err
		}
		if err := req.Transition(StatusAwarded); err != nil {
			return err
		}

		var vendors []VendorID
		for _, sl := range a.slots() {
			if sl.status == AwardPending {
				sl.set(AwardAwarded)
				if !slices.Contains(vendors, sl.vendorID) {
					vendors = append(vendors, sl.vendorID)
				}
			}
		}
		deadline := t.now.Add(s.Config.AwardResponseWindow)
		req.AwardResponseDeadline = &deadline
		req.CurrentApproverID = nil
		if err := settle(req, a); err != nil {
			return err
		}
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}

		t.notify(Notification{
			Kind:          NotifyAwarded,
			RequisitionID: req.ID,
			VendorIDs:     vendors,
			Subject:       fmt.Sprintf("You have been awarded on %q", req.Title),
			Body:          fmt.Sprintf("Please respond by %s.", deadline.Format("2006-01-02 15:04 MST")),
		})
		out = req
		return t.audit(ctx, req.ID, AuditNotifyVendors, "requisition", string(req.ID),
			fmt.Sprintf("notified %d vendors, respond by %s", len(vendors), deadline.Format("2006-01-02")))
	})
	return out, err
}

// settle moves the requisition to the status its award slots imply, while
// it is in a vendor-response status.
func settle(req *Requisition, a *Aggregate) error {
	switch req.Status {
	case StatusAwarded, StatusAwardDeclined, StatusPartiallyPOCreated:
	default:
		return nil
	}
	if to, ok := a.SettledStatus(); ok {
		return req.Transition(to)
	}
	return nil
}

// AcceptAward records a vendor's acceptance and issues a purchase order for
// exactly the accepted lines. Acceptance is refused once the award response
// deadline has passed; a late decline is still recorded.
func (s *Service) AcceptAward(ctx context.Context, actor Actor, id RequisitionID, resp Response) (*PurchaseOrder, error) {
	var out *PurchaseOrder
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if !req.Status.IsClosed() && deadlinePassed(req.AwardResponseDeadline, t.now) {
			return invalidRequisitionState(req, "award response deadline has passed")
		}
		q, lines, err := a.Accept(actor, resp)
		if err != nil {
			return err
		}

		po := &PurchaseOrder{
			ID:            PurchaseOrderID(newID()),
			RequisitionID: req.ID,
			VendorID:      q.VendorID,
			QuotationID:   q.ID,
			TotalAmount:   decimal.Zero,
			Status:        POIssued,
			CreatedAt:     t.now,
			UpdatedAt:     t.now,
		}
		for _, l := range lines {
			po.Items = append(po.Items, POItem{
				QuoteItemID:       l.ID,
				RequisitionItemID: l.RequisitionItemID,
				Name:              l.Name,
				Quantity:          l.Quantity,
				UnitPrice:         l.UnitPrice,
			})
			po.TotalAmount = po.TotalAmount.Add(l.LineTotal())
		}
		if err := settle(req, a); err != nil {
			return err
		}
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}
		if err := t.SavePurchaseOrder(ctx, po); err != nil {
			return err
		}

		if err := t.audit(ctx, req.ID, AuditAcceptAward, "quotation", string(q.ID),
			fmt.Sprintf("vendor %s accepted %d lines", q.VendorID, len(lines))); err != nil {
			return err
		}
		if err := t.audit(ctx, req.ID, AuditCreatePO, "purchase_order", string(po.ID),
			fmt.Sprintf("issued to %s for %s", po.VendorID, po.TotalAmount.StringFixed(2))); err != nil {
			return err
		}
		t.notify(Notification{
			Kind:          NotifyPurchaseOrder,
			RequisitionID: req.ID,
			VendorIDs:     []VendorID{po.VendorID},
			Subject:       fmt.Sprintf("Purchase order %s issued", po.ID),
		})
		out = po
		return nil
	})
	return out, err
}

// DeclineAward records a vendor's refusal. With a standby left the
// requisition waits in Award_Declined for an operator; with none left the
// whole RFQ is reset in the same transaction.
func (s *Service) DeclineAward(ctx context.Context, actor Actor, id RequisitionID, resp Response) (DeclineOutcome, error) {
	var out DeclineOutcome
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		outcome, err := a.Decline(actor, resp)
		if err != nil {
			return err
		}
		out = outcome

		details := fmt.Sprintf("quotation %s declined", resp.QuotationID)
		if len(resp.ItemIDs) > 0 {
			details += fmt.Sprintf(" for items %v", resp.ItemIDs)
		}
		if resp.Reason != "" {
			details += ": " + resp.Reason
		}
		if err := t.audit(ctx, req.ID, AuditDeclineAward, "quotation", string(resp.QuotationID), details); err != nil {
			return err
		}

		if outcome.ResetRequired {
			return s.resetRFQ(ctx, t, a, "all standbys exhausted after "+details)
		}

		for _, qid := range outcome.ReadyForPromotion {
			if err := t.audit(ctx, req.ID, AuditStandbyReady, "quotation", string(qid),
				fmt.Sprintf("standby quotation %s ready for promotion", qid)); err != nil {
				return err
			}
		}
		for _, item := range outcome.FailedItems {
			if err := t.audit(ctx, req.ID, AuditFailedToAward, "requisition_item", string(item),
				"no standby left; item needs a restarted RFQ"); err != nil {
				return err
			}
		}
		if err := settle(req, a); err != nil {
			return err
		}
		if len(outcome.ReadyForPromotion) > 0 {
			t.notify(Notification{
				Kind:          NotifyStandbyReady,
				RequisitionID: req.ID,
				Subject:       fmt.Sprintf("Award on %q declined; a standby is ready for promotion", req.Title),
			})
		}
		return t.saveAggregate(ctx, a)
	})
	return out, err
}

// PromoteStandby is the operator step after a decline: the next eligible
// standby becomes the award and is routed for approval again.
func (s *Service) PromoteStandby(ctx context.Context, actor Actor, id RequisitionID, justification string) ([]Promotion, error) {
	if err := requireRole(actor, "promoting a standby", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	var out []Promotion
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if err := requireStatus(req, "standby can only be promoted after a vendor declined", StatusAwardDeclined); err != nil {
			return err
		}
		promoted, err := a.PromoteStandby()
		if err != nil {
			return err
		}

		req.TotalPrice = a.AwardValue()
		routing, err := s.Matrix.Resolve(ctx, t, req.TotalPrice)
		if err != nil {
			return err
		}
		if err := s.route(t, req, routing); err != nil {
			return err
		}
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}

		var parts []string
		for _, p := range promoted {
			part := fmt.Sprintf("quotation %s (vendor %s)", p.QuotationID, p.VendorID)
			if p.Item != "" {
				part += " for item " + string(p.Item)
			}
			parts = append(parts, part)
		}
		decision := fmt.Sprintf("promoted %s; award value %s routed to %s",
			strings.Join(parts, ", "), req.TotalPrice.StringFixed(2), routing.Status)
		if err := t.minute(ctx, req.ID, decision, justification); err != nil {
			return err
		}
		out = promoted
		return t.audit(ctx, req.ID, AuditPromoteStandby, "requisition", string(req.ID), decision)
	})
	return out, err
}

// ResetForNewRFQ lets an operator restart the bidding round.
func (s *Service) ResetForNewRFQ(ctx context.Context, actor Actor, id RequisitionID, reason string) (*Requisition, error) {
	if err := requireRole(actor, "restarting an RFQ", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	var out *Requisition
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		if err := a.CanResetForNewRFQ(); err != nil {
			return err
		}
		out = a.Requisition
		return s.resetRFQ(ctx, t, a, reason)
	})
	return out, err
}

// resetRFQ resets the aggregate, deletes every score set of the requisition
// and saves, all inside the caller's transaction.
func (s *Service) resetRFQ(ctx context.Context, t *txn, a *Aggregate, reason string) error {
	req := a.Requisition
	if err := a.ResetForNewRFQ(); err != nil {
		return err
	}
	removed, err := t.DeleteScoreSets(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("deleting score sets: %w", err)
	}
	if err := t.saveAggregate(ctx, a); err != nil {
		return err
	}

	var vendors []VendorID
	for _, q := range a.Quotations {
		vendors = append(vendors, q.VendorID)
	}
	t.notify(Notification{
		Kind:          NotifyRFQReopened,
		RequisitionID: req.ID,
		VendorIDs:     vendors,
		Subject:       fmt.Sprintf("RFQ for %q has been reopened", req.Title),
	})
	return t.audit(ctx, req.ID, AuditResetRFQ, "requisition", string(req.ID),
		fmt.Sprintf("%s; %d quotations reset, %d score sets removed", reason, len(a.Quotations), removed))
}

// RestartItems marks per-item awards that failed as Restarted so they stop
// blocking closure. Empty itemIDs restarts every failed item.
func (s *Service) RestartItems(ctx context.Context, actor Actor, id RequisitionID, itemIDs []ItemID) (*Requisition, error) {
	if err := requireRole(actor, "restarting items", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	var out *Requisition
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if req.Status.IsClosed() {
			return &AlreadyClosedError{RequisitionID: req.ID, Status: req.Status}
		}
		restarted, err := a.RestartItems(itemIDs)
		if err != nil {
			return err
		}
		req.TotalPrice = a.AwardValue()
		if err := settle(req, a); err != nil {
			return err
		}
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}
		out = req
		return t.audit(ctx, req.ID, AuditRestartItems, "requisition", string(req.ID),
			fmt.Sprintf("restarted items %v", restarted))
	})
	return out, err
}
