package procurement

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// poTransitions are the manual PO moves. Delivery statuses only come from
// goods receipts.
var poTransitions = map[POStatus][]POStatus{
	POIssued:             {POAcknowledged, POShipped, POCancelled},
	POAcknowledged:       {POShipped, POCancelled},
	POShipped:            {POCancelled},
	POPartiallyDelivered: {POCancelled},
}

// loadPO loads a purchase order and its requisition aggregate.
func (t *txn) loadPO(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, *Aggregate, error) {
	po, err := t.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a, err := t.loadAggregate(ctx, po.RequisitionID)
	if err != nil {
		return nil, nil, err
	}
	return po, a, nil
}

// UpdatePOStatus records vendor acknowledgement/shipping or a cancellation.
func (s *Service) UpdatePOStatus(ctx context.Context, actor Actor, id PurchaseOrderID, to POStatus) (*PurchaseOrder, error) {
	var out *PurchaseOrder
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		po, a, err := t.loadPO(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case actor.HasRole(RoleProcurementOfficer, RoleAdmin):
		case actor.VendorID == po.VendorID && to != POCancelled:
		default:
			return unauthorized(actor, fmt.Sprintf("cannot move purchase order %s to %s", po.ID, to))
		}
		if !slices.Contains(poTransitions[po.Status], to) {
			return &InvalidStateError{Entity: "purchase_order", ID: string(po.ID), Status: string(po.Status),
				Reason: fmt.Sprintf("purchase order cannot move to %s", to)}
		}
		from := po.Status
		po.Status = to
		po.UpdatedAt = t.now
		if err := t.SavePurchaseOrder(ctx, po); err != nil {
			return err
		}
		if err := s.afterDelivery(ctx, t, a); err != nil {
			return err
		}
		out = po
		return t.audit(ctx, po.RequisitionID, AuditUpdatePO, "purchase_order", string(po.ID),
			fmt.Sprintf("%s → %s", from, to))
	})
	return out, err
}

// afterDelivery moves a requisition whose POs are all delivered or
// cancelled to Delivered, and closes it if everything is already paid.
func (s *Service) afterDelivery(ctx context.Context, t *txn, a *Aggregate) error {
	req := a.Requisition
	if req.Status != StatusPOCreated {
		return nil
	}
	pos, err := t.ListPurchaseOrders(ctx, req.ID)
	if err != nil {
		return err
	}
	if !AllDelivered(pos) {
		return nil
	}
	if err := req.Transition(StatusDelivered); err != nil {
		return err
	}
	req.UpdatedAt = t.now
	if err := t.SaveRequisition(ctx, req); err != nil {
		return err
	}
	_, err = closeIfComplete(ctx, t, req)
	return err
}

type ReceiptInput struct {
	Lines []ReceiptLine
	Notes string
}

// ReceiveGoods books delivered quantities against a PO. A PO whose lines are
// all fully received becomes Delivered.
func (s *Service) ReceiveGoods(ctx context.Context, actor Actor, id PurchaseOrderID, in ReceiptInput) (GoodsReceipt, error) {
	if err := requireRole(actor, "receiving goods", RoleReceiving, RoleProcurementOfficer, RoleAdmin); err != nil {
		return GoodsReceipt{}, err
	}
	if len(in.Lines) == 0 {
		return GoodsReceipt{}, &ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	var out GoodsReceipt
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		po, a, err := t.loadPO(ctx, id)
		if err != nil {
			return err
		}
		if po.Status.IsTerminal() {
			return &InvalidStateError{Entity: "purchase_order", ID: string(po.ID), Status: string(po.Status),
				Reason: "purchase order no longer accepts deliveries"}
		}
		for i, l := range in.Lines {
			idx := slices.IndexFunc(po.Items, func(it POItem) bool { return it.QuoteItemID == l.QuoteItemID })
			if idx < 0 {
				return &ValidationError{Field: fmt.Sprintf("lines[%d]", i), Reason: fmt.Sprintf("%s is not on purchase order %s", l.QuoteItemID, po.ID)}
			}
			line := &po.Items[idx]
			if l.Quantity <= 0 {
				return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Reason: "must be positive"}
			}
			if line.ReceivedQuantity+l.Quantity > line.Quantity {
				return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i),
					Reason: fmt.Sprintf("receiving %d would exceed ordered %d (already received %d)", l.Quantity, line.Quantity, line.ReceivedQuantity)}
			}
			line.ReceivedQuantity += l.Quantity
		}

		po.Status = PODelivered
		for _, it := range po.Items {
			if it.ReceivedQuantity < it.Quantity {
				po.Status = POPartiallyDelivered
				break
			}
		}
		po.UpdatedAt = t.now
		if err := t.SavePurchaseOrder(ctx, po); err != nil {
			return err
		}
		out = GoodsReceipt{
			ID:              ReceiptID(newID()),
			PurchaseOrderID: po.ID,
			ReceivedBy:      actor.ID,
			Lines:           slices.Clone(in.Lines),
			Notes:           in.Notes,
			ReceivedAt:      t.now,
		}
		if err := t.AddReceipt(ctx, out); err != nil {
			return err
		}
		if err := s.afterDelivery(ctx, t, a); err != nil {
			return err
		}
		return t.audit(ctx, po.RequisitionID, AuditReceiveGoods, "purchase_order", string(po.ID),
			fmt.Sprintf("%d lines received, purchase order %s", len(in.Lines), po.Status))
	})
	return out, err
}

// SubmitInvoice records the vendor's invoice for a purchase order.
func (s *Service) SubmitInvoice(ctx context.Context, actor Actor, id PurchaseOrderID, amount decimal.Decimal) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	var out *Invoice
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		po, a, err := t.loadPO(ctx, id)
		if err != nil {
			return err
		}
		if actor.VendorID != po.VendorID && !actor.HasRole(RoleFinance, RoleAdmin) {
			return unauthorized(actor, fmt.Sprintf("purchase order %s belongs to another vendor", po.ID))
		}
		if req := a.Requisition; req.Status.IsClosed() {
			return &AlreadyClosedError{RequisitionID: req.ID, Status: req.Status}
		}
		if po.Status == POCancelled {
			return &InvalidStateError{Entity: "purchase_order", ID: string(po.ID), Status: string(po.Status),
				Reason: "cannot invoice a cancelled purchase order"}
		}
		existing, err := t.ListInvoices(ctx, po.RequisitionID)
		if err != nil {
			return err
		}
		invoiced := decimal.Zero
		for _, inv := range existing {
			if inv.PurchaseOrderID == po.ID {
				invoiced = invoiced.Add(inv.Amount)
			}
		}
		if invoiced.Add(amount).GreaterThan(po.TotalAmount) {
			return &ValidationError{Field: "amount",
				Reason: fmt.Sprintf("invoices would total %s, above the purchase order's %s", invoiced.Add(amount).StringFixed(2), po.TotalAmount.StringFixed(2))}
		}

		inv := &Invoice{
			ID:              InvoiceID(newID()),
			PurchaseOrderID: po.ID,
			RequisitionID:   po.RequisitionID,
			VendorID:        po.VendorID,
			Amount:          amount,
			Status:          InvoicePending,
			SubmittedAt:     t.now,
		}
		if err := t.SaveInvoice(ctx, inv); err != nil {
			return err
		}

		for _, sl := range a.slots() {
			if sl.status == AwardAccepted && sl.quotationID == po.QuotationID && slices.ContainsFunc(sl.quoteItems, func(id QuoteItemID) bool {
				return slices.ContainsFunc(po.Items, func(it POItem) bool { return it.QuoteItemID == id })
			}) {
				sl.set(AwardInvoiceSubmitted)
			}
		}
		if err := t.saveAggregate(ctx, a); err != nil {
			return err
		}
		out = inv
		return t.audit(ctx, po.RequisitionID, AuditSubmitInvoice, "invoice", string(inv.ID),
			fmt.Sprintf("%s against purchase order %s", amount.StringFixed(2), po.ID))
	})
	return out, err
}

// PayInvoice marks an invoice paid and closes the requisition when that
// was the last open obligation.
func (s *Service) PayInvoice(ctx context.Context, actor Actor, id InvoiceID) (*Invoice, error) {
	if err := requireRole(actor, "paying an invoice", RoleFinance, RoleAdmin); err != nil {
		return nil, err
	}
	var out *Invoice
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		inv, err := t.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoicePending {
			return &InvalidStateError{Entity: "invoice", ID: string(inv.ID), Status: string(inv.Status),
				Reason: "only pending invoices can be paid"}
		}
		paidAt := t.now
		inv.Status = InvoicePaid
		inv.PaidAt = &paidAt
		if err := t.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		if err := t.audit(ctx, inv.RequisitionID, AuditPayInvoice, "invoice", string(inv.ID), inv.Amount.StringFixed(2)); err != nil {
			return err
		}

		req, err := t.GetRequisition(ctx, inv.RequisitionID)
		if err != nil {
			return err
		}
		if req.Status == StatusDelivered {
			if err := req.Transition(StatusPaid); err != nil {
				return err
			}
			req.UpdatedAt = t.now
			if err := t.SaveRequisition(ctx, req); err != nil {
				return err
			}
		}
		if _, err := closeIfComplete(ctx, t, req); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// closeIfComplete closes req when the completion tracker allows it.
func closeIfComplete(ctx context.Context, t *txn, req *Requisition) (bool, error) {
	pos, err := t.ListPurchaseOrders(ctx, req.ID)
	if err != nil {
		return false, err
	}
	invoices, err := t.ListInvoices(ctx, req.ID)
	if err != nil {
		return false, err
	}
	if err := CheckCompletion(req, pos, invoices); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return false, nil
		}
		return false, err
	}
	if !CanTransition(req.Status, StatusClosed) {
		return false, nil
	}
	if err := req.Transition(StatusClosed); err != nil {
		return false, err
	}
	req.UpdatedAt = t.now
	if err := t.SaveRequisition(ctx, req); err != nil {
		return false, err
	}
	return true, t.audit(ctx, req.ID, AuditCloseRequisition, "requisition", string(req.ID), "all deliveries and invoices settled")
}

// CloseRequisition closes a requisition, failing with the first open
// obligation if it is not complete.
func (s *Service) CloseRequisition(ctx context.Context, actor Actor, id RequisitionID) (*Requisition, error) {
	if err := requireRole(actor, "closing a requisition", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		pos, err := t.ListPurchaseOrders(ctx, req.ID)
		if err != nil {
			return err
		}
		invoices, err := t.ListInvoices(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := CheckCompletion(req, pos, invoices); err != nil {
			return err
		}
		if err := req.Transition(StatusClosed); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditCloseRequisition, "requisition", string(req.ID), "closed by operator")
	})
}

// CloseIfComplete is the sweep used by the completion scheduler. It reports
// whether the requisition was closed.
func (s *Service) CloseIfComplete(ctx context.Context, id RequisitionID) (bool, error) {
	var closed bool
	err := s.tx(ctx, SystemActor, func(ctx context.Context, t *txn) error {
		req, err := t.GetRequisition(ctx, id)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return nil
		}
		closed, err = closeIfComplete(ctx, t, req)
		return err
	})
	return closed, err
}
