/*
completion.go - Goods-Receipt/Invoice Completion Tracker

PURPOSE:
  Decides whether a requisition has finished its fulfilment cycle and may
  be closed.

RULES:
  single vendor ("all"):
    - at least one PO Delivered, every PO Delivered or Cancelled
    - every delivered PO has an invoice
    - every invoice is Paid
    - paid invoices add up to each delivered PO's total

  per item ("item"), each requisition item must be one of:
    - never awarded (no award details)
    - Accepted, and the PO carrying it is paid in full
    - Restarted
  A Failed_to_Award item blocks closure until an operator restarts it.

SEE ALSO:
  - service_fulfillment.go: PayInvoice closes automatically when ready
  - api/scheduler.go: CompletionScheduler sweeps stragglers
*/
package procurement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CheckCompletion returns nil when the requisition may be closed, or an
// InvalidStateError naming what is still open.
func CheckCompletion(req *Requisition, pos []*PurchaseOrder, invoices []*Invoice) error {
	if req.Status.IsClosed() {
		return &AlreadyClosedError{RequisitionID: req.ID, Status: req.Status}
	}
	if len(pos) == 0 {
		return invalidRequisitionState(req, "no purchase orders have been issued")
	}
	byPO := make(map[PurchaseOrderID][]*Invoice)
	for _, inv := range invoices {
		byPO[inv.PurchaseOrderID] = append(byPO[inv.PurchaseOrderID], inv)
	}
	if req.AwardStrategy == StrategyItem {
		return checkItemCompletion(req, pos, byPO)
	}

	delivered := 0
	for _, po := range pos {
		if !po.Status.IsTerminal() {
			return invalidRequisitionState(req, fmt.Sprintf("purchase order %s is %s", po.ID, po.Status))
		}
		if po.Status == PODelivered {
			delivered++
			if len(byPO[po.ID]) == 0 {
				return invalidRequisitionState(req, fmt.Sprintf("purchase order %s has no invoice", po.ID))
			}
		}
	}
	if delivered == 0 {
		return invalidRequisitionState(req, "nothing has been delivered")
	}
	for _, inv := range invoices {
		if inv.Status != InvoicePaid {
			return invalidRequisitionState(req, fmt.Sprintf("invoice %s is %s", inv.ID, inv.Status))
		}
	}
	for _, po := range pos {
		if po.Status != PODelivered {
			continue
		}
		if total := invoicedTotal(byPO[po.ID]); !total.Equal(po.TotalAmount) {
			return invalidRequisitionState(req, fmt.Sprintf("purchase order %s is invoiced %s of %s",
				po.ID, total.StringFixed(2), po.TotalAmount.StringFixed(2)))
		}
	}
	return nil
}

func checkItemCompletion(req *Requisition, pos []*PurchaseOrder, byPO map[PurchaseOrderID][]*Invoice) error {
	for _, item := range req.Items {
		if len(item.AwardDetails) == 0 {
			continue
		}
		var accepted *AwardDetail
		restarted := false
		for i, d := range item.AwardDetails {
			switch d.Status {
			case AwardFailedToAward:
				return invalidRequisitionState(req, fmt.Sprintf("item %s failed to award and must be restarted", item.ID))
			case AwardRestarted:
				restarted = true
			case AwardAccepted, AwardInvoiceSubmitted:
				accepted = &item.AwardDetails[i]
			}
		}
		if restarted {
			continue
		}
		if accepted == nil {
			return invalidRequisitionState(req, fmt.Sprintf("item %s has no accepted award", item.ID))
		}
		po := poForQuoteItem(pos, accepted.QuoteItemID)
		if po == nil {
			return invalidRequisitionState(req, fmt.Sprintf("item %s has no purchase order", item.ID))
		}
		if !paidInFull(po, byPO[po.ID]) {
			return invalidRequisitionState(req, fmt.Sprintf("item %s is not paid (purchase order %s)", item.ID, po.ID))
		}
	}
	return nil
}

func poForQuoteItem(pos []*PurchaseOrder, id QuoteItemID) *PurchaseOrder {
	for _, po := range pos {
		if po.Status == POCancelled {
			continue
		}
		for _, line := range po.Items {
			if line.QuoteItemID == id {
				return po
			}
		}
	}
	return nil
}

// paidInFull reports whether every invoice is Paid and together they cover
// the purchase order's total.
func paidInFull(po *PurchaseOrder, invoices []*Invoice) bool {
	if len(invoices) == 0 {
		return false
	}
	for _, inv := range invoices {
		if inv.Status != InvoicePaid {
			return false
		}
	}
	return invoicedTotal(invoices).Equal(po.TotalAmount)
}

func invoicedTotal(invoices []*Invoice) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.Amount)
	}
	return total
}

// AllDelivered reports whether every PO reached a terminal delivery status
// and at least one was delivered.
func AllDelivered(pos []*PurchaseOrder) bool {
	delivered := false
	for _, po := range pos {
		if !po.Status.IsTerminal() {
			return false
		}
		delivered = delivered || po.Status == PODelivered
	}
	return delivered
}
