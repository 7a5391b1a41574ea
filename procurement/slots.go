package procurement

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Aggregate is a requisition with its quotations, loaded inside one
// transaction so award decisions see a consistent picture.
type Aggregate struct {
	Requisition *Requisition
	Quotations  []*Quotation
}

func (a *Aggregate) Quotation(id QuotationID) *Quotation {
	for _, q := range a.Quotations {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// awardSlot is one award claim: a whole quotation under the "all" strategy,
// or one item detail under the "item" strategy. The strategy only decides
// which grouping is authoritative; everything downstream reads slots.
type awardSlot struct {
	group       ItemID // "" for the single quotation-level group
	quotationID QuotationID
	vendorID    VendorID
	rank        int // 0 = unranked
	status      AwardStatus
	value       decimal.Decimal
	quoteItems  []QuoteItemID

	setStatus func(AwardStatus)
	setRank   func(int)
}

func (a *Aggregate) slots() []*awardSlot {
	req := a.Requisition
	if req.AwardStrategy == StrategyItem {
		return a.itemSlots()
	}
	var out []*awardSlot
	for _, q := range a.Quotations {
		q := q
		s := &awardSlot{
			quotationID: q.ID,
			vendorID:    q.VendorID,
			status:      q.Status,
			value:       q.TotalPrice,
		}
		if q.Rank != nil {
			s.rank = *q.Rank
		}
		for _, qi := range q.Items {
			s.quoteItems = append(s.quoteItems, qi.ID)
		}
		s.setStatus = func(st AwardStatus) { setQuoteStatus(q, st) }
		s.setRank = func(r int) {
			if r == 0 {
				q.Rank = nil
				return
			}
			q.Rank = intPtr(r)
		}
		out = append(out, s)
	}
	return out
}

func (a *Aggregate) itemSlots() []*awardSlot {
	req := a.Requisition
	var out []*awardSlot
	for i := range req.Items {
		item := &req.Items[i]
		for j := range item.AwardDetails {
			d := &item.AwardDetails[j]
			q := a.Quotation(d.QuotationID)
			out = append(out, &awardSlot{
				group:       item.ID,
				quotationID: d.QuotationID,
				vendorID:    d.VendorID,
				rank:        d.Rank,
				status:      d.Status,
				value:       d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity))),
				quoteItems:  []QuoteItemID{d.QuoteItemID},
				setStatus: func(st AwardStatus) {
					d.Status = st
					if q != nil {
						if qi := q.Item(d.QuoteItemID); qi != nil {
							qi.Status = st
						}
						rollupQuotation(req, q)
					}
				},
				setRank: func(r int) { d.Rank = r },
			})
		}
	}
	return out
}

func (s *awardSlot) set(st AwardStatus) {
	s.status = st
	s.setStatus(st)
}

func (s *awardSlot) rerank(r int) {
	s.rank = r
	s.setRank(r)
}

// groups splits slots by their authoritative grouping, keeping first-seen order.
func groups(slots []*awardSlot) (order []ItemID, byGroup map[ItemID][]*awardSlot) {
	byGroup = make(map[ItemID][]*awardSlot)
	for _, s := range slots {
		if _, ok := byGroup[s.group]; !ok {
			order = append(order, s.group)
		}
		byGroup[s.group] = append(byGroup[s.group], s)
	}
	return order, byGroup
}

// declinedVendors is every vendor that ever turned down an award on this
// requisition. They are never promoted again, on any item.
func declinedVendors(slots []*awardSlot) map[VendorID]bool {
	out := make(map[VendorID]bool)
	for _, s := range slots {
		if s.status == AwardDeclined || s.status == AwardFailedToAward {
			out[s.vendorID] = true
		}
	}
	return out
}

// nextStandby is the lowest-ranked Standby in the group not held by a declined vendor.
func nextStandby(group []*awardSlot, declined map[VendorID]bool) *awardSlot {
	var best *awardSlot
	for _, s := range group {
		if s.status != AwardStandby || declined[s.vendorID] || s.rank == 0 {
			continue
		}
		if best == nil || s.rank < best.rank {
			best = s
		}
	}
	return best
}

// groupSettled reports whether the group has a live or finished claim.
func groupSettled(group []*awardSlot) bool {
	return slices.ContainsFunc(group, func(s *awardSlot) bool {
		return s.status.IsOutstanding() || s.status == AwardAccepted || s.status == AwardRestarted ||
			s.status == AwardInvoiceSubmitted
	})
}
