package procurement

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newRequisition(items ...ItemID) *Requisition {
	req := &Requisition{ID: "req-1", Status: StatusScoringComplete, Title: "Lab equipment", TotalPrice: decimal.Zero}
	for _, id := range items {
		req.Items = append(req.Items, RequisitionItem{ID: id, Name: string(id), Quantity: 2, UnitPrice: money("100")})
	}
	return req
}

func line(id QuoteItemID, item ItemID, qty int, price string) QuoteItem {
	return QuoteItem{ID: id, RequisitionItemID: item, Name: string(item), Quantity: qty, UnitPrice: money(price), Status: AwardSubmitted}
}

// newQuote builds a Submitted quotation whose total is the sum of its lines.
func newQuote(id QuotationID, vendor VendorID, score string, lines ...QuoteItem) *Quotation {
	q := &Quotation{
		ID:                id,
		RequisitionID:     "req-1",
		VendorID:          vendor,
		VendorName:        string(vendor),
		Status:            AwardSubmitted,
		FinalAverageScore: money(score),
		TotalPrice:        decimal.Zero,
	}
	for _, l := range lines {
		l.QuotationID = id
		q.Items = append(q.Items, l)
		q.TotalPrice = q.TotalPrice.Add(l.LineTotal())
	}
	return q
}

// release does what NotifyVendors does to the aggregate.
func release(a *Aggregate) {
	a.Requisition.Status = StatusAwarded
	for _, s := range a.slots() {
		if s.status == AwardPending {
			s.set(AwardAwarded)
		}
	}
}

func vendorActor(v VendorID) Actor {
	return Actor{ID: UserID("u-" + v), Name: string(v), Roles: []Role{RoleVendor}, VendorID: v}
}

// allAggregate is four single-line quotations awarded under "all":
// q-a (90) wins, q-b (80) and q-c (70) stand by, q-d (60) is rejected.
func allAggregate() *Aggregate {
	req := newRequisition("item-1")
	quotes := []*Quotation{
		newQuote("q-a", "v-a", "90", line("qi-a", "item-1", 2, "1000")),
		newQuote("q-b", "v-b", "80", line("qi-b", "item-1", 2, "900")),
		newQuote("q-c", "v-c", "70", line("qi-c", "item-1", 2, "800")),
		newQuote("q-d", "v-d", "60", line("qi-d", "item-1", 2, "700")),
	}
	if _, err := ApplyAward(req, quotes, nil, StrategyAll); err != nil {
		panic(err)
	}
	return &Aggregate{Requisition: req, Quotations: quotes}
}

// itemAggregate is a per-item award over item-1 and item-2:
//
//	item-1: v-a 90 (rank 1), v-b 80, v-c 70
//	item-2: v-b 85 (rank 1), v-a 60
func itemAggregate() *Aggregate {
	req := newRequisition("item-1", "item-2")
	quotes := []*Quotation{
		newQuote("q-a", "v-a", "75", line("qa-1", "item-1", 2, "100"), line("qa-2", "item-2", 2, "50")),
		newQuote("q-b", "v-b", "82", line("qb-1", "item-1", 2, "110"), line("qb-2", "item-2", 2, "45")),
		newQuote("q-c", "v-c", "70", line("qc-1", "item-1", 2, "95")),
	}
	scores := map[QuoteItemID]decimal.Decimal{
		"qa-1": money("90"), "qa-2": money("60"),
		"qb-1": money("80"), "qb-2": money("85"),
		"qc-1": money("70"),
	}
	if _, err := ApplyAward(req, quotes, scores, StrategyItem); err != nil {
		panic(err)
	}
	return &Aggregate{Requisition: req, Quotations: quotes}
}

func detail(req *Requisition, item ItemID, vendor VendorID) AwardDetail {
	for _, d := range req.Item(item).AwardDetails {
		if d.VendorID == vendor {
			return d
		}
	}
	return AwardDetail{}
}
