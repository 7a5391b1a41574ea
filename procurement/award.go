/*
award.go - Award Strategy Engine

PURPOSE:
  Computes winners for a requisition under one of two strategies and writes
  the ranked outcome onto the quotations and requisition items.

STRATEGIES:
  "all"  - one vendor wins everything
    1. eligible quotations = not Declined
    2. stable sort by finalAverageScore, descending
    3. rank 1 → Pending_Award, ranks 2..3 → Standby, rest → Rejected
    4. winner's quote items become awardedQuoteItemIds
    5. award value = winner's total price

  "item" - each requisition item goes to its own best bidder
    1. per vendor keep one champion bid per item (highest item score,
       first seen wins ties)
    2. stable sort champions by score, descending
    3. top → Pending_Award rank 1, next ≤2 → Standby, stored as the item's
       AwardDetails (empty when nobody bid)
    4. award value = Σ winning unit price × winning quantity
    5. quotation status is rolled up from its details

TIE-BREAK:
  Equal scores keep input order (stable sort). Input order is quotation
  submission order as loaded by the store.

SLOTS:
  Both strategies expose their outcome as awardSlots (see slots.go) so the
  response handler works on one representation instead of two parallel
  status tracks.

SEE ALSO:
  - scoring.go: where the scores come from
  - approval.go: routes the resulting value
  - response.go: vendor accept/reject against these outcomes
*/
package procurement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MaxStandbys is how many runner-up bids are retained as fallbacks.
const MaxStandbys = 2

// AwardResult summarizes a strategy run.
type AwardResult struct {
	Strategy            AwardStrategy
	Value               decimal.Decimal
	AwardedQuoteItemIDs []QuoteItemID
	Winners             []QuotationID // distinct winning quotations in rank/item order
	UnawardedItems      []ItemID      // per-item strategy: items nobody bid on
}

// ApplyAward runs the strategy and mutates req and quotes in place.
// itemScores holds each quote item's average score across scorers; it is
// only consulted by the per-item strategy.
func ApplyAward(req *Requisition, quotes []*Quotation, itemScores map[QuoteItemID]decimal.Decimal, strategy AwardStrategy) (AwardResult, error) {
	if !strategy.Valid() {
		return AwardResult{}, &ValidationError{Field: "award_strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	var eligible []*Quotation
	for _, q := range quotes {
		if q.Status == AwardDeclined {
			continue
		}
		eligible = append(eligible, q)
	}
	if len(eligible) == 0 {
		return AwardResult{}, &ValidationError{Field: "quotations", Reason: "no eligible quotations to award"}
	}

	// Clear any previous outcome before writing the new one.
	req.AwardedQuoteItemIDs = nil
	for i := range req.Items {
		req.Items[i].AwardDetails = nil
	}
	for _, q := range eligible {
		q.Rank = nil
	}

	req.AwardStrategy = strategy
	if strategy == StrategyAll {
		return awardAll(req, eligible), nil
	}
	return awardPerItem(req, eligible, itemScores)
}

func awardAll(req *Requisition, eligible []*Quotation) AwardResult {
	ranked := append([]*Quotation(nil), eligible...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalAverageScore.GreaterThan(ranked[j].FinalAverageScore)
	})

	for i, q := range ranked {
		switch {
		case i == 0:
			q.Rank = intPtr(1)
			setQuoteStatus(q, AwardPending)
		case i <= MaxStandbys:
			q.Rank = intPtr(i + 1)
			setQuoteStatus(q, AwardStandby)
		default:
			q.Rank = nil
			setQuoteStatus(q, AwardRejected)
		}
	}

	winner := ranked[0]
	result := AwardResult{Strategy: StrategyAll, Value: winner.TotalPrice, Winners: []QuotationID{winner.ID}}
	for _, qi := range winner.Items {
		result.AwardedQuoteItemIDs = append(result.AwardedQuoteItemIDs, qi.ID)
	}
	req.AwardedQuoteItemIDs = result.AwardedQuoteItemIDs
	req.TotalPrice = result.Value
	return result
}

func awardPerItem(req *Requisition, eligible []*Quotation, itemScores map[QuoteItemID]decimal.Decimal) (AwardResult, error) {
	result := AwardResult{Strategy: StrategyItem, Value: decimal.Zero}
	byID := make(map[QuotationID]*Quotation, len(eligible))
	for _, q := range eligible {
		byID[q.ID] = q
		for i := range q.Items {
			q.Items[i].Status = AwardRejected
		}
	}

	for i := range req.Items {
		item := &req.Items[i]
		champions := championBids(item.ID, eligible, itemScores)
		if len(champions) == 0 {
			result.UnawardedItems = append(result.UnawardedItems, item.ID)
			continue
		}
		sort.SliceStable(champions, func(a, b int) bool { return champions[a].Score.GreaterThan(champions[b].Score) })
		if len(champions) > MaxStandbys+1 {
			champions = champions[:MaxStandbys+1]
		}
		for rank := range champions {
			d := &champions[rank]
			d.Rank = rank + 1
			d.Status = AwardStandby
			if rank == 0 {
				d.Status = AwardPending
			}
			byID[d.QuotationID].Item(d.QuoteItemID).Status = d.Status
		}
		item.AwardDetails = champions

		winner := champions[0]
		result.Value = result.Value.Add(winner.UnitPrice.Mul(decimal.NewFromInt(int64(winner.Quantity))))
		result.AwardedQuoteItemIDs = append(result.AwardedQuoteItemIDs, winner.QuoteItemID)
		if !containsQuotation(result.Winners, winner.QuotationID) {
			result.Winners = append(result.Winners, winner.QuotationID)
		}
	}
	if len(result.AwardedQuoteItemIDs) == 0 {
		return AwardResult{}, &ValidationError{Field: "quotations", Reason: "no quotation bids on any requisition item"}
	}

	for _, q := range eligible {
		q.Rank = nil
		rollupQuotation(req, q)
	}
	req.AwardedQuoteItemIDs = result.AwardedQuoteItemIDs
	req.TotalPrice = result.Value
	return result, nil
}

// championBids returns one bid per vendor for the item, in first-seen vendor order.
func championBids(itemID ItemID, eligible []*Quotation, itemScores map[QuoteItemID]decimal.Decimal) []AwardDetail {
	var champions []AwardDetail
	index := make(map[VendorID]int)
	for _, q := range eligible {
		for _, qi := range q.Items {
			if qi.RequisitionItemID != itemID {
				continue
			}
			bid := AwardDetail{
				VendorID:    q.VendorID,
				VendorName:  q.VendorName,
				QuotationID: q.ID,
				QuoteItemID: qi.ID,
				UnitPrice:   qi.UnitPrice,
				Quantity:    qi.Quantity,
				Score:       itemScores[qi.ID],
			}
			if at, ok := index[q.VendorID]; ok {
				if bid.Score.GreaterThan(champions[at].Score) {
					champions[at] = bid
				}
				continue
			}
			index[q.VendorID] = len(champions)
			champions = append(champions, bid)
		}
	}
	return champions
}

// rollupQuotation derives a quotation's status from its per-item details.
// The most actionable status wins.
func rollupQuotation(req *Requisition, q *Quotation) {
	seen := make(map[AwardStatus]bool)
	for _, item := range req.Items {
		for _, d := range item.AwardDetails {
			if d.QuotationID == q.ID {
				seen[d.Status] = true
			}
		}
	}
	for _, s := range []AwardStatus{AwardPending, AwardAwarded, AwardAccepted, AwardInvoiceSubmitted, AwardStandby, AwardDeclined, AwardFailedToAward} {
		if seen[s] {
			if s == AwardFailedToAward {
				s = AwardDeclined
			}
			q.Status = s
			return
		}
	}
	q.Status = AwardRejected
}

// setQuoteStatus sets a quotation and all of its items to status.
func setQuoteStatus(q *Quotation, status AwardStatus) {
	q.Status = status
	for i := range q.Items {
		q.Items[i].Status = status
	}
}

func containsQuotation(ids []QuotationID, id QuotationID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func intPtr(i int) *int { return &i }
