package procurement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// "all" STRATEGY
// =============================================================================

func TestApplyAward_All_RanksTopThree(t *testing.T) {
	// GIVEN: Four quotations submitted out of score order
	req := newRequisition("item-1")
	quotes := []*Quotation{
		newQuote("q-a", "v-a", "70", line("qi-a", "item-1", 2, "800")),
		newQuote("q-b", "v-b", "90", line("qi-b", "item-1", 2, "1000")),
		newQuote("q-c", "v-c", "60", line("qi-c", "item-1", 2, "700")),
		newQuote("q-d", "v-d", "80", line("qi-d", "item-1", 2, "900")),
	}

	// WHEN: The single-vendor strategy runs
	result, err := ApplyAward(req, quotes, nil, StrategyAll)

	// THEN: Highest score wins, the next two stand by, the rest are rejected
	require.NoError(t, err)
	assert.Equal(t, []QuotationID{"q-b"}, result.Winners)
	assert.True(t, result.Value.Equal(money("2000")))
	assert.True(t, req.TotalPrice.Equal(money("2000")))
	assert.Equal(t, []QuoteItemID{"qi-b"}, req.AwardedQuoteItemIDs)
	assert.Equal(t, StrategyAll, req.AwardStrategy)

	want := map[QuotationID]struct {
		rank   int
		status AwardStatus
	}{
		"q-b": {1, AwardPending},
		"q-d": {2, AwardStandby},
		"q-a": {3, AwardStandby},
		"q-c": {0, AwardRejected},
	}
	for _, q := range quotes {
		w := want[q.ID]
		assert.Equal(t, w.status, q.Status, "quotation %s", q.ID)
		assert.Equal(t, w.status, q.Items[0].Status, "quote item of %s", q.ID)
		if w.rank == 0 {
			assert.Nil(t, q.Rank, "quotation %s", q.ID)
		} else {
			require.NotNil(t, q.Rank, "quotation %s", q.ID)
			assert.Equal(t, w.rank, *q.Rank, "quotation %s", q.ID)
		}
	}
}

func TestApplyAward_All_TieKeepsSubmissionOrder(t *testing.T) {
	req := newRequisition("item-1")
	quotes := []*Quotation{
		newQuote("q-first", "v-1", "75", line("qi-1", "item-1", 1, "10")),
		newQuote("q-second", "v-2", "75", line("qi-2", "item-1", 1, "5")),
	}

	result, err := ApplyAward(req, quotes, nil, StrategyAll)

	require.NoError(t, err)
	assert.Equal(t, []QuotationID{"q-first"}, result.Winners)
	assert.Equal(t, AwardStandby, quotes[1].Status)
}

func TestApplyAward_SkipsDeclinedQuotations(t *testing.T) {
	req := newRequisition("item-1")
	declined := newQuote("q-gone", "v-gone", "99", line("qi-gone", "item-1", 1, "10"))
	declined.Status = AwardDeclined
	quotes := []*Quotation{declined, newQuote("q-ok", "v-ok", "50", line("qi-ok", "item-1", 1, "10"))}

	result, err := ApplyAward(req, quotes, nil, StrategyAll)

	require.NoError(t, err)
	assert.Equal(t, []QuotationID{"q-ok"}, result.Winners)
	assert.Equal(t, AwardDeclined, declined.Status)
	assert.Nil(t, declined.Rank)
}

func TestApplyAward_Rejects(t *testing.T) {
	t.Run("unknown strategy", func(t *testing.T) {
		_, err := ApplyAward(newRequisition("item-1"), nil, nil, "cheapest")
		assert.ErrorIs(t, err, ErrValidation)
	})
	t.Run("nothing eligible", func(t *testing.T) {
		q := newQuote("q-1", "v-1", "50", line("qi-1", "item-1", 1, "10"))
		q.Status = AwardDeclined
		_, err := ApplyAward(newRequisition("item-1"), []*Quotation{q}, nil, StrategyAll)
		assert.ErrorIs(t, err, ErrValidation)
	})
	t.Run("per item with no matching bids", func(t *testing.T) {
		q := newQuote("q-1", "v-1", "50", line("qi-1", "item-9", 1, "10"))
		_, err := ApplyAward(newRequisition("item-1"), []*Quotation{q}, nil, StrategyItem)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

// =============================================================================
// "item" STRATEGY
// =============================================================================

func TestApplyAward_PerItem_EachItemToItsBestBid(t *testing.T) {
	a := itemAggregate()
	req := a.Requisition

	// item-1: v-a, v-b, v-c by score
	item1 := req.Item("item-1").AwardDetails
	require.Len(t, item1, 3)
	assert.Equal(t, []VendorID{"v-a", "v-b", "v-c"}, []VendorID{item1[0].VendorID, item1[1].VendorID, item1[2].VendorID})
	assert.Equal(t, []int{1, 2, 3}, []int{item1[0].Rank, item1[1].Rank, item1[2].Rank})
	assert.Equal(t, AwardPending, item1[0].Status)
	assert.Equal(t, AwardStandby, item1[1].Status)
	assert.Equal(t, AwardStandby, item1[2].Status)

	// item-2: v-b beats v-a
	item2 := req.Item("item-2").AwardDetails
	require.Len(t, item2, 2)
	assert.Equal(t, VendorID("v-b"), item2[0].VendorID)
	assert.Equal(t, AwardPending, item2[0].Status)
	assert.Equal(t, AwardStandby, item2[1].Status)

	// 2×100 for item-1 from v-a, 2×45 for item-2 from v-b
	assert.True(t, req.TotalPrice.Equal(money("290")), "got %s", req.TotalPrice)
	assert.ElementsMatch(t, []QuoteItemID{"qa-1", "qb-2"}, req.AwardedQuoteItemIDs)

	// quotation status is rolled up from details, quotations carry no rank
	qa, qb, qc := a.Quotation("q-a"), a.Quotation("q-b"), a.Quotation("q-c")
	assert.Equal(t, AwardPending, qa.Status)
	assert.Equal(t, AwardPending, qb.Status)
	assert.Equal(t, AwardStandby, qc.Status)
	assert.Nil(t, qa.Rank)
	assert.Equal(t, AwardStandby, qa.Item("qa-2").Status)
}

func TestApplyAward_PerItem_RankInvariant(t *testing.T) {
	// GIVEN: Five vendors bidding on one item
	req := newRequisition("item-1")
	itemScores := make(map[QuoteItemID]decimal.Decimal)
	var quotes []*Quotation
	for i, v := range []VendorID{"v-1", "v-2", "v-3", "v-4", "v-5"} {
		qi := QuoteItemID("qi-" + v)
		quotes = append(quotes, newQuote(QuotationID("q-"+v), v, "0", line(qi, "item-1", 1, "10")))
		itemScores[qi] = decimal.NewFromInt(int64(50 + i))
	}

	// WHEN: Awarded per item
	_, err := ApplyAward(req, quotes, itemScores, StrategyItem)

	// THEN: One rank 1, two standbys, nothing else retained
	require.NoError(t, err)
	details := req.Item("item-1").AwardDetails
	require.Len(t, details, 3)
	assert.Equal(t, VendorID("v-5"), details[0].VendorID)
	ranks := map[int]int{}
	for _, d := range details {
		ranks[d.Rank]++
	}
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, ranks)
	assert.Equal(t, AwardRejected, quotes[0].Status)
	assert.Equal(t, AwardRejected, quotes[1].Status)
}

func TestApplyAward_PerItem_OneChampionPerVendor(t *testing.T) {
	// A vendor quoting the same item twice competes with its better line only.
	req := newRequisition("item-1")
	q := newQuote("q-1", "v-1", "0", line("qi-low", "item-1", 1, "10"), line("qi-high", "item-1", 1, "12"))
	scores := map[QuoteItemID]decimal.Decimal{"qi-low": money("50"), "qi-high": money("95")}

	_, err := ApplyAward(req, []*Quotation{q}, scores, StrategyItem)

	require.NoError(t, err)
	details := req.Item("item-1").AwardDetails
	require.Len(t, details, 1)
	assert.Equal(t, QuoteItemID("qi-high"), details[0].QuoteItemID)
	assert.Equal(t, AwardRejected, q.Item("qi-low").Status)
}

func TestApplyAward_PerItem_ReportsUnbidItems(t *testing.T) {
	req := newRequisition("item-1", "item-3")
	q := newQuote("q-1", "v-1", "0", line("qi-1", "item-1", 1, "10"))

	result, err := ApplyAward(req, []*Quotation{q}, nil, StrategyItem)

	require.NoError(t, err)
	assert.Equal(t, []ItemID{"item-3"}, result.UnawardedItems)
	assert.Empty(t, req.Item("item-3").AwardDetails)
}

func TestApplyAward_ClearsPreviousOutcome(t *testing.T) {
	// GIVEN: A per-item award
	a := itemAggregate()

	// WHEN: The same requisition is re-awarded under "all"
	_, err := ApplyAward(a.Requisition, a.Quotations, nil, StrategyAll)

	// THEN: Item details from the first run are gone
	require.NoError(t, err)
	for _, item := range a.Requisition.Items {
		assert.Empty(t, item.AwardDetails)
	}
	assert.Equal(t, []QuoteItemID{"qb-1", "qb-2"}, a.Requisition.AwardedQuoteItemIDs)
}
