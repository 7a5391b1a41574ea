package procurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCriteria() EvaluationCriteria {
	return EvaluationCriteria{
		FinancialWeight: money("40"),
		TechnicalWeight: money("60"),
		FinancialCriteria: []Criterion{
			{ID: "price", Name: "Price", Weight: money("100")},
		},
		TechnicalCriteria: []Criterion{
			{ID: "spec", Name: "Specification", Weight: money("50")},
			{ID: "support", Name: "Support", Weight: money("50")},
		},
	}
}

func scores(price, spec, support string) []Score {
	return []Score{
		{Type: CriterionFinancial, CriterionID: "price", Value: money(price)},
		{Type: CriterionTechnical, CriterionID: "spec", Value: money(spec)},
		{Type: CriterionTechnical, CriterionID: "support", Value: money(support)},
	}
}

// =============================================================================
// CRITERIA
// =============================================================================

func TestEvaluationCriteria_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EvaluationCriteria)
		wantErr bool
	}{
		{"valid", func(*EvaluationCriteria) {}, false},
		{"overall weights off", func(c *EvaluationCriteria) { c.TechnicalWeight = money("50") }, true},
		{"criteria weights off", func(c *EvaluationCriteria) { c.TechnicalCriteria[1].Weight = money("40") }, true},
		{"duplicate criterion", func(c *EvaluationCriteria) { c.TechnicalCriteria[1].ID = "spec" }, true},
		{"zero criterion weight", func(c *EvaluationCriteria) {
			c.FinancialCriteria = append(c.FinancialCriteria, Criterion{ID: "terms", Name: "Terms", Weight: money("0")})
		}, true},
		{"weighted group without criteria", func(c *EvaluationCriteria) { c.FinancialCriteria = nil }, true},
		{"unweighted empty group", func(c *EvaluationCriteria) {
			c.FinancialWeight, c.TechnicalWeight = money("0"), money("100")
			c.FinancialCriteria = nil
		}, false},
		{"negative weight", func(c *EvaluationCriteria) {
			c.FinancialWeight, c.TechnicalWeight = money("-10"), money("110")
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCriteria()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// ITEM SCORES
// =============================================================================

func TestScoreItem_WeightsByCriterionAndGroup(t *testing.T) {
	// 80×1.0×0.4 + 90×0.5×0.6 + 70×0.5×0.6 = 32 + 27 + 21
	got := ScoreItem(testCriteria(), scores("80", "90", "70"))

	assert.True(t, got.Equal(money("80")), "got %s", got)
}

func TestScoreItem_UnknownCriterionContributesZero(t *testing.T) {
	in := append(scores("100", "100", "100"), Score{Type: CriterionTechnical, CriterionID: "retired", Value: money("100")})

	got := ScoreItem(testCriteria(), in)

	assert.True(t, got.Equal(money("100")), "got %s", got)
}

func TestBuildScoreSet_AveragesItems(t *testing.T) {
	q := newQuote("q-1", "v-1", "0", line("qi-1", "item-1", 1, "10"), line("qi-2", "item-2", 1, "10"))
	scorer := Actor{ID: "u-tech", Name: "Tech Lead"}

	set, err := BuildScoreSet(testCriteria(), q, scorer, "solid", []ItemScoreInput{
		{QuoteItemID: "qi-1", Scores: scores("80", "90", "70")}, // 80
		{QuoteItemID: "qi-2", Scores: scores("60", "60", "60")}, // 60
	})

	require.NoError(t, err)
	assert.Equal(t, UserID("u-tech"), set.ScorerID)
	assert.Equal(t, QuotationID("q-1"), set.QuotationID)
	require.Len(t, set.ItemScores, 2)
	assert.True(t, set.ItemScores[0].FinalScore.Equal(money("80")))
	assert.True(t, set.FinalScore.Equal(money("70")), "got %s", set.FinalScore)
}

func TestBuildScoreSet_Rejects(t *testing.T) {
	q := newQuote("q-1", "v-1", "0", line("qi-1", "item-1", 1, "10"))
	scorer := Actor{ID: "u-tech"}

	tests := []struct {
		name  string
		input []ItemScoreInput
	}{
		{"no items", nil},
		{"foreign quote item", []ItemScoreInput{{QuoteItemID: "qi-9", Scores: scores("1", "1", "1")}}},
		{"item scored twice", []ItemScoreInput{
			{QuoteItemID: "qi-1", Scores: scores("1", "1", "1")},
			{QuoteItemID: "qi-1", Scores: scores("2", "2", "2")},
		}},
		{"score above 100", []ItemScoreInput{{QuoteItemID: "qi-1", Scores: scores("101", "1", "1")}}},
		{"negative score", []ItemScoreInput{{QuoteItemID: "qi-1", Scores: scores("-1", "1", "1")}}},
		{"unknown type", []ItemScoreInput{{QuoteItemID: "qi-1", Scores: []Score{{Type: "legal", CriterionID: "x", Value: money("5")}}}}},
		{"criterion scored twice", []ItemScoreInput{{QuoteItemID: "qi-1", Scores: append(scores("90", "90", "90"),
			Score{Type: CriterionTechnical, CriterionID: "spec", Value: money("100")})}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildScoreSet(testCriteria(), q, scorer, "", tt.input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestAverageScore_IsDeterministic(t *testing.T) {
	// GIVEN: Two scorers on the same quotation
	q := newQuote("q-1", "v-1", "0", line("qi-1", "item-1", 1, "10"))
	build := func(id UserID, s []Score) ScoreSet {
		set, err := BuildScoreSet(testCriteria(), q, Actor{ID: id}, "", []ItemScoreInput{{QuoteItemID: "qi-1", Scores: s}})
		require.NoError(t, err)
		return set
	}
	first := []ScoreSet{build("u-1", scores("80", "90", "70")), build("u-2", scores("70", "70", "70"))}

	// WHEN: The same scores are submitted again
	second := []ScoreSet{build("u-1", scores("80", "90", "70")), build("u-2", scores("70", "70", "70"))}

	// THEN: The average is identical: (80 + 70) / 2
	assert.True(t, AverageScore(first).Equal(money("75")))
	assert.True(t, AverageScore(first).Equal(AverageScore(second)))
}

func TestAverageScore_EmptyIsZero(t *testing.T) {
	assert.True(t, AverageScore(nil).IsZero())
}

func TestItemAverages_AcrossScorers(t *testing.T) {
	sets := []ScoreSet{
		{ItemScores: []ItemScore{{QuoteItemID: "qi-1", FinalScore: money("80")}, {QuoteItemID: "qi-2", FinalScore: money("50")}}},
		{ItemScores: []ItemScore{{QuoteItemID: "qi-1", FinalScore: money("60")}}},
	}

	avg := ItemAverages(sets)

	assert.True(t, avg["qi-1"].Equal(money("70")))
	assert.True(t, avg["qi-2"].Equal(money("50")))
}
