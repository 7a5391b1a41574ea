/*
scoring.go - Scoring Aggregator

PURPOSE:
  Turns raw per-criterion scores from committee members into weighted
  scores per quote item, per scorer and per quotation.

FORMULA:
  item score (one scorer) = Σ score × criterionWeight/100 × groupWeight/100
  scorer's quote score    = mean of that scorer's item scores
  finalAverageScore       = mean of every scorer's quote score

  A score that references a criterion no longer present in the criteria
  contributes zero.

REPLACEMENT:
  A scorer has at most one ScoreSet per quotation. Resubmitting replaces
  the whole set (delete-then-create inside one transaction, see
  Service.SubmitScores), so the aggregate is always recomputed from
  complete sets.

SEE ALSO:
  - criteria.go: EvaluationCriteria and its validation
  - award.go: consumes finalAverageScore and ItemAverages
*/
package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScoreSet is one committee member's scores for one quotation.
type ScoreSet struct {
	ID            ScoreSetID
	RequisitionID RequisitionID
	QuotationID   QuotationID
	ScorerID      UserID
	ScorerName    string
	Comment       string
	ItemScores    []ItemScore
	FinalScore    decimal.Decimal
	SubmittedAt   time.Time
}

type ItemScore struct {
	QuoteItemID QuoteItemID
	Scores      []Score
	FinalScore  decimal.Decimal
}

type Score struct {
	Type        CriterionType
	CriterionID string
	Value       decimal.Decimal
	Comment     string
}

// ItemScoreInput is what a scorer submits for one quote item.
type ItemScoreInput struct {
	QuoteItemID QuoteItemID
	Scores      []Score
}

// ScoreItem computes one scorer's weighted score for one item.
func ScoreItem(criteria EvaluationCriteria, scores []Score) decimal.Decimal {
	total := decimal.Zero
	for _, s := range scores {
		weight, overall, ok := criteria.weights(s.Type, s.CriterionID)
		if !ok {
			continue
		}
		total = total.Add(s.Value.Mul(weight).Div(hundred).Mul(overall).Div(hundred))
	}
	return total
}

type criterionKey struct {
	typ CriterionType
	id  string
}

// BuildScoreSet validates a submission against the quotation and computes
// every item score and the set's final score.
func BuildScoreSet(criteria EvaluationCriteria, q *Quotation, scorer Actor, comment string, input []ItemScoreInput) (ScoreSet, error) {
	if len(input) == 0 {
		return ScoreSet{}, &ValidationError{Field: "item_scores", Reason: "at least one item score is required"}
	}
	set := ScoreSet{
		RequisitionID: q.RequisitionID,
		QuotationID:   q.ID,
		ScorerID:      scorer.ID,
		ScorerName:    scorer.Name,
		Comment:       comment,
	}
	seen := make(map[QuoteItemID]bool, len(input))
	finals := make([]decimal.Decimal, 0, len(input))
	for _, in := range input {
		if q.Item(in.QuoteItemID) == nil {
			return ScoreSet{}, &ValidationError{Field: "item_scores",
				Reason: fmt.Sprintf("quote item %s does not belong to quotation %s", in.QuoteItemID, q.ID)}
		}
		if seen[in.QuoteItemID] {
			return ScoreSet{}, &ValidationError{Field: "item_scores",
				Reason: fmt.Sprintf("quote item %s scored twice", in.QuoteItemID)}
		}
		seen[in.QuoteItemID] = true
		scored := make(map[criterionKey]bool, len(in.Scores))
		for _, s := range in.Scores {
			if s.Type != CriterionFinancial && s.Type != CriterionTechnical {
				return ScoreSet{}, &ValidationError{Field: "scores", Reason: fmt.Sprintf("unknown criterion type %q", s.Type)}
			}
			key := criterionKey{s.Type, s.CriterionID}
			if scored[key] {
				return ScoreSet{}, &ValidationError{Field: "scores",
					Reason: fmt.Sprintf("criterion %s scored twice for quote item %s", s.CriterionID, in.QuoteItemID)}
			}
			scored[key] = true
			if s.Value.IsNegative() || s.Value.GreaterThan(hundred) {
				return ScoreSet{}, &ValidationError{Field: "scores",
					Reason: fmt.Sprintf("score for criterion %s must be between 0 and 100, got %s", s.CriterionID, s.Value)}
			}
		}
		final := ScoreItem(criteria, in.Scores)
		set.ItemScores = append(set.ItemScores, ItemScore{
			QuoteItemID: in.QuoteItemID,
			Scores:      append([]Score(nil), in.Scores...),
			FinalScore:  final,
		})
		finals = append(finals, final)
	}
	set.FinalScore = mean(finals)
	return set, nil
}

// AverageScore is the mean of every scorer's final score.
func AverageScore(sets []ScoreSet) decimal.Decimal {
	finals := make([]decimal.Decimal, len(sets))
	for i, s := range sets {
		finals[i] = s.FinalScore
	}
	return mean(finals)
}

// ItemAverages returns, per quote item, the mean of its item scores across scorers.
func ItemAverages(sets []ScoreSet) map[QuoteItemID]decimal.Decimal {
	byItem := make(map[QuoteItemID][]decimal.Decimal)
	for _, s := range sets {
		for _, is := range s.ItemScores {
			byItem[is.QuoteItemID] = append(byItem[is.QuoteItemID], is.FinalScore)
		}
	}
	out := make(map[QuoteItemID]decimal.Decimal, len(byItem))
	for id, finals := range byItem {
		out[id] = mean(finals)
	}
	return out
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}
