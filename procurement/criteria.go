package procurement

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type CriterionType string

const (
	CriterionFinancial CriterionType = "financial"
	CriterionTechnical CriterionType = "technical"
)

// Criterion is one named scoring dimension with its weight (percent) inside its category.
type Criterion struct {
	ID     string
	Name   string
	Weight decimal.Decimal
}

// EvaluationCriteria groups financial and technical criteria. Each group
// carries an overall weight; the two overall weights sum to 100, and the
// criteria inside a non-empty group sum to 100.
type EvaluationCriteria struct {
	FinancialWeight   decimal.Decimal
	TechnicalWeight   decimal.Decimal
	FinancialCriteria []Criterion
	TechnicalCriteria []Criterion
}

func (c EvaluationCriteria) Clone() EvaluationCriteria {
	c.FinancialCriteria = slices.Clone(c.FinancialCriteria)
	c.TechnicalCriteria = slices.Clone(c.TechnicalCriteria)
	return c
}

// Validate checks the weight invariants.
func (c EvaluationCriteria) Validate() error {
	if c.FinancialWeight.IsNegative() || c.TechnicalWeight.IsNegative() {
		return &ValidationError{Field: "criteria", Reason: "weights cannot be negative"}
	}
	if !c.FinancialWeight.Add(c.TechnicalWeight).Equal(hundred) {
		return &ValidationError{Field: "criteria", Reason: fmt.Sprintf(
			"financial and technical weights must sum to 100, got %s", c.FinancialWeight.Add(c.TechnicalWeight))}
	}
	if err := validateGroup(CriterionFinancial, c.FinancialWeight, c.FinancialCriteria); err != nil {
		return err
	}
	return validateGroup(CriterionTechnical, c.TechnicalWeight, c.TechnicalCriteria)
}

func validateGroup(kind CriterionType, overall decimal.Decimal, criteria []Criterion) error {
	field := string(kind) + "_criteria"
	if len(criteria) == 0 {
		if overall.IsPositive() {
			return &ValidationError{Field: field, Reason: "a weighted category needs at least one criterion"}
		}
		return nil
	}
	seen := make(map[string]bool, len(criteria))
	sum := decimal.Zero
	for _, cr := range criteria {
		if cr.ID == "" || cr.Name == "" {
			return &ValidationError{Field: field, Reason: "every criterion needs an id and a name"}
		}
		if seen[cr.ID] {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("duplicate criterion id %q", cr.ID)}
		}
		seen[cr.ID] = true
		if !cr.Weight.IsPositive() {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("criterion %q must have a positive weight", cr.ID)}
		}
		sum = sum.Add(cr.Weight)
	}
	if !sum.Equal(hundred) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("criteria weights must sum to 100, got %s", sum)}
	}
	return nil
}

// weights returns the criterion weight and its group's overall weight.
func (c EvaluationCriteria) weights(kind CriterionType, id string) (decimal.Decimal, decimal.Decimal, bool) {
	group, overall := c.TechnicalCriteria, c.TechnicalWeight
	if kind == CriterionFinancial {
		group, overall = c.FinancialCriteria, c.FinancialWeight
	}
	for _, cr := range group {
		if cr.ID == id {
			return cr.Weight, overall, true
		}
	}
	return decimal.Zero, decimal.Zero, false
}
