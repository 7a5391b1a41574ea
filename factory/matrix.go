/*
Package factory provides YAML/JSON to Go approval matrix conversion.

PURPOSE:
  Converts approval matrix files into procurement.ApprovalMatrix values.
  Finance can change tiers and approver chains without a release; the
  factory validates the file once at startup and the resolver only ever
  sees a checked matrix.

YAML SCHEMA:
  committee_roles: [Committee_A_Member, Committee_B_Member]   # optional
  role_status:                                                # optional
    Manager_Procurement_Division: Pending_Managerial_Approval
  thresholds:
    - id: small
      name: Under 10k
      min: 0
      max: 10000            # omit for an unbounded top tier
      steps:
        - role: Manager_Procurement_Division
    - id: medium
      name: 10k to 200k
      min: 10000
      max: 200000
      steps:
        - {role: Committee_B_Member, order: 1}
        - {role: Manager_Procurement_Division, order: 2}
        - {role: Director_Supply_Chain_and_Property_Management, order: 3}

  The same document is accepted as JSON. Amounts may be numbers or
  strings; they are parsed as decimals either way.

DEFAULTS:
  - role_status omitted      → procurement.DefaultRoleStatus()
  - committee_roles omitted  → procurement.DefaultCommitteeRoles()
  - step order omitted       → position in the list (1-based)

CHECKS:
  Thresholds are sorted by min, then ApprovalMatrix.Validate (overlap,
  unmapped roles) and CheckCoverage (gaps from 0 to unbounded) must pass.

USAGE:
  f := factory.NewMatrixFactory()
  matrix, err := f.LoadFile("config/approval-matrix.yaml")

SEE ALSO:
  - procurement/approval.go: ApprovalMatrix and the resolver
  - cmd/procure/matrix.go: `procure matrix check`
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/procurement"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// MatrixDocument is the file representation of an approval matrix.
type MatrixDocument struct {
	CommitteeRoles []string          `json:"committee_roles,omitempty" yaml:"committee_roles,omitempty"`
	RoleStatus     map[string]string `json:"role_status,omitempty" yaml:"role_status,omitempty"`
	Thresholds     []ThresholdDoc    `json:"thresholds" yaml:"thresholds"`
}

// ThresholdDoc is one value tier.
type ThresholdDoc struct {
	ID    string    `json:"id" yaml:"id"`
	Name  string    `json:"name" yaml:"name"`
	Min   Amount    `json:"min" yaml:"min"`
	Max   *Amount   `json:"max,omitempty" yaml:"max,omitempty"`
	Steps []StepDoc `json:"steps" yaml:"steps"`
}

// StepDoc is one approver step.
type StepDoc struct {
	Role  string `json:"role" yaml:"role"`
	Order int    `json:"order,omitempty" yaml:"order,omitempty"`
}

// Amount is a decimal that decodes from a YAML/JSON number or string.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q: %w", node.Line, node.Value, err)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	return a.Decimal.String(), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return a.Decimal.MarshalJSON()
}

// =============================================================================
// MATRIX FACTORY
// =============================================================================

// MatrixFactory converts matrix documents to procurement.ApprovalMatrix.
type MatrixFactory struct{}

// NewMatrixFactory creates a new matrix factory.
func NewMatrixFactory() *MatrixFactory {
	return &MatrixFactory{}
}

// ParseYAML parses and validates a YAML matrix.
func (f *MatrixFactory) ParseYAML(data []byte) (procurement.ApprovalMatrix, error) {
	var doc MatrixDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return procurement.ApprovalMatrix{}, fmt.Errorf("failed to parse matrix YAML: %w", err)
	}
	return f.FromDocument(doc)
}

// ParseJSON parses and validates a JSON matrix.
func (f *MatrixFactory) ParseJSON(data []byte) (procurement.ApprovalMatrix, error) {
	var doc MatrixDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return procurement.ApprovalMatrix{}, fmt.Errorf("failed to parse matrix JSON: %w", err)
	}
	return f.FromDocument(doc)
}

// LoadFile reads a matrix file; .json files are parsed as JSON, anything
// else as YAML.
func (f *MatrixFactory) LoadFile(path string) (procurement.ApprovalMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return procurement.ApprovalMatrix{}, fmt.Errorf("failed to read matrix %s: %w", path, err)
	}
	var m procurement.ApprovalMatrix
	if strings.EqualFold(filepath.Ext(path), ".json") {
		m, err = f.ParseJSON(data)
	} else {
		m, err = f.ParseYAML(data)
	}
	if err != nil {
		return procurement.ApprovalMatrix{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FromDocument converts a MatrixDocument, applies defaults and validates.
func (f *MatrixFactory) FromDocument(doc MatrixDocument) (procurement.ApprovalMatrix, error) {
	m := procurement.ApprovalMatrix{
		RoleStatus:     procurement.DefaultRoleStatus(),
		CommitteeRoles: procurement.DefaultCommitteeRoles(),
	}
	if len(doc.RoleStatus) > 0 {
		m.RoleStatus = make(map[procurement.Role]procurement.RequisitionStatus, len(doc.RoleStatus))
		for role, status := range doc.RoleStatus {
			m.RoleStatus[procurement.Role(role)] = procurement.RequisitionStatus(status)
		}
	}
	if len(doc.CommitteeRoles) > 0 {
		m.CommitteeRoles = nil
		for _, role := range doc.CommitteeRoles {
			m.CommitteeRoles = append(m.CommitteeRoles, procurement.Role(role))
		}
	}

	for i, td := range doc.Thresholds {
		t := procurement.ApprovalThreshold{
			ID:   td.ID,
			Name: td.Name,
			Min:  td.Min.Decimal,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("tier-%d", i+1)
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		if td.Max != nil {
			max := td.Max.Decimal
			t.Max = &max
		}
		for j, sd := range td.Steps {
			if strings.TrimSpace(sd.Role) == "" {
				return procurement.ApprovalMatrix{}, &procurement.ConfigurationError{
					Reason: fmt.Sprintf("tier %q step %d has no role", t.Name, j+1)}
			}
			order := sd.Order
			if order == 0 {
				order = j + 1
			}
			t.Steps = append(t.Steps, procurement.ApprovalStep{Role: procurement.Role(sd.Role), Order: order})
		}
		m.Thresholds = append(m.Thresholds, t)
	}

	sort.SliceStable(m.Thresholds, func(i, j int) bool {
		return m.Thresholds[i].Min.LessThan(m.Thresholds[j].Min)
	})
	if err := m.Validate(); err != nil {
		return procurement.ApprovalMatrix{}, err
	}
	if err := m.CheckCoverage(); err != nil {
		return procurement.ApprovalMatrix{}, err
	}
	return m, nil
}

// ToDocument converts a matrix back to its file representation.
func (f *MatrixFactory) ToDocument(m procurement.ApprovalMatrix) MatrixDocument {
	doc := MatrixDocument{RoleStatus: make(map[string]string, len(m.RoleStatus))}
	for role, status := range m.RoleStatus {
		doc.RoleStatus[string(role)] = string(status)
	}
	for _, role := range m.CommitteeRoles {
		doc.CommitteeRoles = append(doc.CommitteeRoles, string(role))
	}
	for _, t := range m.Thresholds {
		td := ThresholdDoc{ID: t.ID, Name: t.Name, Min: Amount{t.Min}}
		if t.Max != nil {
			td.Max = &Amount{*t.Max}
		}
		for _, s := range t.Steps {
			td.Steps = append(td.Steps, StepDoc{Role: string(s.Role), Order: s.Order})
		}
		doc.Thresholds = append(doc.Thresholds, td)
	}
	return doc
}

// =============================================================================
// DEFAULT MATRIX
// =============================================================================

// DefaultMatrix is the standard three-tier matrix used when no file is configured.
func DefaultMatrix() procurement.ApprovalMatrix {
	tenK := decimal.NewFromInt(10_000)
	twoHundredK := decimal.NewFromInt(200_000)
	return procurement.ApprovalMatrix{
		RoleStatus:     procurement.DefaultRoleStatus(),
		CommitteeRoles: procurement.DefaultCommitteeRoles(),
		Thresholds: []procurement.ApprovalThreshold{
			{
				ID: "small", Name: "Under 10k", Min: decimal.Zero, Max: &tenK,
				Steps: []procurement.ApprovalStep{
					{Role: procurement.RoleManagerProcurement, Order: 1},
				},
			},
			{
				ID: "medium", Name: "10k to 200k", Min: tenK, Max: &twoHundredK,
				Steps: []procurement.ApprovalStep{
					{Role: procurement.RoleCommitteeB, Order: 1},
					{Role: procurement.RoleManagerProcurement, Order: 2},
					{Role: procurement.RoleDirectorSupplyChain, Order: 3},
				},
			},
			{
				ID: "large", Name: "200k and above", Min: twoHundredK,
				Steps: []procurement.ApprovalStep{
					{Role: procurement.RoleCommitteeA, Order: 1},
					{Role: procurement.RoleDirectorSupplyChain, Order: 2},
					{Role: procurement.RoleVPResources, Order: 3},
					{Role: procurement.RolePresident, Order: 4},
				},
			},
		},
	}
}
