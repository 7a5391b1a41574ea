/*
approval.go - Approval Matrix Resolver

PURPOSE:
  Given an award value, finds the configured approval tier and decides the
  next requisition status and approver.

MATRIX:
  Tiers are [Min, Max) ranges (nil Max = unbounded), each with an ordered
  list of approver roles. The role→status table maps a role to the
  requisition status that represents "waiting for that role".

  ┌──────────────┬───────────────────────────────────────────────┐
  │ value range  │ steps                                         │
  ├──────────────┼───────────────────────────────────────────────┤
  │ [0, 10k)     │ Manager_Procurement_Division                  │
  │ [10k, 200k)  │ Committee_B_Member → Manager → Director       │
  │ [200k, ∞)    │ Committee_A_Member → Director → VP → President│
  └──────────────┴───────────────────────────────────────────────┘

ROUTING RULES:
  - no matching tier        → ConfigurationError
  - tier with no steps      → PostApproved, no approver
  - committee role step     → status only; any member of that committee acts
  - other role step         → exactly one user must hold the role,
                              zero or several is a ConfigurationError

The matrix is read-only configuration injected by the caller; the resolver
never reads settings on its own.

SEE ALSO:
  - factory/matrix.go: parses and validates matrix files
  - service_award.go: FinalizeAward, ApproveAward, PromoteStandby
*/
package procurement

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MATRIX
// =============================================================================

type ApprovalStep struct {
	Role  Role
	Order int
}

// ApprovalThreshold is one value tier of the matrix.
type ApprovalThreshold struct {
	ID    string
	Name  string
	Min   decimal.Decimal
	Max   *decimal.Decimal // nil = unbounded
	Steps []ApprovalStep
}

// Contains reports whether value ∈ [Min, Max).
func (t ApprovalThreshold) Contains(value decimal.Decimal) bool {
	if value.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || value.LessThan(*t.Max)
}

func (t ApprovalThreshold) orderedSteps() []ApprovalStep {
	steps := slices.Clone(t.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

type ApprovalMatrix struct {
	Thresholds     []ApprovalThreshold
	RoleStatus     map[Role]RequisitionStatus
	CommitteeRoles []Role
}

// DefaultRoleStatus is the standard role→status table.
func DefaultRoleStatus() map[Role]RequisitionStatus {
	return map[Role]RequisitionStatus{
		RoleCommitteeB:          StatusPendingCommitteeB,
		RoleCommitteeA:          StatusPendingCommitteeA,
		RoleManagerProcurement:  StatusPendingManagerial,
		RoleDirectorSupplyChain: StatusPendingDirector,
		RoleVPResources:         StatusPendingVP,
		RolePresident:           StatusPendingPresident,
	}
}

func DefaultCommitteeRoles() []Role { return []Role{RoleCommitteeA, RoleCommitteeB} }

func (m ApprovalMatrix) IsCommitteeRole(r Role) bool { return slices.Contains(m.CommitteeRoles, r) }

// Validate checks ordering, overlap and that every step role is mapped to an
// approval status. Gaps are reported by CheckCoverage.
func (m ApprovalMatrix) Validate() error {
	if len(m.Thresholds) == 0 {
		return &ConfigurationError{Reason: "matrix has no tiers"}
	}
	for i, t := range m.Thresholds {
		if t.Min.IsNegative() {
			return &ConfigurationError{Reason: fmt.Sprintf("tier %q has a negative minimum", t.Name)}
		}
		if t.Max != nil && !t.Max.GreaterThan(t.Min) {
			return &ConfigurationError{Reason: fmt.Sprintf("tier %q has max %s not above min %s", t.Name, t.Max, t.Min)}
		}
		if i > 0 {
			prev := m.Thresholds[i-1]
			if prev.Max == nil || t.Min.LessThan(*prev.Max) {
				return &ConfigurationError{Reason: fmt.Sprintf("tier %q overlaps tier %q", t.Name, prev.Name)}
			}
		}
		for _, step := range t.Steps {
			status, ok := m.RoleStatus[step.Role]
			if !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("role %q in tier %q has no status mapping", step.Role, t.Name)}
			}
			if !IsApprovalStatus(status) {
				return &ConfigurationError{Reason: fmt.Sprintf("role %q maps to %q, which is not an approval status", step.Role, status)}
			}
		}
	}
	return nil
}

// CheckCoverage reports gaps: tiers must start at 0, touch each other and end unbounded.
func (m ApprovalMatrix) CheckCoverage() error {
	next := decimal.Zero
	for _, t := range m.Thresholds {
		if !t.Min.Equal(next) {
			return &ConfigurationError{Reason: fmt.Sprintf("values in [%s, %s) are not covered by any tier", next, t.Min)}
		}
		if t.Max == nil {
			return nil
		}
		next = *t.Max
	}
	return &ConfigurationError{Reason: fmt.Sprintf("values from %s upward are not covered by any tier", next)}
}

// Tier returns the first tier containing value.
func (m ApprovalMatrix) Tier(value decimal.Decimal) (ApprovalThreshold, error) {
	for _, t := range m.Thresholds {
		if t.Contains(value) {
			return t, nil
		}
	}
	return ApprovalThreshold{}, &ConfigurationError{Reason: fmt.Sprintf("no approval tier matches award value %s", value)}
}

// =============================================================================
// RESOLVER
// =============================================================================

// UserDirectory finds the users that hold a role.
type UserDirectory interface {
	UsersWithRole(ctx context.Context, role Role) ([]User, error)
}

// Routing is where an award goes next.
type Routing struct {
	TierName   string
	Step       int // index into the tier's ordered steps; -1 when approved
	Role       Role
	Status     RequisitionStatus
	ApproverID *UserID // nil for committee steps and for PostApproved
}

func (r Routing) Approved() bool { return r.Status == StatusPostApproved }

// Resolve routes a freshly computed award value to its tier's first step.
func (m ApprovalMatrix) Resolve(ctx context.Context, dir UserDirectory, value decimal.Decimal) (Routing, error) {
	tier, err := m.Tier(value)
	if err != nil {
		return Routing{}, err
	}
	return m.routeStep(ctx, dir, tier, 0)
}

// Advance moves past the step represented by current.
func (m ApprovalMatrix) Advance(ctx context.Context, dir UserDirectory, value decimal.Decimal, current RequisitionStatus) (Routing, error) {
	tier, idx, err := m.locate(value, current)
	if err != nil {
		return Routing{}, err
	}
	return m.routeStep(ctx, dir, tier, idx+1)
}

// CurrentRole returns the role expected to act while the requisition is in current.
func (m ApprovalMatrix) CurrentRole(value decimal.Decimal, current RequisitionStatus) (Role, error) {
	tier, idx, err := m.locate(value, current)
	if err != nil {
		return "", err
	}
	return tier.orderedSteps()[idx].Role, nil
}

func (m ApprovalMatrix) locate(value decimal.Decimal, current RequisitionStatus) (ApprovalThreshold, int, error) {
	tier, err := m.Tier(value)
	if err != nil {
		return ApprovalThreshold{}, 0, err
	}
	for i, step := range tier.orderedSteps() {
		if m.RoleStatus[step.Role] == current {
			return tier, i, nil
		}
	}
	return ApprovalThreshold{}, 0, &ConfigurationError{
		Reason: fmt.Sprintf("status %s is not a step of tier %q", current, tier.Name)}
}

func (m ApprovalMatrix) routeStep(ctx context.Context, dir UserDirectory, tier ApprovalThreshold, idx int) (Routing, error) {
	steps := tier.orderedSteps()
	if idx >= len(steps) {
		return Routing{TierName: tier.Name, Step: -1, Status: StatusPostApproved}, nil
	}
	step := steps[idx]
	status, ok := m.RoleStatus[step.Role]
	if !ok {
		return Routing{}, &ConfigurationError{Reason: fmt.Sprintf("role %q has no status mapping", step.Role)}
	}
	routing := Routing{TierName: tier.Name, Step: idx, Role: step.Role, Status: status}
	if m.IsCommitteeRole(step.Role) {
		return routing, nil
	}

	users, err := dir.UsersWithRole(ctx, step.Role)
	if err != nil {
		return Routing{}, fmt.Errorf("looking up approvers for %s: %w", step.Role, err)
	}
	switch len(users) {
	case 0:
		return Routing{}, &ConfigurationError{Reason: fmt.Sprintf("no user holds approver role %s", step.Role)}
	case 1:
		id := users[0].ID
		routing.ApproverID = &id
		return routing, nil
	default:
		return Routing{}, &ConfigurationError{
			Reason: fmt.Sprintf("%d users hold approver role %s; routing is ambiguous", len(users), step.Role)}
	}
}
