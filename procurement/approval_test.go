package procurement

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory []User

func (d fakeDirectory) UsersWithRole(_ context.Context, role Role) ([]User, error) {
	var out []User
	for _, u := range d {
		if u.HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}

func bound(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

// testMatrix mirrors the standard three tiers.
func testMatrix() ApprovalMatrix {
	return ApprovalMatrix{
		Thresholds: []ApprovalThreshold{
			{ID: "t1", Name: "Small", Min: money("0"), Max: bound("10000"), Steps: []ApprovalStep{
				{Role: RoleManagerProcurement, Order: 1},
			}},
			{ID: "t2", Name: "Medium", Min: money("10000"), Max: bound("200000"), Steps: []ApprovalStep{
				{Role: RoleDirectorSupplyChain, Order: 3},
				{Role: RoleCommitteeB, Order: 1},
				{Role: RoleManagerProcurement, Order: 2},
			}},
			{ID: "t3", Name: "Large", Min: money("200000"), Steps: []ApprovalStep{
				{Role: RoleCommitteeA, Order: 1},
				{Role: RoleDirectorSupplyChain, Order: 2},
				{Role: RoleVPResources, Order: 3},
				{Role: RolePresident, Order: 4},
			}},
		},
		RoleStatus:     DefaultRoleStatus(),
		CommitteeRoles: DefaultCommitteeRoles(),
	}
}

func approvers() fakeDirectory {
	return fakeDirectory{
		{ID: "u-mgr", Roles: []Role{RoleManagerProcurement}},
		{ID: "u-dir", Roles: []Role{RoleDirectorSupplyChain}},
		{ID: "u-vp", Roles: []Role{RoleVPResources}},
		{ID: "u-pres", Roles: []Role{RolePresident}},
	}
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve_RoutesToFirstStepOfTier(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		value    string
		tier     string
		status   RequisitionStatus
		approver UserID
	}{
		{"0", "Small", StatusPendingManagerial, "u-mgr"},
		{"5000", "Small", StatusPendingManagerial, "u-mgr"},
		{"9999.99", "Small", StatusPendingManagerial, "u-mgr"},
		{"10000", "Medium", StatusPendingCommitteeB, ""},
		{"199999.99", "Medium", StatusPendingCommitteeB, ""},
		{"200000", "Large", StatusPendingCommitteeA, ""},
		{"1000000000", "Large", StatusPendingCommitteeA, ""},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			routing, err := testMatrix().Resolve(ctx, approvers(), money(tt.value))

			require.NoError(t, err)
			assert.Equal(t, tt.tier, routing.TierName)
			assert.Equal(t, tt.status, routing.Status)
			if tt.approver == "" {
				assert.Nil(t, routing.ApproverID)
			} else {
				require.NotNil(t, routing.ApproverID)
				assert.Equal(t, tt.approver, *routing.ApproverID)
			}
		})
	}
}

func TestResolve_FullCoverageNeverFails(t *testing.T) {
	m := testMatrix()
	require.NoError(t, m.Validate())
	require.NoError(t, m.CheckCoverage())

	for _, v := range []string{"0", "0.01", "9999.999", "10000", "123456.78", "199999.9999", "200000", "99999999999"} {
		_, err := m.Tier(money(v))
		assert.NoError(t, err, "value %s", v)
	}
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no approver holds the role", func(t *testing.T) {
		_, err := testMatrix().Resolve(ctx, fakeDirectory{}, money("500"))
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("two approvers hold the role", func(t *testing.T) {
		dir := append(approvers(), User{ID: "u-mgr2", Roles: []Role{RoleManagerProcurement}})
		_, err := testMatrix().Resolve(ctx, dir, money("500"))
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "ambiguous")
	})
	t.Run("no tier matches", func(t *testing.T) {
		m := testMatrix()
		m.Thresholds = m.Thresholds[:1]
		_, err := m.Resolve(ctx, approvers(), money("20000"))
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestResolve_TierWithoutStepsIsApproved(t *testing.T) {
	m := testMatrix()
	m.Thresholds[0].Steps = nil

	routing, err := m.Resolve(context.Background(), approvers(), money("10"))

	require.NoError(t, err)
	assert.True(t, routing.Approved())
	assert.Nil(t, routing.ApproverID)
}

// =============================================================================
// ADVANCE
// =============================================================================

func TestAdvance_WalksStepsInOrder(t *testing.T) {
	ctx := context.Background()
	m := testMatrix()
	value := money("50000")

	// Committee B → Manager → Director → PostApproved
	var statuses []RequisitionStatus
	routing, err := m.Resolve(ctx, approvers(), value)
	require.NoError(t, err)
	for !routing.Approved() {
		statuses = append(statuses, routing.Status)
		routing, err = m.Advance(ctx, approvers(), value, routing.Status)
		require.NoError(t, err)
	}

	assert.Equal(t, []RequisitionStatus{StatusPendingCommitteeB, StatusPendingManagerial, StatusPendingDirector}, statuses)
	assert.Equal(t, -1, routing.Step)
}

func TestAdvance_StatusOutsideTier(t *testing.T) {
	_, err := testMatrix().Advance(context.Background(), approvers(), money("500"), StatusPendingPresident)

	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCurrentRole(t *testing.T) {
	role, err := testMatrix().CurrentRole(money("300000"), StatusPendingVP)

	require.NoError(t, err)
	assert.Equal(t, RoleVPResources, role)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestApprovalMatrix_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ApprovalMatrix)
	}{
		{"no tiers", func(m *ApprovalMatrix) { m.Thresholds = nil }},
		{"overlap", func(m *ApprovalMatrix) { m.Thresholds[1].Min = money("9000") }},
		{"max below min", func(m *ApprovalMatrix) { m.Thresholds[0].Max = bound("0") }},
		{"unbounded tier not last", func(m *ApprovalMatrix) { m.Thresholds[0].Max = nil }},
		{"unmapped role", func(m *ApprovalMatrix) {
			m.Thresholds[0].Steps = append(m.Thresholds[0].Steps, ApprovalStep{Role: RoleFinance, Order: 2})
		}},
		{"role mapped to non-approval status", func(m *ApprovalMatrix) {
			m.RoleStatus = DefaultRoleStatus()
			m.RoleStatus[RoleManagerProcurement] = StatusAwarded
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMatrix()
			tt.mutate(&m)
			assert.ErrorIs(t, m.Validate(), ErrConfiguration)
		})
	}
}

func TestApprovalMatrix_CheckCoverage(t *testing.T) {
	t.Run("gap between tiers", func(t *testing.T) {
		m := testMatrix()
		m.Thresholds[1].Min = money("12000")
		require.NoError(t, m.Validate())
		assert.ErrorIs(t, m.CheckCoverage(), ErrConfiguration)
	})
	t.Run("bounded top tier", func(t *testing.T) {
		m := testMatrix()
		m.Thresholds[2].Max = bound("1000000")
		assert.ErrorIs(t, m.CheckCoverage(), ErrConfiguration)
	})
	t.Run("does not start at zero", func(t *testing.T) {
		m := testMatrix()
		m.Thresholds[0].Min = money("1")
		assert.ErrorIs(t, m.CheckCoverage(), ErrConfiguration)
	})
}
