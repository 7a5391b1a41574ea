package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/warp/procurement-engine/factory"
	"github.com/warp/procurement-engine/procurement"
)

func TestPrintRoute_WalksEveryStep(t *testing.T) {
	var out bytes.Buffer
	dir := factory.Directory{
		{ID: "u-mgr", Roles: []procurement.Role{procurement.RoleManagerProcurement}},
		{ID: "u-dir", Roles: []procurement.Role{procurement.RoleDirectorSupplyChain}},
	}

	err := printRoute(context.Background(), &out, factory.DefaultMatrix(), dir, decimal.NewFromInt(15000), true)

	require.NoError(t, err)
	assert.Equal(t, `15000.00 → tier "10k to 200k"
  1. Committee_B_Member (Pending_Committee_B_Review): any committee member
  2. Manager_Procurement_Division (Pending_Managerial_Approval): u-mgr
  3. Director_Supply_Chain_and_Property_Management (Pending_Director_Approval): u-dir
  → PostApproved
`, out.String())
}

func TestPrintRoute_MissingApproverIsConfigurationError(t *testing.T) {
	var out bytes.Buffer

	err := printRoute(context.Background(), &out, factory.DefaultMatrix(), factory.Directory{}, decimal.NewFromInt(500), true)

	assert.ErrorIs(t, err, procurement.ErrConfiguration)
}

func TestMatrixCheckCommand(t *testing.T) {
	// GIVEN: The default matrix written to a file by `matrix default`
	var doc bytes.Buffer
	def := matrixDefaultCmd()
	def.SetOut(&doc)
	def.SetArgs([]string{})
	require.NoError(t, def.Execute())

	var parsed factory.MatrixDocument
	require.NoError(t, yaml.Unmarshal(doc.Bytes(), &parsed))
	assert.Len(t, parsed.Thresholds, 3)

	path := filepath.Join(t.TempDir(), "matrix.yaml")
	require.NoError(t, os.WriteFile(path, doc.Bytes(), 0o600))

	// WHEN: It is checked with a value
	var out bytes.Buffer
	check := matrixCheckCmd()
	check.SetOut(&out)
	check.SetArgs([]string{path, "--value", "250000"})
	require.NoError(t, check.Execute())

	// THEN: The file validates and the value walks the large tier
	assert.Contains(t, out.String(), "3 tiers OK")
	assert.Contains(t, out.String(), `tier "200k and above"`)
	assert.Contains(t, out.String(), "4. President (Pending_President_Approval): (unresolved)")
}
