package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/procurement-engine/procurement"
)

var created = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func sampleRequisition() *procurement.Requisition {
	return &procurement.Requisition{
		ID:         "req-1",
		Status:     procurement.StatusDraft,
		Title:      "Lab laptops",
		Items:      []procurement.RequisitionItem{{ID: "item-1", Name: "Laptop", Quantity: 10, UnitPrice: decimal.NewFromInt(1200)}},
		TotalPrice: decimal.Zero,
		CreatedAt:  created,
	}
}

func sampleQuotation(id procurement.QuotationID, vendor procurement.VendorID) *procurement.Quotation {
	return &procurement.Quotation{
		ID:            id,
		RequisitionID: "req-1",
		VendorID:      vendor,
		Items: []procurement.QuoteItem{
			{ID: procurement.QuoteItemID(string(id) + "-1"), QuotationID: id, RequisitionItemID: "item-1", Quantity: 10, UnitPrice: decimal.NewFromInt(1100)},
		},
		Status:      procurement.AwardSubmitted,
		SubmittedAt: created,
	}
}

func write(t *testing.T, m *Memory, fn func(ctx context.Context, tx procurement.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx procurement.Tx) error { return fn(ctx, tx) }))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestMemory_StaleVersion_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	write(t, m, func(ctx context.Context, tx procurement.Tx) error { return tx.SaveRequisition(ctx, sampleRequisition()) })

	first, err := m.GetRequisition(ctx, "req-1")
	require.NoError(t, err)
	second, err := m.GetRequisition(ctx, "req-1")
	require.NoError(t, err)

	first.Title = "first"
	write(t, m, func(ctx context.Context, tx procurement.Tx) error { return tx.SaveRequisition(ctx, first) })
	assert.Equal(t, 2, first.Version)

	second.Title = "second"
	err = m.WithTx(ctx, func(tx procurement.Tx) error { return tx.SaveRequisition(ctx, second) })

	assert.ErrorIs(t, err, procurement.ErrConcurrentModification)
	got, err := m.GetRequisition(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestMemory_InsertTwice_Conflict(t *testing.T) {
	m := NewMemory()
	write(t, m, func(ctx context.Context, tx procurement.Tx) error { return tx.SaveRequisition(ctx, sampleRequisition()) })

	err := m.WithTx(context.Background(), func(tx procurement.Tx) error {
		return tx.SaveRequisition(context.Background(), sampleRequisition())
	})

	assert.ErrorIs(t, err, procurement.ErrConflict)
}

func TestMemory_ErrorRollsBackEveryWrite(t *testing.T) {
	// GIVEN: A transaction that writes a requisition, a quotation and an audit entry
	// WHEN: The function returns an error
	// THEN: None of the writes are visible

	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx procurement.Tx) error {
		if err := tx.SaveRequisition(ctx, sampleRequisition()); err != nil {
			return err
		}
		if err := tx.SaveQuotation(ctx, sampleQuotation("q-1", "v-1")); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, procurement.AuditEntry{ID: "a-1", RequisitionID: "req-1", Action: procurement.AuditCreateRequisition}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.True(t, procurement.IsNotFound(errOnly(m.GetRequisition(ctx, "req-1"))))
	quotes, err := m.ListQuotations(ctx, "req-1")
	require.NoError(t, err)
	assert.Empty(t, quotes)
	entries, err := m.QueryAudit(ctx, procurement.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func errOnly[T any](_ T, err error) error { return err }

func TestMemory_ExpiredContext(t *testing.T) {
	t.Run("before the transaction starts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false

		err := NewMemory().WithTx(ctx, func(procurement.Tx) error {
			called = true
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
	t.Run("while the transaction runs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		m := NewMemory()

		err := m.WithTx(ctx, func(tx procurement.Tx) error {
			if err := tx.SaveRequisition(ctx, sampleRequisition()); err != nil {
				return err
			}
			cancel()
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		_, err = m.GetRequisition(context.Background(), "req-1")
		assert.ErrorIs(t, err, procurement.ErrNotFound)
	})
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	write(t, m, func(ctx context.Context, tx procurement.Tx) error { return tx.SaveQuotation(ctx, sampleQuotation("q-1", "v-1")) })

	q, err := m.GetQuotation(ctx, "q-1")
	require.NoError(t, err)
	q.Items[0].UnitPrice = decimal.NewFromInt(1)
	q.Status = procurement.AwardAccepted

	again, err := m.GetQuotation(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, procurement.AwardSubmitted, again.Status)
	assert.True(t, again.Items[0].UnitPrice.Equal(decimal.NewFromInt(1100)))
}

// =============================================================================
// QUOTATIONS AND SCORES
// =============================================================================

func TestMemory_QuotationsKeepSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	write(t, m, func(ctx context.Context, tx procurement.Tx) error {
		for _, q := range []*procurement.Quotation{sampleQuotation("q-b", "v-b"), sampleQuotation("q-a", "v-a"), sampleQuotation("q-c", "v-c")} {
			if err := tx.SaveQuotation(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	// An update keeps its original slot.
	updated := sampleQuotation("q-b", "v-b")
	updated.Notes = "revised"
	write(t, m, func(ctx context.Context, tx procurement.Tx) error { return tx.SaveQuotation(ctx, updated) })

	quotes, err := m.ListQuotations(ctx, "req-1")
	require.NoError(t, err)
	var ids []procurement.QuotationID
	for _, q := range quotes {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []procurement.QuotationID{"q-b", "q-a", "q-c"}, ids)
	assert.Equal(t, "revised", quotes[0].Notes)
}

func TestMemory_ScoreSets_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	set := func(id procurement.ScoreSetID, req procurement.RequisitionID, q procurement.QuotationID, scorer procurement.UserID, score int64) procurement.ScoreSet {
		return procurement.ScoreSet{ID: id, RequisitionID: req, QuotationID: q, ScorerID: scorer, FinalScore: decimal.NewFromInt(score),
			ItemScores: []procurement.ItemScore{{QuoteItemID: "qi-1", FinalScore: decimal.NewFromInt(score)}}}
	}
	write(t, m, func(ctx context.Context, tx procurement.Tx) error {
		for _, s := range []procurement.ScoreSet{
			set("s-1", "req-1", "q-1", "u-tech", 70),
			set("s-2", "req-1", "q-1", "u-fin", 60),
			set("s-3", "req-2", "q-9", "u-tech", 50),
		} {
			if err := tx.ReplaceScoreSet(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})

	// Same scorer, same quotation: replaced.
	write(t, m, func(ctx context.Context, tx procurement.Tx) error {
		return tx.ReplaceScoreSet(ctx, set("s-4", "req-1", "q-1", "u-tech", 90))
	})
	sets, err := m.ListScoreSets(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, sets, 2)
	byScorer := map[procurement.UserID]procurement.ScoreSet{}
	for _, s := range sets {
		byScorer[s.ScorerID] = s
	}
	assert.Equal(t, procurement.ScoreSetID("s-4"), byScorer["u-tech"].ID)
	assert.True(t, byScorer["u-tech"].FinalScore.Equal(decimal.NewFromInt(90)))

	// Delete only touches the one requisition.
	var removed int
	write(t, m, func(ctx context.Context, tx procurement.Tx) error {
		var err error
		removed, err = tx.DeleteScoreSets(ctx, "req-1")
		return err
	})
	assert.Equal(t, 2, removed)
	sets, err = m.ListScoreSets(ctx, "req-1")
	require.NoError(t, err)
	assert.Empty(t, sets)
	other, err := m.ListScoreSets(ctx, "req-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

// =============================================================================
// DIRECTORY AND AUDIT
// =============================================================================

func TestMemory_UsersWithRole(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveUser(ctx, procurement.User{ID: "u-mgr", Roles: []procurement.Role{procurement.RoleManagerProcurement}}))
	require.NoError(t, m.SaveUser(ctx, procurement.User{ID: "u-cb1", Roles: []procurement.Role{procurement.RoleCommitteeB}}))
	require.NoError(t, m.SaveUser(ctx, procurement.User{ID: "u-cb2", Roles: []procurement.Role{procurement.RoleCommitteeB, procurement.RoleCommitteeMember}}))

	cb, err := m.UsersWithRole(ctx, procurement.RoleCommitteeB)
	require.NoError(t, err)
	require.Len(t, cb, 2)
	assert.Equal(t, procurement.UserID("u-cb1"), cb[0].ID)
	assert.Equal(t, procurement.UserID("u-cb2"), cb[1].ID)

	none, err := m.UsersWithRole(ctx, procurement.RolePresident)
	require.NoError(t, err)
	assert.Empty(t, none)

	// Saving again replaces the roles.
	require.NoError(t, m.SaveUser(ctx, procurement.User{ID: "u-cb1", Roles: []procurement.Role{procurement.RoleFinance}}))
	cb, err = m.UsersWithRole(ctx, procurement.RoleCommitteeB)
	require.NoError(t, err)
	assert.Len(t, cb, 1)

	_, err = m.GetUser(ctx, "u-missing")
	assert.ErrorIs(t, err, procurement.ErrNotFound)
}

func TestMemory_QueryAudit_Filters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	write(t, m, func(ctx context.Context, tx procurement.Tx) error {
		for _, e := range []procurement.AuditEntry{
			{ID: "a-1", RequisitionID: "req-1", ActorID: "u-po", Action: procurement.AuditSendRFQ, EntityID: "req-1"},
			{ID: "a-2", RequisitionID: "req-1", ActorID: "u-acme", Action: procurement.AuditSubmitQuote, EntityID: "q-1"},
			{ID: "a-3", RequisitionID: "req-2", ActorID: "u-po", Action: procurement.AuditSendRFQ, EntityID: "req-2"},
			{ID: "a-4", RequisitionID: "req-1", ActorID: "u-acme", Action: procurement.AuditDeclineAward, EntityID: "q-1"},
		} {
			if err := tx.AppendAudit(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	req1 := procurement.RequisitionID("req-1")
	quote := "q-1"
	officer := procurement.UserID("u-po")

	tests := []struct {
		name   string
		filter procurement.AuditFilter
		want   []string
	}{
		{"everything", procurement.AuditFilter{}, []string{"a-1", "a-2", "a-3", "a-4"}},
		{"by requisition", procurement.AuditFilter{RequisitionID: &req1}, []string{"a-1", "a-2", "a-4"}},
		{"by entity", procurement.AuditFilter{EntityID: &quote}, []string{"a-2", "a-4"}},
		{"by actor", procurement.AuditFilter{ActorID: &officer}, []string{"a-1", "a-3"}},
		{"by actions", procurement.AuditFilter{Actions: []procurement.AuditAction{procurement.AuditSubmitQuote, procurement.AuditDeclineAward}}, []string{"a-2", "a-4"}},
		{"combined", procurement.AuditFilter{RequisitionID: &req1, ActorID: &officer}, []string{"a-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := m.QueryAudit(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
