/*
handlers_test.go - HTTP tests for the procurement API

Tests for:
- Identity headers (RequireActor)
- Error kind → status mapping (statusFor)
- A full award cycle driven through the router
- Completion scheduler sweep
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/procurement-engine/factory"
	"github.com/warp/procurement-engine/procurement"
	"github.com/warp/procurement-engine/procurement/store"
)

type caller struct {
	id     string
	roles  []procurement.Role
	vendor string
}

var (
	requester = caller{id: "u-req", roles: []procurement.Role{procurement.RoleRequester}}
	approver  = caller{id: "u-head", roles: []procurement.Role{procurement.RoleApprover}}
	officer   = caller{id: "u-po", roles: []procurement.Role{procurement.RoleProcurementOfficer}}
	scorer    = caller{id: "u-tech", roles: []procurement.Role{procurement.RoleCommitteeMember}}
	manager   = caller{id: "u-mgr", roles: []procurement.Role{procurement.RoleManagerProcurement}}
	receiving = caller{id: "u-dock", roles: []procurement.Role{procurement.RoleReceiving}}
	finance   = caller{id: "u-fin", roles: []procurement.Role{procurement.RoleFinance}}
	vendorA   = caller{id: "u-acme", roles: []procurement.Role{procurement.RoleVendor}, vendor: "v-acme"}
	vendorB   = caller{id: "u-globex", roles: []procurement.Role{procurement.RoleVendor}, vendor: "v-globex"}
)

type testServer struct {
	t      *testing.T
	router http.Handler
	svc    *procurement.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	for _, c := range []caller{requester, approver, officer, scorer, manager, receiving, finance} {
		require.NoError(t, mem.SaveUser(context.Background(), procurement.User{ID: procurement.UserID(c.id), Name: c.id, Roles: c.roles}))
	}
	svc := procurement.NewService(mem, factory.DefaultMatrix(), procurement.Config{})
	return &testServer{t: t, router: NewRouter(NewHandler(svc, nil), []string{"*"}), svc: svc}
}

// do sends a request as c. A nil body sends no body.
func (s *testServer) do(c *caller, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c != nil {
		req.Header.Set(HeaderActorID, c.id)
		req.Header.Set(HeaderActorName, c.id)
		var roles []string
		for _, r := range c.roles {
			roles = append(roles, string(r))
		}
		req.Header.Set(HeaderActorRoles, strings.Join(roles, ","))
		req.Header.Set(HeaderVendorID, c.vendor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// call sends a request and decodes the response into out, failing unless
// the status is want.
func (s *testServer) call(c caller, method, path string, body any, want int, out any) {
	s.t.Helper()
	rec := s.do(&c, method, path, body)
	require.Equal(s.t, want, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if out != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func laptopRequisition() CreateRequisitionRequest {
	return CreateRequisitionRequest{
		Title:      "Lab laptops",
		Department: "Research",
		Items: []NewItemRequest{
			{Name: "Laptop", Quantity: 4, UnitPrice: decimal.NewFromInt(1200)},
		},
	}
}

// =============================================================================
// IDENTITY AND ERRORS
// =============================================================================

func TestAPI_MissingActorIsUnauthorized(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(nil, http.MethodGet, "/api/requisitions", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing actor identity", decodeError(t, rec).Error)
}

func TestAPI_HealthNeedsNoActor(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(nil, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CreateRequisition(t *testing.T) {
	s := newTestServer(t)

	var created RequisitionDTO
	s.call(requester, http.MethodPost, "/api/requisitions", laptopRequisition(), http.StatusCreated, &created)

	assert.Equal(t, string(procurement.StatusDraft), created.Status)
	assert.Equal(t, "u-req", created.RequesterID)
	require.Len(t, created.Items, 1)
	assert.True(t, created.Items[0].UnitPrice.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, 1, created.Version)

	var fetched RequisitionDTO
	s.call(officer, http.MethodGet, "/api/requisitions/"+created.ID, nil, http.StatusOK, &fetched)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	var created RequisitionDTO
	s.call(requester, http.MethodPost, "/api/requisitions", laptopRequisition(), http.StatusCreated, &created)

	tests := []struct {
		name   string
		caller caller
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown requisition", officer, http.MethodGet, "/api/requisitions/nope", nil, http.StatusNotFound, "not_found"},
		{"wrong role", vendorA, http.MethodPost, "/api/requisitions", laptopRequisition(), http.StatusForbidden, "unauthorized"},
		{"invalid input", requester, http.MethodPost, "/api/requisitions", CreateRequisitionRequest{Title: "empty"}, http.StatusBadRequest, "validation"},
		{"out of order", approver, http.MethodPost, "/api/requisitions/" + created.ID + "/approve", nil, http.StatusConflict, "invalid_state"},
		{"reject without reason", approver, http.MethodPost, "/api/requisitions/" + created.ID + "/reject", CommentRequest{}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(&tt.caller, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestAPI_MalformedJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/requisitions", strings.NewReader(`{"title": "x", "colour": "red"}`))
	req.Header.Set(HeaderActorID, requester.id)
	req.Header.Set(HeaderActorRoles, string(procurement.RoleRequester))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeError(t, rec).Error)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&procurement.NotFoundError{Entity: "quotation", ID: "q"}, http.StatusNotFound, "not_found"},
		{&procurement.UnauthorizedError{ActorID: "u"}, http.StatusForbidden, "unauthorized"},
		{&procurement.InvalidStateError{Reason: "no"}, http.StatusConflict, "invalid_state"},
		{&procurement.ValidationError{Field: "f", Reason: "bad"}, http.StatusBadRequest, "validation"},
		{&procurement.ConfigurationError{Reason: "gap"}, http.StatusInternalServerError, "configuration"},
		{&procurement.AlreadyClosedError{RequisitionID: "r", Status: procurement.StatusClosed}, http.StatusConflict, "already_closed"},
		{&procurement.ConflictError{Reason: "dup"}, http.StatusConflict, "conflict"},
		{fmt.Errorf("saving: %w", procurement.ErrConcurrentModification), http.StatusConflict, "concurrent_modification"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestHandler_Fail_RetryableAndClientErrors(t *testing.T) {
	var logs bytes.Buffer
	h := NewHandler(nil, slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	r := httptest.NewRequest(http.MethodPost, "/api/requisitions/r-1/accept", nil)

	t.Run("lost concurrent update", func(t *testing.T) {
		// GIVEN: A write that lost an optimistic lock race
		rec := httptest.NewRecorder()

		// WHEN: The handler reports it
		h.fail(rec, r, fmt.Errorf("saving: %w", procurement.ErrConcurrentModification))

		// THEN: The caller is told to retry
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		assert.Contains(t, logs.String(), "request lost a concurrent update")
	})
	t.Run("caller mistake", func(t *testing.T) {
		// GIVEN: A validation failure
		rec := httptest.NewRecorder()

		// WHEN: The handler reports it
		h.fail(rec, r, &procurement.ValidationError{Field: "amount", Reason: "must be positive"})

		// THEN: No retry hint, logged at debug only
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, logs.String(), "level=DEBUG msg=\"request rejected\"")
		assert.NotContains(t, logs.String(), "level=ERROR")
	})
}

// =============================================================================
// FULL CYCLE
// =============================================================================

// awardedRequisition drives a requisition through approval, RFQ, two
// quotations and scoring, finalizes it under the "all" strategy and
// releases it. Acme outscores Globex.
func awardedRequisition(t *testing.T, s *testServer) (req RequisitionDTO, acme, globex QuotationDTO) {
	t.Helper()
	s.call(requester, http.MethodPost, "/api/requisitions", laptopRequisition(), http.StatusCreated, &req)
	base := "/api/requisitions/" + req.ID

	s.call(requester, http.MethodPost, base+"/submit", nil, http.StatusOK, nil)
	s.call(approver, http.MethodPost, base+"/approve", CommentRequest{Comment: "budget ok"}, http.StatusOK, nil)
	s.call(officer, http.MethodPut, base+"/criteria", CriteriaRequest{
		FinancialWeight:   decimal.NewFromInt(40),
		TechnicalWeight:   decimal.NewFromInt(60),
		FinancialCriteria: []CriterionRequest{{ID: "price", Name: "Price", Weight: decimal.NewFromInt(100)}},
		TechnicalCriteria: []CriterionRequest{{ID: "spec", Name: "Specification", Weight: decimal.NewFromInt(100)}},
	}, http.StatusOK, nil)
	s.call(officer, http.MethodPut, base+"/committee", CommitteeRequest{Name: "Laptop panel", Technical: []string{scorer.id}}, http.StatusOK, nil)
	s.call(officer, http.MethodPost, base+"/rfq", RFQRequest{}, http.StatusOK, nil)

	itemID := req.Items[0].ID
	s.call(vendorA, http.MethodPost, base+"/quotations", QuoteRequest{Items: []QuoteItemRequest{
		{RequisitionItemID: itemID, Quantity: 4, UnitPrice: decimal.NewFromInt(1100)},
	}}, http.StatusCreated, &acme)
	s.call(vendorB, http.MethodPost, base+"/quotations", QuoteRequest{Items: []QuoteItemRequest{
		{RequisitionItemID: itemID, Quantity: 4, UnitPrice: decimal.NewFromInt(1000)},
	}}, http.StatusCreated, &globex)

	s.call(officer, http.MethodPost, base+"/scoring/start", nil, http.StatusOK, nil)
	for _, q := range []struct {
		quote QuotationDTO
		score int64
	}{{acme, 90}, {globex, 70}} {
		s.call(scorer, http.MethodPost, base+"/scores", ScoreRequest{
			QuotationID: q.quote.ID,
			Items: []ItemScoreRequest{{QuoteItemID: q.quote.Items[0].ID, Scores: []ScoreJSON{
				{Type: "financial", CriterionID: "price", Value: decimal.NewFromInt(q.score)},
				{Type: "technical", CriterionID: "spec", Value: decimal.NewFromInt(q.score)},
			}}},
		}, http.StatusCreated, nil)
	}
	s.call(officer, http.MethodPost, base+"/scoring/complete", nil, http.StatusOK, nil)

	s.call(officer, http.MethodPost, base+"/award/finalize", FinalizeRequest{Strategy: "all", Justification: "best score"}, http.StatusOK, &req)
	require.Equal(t, string(procurement.StatusPendingManagerial), req.Status)
	require.NotNil(t, req.CurrentApproverID)
	assert.Equal(t, manager.id, *req.CurrentApproverID)

	s.call(manager, http.MethodPost, base+"/award/approve", nil, http.StatusOK, &req)
	require.Equal(t, string(procurement.StatusPostApproved), req.Status)
	s.call(officer, http.MethodPost, base+"/award/notify", nil, http.StatusOK, &req)
	require.Equal(t, string(procurement.StatusAwarded), req.Status)
	return req, acme, globex
}

func TestAPI_AwardAcceptThroughPayment(t *testing.T) {
	// GIVEN: An award released to Acme
	s := newTestServer(t)
	req, acme, _ := awardedRequisition(t, s)
	base := "/api/requisitions/" + req.ID
	assert.True(t, req.TotalPrice.Equal(decimal.NewFromInt(4400)))

	// WHEN: Acme accepts
	var po PurchaseOrderDTO
	s.call(vendorA, http.MethodPost, base+"/award/accept", VendorResponseRequest{QuotationID: acme.ID}, http.StatusCreated, &po)

	// THEN: One PO covers the winning lines
	assert.Equal(t, "v-acme", po.VendorID)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(4400)))
	s.call(officer, http.MethodGet, base, nil, http.StatusOK, &req)
	assert.Equal(t, string(procurement.StatusPOCreated), req.Status)

	// A second accept is refused
	rec := s.do(&vendorA, http.MethodPost, base+"/award/accept", VendorResponseRequest{QuotationID: acme.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: Goods arrive, Acme invoices and finance pays
	s.call(receiving, http.MethodPost, "/api/purchase-orders/"+po.ID+"/receipts", ReceiptRequest{
		Lines: []ReceiptLineJSON{{QuoteItemID: po.Items[0].QuoteItemID, Quantity: 4}},
	}, http.StatusCreated, nil)
	var inv InvoiceDTO
	s.call(vendorA, http.MethodPost, "/api/purchase-orders/"+po.ID+"/invoices", InvoiceRequest{Amount: decimal.NewFromInt(4400)}, http.StatusCreated, &inv)
	s.call(finance, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", nil, http.StatusOK, &inv)

	// THEN: The requisition closes itself
	assert.Equal(t, string(procurement.InvoicePaid), inv.Status)
	s.call(officer, http.MethodGet, base, nil, http.StatusOK, &req)
	assert.Equal(t, string(procurement.StatusClosed), req.Status)

	var audit []AuditEntryDTO
	s.call(officer, http.MethodGet, base+"/audit", nil, http.StatusOK, &audit)
	assert.Equal(t, string(procurement.AuditCloseRequisition), audit[len(audit)-1].Action)
}

func TestAPI_DeclineAndPromoteStandby(t *testing.T) {
	// GIVEN: An award released to Acme with Globex on standby
	s := newTestServer(t)
	req, acme, globex := awardedRequisition(t, s)
	base := "/api/requisitions/" + req.ID

	// WHEN: Acme declines
	var outcome DeclineOutcomeDTO
	s.call(vendorA, http.MethodPost, base+"/award/decline", VendorResponseRequest{QuotationID: acme.ID, Reason: "out of stock"}, http.StatusOK, &outcome)

	// THEN: Globex is ready for promotion
	assert.Equal(t, []string{globex.ID}, outcome.ReadyForPromotion)
	assert.False(t, outcome.ResetRequired)

	// Globex cannot respond before it has been promoted
	rec := s.do(&vendorB, http.MethodPost, base+"/award/accept", VendorResponseRequest{QuotationID: globex.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: The officer promotes the standby
	var promotions []PromotionDTO
	s.call(officer, http.MethodPost, base+"/award/promote", CommentRequest{Comment: "next best"}, http.StatusOK, &promotions)

	// THEN: Globex's full value is routed for approval again
	require.Len(t, promotions, 1)
	assert.Equal(t, "v-globex", promotions[0].VendorID)
	assert.True(t, promotions[0].Value.Equal(decimal.NewFromInt(4000)))
	s.call(officer, http.MethodGet, base, nil, http.StatusOK, &req)
	assert.Equal(t, string(procurement.StatusPendingManagerial), req.Status)
	assert.True(t, req.TotalPrice.Equal(decimal.NewFromInt(4000)))

	var minutes []MinuteDTO
	s.call(officer, http.MethodGet, base+"/minutes", nil, http.StatusOK, &minutes)
	assert.Contains(t, minutes[len(minutes)-1].Decision, "promoted")
}

func TestAPI_ResetReopensRFQ(t *testing.T) {
	s := newTestServer(t)
	req, _, _ := awardedRequisition(t, s)
	base := "/api/requisitions/" + req.ID

	s.call(officer, http.MethodPost, base+"/award/reset", CommentRequest{Reason: "scope changed"}, http.StatusOK, &req)

	assert.Equal(t, string(procurement.StatusPreApproved), req.Status)
	assert.Empty(t, req.AwardedQuoteItemIDs)
	var quotes []QuotationDTO
	s.call(officer, http.MethodGet, base+"/quotations", nil, http.StatusOK, &quotes)
	for _, q := range quotes {
		assert.Equal(t, string(procurement.AwardSubmitted), q.Status)
		assert.Nil(t, q.Rank)
	}
	var scores []ScoreSetDTO
	s.call(officer, http.MethodGet, base+"/scores", nil, http.StatusOK, &scores)
	assert.Empty(t, scores)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestCompletionScheduler_RunNowLeavesOpenRequisitions(t *testing.T) {
	// GIVEN: An accepted award that was invoiced and paid before delivery
	s := newTestServer(t)
	req, acme, _ := awardedRequisition(t, s)
	base := "/api/requisitions/" + req.ID

	var po PurchaseOrderDTO
	s.call(vendorA, http.MethodPost, base+"/award/accept", VendorResponseRequest{QuotationID: acme.ID}, http.StatusCreated, &po)
	var inv InvoiceDTO
	s.call(vendorA, http.MethodPost, "/api/purchase-orders/"+po.ID+"/invoices", InvoiceRequest{Amount: decimal.NewFromInt(4400)}, http.StatusCreated, &inv)
	s.call(finance, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", nil, http.StatusOK, nil)

	// Paid before delivery, so still open
	s.call(officer, http.MethodGet, base, nil, http.StatusOK, &req)
	require.Equal(t, string(procurement.StatusPOCreated), req.Status)

	sched := NewCompletionScheduler(s.svc, nil)
	res := sched.RunNow(context.Background())
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Closed)

	// WHEN: Delivery completes
	s.call(receiving, http.MethodPost, "/api/purchase-orders/"+po.ID+"/receipts", ReceiptRequest{
		Lines: []ReceiptLineJSON{{QuoteItemID: po.Items[0].QuoteItemID, Quantity: 4}},
	}, http.StatusCreated, nil)

	// THEN: Delivery closed it inline and the sweep has nothing left to do
	s.call(officer, http.MethodGet, base, nil, http.StatusOK, &req)
	assert.Equal(t, string(procurement.StatusClosed), req.Status)
	res = sched.RunNow(context.Background())
	assert.Equal(t, 0, res.Checked)
}

func TestCompletionScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	var logs bytes.Buffer
	sched := NewCompletionScheduler(s.svc, slog.New(slog.NewTextHandler(&logs, nil)))
	assert.WithinDuration(t, time.Now().Add(time.Minute), sched.GetNextRunTime(), 5*time.Second)

	sched.Start()
	sched.Stop()
	sched.Stop()
	assert.Contains(t, logs.String(), "next_run=")

	sched.Enabled = false
	sched.Start()
	assert.Nil(t, sched.ticker)
}
