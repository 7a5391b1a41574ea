/*
handlers.go - HTTP API handlers for the procurement engine

PURPOSE:
  Exposes the procurement workflow via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every decision
  to procurement.Service. Handlers never touch the store directly.

ENDPOINTS:
  Requisitions:
    POST   /api/requisitions                       Create
    GET    /api/requisitions?status=A,B            List
    GET    /api/requisitions/{id}                  Get
    POST   /api/requisitions/{id}/submit           Submit for approval
    POST   /api/requisitions/{id}/approve          Pre-approve
    POST   /api/requisitions/{id}/reject           Reject (reason required)
    POST   /api/requisitions/{id}/cancel           Cancel
    PUT    /api/requisitions/{id}/criteria         Set evaluation criteria
    PUT    /api/requisitions/{id}/committee        Assign committee
    POST   /api/requisitions/{id}/rfq              Send RFQ

  Quotations and scoring:
    GET    /api/requisitions/{id}/quotations       List
    POST   /api/requisitions/{id}/quotations       Submit (vendor)
    PUT    /api/quotations/{id}                    Update (vendor)
    POST   /api/requisitions/{id}/scoring/start    Open scoring
    GET    /api/requisitions/{id}/scores           List score sets
    POST   /api/requisitions/{id}/scores           Submit scores
    POST   /api/requisitions/{id}/scoring/complete Close scoring

  Award:
    POST   /api/requisitions/{id}/award/finalize   Run strategy, route
    POST   /api/requisitions/{id}/award/approve    Approval step sign-off
    POST   /api/requisitions/{id}/award/reject     Back to scoring
    POST   /api/requisitions/{id}/award/notify     Release to vendors
    POST   /api/requisitions/{id}/award/accept     Vendor accepts
    POST   /api/requisitions/{id}/award/decline    Vendor declines
    POST   /api/requisitions/{id}/award/promote    Promote standby
    POST   /api/requisitions/{id}/award/reset      Reset for a new RFQ
    POST   /api/requisitions/{id}/award/restart    Restart failed items

  Fulfilment:
    GET    /api/requisitions/{id}/purchase-orders
    POST   /api/purchase-orders/{id}/status
    POST   /api/purchase-orders/{id}/receipts
    POST   /api/purchase-orders/{id}/invoices
    GET    /api/requisitions/{id}/invoices
    POST   /api/invoices/{id}/pay
    POST   /api/requisitions/{id}/close

  Records:
    GET    /api/requisitions/{id}/minutes
    GET    /api/requisitions/{id}/audit

REQUEST FLOW:
  1. RequireActor turns identity headers into a procurement.Actor
  2. Parse and decode the body
  3. Call the service (one transaction per call)
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind
  (see statusFor):
  - 400: ValidationError, malformed JSON
  - 403: UnauthorizedError
  - 404: NotFoundError
  - 409: InvalidStateError, AlreadyClosedError, ConflictError,
         concurrent modification
  - 500: ConfigurationError, anything unexpected
  - 504: transaction deadline exceeded

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor headers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/procurement-engine/procurement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *procurement.Service
	Logger  *slog.Logger
}

// NewHandler creates a new handler for the given service.
func NewHandler(svc *procurement.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func requisitionID(r *http.Request) procurement.RequisitionID {
	return procurement.RequisitionID(chi.URLParam(r, "id"))
}

// =============================================================================
// REQUISITION HANDLERS
// =============================================================================

func (h *Handler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	var req CreateRequisitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := procurement.NewRequisition{Title: req.Title, Justification: req.Justification, Department: req.Department}
	for _, it := range req.Items {
		in.Items = append(in.Items, procurement.NewItem{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	created, err := h.Service.CreateRequisition(r.Context(), actorFrom(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequisitionDTO(created))
}

func (h *Handler) ListRequisitions(w http.ResponseWriter, r *http.Request) {
	var statuses []procurement.RequisitionStatus
	if q := r.URL.Query().Get("status"); q != "" {
		for _, s := range strings.Split(q, ",") {
			statuses = append(statuses, procurement.RequisitionStatus(strings.TrimSpace(s)))
		}
	}
	reqs, err := h.Service.ListRequisitions(r.Context(), statuses...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toRequisitionDTO))
}

func (h *Handler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequisition(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// requisitionAction adapts the many service calls that take an actor, an id
// and an optional comment and return the updated requisition.
func (h *Handler) requisitionAction(fn func(context.Context, procurement.Actor, procurement.RequisitionID, string) (*procurement.Requisition, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CommentRequest
		if !decodeOptionalJSON(w, r, &body) {
			return
		}
		req, err := fn(r.Context(), actorFrom(r), requisitionID(r), body.text())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequisitionDTO(req))
	}
}

// withoutComment lifts an (actor, id) service call into requisitionAction's shape.
func withoutComment(fn func(context.Context, procurement.Actor, procurement.RequisitionID) (*procurement.Requisition, error)) func(context.Context, procurement.Actor, procurement.RequisitionID, string) (*procurement.Requisition, error) {
	return func(ctx context.Context, a procurement.Actor, id procurement.RequisitionID, _ string) (*procurement.Requisition, error) {
		return fn(ctx, a, id)
	}
}

func (h *Handler) SetCriteria(w http.ResponseWriter, r *http.Request) {
	var body CriteriaRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := h.Service.SetEvaluationCriteria(r.Context(), actorFrom(r), requisitionID(r), body.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

func (h *Handler) AssignCommittee(w http.ResponseWriter, r *http.Request) {
	var body CommitteeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	c := procurement.Committee{
		Name:            body.Name,
		Purpose:         body.Purpose,
		ScoringDeadline: body.ScoringDeadline,
	}
	for _, id := range body.Financial {
		c.Financial = append(c.Financial, procurement.UserID(id))
	}
	for _, id := range body.Technical {
		c.Technical = append(c.Technical, procurement.UserID(id))
	}
	req, err := h.Service.AssignCommittee(r.Context(), actorFrom(r), requisitionID(r), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

func (h *Handler) SendRFQ(w http.ResponseWriter, r *http.Request) {
	var body RFQRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	settings := procurement.RFQSettings{QuoteDeadline: body.QuoteDeadline, AllowPartial: body.AllowPartial, Notes: body.Notes}
	req, err := h.Service.SendRFQ(r.Context(), actorFrom(r), requisitionID(r), settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// =============================================================================
// QUOTATION AND SCORING HANDLERS
// =============================================================================

func (h *Handler) ListQuotations(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.Service.ListQuotations(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(quotes, toQuotationDTO))
}

func (h *Handler) SubmitQuotation(w http.ResponseWriter, r *http.Request) {
	var body QuoteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	q, err := h.Service.SubmitQuotation(r.Context(), actorFrom(r), requisitionID(r), body.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQuotationDTO(q))
}

func (h *Handler) UpdateQuotation(w http.ResponseWriter, r *http.Request) {
	var body QuoteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	id := procurement.QuotationID(chi.URLParam(r, "id"))
	q, err := h.Service.UpdateQuotation(r.Context(), actorFrom(r), id, body.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuotationDTO(q))
}

func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	sets, err := h.Service.ListScoreSets(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(sets, toScoreSetDTO))
}

func (h *Handler) SubmitScores(w http.ResponseWriter, r *http.Request) {
	var body ScoreRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	set, err := h.Service.SubmitScores(r.Context(), actorFrom(r), requisitionID(r), body.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScoreSetDTO(set))
}

// =============================================================================
// AWARD HANDLERS
// =============================================================================

func (h *Handler) FinalizeAward(w http.ResponseWriter, r *http.Request) {
	var body FinalizeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	in := procurement.FinalizeInput{Strategy: procurement.AwardStrategy(body.Strategy), Justification: body.Justification}
	req, err := h.Service.FinalizeAward(r.Context(), actorFrom(r), requisitionID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

func (h *Handler) AcceptAward(w http.ResponseWriter, r *http.Request) {
	var body VendorResponseRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	po, err := h.Service.AcceptAward(r.Context(), actorFrom(r), requisitionID(r), body.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseOrderDTO(po))
}

func (h *Handler) DeclineAward(w http.ResponseWriter, r *http.Request) {
	var body VendorResponseRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	outcome, err := h.Service.DeclineAward(r.Context(), actorFrom(r), requisitionID(r), body.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeclineOutcomeDTO(outcome))
}

func (h *Handler) PromoteStandby(w http.ResponseWriter, r *http.Request) {
	var body CommentRequest
	if !decodeOptionalJSON(w, r, &body) {
		return
	}
	promotions, err := h.Service.PromoteStandby(r.Context(), actorFrom(r), requisitionID(r), body.text())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDTOs(promotions))
}

func (h *Handler) RestartItems(w http.ResponseWriter, r *http.Request) {
	var body RestartRequest
	if !decodeOptionalJSON(w, r, &body) {
		return
	}
	var items []procurement.ItemID
	for _, id := range body.ItemIDs {
		items = append(items, procurement.ItemID(id))
	}
	req, err := h.Service.RestartItems(r.Context(), actorFrom(r), requisitionID(r), items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// =============================================================================
// FULFILMENT HANDLERS
// =============================================================================

func (h *Handler) ListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	pos, err := h.Service.ListPurchaseOrders(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(pos, toPurchaseOrderDTO))
}

func (h *Handler) UpdatePOStatus(w http.ResponseWriter, r *http.Request) {
	var body POStatusRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	id := procurement.PurchaseOrderID(chi.URLParam(r, "id"))
	po, err := h.Service.UpdatePOStatus(r.Context(), actorFrom(r), id, procurement.POStatus(body.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrderDTO(po))
}

func (h *Handler) ReceiveGoods(w http.ResponseWriter, r *http.Request) {
	var body ReceiptRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	in := procurement.ReceiptInput{Notes: body.Notes}
	for _, l := range body.Lines {
		in.Lines = append(in.Lines, procurement.ReceiptLine{QuoteItemID: procurement.QuoteItemID(l.QuoteItemID), Quantity: l.Quantity})
	}
	id := procurement.PurchaseOrderID(chi.URLParam(r, "id"))
	receipt, err := h.Service.ReceiveGoods(r.Context(), actorFrom(r), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

func (h *Handler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var body InvoiceRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	id := procurement.PurchaseOrderID(chi.URLParam(r, "id"))
	inv, err := h.Service.SubmitInvoice(r.Context(), actorFrom(r), id, body.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Service.ListInvoices(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(invs, toInvoiceDTO))
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	id := procurement.InvoiceID(chi.URLParam(r, "id"))
	inv, err := h.Service.PayInvoice(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

func (h *Handler) ListMinutes(w http.ResponseWriter, r *http.Request) {
	minutes, err := h.Service.ListMinutes(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(minutes, toMinuteDTO))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ListAudit(r.Context(), requisitionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toAuditEntryDTO))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps an error kind to its HTTP status and a short code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, procurement.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, procurement.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, procurement.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, procurement.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, procurement.ErrConfiguration):
		return http.StatusInternalServerError, "configuration"
	case errors.Is(err, procurement.ErrAlreadyClosed):
		return http.StatusConflict, "already_closed"
	case errors.Is(err, procurement.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, procurement.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	switch {
	case procurement.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		h.Logger.Warn("request lost a concurrent update",
			"method", r.Method, "path", r.URL.Path, "error", err)
	case procurement.IsClientError(err):
		h.Logger.Debug("request rejected",
			"method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	case status >= http.StatusInternalServerError:
		h.Logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", fmt.Errorf("decoding JSON: %w", err))
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", fmt.Errorf("decoding JSON: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
