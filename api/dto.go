/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Prices, amounts, weights and scores are decimal.Decimal, which encodes
  as a JSON string ("1250.50") and decodes from a string or a number.

VALIDATION:
  Validation is done by the procurement service, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/procurement"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateRequisitionRequest struct {
	Title         string           `json:"title"`
	Justification string           `json:"justification"`
	Department    string           `json:"department"`
	Items         []NewItemRequest `json:"items"`
}

type NewItemRequest struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CommentRequest carries an optional comment or a required reason.
type CommentRequest struct {
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

func (c CommentRequest) text() string {
	if c.Reason != "" {
		return c.Reason
	}
	return c.Comment
}

type CriteriaRequest struct {
	FinancialWeight   decimal.Decimal    `json:"financial_weight"`
	TechnicalWeight   decimal.Decimal    `json:"technical_weight"`
	FinancialCriteria []CriterionRequest `json:"financial_criteria"`
	TechnicalCriteria []CriterionRequest `json:"technical_criteria"`
}

type CriterionRequest struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Weight decimal.Decimal `json:"weight"`
}

type CommitteeRequest struct {
	Name            string     `json:"name"`
	Purpose         string     `json:"purpose"`
	Financial       []string   `json:"financial"`
	Technical       []string   `json:"technical"`
	ScoringDeadline *time.Time `json:"scoring_deadline,omitempty"`
}

type RFQRequest struct {
	QuoteDeadline *time.Time `json:"quote_deadline,omitempty"`
	AllowPartial  bool       `json:"allow_partial"`
	Notes         string     `json:"notes"`
}

type QuoteRequest struct {
	Items []QuoteItemRequest `json:"items"`
	Notes string             `json:"notes"`
}

type QuoteItemRequest struct {
	RequisitionItemID string          `json:"requisition_item_id"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	LeadTimeDays      int             `json:"lead_time_days"`
}

type ScoreRequest struct {
	QuotationID string             `json:"quotation_id"`
	Comment     string             `json:"comment"`
	Items       []ItemScoreRequest `json:"items"`
}

type ItemScoreRequest struct {
	QuoteItemID string      `json:"quote_item_id"`
	Scores      []ScoreJSON `json:"scores"`
}

// ScoreJSON is shared by requests and responses.
type ScoreJSON struct {
	Type        string          `json:"type"`
	CriterionID string          `json:"criterion_id"`
	Value       decimal.Decimal `json:"value"`
	Comment     string          `json:"comment,omitempty"`
}

type FinalizeRequest struct {
	Strategy      string `json:"strategy"`
	Justification string `json:"justification"`
}

// VendorResponseRequest is an accept or decline of an award.
type VendorResponseRequest struct {
	QuotationID string   `json:"quotation_id"`
	ItemIDs     []string `json:"item_ids,omitempty"`
	Reason      string   `json:"reason"`
}

type RestartRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type POStatusRequest struct {
	Status string `json:"status"`
}

type ReceiptRequest struct {
	Lines []ReceiptLineJSON `json:"lines"`
	Notes string            `json:"notes"`
}

type ReceiptLineJSON struct {
	QuoteItemID string `json:"quote_item_id"`
	Quantity    int    `json:"quantity"`
}

type InvoiceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type RequisitionDTO struct {
	ID                    string               `json:"id"`
	Status                string               `json:"status"`
	Title                 string               `json:"title"`
	Justification         string               `json:"justification,omitempty"`
	Department            string               `json:"department,omitempty"`
	RequesterID           string               `json:"requester_id"`
	Items                 []RequisitionItemDTO `json:"items"`
	Criteria              *CriteriaRequest     `json:"criteria,omitempty"`
	RFQ                   RFQRequest           `json:"rfq"`
	FinancialCommittee    []string             `json:"financial_committee"`
	TechnicalCommittee    []string             `json:"technical_committee"`
	CommitteeName         string               `json:"committee_name,omitempty"`
	CommitteePurpose      string               `json:"committee_purpose,omitempty"`
	ScoringDeadline       *time.Time           `json:"scoring_deadline,omitempty"`
	AwardResponseDeadline *time.Time           `json:"award_response_deadline,omitempty"`
	AwardStrategy         string               `json:"award_strategy,omitempty"`
	AwardedQuoteItemIDs   []string             `json:"awarded_quote_item_ids"`
	TotalPrice            decimal.Decimal      `json:"total_price"`
	CurrentApproverID     *string              `json:"current_approver_id,omitempty"`
	Version               int                  `json:"version"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

type RequisitionItemDTO struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	AwardDetails []AwardDetailDTO `json:"award_details,omitempty"`
}

type AwardDetailDTO struct {
	Rank        int             `json:"rank"`
	VendorID    string          `json:"vendor_id"`
	VendorName  string          `json:"vendor_name"`
	QuotationID string          `json:"quotation_id"`
	QuoteItemID string          `json:"quote_item_id"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Score       decimal.Decimal `json:"score"`
	Status      string          `json:"status"`
}

type QuotationDTO struct {
	ID                string          `json:"id"`
	RequisitionID     string          `json:"requisition_id"`
	VendorID          string          `json:"vendor_id"`
	VendorName        string          `json:"vendor_name"`
	Items             []QuoteItemDTO  `json:"items"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	Status            string          `json:"status"`
	Rank              *int            `json:"rank,omitempty"`
	FinalAverageScore decimal.Decimal `json:"final_average_score"`
	Notes             string          `json:"notes,omitempty"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type QuoteItemDTO struct {
	ID                string          `json:"id"`
	RequisitionItemID string          `json:"requisition_item_id"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	LeadTimeDays      int             `json:"lead_time_days"`
	Status            string          `json:"status"`
}

type ScoreSetDTO struct {
	ID          string          `json:"id"`
	QuotationID string          `json:"quotation_id"`
	ScorerID    string          `json:"scorer_id"`
	ScorerName  string          `json:"scorer_name"`
	Comment     string          `json:"comment,omitempty"`
	ItemScores  []ItemScoreDTO  `json:"item_scores"`
	FinalScore  decimal.Decimal `json:"final_score"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

type ItemScoreDTO struct {
	QuoteItemID string          `json:"quote_item_id"`
	Scores      []ScoreJSON     `json:"scores"`
	FinalScore  decimal.Decimal `json:"final_score"`
}

type PurchaseOrderDTO struct {
	ID            string          `json:"id"`
	RequisitionID string          `json:"requisition_id"`
	VendorID      string          `json:"vendor_id"`
	QuotationID   string          `json:"quotation_id"`
	Items         []POItemDTO     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type POItemDTO struct {
	QuoteItemID       string          `json:"quote_item_id"`
	RequisitionItemID string          `json:"requisition_item_id"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	ReceivedQuantity  int             `json:"received_quantity"`
}

type ReceiptDTO struct {
	ID              string            `json:"id"`
	PurchaseOrderID string            `json:"purchase_order_id"`
	ReceivedBy      string            `json:"received_by"`
	Lines           []ReceiptLineJSON `json:"lines"`
	Notes           string            `json:"notes,omitempty"`
	ReceivedAt      time.Time         `json:"received_at"`
}

type InvoiceDTO struct {
	ID              string          `json:"id"`
	PurchaseOrderID string          `json:"purchase_order_id"`
	RequisitionID   string          `json:"requisition_id"`
	VendorID        string          `json:"vendor_id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

type DeclineOutcomeDTO struct {
	ReadyForPromotion []string `json:"ready_for_promotion"`
	FailedItems       []string `json:"failed_items"`
	ResetRequired     bool     `json:"reset_required"`
}

type PromotionDTO struct {
	ItemID      string          `json:"item_id,omitempty"`
	QuotationID string          `json:"quotation_id"`
	VendorID    string          `json:"vendor_id"`
	Value       decimal.Decimal `json:"value"`
}

type MinuteDTO struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Decision      string    `json:"decision"`
	Justification string    `json:"justification,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditEntryDTO struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ActorID       string    `json:"actor_id"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Details       string    `json:"details,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRequisitionDTO(r *procurement.Requisition) RequisitionDTO {
	dto := RequisitionDTO{
		ID:                    string(r.ID),
		Status:                string(r.Status),
		Title:                 r.Title,
		Justification:         r.Justification,
		Department:            r.Department,
		RequesterID:           string(r.RequesterID),
		RFQ:                   RFQRequest{QuoteDeadline: r.RFQ.QuoteDeadline, AllowPartial: r.RFQ.AllowPartial, Notes: r.RFQ.Notes},
		FinancialCommittee:    stringsOf(r.FinancialCommittee),
		TechnicalCommittee:    stringsOf(r.TechnicalCommittee),
		CommitteeName:         r.CommitteeName,
		CommitteePurpose:      r.CommitteePurpose,
		ScoringDeadline:       r.ScoringDeadline,
		AwardResponseDeadline: r.AwardResponseDeadline,
		AwardStrategy:         string(r.AwardStrategy),
		AwardedQuoteItemIDs:   stringsOf(r.AwardedQuoteItemIDs),
		TotalPrice:            r.TotalPrice,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.CurrentApproverID != nil {
		id := string(*r.CurrentApproverID)
		dto.CurrentApproverID = &id
	}
	if r.Criteria != nil {
		c := toCriteriaDTO(*r.Criteria)
		dto.Criteria = &c
	}
	dto.Items = make([]RequisitionItemDTO, len(r.Items))
	for i, it := range r.Items {
		item := RequisitionItemDTO{ID: string(it.ID), Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
		for _, d := range it.AwardDetails {
			item.AwardDetails = append(item.AwardDetails, AwardDetailDTO{
				Rank:        d.Rank,
				VendorID:    string(d.VendorID),
				VendorName:  d.VendorName,
				QuotationID: string(d.QuotationID),
				QuoteItemID: string(d.QuoteItemID),
				UnitPrice:   d.UnitPrice,
				Quantity:    d.Quantity,
				Score:       d.Score,
				Status:      string(d.Status),
			})
		}
		dto.Items[i] = item
	}
	return dto
}

func toCriteriaDTO(c procurement.EvaluationCriteria) CriteriaRequest {
	out := CriteriaRequest{FinancialWeight: c.FinancialWeight, TechnicalWeight: c.TechnicalWeight}
	for _, cr := range c.FinancialCriteria {
		out.FinancialCriteria = append(out.FinancialCriteria, CriterionRequest{ID: cr.ID, Name: cr.Name, Weight: cr.Weight})
	}
	for _, cr := range c.TechnicalCriteria {
		out.TechnicalCriteria = append(out.TechnicalCriteria, CriterionRequest{ID: cr.ID, Name: cr.Name, Weight: cr.Weight})
	}
	return out
}

func (c CriteriaRequest) toDomain() procurement.EvaluationCriteria {
	out := procurement.EvaluationCriteria{FinancialWeight: c.FinancialWeight, TechnicalWeight: c.TechnicalWeight}
	for _, cr := range c.FinancialCriteria {
		out.FinancialCriteria = append(out.FinancialCriteria, procurement.Criterion{ID: cr.ID, Name: cr.Name, Weight: cr.Weight})
	}
	for _, cr := range c.TechnicalCriteria {
		out.TechnicalCriteria = append(out.TechnicalCriteria, procurement.Criterion{ID: cr.ID, Name: cr.Name, Weight: cr.Weight})
	}
	return out
}

func (q QuoteRequest) toDomain() procurement.QuoteInput {
	in := procurement.QuoteInput{Notes: q.Notes}
	for _, it := range q.Items {
		in.Items = append(in.Items, procurement.QuoteItemInput{
			RequisitionItemID: procurement.ItemID(it.RequisitionItemID),
			Name:              it.Name,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			LeadTimeDays:      it.LeadTimeDays,
		})
	}
	return in
}

func (s ScoreRequest) toDomain() procurement.ScoreSubmission {
	in := procurement.ScoreSubmission{QuotationID: procurement.QuotationID(s.QuotationID), Comment: s.Comment}
	for _, it := range s.Items {
		in.Items = append(in.Items, procurement.ItemScoreInput{
			QuoteItemID: procurement.QuoteItemID(it.QuoteItemID),
			Scores:      scoresToDomain(it.Scores),
		})
	}
	return in
}

func scoresToDomain(scores []ScoreJSON) []procurement.Score {
	out := make([]procurement.Score, len(scores))
	for i, s := range scores {
		out[i] = procurement.Score{
			Type:        procurement.CriterionType(s.Type),
			CriterionID: s.CriterionID,
			Value:       s.Value,
			Comment:     s.Comment,
		}
	}
	return out
}

func (v VendorResponseRequest) toDomain() procurement.Response {
	resp := procurement.Response{QuotationID: procurement.QuotationID(v.QuotationID), Reason: v.Reason}
	for _, id := range v.ItemIDs {
		resp.ItemIDs = append(resp.ItemIDs, procurement.ItemID(id))
	}
	return resp
}

func toQuotationDTO(q *procurement.Quotation) QuotationDTO {
	dto := QuotationDTO{
		ID:                string(q.ID),
		RequisitionID:     string(q.RequisitionID),
		VendorID:          string(q.VendorID),
		VendorName:        q.VendorName,
		TotalPrice:        q.TotalPrice,
		Status:            string(q.Status),
		Rank:              q.Rank,
		FinalAverageScore: q.FinalAverageScore,
		Notes:             q.Notes,
		SubmittedAt:       q.SubmittedAt,
		UpdatedAt:         q.UpdatedAt,
		Items:             make([]QuoteItemDTO, len(q.Items)),
	}
	for i, it := range q.Items {
		dto.Items[i] = QuoteItemDTO{
			ID:                string(it.ID),
			RequisitionItemID: string(it.RequisitionItemID),
			Name:              it.Name,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			LeadTimeDays:      it.LeadTimeDays,
			Status:            string(it.Status),
		}
	}
	return dto
}

func toScoreSetDTO(s procurement.ScoreSet) ScoreSetDTO {
	dto := ScoreSetDTO{
		ID:          string(s.ID),
		QuotationID: string(s.QuotationID),
		ScorerID:    string(s.ScorerID),
		ScorerName:  s.ScorerName,
		Comment:     s.Comment,
		FinalScore:  s.FinalScore,
		SubmittedAt: s.SubmittedAt,
		ItemScores:  make([]ItemScoreDTO, len(s.ItemScores)),
	}
	for i, is := range s.ItemScores {
		item := ItemScoreDTO{QuoteItemID: string(is.QuoteItemID), FinalScore: is.FinalScore}
		for _, sc := range is.Scores {
			item.Scores = append(item.Scores, ScoreJSON{
				Type: string(sc.Type), CriterionID: sc.CriterionID, Value: sc.Value, Comment: sc.Comment,
			})
		}
		dto.ItemScores[i] = item
	}
	return dto
}

func toPurchaseOrderDTO(po *procurement.PurchaseOrder) PurchaseOrderDTO {
	dto := PurchaseOrderDTO{
		ID:            string(po.ID),
		RequisitionID: string(po.RequisitionID),
		VendorID:      string(po.VendorID),
		QuotationID:   string(po.QuotationID),
		TotalAmount:   po.TotalAmount,
		Status:        string(po.Status),
		CreatedAt:     po.CreatedAt,
		UpdatedAt:     po.UpdatedAt,
		Items:         make([]POItemDTO, len(po.Items)),
	}
	for i, it := range po.Items {
		dto.Items[i] = POItemDTO{
			QuoteItemID:       string(it.QuoteItemID),
			RequisitionItemID: string(it.RequisitionItemID),
			Name:              it.Name,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			ReceivedQuantity:  it.ReceivedQuantity,
		}
	}
	return dto
}

func toReceiptDTO(r procurement.GoodsReceipt) ReceiptDTO {
	dto := ReceiptDTO{
		ID:              string(r.ID),
		PurchaseOrderID: string(r.PurchaseOrderID),
		ReceivedBy:      string(r.ReceivedBy),
		Notes:           r.Notes,
		ReceivedAt:      r.ReceivedAt,
	}
	for _, l := range r.Lines {
		dto.Lines = append(dto.Lines, ReceiptLineJSON{QuoteItemID: string(l.QuoteItemID), Quantity: l.Quantity})
	}
	return dto
}

func toInvoiceDTO(inv *procurement.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:              string(inv.ID),
		PurchaseOrderID: string(inv.PurchaseOrderID),
		RequisitionID:   string(inv.RequisitionID),
		VendorID:        string(inv.VendorID),
		Amount:          inv.Amount,
		Status:          string(inv.Status),
		SubmittedAt:     inv.SubmittedAt,
		PaidAt:          inv.PaidAt,
	}
}

func toDeclineOutcomeDTO(o procurement.DeclineOutcome) DeclineOutcomeDTO {
	return DeclineOutcomeDTO{
		ReadyForPromotion: stringsOf(o.ReadyForPromotion),
		FailedItems:       stringsOf(o.FailedItems),
		ResetRequired:     o.ResetRequired,
	}
}

func toPromotionDTOs(ps []procurement.Promotion) []PromotionDTO {
	out := make([]PromotionDTO, len(ps))
	for i, p := range ps {
		out[i] = PromotionDTO{
			ItemID:      string(p.Item),
			QuotationID: string(p.QuotationID),
			VendorID:    string(p.VendorID),
			Value:       p.Value,
		}
	}
	return out
}

func toMinuteDTO(m procurement.Minute) MinuteDTO {
	return MinuteDTO{
		ID:            m.ID,
		AuthorID:      string(m.AuthorID),
		Decision:      m.Decision,
		Justification: m.Justification,
		CreatedAt:     m.CreatedAt,
	}
}

func toAuditEntryDTO(e procurement.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		ActorID:       string(e.ActorID),
		Action:        string(e.Action),
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Details:       e.Details,
		TransactionID: e.TransactionID,
	}
}

// stringsOf converts a slice of string-kinded ids, never returning nil.
func stringsOf[T ~string](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func mapSlice[T, U any](in []T, fn func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
