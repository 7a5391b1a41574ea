/*
Package procurement implements the requisition-to-payment award engine.

PURPOSE:
  Holds the domain types and the decision logic for a multi-stage
  procurement workflow: requisition approval, RFQ, quotations, committee
  scoring, award determination, vendor acceptance/rejection with standby
  promotion, purchase orders, goods receipt, invoicing and closure.

KEY CONCEPTS IN THIS FILE (types.go):
  - Requisition / RequisitionItem: what is being bought
  - Quotation / QuoteItem: a vendor's bid
  - AwardDetail: one ranked bid on one requisition item (per-item strategy)
  - AwardStatus: the single status vocabulary shared by quotations and
    award details
  - PurchaseOrder / GoodsReceipt / Invoice: fulfilment records
  - Actor / User: who performs operations, and who can be routed to

DESIGN PRINCIPLES:
  1. Precision: money, weights and scores are decimal.Decimal
  2. Type Safety: distinct ID types for every entity
  3. Typed sub-documents: criteria, RFQ settings and award details are
     structs validated once at the boundary, never untyped maps

SEE ALSO:
  - award.go: Award Strategy Engine
  - approval.go: Approval Matrix Resolver
  - response.go: Vendor Response Handler
  - service.go: transactional orchestration
*/
package procurement

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RequisitionID string
type ItemID string
type QuotationID string
type QuoteItemID string
type VendorID string
type UserID string
type ScoreSetID string
type PurchaseOrderID string
type InvoiceID string
type ReceiptID string

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleAdmin               Role = "Admin"
	RoleRequester           Role = "Requester"
	RoleApprover            Role = "Approver" // department head, pre-RFQ approval
	RoleProcurementOfficer  Role = "Procurement_Officer"
	RoleCommitteeMember     Role = "Committee_Member"
	RoleVendor              Role = "Vendor"
	RoleReceiving           Role = "Receiving"
	RoleFinance             Role = "Finance"
	RoleCommitteeA          Role = "Committee_A_Member"
	RoleCommitteeB          Role = "Committee_B_Member"
	RoleManagerProcurement  Role = "Manager_Procurement_Division"
	RoleDirectorSupplyChain Role = "Director_Supply_Chain_and_Property_Management"
	RoleVPResources         Role = "VP_Resources_and_Facilities"
	RolePresident           Role = "President"
)

// Actor is the authenticated caller supplied by the auth collaborator.
type Actor struct {
	ID       UserID
	Name     string
	Roles    []Role
	VendorID VendorID // set for vendor users
}

// HasRole reports whether the actor holds any of the given roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if slices.Contains(a.Roles, r) {
			return true
		}
	}
	return false
}

// SystemActor is used for automated transitions (scheduler sweeps).
var SystemActor = Actor{ID: "system", Name: "System", Roles: []Role{RoleAdmin}}

// User is a directory entry the approval resolver can route to.
type User struct {
	ID    UserID
	Name  string
	Email string
	Roles []Role
}

func (u User) HasRole(r Role) bool { return slices.Contains(u.Roles, r) }

// =============================================================================
// REQUISITION
// =============================================================================

type RequisitionStatus string

const (
	StatusDraft              RequisitionStatus = "Draft"
	StatusPendingApproval    RequisitionStatus = "Pending_Approval"
	StatusRejected           RequisitionStatus = "Rejected"
	StatusPreApproved        RequisitionStatus = "PreApproved"
	StatusAcceptingQuotes    RequisitionStatus = "Accepting_Quotes"
	StatusScoringInProgress  RequisitionStatus = "Scoring_In_Progress"
	StatusScoringComplete    RequisitionStatus = "Scoring_Complete"
	StatusPendingCommitteeB  RequisitionStatus = "Pending_Committee_B_Review"
	StatusPendingCommitteeA  RequisitionStatus = "Pending_Committee_A_Recommendation"
	StatusPendingManagerial  RequisitionStatus = "Pending_Managerial_Approval"
	StatusPendingDirector    RequisitionStatus = "Pending_Director_Approval"
	StatusPendingVP          RequisitionStatus = "Pending_VP_Approval"
	StatusPendingPresident   RequisitionStatus = "Pending_President_Approval"
	StatusPostApproved       RequisitionStatus = "PostApproved"
	StatusAwarded            RequisitionStatus = "Awarded"
	StatusAwardDeclined      RequisitionStatus = "Award_Declined"
	StatusPartiallyPOCreated RequisitionStatus = "Partially_PO_Created"
	StatusPOCreated          RequisitionStatus = "PO_Created"
	StatusDelivered          RequisitionStatus = "Delivered"
	StatusPaid               RequisitionStatus = "Paid"
	StatusClosed             RequisitionStatus = "Closed"
	StatusFulfilled          RequisitionStatus = "Fulfilled"
	StatusCancelled          RequisitionStatus = "Cancelled"
)

type AwardStrategy string

const (
	StrategyAll  AwardStrategy = "all"
	StrategyItem AwardStrategy = "item"
)

func (s AwardStrategy) Valid() bool { return s == StrategyAll || s == StrategyItem }

// RFQSettings are the bidding-round parameters fixed when the RFQ is sent.
type RFQSettings struct {
	QuoteDeadline *time.Time
	AllowPartial  bool // vendors may quote a subset of items
	Notes         string
}

// Requisition is the aggregate root for one procurement cycle.
type Requisition struct {
	ID            RequisitionID
	Status        RequisitionStatus
	Title         string
	Justification string
	Department    string
	RequesterID   UserID

	Items    []RequisitionItem
	Criteria *EvaluationCriteria
	RFQ      RFQSettings

	FinancialCommittee    []UserID
	TechnicalCommittee    []UserID
	CommitteeName         string
	CommitteePurpose      string
	ScoringDeadline       *time.Time
	AwardResponseDeadline *time.Time

	AwardStrategy       AwardStrategy
	AwardedQuoteItemIDs []QuoteItemID
	TotalPrice          decimal.Decimal // award value once finalized
	CurrentApproverID   *UserID

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCommitteeMember reports whether the user sits on either committee.
func (r *Requisition) IsCommitteeMember(id UserID) bool {
	return slices.Contains(r.FinancialCommittee, id) || slices.Contains(r.TechnicalCommittee, id)
}

// CommitteeMembers returns the de-duplicated union of both committees.
func (r *Requisition) CommitteeMembers() []UserID {
	var out []UserID
	for _, id := range append(append([]UserID{}, r.FinancialCommittee...), r.TechnicalCommittee...) {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Item returns the requisition item with the given id.
func (r *Requisition) Item(id ItemID) *RequisitionItem {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *Requisition) Clone() *Requisition {
	c := *r
	c.Items = make([]RequisitionItem, len(r.Items))
	for i, it := range r.Items {
		c.Items[i] = it
		c.Items[i].AwardDetails = slices.Clone(it.AwardDetails)
	}
	if r.Criteria != nil {
		crit := r.Criteria.Clone()
		c.Criteria = &crit
	}
	c.FinancialCommittee = slices.Clone(r.FinancialCommittee)
	c.TechnicalCommittee = slices.Clone(r.TechnicalCommittee)
	c.AwardedQuoteItemIDs = slices.Clone(r.AwardedQuoteItemIDs)
	c.RFQ.QuoteDeadline = cloneTime(r.RFQ.QuoteDeadline)
	c.ScoringDeadline = cloneTime(r.ScoringDeadline)
	c.AwardResponseDeadline = cloneTime(r.AwardResponseDeadline)
	if r.CurrentApproverID != nil {
		id := *r.CurrentApproverID
		c.CurrentApproverID = &id
	}
	return &c
}

type RequisitionItem struct {
	ID        ItemID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal // requester's estimate

	// Only populated under the per-item strategy. At most 3 entries.
	AwardDetails []AwardDetail
}

// =============================================================================
// AWARD STATUS - one vocabulary for quotations and per-item details
// =============================================================================

type AwardStatus string

const (
	AwardSubmitted        AwardStatus = "Submitted"
	AwardPending          AwardStatus = "Pending_Award"
	AwardAwarded          AwardStatus = "Awarded"
	AwardStandby          AwardStatus = "Standby"
	AwardAccepted         AwardStatus = "Accepted"
	AwardDeclined         AwardStatus = "Declined"
	AwardRejected         AwardStatus = "Rejected"
	AwardFailed           AwardStatus = "Failed"
	AwardInvoiceSubmitted AwardStatus = "Invoice_Submitted"
	AwardFailedToAward    AwardStatus = "Failed_to_Award"
	AwardRestarted        AwardStatus = "Restarted"
)

// IsOutstanding reports whether the award still waits for a vendor answer.
func (s AwardStatus) IsOutstanding() bool { return s == AwardPending || s == AwardAwarded }

// AwardDetail is one ranked bid on one requisition item.
type AwardDetail struct {
	Rank        int
	VendorID    VendorID
	VendorName  string
	QuotationID QuotationID
	QuoteItemID QuoteItemID
	UnitPrice   decimal.Decimal
	Quantity    int
	Score       decimal.Decimal
	Status      AwardStatus
}

// =============================================================================
// QUOTATION
// =============================================================================

type Quotation struct {
	ID                QuotationID
	RequisitionID     RequisitionID
	VendorID          VendorID
	VendorName        string
	Items             []QuoteItem
	TotalPrice        decimal.Decimal
	Status            AwardStatus
	Rank              *int
	FinalAverageScore decimal.Decimal
	Notes             string
	SubmittedAt       time.Time
	UpdatedAt         time.Time
}

func (q *Quotation) Item(id QuoteItemID) *QuoteItem {
	for i := range q.Items {
		if q.Items[i].ID == id {
			return &q.Items[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (q *Quotation) Clone() *Quotation {
	c := *q
	c.Items = slices.Clone(q.Items)
	if q.Rank != nil {
		r := *q.Rank
		c.Rank = &r
	}
	return &c
}

type QuoteItem struct {
	ID                QuoteItemID
	QuotationID       QuotationID
	RequisitionItemID ItemID
	Name              string
	Quantity          int
	UnitPrice         decimal.Decimal
	LeadTimeDays      int
	Status            AwardStatus
}

// LineTotal is unit price × quantity.
func (qi QuoteItem) LineTotal() decimal.Decimal {
	return qi.UnitPrice.Mul(decimal.NewFromInt(int64(qi.Quantity)))
}

// =============================================================================
// FULFILMENT
// =============================================================================

type POStatus string

const (
	POIssued             POStatus = "Issued"
	POAcknowledged       POStatus = "Acknowledged"
	POShipped            POStatus = "Shipped"
	POPartiallyDelivered POStatus = "Partially_Delivered"
	PODelivered          POStatus = "Delivered"
	POCancelled          POStatus = "Cancelled"
)

// IsTerminal reports whether no further deliveries are expected.
func (s POStatus) IsTerminal() bool { return s == PODelivered || s == POCancelled }

type PurchaseOrder struct {
	ID            PurchaseOrderID
	RequisitionID RequisitionID
	VendorID      VendorID
	QuotationID   QuotationID
	Items         []POItem
	TotalAmount   decimal.Decimal
	Status        POStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (po *PurchaseOrder) Clone() *PurchaseOrder {
	c := *po
	c.Items = slices.Clone(po.Items)
	return &c
}

type POItem struct {
	QuoteItemID       QuoteItemID
	RequisitionItemID ItemID
	Name              string
	Quantity          int
	UnitPrice         decimal.Decimal
	ReceivedQuantity  int
}

type GoodsReceipt struct {
	ID              ReceiptID
	PurchaseOrderID PurchaseOrderID
	ReceivedBy      UserID
	Lines           []ReceiptLine
	Notes           string
	ReceivedAt      time.Time
}

type ReceiptLine struct {
	QuoteItemID QuoteItemID
	Quantity    int
}

type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "Pending"
	InvoicePaid     InvoiceStatus = "Paid"
	InvoiceDisputed InvoiceStatus = "Disputed"
)

type Invoice struct {
	ID              InvoiceID
	PurchaseOrderID PurchaseOrderID
	RequisitionID   RequisitionID
	VendorID        VendorID
	Amount          decimal.Decimal
	Status          InvoiceStatus
	SubmittedAt     time.Time
	PaidAt          *time.Time
}

// =============================================================================
// RECORDS
// =============================================================================

// Minute is an immutable record of a committee or approval decision.
type Minute struct {
	ID            string
	RequisitionID RequisitionID
	AuthorID      UserID
	Decision      string
	Justification string
	CreatedAt     time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
