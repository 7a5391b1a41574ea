/*
store.go - Persistence interface for the procurement engine

PURPOSE:
  Defines the interface between the workflow service and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Reader: lookups shared by the store and an open transaction
  Tx:     reads plus every write; only available inside WithTx
  Store:  Reader plus WithTx and directory seeding

ATOMICITY:
  Every multi-entity mutation happens inside WithTx. If fn returns an
  error (or ctx expires) nothing it wrote survives: not the requisition,
  not the quotations, not the deleted score sets, not the audit entries.

ISOLATION:
  Implementations serialize WithTx. On top of that SaveRequisition is an
  optimistic check: it only succeeds if the stored Version still equals
  the version that was read, then increments it. A stale write fails with
  ErrConcurrentModification.

AUDIT:
  AuditEntry and Minute are append-only. There is no update or delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - procurement/store/memory.go: in-memory for tests and dev

SEE ALSO:
  - service.go: withTx adds timeouts and correlation ids
*/
package procurement

import (
	"context"
	"time"
)

// Reader is every lookup the service needs. Not-found lookups of a single
// entity return a *NotFoundError.
type Reader interface {
	GetRequisition(ctx context.Context, id RequisitionID) (*Requisition, error)
	ListRequisitions(ctx context.Context, statuses ...RequisitionStatus) ([]*Requisition, error)

	GetQuotation(ctx context.Context, id QuotationID) (*Quotation, error)
	// ListQuotations returns quotations in submission order.
	ListQuotations(ctx context.Context, id RequisitionID) ([]*Quotation, error)

	ListScoreSets(ctx context.Context, id RequisitionID) ([]ScoreSet, error)

	GetPurchaseOrder(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, id RequisitionID) ([]*PurchaseOrder, error)
	ListReceipts(ctx context.Context, id PurchaseOrderID) ([]GoodsReceipt, error)

	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context, id RequisitionID) ([]*Invoice, error)

	GetUser(ctx context.Context, id UserID) (User, error)
	UsersWithRole(ctx context.Context, role Role) ([]User, error)

	ListMinutes(ctx context.Context, id RequisitionID) ([]Minute, error)
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Tx is an open transaction.
type Tx interface {
	Reader

	// SaveRequisition inserts when Version is 0, otherwise updates if the
	// stored version still matches. On success r.Version is incremented.
	SaveRequisition(ctx context.Context, r *Requisition) error
	SaveQuotation(ctx context.Context, q *Quotation) error

	// ReplaceScoreSet deletes the scorer's previous set for the quotation
	// and stores the new one.
	ReplaceScoreSet(ctx context.Context, s ScoreSet) error
	// DeleteScoreSets removes every score set of the requisition and
	// returns how many were removed.
	DeleteScoreSets(ctx context.Context, id RequisitionID) (int, error)

	SavePurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	AddReceipt(ctx context.Context, r GoodsReceipt) error
	SaveInvoice(ctx context.Context, inv *Invoice) error

	AddMinute(ctx context.Context, m Minute) error
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Store is the persistence collaborator.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// SaveUser adds or replaces a directory entry.
	SaveUser(ctx context.Context, u User) error
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID            string
	Timestamp     time.Time
	ActorID       UserID
	Action        AuditAction
	EntityType    string
	EntityID      string
	RequisitionID RequisitionID
	Details       string
	TransactionID string // correlates entries written by one WithTx
}

type AuditAction string

const (
	AuditCreateRequisition  AuditAction = "CREATE_REQUISITION"
	AuditSubmitRequisition  AuditAction = "SUBMIT_REQUISITION"
	AuditApproveRequisition AuditAction = "APPROVE_REQUISITION"
	AuditRejectRequisition  AuditAction = "REJECT_REQUISITION"
	AuditCancelRequisition  AuditAction = "CANCEL_REQUISITION"
	AuditSetCriteria        AuditAction = "SET_EVALUATION_CRITERIA"
	AuditAssignCommittee    AuditAction = "ASSIGN_COMMITTEE"
	AuditSendRFQ            AuditAction = "SEND_RFQ"
	AuditSubmitQuote        AuditAction = "SUBMIT_QUOTATION"
	AuditUpdateQuote        AuditAction = "UPDATE_QUOTATION"
	AuditStartScoring       AuditAction = "START_SCORING"
	AuditSubmitScores       AuditAction = "SUBMIT_SCORES"
	AuditCompleteScoring    AuditAction = "COMPLETE_SCORING"
	AuditFinalizeAward      AuditAction = "FINALIZE_AWARD"
	AuditApproveAward       AuditAction = "APPROVE_AWARD"
	AuditRejectAward        AuditAction = "REJECT_AWARD"
	AuditNotifyVendors      AuditAction = "NOTIFY_VENDORS"
	AuditAcceptAward        AuditAction = "ACCEPT_AWARD"
	AuditDeclineAward       AuditAction = "DECLINE_AWARD"
	AuditStandbyReady       AuditAction = "STANDBY_READY"
	AuditPromoteStandby     AuditAction = "PROMOTE_STANDBY"
	AuditFailedToAward      AuditAction = "FAILED_TO_AWARD"
	AuditResetRFQ           AuditAction = "RESET_RFQ"
	AuditRestartItems       AuditAction = "RESTART_ITEM_RFQ"
	AuditCreatePO           AuditAction = "CREATE_PO"
	AuditUpdatePO           AuditAction = "UPDATE_PO_STATUS"
	AuditReceiveGoods       AuditAction = "RECEIVE_GOODS"
	AuditSubmitInvoice      AuditAction = "SUBMIT_INVOICE"
	AuditPayInvoice         AuditAction = "PAY_INVOICE"
	AuditCloseRequisition   AuditAction = "CLOSE_REQUISITION"
)

type AuditFilter struct {
	RequisitionID *RequisitionID
	EntityID      *string
	ActorID       *UserID
	Actions       []AuditAction
}
